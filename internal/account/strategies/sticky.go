// Package strategies provides account selection strategies for the proxy.
package strategies

import (
	"context"
	"time"

	"github.com/relaygw/cloudcode-gateway/internal/config"
	"github.com/relaygw/cloudcode-gateway/internal/utils"
	"github.com/relaygw/cloudcode-gateway/pkg/redis"
)

// StickyStrategy keeps using the same account until it becomes unavailable.
// Best for prompt caching, since it preserves cache continuity across requests.
type StickyStrategy struct {
	*BaseStrategy
}

// NewStickyStrategy creates a new StickyStrategy.
func NewStickyStrategy(cfg *Config) *StickyStrategy {
	return &StickyStrategy{BaseStrategy: NewBaseStrategy(cfg, nil)}
}

// SelectAccount prefers the current account for cache continuity while it is
// usable. When it is not, it fails over to the next usable account; only when
// no other account is usable does it wait for the current one (if its reset
// is within the wait threshold) before falling back to pickNext.
func (s *StickyStrategy) SelectAccount(ctx interface{}, accounts []*redis.Account, modelID string, options SelectOptions) *SelectionResult {
	if len(accounts) == 0 {
		return &SelectionResult{Account: nil, Index: options.CurrentIndex, WaitMs: 0}
	}

	index := options.CurrentIndex
	if index >= len(accounts) {
		index = 0
	}

	currentAccount := accounts[index]
	bgCtx := context.Background()

	if s.IsAccountUsable(bgCtx, currentAccount, modelID) {
		currentAccount.LastUsed = time.Now().UnixMilli()
		if options.OnSave != nil {
			options.OnSave()
		}
		return &SelectionResult{Account: currentAccount, Index: index, WaitMs: 0}
	}

	usableAccounts := s.GetUsableAccounts(bgCtx, accounts, modelID)
	if len(usableAccounts) > 0 {
		nextAccount, nextIndex := s.pickNext(bgCtx, accounts, index, modelID, options.OnSave)
		if nextAccount != nil {
			utils.Info("[StickyStrategy] Switched to new account (failover): %s", nextAccount.Email)
			return &SelectionResult{Account: nextAccount, Index: nextIndex, WaitMs: 0}
		}
	}

	shouldWait, waitMs := s.shouldWaitForAccount(bgCtx, currentAccount, modelID)
	if shouldWait {
		utils.Info("[StickyStrategy] Waiting %s for sticky account: %s", utils.FormatDuration(waitMs), currentAccount.Email)
		return &SelectionResult{Account: nil, Index: index, WaitMs: waitMs}
	}

	nextAccount, nextIndex := s.pickNext(bgCtx, accounts, index, modelID, options.OnSave)
	return &SelectionResult{Account: nextAccount, Index: nextIndex, WaitMs: 0}
}

func (s *StickyStrategy) pickNext(ctx context.Context, accounts []*redis.Account, currentIndex int, modelID string, onSave func()) (*redis.Account, int) {
	for i := 1; i <= len(accounts); i++ {
		idx := (currentIndex + i) % len(accounts)
		account := accounts[idx]
		if s.IsAccountUsable(ctx, account, modelID) {
			account.LastUsed = time.Now().UnixMilli()
			if onSave != nil {
				onSave()
			}
			utils.Info("[StickyStrategy] Using account: %s (%d/%d)", account.Email, idx+1, len(accounts))
			return account, idx
		}
	}
	return nil, currentIndex
}

func (s *StickyStrategy) shouldWaitForAccount(ctx context.Context, account *redis.Account, modelID string) (bool, int64) {
	if account == nil || account.IsInvalid || !account.Enabled {
		return false, 0
	}

	var waitMs int64
	if modelID != "" && s.accountStore != nil {
		info, err := s.accountStore.GetRateLimit(ctx, account.Email, modelID)
		if err == nil && info != nil && info.IsRateLimited && info.ResetTime > 0 {
			waitMs = info.ResetTime - time.Now().UnixMilli()
		}
	}

	if waitMs > 0 && waitMs <= config.MaxWaitBeforeErrorMs {
		return true, waitMs
	}
	return false, 0
}

func (s *StickyStrategy) OnSuccess(account *redis.Account, modelID string)   {}
func (s *StickyStrategy) OnRateLimit(account *redis.Account, modelID string) {}
func (s *StickyStrategy) OnFailure(account *redis.Account, modelID string)   {}
