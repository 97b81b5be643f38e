// Package strategies provides account selection strategies for the proxy.
package strategies

import (
	"context"
	"time"

	"github.com/relaygw/cloudcode-gateway/pkg/redis"
)

// BaseStrategy provides functionality shared by every selection strategy:
// usability/cooldown/rate-limit checks and the no-op notification hooks
// that strategies without health tracking can inherit.
type BaseStrategy struct {
	config       *Config
	redisClient  *redis.Client
	accountStore *redis.AccountStore
}

// NewBaseStrategy creates a new BaseStrategy.
func NewBaseStrategy(cfg *Config, redisClient *redis.Client) *BaseStrategy {
	var accountStore *redis.AccountStore
	if redisClient != nil {
		accountStore = redis.NewAccountStore(redisClient)
	}
	return &BaseStrategy{config: cfg, redisClient: redisClient, accountStore: accountStore}
}

// IsAccountUsable reports whether an account may serve a request for modelID.
func (s *BaseStrategy) IsAccountUsable(ctx context.Context, account *redis.Account, modelID string) bool {
	if account == nil || account.IsInvalid {
		return false
	}
	if !account.Enabled {
		return false
	}
	if s.IsAccountCoolingDown(account) {
		return false
	}
	if modelID != "" && s.accountStore != nil {
		info, err := s.accountStore.GetRateLimit(ctx, account.Email, modelID)
		if err == nil && info != nil && info.IsRateLimited {
			if info.ResetTime > 0 && time.Now().Before(time.UnixMilli(info.ResetTime)) {
				return false
			}
		}
	}
	return true
}

// IsAccountCoolingDown reports whether an account is within a cooldown window,
// clearing the cooldown in place once it has expired.
func (s *BaseStrategy) IsAccountCoolingDown(account *redis.Account) bool {
	if account == nil || account.CoolingDownUntil == 0 {
		return false
	}
	if time.Now().After(time.UnixMilli(account.CoolingDownUntil)) {
		account.CoolingDownUntil = 0
		account.CooldownReason = ""
		return false
	}
	return true
}

// GetUsableAccounts returns every usable account paired with its original index.
func (s *BaseStrategy) GetUsableAccounts(ctx context.Context, accounts []*redis.Account, modelID string) []AccountWithIndex {
	result := make([]AccountWithIndex, 0)
	for i, account := range accounts {
		if s.IsAccountUsable(ctx, account, modelID) {
			result = append(result, AccountWithIndex{Account: account, Index: i})
		}
	}
	return result
}

// AccountWithIndex pairs an account with its position in the scheduler's slice.
type AccountWithIndex struct {
	Account *redis.Account
	Index   int
}

func (s *BaseStrategy) OnSuccess(account *redis.Account, modelID string)   {}
func (s *BaseStrategy) OnRateLimit(account *redis.Account, modelID string) {}
func (s *BaseStrategy) OnFailure(account *redis.Account, modelID string)   {}
