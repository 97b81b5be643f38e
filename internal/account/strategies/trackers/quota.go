// Package trackers provides state tracking for the hybrid strategy.
package trackers

import (
	"time"

	"github.com/relaygw/cloudcode-gateway/internal/config"
	"github.com/relaygw/cloudcode-gateway/pkg/redis"
)

// QuotaTracker tracks per-account quota levels to prioritize accounts with
// available quota. Reads quota data from account.Quota.Models[modelID].
// Accounts below the critical threshold are excluded from selection.
type QuotaTracker struct {
	config config.QuotaConfig
}

// NewQuotaTracker creates a new QuotaTracker with the given configuration.
func NewQuotaTracker(cfg config.QuotaConfig) *QuotaTracker {
	if cfg.LowThreshold == 0 {
		cfg.LowThreshold = 0.10
	}
	if cfg.CriticalThreshold == 0 {
		cfg.CriticalThreshold = 0.05
	}
	if cfg.StaleMs == 0 {
		cfg.StaleMs = 300000
	}
	if cfg.UnknownScore == 0 {
		cfg.UnknownScore = 50
	}
	return &QuotaTracker{config: cfg}
}

// GetQuotaFraction returns the remaining quota fraction (0-1) for an account
// and model, or -1 if unknown.
func (t *QuotaTracker) GetQuotaFraction(account *redis.Account, modelID string) float64 {
	if account == nil || account.Quota == nil || account.Quota.Models == nil {
		return -1
	}
	modelQuota, ok := account.Quota.Models[modelID]
	if !ok || modelQuota == nil {
		return -1
	}
	return modelQuota.RemainingFraction
}

// IsQuotaFresh reports whether quota data is recent enough to trust.
func (t *QuotaTracker) IsQuotaFresh(account *redis.Account) bool {
	if account == nil || account.Quota == nil || account.Quota.LastChecked == 0 {
		return false
	}
	lastChecked := time.UnixMilli(account.Quota.LastChecked)
	return time.Since(lastChecked) < time.Duration(t.config.StaleMs)*time.Millisecond
}

// IsQuotaCritical reports whether an account has critically low quota for a model.
func (t *QuotaTracker) IsQuotaCritical(account *redis.Account, modelID string, thresholdOverride *float64) bool {
	fraction := t.GetQuotaFraction(account, modelID)
	if fraction < 0 {
		return false
	}
	if !t.IsQuotaFresh(account) {
		return false
	}
	threshold := t.config.CriticalThreshold
	if thresholdOverride != nil && *thresholdOverride > 0 {
		threshold = *thresholdOverride
	}
	return fraction <= threshold
}

// IsQuotaLow reports whether an account has low but not critical quota for a model.
func (t *QuotaTracker) IsQuotaLow(account *redis.Account, modelID string) bool {
	fraction := t.GetQuotaFraction(account, modelID)
	if fraction < 0 {
		return false
	}
	return fraction <= t.config.LowThreshold && fraction > t.config.CriticalThreshold
}

// GetScore returns a 0-100 score for an account based on remaining quota;
// higher means more quota available.
func (t *QuotaTracker) GetScore(account *redis.Account, modelID string) float64 {
	fraction := t.GetQuotaFraction(account, modelID)
	if fraction < 0 {
		return t.config.UnknownScore
	}
	score := fraction * 100
	if !t.IsQuotaFresh(account) {
		score *= 0.9
	}
	return score
}

func (t *QuotaTracker) GetCriticalThreshold() float64 { return t.config.CriticalThreshold }
func (t *QuotaTracker) GetLowThreshold() float64      { return t.config.LowThreshold }
