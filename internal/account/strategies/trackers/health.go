// Package trackers provides state tracking for the hybrid strategy.
package trackers

import (
	"sync"
	"time"

	"github.com/relaygw/cloudcode-gateway/internal/config"
)

// HealthRecord stores health state for an account.
type HealthRecord struct {
	Score               float64
	LastUpdated         time.Time
	ConsecutiveFailures int
}

// HealthTracker tracks per-account health scores to prioritize healthy accounts.
// Scores increase on success and decrease on failures/rate limits.
// Passive recovery over time helps accounts recover from temporary issues.
type HealthTracker struct {
	mu     sync.RWMutex
	scores map[string]*HealthRecord
	config config.HealthScoreConfig
}

// NewHealthTracker creates a new HealthTracker with the given configuration.
func NewHealthTracker(cfg config.HealthScoreConfig) *HealthTracker {
	if cfg.Initial == 0 {
		cfg.Initial = 70
	}
	if cfg.SuccessReward == 0 {
		cfg.SuccessReward = 1
	}
	if cfg.RateLimitPenalty == 0 {
		cfg.RateLimitPenalty = -10
	}
	if cfg.FailurePenalty == 0 {
		cfg.FailurePenalty = -20
	}
	if cfg.RecoveryPerHour == 0 {
		cfg.RecoveryPerHour = 10
	}
	if cfg.MinUsable == 0 {
		cfg.MinUsable = 50
	}
	if cfg.MaxScore == 0 {
		cfg.MaxScore = 100
	}

	return &HealthTracker{
		scores: make(map[string]*HealthRecord),
		config: cfg,
	}
}

// GetScore returns the health score for an account with passive recovery applied.
func (t *HealthTracker) GetScore(email string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, ok := t.scores[email]
	if !ok {
		return t.config.Initial
	}

	hoursElapsed := time.Since(record.LastUpdated).Hours()
	recovered := record.Score + hoursElapsed*t.config.RecoveryPerHour
	if recovered > t.config.MaxScore {
		return t.config.MaxScore
	}
	return recovered
}

// GetHealthScore is an alias for GetScore used by interface adapters.
func (t *HealthTracker) GetHealthScore(email string) float64 {
	return t.GetScore(email)
}

// RecordSuccess records a successful request for an account.
func (t *HealthTracker) RecordSuccess(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	newScore := t.getScoreUnlocked(email) + t.config.SuccessReward
	if newScore > t.config.MaxScore {
		newScore = t.config.MaxScore
	}
	t.scores[email] = &HealthRecord{Score: newScore, LastUpdated: time.Now(), ConsecutiveFailures: 0}
}

// RecordRateLimit records a rate limit event for an account.
func (t *HealthTracker) RecordRateLimit(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := t.scores[email]
	newScore := t.getScoreUnlocked(email) + t.config.RateLimitPenalty
	if newScore < 0 {
		newScore = 0
	}
	consecutive := 0
	if record != nil {
		consecutive = record.ConsecutiveFailures
	}
	t.scores[email] = &HealthRecord{Score: newScore, LastUpdated: time.Now(), ConsecutiveFailures: consecutive + 1}
}

// RecordFailure records a non-rate-limit failure for an account.
func (t *HealthTracker) RecordFailure(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := t.scores[email]
	newScore := t.getScoreUnlocked(email) + t.config.FailurePenalty
	if newScore < 0 {
		newScore = 0
	}
	consecutive := 0
	if record != nil {
		consecutive = record.ConsecutiveFailures
	}
	t.scores[email] = &HealthRecord{Score: newScore, LastUpdated: time.Now(), ConsecutiveFailures: consecutive + 1}
}

// IsUsable reports whether an account's health score clears the usable threshold.
func (t *HealthTracker) IsUsable(email string) bool {
	return t.GetScore(email) >= t.config.MinUsable
}

func (t *HealthTracker) GetMinUsable() float64 { return t.config.MinUsable }
func (t *HealthTracker) GetMaxScore() float64  { return t.config.MaxScore }

// Reset restores an account's score to the initial value.
func (t *HealthTracker) Reset(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scores[email] = &HealthRecord{Score: t.config.Initial, LastUpdated: time.Now()}
}

// GetConsecutiveFailures returns the consecutive failure count for an account.
func (t *HealthTracker) GetConsecutiveFailures(email string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if record, ok := t.scores[email]; ok {
		return record.ConsecutiveFailures
	}
	return 0
}

// Clear drops all tracked scores.
func (t *HealthTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scores = make(map[string]*HealthRecord)
}

func (t *HealthTracker) getScoreUnlocked(email string) float64 {
	record, ok := t.scores[email]
	if !ok {
		return t.config.Initial
	}
	hoursElapsed := time.Since(record.LastUpdated).Hours()
	recovered := record.Score + hoursElapsed*t.config.RecoveryPerHour
	if recovered > t.config.MaxScore {
		return t.config.MaxScore
	}
	return recovered
}

// GetAllRecords returns a snapshot of all health records, for status endpoints.
func (t *HealthTracker) GetAllRecords() map[string]*HealthRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]*HealthRecord, len(t.scores))
	for email, record := range t.scores {
		result[email] = &HealthRecord{
			Score:               t.getScoreUnlocked(email),
			LastUpdated:         record.LastUpdated,
			ConsecutiveFailures: record.ConsecutiveFailures,
		}
	}
	return result
}
