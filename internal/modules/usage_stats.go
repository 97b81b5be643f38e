// Package modules provides feature modules for the proxy server.
// This file corresponds to src/modules/usage-stats.js in the Node.js version,
// adapted from its Redis-backed JSON-blob history to the Prometheus registry
// exposed on /metrics.
package modules

import (
	"strings"

	"github.com/relaygw/cloudcode-gateway/internal/metrics"
	"github.com/relaygw/cloudcode-gateway/internal/utils"
)

// UsageStats records per-model request counts into the metrics registry.
type UsageStats struct{}

// NewUsageStats creates a new UsageStats instance.
func NewUsageStats() *UsageStats {
	return &UsageStats{}
}

// Track records a request for a specific model.
func (u *UsageStats) Track(modelID string) {
	family := GetFamily(modelID)
	shortName := GetShortName(modelID, family)
	metrics.RecordModelUsage(family, shortName)
	utils.Debug("[UsageStats] Tracked request for %s/%s", family, shortName)
}

// GetFamily extracts model family from model ID.
func GetFamily(modelID string) string {
	lower := strings.ToLower(modelID)
	if strings.Contains(lower, "claude") {
		return "claude"
	}
	if strings.Contains(lower, "gemini") {
		return "gemini"
	}
	return "other"
}

// GetShortName extracts short model name (without family prefix).
func GetShortName(modelID, family string) string {
	if family == "other" {
		return modelID
	}
	// Remove family prefix (e.g., "claude-opus-4-5" -> "opus-4-5")
	prefix := family + "-"
	lower := strings.ToLower(modelID)
	if strings.HasPrefix(lower, prefix) {
		return modelID[len(prefix):]
	}
	return modelID
}
