// Package config provides runtime configuration: static protocol constants,
// the mutable Config struct, and named presets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

const Version = "1.0.0"

// Cloud Code endpoints, in fallback order (daily has looser quota, prod is
// the stable surface for unprovisioned accounts).
const (
	CloudCodeEndpointDaily = "https://daily-cloudcode-pa.googleapis.com"
	CloudCodeEndpointProd  = "https://cloudcode-pa.googleapis.com"
)

// EndpointFallbacks is the order generateContent/streamGenerateContent try.
var EndpointFallbacks = []string{
	CloudCodeEndpointDaily,
	CloudCodeEndpointProd,
}

// LoadCodeAssistEndpoints tries prod first: loadCodeAssist behaves better on
// prod for freshly onboarded projects.
var LoadCodeAssistEndpoints = []string{
	CloudCodeEndpointProd,
	CloudCodeEndpointDaily,
}

// DefaultProjectID is used when no project can be discovered for an account.
const DefaultProjectID = "rising-fact-p41fc"

// RequestHeaders returns the fixed headers attached to every upstream call.
func RequestHeaders() map[string]string {
	return map[string]string{
		"User-Agent":         platformUserAgent(),
		"X-Goog-Api-Client":  "google-cloud-sdk cloud-code-proxy/1.0",
		"Client-Metadata":    clientMetadataJSON(),
	}
}

func platformUserAgent() string {
	return fmt.Sprintf("cloud-code-proxy/1.0 %s/%s", runtime.GOOS, runtime.GOARCH)
}

// IDE/platform/plugin enums as consumed by the Cloud Code internal API's
// ClientMetadata message.
const (
	IdeTypeUnspecified = 0
	IdeTypePlugins     = 7
)

const (
	PlatformUnspecified = 0
	PlatformWindows     = 1
	PlatformLinux       = 2
	PlatformMacOS       = 3
)

const (
	PluginTypeUnspecified = 0
	PluginTypeGemini      = 2
)

func platformEnum() int {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	default:
		return PlatformUnspecified
	}
}

func clientMetadataJSON() string {
	metadata := map[string]int{
		"ideType":    IdeTypePlugins,
		"platform":   platformEnum(),
		"pluginType": PluginTypeGemini,
	}
	data, _ := json.Marshal(metadata)
	return string(data)
}

// Timing constants.
const (
	TokenRefreshIntervalMs      = 5 * 60 * 1000
	RequestBodyLimit      int64 = 50 * 1024 * 1024
	DefaultPort                 = 8080
)

var (
	AccountConfigPath = filepath.Join(homeDir(), ".config", "cloud-code-proxy", "accounts.json")
	UsageHistoryPath  = filepath.Join(homeDir(), ".config", "cloud-code-proxy", "usage-history.json")
)

// Rate limit and retry constants.
const (
	DefaultCooldownMs      = 10 * 1000
	MaxRetries             = 5
	MaxEmptyResponseRetries = 2
	MaxAccounts            = 10
	MaxWaitBeforeErrorMs   = 120000
	RateLimitDedupWindowMs = 2000
	RateLimitStateResetMs  = 120000
	FirstRetryDelayMs      = 1000
	SwitchAccountDelayMs   = 5000
	MaxConsecutiveFailures = 3
	ExtendedCooldownMs     = 60000
	MaxCapacityRetries     = 5
	MinBackoffMs           = 2000
	CapacityJitterMaxMs    = 10000
)

// CapacityBackoffTiersMs is the progressive backoff ladder for
// MODEL_CAPACITY_EXHAUSTED style errors.
var CapacityBackoffTiersMs = []int64{5000, 10000, 20000, 30000, 60000}

// QuotaExhaustedBackoffTiersMs is the ladder for QUOTA_EXHAUSTED (1m, 5m, 30m, 2h).
var QuotaExhaustedBackoffTiersMs = []int64{60000, 300000, 1800000, 7200000}

// BackoffByErrorType is the fallback backoff when an error doesn't match a tier.
var BackoffByErrorType = map[string]int64{
	"RATE_LIMIT_EXCEEDED":      30000,
	"MODEL_CAPACITY_EXHAUSTED": 15000,
	"SERVER_ERROR":             20000,
	"UNKNOWN":                  60000,
}

const MinSignatureLength = 50

// SelectionStrategies are the valid values for AccountSelectionConfig.Strategy.
var SelectionStrategies = []string{"sticky", "round-robin", "hybrid"}

const DefaultSelectionStrategy = "hybrid"

var StrategyLabels = map[string]string{
	"sticky":      "Sticky (Cache Optimized)",
	"round-robin": "Round Robin (Load Balanced)",
	"hybrid":      "Hybrid (Smart Distribution)",
}

const (
	GeminiMaxOutputTokens     = 16384
	GeminiSkipSignature       = "skip_thought_signature_validator"
	GeminiSignatureCacheTTLMs = 2 * 60 * 60 * 1000
	ModelValidationCacheTTLMs = 5 * 60 * 1000
)

// ThinkingContentCacheMaxEntries bounds the content-hash signature cache
// (internal/format.SignatureCache's record/lookup/sweep trio); oldest
// insertedAt entries are evicted once the cache is at capacity.
const ThinkingContentCacheMaxEntries = 500

// ThinkingContentCachePrefixChars is how much of the normalized thinking
// text is hashed for the prefix-hash lookup key. A prefix-hash candidate is
// only returned when the rest of the text is identical too, so a truncated
// block that shares just its opening is not matched; re-wrapped whitespace is
// handled by normalization before either hash is taken.
const ThinkingContentCachePrefixChars = 500

// OAuthConfigType describes the refresh-token exchange this proxy performs.
// The proxy never runs the authorization-code/PKCE enrollment flow itself —
// it only consumes a (refresh_token, project_id) pair an operator already
// obtained out of band and exchanges it for access tokens as they expire.
type OAuthConfigType struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// OAuthConfig is populated from environment variables at package
// initialisation; Config.Load does not touch it.
// Neither field carries a baked-in default — a proxy with no enrollment
// flow of its own has no legitimate reason to embed real client credentials.
var OAuthConfig = OAuthConfigType{
	ClientID:     os.Getenv("CLOUD_CODE_OAUTH_CLIENT_ID"),
	ClientSecret: os.Getenv("CLOUD_CODE_OAUTH_CLIENT_SECRET"),
	TokenURL:     "https://oauth2.googleapis.com/token",
}

// ModelFallbackMap maps a primary model to the model the scheduler retries
// with when every account is quota-exhausted for the primary.
var ModelFallbackMap = map[string]string{
	"gemini-3-pro-high":         "claude-opus-4-6-thinking",
	"gemini-3-pro-low":          "claude-sonnet-4-5",
	"gemini-3-flash":            "claude-sonnet-4-5-thinking",
	"claude-opus-4-6-thinking":  "gemini-3-pro-high",
	"claude-sonnet-4-5-thinking": "gemini-3-flash",
	"claude-sonnet-4-5":         "gemini-3-flash",
}

// TestModels are used by the health handler's synthetic quota probes.
var TestModels = map[string]string{
	"claude": "claude-sonnet-4-5-thinking",
	"gemini": "gemini-3-flash",
}

type ModelFamily string

const (
	ModelFamilyClaude  ModelFamily = "claude"
	ModelFamilyGemini  ModelFamily = "gemini"
	ModelFamilyUnknown ModelFamily = "unknown"
)

func GetModelFamily(modelName string) ModelFamily {
	lower := strings.ToLower(modelName)
	if strings.Contains(lower, "claude") {
		return ModelFamilyClaude
	}
	if strings.Contains(lower, "gemini") {
		return ModelFamilyGemini
	}
	return ModelFamilyUnknown
}

// IsThinkingModel reports whether a model name implies interleaved
// reasoning output (Claude "thinking" variants, Gemini 3+ by default).
func IsThinkingModel(modelName string) bool {
	lower := strings.ToLower(modelName)

	if strings.Contains(lower, "claude") && strings.Contains(lower, "thinking") {
		return true
	}

	if strings.Contains(lower, "gemini") {
		if strings.Contains(lower, "thinking") {
			return true
		}
		re := regexp.MustCompile(`gemini-(\d+)`)
		matches := re.FindStringSubmatch(lower)
		if len(matches) >= 2 {
			version, err := strconv.Atoi(matches[1])
			if err == nil && version >= 3 {
				return true
			}
		}
	}

	return false
}

func GetFallbackModel(modelName string) (string, bool) {
	fallback, ok := ModelFallbackMap[modelName]
	return fallback, ok
}

func HasFallback(modelName string) bool {
	_, ok := ModelFallbackMap[modelName]
	return ok
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// ServerPresetConfig is the subset of Config a named preset overrides.
type ServerPresetConfig struct {
	MaxRetries             int                    `json:"maxRetries"`
	RetryBaseMs            int64                  `json:"retryBaseMs"`
	RetryMaxMs             int64                  `json:"retryMaxMs"`
	DefaultCooldownMs      int64                  `json:"defaultCooldownMs"`
	MaxWaitBeforeErrorMs   int64                  `json:"maxWaitBeforeErrorMs"`
	MaxAccounts            int                    `json:"maxAccounts"`
	GlobalQuotaThreshold   float64                `json:"globalQuotaThreshold"`
	RateLimitDedupWindowMs int64                  `json:"rateLimitDedupWindowMs"`
	MaxConsecutiveFailures int                    `json:"maxConsecutiveFailures"`
	ExtendedCooldownMs     int64                  `json:"extendedCooldownMs"`
	MaxCapacityRetries     int                    `json:"maxCapacityRetries"`
	SwitchAccountDelayMs   int64                  `json:"switchAccountDelayMs"`
	CapacityBackoffTiersMs []int64                `json:"capacityBackoffTiersMs"`
	AccountSelection       AccountSelectionConfig `json:"accountSelection"`
}

// ServerPreset is a named, built-in bundle of ServerPresetConfig values.
type ServerPreset struct {
	Name        string             `json:"name"`
	BuiltIn     bool               `json:"builtIn,omitempty"`
	Description string             `json:"description,omitempty"`
	Config      ServerPresetConfig `json:"config"`
}

// DefaultServerPresets are the three built-in configuration profiles:
// a balanced default, one tuned for large account pools, and a
// conservative profile that favors stability over throughput.
var DefaultServerPresets = []ServerPreset{
	{
		Name:        "default",
		BuiltIn:     true,
		Description: "Balanced defaults for 3-5 accounts",
		Config: ServerPresetConfig{
			MaxRetries:             5,
			RetryBaseMs:            1000,
			RetryMaxMs:             30000,
			DefaultCooldownMs:      10000,
			MaxWaitBeforeErrorMs:   120000,
			MaxAccounts:            10,
			GlobalQuotaThreshold:   0,
			RateLimitDedupWindowMs: 2000,
			MaxConsecutiveFailures: 3,
			ExtendedCooldownMs:     60000,
			MaxCapacityRetries:     5,
			SwitchAccountDelayMs:   5000,
			CapacityBackoffTiersMs: []int64{5000, 10000, 20000, 30000, 60000},
			AccountSelection: AccountSelectionConfig{
				Strategy: "hybrid",
				HealthScore: &HealthScoreConfig{
					Initial: 70, SuccessReward: 1, RateLimitPenalty: -10,
					FailurePenalty: -20, RecoveryPerHour: 10, MinUsable: 50, MaxScore: 100,
				},
				TokenBucket: &TokenBucketConfig{MaxTokens: 50, TokensPerMinute: 6, InitialTokens: 50},
				Quota:       &QuotaConfig{LowThreshold: 0.10, CriticalThreshold: 0.05, StaleMs: 300000},
				Weights:     &WeightsConfig{Health: 2, Tokens: 5, Quota: 3, Lru: 0.1},
			},
		},
	},
	{
		Name:        "many-accounts",
		BuiltIn:     true,
		Description: "Tuned for 10+ pooled accounts: faster cycling, lighter per-account cooldowns",
		Config: ServerPresetConfig{
			MaxRetries:             3,
			RetryBaseMs:            500,
			RetryMaxMs:             15000,
			DefaultCooldownMs:      5000,
			MaxWaitBeforeErrorMs:   60000,
			MaxAccounts:            50,
			GlobalQuotaThreshold:   0.10,
			RateLimitDedupWindowMs: 1000,
			MaxConsecutiveFailures: 2,
			ExtendedCooldownMs:     30000,
			MaxCapacityRetries:     3,
			SwitchAccountDelayMs:   3000,
			CapacityBackoffTiersMs: []int64{3000, 6000, 12000, 20000, 40000},
			AccountSelection: AccountSelectionConfig{
				Strategy: "hybrid",
				HealthScore: &HealthScoreConfig{
					Initial: 70, SuccessReward: 1, RateLimitPenalty: -15,
					FailurePenalty: -25, RecoveryPerHour: 5, MinUsable: 40, MaxScore: 100,
				},
				TokenBucket: &TokenBucketConfig{MaxTokens: 30, TokensPerMinute: 8, InitialTokens: 30},
				Quota:       &QuotaConfig{LowThreshold: 0.15, CriticalThreshold: 0.05, StaleMs: 180000},
				Weights:     &WeightsConfig{Health: 5, Tokens: 2, Quota: 3, Lru: 0.01},
			},
		},
	},
	{
		Name:        "conservative",
		BuiltIn:     true,
		Description: "Favors stability over throughput: sticky pinning, longer cooldowns, fewer retries",
		Config: ServerPresetConfig{
			MaxRetries:             8,
			RetryBaseMs:            2000,
			RetryMaxMs:             60000,
			DefaultCooldownMs:      20000,
			MaxWaitBeforeErrorMs:   240000,
			MaxAccounts:            10,
			GlobalQuotaThreshold:   0.20,
			RateLimitDedupWindowMs: 3000,
			MaxConsecutiveFailures: 5,
			ExtendedCooldownMs:     120000,
			MaxCapacityRetries:     8,
			SwitchAccountDelayMs:   8000,
			CapacityBackoffTiersMs: []int64{8000, 15000, 30000, 45000, 90000},
			AccountSelection: AccountSelectionConfig{
				Strategy: "sticky",
				HealthScore: &HealthScoreConfig{
					Initial: 80, SuccessReward: 2, RateLimitPenalty: -5,
					FailurePenalty: -10, RecoveryPerHour: 3, MinUsable: 50, MaxScore: 100,
				},
				TokenBucket: &TokenBucketConfig{MaxTokens: 80, TokensPerMinute: 4, InitialTokens: 80},
				Quota:       &QuotaConfig{LowThreshold: 0.20, CriticalThreshold: 0.10, StaleMs: 300000},
				Weights:     &WeightsConfig{Health: 3, Tokens: 4, Quota: 2, Lru: 0.05},
			},
		},
	},
}

var ServerPresetsPath = filepath.Join(homeDir(), ".config", "cloud-code-proxy", "server-presets.json")

// OnboardUserEndpoints is the fallback order for the onboardUser call that
// provisions a managed project for accounts without one.
var OnboardUserEndpoints = []string{
	CloudCodeEndpointProd,
	CloudCodeEndpointDaily,
}
