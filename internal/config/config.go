package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/relaygw/cloudcode-gateway/internal/utils"
)

// HealthScoreConfig tunes the hybrid strategy's per-account health score.
type HealthScoreConfig struct {
	Initial          float64 `json:"initial"`
	SuccessReward    float64 `json:"successReward"`
	RateLimitPenalty float64 `json:"rateLimitPenalty"`
	FailurePenalty   float64 `json:"failurePenalty"`
	RecoveryPerHour  float64 `json:"recoveryPerHour"`
	MinUsable        float64 `json:"minUsable"`
	MaxScore         float64 `json:"maxScore"`
}

// TokenBucketConfig tunes the hybrid strategy's per-account token bucket.
type TokenBucketConfig struct {
	MaxTokens       float64 `json:"maxTokens"`
	TokensPerMinute float64 `json:"tokensPerMinute"`
	InitialTokens   float64 `json:"initialTokens"`
}

// QuotaConfig tunes how remaining-quota fractions feed the hybrid score.
type QuotaConfig struct {
	LowThreshold      float64 `json:"lowThreshold"`
	CriticalThreshold float64 `json:"criticalThreshold"`
	StaleMs           int64   `json:"staleMs"`
	UnknownScore      float64 `json:"unknownScore"`
}

// WeightsConfig weights the four hybrid-score components against each
// other when the scheduler ranks candidate accounts:
// score = Health*healthScore + Tokens*tokenFraction + Quota*quotaFraction + Lru*secondsSinceUse.
type WeightsConfig struct {
	Health float64 `json:"health"`
	Tokens float64 `json:"tokens"`
	Quota  float64 `json:"quota"`
	Lru    float64 `json:"lru"`
}

// AccountSelectionConfig configures the scheduler's selection strategy.
type AccountSelectionConfig struct {
	Strategy    string             `json:"strategy"`
	HealthScore *HealthScoreConfig `json:"healthScore,omitempty"`
	TokenBucket *TokenBucketConfig `json:"tokenBucket,omitempty"`
	Quota       *QuotaConfig       `json:"quota,omitempty"`
	Weights     *WeightsConfig     `json:"weights,omitempty"`
}

// CircuitBreakerConfig tunes the per-endpoint gobreaker instances guarding
// upstream calls (see internal/cloudcode's breaker-wrapped client).
type CircuitBreakerConfig struct {
	MaxFailures  uint32 `json:"maxFailures"`
	OpenTimeoutMs int64  `json:"openTimeoutMs"`
}

// PacingConfig holds outbound pacing settings. They are loaded, saved and
// reported by GetPublic, but no dispatch code reads them: upstream requests
// are not paced.
type PacingConfig struct {
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
}

// TracingConfig toggles the OpenTelemetry span emitted around each dispatch attempt.
type TracingConfig struct {
	Enabled        bool   `json:"enabled"`
	ServiceName    string `json:"serviceName"`
	OTLPEndpoint   string `json:"otlpEndpoint"`
}

// Config is the mutable, JSON-persisted runtime configuration.
type Config struct {
	mu sync.RWMutex

	APIKey   string `json:"apiKey"`
	Debug    bool   `json:"debug"`
	DevMode  bool   `json:"devMode"`
	LogLevel string `json:"logLevel"`

	MaxRetries  int   `json:"maxRetries"`
	RetryBaseMs int64 `json:"retryBaseMs"`
	RetryMaxMs  int64 `json:"retryMaxMs"`

	PersistTokenCache bool `json:"persistTokenCache"`

	DefaultCooldownMs    int64 `json:"defaultCooldownMs"`
	MaxWaitBeforeErrorMs int64 `json:"maxWaitBeforeErrorMs"`

	MaxAccounts          int     `json:"maxAccounts"`
	GlobalQuotaThreshold float64 `json:"globalQuotaThreshold"`

	RateLimitDedupWindowMs int64 `json:"rateLimitDedupWindowMs"`
	MaxConsecutiveFailures int   `json:"maxConsecutiveFailures"`
	ExtendedCooldownMs     int64 `json:"extendedCooldownMs"`
	MaxCapacityRetries     int   `json:"maxCapacityRetries"`

	ModelMapping map[string]string `json:"modelMapping"`

	AccountSelection AccountSelectionConfig `json:"accountSelection"`

	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"redisPassword"`
	RedisDB       int    `json:"redisDB"`

	Port int    `json:"port"`
	Host string `json:"host"`

	FallbackEnabled bool `json:"fallbackEnabled"`

	CircuitBreaker CircuitBreakerConfig `json:"circuitBreaker"`
	Pacing         PacingConfig         `json:"pacing"`
	Tracing        TracingConfig        `json:"tracing"`
	MetricsEnabled bool                 `json:"metricsEnabled"`
}

// DefaultConfig returns the built-in "default" preset's values.
func DefaultConfig() *Config {
	return &Config{
		APIKey:               "",
		Debug:                false,
		DevMode:              false,
		LogLevel:             "info",
		MaxRetries:           5,
		RetryBaseMs:          1000,
		RetryMaxMs:           30000,
		PersistTokenCache:    false,
		DefaultCooldownMs:    10000,
		MaxWaitBeforeErrorMs: 120000,
		MaxAccounts:          10,
		GlobalQuotaThreshold: 0,
		RateLimitDedupWindowMs: 2000,
		MaxConsecutiveFailures: 3,
		ExtendedCooldownMs:     60000,
		MaxCapacityRetries:     5,
		ModelMapping:           make(map[string]string),
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
		RedisAddr:       "localhost:6379",
		RedisPassword:   "",
		RedisDB:         0,
		Port:            8080,
		Host:            "0.0.0.0",
		FallbackEnabled: false,
		CircuitBreaker:  CircuitBreakerConfig{MaxFailures: 5, OpenTimeoutMs: 30000},
		Pacing:          PacingConfig{RequestsPerSecond: 20, Burst: 10},
		Tracing:         TracingConfig{Enabled: false, ServiceName: "cloudcode-gateway"},
		MetricsEnabled:  true,
	}
}

var (
	configDir  string
	configFile string
)

func init() {
	home := utils.GetHomeDir()
	configDir = filepath.Join(home, ".config", "cloudcode-gateway")
	configFile = filepath.Join(configDir, "config.json")
}

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
)

// GetConfig returns the process-wide Config singleton, loading it on first use.
func GetConfig() *Config {
	globalConfigOnce.Do(func() {
		globalConfig = DefaultConfig()
		_ = globalConfig.Load()
	})
	return globalConfig
}

// Load applies a config file (if present) then environment overrides.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := utils.EnsureDir(configDir); err != nil {
		utils.Warn("failed to create config directory: %v", err)
	}

	if utils.FileExists(configFile) {
		if err := c.loadFromFile(configFile); err != nil {
			utils.Warn("failed to load config from %s: %v", configFile, err)
		}
	} else if localConfig := filepath.Join(".", "config.json"); utils.FileExists(localConfig) {
		if err := c.loadFromFile(localConfig); err != nil {
			utils.Warn("failed to load local config: %v", err)
		}
	}

	c.loadFromEnv()

	if c.Debug && !c.DevMode {
		c.DevMode = true
	}

	utils.SetDebug(c.Debug || c.DevMode)

	return nil
}

// ApplyPreset overwrites the tunable fields from a named built-in preset,
// leaving API key, Redis, tracing, and server bind settings untouched.
func (c *Config) ApplyPreset(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, preset := range DefaultServerPresets {
		if preset.Name != name {
			continue
		}
		cfg := preset.Config
		c.MaxRetries = cfg.MaxRetries
		c.RetryBaseMs = cfg.RetryBaseMs
		c.RetryMaxMs = cfg.RetryMaxMs
		c.DefaultCooldownMs = cfg.DefaultCooldownMs
		c.MaxWaitBeforeErrorMs = cfg.MaxWaitBeforeErrorMs
		c.MaxAccounts = cfg.MaxAccounts
		c.GlobalQuotaThreshold = cfg.GlobalQuotaThreshold
		c.RateLimitDedupWindowMs = cfg.RateLimitDedupWindowMs
		c.MaxConsecutiveFailures = cfg.MaxConsecutiveFailures
		c.ExtendedCooldownMs = cfg.ExtendedCooldownMs
		c.MaxCapacityRetries = cfg.MaxCapacityRetries
		c.AccountSelection = cfg.AccountSelection
		return nil
	}
	return fmt.Errorf("unknown preset %q", name)
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	tempConfig := DefaultConfig()
	if err := json.Unmarshal(data, tempConfig); err != nil {
		return err
	}

	c.APIKey = tempConfig.APIKey
	c.Debug = tempConfig.Debug
	c.DevMode = tempConfig.DevMode
	c.LogLevel = tempConfig.LogLevel
	c.MaxRetries = tempConfig.MaxRetries
	c.RetryBaseMs = tempConfig.RetryBaseMs
	c.RetryMaxMs = tempConfig.RetryMaxMs
	c.PersistTokenCache = tempConfig.PersistTokenCache
	c.DefaultCooldownMs = tempConfig.DefaultCooldownMs
	c.MaxWaitBeforeErrorMs = tempConfig.MaxWaitBeforeErrorMs
	c.MaxAccounts = tempConfig.MaxAccounts
	c.GlobalQuotaThreshold = tempConfig.GlobalQuotaThreshold
	c.RateLimitDedupWindowMs = tempConfig.RateLimitDedupWindowMs
	c.MaxConsecutiveFailures = tempConfig.MaxConsecutiveFailures
	c.ExtendedCooldownMs = tempConfig.ExtendedCooldownMs
	c.MaxCapacityRetries = tempConfig.MaxCapacityRetries
	c.ModelMapping = tempConfig.ModelMapping
	c.AccountSelection = tempConfig.AccountSelection
	c.RedisAddr = tempConfig.RedisAddr
	c.RedisPassword = tempConfig.RedisPassword
	c.RedisDB = tempConfig.RedisDB
	c.Port = tempConfig.Port
	c.Host = tempConfig.Host
	c.FallbackEnabled = tempConfig.FallbackEnabled
	c.CircuitBreaker = tempConfig.CircuitBreaker
	c.Pacing = tempConfig.Pacing
	c.Tracing = tempConfig.Tracing
	c.MetricsEnabled = tempConfig.MetricsEnabled

	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if os.Getenv("DEBUG") == "true" {
		c.Debug = true
	}
	if os.Getenv("DEV_MODE") == "true" {
		c.DevMode = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if os.Getenv("FALLBACK") == "true" {
		c.FallbackEnabled = true
	}
	if os.Getenv("TRACING_ENABLED") == "true" {
		c.Tracing.Enabled = true
	}
	if v := os.Getenv("OTLP_ENDPOINT"); v != "" {
		c.Tracing.OTLPEndpoint = v
	}
	if os.Getenv("METRICS_ENABLED") == "false" {
		c.MetricsEnabled = false
	}
}

// Save persists the current configuration to configFile.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := utils.EnsureDir(configDir); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configFile, data, 0644)
}

// Update applies a partial field update (as decoded from a JSON PATCH body)
// and persists the result.
func (c *Config) Update(updates map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, value := range updates {
		switch key {
		case "apiKey":
			if v, ok := value.(string); ok {
				c.APIKey = v
			}
		case "debug":
			if v, ok := value.(bool); ok {
				c.Debug = v
			}
		case "devMode":
			if v, ok := value.(bool); ok {
				c.DevMode = v
			}
		case "globalQuotaThreshold":
			if v, ok := value.(float64); ok {
				c.GlobalQuotaThreshold = v
			}
		case "maxAccounts":
			if v, ok := value.(float64); ok {
				c.MaxAccounts = int(v)
			}
		case "fallbackEnabled":
			if v, ok := value.(bool); ok {
				c.FallbackEnabled = v
			}
		case "metricsEnabled":
			if v, ok := value.(bool); ok {
				c.MetricsEnabled = v
			}
		}
	}

	utils.SetDebug(c.Debug || c.DevMode)

	if err := utils.EnsureDir(configDir); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configFile, data, 0644)
}

// GetPublic returns a copy of the config with secrets redacted, suitable
// for exposing over an authenticated admin endpoint.
func (c *Config) GetPublic() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"apiKey":                 redact(c.APIKey),
		"debug":                  c.Debug,
		"devMode":                c.DevMode,
		"logLevel":               c.LogLevel,
		"maxRetries":             c.MaxRetries,
		"retryBaseMs":            c.RetryBaseMs,
		"retryMaxMs":             c.RetryMaxMs,
		"persistTokenCache":      c.PersistTokenCache,
		"defaultCooldownMs":      c.DefaultCooldownMs,
		"maxWaitBeforeErrorMs":   c.MaxWaitBeforeErrorMs,
		"maxAccounts":            c.MaxAccounts,
		"globalQuotaThreshold":   c.GlobalQuotaThreshold,
		"rateLimitDedupWindowMs": c.RateLimitDedupWindowMs,
		"maxConsecutiveFailures": c.MaxConsecutiveFailures,
		"extendedCooldownMs":     c.ExtendedCooldownMs,
		"maxCapacityRetries":     c.MaxCapacityRetries,
		"modelMapping":           c.ModelMapping,
		"accountSelection":       c.AccountSelection,
		"redisAddr":              c.RedisAddr,
		"redisPassword":          redact(c.RedisPassword),
		"redisDB":                c.RedisDB,
		"port":                   c.Port,
		"host":                   c.Host,
		"fallbackEnabled":        c.FallbackEnabled,
		"circuitBreaker":         c.CircuitBreaker,
		"pacing":                 c.Pacing,
		"tracing":                c.Tracing,
		"metricsEnabled":         c.MetricsEnabled,
	}
}

func (c *Config) GetStrategy() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AccountSelection.Strategy
}

func (c *Config) SetStrategy(strategy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccountSelection.Strategy = strategy
}

func (c *Config) IsDevMode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DevMode
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func GetPort() int { return GetConfig().Port }
func GetHost() string { return GetConfig().Host }

func IsDebug() bool {
	cfg := GetConfig()
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.Debug
}

func IsDevModeEnabled() bool { return GetConfig().IsDevMode() }

func GetGlobalQuotaThreshold() float64 {
	cfg := GetConfig()
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.GlobalQuotaThreshold
}
