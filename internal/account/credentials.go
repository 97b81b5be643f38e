// Package account provides account management with configurable selection strategies.
package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/relaygw/cloudcode-gateway/internal/auth"
	"github.com/relaygw/cloudcode-gateway/internal/utils"
	"github.com/relaygw/cloudcode-gateway/pkg/redis"
)

// CachedToken holds a cached access token.
type CachedToken struct {
	Token     string
	ExpiresAt time.Time
}

// Credentials manages OAuth access tokens and API keys for accounts.
// Refreshes are deduplicated per email with singleflight so concurrent
// requests against a cold account trigger exactly one refresh-grant call.
type Credentials struct {
	mu           sync.RWMutex
	redisClient  *redis.Client
	accountStore *redis.AccountStore
	tokenCache   map[string]*CachedToken
	group        singleflight.Group
}

// NewCredentials creates a new credentials manager.
func NewCredentials(redisClient *redis.Client) *Credentials {
	var accountStore *redis.AccountStore
	if redisClient != nil {
		accountStore = redis.NewAccountStore(redisClient)
	}
	return &Credentials{
		redisClient:  redisClient,
		accountStore: accountStore,
		tokenCache:   make(map[string]*CachedToken),
	}
}

// GetAccessToken returns a usable access token for acc, refreshing it if the
// in-memory and Redis caches are both cold or stale.
func (c *Credentials) GetAccessToken(ctx context.Context, acc *redis.Account) (string, error) {
	if acc == nil {
		return "", fmt.Errorf("account is nil")
	}

	c.mu.RLock()
	cached, ok := c.tokenCache[acc.Email]
	c.mu.RUnlock()

	if ok && cached.ExpiresAt.After(time.Now()) {
		return cached.Token, nil
	}

	if c.accountStore != nil {
		cachedToken, err := c.accountStore.GetCachedToken(ctx, acc.Email)
		if err == nil && cachedToken != nil && cachedToken.AccessToken != "" {
			if time.Since(cachedToken.ExtractedAt) < 5*time.Minute {
				c.cacheToken(acc.Email, cachedToken.AccessToken, 5*time.Minute)
				return cachedToken.AccessToken, nil
			}
		}
	}

	// singleflight collapses concurrent refreshes for the same email into one
	// in-flight call; every waiter gets the same result.
	v, err, _ := c.group.Do(acc.Email, func() (interface{}, error) {
		return c.getFreshToken(ctx, acc)
	})
	if err != nil {
		return "", err
	}
	token := v.(string)

	c.cacheToken(acc.Email, token, 5*time.Minute)
	if c.accountStore != nil {
		_ = c.accountStore.SetCachedToken(ctx, acc.Email, token, 5*time.Minute)
	}

	return token, nil
}

// getFreshToken obtains a fresh token via the account's configured source.
func (c *Credentials) getFreshToken(ctx context.Context, acc *redis.Account) (string, error) {
	switch acc.Source {
	case "oauth":
		if acc.RefreshToken == "" {
			return "", fmt.Errorf("no refresh token for account %s", acc.Email)
		}
		utils.Debug("[Credentials] Refreshing OAuth token for %s", acc.Email)
		result, err := auth.RefreshAccessToken(ctx, acc.RefreshToken)
		if err != nil {
			utils.Error("[Credentials] Failed to refresh token for %s: %v", acc.Email, err)
			return "", err
		}
		utils.Success("[Credentials] Refreshed OAuth token for %s", acc.Email)
		return result.AccessToken, nil

	case "manual":
		if acc.APIKey != "" {
			return acc.APIKey, nil
		}
		return "", fmt.Errorf("no API key for manual account %s", acc.Email)

	case "database":
		return "", fmt.Errorf("database token extraction not supported")

	default:
		return "", fmt.Errorf("unknown account source: %s", acc.Source)
	}
}

func (c *Credentials) cacheToken(email, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenCache[email] = &CachedToken{Token: token, ExpiresAt: time.Now().Add(ttl)}
}

// ClearCache drops the entire in-memory token cache.
func (c *Credentials) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenCache = make(map[string]*CachedToken)
}

// ClearCacheForAccount drops the cached token for a single account.
func (c *Credentials) ClearCacheForAccount(ctx context.Context, email string) {
	c.mu.Lock()
	delete(c.tokenCache, email)
	c.mu.Unlock()

	if c.accountStore != nil {
		_ = c.accountStore.ClearTokenCache(ctx, email)
	}
}
