// Package format provides conversion between Anthropic and Google Generative AI formats.
// This file corresponds to src/format/signature-cache.js in the Node.js version.
package format

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/relaygw/cloudcode-gateway/internal/config"
	"github.com/relaygw/cloudcode-gateway/pkg/redis"
)

// SignatureCache caches Gemini thoughtSignatures for tool calls and thinking blocks.
// Gemini models require thoughtSignature on tool calls, but Claude Code strips non-standard fields.
// This cache stores signatures so they can be restored in subsequent requests.
//
// For the Go version, we use Redis for persistence instead of in-memory Map.
// Fallback to in-memory cache when Redis is unavailable.
type SignatureCache struct {
	mu            sync.RWMutex
	redisClient   *redis.Client
	useRedis      bool
	memoryCache   map[string]*signatureEntry
	thinkingCache map[string]*thinkingEntry

	// contentCache and prefixIndex implement the content-hash restoration
	// cache: a thinking block whose signature was stripped by a client can
	// still be restored if its normalized text matches one seen before.
	contentCache map[string]*thinkingContentEntry   // full-content hash -> entry
	prefixIndex  map[string][]*thinkingContentEntry // prefix hash -> candidate entries
}

type signatureEntry struct {
	Signature string
	Timestamp time.Time
}

type thinkingEntry struct {
	ModelFamily string
	Timestamp   time.Time
}

// thinkingContentEntry is a recorded (normalized text, signature) pair used
// to restore signatures on unsigned thinking blocks by content match.
type thinkingContentEntry struct {
	NormalizedText string
	Signature      string
	InsertedAt     time.Time
}

// NewSignatureCache creates a new SignatureCache
func NewSignatureCache(redisClient *redis.Client) *SignatureCache {
	cache := &SignatureCache{
		redisClient:   redisClient,
		useRedis:      redisClient != nil,
		memoryCache:   make(map[string]*signatureEntry),
		thinkingCache: make(map[string]*thinkingEntry),
		contentCache:  make(map[string]*thinkingContentEntry),
		prefixIndex:   make(map[string][]*thinkingContentEntry),
	}
	return cache
}

// CacheSignature stores a signature for a tool_use_id
func (c *SignatureCache) CacheSignature(toolUseID, signature string) {
	if toolUseID == "" || signature == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.useRedis {
		ctx := context.Background()
		ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
		_ = c.redisClient.SetSignature(ctx, toolUseID, signature, ttl)
	} else {
		c.memoryCache[toolUseID] = &signatureEntry{
			Signature: signature,
			Timestamp: time.Now(),
		}
	}
}

// GetCachedSignature retrieves a cached signature for a tool_use_id
func (c *SignatureCache) GetCachedSignature(toolUseID string) string {
	if toolUseID == "" {
		return ""
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.useRedis {
		ctx := context.Background()
		signature, err := c.redisClient.GetSignature(ctx, toolUseID)
		if err != nil || signature == "" {
			return ""
		}
		return signature
	}

	// Memory cache fallback
	entry, ok := c.memoryCache[toolUseID]
	if !ok {
		return ""
	}

	// Check TTL
	ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
	if time.Since(entry.Timestamp) > ttl {
		delete(c.memoryCache, toolUseID)
		return ""
	}

	return entry.Signature
}

// CacheThinkingSignature caches a thinking block signature with its model family
func (c *SignatureCache) CacheThinkingSignature(signature, modelFamily string) {
	if signature == "" || len(signature) < config.MinSignatureLength {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.useRedis {
		ctx := context.Background()
		ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
		_ = c.redisClient.SetThinkingSignature(ctx, signature, modelFamily, ttl)
	} else {
		c.thinkingCache[signature] = &thinkingEntry{
			ModelFamily: modelFamily,
			Timestamp:   time.Now(),
		}
	}
}

// GetCachedSignatureFamily returns the cached model family for a thinking signature
func (c *SignatureCache) GetCachedSignatureFamily(signature string) string {
	if signature == "" {
		return ""
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.useRedis {
		ctx := context.Background()
		family, err := c.redisClient.GetThinkingSignature(ctx, signature)
		if err != nil || family == "" {
			return ""
		}
		return family
	}

	// Memory cache fallback
	entry, ok := c.thinkingCache[signature]
	if !ok {
		return ""
	}

	// Check TTL
	ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
	if time.Since(entry.Timestamp) > ttl {
		delete(c.thinkingCache, signature)
		return ""
	}

	return entry.ModelFamily
}

// ClearThinkingSignatureCache clears all entries from the thinking signature cache
func (c *SignatureCache) ClearThinkingSignatureCache() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.useRedis {
		// Redis entries will auto-expire via TTL
		// For testing, we clear the memory cache
	}

	c.thinkingCache = make(map[string]*thinkingEntry)
}

// normalizeThinkingText trims surrounding whitespace and collapses interior
// whitespace runs so that cosmetic re-wrapping of a thinking block (a
// client re-serializing with different line breaks or indentation) does
// not defeat a content-hash match.
func normalizeThinkingText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func hashThinkingText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func thinkingPrefix(normalized string) string {
	if len(normalized) <= config.ThinkingContentCachePrefixChars {
		return normalized
	}
	return normalized[:config.ThinkingContentCachePrefixChars]
}

// RecordThinkingContent records (text, signature) into the content-hash
// cache so a later request that replays this thinking block without its
// signature can have it restored by LookupThinkingContent.
func (c *SignatureCache) RecordThinkingContent(text, signature string) {
	if signature == "" || len(signature) < config.MinSignatureLength {
		return
	}

	normalized := normalizeThinkingText(text)
	if normalized == "" {
		return
	}

	fullHash := hashThinkingText(normalized)
	prefixHash := hashThinkingText(thinkingPrefix(normalized))

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.contentCache[fullHash]; ok {
		existing.Signature = signature
		existing.InsertedAt = time.Now()
		return
	}

	if len(c.contentCache) >= config.ThinkingContentCacheMaxEntries {
		c.evictOldestContentEntryLocked()
	}

	entry := &thinkingContentEntry{
		NormalizedText: normalized,
		Signature:      signature,
		InsertedAt:     time.Now(),
	}
	c.contentCache[fullHash] = entry
	c.prefixIndex[prefixHash] = append(c.prefixIndex[prefixHash], entry)
}

// evictOldestContentEntryLocked removes the entry with the earliest
// InsertedAt. Caller must hold c.mu.
func (c *SignatureCache) evictOldestContentEntryLocked() {
	var oldestHash string
	var oldest *thinkingContentEntry
	for hash, entry := range c.contentCache {
		if oldest == nil || entry.InsertedAt.Before(oldest.InsertedAt) {
			oldest = entry
			oldestHash = hash
		}
	}
	if oldest == nil {
		return
	}
	delete(c.contentCache, oldestHash)
	c.removeFromPrefixIndexLocked(oldest)
}

func (c *SignatureCache) removeFromPrefixIndexLocked(entry *thinkingContentEntry) {
	prefixHash := hashThinkingText(thinkingPrefix(entry.NormalizedText))
	candidates := c.prefixIndex[prefixHash]
	for i, candidate := range candidates {
		if candidate == entry {
			c.prefixIndex[prefixHash] = append(candidates[:i], candidates[i+1:]...)
			break
		}
	}
	if len(c.prefixIndex[prefixHash]) == 0 {
		delete(c.prefixIndex, prefixHash)
	}
}

// LookupThinkingContent returns the signature recorded for this thinking
// text, or "" if no match survives TTL. It first tries an exact
// full-content hash match, then falls back to the prefix hash, accepting a
// prefix candidate only when its normalized text has the same length and an
// identical suffix. A prefix candidate therefore matches only text that is
// identical after normalization; a truncated block, or one that differs
// after its first ThinkingContentCachePrefixChars characters, is a miss.
func (c *SignatureCache) LookupThinkingContent(text string) string {
	normalized := normalizeThinkingText(text)
	if normalized == "" {
		return ""
	}

	ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
	fullHash := hashThinkingText(normalized)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.contentCache[fullHash]; ok {
		if time.Since(entry.InsertedAt) > ttl {
			delete(c.contentCache, fullHash)
			c.removeFromPrefixIndexLocked(entry)
			return ""
		}
		return entry.Signature
	}

	prefixHash := hashThinkingText(thinkingPrefix(normalized))
	for _, entry := range c.prefixIndex[prefixHash] {
		if time.Since(entry.InsertedAt) > ttl {
			continue
		}
		// Suffix-length + partial-suffix equality check: the candidate's
		// normalized text must be the same length and agree past the
		// shared prefix before the hit is trusted.
		if len(entry.NormalizedText) != len(normalized) {
			continue
		}
		if entry.NormalizedText[len(thinkingPrefix(normalized)):] == normalized[len(thinkingPrefix(normalized)):] {
			return entry.Signature
		}
	}

	return ""
}

// SweepThinkingContent purges TTL-expired entries from the content-hash
// cache. Intended to run on a periodic tick alongside the rest of the
// cache's background maintenance.
func (c *SignatureCache) SweepThinkingContent() int {
	ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for hash, entry := range c.contentCache {
		if time.Since(entry.InsertedAt) > ttl {
			delete(c.contentCache, hash)
			c.removeFromPrefixIndexLocked(entry)
			removed++
		}
	}
	return removed
}

// Global instance for convenience
var globalSignatureCache *SignatureCache
var signatureCacheOnce sync.Once

// InitGlobalSignatureCache initializes the global signature cache
func InitGlobalSignatureCache(redisClient *redis.Client) {
	signatureCacheOnce.Do(func() {
		globalSignatureCache = NewSignatureCache(redisClient)
	})
}

// GetGlobalSignatureCache returns the global signature cache instance
func GetGlobalSignatureCache() *SignatureCache {
	if globalSignatureCache == nil {
		// Fallback to memory-only cache if not initialized
		globalSignatureCache = NewSignatureCache(nil)
	}
	return globalSignatureCache
}

// ClearThinkingSignatureCache clears the global thinking signature cache
func ClearThinkingSignatureCache() {
	GetGlobalSignatureCache().ClearThinkingSignatureCache()
}

// RecordThinkingContent records a (text, signature) pair into the global
// content-hash signature cache.
func RecordThinkingContent(text, signature string) {
	GetGlobalSignatureCache().RecordThinkingContent(text, signature)
}

// LookupThinkingContent restores a signature for unsigned thinking text
// from the global content-hash signature cache.
func LookupThinkingContent(text string) string {
	return GetGlobalSignatureCache().LookupThinkingContent(text)
}

// SweepThinkingContent purges TTL-expired entries from the global
// content-hash signature cache.
func SweepThinkingContent() int {
	return GetGlobalSignatureCache().SweepThinkingContent()
}
