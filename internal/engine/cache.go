package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind is a cache namespace. Artifacts of different kinds never collide even
// for the same video and fingerprint.
type Kind string

const (
	KindTranscript Kind = "transcript"
	KindChunks     Kind = "chunks"
	KindEmbeddings Kind = "embeddings"
	KindSummary    Kind = "summary"
)

// Fingerprint builds a deterministic hash over every parameter that affects
// a cached artifact's content. Changing any part yields a different key, so
// an artifact computed under other parameters can never be returned.
func Fingerprint(parts ...string) string {
	joined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:12])
}

// CacheOptions configures the artifact cache.
type CacheOptions struct {
	TTL             time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
	RedisURL        string // L2 redis; empty disables
	SQLitePath      string // L2 sqlite file; used when RedisURL is empty
}

// l2Store is a persistent second cache tier.
type l2Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// errL2Miss is returned by l2Store.Get when the key is absent or expired.
var errL2Miss = errors.New("l2: miss")

// ArtifactCache is a 2-tier content-addressed store for derived artifacts:
// L1 in-memory (lost on restart), optional L2 Redis or SQLite (survives
// restarts, so cached embeddings avoid re-embedding after a process restart).
// Every payload carries a checksum; a mismatch on read is treated as a miss
// and the entry is evicted.
type ArtifactCache struct {
	l1         sync.Map // full key → *cacheEntry
	l2         l2Store  // nil if no backend available
	ttl        time.Duration
	maxEntries int
	stop       chan struct{}
	stopOnce   sync.Once
}

type cacheEntry struct {
	data       []byte
	sum        string
	expiresAt  time.Time
	lastAccess time.Time
	mu         sync.Mutex // guards lastAccess
}

func (e *cacheEntry) touch(now time.Time) {
	e.mu.Lock()
	e.lastAccess = now
	e.mu.Unlock()
}

func (e *cacheEntry) accessed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAccess
}

// l2Envelope is the wire form stored in the L2 backend.
type l2Envelope struct {
	Sum     string `json:"sum"`
	Payload []byte `json:"payload"`
}

// NewArtifactCache sets up the cache and starts the cleanup loop. A broken
// L2 backend degrades to L1-only with a warning rather than failing startup.
func NewArtifactCache(opts CacheOptions) (*ArtifactCache, error) {
	c := &ArtifactCache{
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		stop:       make(chan struct{}),
	}

	switch {
	case opts.RedisURL != "":
		ropts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			slog.Warn("cache: invalid redis URL, L2 disabled", slog.Any("error", err))
			break
		}
		rdb := redis.NewClient(ropts)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("cache: redis unreachable, L2 disabled", slog.Any("error", err))
			break
		}
		c.l2 = &redisStore{rdb: rdb}
		slog.Info("cache: L2 redis connected", slog.String("addr", ropts.Addr))
	case opts.SQLitePath != "":
		store, err := openSQLiteStore(opts.SQLitePath)
		if err != nil {
			slog.Warn("cache: sqlite open failed, L2 disabled", slog.Any("error", err))
			break
		}
		c.l2 = store
		slog.Info("cache: L2 sqlite opened", slog.String("path", opts.SQLitePath))
	}

	slog.Info("cache: initialized",
		slog.Duration("ttl", opts.TTL),
		slog.Bool("l2", c.l2 != nil),
		slog.Int("max_entries", opts.MaxEntries))

	go c.cleanupLoop(opts.CleanupInterval)
	return c, nil
}

func fullKey(kind Kind, key string) string {
	return fmt.Sprintf("vq:%s:%s", kind, key)
}

func payloadSum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Get returns the cached payload for (kind, key), or false on miss, expiry,
// or integrity failure. On an L2 hit the entry is promoted into L1.
func (c *ArtifactCache) Get(ctx context.Context, kind Kind, key string) ([]byte, bool) {
	fk := fullKey(kind, key)
	now := time.Now()

	if val, ok := c.l1.Load(fk); ok {
		entry := val.(*cacheEntry)
		if now.Before(entry.expiresAt) {
			if payloadSum(entry.data) == entry.sum {
				entry.touch(now)
				metrics.CacheHits.Add(1)
				slog.Debug("cache: L1 hit", slog.String("key", fk))
				return entry.data, true
			}
			metrics.CacheCorruptions.Add(1)
			slog.Warn("cache: L1 checksum mismatch, evicting", slog.String("key", fk))
		}
		c.l1.Delete(fk) // expired or corrupt
	}

	if c.l2 != nil {
		raw, err := c.l2.Get(ctx, fk)
		if err == nil {
			var env l2Envelope
			if json.Unmarshal(raw, &env) == nil && payloadSum(env.Payload) == env.Sum {
				metrics.CacheHits.Add(1)
				slog.Debug("cache: L2 hit", slog.String("key", fk))
				c.l1.Store(fk, &cacheEntry{
					data:       env.Payload,
					sum:        env.Sum,
					expiresAt:  now.Add(c.ttl),
					lastAccess: now,
				})
				return env.Payload, true
			}
			metrics.CacheCorruptions.Add(1)
			slog.Warn("cache: L2 payload corrupt, evicting", slog.String("key", fk))
			_ = c.l2.Delete(ctx, fk)
		} else if !errors.Is(err, errL2Miss) {
			slog.Debug("cache: L2 get failed", slog.Any("error", err))
		}
	}

	metrics.CacheMisses.Add(1)
	return nil, false
}

// Put stores payload under (kind, key) in both tiers. Concurrent writers for
// the same key are last-writer-wins; each write is a whole-entry swap, so
// readers never observe a torn payload.
func (c *ArtifactCache) Put(ctx context.Context, kind Kind, key string, payload []byte) {
	fk := fullKey(kind, key)
	sum := payloadSum(payload)
	now := time.Now()

	c.evictIfNeeded()

	c.l1.Store(fk, &cacheEntry{
		data:       payload,
		sum:        sum,
		expiresAt:  now.Add(c.ttl),
		lastAccess: now,
	})

	if c.l2 != nil {
		raw, err := json.Marshal(l2Envelope{Sum: sum, Payload: payload})
		if err == nil {
			if err := c.l2.Set(ctx, fk, raw, c.ttl); err != nil {
				slog.Debug("cache: L2 set failed", slog.Any("error", err))
			}
		}
	}
}

// Invalidate drops the entry for (kind, key) from both tiers.
func (c *ArtifactCache) Invalidate(ctx context.Context, kind Kind, key string) {
	fk := fullKey(kind, key)
	c.l1.Delete(fk)
	if c.l2 != nil {
		_ = c.l2.Delete(ctx, fk)
	}
}

// GetJSON loads and decodes a cached value of type T.
func GetJSON[T any](ctx context.Context, c *ArtifactCache, kind Kind, key string) (T, bool) {
	var out T
	data, ok := c.Get(ctx, kind, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		c.Invalidate(ctx, kind, key)
		return out, false
	}
	return out, true
}

// PutJSON marshals v and stores it.
func PutJSON[T any](ctx context.Context, c *ArtifactCache, kind Kind, key string, v T) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Put(ctx, kind, key, data)
}

// Stats returns cache hit/miss counters.
func (c *ArtifactCache) Stats() (hits, misses int64) {
	return metrics.CacheHits.Load(), metrics.CacheMisses.Load()
}

// Close stops the cleanup loop and closes the L2 backend.
func (c *ArtifactCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.l2 != nil {
		return c.l2.Close()
	}
	return nil
}

// evictIfNeeded removes entries when L1 exceeds maxEntries: expired entries
// first, then least-recently-accessed until under the limit.
func (c *ArtifactCache) evictIfNeeded() {
	if c.maxEntries <= 0 {
		return
	}

	count := 0
	c.l1.Range(func(_, _ any) bool {
		count++
		return true
	})
	if count < c.maxEntries {
		return
	}

	now := time.Now()
	c.l1.Range(func(key, val any) bool {
		if entry, ok := val.(*cacheEntry); ok && now.After(entry.expiresAt) {
			c.l1.Delete(key)
			count--
		}
		return count >= c.maxEntries
	})
	if count < c.maxEntries {
		return
	}

	for count >= c.maxEntries {
		var coldestKey any
		coldestAt := now.Add(time.Hour) // far future
		c.l1.Range(func(key, val any) bool {
			if entry, ok := val.(*cacheEntry); ok {
				if at := entry.accessed(); at.Before(coldestAt) {
					coldestKey = key
					coldestAt = at
				}
			}
			return true
		})
		if coldestKey == nil {
			break
		}
		c.l1.Delete(coldestKey)
		count--
	}
}

// cleanupLoop periodically removes expired L1 entries.
func (c *ArtifactCache) cleanupLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.l1.Range(func(key, val any) bool {
				if entry, ok := val.(*cacheEntry); ok && now.After(entry.expiresAt) {
					c.l1.Delete(key)
				}
				return true
			})
		}
	}
}

// redisStore adapts go-redis to l2Store.
type redisStore struct {
	rdb *redis.Client
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errL2Miss
	}
	return data, err
}

func (s *redisStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, data, ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}
