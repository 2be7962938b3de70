package laraplate

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Rules are read on every scoped query and change rarely, so they are cached in
// front of the database. Lookups handed out by caches share the cached *AclRule and
// must be treated as read-only.

// Default cache settings.
const (
	DefaultRuleCacheSize = 1024
	DefaultRuleCacheTTL  = 5 * time.Minute
	DefaultRedisRuleTTL  = 30 * time.Minute
	DefaultRedisPrefix   = "laraplate:acl:"
)

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// CachedRuleStore keeps recent lookups in an in-process LRU with a TTL. Lookups
// without rule are cached as well; unknown permissions and errors never are.
// Concurrent misses for the same permission share one backend call. A backend call
// that overlaps an Invalidate for its permission returns its result to the callers
// already waiting but never stores it.
type CachedRuleStore struct {
	next   RuleStore
	cache  *lru.LRU[int64, RuleLookup]
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64

	mu          sync.Mutex
	epoch       uint64
	generations map[int64]uint64
}

// cacheStamp identifies the cache state a backend call started from.
type cacheStamp struct {
	epoch      uint64
	generation uint64
}

// NewCachedRuleStore wraps next. Non-positive size or ttl fall back to the defaults.
func NewCachedRuleStore(next RuleStore, size int, ttl time.Duration) *CachedRuleStore {
	if size <= 0 {
		size = DefaultRuleCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultRuleCacheTTL
	}
	return &CachedRuleStore{
		next:        next,
		cache:       lru.NewLRU[int64, RuleLookup](size, nil, ttl),
		generations: make(map[int64]uint64),
	}
}

// Lookup implements RuleStore.
func (c *CachedRuleStore) Lookup(ctx context.Context, permissionID int64) (RuleLookup, error) {
	if lookup, ok := c.cache.Get(permissionID); ok {
		c.hits.Add(1)
		return lookup, nil
	}
	c.misses.Add(1)

	// The shared call must not die with whichever caller started it.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strconv.FormatInt(permissionID, 10), func() (any, error) {
		stamp := c.stamp(permissionID)
		lookup, err := c.next.Lookup(shared, permissionID)
		if err != nil {
			return RuleLookup{}, err
		}
		c.store(permissionID, stamp, lookup)
		return lookup, nil
	})

	select {
	case <-ctx.Done():
		return RuleLookup{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return RuleLookup{}, res.Err
		}
		return res.Val.(RuleLookup), nil
	}
}

func (c *CachedRuleStore) stamp(permissionID int64) cacheStamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cacheStamp{epoch: c.epoch, generation: c.generations[permissionID]}
}

// store caches lookup unless the permission was invalidated or the cache purged
// since stamp was taken.
func (c *CachedRuleStore) store(permissionID int64, stamp cacheStamp, lookup RuleLookup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != stamp.epoch || c.generations[permissionID] != stamp.generation {
		return
	}
	c.cache.Add(permissionID, lookup)
}

// Invalidate drops the cached lookup and forwards to the next store when it caches too.
// Lookups started after it returns never join a backend call that was in flight.
func (c *CachedRuleStore) Invalidate(ctx context.Context, permissionID int64) error {
	c.mu.Lock()
	c.generations[permissionID]++
	c.cache.Remove(permissionID)
	c.mu.Unlock()
	c.group.Forget(strconv.FormatInt(permissionID, 10))

	if inv, ok := c.next.(RuleInvalidator); ok {
		return inv.Invalidate(ctx, permissionID)
	}
	return nil
}

// Purge empties the cache. Backend calls in flight do not store their result.
func (c *CachedRuleStore) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.cache.Purge()
}

// Stats returns hit/miss counters and the current size.
func (c *CachedRuleStore) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.cache.Len(),
	}
}

// RedisRuleStore shares lookups between processes through Redis. Redis failures are
// logged and the lookup falls through to the next store.
//
// Every permission has a generation counter next to its entry. Invalidate bumps it, and
// a lookup only writes its result when the counter still holds the value read before
// the backend call, checked with WATCH so invalidations from other processes count.
type RedisRuleStore struct {
	client redis.UniversalClient
	next   RuleStore
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// RedisRuleOption configures the RedisRuleStore.
type RedisRuleOption func(*RedisRuleStore)

// WithRedisTTL sets the expiry of cached lookups.
func WithRedisTTL(ttl time.Duration) RedisRuleOption {
	return func(s *RedisRuleStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisRuleOption {
	return func(s *RedisRuleStore) {
		s.prefix = prefix
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger *zap.Logger) RedisRuleOption {
	return func(s *RedisRuleStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisRuleStore wraps next with a Redis cache.
func NewRedisRuleStore(client redis.UniversalClient, next RuleStore, opts ...RedisRuleOption) *RedisRuleStore {
	s := &RedisRuleStore{
		client: client,
		next:   next,
		ttl:    DefaultRedisRuleTTL,
		prefix: DefaultRedisPrefix,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisRuleStore) key(permissionID int64) string {
	return s.prefix + strconv.FormatInt(permissionID, 10)
}

func (s *RedisRuleStore) generationKey(permissionID int64) string {
	return s.key(permissionID) + ":gen"
}

var errGenerationChanged = errors.New("acl cache generation changed")

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, c stringGetter, key string) (int64, error) {
	gen, err := c.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Lookup implements RuleStore.
func (s *RedisRuleStore) Lookup(ctx context.Context, permissionID int64) (RuleLookup, error) {
	key := s.key(permissionID)

	b, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var lookup RuleLookup
		if uerr := json.Unmarshal(b, &lookup); uerr == nil {
			return lookup, nil
		}
		s.logger.Warn("dropping undecodable acl cache entry", zap.String("key", key))
		_ = s.client.Del(ctx, key).Err()
	case errors.Is(err, redis.Nil):
	default:
		s.logger.Warn("acl cache read failed", zap.String("key", key), zap.Error(err))
	}

	genKey := s.generationKey(permissionID)
	gen, genErr := readGeneration(ctx, s.client, genKey)

	lookup, err := s.next.Lookup(ctx, permissionID)
	if err != nil {
		return RuleLookup{}, err
	}
	if genErr != nil {
		s.logger.Warn("acl cache generation read failed", zap.String("key", genKey), zap.Error(genErr))
		return lookup, nil
	}

	payload, err := json.Marshal(lookup)
	if err != nil {
		return lookup, nil
	}
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, genKey)
		if err != nil {
			return err
		}
		if current != gen {
			return errGenerationChanged
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errGenerationChanged), errors.Is(err, redis.TxFailedErr):
		s.logger.Debug("acl cache write skipped after invalidation", zap.String("key", key))
	default:
		s.logger.Warn("acl cache write failed", zap.String("key", key), zap.Error(err))
	}

	return lookup, nil
}

// Invalidate deletes the cached lookup and forwards to the next store when it caches too.
func (s *RedisRuleStore) Invalidate(ctx context.Context, permissionID int64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, s.generationKey(permissionID))
		pipe.Del(ctx, s.key(permissionID))
		return nil
	})
	if err != nil {
		return err
	}
	if inv, ok := s.next.(RuleInvalidator); ok {
		return inv.Invalidate(ctx, permissionID)
	}
	return nil
}
