package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/assetperm/pkg/observability"
	"github.com/platinummonkey/assetperm/pkg/store"
)

// Config controls cache sizing
type Config struct {
	// MaxEntries bounds the in-process tier
	MaxEntries int
	// TTL applies to both tiers
	TTL time.Duration
	// KeyPrefix namespaces shared keys in Redis
	KeyPrefix string
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		MaxEntries: 10000,
		TTL:        5 * time.Minute,
		KeyPrefix:  "assetperm",
	}
}

// Option configures a Store
type Option func(*Store)

// WithRedis adds a shared second tier
func WithRedis(client *redis.Client) Option {
	return func(s *Store) { s.redis = client }
}

// WithMetrics records hits, misses and invalidations
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the logger used for Redis failures
func WithLogger(l *observability.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store wraps a store.Store with a read-through cache over the lookups the
// resolvers issue on every decision. Every write that passes through it
// invalidates the writer's organization.
//
// Invalidation bumps a per-organization generation that is part of every
// key. With Redis configured the generation lives in Redis, so a write on
// one node invalidates the in-process tier of every node on its next read.
type Store struct {
	next    store.Store
	cfg     Config
	l1      *lru.LRU[string, []byte]
	redis   *redis.Client
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *observability.Logger

	mu          sync.Mutex
	generations map[string]int64
}

var _ store.Store = (*Store)(nil)

// New wraps next with a cache
func New(next store.Store, cfg Config, opts ...Option) *Store {
	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	s := &Store{
		next:        next,
		cfg:         cfg,
		l1:          lru.NewLRU[string, []byte](cfg.MaxEntries, nil, cfg.TTL),
		logger:      observability.NopLogger(),
		generations: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of entries in the in-process tier
func (s *Store) Len() int { return s.l1.Len() }

// Invalidate drops every cached lookup of an organization
func (s *Store) Invalidate(ctx context.Context, org string) {
	s.metrics.IncCacheInvalidation()
	if s.redis != nil {
		err := s.redis.Incr(ctx, s.generationKey(org)).Err()
		if err == nil {
			return
		}
		s.logger.WithOrganization(org).WithError(err).Warn("failed to bump shared cache generation")
	}
	s.mu.Lock()
	s.generations[org]++
	s.mu.Unlock()
}

func (s *Store) generationKey(org string) string {
	return s.cfg.KeyPrefix + ":gen:" + org
}

func (s *Store) generation(ctx context.Context, org string) string {
	s.mu.Lock()
	local := s.generations[org]
	s.mu.Unlock()
	if s.redis == nil {
		return strconv.FormatInt(local, 10)
	}
	shared, err := s.redis.Get(ctx, s.generationKey(org)).Int64()
	if err != nil && err != redis.Nil {
		s.logger.WithOrganization(org).WithError(err).Warn("failed to read shared cache generation")
	}
	return strconv.FormatInt(shared, 10) + "." + strconv.FormatInt(local, 10)
}

// load serves key from L1, then L2, then next. Concurrent misses on the
// same key share one call to fetch. Errors are never cached.
func load[T any](ctx context.Context, s *Store, org, key string, fetch func() (T, error)) (T, error) {
	var zero T
	full := s.cfg.KeyPrefix + ":" + org + ":" + s.generation(ctx, org) + ":" + key

	if raw, ok := s.l1.Get(full); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			s.metrics.IncCacheHit("l1")
			return v, nil
		}
		s.l1.Remove(full)
	}

	if s.redis != nil {
		raw, err := s.redis.Get(ctx, full).Bytes()
		switch {
		case err == nil:
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				s.metrics.IncCacheHit("l2")
				s.l1.Add(full, raw)
				return v, nil
			}
		case err != redis.Nil:
			s.logger.WithOrganization(org).WithError(err).Warn("shared cache read failed")
		}
	}

	s.metrics.IncCacheMiss()
	raw, err, _ := s.group.Do(full, func() (interface{}, error) {
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode cache entry: %w", err)
		}
		s.l1.Add(full, data)
		if s.redis != nil {
			if err := s.redis.Set(ctx, full, data, s.cfg.TTL).Err(); err != nil {
				s.logger.WithOrganization(org).WithError(err).Warn("shared cache write failed")
			}
		}
		return data, nil
	})
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(raw.([]byte), &v); err != nil {
		return zero, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return v, nil
}

func queryKey(q store.RuleQuery) string {
	principals := make([]string, len(q.Principals))
	for i, p := range q.Principals {
		principals[i] = p.String()
	}
	sort.Strings(principals)
	fields := append([]string(nil), q.FieldNames...)
	sort.Strings(fields)
	return q.ResourceType + "|" + strings.Join(principals, ",") + "|" + strings.Join(fields, ",")
}

func idsKey(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
