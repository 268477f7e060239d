// --- File: internal/storage/cache/groupstore.go ---
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get decodes the value into dest, or returns ErrCacheMiss.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachedGroupStore adds read-aside caching to any GroupStore. Lookups may be
// up to ttl stale; inner-store errors are never cached.
type CachedGroupStore struct {
	realStore dispatch.GroupStore
	cache     CacheClient
	keys      KeySpace
	ttl       time.Duration
	logger    *slog.Logger
}

// KeySpace holds the relation names used in keys (relay:<relation>:<id>).
// Empty names fall back to "members" and "tokens".
type KeySpace struct {
	Members string
	Tokens  string
}

func NewCachedGroupStore(realStore dispatch.GroupStore, cache CacheClient, keys KeySpace, ttl time.Duration, logger *slog.Logger) *CachedGroupStore {
	if keys.Members == "" {
		keys.Members = "members"
	}
	if keys.Tokens == "" {
		keys.Tokens = "tokens"
	}
	return &CachedGroupStore{
		realStore: realStore,
		cache:     cache,
		keys:      keys,
		ttl:       ttl,
		logger:    logger.With("component", "CachedGroupStore"),
	}
}

func (s *CachedGroupStore) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	return s.readAside(ctx, cacheKey(s.keys.Members, groupID), func() ([]string, error) {
		return s.realStore.MembersOf(ctx, groupID)
	})
}

func (s *CachedGroupStore) TokensOf(ctx context.Context, memberID string) ([]string, error) {
	return s.readAside(ctx, cacheKey(s.keys.Tokens, memberID), func() ([]string, error) {
		return s.realStore.TokensOf(ctx, memberID)
	})
}

func (s *CachedGroupStore) readAside(ctx context.Context, key string, load func() ([]string, error)) ([]string, error) {
	var cached []string
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		if cached == nil {
			cached = []string{}
		}
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Debug("Cache read failed", "key", key, "err", err)
	}

	fresh, err := load()
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Debug("Cache write failed", "key", key, "err", err)
	}
	return fresh, nil
}

func cacheKey(relation, id string) string {
	return fmt.Sprintf("relay:%s:%s", relation, id)
}
