package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// TokenCache stores tokens until shortly before they expire.
type TokenCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, key string) (*oauth2.Token, error)
	Set(ctx context.Context, key string, tok *oauth2.Token, ttl time.Duration) error
}

// CachedSource serves tokens from a TokenCache and falls back to the wrapped
// source on a miss. Cache errors are logged, never returned.
type CachedSource struct {
	src    TokenSource
	cache  TokenCache
	key    string
	leeway time.Duration
	now    func() time.Time
	log    logrus.FieldLogger
}

func NewCachedSource(src TokenSource, cache TokenCache, key string, log logrus.FieldLogger) *CachedSource {
	return &CachedSource{
		src:    src,
		cache:  cache,
		key:    key,
		leeway: time.Minute,
		now:    time.Now,
		log:    log,
	}
}

func (c *CachedSource) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	tok, err := c.cache.Get(ctx, c.key)
	if err != nil {
		c.log.WithError(err).WithField("key", c.key).Warn("[credential] token cache read failed")
	}
	if tok != nil && tok.Expiry.After(c.now().Add(c.leeway)) {
		return tok, nil
	}

	tok, err = c.src.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	if tok.Expiry.IsZero() {
		return tok, nil
	}
	ttl := tok.Expiry.Sub(c.now()) - c.leeway
	if ttl <= 0 {
		return tok, nil
	}
	if err := c.cache.Set(ctx, c.key, tok, ttl); err != nil {
		c.log.WithError(err).WithField("key", c.key).Warn("[credential] token cache write failed")
	}
	return tok, nil
}

// CacheKey is the cache key for a service account's tokens.
func CacheKey(sa *ServiceAccount) string {
	return "itinerary:oauth-token:" + sa.ClientEmail
}

type RedisTokenCache struct {
	rdb *redis.Client
}

func NewRedisTokenCache(rdb *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{rdb: rdb}
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (*oauth2.Token, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	return &tok, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, key string, tok *oauth2.Token, ttl time.Duration) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}
