package revocation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps revoked ids under "<prefix>revoked:<jti>" with a TTL matching the
// token's remaining lifetime, and subject epochs under "<prefix>epoch:<sub>".
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed Store. Prefix may be empty.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "auth:"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisStore) revokedKey(jti string) string { return r.prefix + "revoked:" + jti }
func (r *RedisStore) epochKey(sub string) string   { return r.prefix + "epoch:" + sub }

func (r *RedisStore) Revoke(ctx context.Context, jti string, until time.Time) error {
	if jti == "" {
		return nil
	}
	var ttl time.Duration
	if !until.IsZero() {
		ttl = until.Sub(r.now())
		if ttl <= 0 {
			// already past its own expiry, nothing to remember
			return nil
		}
	}
	return r.client.Set(ctx, r.revokedKey(jti), "1", ttl).Err()
}

func (r *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisStore) Epoch(ctx context.Context, sub string) (int64, error) {
	v, err := r.client.Get(ctx, r.epochKey(sub)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (r *RedisStore) BumpEpoch(ctx context.Context, sub string) (int64, error) {
	return r.client.Incr(ctx, r.epochKey(sub)).Result()
}
