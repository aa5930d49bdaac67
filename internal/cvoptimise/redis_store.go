package cvoptimise

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const fingerprintKeyPrefix = "cvoptimise:fingerprint:"

// RedisStore shares fingerprints between instances. Entries expire after
// twice the cooldown, never sooner than a day.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, cooldown time.Duration) *RedisStore {
	ttl := 2 * cooldown
	if ttl < 24*time.Hour {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// NewRedisClient parses redisURL and pings the server.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping")
	}
	return rdb, nil
}

func (s *RedisStore) Get(ctx context.Context, userID string) (Fingerprint, bool, error) {
	var f Fingerprint
	raw, err := s.rdb.Get(ctx, fingerprintKeyPrefix+userID).Bytes()
	if err == redis.Nil {
		return f, false, nil
	}
	if err != nil {
		return f, false, errors.Wrap(err, "get fingerprint")
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, false, errors.Wrap(err, "decode fingerprint")
	}
	return f, true, nil
}

func (s *RedisStore) Put(ctx context.Context, userID string, f Fingerprint) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "encode fingerprint")
	}
	return errors.Wrap(s.rdb.Set(ctx, fingerprintKeyPrefix+userID, raw, s.ttl).Err(), "set fingerprint")
}
