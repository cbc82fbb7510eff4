package metadata

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// VersionStamp is a counter shared between engine processes. Writers bump it
// after committing metadata; readers reload when it moves.
type VersionStamp interface {
	Current(ctx context.Context) (int64, error)
	Bump(ctx context.Context) (int64, error)
}

type RedisVersionStamp struct {
	client redis.Cmdable
	key    string
}

func NewRedisVersionStamp(client redis.Cmdable, key string) *RedisVersionStamp {
	if key == "" {
		key = "eav:metadata:version"
	}
	return &RedisVersionStamp{
		client: client,
		key:    key,
	}
}

func (s *RedisVersionStamp) Current(ctx context.Context) (int64, error) {
	version, err := s.client.Get(ctx, s.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

func (s *RedisVersionStamp) Bump(ctx context.Context) (int64, error) {
	return s.client.Incr(ctx, s.key).Result()
}
