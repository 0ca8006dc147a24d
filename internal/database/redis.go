package database

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var Client *redis.Client

func InitRedisCli(url string) (*redis.Client, error) {
	if Client != nil {
		return Client, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	cli := redis.NewClient(opts)

	Client = cli

	return cli, nil
}

var ErrLockHeld = errors.New("lock is held by another worker")

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLocker serialises work on a key across processes. Each lock carries a
// token so that only its holder can release it.
type RedisLocker struct {
	cli     *redis.Client
	prefix  string
	ttl     time.Duration
	release *redis.Script
}

func NewRedisLocker(cli *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		cli:     cli,
		prefix:  prefix,
		ttl:     ttl,
		release: redis.NewScript(releaseScript),
	}
}

// Lock tries to take the key until ctx is done, polling every 50ms.
func (l *RedisLocker) Lock(ctx context.Context, key, token string) error {
	k := l.prefix + key
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := l.cli.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrLockHeld
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := l.release.Run(ctx, l.cli, []string{l.prefix + key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Error("Failed to release lock ", key, ": ", err)
		return err
	}
	return nil
}
