package rewardqueue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/common/errs"
	"github.com/redis/go-redis/v9"
)

var _ Queue = (*Redis)(nil)

const DefaultRedisKey = "soknode:reward_queue"

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// Redis keeps the queue in a Redis list (LPUSH to enqueue, BRPOP to dequeue).
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, errors.Wrap(errs.InvalidArgument, "redis address is required")
	}
	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "can't connect to redis %q", cfg.Address)
	}
	return &Redis{client: client, key: key}, nil
}

func (q *Redis) Enqueue(ctx context.Context, address string) error {
	if err := q.client.LPush(ctx, q.key, address).Err(); err != nil {
		return errors.Wrap(err, "redis lpush")
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context, timeout time.Duration) (string, bool, error) {
	values, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "redis brpop")
	}
	// BRPOP answers [key, value].
	if len(values) != 2 {
		return "", false, nil
	}
	return values[1], true, nil
}

func (q *Redis) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis llen")
	}
	return int(n), nil
}

func (q *Redis) Close() error {
	return errors.WithStack(q.client.Close())
}
