package inbox

import (
	"context"
	"errors"
	"time"

	xerrors "OpenMCP-Triage/internal/errors"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
	// Drain 为 true 时列表为空即返回，适合一次性批处理。
	Drain bool
}

// RedisQueue 使用 Redis list 实现查询队列，LPUSH 投递、BRPOP 消费。
type RedisQueue struct {
	client *redis.Client
	queue  string
	wait   time.Duration
	drain  bool
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis address 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "triage:queries"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return &RedisQueue{client: client, queue: queue, wait: wait, drain: cfg.Drain}, nil
}

// Publish 将查询投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, query string) error {
	if err := q.client.LPush(ctx, q.queue, query).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 投递查询失败")
	}
	return nil
}

// Consume 顺序消费 Redis 中的查询。
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		query, err := q.next(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if q.drain {
					return nil
				}
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取查询失败")
		}
		dispatch(ctx, "redis", handler, query)
	}
}

func (q *RedisQueue) next(ctx context.Context) (string, error) {
	if q.drain {
		return q.client.RPop(ctx, q.queue).Result()
	}
	values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
	if err != nil {
		return "", err
	}
	if len(values) != 2 {
		return "", redis.Nil
	}
	return values[1], nil
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
