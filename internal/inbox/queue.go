// Package inbox 提供顺序消费的查询队列，支持内存、Redis 与 RabbitMQ。
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"OpenMCP-Triage/internal/config"
	xerrors "OpenMCP-Triage/internal/errors"
	"OpenMCP-Triage/internal/observability/metrics"
	"OpenMCP-Triage/pkg/logger"
)

// Handler 处理一条查询。返回的错误只会被记录，消息不会重新投递。
type Handler func(ctx context.Context, query string) error

// Queue 同时具备投递与顺序消费能力。
type Queue interface {
	Publish(ctx context.Context, query string) error
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// New 根据配置创建队列。driver 为空或 none 时返回 nil。
func New(cfg config.InboxConfig) (Queue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryQueue(0), nil
	case "redis":
		q, err := NewRedisQueue(RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
			Drain:     cfg.Redis.Drain,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	case "rabbitmq":
		q, err := NewRabbitMQQueue(RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.RabbitMQ.Queue,
			Durable: cfg.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的队列类型: %s", cfg.Driver))
	}
}

// dispatch 调用 handler 并记录结果，空查询直接跳过。
func dispatch(ctx context.Context, driver string, handler Handler, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}
	err := handler(ctx, query)
	metrics.ObserveInboxMessage(driver, err)
	if err != nil {
		attrs := append([]any{
			slog.String("driver", driver),
			slog.String("query", query),
			slog.Any("error", err),
		}, xerrors.LogAttrs(err)...)
		logger.Named("inbox").Log(ctx, xerrors.LogLevel(err), "查询处理失败，消息已丢弃", attrs...)
	}
}
