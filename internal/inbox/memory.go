package inbox

import (
	"context"
	"sync"

	xerrors "OpenMCP-Triage/internal/errors"
)

// MemoryQueue 使用 channel 保存查询，关闭并消费完毕后 Consume 返回。
type MemoryQueue struct {
	ch     chan string
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

// Publish 将查询投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, query string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- query:
		return nil
	}
}

// Consume 逐条处理查询，直到队列关闭且为空或上下文取消。
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case query, ok := <-q.ch:
			if !ok {
				return nil
			}
			dispatch(ctx, "memory", handler, query)
		}
	}
}

// Close 关闭内存队列，已投递的查询仍会被消费。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}
