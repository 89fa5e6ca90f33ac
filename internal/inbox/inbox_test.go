package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"OpenMCP-Triage/internal/config"
	xerrors "OpenMCP-Triage/internal/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueSequentialDrain(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	for _, query := range []string{"first", "  ", "second", "third"} {
		require.NoError(t, q.Publish(ctx, query))
	}
	require.NoError(t, q.Close())

	var got []string
	err := q.Consume(ctx, func(_ context.Context, query string) error {
		got = append(got, query)
		if query == "second" {
			return errors.New("handler failed")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, got)

	assert.True(t, xerrors.IsCode(q.Publish(ctx, "late"), xerrors.CodeQueueFailure))
}

func TestMemoryQueueStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Consume(ctx, func(context.Context, string) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisQueueDrainsInPublishOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	q, err := NewRedisQueue(RedisConfig{Address: mr.Addr(), Queue: "test:queries", Drain: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	ctx := context.Background()
	for _, query := range []string{"Hola, ¿cómo estás?", "What's the secret word?"} {
		require.NoError(t, q.Publish(ctx, query))
	}

	var got []string
	require.NoError(t, q.Consume(ctx, func(_ context.Context, query string) error {
		got = append(got, query)
		return errors.New("not requeued")
	}))
	assert.Equal(t, []string{"Hola, ¿cómo estás?", "What's the secret word?"}, got)

	length, err := mr.List("test:queries")
	if err == nil {
		assert.Empty(t, length)
	}
}

func TestRedisQueueRequiresAddress(t *testing.T) {
	_, err := NewRedisQueue(RedisConfig{})
	assert.True(t, xerrors.IsCode(err, xerrors.CodeInitializationFailure))
}

func TestNewFromConfig(t *testing.T) {
	q, err := New(config.InboxConfig{})
	require.NoError(t, err)
	assert.Nil(t, q)

	q, err = New(config.InboxConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	_, err = New(config.InboxConfig{Driver: "kafka"})
	assert.True(t, xerrors.IsCode(err, xerrors.CodeInvalidArgument))
}
