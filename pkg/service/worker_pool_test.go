package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignatij/coachflow/pkg/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	t.Run("Runs every job and reports errors", func(t *testing.T) {
		var calls int32
		pool := service.NewWorkerPool(context.Background(), func(ctx context.Context, key string) error {
			atomic.AddInt32(&calls, 1)
			if key == "bad" {
				return errors.New("boom")
			}
			return nil
		}, newLogger(t))
		pool.Start(2)

		results := pool.Execute(context.Background(), []string{"a", "b", "bad", "c"})
		require.Len(t, results, 4)
		assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
		for _, res := range results {
			if res.Key == "bad" {
				assert.EqualError(t, res.Err, "boom")
			} else {
				assert.NoError(t, res.Err)
			}
		}
	})

	t.Run("Cancelled pool fails queued jobs", func(t *testing.T) {
		mainCtx, cancel := context.WithCancel(context.Background())
		cancel()
		pool := service.NewWorkerPool(mainCtx, func(ctx context.Context, key string) error {
			return nil
		}, newLogger(t))
		pool.Start(1)

		results := pool.Execute(context.Background(), []string{"a", "b"})
		require.Len(t, results, 2)
		for _, res := range results {
			assert.ErrorIs(t, res.Err, context.Canceled)
		}
	})

	t.Run("Jobs see their context", func(t *testing.T) {
		pool := service.NewWorkerPool(context.Background(), func(ctx context.Context, key string) error {
			_, hasDeadline := ctx.Deadline()
			if !hasDeadline {
				return errors.New("missing job timeout")
			}
			return nil
		}, newLogger(t))
		pool.Start(0)
		for _, res := range pool.Execute(context.Background(), []string{"a"}) {
			assert.NoError(t, res.Err)
		}
	})

	t.Run("Jobs see the caller deadline", func(t *testing.T) {
		callCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		pool := service.NewWorkerPool(context.Background(), func(ctx context.Context, key string) error {
			<-ctx.Done()
			return ctx.Err()
		}, newLogger(t))
		pool.Start(1)

		results := pool.Execute(callCtx, []string{"slow"})
		require.Len(t, results, 1)
		assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	})
}
