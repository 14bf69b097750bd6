package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	p := New(Config{Name: "test", MaxWorkers: 3, QueueSize: 4})
	defer p.Stop(time.Second)

	var ran int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), Task{ID: "t", Fn: func(ctx context.Context) error {
			defer wg.Done()
			atomic.AddInt32(&ran, 1)
			return nil
		}})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, int32(20), atomic.LoadInt32(&ran))
	require.Eventually(t, func() bool {
		return p.Stats().CompletedTasks == 20
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_CountsFailuresAndPanics(t *testing.T) {
	p := New(Config{Name: "test", MaxWorkers: 1})
	defer p.Stop(time.Second)

	require.NoError(t, p.Submit(context.Background(), Task{ID: "fail", Fn: func(context.Context) error {
		return errors.New("boom")
	}}))
	require.NoError(t, p.Submit(context.Background(), Task{ID: "panic", Fn: func(context.Context) error {
		panic("boom")
	}}))

	require.Eventually(t, func() bool {
		return p.Stats().FailedTasks == 2
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	p := New(Config{Name: "test"})
	require.NoError(t, p.Stop(time.Second))

	err := p.Submit(context.Background(), Task{ID: "late", Fn: func(context.Context) error { return nil }})
	assert.Error(t, err)
	assert.Equal(t, uint64(1), p.Stats().RejectedTasks)
	assert.NoError(t, p.Stop(time.Second))
}

func TestWorkerPool_StopCancelsRunningTasks(t *testing.T) {
	p := New(Config{Name: "test", MaxWorkers: 1})

	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), Task{ID: "wait", Fn: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	assert.NoError(t, p.Stop(time.Second))
}
