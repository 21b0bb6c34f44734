package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FairForge/loadstorm/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	results []task.Result
}

func (s *recordingSink) Record(r task.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func TestEngine_SubmitRunsTaskAndRecordsResult(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{Concurrency: 2}, sink, nil)

	err := e.Submit(context.Background(), task.Func(func(ctx context.Context) (task.Result, error) {
		return task.Result{}, nil
	}), e.NextTaskID())
	require.NoError(t, err)

	require.NoError(t, e.AwaitDrain(context.Background()))
	assert.Equal(t, 1, sink.count())
}

func TestEngine_NeverExceedsConcurrencyLimit(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{Concurrency: 3}, sink, nil)

	var inFlight atomic.Int64
	var maxSeen atomic.Int64
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Submit(context.Background(), task.Func(func(ctx context.Context) (task.Result, error) {
				n := inFlight.Add(1)
				for {
					old := maxSeen.Load()
					if n <= old || maxSeen.CompareAndSwap(old, n) {
						break
					}
				}
				<-release
				inFlight.Add(-1)
				return task.Result{}, nil
			}), e.NextTaskID())
		}()
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, int64(3), maxSeen.Load())
	close(release)
	wg.Wait()
	require.NoError(t, e.AwaitDrain(context.Background()))
	assert.Equal(t, int64(3), maxSeen.Load())
}

func TestEngine_ResizeIncreasesThroughput(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{Concurrency: 1}, sink, nil)

	block := make(chan struct{})
	go func() {
		_ = e.Submit(context.Background(), task.Func(func(ctx context.Context) (task.Result, error) {
			<-block
			return task.Result{}, nil
		}), e.NextTaskID())
	}()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, e.InFlight())

	submitted := make(chan struct{})
	go func() {
		_ = e.Submit(context.Background(), task.Func(func(ctx context.Context) (task.Result, error) {
			return task.Result{}, nil
		}), e.NextTaskID())
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("second submit should have blocked at concurrency 1")
	case <-time.After(20 * time.Millisecond):
	}

	e.Resize(2)
	select {
	case <-submitted:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("resize did not unblock a waiting submit")
	}

	close(block)
	require.NoError(t, e.AwaitDrain(context.Background()))
}

func TestEngine_SubmitRespectsContextCancellation(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{Concurrency: 1}, sink, nil)

	block := make(chan struct{})
	go func() {
		_ = e.Submit(context.Background(), task.Func(func(ctx context.Context) (task.Result, error) {
			<-block
			return task.Result{}, nil
		}), e.NextTaskID())
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Submit(ctx, task.Func(func(ctx context.Context) (task.Result, error) {
		return task.Result{}, nil
	}), e.NextTaskID())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	require.NoError(t, e.AwaitDrain(context.Background()))
}

func TestEngine_TrySubmitFailsAtCapacity(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{Concurrency: 1}, sink, nil)

	block := make(chan struct{})
	ok := e.TrySubmit(context.Background(), task.Func(func(ctx context.Context) (task.Result, error) {
		<-block
		return task.Result{}, nil
	}), e.NextTaskID())
	require.True(t, ok)

	ok = e.TrySubmit(context.Background(), task.Func(func(ctx context.Context) (task.Result, error) {
		return task.Result{}, nil
	}), e.NextTaskID())
	assert.False(t, ok)

	close(block)
	require.NoError(t, e.AwaitDrain(context.Background()))
}

func TestEngine_TaskErrorBecomesFailureResult(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{Concurrency: 1}, sink, nil)

	boom := errors.New("boom")
	err := e.Submit(context.Background(), task.Func(func(ctx context.Context) (task.Result, error) {
		return task.Result{}, boom
	}), 7)
	require.NoError(t, err)
	require.NoError(t, e.AwaitDrain(context.Background()))

	require.Equal(t, 1, sink.count())
	got := sink.results[0]
	assert.False(t, got.Success)
	assert.Equal(t, uint64(7), got.TaskID)
	assert.Equal(t, "boom", got.ErrorClass)
}

func TestEngine_SubmittedAndCompletedCounters(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{Concurrency: 4}, sink, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, e.Submit(context.Background(), task.Func(func(ctx context.Context) (task.Result, error) {
			return task.Result{}, nil
		}), e.NextTaskID()))
	}
	require.NoError(t, e.AwaitDrain(context.Background()))

	assert.Equal(t, int64(10), e.Submitted())
	assert.Equal(t, int64(10), e.Completed())
	assert.Equal(t, 0, e.InFlight())
}

func TestEngine_CloseRejectsNewSubmissionsButLetsRunningFinish(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{Concurrency: 2}, sink, nil)

	block := make(chan struct{})
	require.NoError(t, e.Submit(context.Background(), task.Func(func(ctx context.Context) (task.Result, error) {
		<-block
		return task.Result{}, nil
	}), 1))

	e.Close()
	err := e.Submit(context.Background(), task.Func(func(ctx context.Context) (task.Result, error) {
		return task.Result{}, nil
	}), 2)
	assert.Error(t, err)

	close(block)
	require.NoError(t, e.AwaitDrain(context.Background()))
	assert.Equal(t, 1, sink.count())
}
