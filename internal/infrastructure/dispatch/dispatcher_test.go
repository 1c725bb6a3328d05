package dispatch

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/live-auction-backend/internal/domain/errors"
)

type countingRecorder struct {
	mu       sync.Mutex
	failures map[string]int
	overflow int
}

func (r *countingRecorder) RecordEffectFailure(_ context.Context, effect string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = make(map[string]int)
	}
	r.failures[effect]++
}

func (r *countingRecorder) RecordEffectOverflow(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overflow++
}

func (r *countingRecorder) SetDispatchQueue(int64) {}

func newTestDispatcher(t *testing.T, cfg Config, rec Recorder) *Dispatcher {
	t.Helper()
	d := New(cfg, NewDeadLetterQueue(10, zaptest.NewLogger(t)), zaptest.NewLogger(t), rec)
	d.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return d
}

func TestDispatcher_RunsTasks(t *testing.T) {
	d := newTestDispatcher(t, Config{Workers: 2, QueueSize: 4}, nil)

	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		d.Submit(context.Background(), Task{Effect: "count", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}})
	}
	d.Wait()

	assert.Equal(t, int32(20), ran.Load())
	assert.Zero(t, d.DeadLetters().Len())
}

func TestDispatcher_SubmitNeverBlocks(t *testing.T) {
	rec := &countingRecorder{}
	d := newTestDispatcher(t, Config{Workers: 1, QueueSize: 1}, rec)

	release := make(chan struct{})
	blocked := func(context.Context) error {
		<-release
		return nil
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Submit(context.Background(), Task{Effect: "slow", Run: blocked})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked on a full queue")
	}

	close(release)
	d.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Positive(t, rec.overflow)
}

func TestDispatcher_DetachesFromCallerCancellation(t *testing.T) {
	d := newTestDispatcher(t, Config{Workers: 1, QueueSize: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ctxErr error
	d.Submit(ctx, Task{Effect: "detached", Run: func(ctx context.Context) error {
		ctxErr = ctx.Err()
		return nil
	}})
	d.Wait()

	assert.NoError(t, ctxErr)
}

func TestDispatcher_RetriesThenDeadLetters(t *testing.T) {
	rec := &countingRecorder{}
	d := newTestDispatcher(t, Config{Workers: 1, QueueSize: 1, MaxAttempts: 3, Backoff: time.Millisecond}, rec)

	var calls atomic.Int32
	d.Submit(context.Background(), Task{Effect: "notify.got_it", Subject: "A1", Run: func(context.Context) error {
		calls.Add(1)
		return stderrors.New("smtp down")
	}})
	d.Wait()

	assert.Equal(t, int32(3), calls.Load())
	letters := d.DeadLetters().List(0)
	require.Len(t, letters, 1)
	assert.Equal(t, "notify.got_it", letters[0].Effect)
	assert.Equal(t, "A1", letters[0].Subject)
	assert.Equal(t, 3, letters[0].Attempts)
	assert.Equal(t, "smtp down", letters[0].Reason)

	rec.mu.Lock()
	assert.Equal(t, 1, rec.failures["notify.got_it"])
	rec.mu.Unlock()
}

func TestDispatcher_PermanentErrorsAreNotRetried(t *testing.T) {
	d := newTestDispatcher(t, Config{Workers: 1, MaxAttempts: 5, Backoff: time.Millisecond}, nil)

	var calls atomic.Int32
	d.Submit(context.Background(), Task{Effect: "score.win", Run: func(context.Context) error {
		calls.Add(1)
		return errors.NewValidationError("BAD", "bad input")
	}})
	d.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, d.DeadLetters().Len())
}

func TestDispatcher_ShutdownAbandonsBackoff(t *testing.T) {
	d := New(Config{Workers: 1, MaxAttempts: 3, Backoff: time.Hour}, nil, zaptest.NewLogger(t), nil)
	d.Start()

	var calls atomic.Int32
	d.Submit(context.Background(), Task{Effect: "notify.out_bid", Subject: "A1", Run: func(context.Context) error {
		calls.Add(1)
		return stderrors.New("smtp down")
	}})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool { return d.DeadLetters().Len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "no retry after the dispatcher gives up")
	assert.Equal(t, 1, d.DeadLetters().List(0)[0].Attempts)
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	d := newTestDispatcher(t, Config{Workers: 1, MaxAttempts: 1}, nil)

	d.Submit(context.Background(), Task{Effect: "boom", Run: func(context.Context) error {
		panic("nil map")
	}})
	d.Wait()

	letters := d.DeadLetters().List(0)
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0].Reason, "nil map")
}

func TestDispatcher_Redrive(t *testing.T) {
	d := newTestDispatcher(t, Config{Workers: 1, MaxAttempts: 1}, nil)

	var fail atomic.Bool
	fail.Store(true)
	var succeeded atomic.Bool
	d.Submit(context.Background(), Task{Effect: "flaky", Run: func(context.Context) error {
		if fail.Load() {
			return stderrors.New("down")
		}
		succeeded.Store(true)
		return nil
	}})
	d.Wait()

	letters := d.DeadLetters().List(0)
	require.Len(t, letters, 1)

	fail.Store(false)
	require.NoError(t, d.Redrive(context.Background(), letters[0].ID.String()))
	d.Wait()

	assert.True(t, succeeded.Load())
	assert.Zero(t, d.DeadLetters().Len())

	err := d.Redrive(context.Background(), letters[0].ID.String())
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	err = d.Redrive(context.Background(), "not-a-uuid")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestDeadLetterQueue_EvictsOldest(t *testing.T) {
	q := NewDeadLetterQueue(2, zaptest.NewLogger(t))

	first := q.Add(context.Background(), Task{Effect: "a"}, stderrors.New("x"), 1)
	time.Sleep(time.Millisecond)
	q.Add(context.Background(), Task{Effect: "b"}, stderrors.New("x"), 1)
	time.Sleep(time.Millisecond)
	q.Add(context.Background(), Task{Effect: "c"}, stderrors.New("x"), 1)

	assert.Equal(t, 2, q.Len())
	assert.Error(t, q.Remove(first))

	letters := q.List(1)
	require.Len(t, letters, 1)
	assert.Equal(t, "b", letters[0].Effect)

	assert.Equal(t, 2, q.Cleanup(0))
	assert.Zero(t, q.Len())
}
