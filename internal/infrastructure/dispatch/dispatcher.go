// Package dispatch runs side effects off the caller's path on a bounded
// worker pool. Failed effects are retried and then parked in a dead-letter
// queue; they are never reported back to the submitter.
package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/live-auction-backend/internal/domain/errors"
)

// Task is one side effect.
type Task struct {
	// Effect names the kind of work, e.g. "notify.out_bid".
	Effect string
	// Subject is the entity the effect is about, usually an auction id.
	Subject string
	Run     func(ctx context.Context) error
}

// Recorder receives dispatcher metrics.
type Recorder interface {
	RecordEffectFailure(ctx context.Context, effect string)
	RecordEffectOverflow(ctx context.Context)
	SetDispatchQueue(n int64)
}

type Config struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

type Dispatcher struct {
	cfg      Config
	queue    chan queued
	dlq      *DeadLetterQueue
	logger   *zap.Logger
	recorder Recorder

	mu       sync.RWMutex
	closed   bool
	workers  sync.WaitGroup
	inflight sync.WaitGroup

	abandoned chan struct{}
	abandon   sync.Once
}

type queued struct {
	ctx  context.Context
	task Task
}

// New creates a dispatcher. recorder may be nil. Call Start before Submit
// for queued execution; tasks submitted earlier run on overflow goroutines.
func New(cfg Config, dlq *DeadLetterQueue, logger *zap.Logger, recorder Recorder) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if dlq == nil {
		dlq = NewDeadLetterQueue(0, logger)
	}
	return &Dispatcher{
		cfg:      cfg,
		queue:    make(chan queued, cfg.QueueSize),
		dlq:      dlq,
		logger:   logger,
		recorder: recorder,

		abandoned: make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.workers.Add(1)
		go d.worker()
	}
}

func (d *Dispatcher) worker() {
	defer d.workers.Done()
	for q := range d.queue {
		d.reportQueue()
		d.execute(q.ctx, q.task)
	}
}

// Submit schedules task and never blocks. The task runs on a context
// detached from ctx's cancellation so that work committed by the caller
// completes even when the caller goes away.
func (d *Dispatcher) Submit(ctx context.Context, task Task) {
	ctx = context.WithoutCancel(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()

	d.inflight.Add(1)
	if !d.closed {
		select {
		case d.queue <- queued{ctx: ctx, task: task}:
			d.reportQueue()
			return
		default:
		}
	}

	if d.recorder != nil {
		d.recorder.RecordEffectOverflow(ctx)
	}
	go d.execute(ctx, task)
}

// Redrive takes a dead-lettered task and submits it again.
func (d *Dispatcher) Redrive(ctx context.Context, id string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	task, err := d.dlq.Take(uid)
	if err != nil {
		return err
	}
	d.Submit(ctx, task)
	return nil
}

// Discard drops a dead-lettered task without running it.
func (d *Dispatcher) Discard(id string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	return d.dlq.Remove(uid)
}

// DeadLetters exposes the dead-letter queue.
func (d *Dispatcher) DeadLetters() *DeadLetterQueue {
	return d.dlq
}

// Wait blocks until every submitted task has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Shutdown stops accepting queued work and waits for in-flight tasks until
// ctx is done. Tasks still waiting to retry at that point stop retrying and
// are dead-lettered.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.abandon.Do(func() { close(d.abandoned) })
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

func (d *Dispatcher) execute(ctx context.Context, task Task) {
	defer d.inflight.Done()

	var err error
	attempts := 0
	for attempts < d.cfg.MaxAttempts {
		attempts++
		err = d.runOnce(ctx, task)
		if err == nil {
			return
		}
		if permanent(err) || attempts == d.cfg.MaxAttempts {
			break
		}
		if !d.backoff(ctx, d.cfg.Backoff*time.Duration(attempts)) {
			break
		}
	}

	d.logger.Error("side effect failed",
		zap.String("effect", task.Effect),
		zap.String("subject", task.Subject),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	if d.recorder != nil {
		d.recorder.RecordEffectFailure(ctx, task.Effect)
	}
	d.dlq.Add(ctx, task, err, attempts)
}

func (d *Dispatcher) runOnce(ctx context.Context, task Task) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternalError(fmt.Sprintf("panic in %s: %v", task.Effect, r))
		}
	}()
	return task.Run(ctx)
}

func (d *Dispatcher) reportQueue() {
	if d.recorder != nil {
		d.recorder.SetDispatchQueue(int64(len(d.queue)))
	}
}

// permanent reports errors that will not succeed on a retry.
func permanent(err error) bool {
	var appErr *errors.AppError
	return stderrors.As(err, &appErr) && !appErr.Retryable
}

// backoff waits before the next attempt. It reports false when ctx ends or
// the dispatcher abandons in-flight work first.
func (d *Dispatcher) backoff(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-d.abandoned:
		return false
	case <-timer.C:
		return true
	}
}
