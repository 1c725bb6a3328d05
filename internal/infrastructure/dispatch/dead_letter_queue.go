package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/live-auction-backend/internal/domain/errors"
)

// FailedTask is a side effect that exhausted its attempts.
type FailedTask struct {
	ID        uuid.UUID `json:"id"`
	Effect    string    `json:"effect"`
	Subject   string    `json:"subject"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	FirstFail time.Time `json:"first_fail"`
	LastFail  time.Time `json:"last_fail"`

	task Task
}

// DeadLetterQueue keeps failed side effects in memory, bounded by maxSize.
// The oldest entry is evicted when the queue is full.
type DeadLetterQueue struct {
	logger  *zap.Logger
	maxSize int

	mu     sync.RWMutex
	failed map[uuid.UUID]*FailedTask

	totalAdded   int64
	totalRetried int64
	totalRemoved int64
}

func NewDeadLetterQueue(maxSize int, logger *zap.Logger) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{
		logger:  logger,
		maxSize: maxSize,
		failed:  make(map[uuid.UUID]*FailedTask),
	}
}

// Add records a failed task and returns its dead-letter id.
func (q *DeadLetterQueue) Add(_ context.Context, task Task, cause error, attempts int) uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.failed) >= q.maxSize {
		q.removeOldest()
	}

	now := time.Now()
	ft := &FailedTask{
		ID:        uuid.New(),
		Effect:    task.Effect,
		Subject:   task.Subject,
		Reason:    cause.Error(),
		Attempts:  attempts,
		FirstFail: now,
		LastFail:  now,
		task:      task,
	}
	q.failed[ft.ID] = ft
	q.totalAdded++

	q.logger.Warn("side effect moved to dead letter queue",
		zap.String("dead_letter_id", ft.ID.String()),
		zap.String("effect", task.Effect),
		zap.String("subject", task.Subject),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	return ft.ID
}

// List returns up to limit failed tasks, oldest failure first. A limit of
// zero or less returns all of them.
func (q *DeadLetterQueue) List(limit int) []FailedTask {
	q.mu.RLock()
	defer q.mu.RUnlock()

	all := make([]*FailedTask, 0, len(q.failed))
	for _, ft := range q.failed {
		all = append(all, ft)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastFail.Before(all[j].LastFail)
	})

	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	out := make([]FailedTask, len(all))
	for i, ft := range all {
		out[i] = *ft
	}
	return out
}

// Take removes the task for a retry and returns it.
func (q *DeadLetterQueue) Take(id uuid.UUID) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ft, ok := q.failed[id]
	if !ok {
		return Task{}, errors.NewNotFoundError("dead letter")
	}
	delete(q.failed, id)
	q.totalRetried++

	q.logger.Info("retrying side effect from dead letter queue",
		zap.String("dead_letter_id", id.String()),
		zap.String("effect", ft.Effect),
		zap.Int("attempts", ft.Attempts),
	)
	return ft.task, nil
}

// Remove discards a failed task.
func (q *DeadLetterQueue) Remove(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.failed[id]; !ok {
		return errors.NewNotFoundError("dead letter")
	}
	delete(q.failed, id)
	q.totalRemoved++
	return nil
}

// Len reports the current size.
func (q *DeadLetterQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.failed)
}

func (q *DeadLetterQueue) Stats() map[string]interface{} {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return map[string]interface{}{
		"current_size":  len(q.failed),
		"max_size":      q.maxSize,
		"total_added":   q.totalAdded,
		"total_retried": q.totalRetried,
		"total_removed": q.totalRemoved,
	}
}

// Cleanup drops entries whose first failure is older than maxAge.
func (q *DeadLetterQueue) Cleanup(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, ft := range q.failed {
		if ft.FirstFail.Before(cutoff) {
			delete(q.failed, id)
			removed++
		}
	}
	return removed
}

// removeOldest must be called with q.mu held.
func (q *DeadLetterQueue) removeOldest() {
	var oldestID uuid.UUID
	var oldest time.Time
	for id, ft := range q.failed {
		if oldest.IsZero() || ft.FirstFail.Before(oldest) {
			oldestID, oldest = id, ft.FirstFail
		}
	}
	if !oldest.IsZero() {
		delete(q.failed, oldestID)
		q.totalRemoved++
	}
}

func parseID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, errors.NewValidationError("INVALID_ID", "dead letter id must be a uuid")
	}
	return uid, nil
}
