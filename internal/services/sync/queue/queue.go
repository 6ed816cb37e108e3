// Package queue records mutations made while the farm server is unreachable
// and replays them once it is back.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/logging"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/domain"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/storage"
)

// DefaultMaxRetries is the retry ceiling: an action failing more often is
// dropped.
const DefaultMaxRetries = 3

const drainKey = "drain"

// Config wires a Queue.
type Config struct {
	Store   storage.RecordStore
	Applier Applier
	// Attempts records every replay outcome when set.
	Attempts   storage.AttemptStore
	MaxRetries int
	Logger     *zap.Logger
	Now        func() time.Time
	NewID      func() string
}

// Result summarizes one drain pass.
type Result struct {
	Applied   int `json:"applied"`
	Retried   int `json:"retried"`
	Dropped   int `json:"dropped"`
	Remaining int `json:"remaining"`
}

// Queue is the persisted offline action queue. It is safe for concurrent
// use; overlapping drains share a single pass.
type Queue struct {
	mu    sync.Mutex
	items []domain.QueuedAction

	store      storage.RecordStore
	applier    Applier
	attempts   storage.AttemptStore
	maxRetries int
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
	drains     singleflight.Group
}

// New loads the persisted queue. A corrupt queue document is discarded
// with a warning.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, errors.New("queue store is required")
	}
	if cfg.Applier == nil {
		return nil, errors.New("queue applier is required")
	}
	q := &Queue{
		store:      cfg.Store,
		applier:    cfg.Applier,
		attempts:   cfg.Attempts,
		maxRetries: cfg.MaxRetries,
		logger:     logging.OrNop(cfg.Logger),
		now:        cfg.Now,
		newID:      cfg.NewID,
	}
	if q.maxRetries <= 0 {
		q.maxRetries = DefaultMaxRetries
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.newID == nil {
		q.newID = uuid.NewString
	}

	data, found, err := cfg.Store.GetRecord(ctx, storage.QueueRecord)
	if err != nil {
		return nil, fmt.Errorf("load offline queue: %w", err)
	}
	if found {
		if err := json.Unmarshal(data, &q.items); err != nil {
			q.logger.Warn("discarding corrupt offline queue", zap.Error(err))
			q.items = nil
		}
	}
	return q, nil
}

// Enqueue validates and appends an action, persisting the queue before it
// returns. Payloads are not deduplicated.
func (q *Queue) Enqueue(ctx context.Context, action domain.Action, payload domain.Record) (domain.QueuedAction, error) {
	if !action.Valid() {
		return domain.QueuedAction{}, fmt.Errorf("%w: %q", domain.ErrUnknownAction, action)
	}
	if err := domain.ValidatePayload(payload); err != nil {
		return domain.QueuedAction{}, err
	}
	item := domain.QueuedAction{
		ID:         q.newID(),
		Action:     action,
		Payload:    payload.Clone(),
		EnqueuedAt: q.now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	next := append(cloneItems(q.items), item)
	if err := q.persist(ctx, next); err != nil {
		return domain.QueuedAction{}, err
	}
	q.items = next
	q.logger.Debug("queued offline action",
		zap.String("id", item.ID),
		zap.String("action", string(item.Action)),
	)
	return item.Clone(), nil
}

// Pending returns a snapshot of the queue in enqueue order.
func (q *Queue) Pending() []domain.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneItems(q.items)
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain replays every queued action once. A drain requested while another
// is running joins it and receives the same result.
func (q *Queue) Drain(ctx context.Context) (Result, error) {
	v, err, _ := q.drains.Do(drainKey, func() (any, error) {
		return q.drain(ctx)
	})
	result, _ := v.(Result)
	return result, err
}

type outcome struct {
	outcome    string
	retryCount int
}

func (q *Queue) drain(ctx context.Context) (Result, error) {
	snapshot := q.Pending()
	if len(snapshot) == 0 {
		return Result{}, nil
	}

	var result Result
	outcomes := make(map[string]outcome, len(snapshot))
	for _, item := range snapshot {
		if ctx.Err() != nil {
			break
		}
		err := q.applier.Apply(ctx, item.Clone())
		out := q.classify(item, err)
		outcomes[item.ID] = out
		switch out.outcome {
		case storage.OutcomeApplied:
			result.Applied++
		case storage.OutcomeRetry:
			result.Retried++
		case storage.OutcomeDropped:
			result.Dropped++
		}
		q.recordAttempt(ctx, item, out, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	next := make([]domain.QueuedAction, 0, len(q.items))
	for _, item := range q.items {
		out, seen := outcomes[item.ID]
		switch {
		case !seen:
			next = append(next, item)
		case out.outcome == storage.OutcomeRetry:
			item.RetryCount = out.retryCount
			next = append(next, item)
		}
	}
	q.items = next
	result.Remaining = len(next)
	if err := q.persist(ctx, next); err != nil {
		q.logger.Error("persist offline queue after drain", zap.Error(err))
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("drain offline queue: %w", err)
	}
	return result, nil
}

func (q *Queue) classify(item domain.QueuedAction, err error) outcome {
	if err == nil {
		return outcome{outcome: storage.OutcomeApplied, retryCount: item.RetryCount}
	}
	if domain.IsPermanent(err) {
		q.logger.Warn("dropping offline action after permanent failure",
			zap.String("id", item.ID),
			zap.String("action", string(item.Action)),
			zap.Error(err),
		)
		return outcome{outcome: storage.OutcomeDropped, retryCount: item.RetryCount}
	}
	retries := item.RetryCount + 1
	if retries > q.maxRetries {
		q.logger.Warn("dropping offline action after retries exhausted",
			zap.String("id", item.ID),
			zap.String("action", string(item.Action)),
			zap.Int("retry_count", retries),
			zap.Error(err),
		)
		return outcome{outcome: storage.OutcomeDropped, retryCount: retries}
	}
	q.logger.Info("offline action failed, will retry",
		zap.String("id", item.ID),
		zap.String("action", string(item.Action)),
		zap.Int("retry_count", retries),
		zap.Error(err),
	)
	return outcome{outcome: storage.OutcomeRetry, retryCount: retries}
}

func (q *Queue) recordAttempt(ctx context.Context, item domain.QueuedAction, out outcome, cause error) {
	if q.attempts == nil {
		return
	}
	record := storage.AttemptRecord{
		ActionID:   item.ID,
		Action:     string(item.Action),
		Outcome:    out.outcome,
		RetryCount: out.retryCount,
		CreatedAt:  q.now().UTC(),
	}
	if cause != nil {
		record.LastError = cause.Error()
	}
	if err := q.attempts.RecordAttempt(context.WithoutCancel(ctx), record); err != nil {
		q.logger.Warn("record replay attempt", zap.String("id", item.ID), zap.Error(err))
	}
}

func (q *Queue) persist(ctx context.Context, items []domain.QueuedAction) error {
	if items == nil {
		items = []domain.QueuedAction{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode offline queue: %w", err)
	}
	if err := q.store.PutRecord(context.WithoutCancel(ctx), storage.QueueRecord, data); err != nil {
		return fmt.Errorf("persist offline queue: %w", err)
	}
	return nil
}

func cloneItems(items []domain.QueuedAction) []domain.QueuedAction {
	out := make([]domain.QueuedAction, len(items), len(items)+1)
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
