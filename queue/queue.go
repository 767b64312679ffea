// Package queue records intended remote mutations so they survive network
// or auth loss, and allows ordered replay later. There is no automatic
// backoff loop; retries of failed items are caller-triggered.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taleforge/offline-cache/models"
	"github.com/taleforge/offline-cache/store"
)

// ErrReplayInFlight is returned by MarkInProgress when another queue item
// for the same record id is already being replayed.
var ErrReplayInFlight = errors.New("replay already in progress for record")

// Queue persists pending mutations in the local store.
type Queue struct {
	store *store.Store
	log   *zap.Logger
	now   func() time.Time
}

func New(s *store.Store, log *zap.Logger) *Queue {
	return &Queue{
		store: s,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue appends a pending operation with a fresh id. The record id is
// the remote row the payload replays against and never changes across
// retries of the same logical mutation.
func (q *Queue) Enqueue(ctx context.Context, op models.OperationType, table, recordID string, payload json.RawMessage) (*models.OperationQueueItem, error) {
	item := &models.OperationQueueItem{
		ID:            uuid.NewString(),
		OperationType: op,
		TargetTable:   table,
		RecordID:      recordID,
		Payload:       payload,
		CreatedAt:     q.now(),
		RetryCount:    0,
		Status:        models.StatusPending,
	}
	if err := store.Add(ctx, q.store, item); err != nil {
		return nil, err
	}
	q.log.Debug("operation enqueued",
		zap.String("id", item.ID),
		zap.String("table", table),
		zap.String("record_id", recordID),
		zap.String("op", string(op)))
	return item, nil
}

// Get returns the queue item for id, or (nil, nil) when it is gone.
func (q *Queue) Get(ctx context.Context, id string) (*models.OperationQueueItem, error) {
	return store.Get[models.OperationQueueItem](ctx, q.store, id)
}

// Pending returns pending items oldest first, for fair replay.
func (q *Queue) Pending(ctx context.Context) ([]models.OperationQueueItem, error) {
	return q.byStatus(ctx, models.StatusPending)
}

// Failed returns failed items for display and manual retry.
func (q *Queue) Failed(ctx context.Context) ([]models.OperationQueueItem, error) {
	return q.byStatus(ctx, models.StatusFailed)
}

func (q *Queue) byStatus(ctx context.Context, status models.OperationStatus) ([]models.OperationQueueItem, error) {
	items, err := store.FindBy[models.OperationQueueItem](ctx, q.store, "status", string(status))
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// MarkInProgress transitions a pending item to in_progress. At most one
// item per record id may be in flight at a time.
func (q *Queue) MarkInProgress(ctx context.Context, id string) error {
	return q.store.Transaction(ctx, func(tx *store.Store) error {
		item, err := store.Get[models.OperationQueueItem](ctx, tx, id)
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		if item.Status != models.StatusPending {
			return fmt.Errorf("cannot replay operation %s in status %s", id, item.Status)
		}
		inFlight, err := store.FindBy[models.OperationQueueItem](ctx, tx, "record_id", item.RecordID)
		if err != nil {
			return err
		}
		for _, other := range inFlight {
			if other.Status == models.StatusInProgress && other.ID != id {
				return fmt.Errorf("%w: %s", ErrReplayInFlight, item.RecordID)
			}
		}
		item.Status = models.StatusInProgress
		return store.UpdateExisting(ctx, tx, item)
	})
}

// MarkCompleted deletes the item; the queue only tracks work still to be
// done or work that failed.
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	return store.Delete[models.OperationQueueItem](ctx, q.store, id)
}

// MarkFailed records the replay error on the item for later inspection.
func (q *Queue) MarkFailed(ctx context.Context, id string, replayErr string) error {
	item, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	item.Status = models.StatusFailed
	item.Error = replayErr
	if err := store.UpdateExisting(ctx, q.store, item); err != nil {
		return err
	}
	q.log.Warn("operation failed",
		zap.String("id", id),
		zap.String("record_id", item.RecordID),
		zap.String("error", replayErr))
	return nil
}

// Retry re-queues a failed item, incrementing its retry count. The item
// keeps its id and record id so a later replay stays idempotent.
func (q *Queue) Retry(ctx context.Context, id string) error {
	item, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if item.Status != models.StatusFailed {
		return fmt.Errorf("cannot retry operation %s in status %s", id, item.Status)
	}
	item.Status = models.StatusPending
	item.RetryCount++
	item.Error = ""
	return store.UpdateExisting(ctx, q.store, item)
}

// Dequeue removes an item explicitly, after successful replay or a
// user-initiated cancellation.
func (q *Queue) Dequeue(ctx context.Context, id string) error {
	return store.Delete[models.OperationQueueItem](ctx, q.store, id)
}

// ResetInFlight returns items stranded in_progress by a crash to pending.
// Run once at startup, before any replay.
func (q *Queue) ResetInFlight(ctx context.Context) (int, error) {
	items, err := q.byStatus(ctx, models.StatusInProgress)
	if err != nil {
		return 0, err
	}
	for i := range items {
		items[i].Status = models.StatusPending
		if err := store.UpdateExisting(ctx, q.store, &items[i]); err != nil {
			return i, err
		}
	}
	if len(items) > 0 {
		q.log.Warn("reset stranded in-flight operations", zap.Int("count", len(items)))
	}
	return len(items), nil
}
