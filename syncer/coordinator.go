// Package syncer drains the operation queue against the remote backend
// when connectivity and auth allow, and marks local entities synced once
// their mutations are confirmed remotely.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/taleforge/offline-cache/models"
	"github.com/taleforge/offline-cache/queue"
	"github.com/taleforge/offline-cache/store"
)

// Coordinator replays pending operations in createdAt order. Failed items
// stay in the queue for manual retry; there is no backoff loop here.
type Coordinator struct {
	store   *store.Store
	queue   *queue.Queue
	remote  Remote
	session SessionSource
	log     *zap.Logger
}

// New builds a coordinator. session may be nil for a purely local setup
// (tests, dev against a trusted backend).
func New(s *store.Store, q *queue.Queue, r Remote, session SessionSource, log *zap.Logger) *Coordinator {
	return &Coordinator{store: s, queue: q, remote: r, session: session, log: log}
}

// ready reports whether an authenticated session exists for the drain.
func (c *Coordinator) ready(ctx context.Context) error {
	if c.session == nil {
		return nil
	}
	if _, err := c.session.UserID(ctx); err != nil {
		return fmt.Errorf("sync deferred, no session: %w", err)
	}
	return nil
}

// Drain replays every pending operation, oldest first. It returns the
// number applied; individual failures are recorded on their queue items
// and do not stop the drain.
func (c *Coordinator) Drain(ctx context.Context) (int, error) {
	if err := c.ready(ctx); err != nil {
		return 0, err
	}
	ops, err := c.queue.Pending(ctx)
	if err != nil {
		return 0, err
	}
	applied := 0
	for i := range ops {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if err := c.replay(ctx, &ops[i]); err == nil {
			applied++
		}
	}
	return applied, nil
}

// SyncStory replays the pending operations for one story and its
// segments, then pushes any still-unsynced local copies directly.
func (c *Coordinator) SyncStory(ctx context.Context, storyID string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}

	story, err := store.Get[models.Story](ctx, c.store, storyID)
	if err != nil {
		return err
	}
	if story == nil {
		return fmt.Errorf("%w: story %s", store.ErrNotFound, storyID)
	}
	segments, err := store.FindBy[models.StorySegment](ctx, c.store, "story_id", storyID)
	if err != nil {
		return err
	}

	ids := map[string]bool{storyID: true}
	for _, seg := range segments {
		ids[seg.ID] = true
	}

	ops, err := c.queue.Pending(ctx)
	if err != nil {
		return err
	}
	var replayErrs []error
	for i := range ops {
		if !ids[ops[i].RecordID] {
			continue
		}
		if err := c.replay(ctx, &ops[i]); err != nil {
			replayErrs = append(replayErrs, err)
		}
	}
	if len(replayErrs) > 0 {
		return errors.Join(replayErrs...)
	}

	// Reload: the replays above flipped sync flags.
	story, err = store.Get[models.Story](ctx, c.store, storyID)
	if err != nil || story == nil {
		return err
	}
	segments, err = store.FindBy[models.StorySegment](ctx, c.store, "story_id", storyID)
	if err != nil {
		return err
	}

	// Entities changed offline without a queued op are pushed as upserts.
	for i := range segments {
		if segments[i].IsSynced {
			continue
		}
		if err := c.push(ctx, "story_segments", segments[i].ID, &segments[i]); err != nil {
			return err
		}
	}
	if !story.IsSynced {
		if err := c.push(ctx, "stories", story.ID, story); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) replay(ctx context.Context, op *models.OperationQueueItem) error {
	if err := c.queue.MarkInProgress(ctx, op.ID); err != nil {
		if errors.Is(err, queue.ErrReplayInFlight) {
			c.log.Debug("skipping op, record already in flight", zap.String("id", op.ID))
			return err
		}
		return err
	}
	if err := c.remote.Apply(ctx, op); err != nil {
		if markErr := c.queue.MarkFailed(ctx, op.ID, err.Error()); markErr != nil {
			c.log.Error("could not record replay failure", zap.Error(markErr))
		}
		return err
	}
	if err := c.queue.MarkCompleted(ctx, op.ID); err != nil {
		return err
	}
	c.log.Debug("operation replayed",
		zap.String("id", op.ID),
		zap.String("table", op.TargetTable),
		zap.String("record_id", op.RecordID))
	return c.markSynced(ctx, op)
}

// push sends a synthetic insert for an unsynced entity and marks it
// synced locally on success.
func (c *Coordinator) push(ctx context.Context, table, recordID string, entity interface{}) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	op := &models.OperationQueueItem{
		OperationType: models.OperationInsert,
		TargetTable:   table,
		RecordID:      recordID,
		Payload:       payload,
	}
	if err := c.remote.Apply(ctx, op); err != nil {
		return err
	}
	return c.markSynced(ctx, op)
}

// markSynced flips the local sync flags after a confirmed replay.
// Segment-level status is authoritative; a story is only summarized as
// synced once every segment is and nothing else is pending for it.
func (c *Coordinator) markSynced(ctx context.Context, op *models.OperationQueueItem) error {
	switch op.TargetTable {
	case "story_segments":
		seg, err := store.Get[models.StorySegment](ctx, c.store, op.RecordID)
		if err != nil || seg == nil {
			return err
		}
		if !seg.IsSynced {
			seg.IsSynced = true
			if err := store.UpdateExisting(ctx, c.store, seg); err != nil {
				return err
			}
		}
		return c.summarizeStory(ctx, seg.StoryID)

	case "stories":
		return c.summarizeStory(ctx, op.RecordID)
	}
	return nil
}

func (c *Coordinator) summarizeStory(ctx context.Context, storyID string) error {
	story, err := store.Get[models.Story](ctx, c.store, storyID)
	if err != nil || story == nil {
		return err
	}
	segments, err := store.FindBy[models.StorySegment](ctx, c.store, "story_id", storyID)
	if err != nil {
		return err
	}
	ids := map[string]bool{storyID: true}
	for _, seg := range segments {
		if !seg.IsSynced {
			return nil
		}
		ids[seg.ID] = true
	}
	// Every retained queue item counts, whatever its status: a failed or
	// in-flight op referencing the story or a segment is unconfirmed work.
	// Completed items are deleted, so they never hold the story back.
	ops, err := store.All[models.OperationQueueItem](ctx, c.store)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if ids[op.RecordID] {
			return nil
		}
	}
	if !story.IsSynced {
		story.IsSynced = true
		return store.UpdateExisting(ctx, c.store, story)
	}
	return nil
}
