// Package recovery detects unsynced stories left behind by a previous
// session and lets the user resume or discard them on startup.
package recovery

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/taleforge/offline-cache/models"
	"github.com/taleforge/offline-cache/store"
)

// Coordinator pushes a story's pending operations to the remote backend.
// Resume hands off to it and performs no network I/O itself.
type Coordinator interface {
	SyncStory(ctx context.Context, storyID string) error
}

// Manager owns the startup recovery flow.
type Manager struct {
	store *store.Store
	log   *zap.Logger
}

func NewManager(s *store.Store, log *zap.Logger) *Manager {
	return &Manager{store: s, log: log}
}

// Unsynced returns every story not yet confirmed on the remote backend,
// most recently updated first.
func (m *Manager) Unsynced(ctx context.Context) ([]models.Story, error) {
	stories, err := store.FindBy[models.Story](ctx, m.store, "is_synced", false)
	if err != nil {
		return nil, err
	}
	sort.Slice(stories, func(i, j int) bool {
		return stories[i].UpdatedAt.After(stories[j].UpdatedAt)
	})
	return stories, nil
}

// Offer returns the story to present to the user first, or nil when
// nothing needs recovering. Remaining unsynced stories stay pending for a
// subsequent check.
func (m *Manager) Offer(ctx context.Context) (*models.Story, error) {
	stories, err := m.Unsynced(ctx)
	if err != nil {
		return nil, err
	}
	if len(stories) == 0 {
		return nil, nil
	}
	return &stories[0], nil
}

// Resume replays the story's pending state through the coordinator.
func (m *Manager) Resume(ctx context.Context, storyID string, c Coordinator) error {
	story, err := store.Get[models.Story](ctx, m.store, storyID)
	if err != nil {
		return err
	}
	if story == nil {
		return fmt.Errorf("%w: story %s", store.ErrNotFound, storyID)
	}
	m.log.Info("resuming unsynced story", zap.String("story_id", storyID))
	return c.SyncStory(ctx, storyID)
}

// Discard cascades: the story, its segments, and every queue item
// referencing those ids are removed atomically.
func (m *Manager) Discard(ctx context.Context, storyID string) error {
	return m.store.Transaction(ctx, func(tx *store.Store) error {
		segments, err := store.FindBy[models.StorySegment](ctx, tx, "story_id", storyID)
		if err != nil {
			return err
		}

		recordIDs := make([]string, 0, len(segments)+1)
		recordIDs = append(recordIDs, storyID)
		for _, seg := range segments {
			recordIDs = append(recordIDs, seg.ID)
			if err := store.Delete[models.StorySegment](ctx, tx, seg.ID); err != nil {
				return err
			}
		}

		for _, rid := range recordIDs {
			items, err := store.FindBy[models.OperationQueueItem](ctx, tx, "record_id", rid)
			if err != nil {
				return err
			}
			for _, item := range items {
				if err := store.Delete[models.OperationQueueItem](ctx, tx, item.ID); err != nil {
					return err
				}
			}
		}

		if err := store.Delete[models.Story](ctx, tx, storyID); err != nil {
			return err
		}

		m.log.Info("discarded unsynced story",
			zap.String("story_id", storyID),
			zap.Int("segments", len(segments)))
		return nil
	})
}
