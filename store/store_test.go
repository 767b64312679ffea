package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taleforge/offline-cache/database"
	"github.com/taleforge/offline-cache/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(":memory:", zap.NewNop())
	require.NoError(t, err, "Failed to open in-memory store")
	t.Cleanup(func() { database.Close(db) })
	return New(db, zap.NewNop())
}

func testStory(id string) *models.Story {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Story{
		ID:          id,
		UserID:      "user-1",
		Title:       "The Brave Little Fox",
		Description: "A fox learns to be brave",
		StoryMode:   "adventure",
		TargetAge:   "4-6",
		IsCompleted: false,
		IsSynced:    false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestAddAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	story := testStory("story-1")
	require.NoError(t, Add(ctx, s, story))

	got, err := Get[models.Story](ctx, s, "story-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, story.ID, got.ID)
	assert.Equal(t, story.Title, got.Title)
	assert.Equal(t, story.StoryMode, got.StoryMode)
	assert.Equal(t, story.TargetAge, got.TargetAge)
	assert.False(t, got.IsSynced)
	assert.True(t, story.UpdatedAt.Equal(got.UpdatedAt))
}

func TestAddDuplicateKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Add(ctx, s, testStory("story-1")))

	err := Add(ctx, s, testStory("story-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := Get[models.Story](context.Background(), s, "nonexistent")
	require.NoError(t, err, "a missing key must not be an error")
	assert.Nil(t, got)
}

func TestUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	story := testStory("story-1")
	require.NoError(t, Upsert(ctx, s, story))
	require.NoError(t, Upsert(ctx, s, story))

	got, err := Get[models.Story](ctx, s, "story-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, story.Title, got.Title)
	assert.True(t, story.UpdatedAt.Equal(got.UpdatedAt))

	all, err := All[models.Story](ctx, s)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertOnMissingIDCreates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Upsert(ctx, s, testStory("fresh")))

	got, err := Get[models.Story](ctx, s, "fresh")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestUpdateExistingNotFound(t *testing.T) {
	s := newTestStore(t)

	err := UpdateExisting(context.Background(), s, testStory("ghost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateExistingOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	story := testStory("story-1")
	require.NoError(t, Add(ctx, s, story))

	story.Title = "The Braver Little Fox"
	story.IsCompleted = true
	require.NoError(t, UpdateExisting(ctx, s, story))

	got, err := Get[models.Story](ctx, s, "story-1")
	require.NoError(t, err)
	assert.Equal(t, "The Braver Little Fox", got.Title)
	assert.True(t, got.IsCompleted)
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Delete[models.Story](ctx, s, "never-existed"))

	require.NoError(t, Add(ctx, s, testStory("story-1")))
	require.NoError(t, Delete[models.Story](ctx, s, "story-1"))

	got, err := Get[models.Story](ctx, s, "story-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, Delete[models.Story](ctx, s, "story-1"))
}

func TestFindByUnsyncedStories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	synced := testStory("synced-1")
	synced.IsSynced = true
	require.NoError(t, Add(ctx, s, synced))

	require.NoError(t, Add(ctx, s, testStory("unsynced-1")))
	require.NoError(t, Add(ctx, s, testStory("unsynced-2")))

	unsynced, err := FindBy[models.Story](ctx, s, "is_synced", false)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, st := range unsynced {
		ids[st.ID] = true
	}
	assert.Equal(t, map[string]bool{"unsynced-1": true, "unsynced-2": true}, ids)
}

func TestFindBySegmentsOfStory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seg1 := &models.StorySegment{
		ID:             "seg-1",
		StoryID:        "story-1",
		SequenceNumber: 1,
		SegmentText:    "Once upon a time...",
		Choices:        models.StringList{"go left", "go right"},
	}
	seg2 := &models.StorySegment{ID: "seg-2", StoryID: "story-1", SequenceNumber: 2}
	other := &models.StorySegment{ID: "seg-3", StoryID: "story-2", SequenceNumber: 1}
	require.NoError(t, Add(ctx, s, seg1))
	require.NoError(t, Add(ctx, s, seg2))
	require.NoError(t, Add(ctx, s, other))

	segs, err := FindBy[models.StorySegment](ctx, s, "story_id", "story-1")
	require.NoError(t, err)
	assert.Len(t, segs, 2)

	got, err := Get[models.StorySegment](ctx, s, "seg-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StringList{"go left", "go right"}, got.Choices)
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Add(ctx, s, testStory("story-1")))
	require.NoError(t, Add(ctx, s, testStory("story-2")))

	require.NoError(t, Clear[models.Story](ctx, s))

	all, err := All[models.Story](ctx, s)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTransactionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(tx *Store) error {
		if err := Add(ctx, tx, testStory("story-1")); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	got, err := Get[models.Story](ctx, s, "story-1")
	require.NoError(t, err)
	assert.Nil(t, got, "rolled-back insert must not be visible")
}
