package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taleforge/offline-cache/database"
	"github.com/taleforge/offline-cache/middleware"
	"github.com/taleforge/offline-cache/models"
	"github.com/taleforge/offline-cache/queue"
	"github.com/taleforge/offline-cache/recovery"
	"github.com/taleforge/offline-cache/store"
)

type fakeSyncer struct {
	drained int
	stories []string
	err     error
}

func (f *fakeSyncer) Drain(ctx context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.drained++
	return 0, nil
}

func (f *fakeSyncer) SyncStory(ctx context.Context, storyID string) error {
	if f.err != nil {
		return f.err
	}
	f.stories = append(f.stories, storyID)
	return nil
}

func newTestApp(t *testing.T, sync Syncer) (*fiber.App, *Handler) {
	t.Helper()
	db, err := database.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	s := store.New(db, zap.NewNop())
	h := &Handler{
		Store:    s,
		Queue:    queue.New(s, zap.NewNop()),
		Recovery: recovery.NewManager(s, zap.NewNop()),
		Sync:     sync,
		Log:      zap.NewNop(),
	}
	app := fiber.New()
	h.Register(app, middleware.LocalUser("user-1"))
	return app, h
}

func doJSON(t *testing.T, app *fiber.App, method, target string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestCreateStoryQueuesInsert(t *testing.T) {
	app, h := newTestApp(t, nil)

	resp := doJSON(t, app, http.MethodPost, "/api/stories", fiber.Map{
		"title":      "The Brave Little Fox",
		"story_mode": "adventure",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created models.Story
	decode(t, resp, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "user-1", created.UserID)
	assert.False(t, created.IsSynced)

	pending, err := h.Queue.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OperationInsert, pending[0].OperationType)
	assert.Equal(t, "stories", pending[0].TargetTable)
	assert.Equal(t, created.ID, pending[0].RecordID)
}

func TestCreateStoryDuplicate(t *testing.T) {
	app, _ := newTestApp(t, nil)

	body := fiber.Map{"id": "story-1", "title": "A Tale"}
	resp := doJSON(t, app, http.MethodPost, "/api/stories", body)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodPost, "/api/stories", body)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestGetStoryNotFound(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp := doJSON(t, app, http.MethodGet, "/api/stories/ghost", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestUpdateStoryQueuesUpdate(t *testing.T) {
	app, h := newTestApp(t, nil)

	resp := doJSON(t, app, http.MethodPost, "/api/stories", fiber.Map{"id": "story-1", "title": "A Tale"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodPut, "/api/stories/story-1", fiber.Map{
		"title":        "A Longer Tale",
		"is_completed": true,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var updated models.Story
	decode(t, resp, &updated)
	assert.Equal(t, "story-1", updated.ID)
	assert.Equal(t, "A Longer Tale", updated.Title)
	assert.True(t, updated.IsCompleted)

	pending, err := h.Queue.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	types := []models.OperationType{pending[0].OperationType, pending[1].OperationType}
	assert.Contains(t, types, models.OperationUpdate)
}

func TestAddSegmentAssignsSequence(t *testing.T) {
	app, h := newTestApp(t, nil)

	resp := doJSON(t, app, http.MethodPost, "/api/stories", fiber.Map{"id": "story-1", "title": "A Tale"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodPost, "/api/stories/story-1/segments", fiber.Map{
		"segment_text": "Once upon a time...",
		"choices":      []string{"go left", "go right"},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var first models.StorySegment
	decode(t, resp, &first)
	assert.Equal(t, 1, first.SequenceNumber)
	assert.Equal(t, "story-1", first.StoryID)

	resp = doJSON(t, app, http.MethodPost, "/api/stories/story-1/segments", fiber.Map{
		"segment_text": "The fox chose the left path.",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var second models.StorySegment
	decode(t, resp, &second)
	assert.Equal(t, 2, second.SequenceNumber)

	// The parent story went back to unsynced.
	story, err := store.Get[models.Story](context.Background(), h.Store, "story-1")
	require.NoError(t, err)
	assert.False(t, story.IsSynced)
}

func TestAddSegmentUnknownStory(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp := doJSON(t, app, http.MethodPost, "/api/stories/ghost/segments", fiber.Map{"segment_text": "..."})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestDeleteStoryCascades(t *testing.T) {
	app, h := newTestApp(t, nil)
	ctx := context.Background()

	resp := doJSON(t, app, http.MethodPost, "/api/stories", fiber.Map{"id": "story-1", "title": "A Tale"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = doJSON(t, app, http.MethodPost, "/api/stories/story-1/segments", fiber.Map{"segment_text": "..."})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodDelete, "/api/stories/story-1", nil)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	story, err := store.Get[models.Story](ctx, h.Store, "story-1")
	require.NoError(t, err)
	assert.Nil(t, story)

	// The cascade drops the queued inserts; only the delete survives.
	pending, err := h.Queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OperationDelete, pending[0].OperationType)
	assert.Equal(t, "story-1", pending[0].RecordID)
}

func TestQueueRetryEndpoint(t *testing.T) {
	app, h := newTestApp(t, nil)
	ctx := context.Background()

	item, err := h.Queue.Enqueue(ctx, models.OperationInsert, "stories", "story-1", nil)
	require.NoError(t, err)
	require.NoError(t, h.Queue.MarkInProgress(ctx, item.ID))
	require.NoError(t, h.Queue.MarkFailed(ctx, item.ID, "remote unreachable"))

	resp := doJSON(t, app, http.MethodGet, "/api/queue/failed", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var failed []models.OperationQueueItem
	decode(t, resp, &failed)
	require.Len(t, failed, 1)

	resp = doJSON(t, app, http.MethodPost, "/api/queue/"+item.ID+"/retry", nil)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	got, err := h.Queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestQueueRetryUnknownItem(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp := doJSON(t, app, http.MethodPost, "/api/queue/ghost/retry", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestDrainWithoutRemote(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp := doJSON(t, app, http.MethodPost, "/api/sync/drain", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestDrainDelegates(t *testing.T) {
	sync := &fakeSyncer{}
	app, _ := newTestApp(t, sync)

	resp := doJSON(t, app, http.MethodPost, "/api/sync/drain", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 1, sync.drained)
}

func TestRecoveryOfferAndDiscard(t *testing.T) {
	app, h := newTestApp(t, nil)
	ctx := context.Background()

	resp := doJSON(t, app, http.MethodGet, "/api/recovery/offer", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodPost, "/api/stories", fiber.Map{"id": "story-1", "title": "A Tale"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodGet, "/api/recovery/offer", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var offered models.Story
	decode(t, resp, &offered)
	assert.Equal(t, "story-1", offered.ID)

	resp = doJSON(t, app, http.MethodPost, "/api/recovery/story-1/discard", nil)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	story, err := store.Get[models.Story](ctx, h.Store, "story-1")
	require.NoError(t, err)
	assert.Nil(t, story)
}

func TestRecoveryResumeDelegates(t *testing.T) {
	sync := &fakeSyncer{}
	app, _ := newTestApp(t, sync)

	resp := doJSON(t, app, http.MethodPost, "/api/stories", fiber.Map{"id": "story-1", "title": "A Tale"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodPost, "/api/recovery/story-1/resume", nil)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, []string{"story-1"}, sync.stories)
}

func TestRecoveryResumeWithoutRemote(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp := doJSON(t, app, http.MethodPost, "/api/recovery/story-1/resume", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestUploadMediaWithoutUploader(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp := doJSON(t, app, http.MethodPost, "/api/segments/seg-1/media?kind=image", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestClearCache(t *testing.T) {
	app, h := newTestApp(t, nil)
	ctx := context.Background()

	resp := doJSON(t, app, http.MethodPost, "/api/stories", fiber.Map{"id": "story-1", "title": "A Tale"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, http.MethodDelete, "/api/cache", nil)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	stories, err := store.All[models.Story](ctx, h.Store)
	require.NoError(t, err)
	assert.Empty(t, stories)
	ops, err := store.All[models.OperationQueueItem](ctx, h.Store)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestProfileNotCached(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp := doJSON(t, app, http.MethodGet, "/api/profile", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestProfileRoundTrip(t *testing.T) {
	app, h := newTestApp(t, nil)
	ctx := context.Background()

	resp := doJSON(t, app, http.MethodPut, "/api/profile", fiber.Map{
		"email": "fox@example.com",
		"name":  "Fox",
		"tier":  "free",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var saved models.Profile
	decode(t, resp, &saved)
	assert.Equal(t, "user-1", saved.ID, "the profile id is the authenticated user")

	resp = doJSON(t, app, http.MethodGet, "/api/profile", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var got models.Profile
	decode(t, resp, &got)
	assert.Equal(t, "fox@example.com", got.Email)

	pending, err := h.Queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OperationInsert, pending[0].OperationType)
	assert.Equal(t, "profiles", pending[0].TargetTable)

	// A second save of the same user queues an update, not a new insert.
	resp = doJSON(t, app, http.MethodPut, "/api/profile", fiber.Map{
		"email": "fox@example.com",
		"name":  "Fox",
		"tier":  "premium",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	pending, err = h.Queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	types := []models.OperationType{pending[0].OperationType, pending[1].OperationType}
	assert.Contains(t, types, models.OperationUpdate)

	profiles, err := store.All[models.Profile](ctx, h.Store)
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
}

func TestHealthz(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp := doJSON(t, app, http.MethodGet, "/healthz", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

var errRemoteDown = errors.New("remote down")

func TestDrainReportsSyncerError(t *testing.T) {
	sync := &fakeSyncer{err: errRemoteDown}
	app, _ := newTestApp(t, sync)

	resp := doJSON(t, app, http.MethodPost, "/api/sync/drain", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}
