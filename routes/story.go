package routes

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taleforge/offline-cache/misc"
	"github.com/taleforge/offline-cache/models"
	"github.com/taleforge/offline-cache/store"
)

func (h *Handler) CreateStory(c *fiber.Ctx) error {
	story := new(models.Story)
	if err := c.BodyParser(story); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if story.ID == "" {
		story.ID = uuid.NewString()
	}
	if uid, ok := c.Locals("user_id").(string); ok && story.UserID == "" {
		story.UserID = uid
	}
	story.IsSynced = false
	story.Touch()

	if err := store.Add(c.Context(), h.Store, story); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "story already exists",
			})
		}
		return h.storageError(c, err)
	}
	if err := h.enqueue(c, models.OperationInsert, "stories", story.ID, story); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(story)
}

func (h *Handler) GetStories(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	stories, err := store.FindBy[models.Story](c.Context(), h.Store, "user_id", uid)
	if err != nil {
		return h.storageError(c, err)
	}
	return c.JSON(stories)
}

func (h *Handler) GetStory(c *fiber.Ctx) error {
	story, err := store.Get[models.Story](c.Context(), h.Store, c.Params("id"))
	if err != nil {
		return h.storageError(c, err)
	}
	if story == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "story not found",
		})
	}
	return c.JSON(story)
}

func (h *Handler) UpdateStory(c *fiber.Ctx) error {
	existing, err := store.Get[models.Story](c.Context(), h.Store, c.Params("id"))
	if err != nil {
		return h.storageError(c, err)
	}
	if existing == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "story not found",
		})
	}

	incoming := new(models.Story)
	if err := c.BodyParser(incoming); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	incoming.ID = existing.ID
	incoming.UserID = existing.UserID
	incoming.CreatedAt = existing.CreatedAt
	incoming.IsSynced = false
	incoming.Touch()

	if err := store.UpdateExisting(c.Context(), h.Store, incoming); err != nil {
		return h.storageError(c, err)
	}
	if err := h.enqueue(c, models.OperationUpdate, "stories", incoming.ID, incoming); err != nil {
		return err
	}

	return c.JSON(incoming)
}

// DeleteStory discards the local copy (cascading to segments and queue
// items) and records the remote delete for the next drain.
func (h *Handler) DeleteStory(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.Recovery.Discard(c.Context(), id); err != nil {
		return h.storageError(c, err)
	}
	if err := h.enqueue(c, models.OperationDelete, "stories", id, nil); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) AddSegment(c *fiber.Ctx) error {
	storyID := c.Params("id")
	story, err := store.Get[models.Story](c.Context(), h.Store, storyID)
	if err != nil {
		return h.storageError(c, err)
	}
	if story == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "story not found",
		})
	}

	segment := new(models.StorySegment)
	if err := c.BodyParser(segment); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	if segment.ID == "" {
		segment.ID = uuid.NewString()
	}
	segment.StoryID = storyID
	segment.IsSynced = false

	if segment.SequenceNumber == 0 {
		siblings, err := store.FindBy[models.StorySegment](c.Context(), h.Store, "story_id", storyID)
		if err != nil {
			return h.storageError(c, err)
		}
		next := 1
		for _, s := range siblings {
			if s.SequenceNumber >= next {
				next = s.SequenceNumber + 1
			}
		}
		segment.SequenceNumber = next
	}

	if err := store.Add(c.Context(), h.Store, segment); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "segment already exists",
			})
		}
		return h.storageError(c, err)
	}

	// Adding a segment is a mutation of the story too.
	story.IsSynced = false
	story.Touch()
	if err := store.UpdateExisting(c.Context(), h.Store, story); err != nil {
		return h.storageError(c, err)
	}

	if err := h.enqueue(c, models.OperationInsert, "story_segments", segment.ID, segment); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(segment)
}

func (h *Handler) GetSegments(c *fiber.Ctx) error {
	segments, err := store.FindBy[models.StorySegment](c.Context(), h.Store, "story_id", c.Params("id"))
	if err != nil {
		return h.storageError(c, err)
	}
	return c.JSON(segments)
}

// UploadSegmentMedia attaches a generated image or audio artifact to a
// segment once the async generation for it has completed.
func (h *Handler) UploadSegmentMedia(c *fiber.Ctx) error {
	if h.Media == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "media storage not configured",
		})
	}

	kind := c.Query("kind")
	if kind != "image" && kind != "audio" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "kind must be image or audio",
		})
	}

	segment, err := store.Get[models.StorySegment](c.Context(), h.Store, c.Params("id"))
	if err != nil {
		return h.storageError(c, err)
	}
	if segment == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "segment not found",
		})
	}

	url, err := h.Media.UploadSegmentAsset(c.Context(), segment.StoryID, segment.ID, kind, c.Body(), c.Get(fiber.HeaderContentType))
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if kind == "image" {
		segment.ImageURL = url
	} else {
		segment.AudioURL = url
	}
	segment.IsSynced = false
	if err := store.UpdateExisting(c.Context(), h.Store, segment); err != nil {
		return h.storageError(c, err)
	}
	if err := h.enqueue(c, models.OperationUpdate, "story_segments", segment.ID, segment); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"url": url})
}

// AssembleNarration stitches every narrated segment into one audio file
// for a completed story.
func (h *Handler) AssembleNarration(c *fiber.Ctx) error {
	storyID := c.Params("id")
	story, err := store.Get[models.Story](c.Context(), h.Store, storyID)
	if err != nil {
		return h.storageError(c, err)
	}
	if story == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "story not found",
		})
	}
	if !story.IsCompleted {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "story is not completed",
		})
	}

	segments, err := store.FindBy[models.StorySegment](c.Context(), h.Store, "story_id", storyID)
	if err != nil {
		return h.storageError(c, err)
	}

	path, err := misc.AssembleNarration(c.Context(), storyID, misc.SortedAudioURLs(segments))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"path": path})
}

// enqueue records the remote mutation for later replay. A payload of nil
// is allowed for deletes.
func (h *Handler) enqueue(c *fiber.Ctx, op models.OperationType, table, recordID string, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return h.storageError(c, err)
		}
		raw = b
	}
	if _, err := h.Queue.Enqueue(c.Context(), op, table, recordID, raw); err != nil {
		return h.storageError(c, err)
	}
	return nil
}

func (h *Handler) storageError(c *fiber.Ctx, err error) error {
	h.Log.Error("storage operation failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "couldn't save offline, please retry",
	})
}
