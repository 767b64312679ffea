package routes

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/taleforge/offline-cache/models"
	"github.com/taleforge/offline-cache/store"
)

func (h *Handler) PendingOperations(c *fiber.Ctx) error {
	items, err := h.Queue.Pending(c.Context())
	if err != nil {
		return h.storageError(c, err)
	}
	return c.JSON(items)
}

func (h *Handler) FailedOperations(c *fiber.Ctx) error {
	items, err := h.Queue.Failed(c.Context())
	if err != nil {
		return h.storageError(c, err)
	}
	return c.JSON(items)
}

// RetryOperation re-queues a failed item. Retries are always user- or
// caller-triggered; nothing here retries on its own.
func (h *Handler) RetryOperation(c *fiber.Ctx) error {
	if err := h.Queue.Retry(c.Context(), c.Params("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "operation not found",
			})
		}
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) CancelOperation(c *fiber.Ctx) error {
	if err := h.Queue.Dequeue(c.Context(), c.Params("id")); err != nil {
		return h.storageError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Drain replays pending operations now instead of waiting for the next
// opportunistic pass.
func (h *Handler) Drain(c *fiber.Ctx) error {
	if h.Sync == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "sync disabled, no remote backend configured",
		})
	}
	applied, err := h.Sync.Drain(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"applied": applied})
}

// ClearCache wipes every local table. Full-reset tooling only.
func (h *Handler) ClearCache(c *fiber.Ctx) error {
	ctx := c.Context()
	if err := store.Clear[models.OperationQueueItem](ctx, h.Store); err != nil {
		return h.storageError(c, err)
	}
	if err := store.Clear[models.StorySegment](ctx, h.Store); err != nil {
		return h.storageError(c, err)
	}
	if err := store.Clear[models.Story](ctx, h.Store); err != nil {
		return h.storageError(c, err)
	}
	if err := store.Clear[models.Profile](ctx, h.Store); err != nil {
		return h.storageError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
