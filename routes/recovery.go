package routes

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/taleforge/offline-cache/store"
)

// RecoveryPage renders the startup prompt offering to resume or discard
// the most recently updated unsynced story.
func (h *Handler) RecoveryPage(c *fiber.Ctx) error {
	offer, err := h.Recovery.Offer(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
	}
	if offer == nil {
		return c.Render("recovery", fiber.Map{})
	}
	return c.Render("recovery", fiber.Map{
		"StoryID":   offer.ID,
		"Title":     offer.Title,
		"UpdatedAt": offer.UpdatedAt,
	})
}

func (h *Handler) RecoveryOffer(c *fiber.Ctx) error {
	offer, err := h.Recovery.Offer(c.Context())
	if err != nil {
		return h.storageError(c, err)
	}
	if offer == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(offer)
}

func (h *Handler) RecoveryResume(c *fiber.Ctx) error {
	if h.Sync == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "sync disabled, no remote backend configured",
		})
	}
	err := h.Recovery.Resume(c.Context(), c.Params("id"), h.Sync)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "story not found",
			})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RecoveryDiscard deletes the story, its segments, and any queue items
// referencing them. On failure the story stays unsynced and is offered
// again on the next load.
func (h *Handler) RecoveryDiscard(c *fiber.Ctx) error {
	if err := h.Recovery.Discard(c.Context(), c.Params("id")); err != nil {
		return h.storageError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
