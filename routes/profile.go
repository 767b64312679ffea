package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/taleforge/offline-cache/models"
	"github.com/taleforge/offline-cache/store"
)

// GetProfile returns the locally cached profile of the current user.
func (h *Handler) GetProfile(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	profile, err := store.Get[models.Profile](c.Context(), h.Store, uid)
	if err != nil {
		return h.storageError(c, err)
	}
	if profile == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "profile not cached",
		})
	}
	return c.JSON(profile)
}

// SaveProfile caches the signed-in user locally, so story ownership
// survives a reload while the auth session is unreachable, and queues the
// remote write.
func (h *Handler) SaveProfile(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)

	profile := new(models.Profile)
	if err := c.BodyParser(profile); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot parse JSON",
		})
	}
	profile.ID = uid
	profile.UpdatedAt = time.Now().UTC()

	existing, err := store.Get[models.Profile](c.Context(), h.Store, uid)
	if err != nil {
		return h.storageError(c, err)
	}
	op := models.OperationInsert
	if existing != nil {
		op = models.OperationUpdate
		profile.CreatedAt = existing.CreatedAt
	}

	if err := store.Upsert(c.Context(), h.Store, profile); err != nil {
		return h.storageError(c, err)
	}
	if err := h.enqueue(c, op, "profiles", profile.ID, profile); err != nil {
		return err
	}
	return c.JSON(profile)
}
