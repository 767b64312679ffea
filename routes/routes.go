// Package routes exposes the offline cache to the SPA over a local HTTP
// surface: story CRUD, queue inspection and manual retry, the startup
// recovery flow, and cache-clearing tooling.
package routes

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/taleforge/offline-cache/media"
	"github.com/taleforge/offline-cache/queue"
	"github.com/taleforge/offline-cache/recovery"
	"github.com/taleforge/offline-cache/store"
)

// Syncer is the coordinator surface the handlers need. Nil when no remote
// backend is configured; the affected endpoints answer 503.
type Syncer interface {
	Drain(ctx context.Context) (int, error)
	SyncStory(ctx context.Context, storyID string) error
}

type Handler struct {
	Store    *store.Store
	Queue    *queue.Queue
	Recovery *recovery.Manager
	Sync     Syncer
	Media    *media.Uploader
	Log      *zap.Logger
}

// Register mounts all routes. authMW guards everything under /api.
func (h *Handler) Register(app *fiber.App, authMW fiber.Handler) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/recovery", h.RecoveryPage)

	api := app.Group("/api", authMW)

	api.Post("/stories", h.CreateStory)
	api.Get("/stories", h.GetStories)
	api.Get("/stories/:id", h.GetStory)
	api.Put("/stories/:id", h.UpdateStory)
	api.Delete("/stories/:id", h.DeleteStory)
	api.Post("/stories/:id/segments", h.AddSegment)
	api.Get("/stories/:id/segments", h.GetSegments)
	api.Post("/segments/:id/media", h.UploadSegmentMedia)
	api.Post("/stories/:id/narration", h.AssembleNarration)

	api.Get("/profile", h.GetProfile)
	api.Put("/profile", h.SaveProfile)

	api.Get("/queue/pending", h.PendingOperations)
	api.Get("/queue/failed", h.FailedOperations)
	api.Post("/queue/:id/retry", h.RetryOperation)
	api.Delete("/queue/:id", h.CancelOperation)
	api.Post("/sync/drain", h.Drain)

	api.Get("/recovery/offer", h.RecoveryOffer)
	api.Post("/recovery/:id/resume", h.RecoveryResume)
	api.Post("/recovery/:id/discard", h.RecoveryDiscard)

	api.Delete("/cache", h.ClearCache)
}
