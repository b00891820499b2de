package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/media-transcription/internal/cache"
	"github.com/codebuildervaibhav/media-transcription/internal/convert"
	"github.com/codebuildervaibhav/media-transcription/internal/guard"
	"github.com/codebuildervaibhav/media-transcription/internal/queue"
)

// SystemHandler serves health and introspection endpoints.
type SystemHandler struct {
	guard     *guard.Guard
	cache     *cache.Cache
	converter *convert.Client
	pool      *queue.WorkerPool
	version   string
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(g *guard.Guard, c *cache.Cache, converter *convert.Client, pool *queue.WorkerPool, version string) *SystemHandler {
	return &SystemHandler{
		guard:     g,
		cache:     c,
		converter: converter,
		pool:      pool,
		version:   version,
	}
}

// Health reports service liveness plus the remote converter's reachability.
func (h *SystemHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":              "healthy",
		"version":             h.version,
		"converter_available": h.converter.IsAvailable(c.Context()),
		"queue_depth":         h.pool.QueueDepth(),
	})
}

// Resources returns the current host resource snapshot.
func (h *SystemHandler) Resources(c *fiber.Ctx) error {
	snap, err := h.guard.Snapshot()
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "resource metrics unavailable",
		})
	}
	return c.JSON(snap)
}

// Remote proxies the remote converter's health and stats.
func (h *SystemHandler) Remote(c *fiber.Ctx) error {
	health, err := h.converter.RemoteHealth(c.Context())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"available": false,
			"error":     err.Error(),
		})
	}

	payload := fiber.Map{
		"available": true,
		"health":    health,
	}
	if stats, err := h.converter.RemoteStatus(c.Context()); err == nil {
		payload["stats"] = stats
	}
	return c.JSON(payload)
}

// CacheStats returns hit/miss counters for the transcription cache.
func (h *SystemHandler) CacheStats(c *fiber.Ctx) error {
	return c.JSON(h.cache.Stats())
}

// CacheClear empties the transcription cache.
func (h *SystemHandler) CacheClear(c *fiber.Ctx) error {
	h.cache.Clear()
	return c.JSON(fiber.Map{"status": "cache cleared"})
}
