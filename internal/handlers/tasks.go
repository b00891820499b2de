package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/media-transcription/internal/queue"
)

// TaskHandler serves task status, listing, and cancellation.
type TaskHandler struct {
	pool *queue.WorkerPool
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(pool *queue.WorkerPool) *TaskHandler {
	return &TaskHandler{pool: pool}
}

// Status returns the current snapshot of one task.
func (h *TaskHandler) Status(c *fiber.Ctx) error {
	snap, err := h.pool.Status(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Task not found",
			"code":  "ERR_TASK_NOT_FOUND",
		})
	}
	return c.JSON(snap)
}

// List returns recent tasks, newest first.
func (h *TaskHandler) List(c *fiber.Ctx) error {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	tasks, err := h.pool.List(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"tasks": tasks, "count": len(tasks)})
}

// Cancel requests cancellation of a task.
func (h *TaskHandler) Cancel(c *fiber.Ctx) error {
	err := h.pool.Cancel(c.Params("id"))
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"task_id": c.Params("id"), "status": "cancellation requested"})
	case errors.Is(err, queue.ErrTaskNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Task not found",
			"code":  "ERR_TASK_NOT_FOUND",
		})
	case errors.Is(err, queue.ErrTooLate):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Task already finished",
			"code":  "ERR_TOO_LATE",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}
