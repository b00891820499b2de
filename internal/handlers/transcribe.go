package handlers

import (
	"fmt"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/guard"
	"github.com/codebuildervaibhav/media-transcription/internal/media"
	"github.com/codebuildervaibhav/media-transcription/internal/queue"
	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

// TranscribeHandler accepts media uploads and turns them into tasks.
type TranscribeHandler struct {
	pool      *queue.WorkerPool
	guard     *guard.Guard
	tempDir   string
	maxSizeMB int
	log       zerolog.Logger
}

// NewTranscribeHandler creates a new upload handler.
func NewTranscribeHandler(pool *queue.WorkerPool, g *guard.Guard, tempDir string, maxSizeMB int, log zerolog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		pool:      pool,
		guard:     g,
		tempDir:   tempDir,
		maxSizeMB: maxSizeMB,
		log:       log.With().Str("component", "upload").Logger(),
	}
}

// Handle processes the upload request.
func (h *TranscribeHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	requestName := c.FormValue("name")
	if requestName == "" {
		requestName = file.Filename
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}

	if !media.SupportedFormat(file.Filename) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported media format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	// Admission control runs before the file touches disk.
	if ok, reason := h.guard.ShouldAdmit(file.Size); !ok {
		h.log.Warn().Str("reason", reason).Int64("size", file.Size).Msg("Upload rejected by resource guard")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": reason,
			"code":  "ERR_RESOURCES_EXHAUSTED",
		})
	}

	taskID := uuid.New().String()
	tempPath := filepath.Join(h.tempDir, taskID+filepath.Ext(file.Filename))

	if err := c.SaveFile(file, tempPath); err != nil {
		h.log.Error().Err(err).Msg("Failed to save uploaded file")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	task := queue.NewTask(taskID, requestName, types.SourceUpload, tempPath)
	task.Language = c.FormValue("language")
	task.Model = c.FormValue("model")
	task.WebhookURL = c.FormValue("webhook_url")

	if err := h.pool.Submit(task); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_QUEUE_FULL",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"task_id":    taskID,
		"state":      types.StatePending,
		"status_url": "/tasks/" + taskID,
	})
}
