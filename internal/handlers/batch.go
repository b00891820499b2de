package handlers

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/batch"
	"github.com/codebuildervaibhav/media-transcription/internal/guard"
	"github.com/codebuildervaibhav/media-transcription/internal/media"
	"github.com/codebuildervaibhav/media-transcription/internal/queue"
	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

// BatchHandler accepts multiple files in one multipart request and
// submits each as an independent task. Saving the uploads to disk fans
// out with bounded concurrency; one bad file never blocks its siblings.
type BatchHandler struct {
	pool    *queue.WorkerPool
	guard   *guard.Guard
	tempDir string
	log     zerolog.Logger
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(pool *queue.WorkerPool, g *guard.Guard, tempDir string, log zerolog.Logger) *BatchHandler {
	return &BatchHandler{
		pool:    pool,
		guard:   g,
		tempDir: tempDir,
		log:     log.With().Str("component", "batch").Logger(),
	}
}

type batchEntry struct {
	Filename string `json:"filename"`
	TaskID   string `json:"task_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Handle processes a multipart batch under the "files" field.
func (h *BatchHandler) Handle(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid multipart form",
			"code":  "ERR_INVALID_BODY",
		})
	}

	files := form.File["files"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No files uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	language := c.FormValue("language")
	webhookURL := c.FormValue("webhook_url")

	// Each file gets its task ID up front; the ID doubles as the batch
	// item key so results map back to their uploads even when two
	// uploads share a filename.
	taskIDs := make([]string, len(files))
	byID := make(map[string]int, len(files))
	for i := range files {
		taskIDs[i] = uuid.New().String()
		byID[taskIDs[i]] = i
	}

	items := batch.Convert(c.Context(), func(ctx context.Context, taskID string) (string, error) {
		f := files[byID[taskID]]

		if !media.SupportedFormat(f.Filename) {
			return "", errors.New("unsupported media format")
		}
		if ok, reason := h.guard.ShouldAdmit(f.Size); !ok {
			return "", errors.New(reason)
		}

		tempPath := filepath.Join(h.tempDir, taskID+filepath.Ext(f.Filename))
		if err := c.SaveFile(f, tempPath); err != nil {
			return "", err
		}
		return tempPath, nil
	}, taskIDs)

	entries := make([]batchEntry, len(files))
	accepted := 0
	for i, item := range items {
		entries[i].Filename = files[i].Filename
		if item.Err != nil {
			entries[i].Error = item.Error
			continue
		}

		task := queue.NewTask(taskIDs[i], files[i].Filename, types.SourceBatch, item.Output)
		task.Language = language
		task.WebhookURL = webhookURL
		if err := h.pool.Submit(task); err != nil {
			entries[i].Error = err.Error()
			continue
		}
		entries[i].TaskID = taskIDs[i]
		accepted++
	}

	h.log.Info().Int("accepted", accepted).Int("total", len(files)).Msg("Batch submitted")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": accepted,
		"total":    len(files),
		"items":    entries,
	})
}
