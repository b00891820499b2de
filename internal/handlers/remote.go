package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/guard"
	"github.com/codebuildervaibhav/media-transcription/internal/queue"
	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

// RemoteHandler downloads media from a URL and submits it as a task.
// Google Drive share links are rewritten to their direct-download form.
type RemoteHandler struct {
	pool    *queue.WorkerPool
	guard   *guard.Guard
	tempDir string
	client  *http.Client
	log     zerolog.Logger
}

// NewRemoteHandler creates a new remote-URL handler.
func NewRemoteHandler(pool *queue.WorkerPool, g *guard.Guard, tempDir string, log zerolog.Logger) *RemoteHandler {
	return &RemoteHandler{
		pool:    pool,
		guard:   g,
		tempDir: tempDir,
		client:  &http.Client{Timeout: 5 * time.Minute},
		log:     log.With().Str("component", "remote").Logger(),
	}
}

// RemoteRequest is the request body for URL ingestion.
type RemoteRequest struct {
	URL        string `json:"url"`
	Name       string `json:"name"`
	Language   string `json:"language"`
	WebhookURL string `json:"webhook_url"`
}

var gdriveIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`),
}

// Handle processes a remote URL request.
func (h *RemoteHandler) Handle(c *fiber.Ctx) error {
	var req RemoteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}
	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "URL is required",
			"code":  "ERR_NO_URL",
		})
	}

	downloadURL := normalizeURL(req.URL)
	if req.Name == "" {
		req.Name = "remote_file"
	}

	taskID := uuid.New().String()
	ext := filepath.Ext(req.URL)
	if ext == "" || len(ext) > 5 {
		ext = ".mp3"
	}
	tempPath := filepath.Join(h.tempDir, taskID+ext)

	h.log.Info().Str("task_id", taskID).Str("url", downloadURL).Msg("Downloading remote media")

	resp, err := h.client.Get(downloadURL)
	if err != nil {
		h.log.Error().Err(err).Msg("Remote download failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to download file",
			"code":  "ERR_DOWNLOAD_FAILED",
		})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("File not accessible (HTTP %d)", resp.StatusCode),
			"code":  "ERR_FILE_NOT_ACCESSIBLE",
		})
	}

	// Servers that stream without Content-Length report -1; admit on
	// the post-download size check instead of wrapping to a huge value.
	size := resp.ContentLength
	if size < 0 {
		size = 0
	}
	if ok, reason := h.guard.ShouldAdmit(size); !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": reason,
			"code":  "ERR_RESOURCES_EXHAUSTED",
		})
	}

	out, err := os.Create(tempPath)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save downloaded file",
			"code":  "ERR_SAVE_FAILED",
		})
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tempPath)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to write downloaded file",
			"code":  "ERR_WRITE_FAILED",
		})
	}
	out.Close()

	task := queue.NewTask(taskID, req.Name, types.SourceRemote, tempPath)
	task.Language = req.Language
	task.WebhookURL = req.WebhookURL

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

// normalizeURL rewrites Google Drive share links to their direct
// download endpoint and passes everything else through unchanged.
func normalizeURL(rawURL string) string {
	if !strings.Contains(rawURL, "drive.google.com") {
		return rawURL
	}
	for _, pattern := range gdriveIDPatterns {
		if m := pattern.FindStringSubmatch(rawURL); m != nil {
			return "https://drive.google.com/uc?export=download&id=" + m[1]
		}
	}
	return rawURL
}
