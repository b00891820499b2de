package handlers

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/guard"
	"github.com/codebuildervaibhav/media-transcription/internal/queue"
	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

// StreamHandler ingests buffered audio frames over WebSocket. The
// client sends an optional text message naming the recording, then
// binary audio frames, then the text message "END".
type StreamHandler struct {
	pool    *queue.WorkerPool
	guard   *guard.Guard
	tempDir string
	log     zerolog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(pool *queue.WorkerPool, g *guard.Guard, tempDir string, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		pool:    pool,
		guard:   g,
		tempDir: tempDir,
		log:     log.With().Str("component", "stream").Logger(),
	}
}

// Handle processes one WebSocket connection.
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	var (
		buffer      bytes.Buffer
		requestName string
		taskID      = uuid.New().String()
	)

	h.log.Info().Str("task_id", taskID).Msg("WebSocket connection established")

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			h.log.Debug().Err(err).Msg("WebSocket read ended")
			break
		}

		if messageType == websocket.TextMessage {
			msgStr := string(message)
			if msgStr == "END" {
				break
			}
			if len(msgStr) > 0 && len(msgStr) < 200 {
				requestName = msgStr
			}
			continue
		}

		if messageType == websocket.BinaryMessage {
			buffer.Write(message)
		}
	}

	if buffer.Len() == 0 {
		h.log.Warn().Str("task_id", taskID).Msg("No audio data received in stream")
		return
	}
	if requestName == "" {
		requestName = "stream_recording"
	}

	// Streams pass the same admission check as uploads.
	if ok, reason := h.guard.ShouldAdmit(int64(buffer.Len())); !ok {
		h.writeJSON(c, fmt.Sprintf(`{"task_id":%q,"error":%q}`, taskID, reason))
		return
	}

	tempPath := filepath.Join(h.tempDir, taskID+".webm")
	if err := os.WriteFile(tempPath, buffer.Bytes(), 0644); err != nil {
		h.log.Error().Err(err).Msg("Failed to save stream buffer")
		h.writeJSON(c, fmt.Sprintf(`{"task_id":%q,"error":"failed to save stream"}`, taskID))
		return
	}

	h.log.Info().
		Str("task_id", taskID).
		Int("bytes", buffer.Len()).
		Msg("Stream saved")

	task := queue.NewTask(taskID, requestName, types.SourceStream, tempPath)
	if err := h.pool.Submit(task); err != nil {
		h.writeJSON(c, fmt.Sprintf(`{"task_id":%q,"error":%q}`, taskID, err.Error()))
		return
	}

	h.writeJSON(c, fmt.Sprintf(`{"task_id":%q,"state":%q}`, taskID, types.StatePending))
}

func (h *StreamHandler) writeJSON(c *websocket.Conn, payload string) {
	if err := c.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		h.log.Debug().Err(err).Msg("WebSocket write failed")
	}
}
