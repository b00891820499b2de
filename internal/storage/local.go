package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

// LocalStorage handles saving transcripts to the local filesystem
type LocalStorage struct {
	outputDir string
	modelName string
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(outputDir, modelName string) *LocalStorage {
	return &LocalStorage{
		outputDir: outputDir,
		modelName: modelName,
	}
}

// SaveTranscript saves the transcript and metadata to local disk
func (ls *LocalStorage) SaveTranscript(requestName string, result *types.TranscriptionResult) (string, error) {
	// Dated directory structure: outputs/2025/09/01/
	now := time.Now()
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %v", err)
	}

	// Filename: 20250901_143022_podcast_episode.txt
	timestamp := now.Format("20060102_150405")
	baseFilename := fmt.Sprintf("%s_%s", timestamp, sanitizeFilename(requestName))

	txtPath := filepath.Join(dateDir, baseFilename+".txt")
	metaPath := filepath.Join(dateDir, baseFilename+"_meta.json")

	if err := os.WriteFile(txtPath, []byte(result.Text), 0644); err != nil {
		return "", fmt.Errorf("failed to save transcript: %v", err)
	}

	metadata := map[string]interface{}{
		"task_id":          result.TaskID,
		"request_name":     requestName,
		"duration_seconds": result.Duration,
		"word_count":       result.WordCount,
		"model_used":       ls.modelName,
		"language":         result.Language,
		"created_at":       result.ProcessedAt,
		"segments":         result.Segments,
		"local_path":       txtPath,
		"archive_url":      result.ArchiveURL,
	}

	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %v", err)
	}

	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return "", fmt.Errorf("failed to save metadata: %v", err)
	}

	return txtPath, nil
}

// sanitizeFilename strips path separators and characters that are not
// safe in a filename, and caps the length.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	replacer := strings.NewReplacer(
		"\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_")
	name = replacer.Replace(name)
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}
