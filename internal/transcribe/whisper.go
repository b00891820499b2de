package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/faults"
	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

// Transcriber turns a canonical PCM file into a transcript. An empty
// model selects the implementation's configured default.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language, model string) (*types.TranscriptionResult, error)
}

// WhisperTranscriber runs OpenAI Whisper through the Python CLI. The
// accelerator is a scarce exclusive resource, so calls are serialized
// with a mutex.
type WhisperTranscriber struct {
	modelName string
	device    Device
	tempDir   string
	mu        sync.Mutex
	log       zerolog.Logger
}

// NewWhisperTranscriber creates a transcriber for the given model name
// (tiny/base/small/medium/large) on the given device.
func NewWhisperTranscriber(modelName string, device Device, tempDir string, log zerolog.Logger) *WhisperTranscriber {
	if modelName == "" {
		modelName = "small"
	}
	l := log.With().Str("component", "whisper").Logger()
	l.Info().Str("model", modelName).Str("device", device.Kind).Msg("Whisper transcriber initialized")
	return &WhisperTranscriber{
		modelName: modelName,
		device:    device,
		tempDir:   tempDir,
		log:       l,
	}
}

// Transcribe processes an audio file and returns the transcript. On an
// accelerator out-of-memory failure the call is retried exactly once on
// CPU before giving up.
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, audioPath, language, model string) (*types.TranscriptionResult, error) {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	if model == "" {
		model = wt.modelName
	}

	result, err := wt.run(ctx, audioPath, language, model, wt.device)
	if err != nil && wt.device.Accelerated() && isOOM(err) {
		wt.log.Warn().Msg("Accelerator out of memory, retrying on CPU")
		result, err = wt.run(ctx, audioPath, language, model, wt.device.CPU())
	}
	return result, err
}

func (wt *WhisperTranscriber) run(ctx context.Context, audioPath, language, model string, device Device) (*types.TranscriptionResult, error) {
	outputDir, err := os.MkdirTemp(wt.tempDir, "whisper_output_")
	if err != nil {
		return nil, faults.Wrap(faults.KindTranscriptionFailed, "create output dir", err)
	}
	defer os.RemoveAll(outputDir)

	absAudioPath, err := filepath.Abs(audioPath)
	if err != nil {
		return nil, faults.Wrap(faults.KindTranscriptionFailed, "resolve audio path", err)
	}

	args := []string{
		"-m", "whisper",
		absAudioPath,
		"--model", model,
		"--device", device.Kind,
		"--output_dir", outputDir,
		"--output_format", "json",
	}
	if language != "" {
		args = append(args, "--language", language)
	}
	if !device.Accelerated() {
		args = append(args, "--fp16", "False")
	}

	wt.log.Info().Str("path", audioPath).Str("device", device.Kind).Msg("Transcribing")

	cmd := exec.CommandContext(ctx, "python", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, faults.Wrap(faults.KindSoftTimeout, "transcription aborted", ctx.Err())
		}
		if ctx.Err() != nil {
			// Caller cancellation, not a deadline.
			return nil, faults.Wrap(faults.KindUnknown, "transcription aborted", ctx.Err())
		}
		return nil, faults.Wrap(faults.KindTranscriptionFailed,
			"whisper failed: "+truncate(string(output), 300), err)
	}

	baseName := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	jsonPath := filepath.Join(outputDir, baseName+".json")

	jsonData, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, faults.Wrap(faults.KindTranscriptionFailed, "read whisper output", err)
	}

	return parseWhisperOutput(jsonData)
}

// whisperOutput matches Python Whisper's JSON output format
type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func parseWhisperOutput(data []byte) (*types.TranscriptionResult, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, faults.Wrap(faults.KindTranscriptionFailed, "parse whisper JSON", err)
	}

	segments := make([]types.Segment, len(out.Segments))
	for i, seg := range out.Segments {
		segments[i] = types.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
	}

	var duration float64
	if len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}

	text := strings.TrimSpace(out.Text)
	return &types.TranscriptionResult{
		Text:      text,
		Language:  out.Language,
		Duration:  duration,
		Segments:  segments,
		WordCount: len(strings.Fields(text)),
	}, nil
}

// isOOM detects accelerator memory exhaustion in the subprocess output.
// The classification lives at this boundary only; everything above works
// with error kinds.
func isOOM(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "out of memory")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
