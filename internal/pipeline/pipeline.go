package pipeline

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/cache"
	"github.com/codebuildervaibhav/media-transcription/internal/faults"
	"github.com/codebuildervaibhav/media-transcription/internal/media"
	"github.com/codebuildervaibhav/media-transcription/internal/postprocess"
	"github.com/codebuildervaibhav/media-transcription/internal/queue"
	"github.com/codebuildervaibhav/media-transcription/internal/transcribe"
	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

// Canonicalizer turns an arbitrary input file into canonical WAV.
type Canonicalizer interface {
	EnsureCanonical(ctx context.Context, inputPath string) (string, media.Descriptor, error)
}

// TranscriptStore persists finished transcripts locally.
type TranscriptStore interface {
	SaveTranscript(requestName string, result *types.TranscriptionResult) (string, error)
}

// Archiver uploads finished transcripts to external storage.
type Archiver interface {
	Archive(ctx context.Context, requestName string, result *types.TranscriptionResult) (string, error)
}

// Pipeline runs one task end to end: cache lookup, canonical
// conversion, transcription, text cleanup, persistence, archival.
type Pipeline struct {
	canon       Canonicalizer
	transcriber transcribe.Transcriber
	processor   postprocess.Processor
	cache       *cache.Cache
	store       TranscriptStore
	archiver    Archiver // nil when archival is disabled

	modelName   string
	defaultLang string
	log         zerolog.Logger
}

func New(canon Canonicalizer, transcriber transcribe.Transcriber, processor postprocess.Processor,
	c *cache.Cache, store TranscriptStore, archiver Archiver,
	modelName, defaultLang string, log zerolog.Logger) *Pipeline {
	if processor == nil {
		processor = postprocess.Noop{}
	}
	return &Pipeline{
		canon:       canon,
		transcriber: transcriber,
		processor:   processor,
		cache:       c,
		store:       store,
		archiver:    archiver,
		modelName:   modelName,
		defaultLang: defaultLang,
		log:         log.With().Str("component", "pipeline").Logger(),
	}
}

// Runner adapts the pipeline to the worker pool.
func (p *Pipeline) Runner() queue.Runner {
	return p.Run
}

// Run processes a single task.
func (p *Pipeline) Run(ctx context.Context, task *queue.Task) (*types.TranscriptionResponse, error) {
	language := task.Language
	if language == "" {
		language = p.defaultLang
	}
	model := task.Model
	if model == "" {
		model = p.modelName
	}

	// The cache key is derived from the input bytes, so identical files
	// hit regardless of filename. Key failures disable caching for this
	// task but never fail it.
	var key string
	if p.cache != nil {
		k, err := cache.GenerateKey(task.FilePath, model, language)
		if err != nil {
			p.log.Warn().Str("task_id", task.ID).Err(err).Msg("Cache key generation failed")
		} else {
			key = k
			if hit := p.cache.Get(key); hit != nil {
				p.log.Info().Str("task_id", task.ID).Msg("Serving transcription from cache")
				resp := *hit
				resp.TaskID = task.ID
				resp.Cached = true
				return &resp, nil
			}
		}
	}

	canonical, desc, err := p.canon.EnsureCanonical(ctx, task.FilePath)
	if err != nil {
		return nil, err
	}
	if canonical != task.FilePath {
		defer os.Remove(canonical)
	}

	result, err := p.transcriber.Transcribe(ctx, canonical, language, model)
	if err != nil {
		return nil, err
	}

	result.TaskID = task.ID
	if result.Duration == 0 {
		result.Duration = desc.Duration
	}
	result.Text = p.processor.Process(result.Text)
	result.WordCount = len(strings.Fields(result.Text))
	result.ProcessedAt = time.Now()

	localPath, err := p.store.SaveTranscript(task.RequestName, result)
	if err != nil {
		return nil, faults.Wrap(faults.KindTransientIO, "failed to save transcript", err)
	}
	result.LocalPath = localPath

	if p.archiver != nil {
		if url, err := p.archiveWithRetry(ctx, task.RequestName, result); err != nil {
			p.log.Warn().Str("task_id", task.ID).Err(err).Msg("Archival failed, transcript kept locally")
		} else {
			result.ArchiveURL = url
		}
	}

	resp := &types.TranscriptionResponse{
		Success: true,
		TaskID:  task.ID,
		Result:  result,
	}
	if key != "" {
		p.cache.Set(key, resp)
	}
	return resp, nil
}

// archiveWithRetry attempts the upload up to three times with a short
// backoff. Archival never fails the task; the last error is returned
// for logging only.
func (p *Pipeline) archiveWithRetry(ctx context.Context, requestName string, result *types.TranscriptionResult) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}
		url, err := p.archiver.Archive(ctx, requestName, result)
		if err == nil {
			return url, nil
		}
		lastErr = err
	}
	return "", lastErr
}
