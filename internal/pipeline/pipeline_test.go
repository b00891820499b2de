package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/cache"
	"github.com/codebuildervaibhav/media-transcription/internal/faults"
	"github.com/codebuildervaibhav/media-transcription/internal/media"
	"github.com/codebuildervaibhav/media-transcription/internal/postprocess"
	"github.com/codebuildervaibhav/media-transcription/internal/queue"
	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

type stubCanon struct {
	calls int
	out   string
	err   error
}

func (s *stubCanon) EnsureCanonical(ctx context.Context, inputPath string) (string, media.Descriptor, error) {
	s.calls++
	if s.err != nil {
		return "", media.Descriptor{}, s.err
	}
	if s.out == "" {
		return inputPath, media.Descriptor{Duration: 30}, nil
	}
	return s.out, media.Descriptor{Duration: 30}, nil
}

type stubTranscriber struct {
	calls int
	text  string
	err   error
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audioPath, language, model string) (*types.TranscriptionResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &types.TranscriptionResult{Text: s.text, Language: language}, nil
}

type memStore struct {
	saved int
	fail  bool
}

func (m *memStore) SaveTranscript(requestName string, result *types.TranscriptionResult) (string, error) {
	if m.fail {
		return "", errors.New("disk full")
	}
	m.saved++
	return "/outputs/" + requestName + ".txt", nil
}

type stubArchiver struct {
	calls int
	err   error
}

func (s *stubArchiver) Archive(ctx context.Context, requestName string, result *types.TranscriptionResult) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "https://drive.google.com/file/d/stub/view", nil
}

func writeMedia(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.wav")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newPipeline(canon *stubCanon, tr *stubTranscriber, store *memStore, arch Archiver, c *cache.Cache) *Pipeline {
	return New(canon, tr, postprocess.Noop{}, c, store, arch, "small", "pt", zerolog.Nop())
}

func TestRunHappyPath(t *testing.T) {
	canon := &stubCanon{}
	tr := &stubTranscriber{text: "ola mundo"}
	store := &memStore{}
	p := newPipeline(canon, tr, store, nil, nil)

	task := queue.NewTask("t1", "clip.wav", types.SourceUpload, writeMedia(t, "audio"))
	resp, err := p.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !resp.Success || resp.Result.Text != "ola mundo" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Result.WordCount != 2 {
		t.Errorf("WordCount = %d, want 2", resp.Result.WordCount)
	}
	if resp.Result.Duration != 30 {
		t.Errorf("Duration = %v, want probe fallback 30", resp.Result.Duration)
	}
	if resp.Result.LocalPath == "" {
		t.Error("LocalPath not set")
	}
	if store.saved != 1 {
		t.Errorf("transcript saved %d times", store.saved)
	}
}

func TestRunServesCacheHit(t *testing.T) {
	c := cache.New(cache.Config{MaxEntries: 10, TTL: time.Hour}, zerolog.Nop())
	canon := &stubCanon{}
	tr := &stubTranscriber{text: "primeira vez"}
	p := newPipeline(canon, tr, &memStore{}, nil, c)

	path := writeMedia(t, "same bytes")
	first := queue.NewTask("t1", "a.wav", types.SourceUpload, path)
	if _, err := p.Run(context.Background(), first); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	second := queue.NewTask("t2", "b.wav", types.SourceUpload, path)
	resp, err := p.Run(context.Background(), second)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !resp.Cached {
		t.Error("second run should come from cache")
	}
	if resp.TaskID != "t2" {
		t.Errorf("cached response carries TaskID %q, want the new task's id", resp.TaskID)
	}
	if canon.calls != 1 || tr.calls != 1 {
		t.Errorf("conversion/transcription ran again: canon=%d transcribe=%d", canon.calls, tr.calls)
	}
}

func TestRunRemovesIntermediateFile(t *testing.T) {
	intermediate := filepath.Join(t.TempDir(), "canonical.wav")
	if err := os.WriteFile(intermediate, []byte("wav"), 0644); err != nil {
		t.Fatal(err)
	}
	canon := &stubCanon{out: intermediate}
	p := newPipeline(canon, &stubTranscriber{text: "x"}, &memStore{}, nil, nil)

	task := queue.NewTask("t1", "clip.mp4", types.SourceUpload, writeMedia(t, "video"))
	if _, err := p.Run(context.Background(), task); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(intermediate); !os.IsNotExist(err) {
		t.Error("intermediate canonical file should be removed")
	}
}

func TestRunArchiveFailureIsNonFatal(t *testing.T) {
	arch := &stubArchiver{err: errors.New("drive unavailable")}
	p := newPipeline(&stubCanon{}, &stubTranscriber{text: "x"}, &memStore{}, arch, nil)

	task := queue.NewTask("t1", "clip.wav", types.SourceUpload, writeMedia(t, "audio"))
	resp, err := p.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !resp.Success {
		t.Error("archive failure must not fail the task")
	}
	if resp.Result.ArchiveURL != "" {
		t.Errorf("ArchiveURL = %q, want empty", resp.Result.ArchiveURL)
	}
	if arch.calls != 3 {
		t.Errorf("archiver tried %d times, want 3 attempts", arch.calls)
	}
}

func TestRunTranscribeErrorPropagates(t *testing.T) {
	tr := &stubTranscriber{err: faults.New(faults.KindTranscriptionFailed, "model crashed")}
	p := newPipeline(&stubCanon{}, tr, &memStore{}, nil, nil)

	task := queue.NewTask("t1", "clip.wav", types.SourceUpload, writeMedia(t, "audio"))
	if _, err := p.Run(context.Background(), task); faults.KindOf(err) != faults.KindTranscriptionFailed {
		t.Errorf("err = %v, want transcription_failed kind", err)
	}
}

func TestRunSaveFailureIsRetryable(t *testing.T) {
	p := newPipeline(&stubCanon{}, &stubTranscriber{text: "x"}, &memStore{fail: true}, nil, nil)

	task := queue.NewTask("t1", "clip.wav", types.SourceUpload, writeMedia(t, "audio"))
	_, err := p.Run(context.Background(), task)
	if err == nil {
		t.Fatal("expected error")
	}
	if !faults.IsRetryable(err) {
		t.Errorf("save failure should be retryable, got %v", err)
	}
}
