package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/faults"
	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.wav")
	if err := os.WriteFile(path, []byte("fake audio"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitForState(t *testing.T, wp *WorkerPool, taskID, want string) *Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := wp.Status(taskID)
		if err == nil && snap.State == want {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap, _ := wp.Status(taskID)
	if snap != nil {
		t.Fatalf("task never reached %s, last state %s (error %q)", want, snap.State, snap.Error)
	}
	t.Fatalf("task never reached %s", want)
	return nil
}

func TestProcessSuccess(t *testing.T) {
	runner := func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error) {
		return &types.TranscriptionResponse{
			Success: true,
			Result:  &types.TranscriptionResult{Text: "hello world", WordCount: 2},
		}, nil
	}
	wp := NewWorkerPool(PoolConfig{Workers: 1}, runner, nil, nil, testLogger())
	wp.Start()
	defer wp.Stop()

	path := writeInput(t)
	task := NewTask(uuid.New().String(), "clip.wav", types.SourceUpload, path)
	if err := wp.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitForState(t, wp, task.ID, types.StateSuccess)
	if snap.Result == nil || snap.Result.Result.Text != "hello world" {
		t.Errorf("unexpected result: %+v", snap.Result)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("input file should be removed after terminal state")
	}
}

func TestMissingFileFailsWithoutStarting(t *testing.T) {
	var started atomic.Int32
	runner := func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error) {
		started.Add(1)
		return nil, nil
	}
	wp := NewWorkerPool(PoolConfig{Workers: 1}, runner, nil, nil, testLogger())
	wp.Start()
	defer wp.Stop()

	task := NewTask(uuid.New().String(), "gone.wav", types.SourceUpload, "/nonexistent/gone.wav")
	if err := wp.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitForState(t, wp, task.ID, types.StateFailure)
	if !strings.Contains(snap.Error, "file not found") {
		t.Errorf("error = %q, want mention of file not found", snap.Error)
	}
	if got := started.Load(); got != 0 {
		t.Errorf("runner invoked %d times, want 0", got)
	}
}

func TestSoftDeadlineProducesTimeoutFailure(t *testing.T) {
	runner := func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Second):
			return &types.TranscriptionResponse{Success: true}, nil
		}
	}
	wp := NewWorkerPool(PoolConfig{
		Workers:      1,
		SoftDeadline: 50 * time.Millisecond,
		HardDeadline: 5 * time.Second,
	}, runner, nil, nil, testLogger())
	wp.Start()
	defer wp.Stop()

	task := NewTask(uuid.New().String(), "slow.wav", types.SourceUpload, writeInput(t))
	if err := wp.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitForState(t, wp, task.ID, types.StateFailure)
	if !strings.Contains(snap.Error, "timeout") {
		t.Errorf("error = %q, want a timeout reason", snap.Error)
	}
}

func TestRetryableErrorRetriedUpToBound(t *testing.T) {
	var attempts atomic.Int32
	runner := func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error) {
		attempts.Add(1)
		return nil, faults.New(faults.KindTransientIO, "connection reset")
	}
	wp := NewWorkerPool(PoolConfig{
		Workers:    1,
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	}, runner, nil, nil, testLogger())
	wp.Start()
	defer wp.Stop()

	task := NewTask(uuid.New().String(), "flaky.wav", types.SourceUpload, writeInput(t))
	if err := wp.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitForState(t, wp, task.ID, types.StateFailure)
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", got)
	}
	if snap.RetriesUsed != 2 {
		t.Errorf("RetriesUsed = %d, want 2", snap.RetriesUsed)
	}
}

func TestNonRetryableErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	runner := func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error) {
		attempts.Add(1)
		return nil, faults.New(faults.KindInvalidMedia, "no audio stream")
	}
	wp := NewWorkerPool(PoolConfig{
		Workers:    1,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	}, runner, nil, nil, testLogger())
	wp.Start()
	defer wp.Stop()

	task := NewTask(uuid.New().String(), "bad.wav", types.SourceUpload, writeInput(t))
	if err := wp.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitForState(t, wp, task.ID, types.StateFailure)
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
	if snap.ErrorKind != faults.KindInvalidMedia.String() {
		t.Errorf("ErrorKind = %q, want %q", snap.ErrorKind, faults.KindInvalidMedia.String())
	}
}

func TestWebhookDelivered(t *testing.T) {
	received := make(chan types.TranscriptionResponse, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload types.TranscriptionResponse
		_ = json.NewDecoder(r.Body).Decode(&payload)
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	runner := func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error) {
		return &types.TranscriptionResponse{
			Success: true,
			Result:  &types.TranscriptionResult{Text: "done"},
		}, nil
	}
	wp := NewWorkerPool(PoolConfig{Workers: 1}, runner, nil,
		NewWebhookNotifier(2*time.Second, testLogger()), testLogger())
	wp.Start()
	defer wp.Stop()

	task := NewTask(uuid.New().String(), "clip.wav", types.SourceUpload, writeInput(t))
	task.WebhookURL = srv.URL
	if err := wp.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitForState(t, wp, task.ID, types.StateSuccess)
	select {
	case payload := <-received:
		if payload.TaskID != task.ID || !payload.Success {
			t.Errorf("unexpected webhook payload: %+v", payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook never delivered")
	}
}

func TestWebhookFailureDoesNotAlterState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	runner := func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error) {
		return &types.TranscriptionResponse{Success: true}, nil
	}
	wp := NewWorkerPool(PoolConfig{Workers: 1}, runner, nil,
		NewWebhookNotifier(2*time.Second, testLogger()), testLogger())
	wp.Start()
	defer wp.Stop()

	task := NewTask(uuid.New().String(), "clip.wav", types.SourceUpload, writeInput(t))
	task.WebhookURL = srv.URL
	if err := wp.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitForState(t, wp, task.ID, types.StateSuccess)
	if snap.State != types.StateSuccess {
		t.Errorf("state = %s, want SUCCESS despite webhook failure", snap.State)
	}
}

func TestCancelPendingTask(t *testing.T) {
	block := make(chan struct{})
	runner := func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error) {
		<-block
		return &types.TranscriptionResponse{Success: true}, nil
	}
	wp := NewWorkerPool(PoolConfig{Workers: 1, QueueSize: 10}, runner, nil, nil, testLogger())
	wp.Start()
	defer func() {
		close(block)
		wp.Stop()
	}()

	// Occupy the single worker so the second task stays pending.
	first := NewTask(uuid.New().String(), "busy.wav", types.SourceUpload, writeInput(t))
	if err := wp.Submit(first); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForState(t, wp, first.ID, types.StateStarted)

	pending := NewTask(uuid.New().String(), "waiting.wav", types.SourceUpload, writeInput(t))
	if err := wp.Submit(pending); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := wp.Cancel(pending.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	snap, err := wp.Status(pending.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != types.StateFailure || !strings.Contains(snap.Error, "cancelled") {
		t.Errorf("state = %s error = %q, want cancelled failure", snap.State, snap.Error)
	}
}

func TestCancelTerminalTaskTooLate(t *testing.T) {
	runner := func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error) {
		return &types.TranscriptionResponse{Success: true}, nil
	}
	wp := NewWorkerPool(PoolConfig{Workers: 1}, runner, nil, nil, testLogger())
	wp.Start()
	defer wp.Stop()

	task := NewTask(uuid.New().String(), "clip.wav", types.SourceUpload, writeInput(t))
	if err := wp.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForState(t, wp, task.ID, types.StateSuccess)

	if err := wp.Cancel(task.ID); err != ErrTooLate {
		t.Errorf("Cancel after terminal state = %v, want ErrTooLate", err)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	wp := NewWorkerPool(PoolConfig{Workers: 1}, nil, nil, nil, testLogger())
	if err := wp.Cancel("no-such-id"); err != ErrTaskNotFound {
		t.Errorf("Cancel = %v, want ErrTaskNotFound", err)
	}
}

func TestQueueFullRejectsSubmit(t *testing.T) {
	block := make(chan struct{})
	runner := func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error) {
		<-block
		return &types.TranscriptionResponse{Success: true}, nil
	}
	wp := NewWorkerPool(PoolConfig{Workers: 1, QueueSize: 1}, runner, nil, nil, testLogger())
	wp.Start()
	defer func() {
		close(block)
		wp.Stop()
	}()

	first := NewTask(uuid.New().String(), "a.wav", types.SourceUpload, writeInput(t))
	if err := wp.Submit(first); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForState(t, wp, first.ID, types.StateStarted)

	second := NewTask(uuid.New().String(), "b.wav", types.SourceUpload, writeInput(t))
	if err := wp.Submit(second); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	third := NewTask(uuid.New().String(), "c.wav", types.SourceUpload, writeInput(t))
	if err := wp.Submit(third); err != ErrQueueFull {
		t.Fatalf("Submit with full queue = %v, want ErrQueueFull", err)
	}
	snap, err := wp.Status(third.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != types.StateFailure {
		t.Errorf("rejected task state = %s, want FAILURE", snap.State)
	}
}

func TestTerminalTaskEvictedFromRegistry(t *testing.T) {
	runner := func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error) {
		return &types.TranscriptionResponse{Success: true}, nil
	}
	wp := NewWorkerPool(PoolConfig{
		Workers:           1,
		TerminalRetention: 20 * time.Millisecond,
	}, runner, nil, nil, testLogger())
	wp.Start()
	defer wp.Stop()

	for i := 0; i < 5; i++ {
		task := NewTask(uuid.New().String(), "clip.wav", types.SourceUpload, writeInput(t))
		if err := wp.Submit(task); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		waitForState(t, wp, task.ID, types.StateSuccess)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		wp.mu.RLock()
		n := len(wp.tasks)
		wp.mu.RUnlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	wp.mu.RLock()
	n := len(wp.tasks)
	wp.mu.RUnlock()
	t.Fatalf("registry holds %d finished tasks, want 0 after retention window", n)
}

func TestCancelRunningTaskReportsCancelled(t *testing.T) {
	runner := func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	wp := NewWorkerPool(PoolConfig{
		Workers:      1,
		SoftDeadline: 10 * time.Second,
	}, runner, nil, nil, testLogger())
	wp.Start()
	defer wp.Stop()

	task := NewTask(uuid.New().String(), "running.wav", types.SourceUpload, writeInput(t))
	if err := wp.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForState(t, wp, task.ID, types.StateStarted)

	if err := wp.Cancel(task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	snap := waitForState(t, wp, task.ID, types.StateFailure)
	if !strings.Contains(snap.Error, "cancelled") {
		t.Errorf("error = %q, want mention of cancellation", snap.Error)
	}
	if strings.Contains(snap.Error, "timeout") {
		t.Errorf("error = %q, cancel must not read as a timeout", snap.Error)
	}
}

func TestStopDuringScheduledRetry(t *testing.T) {
	runner := func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error) {
		return nil, faults.New(faults.KindTransientIO, "connection reset")
	}
	wp := NewWorkerPool(PoolConfig{
		Workers:    1,
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
	}, runner, nil, nil, testLogger())
	wp.Start()

	task := NewTask(uuid.New().String(), "flaky.wav", types.SourceUpload, writeInput(t))
	if err := wp.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForState(t, wp, task.ID, types.StateRetry)

	// Shut down while the backoff timer is pending, then let it fire.
	wp.Stop()
	time.Sleep(300 * time.Millisecond)

	snap, err := wp.Status(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != types.StateRetry {
		t.Errorf("state = %s, want RETRY preserved after shutdown", snap.State)
	}
}

func TestStatusUnknownTask(t *testing.T) {
	wp := NewWorkerPool(PoolConfig{}, nil, nil, nil, testLogger())
	if _, err := wp.Status("missing"); err != ErrTaskNotFound {
		t.Errorf("Status = %v, want ErrTaskNotFound", err)
	}
}
