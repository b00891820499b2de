package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/faults"
	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

// Runner executes the probe -> convert -> transcribe -> postprocess
// pipeline for one task. The pool owns the lifecycle around it.
type Runner func(ctx context.Context, task *Task) (*types.TranscriptionResponse, error)

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Workers           int
	QueueSize         int
	MaxRetries        int           // task-level retries for transient errors
	RetryDelay        time.Duration // base backoff, doubled per retry
	RetryDelayCap     time.Duration
	SoftDeadline      time.Duration // graceful abort
	HardDeadline      time.Duration // absolute limit
	TerminalRetention time.Duration // how long finished tasks stay in memory
	WebhookOnFailure  bool
}

func (c *PoolConfig) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = 2
	}
	if c.QueueSize == 0 {
		c.QueueSize = 100
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Minute
	}
	if c.RetryDelayCap == 0 {
		c.RetryDelayCap = 10 * time.Minute
	}
	if c.SoftDeadline == 0 {
		c.SoftDeadline = 28 * time.Minute
	}
	if c.HardDeadline == 0 {
		c.HardDeadline = 30 * time.Minute
	}
	if c.TerminalRetention == 0 {
		c.TerminalRetention = 5 * time.Minute
	}
}

// Errors returned by Submit and Cancel.
var (
	ErrQueueFull    = errors.New("task queue is full")
	ErrTaskNotFound = errors.New("task not found")
	ErrTooLate      = errors.New("task already finished, too late to cancel")
)

// WorkerPool owns the asynchronous task lifecycle: queueing, execution,
// retry, deadlines, cancellation, and webhook delivery.
type WorkerPool struct {
	cfg      PoolConfig
	queue    chan *Task
	runner   Runner
	store    *Store
	notifier *WebhookNotifier

	mu    sync.RWMutex
	tasks map[string]*Task

	stopMu   sync.Mutex // serializes queue sends with Stop's close
	stopped  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// NewWorkerPool creates a pool. store may be nil (no persistence) and
// notifier may be nil (webhooks disabled).
func NewWorkerPool(cfg PoolConfig, runner Runner, store *Store, notifier *WebhookNotifier, log zerolog.Logger) *WorkerPool {
	cfg.applyDefaults()
	return &WorkerPool{
		cfg:      cfg,
		queue:    make(chan *Task, cfg.QueueSize),
		runner:   runner,
		store:    store,
		notifier: notifier,
		tasks:    make(map[string]*Task),
		log:      log.With().Str("component", "pool").Logger(),
	}
}

// Start launches the workers.
func (wp *WorkerPool) Start() {
	wp.log.Info().Int("workers", wp.cfg.Workers).Msg("Starting worker pool")
	for i := 0; i < wp.cfg.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop signals workers to drain and waits for in-flight tasks.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.stopMu.Lock()
		wp.stopped = true
		close(wp.queue)
		wp.stopMu.Unlock()
	})
	wp.wg.Wait()
	wp.log.Info().Msg("Worker pool stopped")
}

var errPoolStopped = errors.New("worker pool stopped")

// enqueue performs a non-blocking send on the queue. Holding stopMu
// here means Stop cannot close the queue while a send is in flight.
func (wp *WorkerPool) enqueue(task *Task) error {
	wp.stopMu.Lock()
	defer wp.stopMu.Unlock()
	if wp.stopped {
		return errPoolStopped
	}
	select {
	case wp.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Submit accepts a task into the queue.
func (wp *WorkerPool) Submit(task *Task) error {
	wp.mu.Lock()
	wp.tasks[task.ID] = task
	wp.mu.Unlock()

	if wp.store != nil {
		if err := wp.store.SaveTask(task); err != nil {
			wp.log.Warn().Str("task_id", task.ID).Err(err).Msg("Failed to persist task")
		}
	}

	if err := wp.enqueue(task); err != nil {
		wp.failTask(task, faults.New(faults.KindResourceExhausted, "task queue is full"))
		return ErrQueueFull
	}
	wp.log.Info().
		Str("task_id", task.ID).
		Str("source", task.SourceType).
		Str("name", task.RequestName).
		Msg("Task enqueued")
	return nil
}

// Status returns a snapshot of the task, falling back to the persisted
// record for tasks no longer in memory.
func (wp *WorkerPool) Status(taskID string) (*Snapshot, error) {
	wp.mu.RLock()
	task, ok := wp.tasks[taskID]
	wp.mu.RUnlock()

	if ok {
		wp.mu.RLock()
		snap := task.snapshot()
		wp.mu.RUnlock()
		return &snap, nil
	}

	if wp.store != nil {
		if snap, err := wp.store.GetTask(taskID); err == nil {
			return snap, nil
		}
	}
	return nil, ErrTaskNotFound
}

// List returns recent task snapshots, preferring the persisted store
// so terminal tasks survive restarts.
func (wp *WorkerPool) List(limit int) ([]Snapshot, error) {
	if wp.store != nil {
		return wp.store.ListTasks(limit)
	}
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	out := make([]Snapshot, 0, len(wp.tasks))
	for _, t := range wp.tasks {
		out = append(out, t.snapshot())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// QueueDepth reports how many tasks are waiting for a worker.
func (wp *WorkerPool) QueueDepth() int {
	return len(wp.queue)
}

// Cancel requests cancellation. Pending tasks are cancelled immediately;
// started tasks are aborted best-effort via their context; terminal
// tasks return ErrTooLate.
func (wp *WorkerPool) Cancel(taskID string) error {
	wp.mu.Lock()
	task, ok := wp.tasks[taskID]
	if !ok {
		wp.mu.Unlock()
		return ErrTaskNotFound
	}

	switch {
	case types.IsTerminal(task.State):
		wp.mu.Unlock()
		return ErrTooLate
	case task.State == types.StatePending || task.State == types.StateRetry:
		task.cancelled = true
		task.State = types.StateFailure
		task.Error = "cancelled by caller"
		task.UpdatedAt = time.Now()
		wp.mu.Unlock()
		wp.persist(task)
		wp.removeInputFile(task)
		wp.scheduleEvict(task)
		wp.log.Info().Str("task_id", taskID).Msg("Pending task cancelled")
		return nil
	default: // STARTED
		task.cancelled = true
		cancel := task.cancel
		wp.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		wp.log.Info().Str("task_id", taskID).Msg("Cancellation requested for running task")
		return nil
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	wp.log.Debug().Int("worker", id).Msg("Worker started")

	for task := range wp.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					wp.log.Error().
						Int("worker", id).
						Str("task_id", task.ID).
						Interface("panic", r).
						Str("stack", string(debug.Stack())).
						Msg("Worker panic")
					wp.failTask(task, faults.Newf(faults.KindUnknown, "worker panic: %v", r))
				}
			}()
			wp.process(id, task)
		}()
	}
}

func (wp *WorkerPool) process(workerID int, task *Task) {
	wp.mu.Lock()
	if task.cancelled || types.IsTerminal(task.State) {
		wp.mu.Unlock()
		return
	}
	wp.mu.Unlock()

	// The input must exist before any stage runs. This also guards
	// retries: if the file vanished between attempts the task fails
	// fast instead of silently succeeding on empty input.
	if _, err := os.Stat(task.FilePath); err != nil {
		wp.failTask(task, faults.New(faults.KindInvalidMedia, "file not found"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wp.cfg.SoftDeadline)
	defer cancel()

	wp.mu.Lock()
	task.State = types.StateStarted
	task.UpdatedAt = time.Now()
	task.cancel = cancel
	wp.mu.Unlock()
	wp.persist(task)

	wp.log.Info().Int("worker", workerID).Str("task_id", task.ID).Msg("Processing task")
	started := time.Now()

	type outcome struct {
		resp *types.TranscriptionResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := wp.runner(ctx, task)
		done <- outcome{resp, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-time.After(wp.cfg.HardDeadline):
		// The soft deadline should have fired long before this; if a
		// stage ignored its context we abandon the goroutine and fail
		// the task so the slot is not lost forever.
		wp.log.Error().Str("task_id", task.ID).Msg("Hard deadline exceeded, abandoning task")
		wp.failTask(task, faults.New(faults.KindSoftTimeout, "hard deadline exceeded"))
		return
	}

	elapsed := time.Since(started).Seconds()

	if out.err != nil {
		wp.handleError(task, out.err, elapsed)
		return
	}
	if out.resp == nil {
		wp.failTask(task, faults.New(faults.KindUnknown, "empty result"))
		return
	}

	out.resp.TaskID = task.ID
	out.resp.ProcessingTime = elapsed

	wp.mu.Lock()
	task.State = types.StateSuccess
	task.Result = out.resp
	task.UpdatedAt = time.Now()
	wp.mu.Unlock()

	wp.persist(task)
	wp.removeInputFile(task)
	wp.notify(task)
	wp.scheduleEvict(task)
	wp.log.Info().
		Str("task_id", task.ID).
		Float64("seconds", elapsed).
		Bool("cached", out.resp.Cached).
		Msg("Task completed")
}

// scheduleEvict drops a finished task from the in-memory registry after
// the retention window. The sqlite record is the durable copy, and
// Status already falls back to it, so the map never grows unbounded.
func (wp *WorkerPool) scheduleEvict(task *Task) {
	time.AfterFunc(wp.cfg.TerminalRetention, func() {
		wp.mu.Lock()
		if cur, ok := wp.tasks[task.ID]; ok && types.IsTerminal(cur.State) {
			delete(wp.tasks, task.ID)
		}
		wp.mu.Unlock()
	})
}

func (wp *WorkerPool) handleError(task *Task, err error, elapsed float64) {
	wp.mu.Lock()
	cancelled := task.cancelled
	retries := task.RetriesUsed
	wp.mu.Unlock()

	// A caller cancel aborts via the same context the soft deadline
	// uses, so check the flag before classifying timeouts.
	if cancelled {
		wp.failTask(task, faults.New(faults.KindUnknown, "cancelled by caller"))
		return
	}

	// Soft-deadline breach is reported as a distinguishable timeout, not
	// a generic failure.
	if errors.Is(err, context.DeadlineExceeded) || faults.KindOf(err) == faults.KindSoftTimeout {
		wp.log.Warn().Str("task_id", task.ID).Float64("seconds", elapsed).Msg("Soft deadline reached, aborting task")
		wp.failTask(task, faults.New(faults.KindSoftTimeout, "processing time limit reached (soft timeout)"))
		return
	}

	if faults.IsRetryable(err) && retries < wp.cfg.MaxRetries {
		wp.scheduleRetry(task, err)
		return
	}

	wp.failTask(task, err)
}

// scheduleRetry re-queues the task after an exponential backoff. The
// input file is intentionally left on disk until a terminal state.
func (wp *WorkerPool) scheduleRetry(task *Task, cause error) {
	wp.mu.Lock()
	task.RetriesUsed++
	task.State = types.StateRetry
	task.Error = cause.Error()
	task.ErrorKind = faults.KindOf(cause).String()
	task.UpdatedAt = time.Now()
	attempt := task.RetriesUsed
	wp.mu.Unlock()
	wp.persist(task)

	delay := wp.cfg.RetryDelay << (attempt - 1)
	if delay > wp.cfg.RetryDelayCap {
		delay = wp.cfg.RetryDelayCap
	}

	wp.log.Warn().
		Str("task_id", task.ID).
		Int("retry", attempt).
		Dur("delay", delay).
		Err(cause).
		Msg("Scheduling task retry")

	time.AfterFunc(delay, func() {
		wp.mu.RLock()
		skip := task.cancelled || types.IsTerminal(task.State)
		wp.mu.RUnlock()
		if skip {
			return
		}
		switch wp.enqueue(task) {
		case nil, errPoolStopped:
		default:
			wp.failTask(task, faults.New(faults.KindResourceExhausted, "task queue is full"))
		}
	})
}

func (wp *WorkerPool) failTask(task *Task, err error) {
	kind := faults.KindOf(err)

	wp.mu.Lock()
	task.State = types.StateFailure
	task.Error = errMessage(err)
	task.ErrorKind = kind.String()
	task.UpdatedAt = time.Now()
	wp.mu.Unlock()

	wp.persist(task)
	wp.removeInputFile(task)
	wp.scheduleEvict(task)

	wp.log.Error().
		Str("task_id", task.ID).
		Str("kind", kind.String()).
		Msg("Task failed: " + task.Error)

	if wp.cfg.WebhookOnFailure {
		wp.notify(task)
	}
}

// errMessage strips the kind prefix for the user-visible message.
func errMessage(err error) string {
	var fe *faults.Error
	if errors.As(err, &fe) {
		if fe.Cause != nil {
			return fmt.Sprintf("%s: %v", fe.Msg, fe.Cause)
		}
		return fe.Msg
	}
	return err.Error()
}

// notify delivers the result to the task's webhook, if any. Delivery
// failure never alters the task's terminal state.
func (wp *WorkerPool) notify(task *Task) {
	if wp.notifier == nil || task.WebhookURL == "" {
		return
	}

	wp.mu.RLock()
	payload := types.TranscriptionResponse{
		Success: task.State == types.StateSuccess,
		TaskID:  task.ID,
		Error:   task.Error,
	}
	if task.Result != nil {
		payload = *task.Result
		payload.TaskID = task.ID
	}
	if task.ErrorKind != "" && task.ErrorKind != faults.KindUnknown.String() {
		payload.ErrorKind = task.ErrorKind
	}
	url := task.WebhookURL
	wp.mu.RUnlock()

	_ = wp.notifier.Notify(url, payload)
}

func (wp *WorkerPool) persist(task *Task) {
	if wp.store == nil {
		return
	}
	wp.mu.RLock()
	t := *task
	wp.mu.RUnlock()
	if err := wp.store.UpdateTask(&t); err != nil {
		wp.log.Warn().Str("task_id", task.ID).Err(err).Msg("Failed to persist task state")
	}
}

// removeInputFile deletes the task's input. Called only once the task
// has reached a terminal state.
func (wp *WorkerPool) removeInputFile(task *Task) {
	if task.FilePath == "" {
		return
	}
	if err := os.Remove(task.FilePath); err != nil && !os.IsNotExist(err) {
		wp.log.Warn().Str("path", task.FilePath).Err(err).Msg("Failed to remove input file")
	}
}
