package cleanup

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper removes stale temp files and reports what it freed.
type Sweeper interface {
	EvictStale(maxAge time.Duration) (int, int64)
}

// Scheduler runs periodic temp directory sweeps through the resource
// guard so eviction accounting stays in one place.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	maxAge   time.Duration
	stopChan chan struct{}
	log      zerolog.Logger
}

// NewScheduler creates a cleanup scheduler.
func NewScheduler(sweeper Sweeper, interval, maxAge time.Duration, log zerolog.Logger) *Scheduler {
	if interval == 0 {
		interval = 30 * time.Minute
	}
	if maxAge == 0 {
		maxAge = time.Hour
	}
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		maxAge:   maxAge,
		stopChan: make(chan struct{}),
		log:      log.With().Str("component", "cleanup").Logger(),
	}
}

// Start runs an initial sweep and then sweeps on the interval.
func (s *Scheduler) Start() {
	s.log.Info().Msg("Running initial temp file cleanup")
	s.sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	s.log.Info().
		Dur("interval", s.interval).
		Dur("max_age", s.maxAge).
		Msg("Cleanup scheduler started")
}

// Stop halts periodic sweeps.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.log.Info().Msg("Cleanup scheduler stopped")
}

func (s *Scheduler) sweep() {
	count, freed := s.sweeper.EvictStale(s.maxAge)
	if count > 0 {
		s.log.Info().
			Int("files", count).
			Float64("freed_mb", float64(freed)/(1024*1024)).
			Msg("Cleanup sweep complete")
	}
}

// EnsureTempDirExists creates the temp directory if it doesn't exist.
func EnsureTempDirExists(tempDir string) error {
	return os.MkdirAll(tempDir, 0755)
}
