package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot captures host resource usage at a single instant. It is
// recomputed fresh for every admission decision.
type Snapshot struct {
	RAMPercent   float64 `json:"ram_percent"`
	RAMAvailable uint64  `json:"ram_available_bytes"`
	DiskPercent  float64 `json:"disk_percent"`
	DiskFree     uint64  `json:"disk_free_bytes"`
	TempDirSize  int64   `json:"temp_dir_size_bytes"`
}

// MetricsProvider reads host memory and disk usage. The production
// implementation uses gopsutil; tests inject synthetic values.
type MetricsProvider interface {
	Memory() (percent float64, available uint64, err error)
	Disk(path string) (percent float64, free uint64, err error)
}

// Config holds the guard's admission thresholds.
type Config struct {
	RAMCriticalPercent  float64 // reject everything above this
	RAMUploadPercent    float64 // stricter upload guard
	RAMWarningPercent   float64 // observability only, never blocks
	DiskCriticalPercent float64
	TempDirMaxSize      int64 // bytes
	EvictAge            time.Duration
}

// Guard makes admission decisions from fresh resource snapshots and
// owns eviction of stale temp files.
type Guard struct {
	cfg     Config
	tempDir string
	metrics MetricsProvider
	log     zerolog.Logger
}

// New creates a resource guard over tempDir.
func New(cfg Config, tempDir string, metrics MetricsProvider, log zerolog.Logger) *Guard {
	if cfg.RAMCriticalPercent == 0 {
		cfg.RAMCriticalPercent = 90
	}
	if cfg.RAMUploadPercent == 0 {
		cfg.RAMUploadPercent = 80
	}
	if cfg.RAMWarningPercent == 0 {
		cfg.RAMWarningPercent = 75
	}
	if cfg.DiskCriticalPercent == 0 {
		cfg.DiskCriticalPercent = 90
	}
	if cfg.TempDirMaxSize == 0 {
		cfg.TempDirMaxSize = 5000 * 1024 * 1024
	}
	if cfg.EvictAge == 0 {
		cfg.EvictAge = time.Hour
	}
	return &Guard{
		cfg:     cfg,
		tempDir: tempDir,
		metrics: metrics,
		log:     log.With().Str("component", "guard").Logger(),
	}
}

// Snapshot reads current host usage. Never cached.
func (g *Guard) Snapshot() (Snapshot, error) {
	ramPct, ramAvail, err := g.metrics.Memory()
	if err != nil {
		return Snapshot{}, fmt.Errorf("memory probe: %w", err)
	}
	diskPct, diskFree, err := g.metrics.Disk(g.tempDir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("disk probe: %w", err)
	}
	return Snapshot{
		RAMPercent:   ramPct,
		RAMAvailable: ramAvail,
		DiskPercent:  diskPct,
		DiskFree:     diskFree,
		TempDirSize:  g.tempDirSize(),
	}, nil
}

// ShouldAdmit decides whether an upload of uploadSize bytes may be
// accepted. Checks run in order and short-circuit on the first
// violation. A failed metrics probe rejects conservatively: a false
// rejection delays one request, a false admission can crash the node.
func (g *Guard) ShouldAdmit(uploadSize int64) (bool, string) {
	snap, err := g.Snapshot()
	if err != nil {
		g.log.Error().Err(err).Msg("Resource metrics unavailable, rejecting")
		return false, "resource metrics unavailable"
	}

	if snap.RAMPercent > g.cfg.RAMWarningPercent && snap.RAMPercent <= g.cfg.RAMUploadPercent {
		g.log.Warn().Float64("ram_percent", snap.RAMPercent).Msg("RAM in warning band")
	}

	if snap.RAMPercent > g.cfg.RAMCriticalPercent {
		g.log.Error().Float64("ram_percent", snap.RAMPercent).Msg("Rejecting upload: RAM critical")
		return false, "memory critical"
	}

	if snap.RAMPercent > g.cfg.RAMUploadPercent {
		g.log.Warn().Float64("ram_percent", snap.RAMPercent).Msg("Rejecting upload: RAM near limit")
		return false, "memory near limit"
	}

	if snap.DiskFree < uint64(2*uploadSize) {
		g.log.Warn().
			Uint64("disk_free", snap.DiskFree).
			Int64("upload_size", uploadSize).
			Msg("Rejecting upload: insufficient disk")
		return false, "insufficient disk"
	}

	if snap.TempDirSize+uploadSize > g.cfg.TempDirMaxSize {
		count, freed := g.EvictStale(g.cfg.EvictAge)
		g.log.Info().Int("evicted", count).Int64("bytes_freed", freed).Msg("Temp quota pressure, evicted stale files")
		if g.tempDirSize()+uploadSize > g.cfg.TempDirMaxSize {
			return false, "temp quota exceeded"
		}
	}

	return true, ""
}

// EvictStale deletes temp files older than maxAge. Individual deletion
// failures are logged and skipped; the sweep always completes.
func (g *Guard) EvictStale(maxAge time.Duration) (int, int64) {
	now := time.Now()
	var count int
	var freed int64

	err := filepath.Walk(g.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if now.Sub(info.ModTime()) <= maxAge {
			return nil
		}
		size := info.Size()
		if err := os.Remove(path); err != nil {
			g.log.Warn().Str("path", path).Err(err).Msg("Failed to evict temp file")
			return nil
		}
		count++
		freed += size
		return nil
	})
	if err != nil {
		g.log.Warn().Err(err).Msg("Temp dir sweep error")
	}

	if count > 0 {
		g.log.Info().
			Int("files", count).
			Str("freed", fmt.Sprintf("%.2fMB", float64(freed)/(1024*1024))).
			Msg("Evicted stale temp files")
	}
	return count, freed
}

// tempDirSize walks the temp directory summing file sizes. Unreadable
// entries are skipped.
func (g *Guard) tempDirSize() int64 {
	var total int64
	_ = filepath.Walk(g.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}
