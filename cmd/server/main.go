package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/cache"
	"github.com/codebuildervaibhav/media-transcription/internal/cleanup"
	"github.com/codebuildervaibhav/media-transcription/internal/config"
	"github.com/codebuildervaibhav/media-transcription/internal/convert"
	"github.com/codebuildervaibhav/media-transcription/internal/guard"
	"github.com/codebuildervaibhav/media-transcription/internal/handlers"
	"github.com/codebuildervaibhav/media-transcription/internal/media"
	"github.com/codebuildervaibhav/media-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/media-transcription/internal/postprocess"
	"github.com/codebuildervaibhav/media-transcription/internal/queue"
	"github.com/codebuildervaibhav/media-transcription/internal/storage"
	"github.com/codebuildervaibhav/media-transcription/internal/transcribe"
)

const version = "1.0.0"

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stdout and into a ring buffer served by /logs.
	logBuffer := &LogBuffer{lines: make([]string, 0, 1000)}
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log := zerolog.New(zerolog.MultiLevelWriter(consoleWriter, logBuffer)).
		With().Timestamp().Logger()

	if err := cleanup.EnsureTempDirExists(cfg.Storage.TempDir); err != nil {
		log.Fatal().Err(err).Msg("Failed to create temp directory")
	}
	if err := os.MkdirAll(cfg.Storage.OutputDir, 0755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create output directory")
	}

	log.Info().Str("config", configPath).Msg("Initializing components")

	prober := media.NewProber(10*time.Second, log)
	converter := convert.NewClient(convert.ClientConfig{
		BaseURL:         cfg.Converter.BaseURL,
		Enabled:         cfg.Converter.Enabled,
		RequestTimeout:  cfg.RequestTimeout(),
		PollingTimeout:  cfg.PollingTimeout(),
		PollingInterval: cfg.PollingInterval(),
		MaxRetries:      cfg.Converter.MaxRetries,
	}, log)
	orchestrator := convert.NewOrchestrator(prober, converter, cfg.Storage.TempDir, log)

	device := transcribe.DetectDevice(cfg.Whisper.Device, log)
	transcriber := transcribe.NewWhisperTranscriber(cfg.Whisper.Model, device, cfg.Storage.TempDir, log)

	resultCache := cache.New(cache.Config{
		MaxEntries:  cfg.Cache.MaxEntries,
		TTL:         cfg.CacheTTL(),
		DiskDir:     filepath.Join(cfg.Storage.TempDir, "cache"),
		DiskEnabled: cfg.Cache.DiskEnabled,
	}, log)

	localStorage := storage.NewLocalStorage(cfg.Storage.OutputDir, cfg.Whisper.Model)

	// Drive archival is optional and degrades to local-only storage.
	var archiver pipeline.Archiver
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		drive, err := storage.NewDriveArchiver(context.Background(),
			cfg.GoogleDrive.CredentialsFile, cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName, cfg.Whisper.Model, log)
		if err != nil {
			log.Warn().Err(err).Msg("Google Drive not available, saving locally only")
		} else {
			archiver = drive
			log.Info().Msg("Google Drive archival enabled")
		}
	} else {
		log.Info().Msg("Google Drive credentials not found, saving locally only")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Database), 0755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create database directory")
	}
	store, err := queue.NewStore(cfg.Storage.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize task database")
	}
	defer store.Close()

	pipe := pipeline.New(orchestrator, transcriber, postprocess.NewNormalizer(),
		resultCache, localStorage, archiver, cfg.Whisper.Model, cfg.Whisper.Language, log)

	notifier := queue.NewWebhookNotifier(10*time.Second, log)
	pool := queue.NewWorkerPool(queue.PoolConfig{
		Workers:          cfg.Workers.Count,
		QueueSize:        cfg.Workers.QueueSize,
		MaxRetries:       cfg.Tasks.MaxRetries,
		RetryDelay:       cfg.RetryDelay(),
		SoftDeadline:     cfg.SoftDeadline(),
		HardDeadline:     cfg.HardDeadline(),
		WebhookOnFailure: cfg.WebhookOnFailure(),
	}, pipe.Runner(), store, notifier, log)
	pool.Start()

	resourceGuard := guard.New(guard.Config{
		RAMCriticalPercent:  cfg.Resources.RAMCriticalPercent,
		RAMUploadPercent:    cfg.Resources.RAMUploadPercent,
		RAMWarningPercent:   cfg.Resources.RAMWarningPercent,
		DiskCriticalPercent: cfg.Resources.DiskCriticalPercent,
		TempDirMaxSize:      cfg.Resources.TempDirMaxSizeMB * 1024 * 1024,
	}, cfg.Storage.TempDir, guard.HostMetrics{}, log)

	scheduler := cleanup.NewScheduler(resourceGuard,
		time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Cleanup.MaxAgeHours)*time.Hour, log)
	scheduler.Start()
	defer scheduler.Stop()

	app := fiber.New(fiber.Config{
		BodyLimit: cfg.Limits.MaxFileSizeMB * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{Output: io.MultiWriter(os.Stdout, logBuffer)}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	transcribeHandler := handlers.NewTranscribeHandler(pool, resourceGuard, cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB, log)
	remoteHandler := handlers.NewRemoteHandler(pool, resourceGuard, cfg.Storage.TempDir, log)
	batchHandler := handlers.NewBatchHandler(pool, resourceGuard, cfg.Storage.TempDir, log)
	streamHandler := handlers.NewStreamHandler(pool, resourceGuard, cfg.Storage.TempDir, log)
	taskHandler := handlers.NewTaskHandler(pool)
	systemHandler := handlers.NewSystemHandler(resourceGuard, resultCache, converter, pool, version)

	app.Get("/health", systemHandler.Health)
	app.Post("/transcribe", transcribeHandler.Handle)
	app.Post("/remote", remoteHandler.Handle)
	app.Post("/batch", batchHandler.Handle)
	app.Get("/ws/stream", websocket.New(streamHandler.Handle))

	app.Get("/tasks", taskHandler.List)
	app.Get("/tasks/:id", taskHandler.Status)
	app.Delete("/tasks/:id", taskHandler.Cancel)

	app.Get("/system/resources", systemHandler.Resources)
	app.Get("/system/remote", systemHandler.Remote)
	app.Get("/cache/stats", systemHandler.CacheStats)
	app.Post("/cache/clear", systemHandler.CacheClear)

	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"logs": logBuffer.GetLogs()})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info().Str("addr", addr).Msg("Server starting")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info().Msg("Shutting down gracefully")
		_ = app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}

	pool.Stop()
}

// LogBuffer captures recent log lines in memory for the /logs endpoint.
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}
	return len(p), nil
}

// GetLogs returns a copy of the buffered lines.
func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}
