package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Whisper struct {
		Model    string `yaml:"model"`
		Language string `yaml:"language"`
		Device   string `yaml:"device"`
	} `yaml:"whisper"`

	Workers struct {
		Count     int `yaml:"count"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"workers"`

	Converter struct {
		BaseURL         string  `yaml:"base_url"`
		Enabled         bool    `yaml:"enabled"`
		RequestTimeout  int     `yaml:"request_timeout_seconds"`
		PollingTimeout  int     `yaml:"polling_timeout_seconds"`
		PollingInterval float64 `yaml:"polling_interval_seconds"`
		MaxRetries      int     `yaml:"max_retries"`
	} `yaml:"converter"`

	Resources struct {
		RAMCriticalPercent  float64 `yaml:"ram_critical_percent"`
		RAMUploadPercent    float64 `yaml:"ram_upload_percent"`
		RAMWarningPercent   float64 `yaml:"ram_warning_percent"`
		DiskCriticalPercent float64 `yaml:"disk_critical_percent"`
		TempDirMaxSizeMB    int64   `yaml:"temp_dir_max_size_mb"`
	} `yaml:"resources"`

	Cache struct {
		MaxEntries  int  `yaml:"max_entries"`
		TTLSeconds  int  `yaml:"ttl_seconds"`
		DiskEnabled bool `yaml:"disk_enabled"`
	} `yaml:"cache"`

	Tasks struct {
		MaxRetries        int  `yaml:"max_retries"`
		RetryDelaySeconds int  `yaml:"retry_delay_seconds"`
		SoftDeadlineMin   int  `yaml:"soft_deadline_minutes"`
		HardDeadlineMin   int  `yaml:"hard_deadline_minutes"`
		// Pointer so an explicit false survives defaulting.
		WebhookOnFailure *bool `yaml:"webhook_on_failure"`
	} `yaml:"tasks"`

	Storage struct {
		TempDir   string `yaml:"temp_dir"`
		OutputDir string `yaml:"output_dir"`
		Database  string `yaml:"database"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`
}

// Load reads the YAML config file, applies defaults, then overlays
// environment variables. A .env file next to the binary is honored
// when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(file, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Whisper.Model == "" {
		c.Whisper.Model = "small"
	}
	if c.Workers.Count == 0 {
		c.Workers.Count = 2
	}
	if c.Workers.QueueSize == 0 {
		c.Workers.QueueSize = 100
	}
	if c.Converter.BaseURL == "" {
		c.Converter.BaseURL = "http://localhost:8591"
		c.Converter.Enabled = true
	}
	if c.Converter.RequestTimeout == 0 {
		c.Converter.RequestTimeout = 600
	}
	if c.Converter.PollingTimeout == 0 {
		c.Converter.PollingTimeout = 300
	}
	if c.Converter.PollingInterval == 0 {
		c.Converter.PollingInterval = 0.5
	}
	if c.Converter.MaxRetries == 0 {
		c.Converter.MaxRetries = 2
	}
	if c.Resources.RAMCriticalPercent == 0 {
		c.Resources.RAMCriticalPercent = 90
	}
	if c.Resources.RAMUploadPercent == 0 {
		c.Resources.RAMUploadPercent = 80
	}
	if c.Resources.RAMWarningPercent == 0 {
		c.Resources.RAMWarningPercent = 75
	}
	if c.Resources.DiskCriticalPercent == 0 {
		c.Resources.DiskCriticalPercent = 90
	}
	if c.Resources.TempDirMaxSizeMB == 0 {
		c.Resources.TempDirMaxSizeMB = 5000
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 100
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 3600
	}
	if c.Tasks.MaxRetries == 0 {
		c.Tasks.MaxRetries = 3
	}
	if c.Tasks.RetryDelaySeconds == 0 {
		c.Tasks.RetryDelaySeconds = 60
	}
	if c.Tasks.SoftDeadlineMin == 0 {
		c.Tasks.SoftDeadlineMin = 28
	}
	if c.Tasks.HardDeadlineMin == 0 {
		c.Tasks.HardDeadlineMin = 30
	}
	if c.Tasks.WebhookOnFailure == nil {
		on := true
		c.Tasks.WebhookOnFailure = &on
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = "temp"
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = "outputs"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "data/tasks.db"
	}
	if c.Cleanup.IntervalMinutes == 0 {
		c.Cleanup.IntervalMinutes = 30
	}
	if c.Cleanup.MaxAgeHours == 0 {
		c.Cleanup.MaxAgeHours = 24
	}
	if c.Limits.MaxFileSizeMB == 0 {
		c.Limits.MaxFileSizeMB = 500
	}
}

// applyEnv overlays recognized environment variables onto the config.
func (c *Config) applyEnv() {
	envString("REMOTE_CONVERTER_URL", &c.Converter.BaseURL)
	envBool("REMOTE_CONVERTER_ENABLED", &c.Converter.Enabled)
	envInt("REMOTE_CONVERTER_TIMEOUT", &c.Converter.RequestTimeout)
	envInt("REMOTE_CONVERTER_POLLING_TIMEOUT", &c.Converter.PollingTimeout)
	envFloat("REMOTE_CONVERTER_POLLING_INTERVAL", &c.Converter.PollingInterval)
	envInt("REMOTE_CONVERTER_MAX_RETRIES", &c.Converter.MaxRetries)

	envFloat("MEMORY_CRITICAL_THRESHOLD_PERCENT", &c.Resources.RAMCriticalPercent)
	envFloat("MEMORY_UPLOAD_THRESHOLD_PERCENT", &c.Resources.RAMUploadPercent)
	envFloat("MEMORY_WARNING_THRESHOLD_PERCENT", &c.Resources.RAMWarningPercent)
	envFloat("DISK_CRITICAL_THRESHOLD_PERCENT", &c.Resources.DiskCriticalPercent)
	envInt64("TEMP_DIR_MAX_SIZE_MB", &c.Resources.TempDirMaxSizeMB)

	envInt("CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)
	envInt("CACHE_TTL_SECONDS", &c.Cache.TTLSeconds)
	envBool("CACHE_DISK_ENABLED", &c.Cache.DiskEnabled)

	envString("WHISPER_MODEL", &c.Whisper.Model)
	envString("WHISPER_LANGUAGE", &c.Whisper.Language)
	envString("WHISPER_DEVICE", &c.Whisper.Device)
}

// Helper accessors for durations derived from the numeric config values.

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Converter.RequestTimeout) * time.Second
}

func (c *Config) PollingTimeout() time.Duration {
	return time.Duration(c.Converter.PollingTimeout) * time.Second
}

func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.Converter.PollingInterval * float64(time.Second))
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c *Config) SoftDeadline() time.Duration {
	return time.Duration(c.Tasks.SoftDeadlineMin) * time.Minute
}

func (c *Config) HardDeadline() time.Duration {
	return time.Duration(c.Tasks.HardDeadlineMin) * time.Minute
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Tasks.RetryDelaySeconds) * time.Second
}

func (c *Config) WebhookOnFailure() bool {
	return c.Tasks.WebhookOnFailure != nil && *c.Tasks.WebhookOnFailure
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}
