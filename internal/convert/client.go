package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/faults"
)

// Failure reasons carried by the final ConversionFailed error.
const (
	ReasonTimeout      = "timeout"
	ReasonConnection   = "connection"
	ReasonRemoteFailed = "remote-failed"
	ReasonDownload     = "download-error"
	ReasonBadResponse  = "bad-response"
)

// ClientConfig configures the remote conversion client.
type ClientConfig struct {
	BaseURL         string
	Enabled         bool
	RequestTimeout  time.Duration // per-request ceiling for submit/download
	PollingTimeout  time.Duration // total budget for the status poll loop
	PollingInterval time.Duration
	MaxRetries      int // additional full-cycle attempts after the first
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	HealthTimeout   time.Duration
}

func (c *ClientConfig) applyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 600 * time.Second
	}
	if c.PollingTimeout == 0 {
		c.PollingTimeout = 300 * time.Second
	}
	if c.PollingInterval == 0 {
		c.PollingInterval = 500 * time.Millisecond
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = 5 * time.Second
	}
}

// Client talks to the remote conversion service. All real conversion goes
// through this client; there is no local conversion path.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates a client with a single pooled HTTP transport reused
// across calls.
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log.With().Str("component", "converter").Logger(),
	}
}

// attemptError classifies a single conversion cycle failure.
type attemptError struct {
	reason    string
	retryable bool
	cause     error
}

func (e *attemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.reason, e.cause)
}

// Convert runs the full submit -> poll -> download cycle, retrying the
// whole cycle with exponential backoff on retryable failures. The
// converted bytes are written to outputPath.
func (c *Client) Convert(ctx context.Context, inputPath, outputPath string, sampleRate, channels int) error {
	if !c.cfg.Enabled {
		return faults.New(faults.KindConversionFailed, "remote converter disabled")
	}

	var last *attemptError
	attempts := c.cfg.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.BackoffBase << (attempt - 1)
			if backoff > c.cfg.BackoffCap {
				backoff = c.cfg.BackoffCap
			}
			c.log.Warn().
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Str("reason", last.reason).
				Msg("Retrying remote conversion")
			if err := sleepCtx(ctx, backoff); err != nil {
				return faults.Wrap(faults.KindConversionFailed, "cancelled during backoff", err)
			}
		}

		err := c.convertOnce(ctx, inputPath, outputPath, sampleRate, channels)
		if err == nil {
			return nil
		}

		ae, ok := err.(*attemptError)
		if !ok {
			ae = &attemptError{reason: ReasonBadResponse, cause: err}
		}
		last = ae
		if !ae.retryable {
			break
		}
	}

	return faults.Wrap(faults.KindConversionFailed,
		fmt.Sprintf("remote conversion failed (%s)", last.reason), last.cause)
}

// convertOnce performs one submit -> poll -> download cycle.
func (c *Client) convertOnce(ctx context.Context, inputPath, outputPath string, sampleRate, channels int) error {
	jobID, err := c.submit(ctx, inputPath, sampleRate, channels)
	if err != nil {
		return err
	}
	c.log.Debug().Str("job_id", jobID).Msg("Conversion job accepted")

	if err := c.pollUntilDone(ctx, jobID); err != nil {
		return err
	}

	return c.download(ctx, jobID, outputPath)
}

// submit POSTs the file to /convert-async and returns the server-assigned
// job ID. Any status other than 202 is a hard failure for this attempt.
func (c *Client) submit(ctx context.Context, inputPath string, sampleRate, channels int) (string, error) {
	content, err := os.ReadFile(inputPath)
	if err != nil {
		return "", &attemptError{reason: ReasonBadResponse, cause: fmt.Errorf("read input: %w", err)}
	}
	if len(content) == 0 {
		return "", &attemptError{reason: ReasonBadResponse, cause: fmt.Errorf("input file is empty: %s", inputPath)}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", &attemptError{reason: ReasonBadResponse, cause: err}
	}
	if _, err := part.Write(content); err != nil {
		return "", &attemptError{reason: ReasonBadResponse, cause: err}
	}
	writer.WriteField("sample_rate", strconv.Itoa(sampleRate))
	writer.WriteField("channels", strconv.Itoa(channels))
	if err := writer.Close(); err != nil {
		return "", &attemptError{reason: ReasonBadResponse, cause: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		c.cfg.BaseURL+"/convert-async", &body)
	if err != nil {
		return "", &attemptError{reason: ReasonBadResponse, cause: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.log.Debug().
		Str("path", inputPath).
		Int("bytes", len(content)).
		Int("sample_rate", sampleRate).
		Int("channels", channels).
		Msg("Submitting file for remote conversion")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyNetErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &attemptError{
			reason:    ReasonConnection,
			retryable: true,
			cause:     fmt.Errorf("submit returned HTTP %d: %s", resp.StatusCode, string(b)),
		}
	}

	var accepted struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", &attemptError{reason: ReasonBadResponse, cause: fmt.Errorf("decode submit response: %w", err)}
	}
	if accepted.JobID == "" {
		return "", &attemptError{reason: ReasonBadResponse, cause: fmt.Errorf("no job_id in submit response")}
	}

	return accepted.JobID, nil
}

// pollUntilDone polls /convert-status/{id} until completed, failed, or
// the polling budget runs out. Individual poll failures are tolerated;
// only the budget bounds the loop.
func (c *Client) pollUntilDone(ctx context.Context, jobID string) error {
	deadline := time.Now().Add(c.cfg.PollingTimeout)

	for {
		if time.Now().After(deadline) {
			return &attemptError{
				reason: ReasonTimeout,
				cause:  fmt.Errorf("polling exceeded %s for job %s", c.cfg.PollingTimeout, jobID),
			}
		}

		status, err := c.pollOnce(ctx, jobID)
		if err != nil {
			// Transient poll failure, keep going until the deadline.
			c.log.Debug().Str("job_id", jobID).Err(err).Msg("Status poll failed")
			if serr := sleepCtx(ctx, c.cfg.PollingInterval); serr != nil {
				return &attemptError{reason: ReasonConnection, cause: serr}
			}
			continue
		}

		switch status.Status {
		case "completed":
			return nil
		case "failed":
			return &attemptError{
				reason: ReasonRemoteFailed,
				cause:  fmt.Errorf("remote conversion failed: %s", status.Error),
			}
		default:
			// queued, processing, or anything unrecognized: keep polling.
			if serr := sleepCtx(ctx, c.cfg.PollingInterval); serr != nil {
				return &attemptError{reason: ReasonConnection, cause: serr}
			}
		}
	}
}

type jobStatus struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Error    string `json:"error"`
}

func (c *Client) pollOnce(ctx context.Context, jobID string) (*jobStatus, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
		c.cfg.BaseURL+"/convert-status/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status poll returned HTTP %d", resp.StatusCode)
	}

	var status jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// download fetches the converted bytes and writes them to outputPath.
func (c *Client) download(ctx context.Context, jobID, outputPath string) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
		c.cfg.BaseURL+"/convert-download/"+jobID, nil)
	if err != nil {
		return &attemptError{reason: ReasonDownload, cause: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyNetErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &attemptError{
			reason:    ReasonDownload,
			retryable: true,
			cause:     fmt.Errorf("download returned HTTP %d", resp.StatusCode),
		}
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return &attemptError{reason: ReasonDownload, cause: fmt.Errorf("create output: %w", err)}
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		os.Remove(outputPath)
		return &attemptError{reason: ReasonDownload, retryable: true, cause: fmt.Errorf("write output: %w", err)}
	}

	c.log.Info().Str("job_id", jobID).Str("output", outputPath).Int64("bytes", n).Msg("Conversion downloaded")
	return nil
}

// IsAvailable probes /health with a short timeout. Advisory only;
// Convert does not consult it.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if !c.cfg.Enabled {
		return false
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// HealthInfo is the remote service's /health payload.
type HealthInfo struct {
	Status           string  `json:"status"`
	FFmpegAvailable  bool    `json:"ffmpeg_available"`
	DiskUsagePercent float64 `json:"disk_usage_percent"`
}

// ServiceStats is the remote service's /status payload.
type ServiceStats struct {
	QueueLength       int     `json:"queue_length"`
	ActiveJobs        int     `json:"active_jobs"`
	CompletedToday    int     `json:"completed_today"`
	FailedToday       int     `json:"failed_today"`
	AvgConversionTime float64 `json:"avg_conversion_time_seconds"`
}

// RemoteHealth fetches the remote /health payload.
func (c *Client) RemoteHealth(ctx context.Context) (*HealthInfo, error) {
	var info HealthInfo
	if err := c.getJSON(ctx, "/health", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RemoteStatus fetches the remote /status metrics.
func (c *Client) RemoteStatus(ctx context.Context) (*ServiceStats, error) {
	var stats ServiceStats
	if err := c.getJSON(ctx, "/status", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote %s returned HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// classifyNetErr maps transport-level failures onto attempt reasons.
// Connection and timeout errors are retryable.
func classifyNetErr(err error) *attemptError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &attemptError{reason: ReasonTimeout, retryable: true, cause: err}
	}
	return &attemptError{reason: ReasonConnection, retryable: true, cause: err}
}

// sleepCtx sleeps for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
