package media

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/faults"
)

// Descriptor describes a probed media file. Immutable, produced per probe.
type Descriptor struct {
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Codec      string  `json:"codec"`
	Container  string  `json:"container"`
	SizeBytes  int64   `json:"size_bytes"`
}

// Prober inspects media files with ffprobe.
type Prober struct {
	timeout time.Duration
	log     zerolog.Logger
}

// NewProber creates a prober with the given per-call timeout.
func NewProber(timeout time.Duration, log zerolog.Logger) *Prober {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Prober{timeout: timeout, log: log.With().Str("component", "probe").Logger()}
}

// Probe validates that path is readable media with at least one audio
// stream and returns its descriptor. Corrupt, unreadable, or audio-less
// files are reported as invalid media.
func (p *Prober) Probe(ctx context.Context, path string) (Descriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Descriptor{}, faults.Wrap(faults.KindInvalidMedia, "file not readable", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Descriptor{}, faults.Wrap(faults.KindInvalidMedia, "probe timed out", err)
		}
		p.log.Warn().Str("path", path).Err(err).Msg("ffprobe failed")
		return Descriptor{}, faults.Wrap(faults.KindInvalidMedia, "probe failed", err)
	}

	desc, err := parseProbeOutput(output)
	if err != nil {
		return Descriptor{}, err
	}
	desc.SizeBytes = info.Size()
	return desc, nil
}

// probeOutput matches the ffprobe -of json structure.
type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// parseProbeOutput extracts a descriptor from raw ffprobe JSON. A file
// with zero audio streams is invalid media.
func parseProbeOutput(data []byte) (Descriptor, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Descriptor{}, faults.Wrap(faults.KindInvalidMedia, "unparseable probe output", err)
	}

	var desc Descriptor
	desc.Container = out.Format.FormatName
	desc.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)

	for _, s := range out.Streams {
		if s.CodecType != "audio" {
			continue
		}
		desc.Codec = s.CodecName
		desc.SampleRate, _ = strconv.Atoi(s.SampleRate)
		desc.Channels = s.Channels
		return desc, nil
	}

	return Descriptor{}, faults.New(faults.KindInvalidMedia, "no audio stream found")
}
