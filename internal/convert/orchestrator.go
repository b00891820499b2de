package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/faults"
	"github.com/codebuildervaibhav/media-transcription/internal/media"
)

// Canonical PCM target for the transcription stage.
const (
	TargetSampleRate = 16000
	TargetChannels   = 1

	// A canonical PCM file below this size cannot hold a real audio
	// stream; such output is treated as invalid media.
	minCanonicalBytes = 1000
)

// Converter is the remote conversion contract consumed by the
// orchestrator. Satisfied by *Client.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath string, sampleRate, channels int) error
}

// Prober is the probe contract consumed by the orchestrator.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Descriptor, error)
}

// Orchestrator decides whether conversion is needed and delegates all
// real conversion to the remote client.
type Orchestrator struct {
	prober  Prober
	client  Converter
	tempDir string
	log     zerolog.Logger
}

// NewOrchestrator creates a conversion orchestrator writing converted
// files into tempDir.
func NewOrchestrator(prober Prober, client Converter, tempDir string, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		prober:  prober,
		client:  client,
		tempDir: tempDir,
		log:     log.With().Str("component", "conversion").Logger(),
	}
}

// EnsureCanonical returns a path to inputPath's audio in canonical PCM
// form (16kHz mono). Files already canonical are returned unchanged
// without contacting the remote service.
func (o *Orchestrator) EnsureCanonical(ctx context.Context, inputPath string) (string, media.Descriptor, error) {
	desc, err := o.prober.Probe(ctx, inputPath)
	if err != nil {
		return "", media.Descriptor{}, err
	}

	if desc.SampleRate == TargetSampleRate && desc.Channels == TargetChannels {
		o.log.Info().Str("path", inputPath).Msg("Audio already canonical, skipping conversion")
		return inputPath, desc, nil
	}

	o.log.Info().
		Str("path", inputPath).
		Int("sample_rate", desc.SampleRate).
		Int("channels", desc.Channels).
		Msg("Converting to canonical PCM")

	outputPath := filepath.Join(o.tempDir, fmt.Sprintf("canonical_%s.wav", uuid.New().String()))
	if err := o.client.Convert(ctx, inputPath, outputPath, TargetSampleRate, TargetChannels); err != nil {
		return "", desc, err
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return "", desc, faults.Wrap(faults.KindConversionFailed, "converted file missing", err)
	}
	if info.Size() < minCanonicalBytes {
		os.Remove(outputPath)
		return "", desc, faults.Newf(faults.KindInvalidMedia,
			"canonical output implausibly small (%d bytes)", info.Size())
	}

	return outputPath, desc, nil
}
