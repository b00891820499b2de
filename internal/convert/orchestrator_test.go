package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/faults"
	"github.com/codebuildervaibhav/media-transcription/internal/media"
)

type stubProber struct {
	desc media.Descriptor
	err  error
}

func (s *stubProber) Probe(ctx context.Context, path string) (media.Descriptor, error) {
	return s.desc, s.err
}

type countingConverter struct {
	calls      int
	outputSize int
	err        error
}

func (c *countingConverter) Convert(ctx context.Context, inputPath, outputPath string, sampleRate, channels int) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	return os.WriteFile(outputPath, make([]byte, c.outputSize), 0644)
}

func TestEnsureCanonicalSkipsConversion(t *testing.T) {
	prober := &stubProber{desc: media.Descriptor{SampleRate: 16000, Channels: 1, Codec: "pcm_s16le"}}
	conv := &countingConverter{outputSize: 4096}
	orch := NewOrchestrator(prober, conv, t.TempDir(), zerolog.Nop())

	input := filepath.Join(t.TempDir(), "already.wav")
	path, desc, err := orch.EnsureCanonical(context.Background(), input)
	if err != nil {
		t.Fatalf("EnsureCanonical failed: %v", err)
	}
	if path != input {
		t.Errorf("Expected original path back unchanged, got %s", path)
	}
	if conv.calls != 0 {
		t.Errorf("Remote client must not be called for canonical input, saw %d calls", conv.calls)
	}
	if desc.Codec != "pcm_s16le" {
		t.Errorf("Descriptor not propagated: %+v", desc)
	}
}

func TestEnsureCanonicalConverts(t *testing.T) {
	prober := &stubProber{desc: media.Descriptor{SampleRate: 44100, Channels: 2}}
	conv := &countingConverter{outputSize: 4096}
	tempDir := t.TempDir()
	orch := NewOrchestrator(prober, conv, tempDir, zerolog.Nop())

	path, _, err := orch.EnsureCanonical(context.Background(), "input.mp3")
	if err != nil {
		t.Fatalf("EnsureCanonical failed: %v", err)
	}
	if conv.calls != 1 {
		t.Errorf("Expected 1 conversion call, got %d", conv.calls)
	}
	if filepath.Dir(path) != tempDir {
		t.Errorf("Converted file not in temp dir: %s", path)
	}
}

func TestEnsureCanonicalInvalidMedia(t *testing.T) {
	prober := &stubProber{err: faults.New(faults.KindInvalidMedia, "no audio stream found")}
	conv := &countingConverter{}
	orch := NewOrchestrator(prober, conv, t.TempDir(), zerolog.Nop())

	_, _, err := orch.EnsureCanonical(context.Background(), "broken.bin")
	if faults.KindOf(err) != faults.KindInvalidMedia {
		t.Fatalf("Expected KindInvalidMedia, got %v", err)
	}
	if conv.calls != 0 {
		t.Error("Remote service must not be contacted for invalid media")
	}
}

func TestEnsureCanonicalTinyOutput(t *testing.T) {
	prober := &stubProber{desc: media.Descriptor{SampleRate: 44100, Channels: 2}}
	conv := &countingConverter{outputSize: 100} // below the plausibility floor
	orch := NewOrchestrator(prober, conv, t.TempDir(), zerolog.Nop())

	_, _, err := orch.EnsureCanonical(context.Background(), "input.mp3")
	if faults.KindOf(err) != faults.KindInvalidMedia {
		t.Fatalf("Expected KindInvalidMedia for tiny canonical output, got %v", err)
	}
}

func TestEnsureCanonicalConversionFailure(t *testing.T) {
	prober := &stubProber{desc: media.Descriptor{SampleRate: 44100, Channels: 2}}
	conv := &countingConverter{err: faults.New(faults.KindConversionFailed, "remote conversion failed (timeout)")}
	orch := NewOrchestrator(prober, conv, t.TempDir(), zerolog.Nop())

	_, _, err := orch.EnsureCanonical(context.Background(), "input.mp3")
	if faults.KindOf(err) != faults.KindConversionFailed {
		t.Fatalf("Expected KindConversionFailed, got %v", err)
	}
}
