package media

import (
	"testing"

	"github.com/codebuildervaibhav/media-transcription/internal/faults"
)

func TestParseProbeOutput(t *testing.T) {
	data := []byte(`{
		"format": {"format_name": "wav", "duration": "12.345"},
		"streams": [
			{"codec_type": "video", "codec_name": "mjpeg"},
			{"codec_type": "audio", "codec_name": "pcm_s16le", "sample_rate": "16000", "channels": 1}
		]
	}`)

	desc, err := parseProbeOutput(data)
	if err != nil {
		t.Fatalf("parseProbeOutput failed: %v", err)
	}

	if desc.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", desc.SampleRate)
	}
	if desc.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", desc.Channels)
	}
	if desc.Codec != "pcm_s16le" {
		t.Errorf("Expected codec pcm_s16le, got %s", desc.Codec)
	}
	if desc.Container != "wav" {
		t.Errorf("Expected container wav, got %s", desc.Container)
	}
	if desc.Duration != 12.345 {
		t.Errorf("Expected duration 12.345, got %v", desc.Duration)
	}
}

func TestParseProbeOutputNoAudioStream(t *testing.T) {
	data := []byte(`{
		"format": {"format_name": "mp4", "duration": "5.0"},
		"streams": [{"codec_type": "video", "codec_name": "h264"}]
	}`)

	_, err := parseProbeOutput(data)
	if err == nil {
		t.Fatal("Expected error for file without audio streams")
	}
	if faults.KindOf(err) != faults.KindInvalidMedia {
		t.Errorf("Expected KindInvalidMedia, got %v", faults.KindOf(err))
	}
}

func TestParseProbeOutputZeroDuration(t *testing.T) {
	// Duration zero is accepted; downstream stages decide what to do with it.
	data := []byte(`{
		"format": {"format_name": "wav", "duration": "0"},
		"streams": [{"codec_type": "audio", "codec_name": "pcm_s16le", "sample_rate": "44100", "channels": 2}]
	}`)

	desc, err := parseProbeOutput(data)
	if err != nil {
		t.Fatalf("Expected zero-duration file to be accepted, got: %v", err)
	}
	if desc.Duration != 0 {
		t.Errorf("Expected duration 0, got %v", desc.Duration)
	}
}

func TestParseProbeOutputMalformed(t *testing.T) {
	_, err := parseProbeOutput([]byte("not json"))
	if err == nil {
		t.Fatal("Expected error for malformed probe output")
	}
	if faults.KindOf(err) != faults.KindInvalidMedia {
		t.Errorf("Expected KindInvalidMedia, got %v", faults.KindOf(err))
	}
}
