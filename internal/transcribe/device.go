package transcribe

import (
	"os/exec"

	"github.com/rs/zerolog"
)

// Device kinds understood by the transcriber.
const (
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// Device is an explicit capability value passed into transcription
// calls. There is no hidden global device state; detection happens once
// at startup and the result is injected.
type Device struct {
	Kind string
}

// CPU returns the non-accelerated fallback device.
func (d Device) CPU() Device {
	return Device{Kind: DeviceCPU}
}

// Accelerated reports whether this device uses an accelerator.
func (d Device) Accelerated() bool {
	return d.Kind == DeviceCUDA
}

// DetectDevice picks the startup device. An explicit preference wins;
// otherwise CUDA is selected when nvidia-smi runs successfully.
func DetectDevice(preferred string, log zerolog.Logger) Device {
	if preferred == DeviceCUDA || preferred == DeviceCPU {
		log.Info().Str("device", preferred).Msg("Using configured device")
		return Device{Kind: preferred}
	}

	if path, err := exec.LookPath("nvidia-smi"); err == nil {
		if err := exec.Command(path).Run(); err == nil {
			log.Info().Msg("CUDA accelerator detected")
			return Device{Kind: DeviceCUDA}
		}
	}

	log.Info().Msg("No accelerator detected, using CPU")
	return Device{Kind: DeviceCPU}
}
