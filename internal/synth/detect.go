package synth

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-compose/internal/config"
)

// DetectSampler decides once whether the sampler can run. It returns a nil
// backend and the reason when it cannot.
func DetectSampler(cfg config.SamplerConfig) (Backend, string) {
	if !cfg.Enabled {
		return nil, "sampler disabled"
	}
	if cfg.SoundFontPath == "" {
		return nil, "no soundfont configured"
	}
	info, err := os.Stat(cfg.SoundFontPath)
	if err != nil {
		return nil, fmt.Sprintf("soundfont unavailable: %v", err)
	}
	if info.IsDir() {
		return nil, fmt.Sprintf("soundfont %s is a directory", cfg.SoundFontPath)
	}
	file, err := os.Open(cfg.SoundFontPath)
	if err != nil {
		return nil, fmt.Sprintf("soundfont unreadable: %v", err)
	}
	file.Close()

	switch cfg.Mode {
	case "", "soundfont":
		return NewSoundFontBackend(cfg.SoundFontPath), ""
	case "exec":
		command := cfg.Command
		if command == "" {
			command = config.DefaultSamplerCommand
		}
		args, err := shellwords.Parse(command)
		if err != nil || len(args) == 0 {
			return nil, fmt.Sprintf("invalid sampler command %q", command)
		}
		if _, err := exec.LookPath(args[0]); err != nil {
			return nil, fmt.Sprintf("sampler command %s not found", args[0])
		}
		backend, err := NewExecBackend(command, cfg.SoundFontPath)
		if err != nil {
			return nil, err.Error()
		}
		return backend, ""
	default:
		return nil, fmt.Sprintf("unknown sampler mode %q", cfg.Mode)
	}
}

// finishSampled clips sampler output and gives it the same tone filters and air as oscillator voices,
// fitted to a master buffer of n samples.
func finishSampled(mono []float64, n, sampleRate int) []float64 {
	for i, v := range mono {
		mono[i] = clampUnit(v)
	}
	lowPass(mono, toneLowPassHz, sampleRate)
	highPass(mono, toneHighPassHz, sampleRate)
	out := make([]float64, n)
	copy(out, air(mono, sampleRate))
	return out
}
