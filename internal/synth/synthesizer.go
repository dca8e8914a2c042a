package synth

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-compose/internal/config"
	"github.com/loqalabs/loqa-compose/internal/music"
)

var (
	ErrNoNotes = errors.New("no notes to render")
	ErrRender  = errors.New("render failed")
)

// Result is a finished track.
type Result struct {
	Audio      []byte
	Duration   float64
	SampleRate int
	Channels   int
	Backend    string
	Fallback   string // why the sampler was skipped, empty when it rendered or is not configured
	PeakDBFS   float64
}

type Synthesizer struct {
	sampleRate int
	channels   int
	sampler    Backend
	oscillator Backend
	logger     *slog.Logger
}

// New builds a synthesizer. sampler may be nil, in which case only oscillators are used.
func New(cfg config.SynthConfig, sampler Backend, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		sampler:    sampler,
		oscillator: OscillatorBackend{},
		logger:     logger.With(slog.String("component", "synth")),
	}
}

// Sampler reports the configured sampler backend name, or "" when none.
func (s *Synthesizer) Sampler() string {
	if s.sampler == nil {
		return ""
	}
	return s.sampler.Name()
}

// Render synthesizes notes into a peak-normalized WAV. A failing sampler falls back to oscillators.
func (s *Synthesizer) Render(notes []music.NoteEvent, duration float64) (Result, error) {
	if len(notes) == 0 {
		return Result{}, ErrNoNotes
	}

	res := Result{Duration: duration, SampleRate: s.sampleRate, Channels: s.channels}
	var pcm []float64
	if s.sampler != nil {
		out, err := safeRender(s.sampler, notes, duration, s.sampleRate)
		if err != nil {
			s.logger.Warn("sampler render failed, using oscillators",
				slog.String("sampler", s.sampler.Name()),
				slogError(err),
			)
			res.Fallback = err.Error()
		} else {
			pcm = out
			res.Backend = s.sampler.Name()
		}
	}
	if pcm == nil {
		out, err := safeRender(s.oscillator, notes, duration, s.sampleRate)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrRender, err)
		}
		pcm = out
		res.Backend = s.oscillator.Name()
	}

	res.PeakDBFS = normalizePeak(pcm)
	audio, err := encodeWAV(pcm, s.sampleRate, s.channels)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRender, err)
	}
	res.Audio = audio
	s.logger.Debug("rendered track",
		slog.String("backend", res.Backend),
		slog.Int("notes", len(notes)),
		slog.Float64("duration", duration),
		slog.Float64("peak_dbfs", res.PeakDBFS),
	)
	return res, nil
}

func safeRender(b Backend, notes []music.NoteEvent, duration float64, sampleRate int) (pcm []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s backend panicked: %v", b.Name(), r)
		}
	}()
	return b.Render(notes, duration, sampleRate)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
