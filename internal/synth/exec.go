package synth

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-compose/internal/music"
)

type execBackend struct {
	cmd       []string
	soundfont string
}

// NewExecBackend renders notes by handing a MIDI file to an external command.
// The placeholders {midi}, {wav}, {rate} and {soundfont} are substituted in each argument.
func NewExecBackend(command, soundfont string) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse sampler command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("sampler command is empty")
	}
	return &execBackend{cmd: args, soundfont: soundfont}, nil
}

func (b *execBackend) Name() string { return "exec" }

func (b *execBackend) Render(notes []music.NoteEvent, duration float64, sampleRate int) ([]float64, error) {
	if len(notes) == 0 {
		return nil, ErrNoNotes
	}
	smfData, err := buildSMF(notes)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "loqa_compose_*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	midiPath := filepath.Join(dir, "score.mid")
	wavPath := filepath.Join(dir, "score.wav")
	if err := os.WriteFile(midiPath, smfData, 0o600); err != nil {
		return nil, fmt.Errorf("write midi: %w", err)
	}

	replacer := strings.NewReplacer(
		"{midi}", midiPath,
		"{wav}", wavPath,
		"{rate}", strconv.Itoa(sampleRate),
		"{soundfont}", b.soundfont,
	)
	args := make([]string, len(b.cmd))
	for i, arg := range b.cmd {
		args[i] = replacer.Replace(arg)
	}

	command := exec.Command(args[0], args[1:]...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("sampler command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	file, err := os.Open(wavPath)
	if err != nil {
		return nil, fmt.Errorf("open sampler output: %w", err)
	}
	defer file.Close()
	mono, rate, err := decodeWAV(file)
	if err != nil {
		return nil, err
	}
	if rate != sampleRate {
		return nil, fmt.Errorf("sampler produced %d Hz, want %d Hz", rate, sampleRate)
	}
	n := masterLength(duration, sampleRate)
	return finishSampled(mono, n, sampleRate), nil
}
