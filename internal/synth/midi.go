package synth

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"slices"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/loqalabs/loqa-compose/internal/music"
)

const (
	ticksPerQuarter = 960
	// at 60 BPM one quarter lasts a second
	ticksPerSecond = ticksPerQuarter
	midiTempoBPM   = 60
	drumChannel    = 9
	minVelocity    = 32
	maxVelocity    = 118
	minMIDINoteSec = 0.15
)

var gmPrograms = [...]uint8{
	music.Sine:     0,
	music.Square:   0,
	music.Sawtooth: 0,
	music.Triangle: 0,
	music.Warm:     88,
	music.Bell:     11,
	music.Pulse:    13,
	music.Glow:     91,
	music.Harp:     46,
	music.Celesta:  8,
	music.Choir:    52,
}

func programFor(t music.Timbre) uint8 {
	if !t.Valid() {
		return 0
	}
	return gmPrograms[t]
}

func velocityFor(amp float64) uint8 {
	v := int(amp * 127)
	return uint8(min(max(v, minVelocity), maxVelocity))
}

type midiEvent struct {
	tick uint32
	on   bool
	key  uint8
	vel  uint8
}

// buildSMF writes the notes as a Standard MIDI File with one track and channel per GM program.
func buildSMF(notes []music.NoteEvent) ([]byte, error) {
	type part struct {
		program uint8
		events  []midiEvent
	}
	var parts []*part
	byProgram := make(map[uint8]*part)
	for _, n := range notes {
		program := programFor(n.Timbre)
		p, ok := byProgram[program]
		if !ok {
			p = &part{program: program}
			byProgram[program] = p
			parts = append(parts, p)
		}
		key := uint8(music.FrequencyToMIDI(n.Frequency))
		start := max(n.Start, 0)
		end := max(start+n.Duration, start+minMIDINoteSec)
		p.events = append(p.events,
			midiEvent{tick: secondsToTicks(start), on: true, key: key, vel: velocityFor(n.Amplitude)},
			midiEvent{tick: secondsToTicks(end), key: key},
		)
	}
	if len(parts) > 15 {
		return nil, fmt.Errorf("too many instruments for midi: %d", len(parts))
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(ticksPerQuarter)

	var tempo smf.Track
	tempo.Add(0, smf.MetaTempo(midiTempoBPM))
	tempo.Close(0)
	if err := s.Add(tempo); err != nil {
		return nil, fmt.Errorf("add tempo track: %w", err)
	}

	channel := uint8(0)
	for _, p := range parts {
		if channel == drumChannel {
			channel++
		}
		// note-offs sort ahead of note-ons on the same tick so repeated keys retrigger
		slices.SortStableFunc(p.events, func(a, b midiEvent) int {
			if c := cmp.Compare(a.tick, b.tick); c != 0 {
				return c
			}
			switch {
			case a.on == b.on:
				return 0
			case !a.on:
				return -1
			default:
				return 1
			}
		})

		var tr smf.Track
		tr.Add(0, midi.ProgramChange(channel, p.program))
		var last uint32
		for _, e := range p.events {
			delta := e.tick - last
			last = e.tick
			if e.on {
				tr.Add(delta, midi.NoteOn(channel, e.key, e.vel))
			} else {
				tr.Add(delta, midi.NoteOff(channel, e.key))
			}
		}
		tr.Close(0)
		if err := s.Add(tr); err != nil {
			return nil, fmt.Errorf("add track for program %d: %w", p.program, err)
		}
		channel++
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write midi: %w", err)
	}
	return buf.Bytes(), nil
}

func secondsToTicks(sec float64) uint32 {
	return uint32(math.Round(sec * ticksPerSecond))
}
