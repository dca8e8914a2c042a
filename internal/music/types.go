package music

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmpty reports that there is nothing to compose: no eligible text events or no notes to scale.
var ErrEmpty = errors.New("nothing to compose")

// Timbre names a synthesis recipe.
type Timbre uint8

const (
	Sine Timbre = iota
	Square
	Sawtooth
	Triangle
	Warm
	Bell
	Pulse
	Glow
	Harp
	Celesta
	Choir
	timbreCount
)

var timbreNames = [timbreCount]string{
	Sine:     "sine",
	Square:   "square",
	Sawtooth: "sawtooth",
	Triangle: "triangle",
	Warm:     "warm",
	Bell:     "bell",
	Pulse:    "pulse",
	Glow:     "glow",
	Harp:     "harp",
	Celesta:  "celesta",
	Choir:    "choir",
}

// Timbres lists every timbre in declaration order.
func Timbres() []Timbre {
	out := make([]Timbre, 0, timbreCount)
	for t := Timbre(0); t < timbreCount; t++ {
		out = append(out, t)
	}
	return out
}

func (t Timbre) Valid() bool { return t < timbreCount }

func (t Timbre) String() string {
	if !t.Valid() {
		return fmt.Sprintf("timbre(%d)", uint8(t))
	}
	return timbreNames[t]
}

// ParseTimbre resolves a timbre by its lowercase name.
func ParseTimbre(name string) (Timbre, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range timbreNames {
		if n == name {
			return Timbre(i), nil
		}
	}
	return 0, fmt.Errorf("unknown timbre %q", name)
}

func (t Timbre) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid timbre %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Timbre) UnmarshalText(text []byte) error {
	parsed, err := ParseTimbre(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// NoteEvent is a single sounding note. Times are in seconds, frequency in Hz,
// amplitude normalized to (0,1].
type NoteEvent struct {
	Start     float64 `json:"start"`
	Duration  float64 `json:"duration"`
	Frequency float64 `json:"frequency"`
	Amplitude float64 `json:"amplitude"`
	Timbre    Timbre  `json:"timbre"`
}

// End returns Start+Duration.
func (n NoteEvent) End() float64 { return n.Start + n.Duration }

// TextEvent is one chat message as delivered by the platform client.
type TextEvent struct {
	AuthorID  int64
	Content   string
	CreatedAt time.Time
	Bot       bool
	Webhook   bool
	System    bool
}

// Eligible reports whether the event should be turned into a note.
func (e TextEvent) Eligible() bool {
	if strings.TrimSpace(e.Content) == "" {
		return false
	}
	return !e.Bot && !e.Webhook && !e.System
}

// TrackEnd returns the latest note end, or 0 for an empty list.
func TrackEnd(notes []NoteEvent) float64 {
	var end float64
	for _, n := range notes {
		if e := n.End(); e > end {
			end = e
		}
	}
	return end
}
