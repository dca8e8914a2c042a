package music

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"reflect"
	"testing"
	"time"
)

func TestLayerAddsHarmonics(t *testing.T) {
	primary := []NoteEvent{
		{Start: 0, Duration: 1, Frequency: 440, Amplitude: 0.5, Timbre: Warm},
		{Start: 1, Duration: 1, Frequency: 440, Amplitude: 0.9, Timbre: Warm},
		{Start: 2, Duration: 1, Frequency: 440, Amplitude: 0.5, Timbre: Warm},
		{Start: 3, Duration: 1, Frequency: 440, Amplitude: 0.5, Timbre: Warm},
	}
	derived := Harmonize(primary)
	// index 0: +4 +7 +12, 1: +4, 2: +4 +7, 3: +4 +12
	if len(derived) != 8 {
		t.Fatalf("expected 8 harmonics, got %d", len(derived))
	}
	for _, h := range derived {
		if h.Amplitude > 0.55 {
			t.Fatalf("harmonic amplitude above cap: %f", h.Amplitude)
		}
		if math.Abs(h.Duration-1.1) > eps {
			t.Fatalf("harmonic duration should be stretched, got %f", h.Duration)
		}
	}
	if math.Abs(derived[0].Frequency-440*math.Pow(2, 4.0/12)) > 1e-6 || derived[0].Timbre != Celesta {
		t.Fatalf("first harmonic should be a celesta third, got %+v", derived[0])
	}
	if derived[2].Timbre != Glow || math.Abs(derived[2].Frequency-880) > 1e-6 {
		t.Fatalf("octave doubling expected, got %+v", derived[2])
	}

	layered := Layer(primary)
	if len(layered) != 12 {
		t.Fatalf("expected 12 layered notes, got %d", len(layered))
	}
	for i := 1; i < len(layered); i++ {
		if layered[i].Start < layered[i-1].Start {
			t.Fatal("layered notes must be ordered by start")
		}
	}
}

func TestFillGapsInsertsBetweenNeighbours(t *testing.T) {
	beat := 0.5
	notes := []NoteEvent{
		{Start: 0, Duration: 0.5, Frequency: 300, Amplitude: 0.4, Timbre: Sine},
		{Start: 0.5, Duration: 0.5, Frequency: 320, Amplitude: 0.4, Timbre: Sine},
		{Start: 1.75, Duration: 0.5, Frequency: 400, Amplitude: 0.8, Timbre: Sine},
		{Start: 2.4, Duration: 0.5, Frequency: 350, Amplitude: 0.2, Timbre: Sine},
	}
	out := FillGaps(notes, beat, DefaultScale)
	if len(out) != 5 {
		t.Fatalf("expected one filler, got %d notes", len(out))
	}
	fill := out[2]
	if fill.Timbre != Glow {
		t.Fatalf("filler should use the glow voice, got %v", fill.Timbre)
	}
	if fill.Start <= 0.5 || fill.Start >= 1.75 {
		t.Fatalf("filler start %f not strictly between neighbours", fill.Start)
	}
	if math.Abs(fill.Start-(0.5+1.25*0.55)) > eps {
		t.Fatalf("filler should sit 55%% into the gap, got %f", fill.Start)
	}
	if fill.Duration < 0.45*beat-eps || fill.Duration > 0.9*beat+eps {
		t.Fatalf("filler duration out of range: %f", fill.Duration)
	}
	if math.Abs(fill.Amplitude-0.36) > eps {
		t.Fatalf("expected 0.45 * louder neighbour, got %f", fill.Amplitude)
	}
	if fill.Frequency != DefaultScale.Nearest(320*0.45+400*0.55) {
		t.Fatalf("filler frequency not snapped to the scale: %f", fill.Frequency)
	}
	if FillGaps(nil, beat, DefaultScale) != nil {
		t.Fatal("empty input yields nothing")
	}
}

func TestFillGapsPropertyAcrossSpacings(t *testing.T) {
	beat := 0.55
	for _, gapBeats := range []float64{0, 0.5, 1, 1.3, 1.41, 1.5, 2, 2.5, 10} {
		notes := []NoteEvent{
			{Start: 1, Duration: 1, Frequency: 300, Amplitude: 0.5},
			{Start: 1 + gapBeats*beat, Duration: 1, Frequency: 500, Amplitude: 0.5},
		}
		out := FillGaps(notes, beat, DefaultScale)
		for _, n := range out {
			if n.Timbre != Glow {
				continue
			}
			if n.Start <= notes[0].Start || n.Start >= notes[1].Start {
				t.Fatalf("gap %v beats: filler at %f outside (%f,%f)", gapBeats, n.Start, notes[0].Start, notes[1].Start)
			}
		}
		wantFill := gapBeats > 1.4
		if (len(out) == 3) != wantFill {
			t.Fatalf("gap %v beats: unexpected note count %d", gapBeats, len(out))
		}
	}
}

func TestPad(t *testing.T) {
	if Pad(nil) != nil {
		t.Fatal("no pad for an empty track")
	}
	notes := []NoteEvent{
		{Start: 0, Duration: 1, Frequency: 400, Amplitude: 0.5},
		{Start: 2, Duration: 3, Frequency: 300, Amplitude: 0.5},
	}
	pad := Pad(notes)
	if len(pad) != 3 {
		t.Fatalf("expected 3 pad notes, got %d", len(pad))
	}
	for _, p := range pad {
		if p.Start != 0 || p.Duration != 6.5 {
			t.Fatalf("pad should span the whole track plus tail, got %+v", p)
		}
	}
	if pad[0].Frequency != 300 || pad[0].Amplitude != 0.16 || pad[0].Timbre != Warm {
		t.Fatalf("unexpected root drone %+v", pad[0])
	}
	if math.Abs(pad[1].Frequency-600) > 1e-9 || pad[1].Timbre != Celesta {
		t.Fatalf("unexpected shimmer %+v", pad[1])
	}
	if math.Abs(pad[2].Frequency-150) > 1e-9 || pad[2].Timbre != Choir {
		t.Fatalf("unexpected choir %+v", pad[2])
	}
}

func TestNormalize(t *testing.T) {
	if _, _, err := Normalize(nil, 15, 30); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}

	cases := []struct {
		name   string
		length float64
		want   float64
	}{
		{"stretch short", 2, 15},
		{"compress long", 120, 30},
		{"keep in range", 22, 22},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			notes := []NoteEvent{
				{Start: 0, Duration: tc.length / 2, Frequency: 200, Amplitude: 0.3},
				{Start: tc.length / 4, Duration: tc.length * 3 / 4, Frequency: 300, Amplitude: 0.4},
			}
			out, length, err := Normalize(notes, 15, 30)
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if math.Abs(length-tc.want) > 1e-9 {
				t.Fatalf("expected length %f, got %f", tc.want, length)
			}
			if out[0].Frequency != 200 || out[1].Amplitude != 0.4 {
				t.Fatal("normalize must not touch pitch or loudness")
			}
			again, length2, err := Normalize(out, 15, 30)
			if err != nil {
				t.Fatalf("normalize again: %v", err)
			}
			if math.Abs(length2-length) > 1e-9 || math.Abs(again[1].Start-out[1].Start) > 1e-9 {
				t.Fatal("normalize should be idempotent")
			}
		})
	}

	if _, length, _ := Normalize([]NoteEvent{{Duration: 5}}, 20, 10); math.Abs(length-20) > 1e-9 {
		t.Fatalf("max below min collapses to min, got %f", length)
	}
}

func TestNormalizeLandsExactlyInWindow(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 3000; trial++ {
		minLen := 5 + rng.Float64()*10
		maxLen := minLen + rng.Float64()*10
		notes := make([]NoteEvent, 1+rng.IntN(40))
		for i := range notes {
			notes[i] = NoteEvent{
				Start:     rng.Float64() * 60,
				Duration:  0.05 + rng.Float64()*3,
				Frequency: 300,
				Amplitude: 0.3,
			}
		}
		out, length, err := Normalize(notes, minLen, maxLen)
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		if length < minLen || length > maxLen {
			t.Fatalf("trial %d: length %v outside [%v, %v]", trial, length, minLen, maxLen)
		}
		if math.Abs(TrackEnd(out)-length) > 1e-9 {
			t.Fatalf("trial %d: reported %v but notes end at %v", trial, length, TrackEnd(out))
		}
		again, length2, _ := Normalize(out, minLen, maxLen)
		if length2 != length || !reflect.DeepEqual(again, out) {
			t.Fatalf("trial %d: second pass changed the track (%v -> %v)", trial, length, length2)
		}
	}
}

func TestComposeScenarioSingleMessage(t *testing.T) {
	c := Composer{Scale: DefaultScale, Beat: 0.5, MinDuration: 15, MaxDuration: 30}
	score, err := c.Compose([]TextEvent{{AuthorID: 3, Content: "hello", CreatedAt: time.Unix(1700000000, 0)}})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if score.Primary != 1 {
		t.Fatalf("expected 1 primary note, got %d", score.Primary)
	}
	// 1 primary + 3 harmonics + 3 pad notes
	if len(score.Notes) != 7 {
		t.Fatalf("expected 7 notes, got %d", len(score.Notes))
	}
	if score.Duration < 15-eps || score.Duration > 30+eps {
		t.Fatalf("duration %f outside window", score.Duration)
	}
}

func TestComposeScenarioLongHistory(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	events := make([]TextEvent, 100)
	for i := range events {
		events[i] = TextEvent{
			AuthorID:  int64(i % 7),
			Content:   fmt.Sprintf("status update %d from the team", i),
			CreatedAt: base.Add(time.Duration(i) * 6 * time.Second),
		}
	}
	c := Composer{Scale: DefaultScale, Beat: 0.55, MinDuration: 15, MaxDuration: 30}
	score, err := c.Compose(events)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if score.Primary != 100 {
		t.Fatalf("expected 100 primary notes, got %d", score.Primary)
	}
	if score.Duration > 30+eps {
		t.Fatalf("expected compression to 30s, got %f", score.Duration)
	}
	for i := 1; i < len(score.Notes)-3; i++ {
		if score.Notes[i].Start < score.Notes[i-1].Start {
			t.Fatalf("order lost at %d", i)
		}
	}
}

func TestComposeFiltersAndIsDeterministic(t *testing.T) {
	base := time.Unix(1700000000, 0)
	events := []TextEvent{
		{AuthorID: 1, Content: "second", CreatedAt: base.Add(2 * time.Second)},
		{AuthorID: 2, Content: "   ", CreatedAt: base},
		{AuthorID: 3, Content: "beep boop", CreatedAt: base, Bot: true},
		{AuthorID: 4, Content: "pinned a message", CreatedAt: base, System: true},
		{AuthorID: 5, Content: "hook", CreatedAt: base, Webhook: true},
		{AuthorID: 6, Content: "first", CreatedAt: base.Add(time.Second)},
	}
	c := Composer{Scale: DefaultScale, Beat: 0.55, MinDuration: 15, MaxDuration: 30}
	a, err := c.Compose(events)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if a.Events != 2 || a.Primary != 2 {
		t.Fatalf("expected 2 eligible events, got %d/%d", a.Events, a.Primary)
	}
	b, _ := c.Compose(events)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("compose must be deterministic")
	}

	_, err = c.Compose(events[1:5])
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty for ineligible input, got %v", err)
	}
}

func TestTimbreText(t *testing.T) {
	for _, tb := range Timbres() {
		text, err := tb.MarshalText()
		if err != nil {
			t.Fatalf("marshal %v: %v", tb, err)
		}
		var back Timbre
		if err := back.UnmarshalText(text); err != nil || back != tb {
			t.Fatalf("round trip %v failed: %v", tb, err)
		}
	}
	if _, err := ParseTimbre("kazoo"); err == nil {
		t.Fatal("expected error for unknown timbre")
	}
}
