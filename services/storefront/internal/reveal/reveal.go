// Package reveal produces the cosmetic scramble-then-settle frames shown when
// a credential is displayed. It has no security meaning.
package reveal

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	Charset  = "ABCDEFGHILMNOPQRSTUVZ0123456789!@#$%^&*"
	Interval = 30 * time.Millisecond
	// Steps per revealed character.
	Steps = 3
	// MaxFrames bounds the animation; long values reveal several characters
	// per frame instead.
	MaxFrames = 64
)

// Sequence yields the frames for one value on demand.
type Sequence struct {
	runes   []rune
	charset []rune
	rnd     *rand.Rand
	last    int
	buf     strings.Builder
}

// NewSequence prepares the frames for value. A nil rnd uses a fresh PCG source.
func NewSequence(value string, rnd *rand.Rand) *Sequence {
	runes := []rune(value)
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Sequence{
		runes:   runes,
		charset: []rune(Charset),
		rnd:     rnd,
		last:    min(len(runes)*Steps, MaxFrames-1),
	}
}

// Len is the number of frames, zero for an empty value.
func (s *Sequence) Len() int {
	if len(s.runes) == 0 {
		return 0
	}
	return s.last + 1
}

// Frame renders frame i. The characters below revealed(i) are shown and the
// rest scrambled; the last frame is the value itself.
func (s *Sequence) Frame(i int) string {
	if i >= s.last {
		return string(s.runes)
	}
	shown := s.revealed(i)
	s.buf.Reset()
	for idx, r := range s.runes {
		if idx < shown {
			s.buf.WriteRune(r)
			continue
		}
		s.buf.WriteRune(s.charset[s.rnd.IntN(len(s.charset))])
	}
	return s.buf.String()
}

// revealed is ceil(i*n/last). Without the frame cap this is ceil(i/Steps).
func (s *Sequence) revealed(i int) int {
	if i <= 0 {
		return 0
	}
	return (i*len(s.runes) + s.last - 1) / s.last
}

// Frames returns every frame for value.
func Frames(value string, rnd *rand.Rand) []string {
	seq := NewSequence(value, rnd)
	if seq.Len() == 0 {
		return nil
	}
	out := make([]string, 0, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		out = append(out, seq.Frame(i))
	}
	return out
}

// Play emits frames on the ticker interval until the last one or until ctx
// ends. Each frame is rendered on its own tick.
func Play(ctx context.Context, value string, interval time.Duration, emit func(frame string, done bool) error) error {
	seq := NewSequence(value, nil)
	total := seq.Len()
	if total == 0 {
		return emit("", true)
	}
	if interval <= 0 {
		interval = Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < total; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		if err := emit(seq.Frame(i), i == total-1); err != nil {
			return err
		}
	}
	return nil
}
