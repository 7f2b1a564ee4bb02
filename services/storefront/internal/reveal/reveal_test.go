package reveal

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"
	"time"
)

func TestFramesSettleOnValue(t *testing.T) {
	value := "user:pass"
	frames := Frames(value, rand.New(rand.NewPCG(1, 2)))
	if len(frames) != len(value)*Steps+1 {
		t.Fatalf("expected %d frames, got %d", len(value)*Steps+1, len(frames))
	}
	if frames[len(frames)-1] != value {
		t.Fatalf("expected final frame %q, got %q", value, frames[len(frames)-1])
	}
	for i, frame := range frames {
		if len([]rune(frame)) != len(value) {
			t.Fatalf("frame %d has wrong length: %q", i, frame)
		}
		for idx := 0; idx < len(value); idx++ {
			if idx*Steps < i && frame[idx] != value[idx] {
				t.Fatalf("frame %d should reveal index %d: %q", i, idx, frame)
			}
			if idx*Steps >= i && !strings.ContainsRune(Charset, rune(frame[idx])) {
				t.Fatalf("frame %d index %d not from charset: %q", i, idx, frame)
			}
		}
	}
}

func TestFramesEmpty(t *testing.T) {
	if frames := Frames("", nil); frames != nil {
		t.Fatalf("expected no frames, got %v", frames)
	}
}

func TestLongValueStaysWithinFrameBudget(t *testing.T) {
	value := strings.Repeat("k", 3999) + "!"
	frames := Frames(value, rand.New(rand.NewPCG(3, 4)))
	if len(frames) != MaxFrames {
		t.Fatalf("expected %d frames, got %d", MaxFrames, len(frames))
	}
	if budget := time.Duration(len(frames)-1) * Interval; budget > 2*time.Second {
		t.Fatalf("expected animation under 2s, got %s", budget)
	}
	if frames[len(frames)-1] != value {
		t.Fatalf("expected final frame to be the value")
	}
	prev := 0
	for i, frame := range frames {
		shown := 0
		for shown < len(value) && frame[shown] == value[shown] {
			shown++
		}
		if shown < prev {
			t.Fatalf("frame %d hides characters revealed earlier", i)
		}
		prev = shown
	}
}

func TestPlayLongValueSettles(t *testing.T) {
	value := strings.Repeat("x", 5000)
	frames := 0
	var final string
	err := Play(context.Background(), value, time.Microsecond, func(frame string, done bool) error {
		frames++
		if done {
			final = frame
		}
		return nil
	})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if frames != MaxFrames || final != value {
		t.Fatalf("expected %d frames ending on the value, got %d", MaxFrames, frames)
	}
}

func TestPlayEmitsUntilDone(t *testing.T) {
	var got []string
	var last bool
	err := Play(context.Background(), "ab", time.Millisecond, func(frame string, done bool) error {
		got = append(got, frame)
		last = done
		return nil
	})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if len(got) != 2*Steps+1 || got[len(got)-1] != "ab" || !last {
		t.Fatalf("unexpected frames %v done=%v", got, last)
	}
}

func TestPlayStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Play(ctx, "abcdef", time.Hour, func(string, bool) error {
		calls++
		cancel()
		return nil
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected cancellation after first frame, calls=%d err=%v", calls, err)
	}
}
