package orchestration

import (
	"context"
	"errors"
	"testing"

	"github.com/koscakluka/ema-voice/core/audio"
)

func TestFillerSignalMarkDoneIsIdempotent(t *testing.T) {
	signal := NewFillerSignal()
	if signal.IsDone() {
		t.Fatalf("expected fresh signal not to be done")
	}

	signal.MarkDone()
	signal.MarkDone()

	if !signal.IsDone() {
		t.Fatalf("expected signal to be done")
	}
	if err := signal.Wait(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestFillerSignalWaitHonoursCancellation(t *testing.T) {
	signal := NewFillerSignal()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := signal.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNilFillerSignalIsDone(t *testing.T) {
	var signal *FillerSignal
	if err := signal.Wait(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestPrepareFillerSkipsFailedPhrases(t *testing.T) {
	synth := textSynthesizer{synthesize: func(_ context.Context, text string) (*audio.Clip, error) {
		if text == "broken" {
			return nil, errors.New("quota")
		}
		return textClip(text), nil
	}}

	filler, err := PrepareFiller(context.Background(), synth, "One moment.", "broken", "Let me check.")
	if err == nil {
		t.Fatalf("expected an error for the broken phrase")
	}
	if filler.Len() != 2 {
		t.Fatalf("expected 2 clips, got %d", filler.Len())
	}
}

func TestFillerPick(t *testing.T) {
	var empty *Filler
	if _, ok := empty.Pick(); ok {
		t.Fatalf("expected no clip from a nil filler")
	}
	if _, ok := NewFiller().Pick(); ok {
		t.Fatalf("expected no clip from an empty filler")
	}

	filler := NewFiller(*textClip("a"), *textClip("b"))
	seen := map[string]bool{}
	for range 200 {
		clip, ok := filler.Pick()
		if !ok {
			t.Fatalf("expected a clip")
		}
		seen[string(clip.Audio)] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("expected both clips to be picked, got %v", seen)
	}
}
