package orchestration

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
)

func doneSignal() *FillerSignal {
	signal := NewFillerSignal()
	signal.MarkDone()
	return signal
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPlayKeepsOrderDespiteRandomCompletion(t *testing.T) {
	fragments := make([]string, 12)
	for i := range fragments {
		fragments[i] = fmt.Sprintf("Sentence %d.", i)
	}

	for range 5 {
		synth := textSynthesizer{synthesize: func(ctx context.Context, text string) (*audio.Clip, error) {
			time.Sleep(time.Duration(rand.IntN(15)) * time.Millisecond)
			return textClip(text), nil
		}}
		sink := newRecordingSink()
		pipeline := NewPlaybackPipeline(synth, sink, WithPipelineConcurrency(4))

		report, err := pipeline.Play(context.Background(), fragments, doneSignal())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got := sink.texts(); !equalStrings(got, fragments) {
			t.Fatalf("expected playback order %v, got %v", fragments, got)
		}
		if len(report.Played) != len(fragments) || len(report.Skipped) != 0 {
			t.Fatalf("expected every fragment played, got %+v", report)
		}
	}
}

func TestPlaySkipsFailedFragment(t *testing.T) {
	synth := textSynthesizer{synthesize: func(ctx context.Context, text string) (*audio.Clip, error) {
		if text == "B." {
			return nil, errors.New("synthesis backend unavailable")
		}
		// C. finishes first so it has to wait in the buffer.
		if text == "A." {
			time.Sleep(20 * time.Millisecond)
		}
		return textClip(text), nil
	}}
	sink := newRecordingSink()

	report, err := NewPlaybackPipeline(synth, sink).Play(context.Background(), []string{"A.", "B.", "C."}, doneSignal())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := sink.texts(); !equalStrings(got, []string{"A.", "C."}) {
		t.Fatalf("expected [A. C.], got %v", got)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != 1 {
		t.Fatalf("expected fragment 1 skipped, got %v", report.Skipped)
	}
}

func TestPlayTreatsEmptyClipsAndPanicsAsFailures(t *testing.T) {
	synth := textSynthesizer{synthesize: func(ctx context.Context, text string) (*audio.Clip, error) {
		switch text {
		case "empty":
			return &audio.Clip{}, nil
		case "panic":
			panic("boom")
		}
		return textClip(text), nil
	}}
	sink := newRecordingSink()

	report, err := NewPlaybackPipeline(synth, sink).Play(context.Background(), []string{"empty", "ok", "panic"}, doneSignal())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := sink.texts(); !equalStrings(got, []string{"ok"}) {
		t.Fatalf("expected [ok], got %v", got)
	}
	if len(report.Skipped) != 2 {
		t.Fatalf("expected 2 skipped fragments, got %v", report.Skipped)
	}
}

func TestPlayStopsOnCancellation(t *testing.T) {
	started := make(chan struct{}, 8)
	synth := textSynthesizer{synthesize: func(ctx context.Context, text string) (*audio.Clip, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	sink := newRecordingSink()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var report PlaybackReport
	var err error
	go func() {
		defer close(done)
		report, err = NewPlaybackPipeline(synth, sink).Play(ctx, []string{"A.", "B."}, doneSignal())
	}()

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Play to return after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !report.Cancelled {
		t.Fatalf("expected report to be marked cancelled")
	}
	if got := sink.texts(); len(got) != 0 {
		t.Fatalf("expected nothing played, got %v", got)
	}
}

func TestPlayDropsRemainingClipsWhenCancelledMidReply(t *testing.T) {
	sink := newRecordingSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline := NewPlaybackPipeline(textSynthesizer{}, sink, WithPlayedCallback(func(index int, text string) {
		if index == 0 {
			cancel()
		}
	}))

	report, err := pipeline.Play(ctx, []string{"A.", "B.", "C."}, doneSignal())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := sink.texts(); !equalStrings(got, []string{"A."}) {
		t.Fatalf("expected only [A.] played, got %v", got)
	}
	if len(report.Played) != 1 {
		t.Fatalf("expected 1 played fragment, got %v", report.Played)
	}
}

func TestPlayWaitsForFillerSignal(t *testing.T) {
	sink := newRecordingSink()
	signal := NewFillerSignal()

	done := make(chan error, 1)
	go func() {
		_, err := NewPlaybackPipeline(textSynthesizer{}, sink).Play(context.Background(), []string{"A."}, signal)
		done <- err
	}()

	select {
	case text := <-sink.started:
		t.Fatalf("expected nothing to play before the filler finished, got %q", text)
	case <-time.After(50 * time.Millisecond):
	}

	signal.MarkDone()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected playback to finish once the filler was done")
	}
	if got := sink.texts(); !equalStrings(got, []string{"A."}) {
		t.Fatalf("expected [A.], got %v", got)
	}
}

func TestPlayBoundsSynthesisConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	synth := textSynthesizer{synthesize: func(ctx context.Context, text string) (*audio.Clip, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			seen := peak.Load()
			if current <= seen || peak.CompareAndSwap(seen, current) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return textClip(text), nil
	}}

	fragments := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	if _, err := NewPlaybackPipeline(synth, newRecordingSink(), WithPipelineConcurrency(2)).Play(context.Background(), fragments, doneSignal()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent syntheses, got %d", got)
	}
}

func TestPlayReportsPlayedFragments(t *testing.T) {
	var mu sync.Mutex
	var played []string
	pipeline := NewPlaybackPipeline(textSynthesizer{}, newRecordingSink(), WithPlayedCallback(func(_ int, text string) {
		mu.Lock()
		defer mu.Unlock()
		played = append(played, text)
	}))

	if _, err := pipeline.Play(context.Background(), []string{"A.", "B."}, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !equalStrings(played, []string{"A.", "B."}) {
		t.Fatalf("expected [A. B.], got %v", played)
	}
}

func TestPlayWithoutFragments(t *testing.T) {
	report, err := NewPlaybackPipeline(textSynthesizer{}, newRecordingSink()).Play(context.Background(), nil, NewFillerSignal())
	if err != nil || len(report.Played) != 0 {
		t.Fatalf("expected empty report, got %+v, %v", report, err)
	}
}
