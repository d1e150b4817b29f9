package orchestration

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
)

const DefaultResponseTimeout = 4 * time.Second

// FillerSignal is closed once the filler for a turn has finished, or once
// it is known no filler will play. Only the turn that owns it marks it.
type FillerSignal struct {
	once sync.Once
	done chan struct{}
}

func NewFillerSignal() *FillerSignal {
	return &FillerSignal{done: make(chan struct{})}
}

func (s *FillerSignal) MarkDone() {
	s.once.Do(func() { close(s.done) })
}

func (s *FillerSignal) Done() <-chan struct{} { return s.done }

func (s *FillerSignal) IsDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal is done or ctx is cancelled. A nil signal is
// always done.
func (s *FillerSignal) Wait(ctx context.Context) error {
	if s == nil {
		return ctx.Err()
	}
	select {
	case <-s.done:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Filler is a pool of pre-synthesized stalling phrases.
type Filler struct {
	mu    sync.Mutex
	clips []audio.Clip
}

func NewFiller(clips ...audio.Clip) *Filler {
	return &Filler{clips: clips}
}

// PrepareFiller synthesizes every phrase up front. Phrases that fail are
// left out of the pool, the returned error lists them.
func PrepareFiller(ctx context.Context, synthesizer Synthesizer, phrases ...string) (*Filler, error) {
	filler := &Filler{}
	var errs []error
	for _, phrase := range phrases {
		clip, err := synthesizer.Synthesize(ctx, phrase)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to synthesize filler %q: %w", phrase, err))
			continue
		}
		if clip == nil {
			continue
		}
		filler.clips = append(filler.clips, *clip)
	}
	return filler, errors.Join(errs...)
}

// Pick returns a clip chosen uniformly at random.
func (f *Filler) Pick() (audio.Clip, bool) {
	if f == nil {
		return audio.Clip{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clips) == 0 {
		return audio.Clip{}, false
	}
	return f.clips[rand.IntN(len(f.clips))], true
}

func (f *Filler) Len() int {
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clips)
}
