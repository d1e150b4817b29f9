package orchestration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/llms"
)

// textSynthesizer "synthesizes" a clip whose audio is the text itself,
// which keeps played output readable in assertions.
type textSynthesizer struct {
	synthesize func(ctx context.Context, text string) (*audio.Clip, error)
}

func (s textSynthesizer) Synthesize(ctx context.Context, text string) (*audio.Clip, error) {
	if s.synthesize != nil {
		return s.synthesize(ctx, text)
	}
	return textClip(text), nil
}

func textClip(text string) *audio.Clip {
	return &audio.Clip{Audio: []byte(text), EncodingInfo: audio.GetDefaultEncodingInfo()}
}

type playedClip struct {
	text    string
	started time.Time
	ended   time.Time
}

// recordingSink records every clip it plays. Clips listed in delays take
// that long to play unless ctx is done first.
type recordingSink struct {
	mu      sync.Mutex
	played  []playedClip
	delays  map[string]time.Duration
	started chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{delays: map[string]time.Duration{}, started: make(chan string, 64)}
}

func (s *recordingSink) PlayBlocking(ctx context.Context, clip audio.Clip) error {
	text := string(clip.Audio)
	started := time.Now()
	select {
	case s.started <- text:
	default:
	}

	s.mu.Lock()
	delay := s.delays[text]
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, playedClip{text: text, started: started, ended: time.Now()})
	return nil
}

func (s *recordingSink) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	texts := make([]string, 0, len(s.played))
	for _, clip := range s.played {
		texts = append(texts, clip.text)
	}
	return texts
}

func (s *recordingSink) clips() []playedClip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]playedClip(nil), s.played...)
}

type backendFunc func(ctx context.Context, history []llms.Message) (string, error)

func (f backendFunc) Generate(ctx context.Context, history []llms.Message) (string, error) {
	return f(ctx, history)
}

func staticBackend(reply string) backendFunc {
	return func(context.Context, []llms.Message) (string, error) { return reply, nil }
}

func lastUserMessage(history []llms.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llms.MessageRoleUser {
			return history[i].Content
		}
	}
	return ""
}

type schedulerFunc func(ctx context.Context, req DemoRequest) (Booking, error)

func (f schedulerFunc) ScheduleDemo(ctx context.Context, req DemoRequest) (Booking, error) {
	return f(ctx, req)
}

// scriptedTranscriber returns its partials one per frame and then keeps
// returning the last one.
type scriptedTranscriber struct {
	mu       sync.Mutex
	partials []string
	failAt   map[int]bool
	calls    int
	resets   int
}

func (t *scriptedTranscriber) Transcribe(ctx context.Context, frame audio.Frame) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	call := t.calls
	t.calls++
	if t.failAt[call] {
		return "", errors.New("transcriber hiccup")
	}
	if len(t.partials) == 0 {
		return "", nil
	}
	if call >= len(t.partials) {
		return t.partials[len(t.partials)-1], nil
	}
	return t.partials[call], nil
}

func (t *scriptedTranscriber) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets++
	return nil
}

func (t *scriptedTranscriber) resetCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets
}

// frameSource pushes frames' worth of silence in odd-sized chunks, then
// waits for ctx.
type frameSource struct {
	frames int
	err    error
}

func (s frameSource) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (s frameSource) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	if s.err != nil {
		return s.err
	}
	frameSize := s.EncodingInfo().BytesPerDuration(audio.DefaultFrameDuration)
	remaining := s.frames * frameSize
	for remaining > 0 {
		chunk := min(remaining, 3000)
		onAudio(make([]byte, chunk))
		remaining -= chunk
		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}
