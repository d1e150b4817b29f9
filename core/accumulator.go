package orchestration

import (
	"strings"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
)

const DefaultSilenceThreshold = 500 * time.Millisecond

// Utterance is a finalized piece of user speech.
type Utterance struct {
	Text string
	At   time.Time
}

// UtteranceAccumulator decides that the user stopped talking once the
// partial transcript has not changed for a while. It looks only at
// transcript stability, never at audio energy.
//
// It is not safe for concurrent use, the frame pump is its only caller.
type UtteranceAccumulator struct {
	threshold time.Duration
	step      time.Duration
	now       func() time.Time

	lastText string
	silence  time.Duration
}

// NewUtteranceAccumulator returns an accumulator that adds step of silence
// for every repeated partial and emits once threshold is reached.
func NewUtteranceAccumulator(threshold, step time.Duration) *UtteranceAccumulator {
	if threshold <= 0 {
		threshold = DefaultSilenceThreshold
	}
	if step <= 0 {
		step = audio.DefaultFrameDuration
	}
	return &UtteranceAccumulator{
		threshold: threshold,
		step:      step,
		now:       time.Now,
	}
}

// OnPartial feeds the transcript produced for one frame. It returns an
// utterance when the transcript stayed the same for long enough.
func (a *UtteranceAccumulator) OnPartial(text string) (Utterance, bool) {
	if text != a.lastText {
		a.lastText = text
		a.silence = 0
		return Utterance{}, false
	}

	a.silence += a.step
	trimmed := strings.TrimSpace(a.lastText)
	if a.silence < a.threshold || trimmed == "" {
		return Utterance{}, false
	}

	a.Reset()
	return Utterance{Text: trimmed, At: a.now()}, true
}

func (a *UtteranceAccumulator) Reset() {
	a.lastText = ""
	a.silence = 0
}

// RepeatsToEmit is the number of identical partials, after the first one,
// needed before an utterance is emitted.
func (a *UtteranceAccumulator) RepeatsToEmit() int {
	return int((a.threshold + a.step - 1) / a.step)
}
