package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/llms"
)

// Transcriber turns fixed-duration frames into the running hypothesis for
// the current utterance. It is called once per frame, in order, never
// concurrently.
type Transcriber interface {
	Transcribe(ctx context.Context, frame audio.Frame) (string, error)
	Reset() error
}

type GenerationBackend interface {
	Generate(ctx context.Context, history []llms.Message) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*audio.Clip, error)
}

// AudioSink returns from PlayBlocking only once the clip has been played,
// or when ctx is done.
type AudioSink interface {
	PlayBlocking(ctx context.Context, clip audio.Clip) error
}

// AudioSource pushes captured audio. onAudio must not block.
type AudioSource interface {
	EncodingInfo() audio.EncodingInfo
	Stream(ctx context.Context, onAudio func(audio []byte)) error
}

type DemoScheduler interface {
	ScheduleDemo(ctx context.Context, req DemoRequest) (Booking, error)
}

type DemoRequest struct {
	Time  string
	Email string
}

type Booking struct {
	ID    string
	Time  time.Time
	Email string
}

type OrchestratorOption func(*Orchestrator)

func WithAudioSource(source AudioSource) OrchestratorOption {
	return func(o *Orchestrator) { o.source = source }
}

func WithTranscriber(transcriber Transcriber) OrchestratorOption {
	return func(o *Orchestrator) { o.transcriber = transcriber }
}

func WithAudioSink(sink AudioSink) OrchestratorOption {
	return func(o *Orchestrator) { o.sink = sink }
}

func WithGenerationBackend(backend GenerationBackend) OrchestratorOption {
	return func(o *Orchestrator) { o.backend = backend }
}

func WithSynthesizer(synthesizer Synthesizer) OrchestratorOption {
	return func(o *Orchestrator) { o.synthesizer = synthesizer }
}

func WithDemoScheduler(scheduler DemoScheduler) OrchestratorOption {
	return func(o *Orchestrator) { o.sessionOpts = append(o.sessionOpts, WithScheduler(scheduler)) }
}

func WithFiller(filler *Filler) OrchestratorOption {
	return func(o *Orchestrator) { o.sessionOpts = append(o.sessionOpts, WithFillerCue(filler)) }
}

func WithResponseTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.sessionOpts = append(o.sessionOpts, WithSessionResponseTimeout(timeout)) }
}

func WithMinFragmentLength(length int) OrchestratorOption {
	return func(o *Orchestrator) { o.sessionOpts = append(o.sessionOpts, WithSessionMinFragmentLength(length)) }
}

func WithApologies(generation, action string) OrchestratorOption {
	return func(o *Orchestrator) { o.sessionOpts = append(o.sessionOpts, WithSessionApologies(generation, action)) }
}

// WithHistory seeds the conversation, typically with earlier turns restored
// by the caller.
func WithHistory(history *History) OrchestratorOption {
	return func(o *Orchestrator) {
		if history != nil {
			o.history = history
		}
	}
}

func WithSynthesisConcurrency(concurrency int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.pipelineOpts = append(o.pipelineOpts, WithPipelineConcurrency(concurrency))
	}
}

// WithSilenceThreshold sets how long the transcript has to stay unchanged
// before the utterance is considered finished.
func WithSilenceThreshold(threshold time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.silenceThreshold = threshold }
}

// WithSilenceStep overrides how much silence one repeated partial counts
// for. It defaults to the frame duration.
func WithSilenceStep(step time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.silenceStep = step }
}

func WithFrameDuration(duration time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if duration > 0 {
			o.frameDuration = duration
		}
	}
}

// WithFrameQueueSize bounds the number of frames waiting for the
// transcriber. Frames arriving on a full queue are dropped.
func WithFrameQueueSize(size int) OrchestratorOption {
	return func(o *Orchestrator) {
		if size > 0 {
			o.frameQueueSize = size
		}
	}
}

type OrchestrateOptions struct {
	onPartial        func(transcript string)
	onUtterance      func(utterance Utterance)
	onReply          func(reply Reply)
	onTurnStage      func(id string, stage TurnStage)
	onFragmentPlayed func(text string)
}

type OrchestrateOption func(*OrchestrateOptions)

// WithPartialCallback registers a callback for every partial transcript,
// including repeated ones. It runs on the frame pump and should not block.
func WithPartialCallback(callback func(transcript string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onPartial = callback }
}

func WithUtteranceCallback(callback func(utterance Utterance)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onUtterance = callback }
}

// WithReplyCallback registers a callback for parsed replies, after actions
// have run and before anything is played.
func WithReplyCallback(callback func(reply Reply)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onReply = callback }
}

func WithTurnStageCallback(callback func(id string, stage TurnStage)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onTurnStage = callback }
}

func WithFragmentPlayedCallback(callback func(text string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onFragmentPlayed = callback }
}
