package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultFrameQueueSize = 32

var ErrAlreadyStarted = errors.New("orchestrator already started")

// Orchestrator pumps captured audio through the transcriber and hands
// every finished utterance to a new, concurrently running turn.
type Orchestrator struct {
	source      AudioSource
	transcriber Transcriber
	sink        AudioSink
	backend     GenerationBackend
	synthesizer Synthesizer

	silenceThreshold time.Duration
	silenceStep      time.Duration
	frameDuration    time.Duration
	frameQueueSize   int

	sessionOpts  []SessionOption
	pipelineOpts []PipelineOption

	started atomic.Bool
	turns   *TurnState
	history *History
	wg      sync.WaitGroup
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		silenceThreshold: DefaultSilenceThreshold,
		frameDuration:    audio.DefaultFrameDuration,
		frameQueueSize:   DefaultFrameQueueSize,
		turns:            NewTurnState(),
		history:          NewHistory(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Turns exposes the interruption controller, mainly so callers can end the
// conversation from outside.
func (o *Orchestrator) Turns() *TurnState { return o.turns }

// History returns the dialogue of the conversation. It is the same value
// before, during and after the run.
func (o *Orchestrator) History() *History { return o.history }

// Orchestrate captures audio until ctx is done or a turn ends the
// conversation. Only a failure to start the audio source is returned, turn
// failures are degraded inside the turn.
//
// An orchestrator can be started once.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := o.validate(true); err != nil {
		return err
	}

	options := o.orchestrateOptions(opts...)
	session := o.newSession(options)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer o.shutdown()

	frames := make(chan audio.Frame, o.frameQueueSize)
	chunker := audio.NewFrameChunker(o.source.EncodingInfo(), o.frameDuration, func(frame audio.Frame) {
		select {
		case frames <- frame:
		default:
			logger.Warn("frame queue full, dropping frame", "seq", frame.Seq)
		}
	})

	sourceErr := make(chan error, 1)
	go func(errs chan<- error) {
		errs <- o.source.Stream(ctx, chunker.Write)
	}(sourceErr)

	step := o.silenceStep
	if step <= 0 {
		step = o.frameDuration
	}
	accumulator := NewUtteranceAccumulator(o.silenceThreshold, step)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-o.turns.Ended():
			return nil

		case err := <-sourceErr:
			if err != nil && ctx.Err() == nil {
				err = fmt.Errorf("audio source failed: %w", err)
				span := trace.SpanFromContext(ctx)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			// Some sources return as soon as capture runs in the background.
			sourceErr = nil

		case frame := <-frames:
			o.pumpFrame(ctx, frame, accumulator, session, options)
		}
	}
}

func (o *Orchestrator) pumpFrame(ctx context.Context, frame audio.Frame, accumulator *UtteranceAccumulator, session *ConversationSession, options OrchestrateOptions) {
	partial, err := o.transcriber.Transcribe(ctx, frame)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("skipping frame", "seq", frame.Seq, "error", fmt.Errorf("%w: %w", ErrTranscriptionGap, err))
		}
		return
	}
	if options.onPartial != nil {
		options.onPartial(partial)
	}

	utterance, ok := accumulator.OnPartial(partial)
	if !ok {
		return
	}
	if err := o.transcriber.Reset(); err != nil {
		logger.Warn("failed to reset transcriber", "error", err)
	}
	if options.onUtterance != nil {
		options.onUtterance(utterance)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		session.HandleUtterance(ctx, utterance)
	}()
}

// Converse runs the conversation on typed utterances instead of captured
// audio. Every utterance preempts the reply still in flight, as spoken
// ones do. It returns once utterances is closed and the last turn is done,
// when ctx is done, or when a turn ends the conversation.
func (o *Orchestrator) Converse(ctx context.Context, utterances <-chan string, opts ...OrchestrateOption) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := o.validate(false); err != nil {
		return err
	}

	options := o.orchestrateOptions(opts...)
	session := o.newSession(options)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil

		case <-o.turns.Ended():
			o.shutdown()
			return nil

		case text, ok := <-utterances:
			if !ok {
				o.wg.Wait()
				return nil
			}
			utterance := Utterance{Text: strings.TrimSpace(text), At: time.Now()}
			if utterance.Text == "" {
				continue
			}
			if options.onUtterance != nil {
				options.onUtterance(utterance)
			}
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				session.HandleUtterance(ctx, utterance)
			}()
		}
	}
}

func (o *Orchestrator) orchestrateOptions(opts ...OrchestrateOption) OrchestrateOptions {
	options := OrchestrateOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	o.turns.setStageCallback(options.onTurnStage)
	return options
}

func (o *Orchestrator) newSession(options OrchestrateOptions) *ConversationSession {
	pipelineOpts := append([]PipelineOption{}, o.pipelineOpts...)
	if options.onFragmentPlayed != nil {
		pipelineOpts = append(pipelineOpts, WithPlayedCallback(func(_ int, text string) {
			options.onFragmentPlayed(text)
		}))
	}
	pipeline := NewPlaybackPipeline(o.synthesizer, o.sink, pipelineOpts...)

	sessionOpts := append([]SessionOption{WithSessionHistory(o.history)}, o.sessionOpts...)
	if options.onReply != nil {
		sessionOpts = append(sessionOpts, WithSessionReplyCallback(options.onReply))
	}
	return NewConversationSession(o.turns, o.backend, o.sink, pipeline, sessionOpts...)
}

// shutdown cancels every live turn and waits for them to notice.
func (o *Orchestrator) shutdown() {
	o.turns.CancelAll()
	o.wg.Wait()
}

func (o *Orchestrator) validate(withAudioInput bool) error {
	var missing []error
	if withAudioInput && o.source == nil {
		missing = append(missing, errors.New("audio source not set"))
	}
	if withAudioInput && o.transcriber == nil {
		missing = append(missing, errors.New("transcriber not set"))
	}
	if o.sink == nil {
		missing = append(missing, errors.New("audio sink not set"))
	}
	if o.backend == nil {
		missing = append(missing, errors.New("generation backend not set"))
	}
	if o.synthesizer == nil {
		missing = append(missing, errors.New("synthesizer not set"))
	}
	return errors.Join(missing...)
}
