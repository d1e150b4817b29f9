package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/koscakluka/ema-voice/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMinFragmentLength = 2

	defaultGenerationApology = "Sorry, I didn't quite catch that. Could you say it again?"
	defaultActionApology     = "Sorry, I couldn't book the demo. Could you give me the time and email again?"
)

// TurnOutcome summarizes how a turn ended.
type TurnOutcome struct {
	TurnID   string
	Stage    TurnStage
	Reply    Reply
	Playback PlaybackReport
}

// ConversationSession drives one turn per finalized utterance: it owns the
// history, talks to the backend, runs actions and hands the reply to the
// playback pipeline.
type ConversationSession struct {
	turns    *TurnState
	backend  GenerationBackend
	sink     AudioSink
	pipeline *PlaybackPipeline
	history  *History

	filler            *Filler
	scheduler         DemoScheduler
	responseTimeout   time.Duration
	minFragmentLength int
	generationApology string
	actionApology     string

	onReply func(Reply)
}

type SessionOption func(*ConversationSession)

func WithFillerCue(filler *Filler) SessionOption {
	return func(s *ConversationSession) { s.filler = filler }
}

func WithScheduler(scheduler DemoScheduler) SessionOption {
	return func(s *ConversationSession) { s.scheduler = scheduler }
}

func WithSessionResponseTimeout(timeout time.Duration) SessionOption {
	return func(s *ConversationSession) {
		if timeout > 0 {
			s.responseTimeout = timeout
		}
	}
}

func WithSessionMinFragmentLength(length int) SessionOption {
	return func(s *ConversationSession) {
		if length >= 0 {
			s.minFragmentLength = length
		}
	}
}

func WithSessionApologies(generation, action string) SessionOption {
	return func(s *ConversationSession) {
		if generation != "" {
			s.generationApology = generation
		}
		if action != "" {
			s.actionApology = action
		}
	}
}

func WithSessionHistory(history *History) SessionOption {
	return func(s *ConversationSession) {
		if history != nil {
			s.history = history
		}
	}
}

func WithSessionReplyCallback(callback func(Reply)) SessionOption {
	return func(s *ConversationSession) { s.onReply = callback }
}

func NewConversationSession(turns *TurnState, backend GenerationBackend, sink AudioSink, pipeline *PlaybackPipeline, opts ...SessionOption) *ConversationSession {
	s := &ConversationSession{
		turns:             turns,
		backend:           backend,
		sink:              sink,
		pipeline:          pipeline,
		history:           NewHistory(),
		responseTimeout:   DefaultResponseTimeout,
		minFragmentLength: DefaultMinFragmentLength,
		generationApology: defaultGenerationApology,
		actionApology:     defaultActionApology,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ConversationSession) History() *History { return s.history }

// HandleUtterance runs a whole turn and blocks until it has finished
// playing, was cancelled by a newer utterance, or failed. Starting it
// cancels every turn still in flight.
func (s *ConversationSession) HandleUtterance(ctx context.Context, utterance Utterance) (outcome TurnOutcome) {
	turn := s.turns.StartTurn(ctx, utterance)
	defer s.turns.Finish(turn)
	outcome.TurnID = turn.ID

	turnCtx, span := tracer.Start(turn.Context(), "handle utterance",
		trace.WithAttributes(attribute.String("turn.id", turn.ID)))
	defer span.End()

	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("turn panicked: %v", recovered)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("turn failed", "turn_id", turn.ID, "error", err)
			turn.setStage(TurnStageFailed)
		}
		outcome.Stage = turn.Stage()
	}()

	s.history.Append(llms.UserMessage(utterance.Text))
	snapshot := s.history.Snapshot()

	turn.setStage(TurnStageGenerating)
	signal := NewFillerSignal()
	raw, err := s.generate(turnCtx, turn, snapshot, signal)
	if turn.Cancelled() {
		turn.setStage(TurnStageCancelled)
		return outcome
	}

	var reply Reply
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		span.RecordError(err)
		logger.Warn("generation failed, apologizing", "turn_id", turn.ID, "error", err)
		reply = FallbackReply{Text: s.generationApology}
	} else {
		s.history.AppendIf(llms.AssistantMessage(raw), func() bool { return !turn.Cancelled() })
		if reply, err = ParseReply(raw); err != nil {
			logger.Warn("falling back to raw reply", "turn_id", turn.ID, "error", err)
		}
	}

	reply = s.runAction(turnCtx, reply)
	if turn.Cancelled() {
		turn.setStage(TurnStageCancelled)
		return outcome
	}
	outcome.Reply = reply
	if s.onReply != nil {
		s.onReply(reply)
	}

	fragments := s.filterFragments(reply.Fragments())
	span.SetAttributes(
		attribute.String("reply.kind", string(reply.Kind())),
		attribute.Int("reply.fragments", len(fragments)),
	)

	turn.setStage(TurnStageSpeaking)
	report, err := s.pipeline.Play(turnCtx, fragments, signal)
	outcome.Playback = report

	if reply.Kind() == ReplyKindEnd {
		s.turns.EndConversation()
	}

	switch {
	case report.Cancelled || errors.Is(err, context.Canceled) || turn.Cancelled():
		turn.setStage(TurnStageCancelled)
	case len(fragments) > 0 && len(report.Played) == 0:
		span.SetStatus(codes.Error, "no fragment could be played")
		turn.setStage(TurnStageFailed)
	default:
		turn.setStage(TurnStageCompleted)
	}
	return outcome
}

// generate races the backend against the response timeout. When the
// timeout wins a filler clip starts playing and signal is left to the filler,
// which marks it done once the clip has finished. Otherwise signal is marked
// done as soon as generation returns.
func (s *ConversationSession) generate(ctx context.Context, turn *Turn, history []llms.Message, signal *FillerSignal) (string, error) {
	ctx, span := tracer.Start(ctx, "generate reply")
	defer span.End()

	type generation struct {
		raw string
		err error
	}
	generated := make(chan generation, 1)
	go func() {
		var result generation
		result.err = panicSafe("generation backend", func() error {
			var err error
			result.raw, err = s.backend.Generate(ctx, history)
			return err
		})
		generated <- result
	}()

	timer := time.NewTimer(s.responseTimeout)
	defer timer.Stop()

	fillerStarted := false
	for {
		select {
		case result := <-generated:
			if !fillerStarted {
				signal.MarkDone()
			}
			if result.err != nil {
				span.RecordError(result.err)
				span.SetStatus(codes.Error, result.err.Error())
			}
			return result.raw, result.err

		case <-timer.C:
			span.AddEvent("response timeout")
			fillerStarted = s.startFiller(ctx, turn, signal)

		case <-ctx.Done():
			if !fillerStarted {
				signal.MarkDone()
			}
			return "", ctx.Err()
		}
	}
}

// startFiller reports whether a clip is playing. If none is, signal has
// already been marked done.
func (s *ConversationSession) startFiller(ctx context.Context, turn *Turn, signal *FillerSignal) bool {
	clip, ok := s.filler.Pick()
	if !ok || s.sink == nil {
		signal.MarkDone()
		return false
	}

	turn.setStage(TurnStageFillerPlaying)
	go func() {
		defer signal.MarkDone()
		if err := s.sink.PlayBlocking(ctx, clip); err != nil && ctx.Err() == nil {
			logger.Warn("failed to play filler", "turn_id", turn.ID, "error", err)
		}
	}()
	return true
}

func (s *ConversationSession) runAction(ctx context.Context, reply Reply) Reply {
	action, ok := reply.(ActionReply)
	if !ok {
		return reply
	}

	if s.scheduler == nil {
		action.Err = fmt.Errorf("%w: no scheduler configured", ErrActionFailed)
	} else {
		var booking Booking
		err := panicSafe("demo scheduler", func() error {
			var err error
			booking, err = s.scheduler.ScheduleDemo(ctx, action.Request)
			return err
		})
		if err != nil {
			action.Err = fmt.Errorf("%w: %w", ErrActionFailed, err)
		} else {
			action.Booking = &booking
		}
	}

	if action.Err != nil {
		if ctx.Err() == nil {
			logger.Warn("demo booking failed", "error", action.Err)
		}
		action.Messages = []string{s.actionApology}
	}
	return action
}

func (s *ConversationSession) filterFragments(fragments []string) []string {
	filtered := make([]string, 0, len(fragments))
	for _, fragment := range fragments {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" || utf8.RuneCountInString(fragment) < s.minFragmentLength {
			continue
		}
		filtered = append(filtered, fragment)
	}
	return filtered
}
