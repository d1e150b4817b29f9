package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/llms"
)

func TestOrchestrateRunsTurnUntilConversationEnds(t *testing.T) {
	transcriber := &scriptedTranscriber{
		partials: []string{"", "I", "I want", "I want a demo", "I want a demo", "I want a demo", "I want a demo", "I want a demo", ""},
		failAt:   map[int]bool{1: true},
	}
	sink := newRecordingSink()
	o := NewOrchestrator(
		WithAudioSource(frameSource{frames: 40}),
		WithTranscriber(transcriber),
		WithAudioSink(sink),
		WithSynthesizer(textSynthesizer{}),
		WithGenerationBackend(staticBackend(`{"type":"end","messages":["Thanks, goodbye."]}`)),
		WithFrameQueueSize(64),
	)

	var mu sync.Mutex
	var utterances []string
	var replies []ReplyKind
	var played []string
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := o.Orchestrate(ctx,
		WithUtteranceCallback(func(u Utterance) {
			mu.Lock()
			defer mu.Unlock()
			utterances = append(utterances, u.Text)
		}),
		WithReplyCallback(func(reply Reply) {
			mu.Lock()
			defer mu.Unlock()
			replies = append(replies, reply.Kind())
		}),
		WithFragmentPlayedCallback(func(text string) {
			mu.Lock()
			defer mu.Unlock()
			played = append(played, text)
		}),
	)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("expected the conversation to end before the timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(utterances) != 1 || utterances[0] != "I want a demo" {
		t.Fatalf("expected one utterance, got %v", utterances)
	}
	if len(replies) != 1 || replies[0] != ReplyKindEnd {
		t.Fatalf("expected one end reply, got %v", replies)
	}
	if !equalStrings(played, []string{"Thanks, goodbye."}) || !equalStrings(sink.texts(), played) {
		t.Fatalf("expected goodbye played, got %v", played)
	}
	if transcriber.resetCount() != 1 {
		t.Fatalf("expected transcriber reset once, got %d", transcriber.resetCount())
	}
	if got := o.History().Len(); got != 2 {
		t.Fatalf("expected 2 history messages, got %d", got)
	}
}

func TestOrchestrateReturnsSourceFailure(t *testing.T) {
	o := NewOrchestrator(
		WithAudioSource(frameSource{err: errors.New("no microphone")}),
		WithTranscriber(&scriptedTranscriber{}),
		WithAudioSink(newRecordingSink()),
		WithSynthesizer(textSynthesizer{}),
		WithGenerationBackend(staticBackend("")),
	)

	if err := o.Orchestrate(context.Background()); err == nil {
		t.Fatalf("expected the source failure to be returned")
	}
}

func TestOrchestrateRequiresCollaborators(t *testing.T) {
	err := NewOrchestrator().Orchestrate(context.Background())
	if err == nil {
		t.Fatalf("expected missing collaborators to be reported")
	}
}

func TestOrchestratorStartsOnce(t *testing.T) {
	o := NewOrchestrator(
		WithAudioSink(newRecordingSink()),
		WithSynthesizer(textSynthesizer{}),
		WithGenerationBackend(staticBackend("")),
	)
	utterances := make(chan string)
	close(utterances)

	if err := o.Converse(context.Background(), utterances); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := o.Converse(context.Background(), utterances); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestConverseHandlesTypedUtterances(t *testing.T) {
	sink := newRecordingSink()
	backend := backendFunc(func(_ context.Context, history []llms.Message) (string, error) {
		return `{"type":"chat","messages":["You said ` + lastUserMessage(history) + `."]}`, nil
	})
	o := NewOrchestrator(
		WithAudioSink(sink),
		WithSynthesizer(textSynthesizer{}),
		WithGenerationBackend(backend),
	)

	var mu sync.Mutex
	var stages []TurnStage
	utterances := make(chan string, 2)
	utterances <- "hello"
	utterances <- ""
	close(utterances)

	if err := o.Converse(context.Background(), utterances, WithTurnStageCallback(func(_ string, stage TurnStage) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, stage)
	})); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if got := sink.texts(); !equalStrings(got, []string{"You said hello."}) {
		t.Fatalf("expected one reply, got %v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(stages) == 0 || stages[len(stages)-1] != TurnStageCompleted {
		t.Fatalf("expected the turn to complete, got %v", stages)
	}
}

func TestConverseSkipsBlankUtterances(t *testing.T) {
	sink := newRecordingSink()
	var mu sync.Mutex
	var asked []string
	backend := backendFunc(func(_ context.Context, history []llms.Message) (string, error) {
		mu.Lock()
		asked = append(asked, lastUserMessage(history))
		mu.Unlock()
		return `{"type":"chat","messages":["Got it."]}`, nil
	})
	o := NewOrchestrator(
		WithAudioSink(sink),
		WithSynthesizer(textSynthesizer{}),
		WithGenerationBackend(backend),
	)

	utterances := make(chan string, 3)
	utterances <- "  hello  "
	utterances <- "   "
	utterances <- "\t\n"
	close(utterances)

	if err := o.Converse(context.Background(), utterances); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !equalStrings(asked, []string{"hello"}) {
		t.Fatalf("expected a single trimmed utterance, got %q", asked)
	}
	if got := sink.texts(); !equalStrings(got, []string{"Got it."}) {
		t.Fatalf("expected one reply, got %v", got)
	}
}

func TestHistoryIsStableAcrossTheRun(t *testing.T) {
	seeded := NewHistory(llms.UserMessage("earlier"))
	o := NewOrchestrator(
		WithAudioSink(newRecordingSink()),
		WithSynthesizer(textSynthesizer{}),
		WithGenerationBackend(staticBackend(`{"type":"chat","messages":["Sure."]}`)),
		WithHistory(seeded),
	)

	before := o.History()
	if before != seeded {
		t.Fatalf("expected the seeded history before the run")
	}

	utterances := make(chan string, 1)
	utterances <- "hello"
	close(utterances)
	if err := o.Converse(context.Background(), utterances); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if o.History() != before {
		t.Fatalf("expected the same history after the run")
	}
	if got := before.Len(); got != 3 {
		t.Fatalf("expected seeded, user and assistant messages, got %d", got)
	}
}

func TestHistoryExistsBeforeStart(t *testing.T) {
	o := NewOrchestrator()
	if o.History() == nil {
		t.Fatalf("expected a history before the run")
	}
	if got := o.History().Len(); got != 0 {
		t.Fatalf("expected empty history, got %d", got)
	}
}
