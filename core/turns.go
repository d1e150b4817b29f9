package orchestration

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type TurnStage string

const (
	TurnStageCreated       TurnStage = "created"
	TurnStageGenerating    TurnStage = "generating"
	TurnStageFillerPlaying TurnStage = "filler_playing"
	TurnStageSpeaking      TurnStage = "speaking"
	TurnStageCompleted     TurnStage = "completed"
	TurnStageCancelled     TurnStage = "cancelled"
	TurnStageFailed        TurnStage = "failed"
)

func (s TurnStage) IsTerminal() bool {
	switch s {
	case TurnStageCompleted, TurnStageCancelled, TurnStageFailed:
		return true
	}
	return false
}

// Turn is one utterance -> reply -> playback cycle. Its context is the
// cancellation token, work done for the turn polls it at every suspension
// point.
type Turn struct {
	ID        string
	Utterance Utterance

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stage   TurnStage
	onStage func(id string, stage TurnStage)
}

func (t *Turn) Context() context.Context { return t.ctx }
func (t *Turn) Cancelled() bool          { return t.ctx.Err() != nil }

func (t *Turn) Stage() TurnStage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

// setStage moves the turn forward. Terminal stages are final.
func (t *Turn) setStage(stage TurnStage) {
	t.mu.Lock()
	if t.stage.IsTerminal() || t.stage == stage {
		t.mu.Unlock()
		return
	}
	t.stage = stage
	onStage := t.onStage
	t.mu.Unlock()

	if onStage != nil {
		onStage(t.ID, stage)
	}
}

// TurnState is the interruption controller. It owns the registry of live
// cancellation tokens and makes sure at most one turn is current.
type TurnState struct {
	mu      sync.Mutex
	live    map[string]*Turn
	current *Turn
	onStage func(id string, stage TurnStage)

	ended   chan struct{}
	endOnce sync.Once
}

func NewTurnState() *TurnState {
	return &TurnState{
		live:  make(map[string]*Turn),
		ended: make(chan struct{}),
	}
}

func (s *TurnState) setStageCallback(onStage func(id string, stage TurnStage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStage = onStage
}

// StartTurn cancels every live turn and registers a new current one.
// Identical utterances are not deduplicated.
func (s *TurnState) StartTurn(parent context.Context, utterance Utterance) *Turn {
	ctx, cancel := context.WithCancel(parent)
	turn := &Turn{
		ID:        uuid.NewString(),
		Utterance: utterance,
		ctx:       ctx,
		cancel:    cancel,
		stage:     TurnStageCreated,
	}

	s.mu.Lock()
	for _, live := range s.live {
		live.cancel()
	}
	turn.onStage = s.onStage
	s.live[turn.ID] = turn
	s.current = turn
	s.mu.Unlock()

	if turn.onStage != nil {
		turn.onStage(turn.ID, TurnStageCreated)
	}
	return turn
}

// Current returns the most recently started turn that has not finished.
func (s *TurnState) Current() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Finish releases the turn's token.
func (s *TurnState) Finish(turn *Turn) {
	s.mu.Lock()
	delete(s.live, turn.ID)
	if s.current == turn {
		s.current = nil
	}
	s.mu.Unlock()

	turn.cancel()
}

// CancelAll cancels every live token without starting a new turn.
func (s *TurnState) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, live := range s.live {
		live.cancel()
	}
}

func (s *TurnState) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *TurnState) EndConversation() {
	s.endOnce.Do(func() { close(s.ended) })
}

func (s *TurnState) Ended() <-chan struct{} { return s.ended }

func (s *TurnState) IsEnded() bool {
	select {
	case <-s.ended:
		return true
	default:
		return false
	}
}
