package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	sttdeepgram "github.com/koscakluka/ema-voice/core/speechtotext/deepgram"
	"github.com/spf13/cobra"
)

const transcriptWidth = 80

var showPartials bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Talk to the assistant through the microphone",
	RunE:  runVoice,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, runCmd} {
		cmd.Flags().BoolVar(&showPartials, "partials", false, "show the live transcript while speaking")
	}
}

func runVoice(cmd *cobra.Command, _ []string) error {
	cfg := loadedConfig
	if err := cfg.Validate(true); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, closeDevice, err := openDevice(cfg.Audio)
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	defer closeDevice()

	transcriber := sttdeepgram.NewTranscriptionClient(
		speechtotext.WithAPIKey(cfg.STT.APIKey),
		speechtotext.WithModel(cfg.STT.Model),
		speechtotext.WithLanguage(cfg.STT.Language),
		speechtotext.WithEncodingInfo(device.EncodingInfo()),
	)
	if err := transcriber.Connect(ctx); err != nil {
		return fmt.Errorf("failed to start transcription: %w", err)
	}
	defer func() {
		if err := transcriber.Close(); err != nil {
			slog.Warn("failed to close transcription", "error", err)
		}
	}()

	opts, closeAgent, err := newAgent(ctx, cfg, device)
	if err != nil {
		return err
	}
	defer closeAgent()

	out := newPrinter(cmd.OutOrStdout(), transcriptWidth, showPartials)
	orchestrator := orchestration.NewOrchestrator(append(opts,
		orchestration.WithAudioSource(device),
		orchestration.WithTranscriber(transcriber),
	)...)

	out.Notice("Listening, press Ctrl+C to stop.")
	err = orchestrator.Orchestrate(ctx, conversationCallbacks(ctx, out, true)...)
	if orchestrator.Turns().IsEnded() {
		out.Notice("Conversation ended.")
	}
	return err
}

func conversationCallbacks(ctx context.Context, out *printer, voice bool) []orchestration.OrchestrateOption {
	opts := []orchestration.OrchestrateOption{
		orchestration.WithFragmentPlayedCallback(out.Assistant),
		orchestration.WithReplyCallback(func(reply orchestration.Reply) {
			action, ok := reply.(orchestration.ActionReply)
			switch {
			case !ok:
			case action.Err != nil:
				slog.Warn("demo booking failed", "error", action.Err)
			case action.Booking != nil:
				out.Notice(fmt.Sprintf("Demo booked for %s at %s.", action.Booking.Email, action.Booking.Time.Format("Mon Jan 2 15:04 MST")))
			}
		}),
		orchestration.WithTurnStageCallback(func(id string, stage orchestration.TurnStage) {
			slog.DebugContext(ctx, "turn stage", "turn_id", id, "stage", stage)
		}),
	}
	if voice {
		opts = append(opts,
			orchestration.WithPartialCallback(out.Partial),
			orchestration.WithUtteranceCallback(func(u orchestration.Utterance) { out.User(u.Text) }),
		)
	}
	return opts
}
