package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Type to the assistant, replies are spoken",
	Long: `chat reads one utterance per line from stdin. Sending a line while a
reply is still playing interrupts it, the same way speaking does.`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg := loadedConfig
	if err := cfg.Validate(false); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, closeDevice, err := openDevice(cfg.Audio)
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	defer closeDevice()

	opts, closeAgent, err := newAgent(ctx, cfg, device)
	if err != nil {
		return err
	}
	defer closeAgent()

	out := newPrinter(cmd.OutOrStdout(), transcriptWidth, false)
	orchestrator := orchestration.NewOrchestrator(opts...)

	out.Notice("Type a message and press enter, Ctrl+D to quit.")
	utterances := readLines(ctx, cmd.InOrStdin())
	return orchestrator.Converse(ctx, utterances, conversationCallbacks(ctx, out, false)...)
}

// readLines feeds non-empty lines into the returned channel until in is
// exhausted or ctx is done.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
