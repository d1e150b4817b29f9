package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/koscakluka/ema-voice/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFiles   []string
	logLevel   string

	loadedConfig config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ema-voice",
	Short: "Voice sales assistant",
	Long: `ema-voice - listens to the microphone, answers out loud and can book
demo meetings.

Settings are read from .env, ema.yaml and EMA_ prefixed environment
variables, e.g. EMA_LLM_PROVIDER=groq or EMA_TURN_RESPONSE_TIMEOUT=3s.
Provider keys fall back to DEEPGRAM_API_KEY, OPENAI_API_KEY, GROQ_API_KEY,
GEMINI_API_KEY and ELEVENLABS_API_KEY.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
	RunE:              runVoice,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./ema.yaml)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load (default .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(runCmd, chatCmd, devicesCmd)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath, envFiles...)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	loadedConfig = cfg

	slog.SetDefault(initLogger(parseLevel(cfg.LogLevel), cfg.LogFormat))
	return nil
}

func parseLevel(level string) slog.Level {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		fmt.Fprintf(os.Stderr, "unknown log level %q, using info\n", level)
		return slog.LevelInfo
	}
	return parsed
}

// initLogger writes to stderr so the conversation on stdout stays
// readable.
func initLogger(level slog.Level, format string) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}
