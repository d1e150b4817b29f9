package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const envPrefix = "EMA"

type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Audio    AudioConfig    `mapstructure:"audio"`
	Turn     TurnConfig     `mapstructure:"turn"`
	STT      STTConfig      `mapstructure:"stt"`
	LLM      LLMConfig      `mapstructure:"llm"`
	TTS      TTSConfig      `mapstructure:"tts"`
	Bookings BookingsConfig `mapstructure:"bookings"`
}

type AudioConfig struct {
	// Backend is either miniaudio or portaudio.
	Backend        string        `mapstructure:"backend"`
	SampleRate     int           `mapstructure:"sample_rate"`
	FrameDuration  time.Duration `mapstructure:"frame_duration"`
	FrameQueueSize int           `mapstructure:"frame_queue_size"`
}

type TurnConfig struct {
	SilenceThreshold     time.Duration `mapstructure:"silence_threshold"`
	SilenceStep          time.Duration `mapstructure:"silence_step"`
	ResponseTimeout      time.Duration `mapstructure:"response_timeout"`
	MinFragmentLength    int           `mapstructure:"min_fragment_length"`
	SynthesisConcurrency int           `mapstructure:"synthesis_concurrency"`
	FillerPhrases        []string      `mapstructure:"filler_phrases"`
	GenerationApology    string        `mapstructure:"generation_apology"`
	ActionApology        string        `mapstructure:"action_apology"`
}

type STTConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

type LLMConfig struct {
	// Provider is one of openai, groq or gemini.
	Provider     string `mapstructure:"provider"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	BaseURL      string `mapstructure:"base_url"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

type TTSConfig struct {
	// Provider is either elevenlabs or deepgram.
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Voice    string `mapstructure:"voice"`
	Model    string `mapstructure:"model"`
}

type BookingsConfig struct {
	// Dir keeps bookings on disk, empty keeps them in memory.
	Dir string `mapstructure:"dir"`
}

// providerKeys are the conventional env variables read when no key is
// configured under the EMA_ prefix.
var providerKeys = map[string]string{
	"deepgram":   "DEEPGRAM_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"groq":       "GROQ_API_KEY",
	"gemini":     "GEMINI_API_KEY",
}

// Load reads env files (".env" when none are given, missing files are
// fine), then the config file, then EMA_ prefixed env variables, e.g.
// EMA_TURN_RESPONSE_TIMEOUT=3s. An empty path looks for ema.yaml in the
// working directory and carries on without it.
func Load(path string, envFiles ...string) (Config, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ema")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg.STT.APIKey = keyOrEnv(cfg.STT.APIKey, "deepgram")
	cfg.LLM.APIKey = keyOrEnv(cfg.LLM.APIKey, cfg.LLM.Provider)
	cfg.TTS.APIKey = keyOrEnv(cfg.TTS.APIKey, cfg.TTS.Provider)
	cfg.Turn.FillerPhrases = trimAll(cfg.Turn.FillerPhrases)

	return cfg, nil
}

func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("audio.backend", "miniaudio")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.frame_duration", "160ms")
	v.SetDefault("audio.frame_queue_size", 32)

	v.SetDefault("turn.silence_threshold", "500ms")
	v.SetDefault("turn.silence_step", "0s")
	v.SetDefault("turn.response_timeout", "4s")
	v.SetDefault("turn.min_fragment_length", 2)
	v.SetDefault("turn.synthesis_concurrency", 5)
	v.SetDefault("turn.filler_phrases", []string{"One moment please.", "Let me check that for you.", "Just a second."})
	v.SetDefault("turn.generation_apology", "")
	v.SetDefault("turn.action_apology", "")

	v.SetDefault("stt.api_key", "")
	v.SetDefault("stt.model", "nova-3")
	v.SetDefault("stt.language", "en-US")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.system_prompt", "")

	v.SetDefault("tts.provider", "elevenlabs")
	v.SetDefault("tts.api_key", "")
	v.SetDefault("tts.voice", "")
	v.SetDefault("tts.model", "")

	v.SetDefault("bookings.dir", "")
}

func keyOrEnv(key, provider string) string {
	if key != "" {
		return key
	}
	if name, ok := providerKeys[provider]; ok {
		return os.Getenv(name)
	}
	return ""
}

func trimAll(values []string) []string {
	trimmed := values[:0]
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			trimmed = append(trimmed, value)
		}
	}
	return trimmed
}

// Validate reports every missing or unsupported setting at once. Speech
// recognition settings are only checked when withMicrophone is set.
func (c Config) Validate(withMicrophone bool) error {
	var errs []error
	if withMicrophone {
		if c.STT.APIKey == "" {
			errs = append(errs, errors.New("stt.api_key is required"))
		}
		switch c.Audio.Backend {
		case "miniaudio", "portaudio":
		default:
			errs = append(errs, fmt.Errorf("audio.backend %q is not supported", c.Audio.Backend))
		}
	}

	switch c.LLM.Provider {
	case "openai", "groq", "gemini":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required"))
	}

	switch c.TTS.Provider {
	case "elevenlabs", "deepgram":
	default:
		errs = append(errs, fmt.Errorf("tts.provider %q is not supported", c.TTS.Provider))
	}
	if c.TTS.APIKey == "" {
		errs = append(errs, errors.New("tts.api_key is required"))
	}

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, errors.New("audio.sample_rate must be positive"))
	}
	if c.Audio.FrameDuration <= 0 {
		errs = append(errs, errors.New("audio.frame_duration must be positive"))
	}
	return errors.Join(errs...)
}
