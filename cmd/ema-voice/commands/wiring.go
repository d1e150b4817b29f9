package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/actions"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/audio/miniaudio"
	"github.com/koscakluka/ema-voice/core/audio/portaudio"
	"github.com/koscakluka/ema-voice/core/llms"
	"github.com/koscakluka/ema-voice/core/llms/gemini"
	"github.com/koscakluka/ema-voice/core/llms/groq"
	"github.com/koscakluka/ema-voice/core/llms/openai"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	ttsdeepgram "github.com/koscakluka/ema-voice/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-voice/core/texttospeech/elevenlabs"
	"github.com/koscakluka/ema-voice/internal/config"
)

const fillerPrepareTimeout = 20 * time.Second

type device interface {
	orchestration.AudioSource
	orchestration.AudioSink
}

func openDevice(cfg config.AudioConfig) (device, func(), error) {
	switch cfg.Backend {
	case "portaudio":
		bufferSize := audio.EncodingInfo{SampleRate: cfg.SampleRate, Format: audio.EncodingLinear16}.
			BytesPerDuration(cfg.FrameDuration) / 2
		client, err := portaudio.NewClient(bufferSize, cfg.SampleRate)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {
			if err := client.Close(); err != nil {
				slog.Warn("failed to close audio device", "error", err)
			}
		}, nil
	default:
		client, err := miniaudio.NewClient(miniaudio.WithSampleRate(cfg.SampleRate))
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
}

func newBackend(ctx context.Context, cfg config.LLMConfig) (orchestration.GenerationBackend, error) {
	opts := []llms.ClientOption{
		llms.WithAPIKey(cfg.APIKey),
		llms.WithModel(cfg.Model),
		llms.WithBaseURL(cfg.BaseURL),
		llms.WithInstructions(cfg.SystemPrompt),
		llms.WithResponseSchema(orchestration.ReplyFormat{}),
	}
	switch cfg.Provider {
	case "groq":
		return groq.NewClient(opts...)
	case "gemini":
		return gemini.NewClient(ctx, opts...)
	case "openai":
		return openai.NewClient(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func newSynthesizer(cfg config.TTSConfig) (orchestration.Synthesizer, error) {
	opts := []texttospeech.TextToSpeechOption{
		texttospeech.WithAPIKey(cfg.APIKey),
		texttospeech.WithVoice(cfg.Voice),
		texttospeech.WithModel(cfg.Model),
	}
	switch cfg.Provider {
	case "deepgram":
		return ttsdeepgram.NewTextToSpeechClient(opts...)
	case "elevenlabs":
		return elevenlabs.NewTextToSpeechClient(opts...)
	default:
		return nil, fmt.Errorf("unsupported tts provider %q", cfg.Provider)
	}
}

// newAgent builds everything a conversation needs apart from the
// microphone side. The returned func releases what it opened.
func newAgent(ctx context.Context, cfg config.Config, sink orchestration.AudioSink) ([]orchestration.OrchestratorOption, func(), error) {
	backend, err := newBackend(ctx, cfg.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create generation backend: %w", err)
	}
	synthesizer, err := newSynthesizer(cfg.TTS)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}
	scheduler, err := actions.NewScheduler(actions.WithDir(cfg.Bookings.Dir))
	if err != nil {
		return nil, nil, err
	}

	fillerCtx, cancel := context.WithTimeout(ctx, fillerPrepareTimeout)
	defer cancel()
	filler, err := orchestration.PrepareFiller(fillerCtx, synthesizer, cfg.Turn.FillerPhrases...)
	if err != nil {
		slog.Warn("some filler phrases are unavailable", "error", err, "available", filler.Len())
	}

	opts := []orchestration.OrchestratorOption{
		orchestration.WithAudioSink(sink),
		orchestration.WithGenerationBackend(backend),
		orchestration.WithSynthesizer(synthesizer),
		orchestration.WithDemoScheduler(scheduler),
		orchestration.WithFiller(filler),
		orchestration.WithResponseTimeout(cfg.Turn.ResponseTimeout),
		orchestration.WithMinFragmentLength(cfg.Turn.MinFragmentLength),
		orchestration.WithSynthesisConcurrency(cfg.Turn.SynthesisConcurrency),
		orchestration.WithApologies(cfg.Turn.GenerationApology, cfg.Turn.ActionApology),
		orchestration.WithSilenceThreshold(cfg.Turn.SilenceThreshold),
		orchestration.WithSilenceStep(cfg.Turn.SilenceStep),
		orchestration.WithFrameDuration(cfg.Audio.FrameDuration),
		orchestration.WithFrameQueueSize(cfg.Audio.FrameQueueSize),
	}
	closeAgent := func() {
		if err := scheduler.Close(); err != nil {
			slog.Warn("failed to close booking store", "error", err)
		}
	}
	return opts, closeAgent, nil
}
