package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, name := range providerKeys {
		// Setenv restores the original value on cleanup, the variable
		// itself has to be unset for env files to fill it in.
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearProviderEnv(t)
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err == nil {
		t.Fatalf("expected an explicit missing config file to fail")
	}

	t.Chdir(dir)
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("expected defaults without a config file, got %v", err)
	}
	if cfg.Turn.ResponseTimeout != 4*time.Second {
		t.Fatalf("expected 4s response timeout, got %v", cfg.Turn.ResponseTimeout)
	}
	if cfg.Turn.SilenceThreshold != 500*time.Millisecond || cfg.Audio.FrameDuration != 160*time.Millisecond {
		t.Fatalf("expected 500ms threshold and 160ms frames, got %v and %v", cfg.Turn.SilenceThreshold, cfg.Audio.FrameDuration)
	}
	if cfg.LLM.Provider != "openai" || cfg.TTS.Provider != "elevenlabs" {
		t.Fatalf("expected default providers, got %q and %q", cfg.LLM.Provider, cfg.TTS.Provider)
	}
	if len(cfg.Turn.FillerPhrases) != 3 {
		t.Fatalf("expected default filler phrases, got %v", cfg.Turn.FillerPhrases)
	}
}

func TestLoadLayersFileEnvFileAndEnv(t *testing.T) {
	clearProviderEnv(t)
	dir := t.TempDir()

	configPath := filepath.Join(dir, "ema.yaml")
	if err := os.WriteFile(configPath, []byte(`
llm:
  provider: groq
  system_prompt: You sell demos.
turn:
  silence_threshold: 640ms
  filler_phrases:
    - Hmm.
tts:
  provider: deepgram
`), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("GROQ_API_KEY=groq-key\nDEEPGRAM_API_KEY=dg-key\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("EMA_TURN_RESPONSE_TIMEOUT", "2500ms")
	t.Setenv("EMA_TURN_FILLER_PHRASES", "One moment., Let me see.")

	cfg, err := Load(configPath, envPath)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.LLM.Provider != "groq" || cfg.LLM.SystemPrompt != "You sell demos." {
		t.Fatalf("expected llm settings from the file, got %+v", cfg.LLM)
	}
	if cfg.LLM.APIKey != "groq-key" {
		t.Fatalf("expected groq key from the env file, got %q", cfg.LLM.APIKey)
	}
	if cfg.STT.APIKey != "dg-key" || cfg.TTS.APIKey != "dg-key" {
		t.Fatalf("expected deepgram key for stt and tts, got %q and %q", cfg.STT.APIKey, cfg.TTS.APIKey)
	}
	if cfg.Turn.SilenceThreshold != 640*time.Millisecond {
		t.Fatalf("expected 640ms from the file, got %v", cfg.Turn.SilenceThreshold)
	}
	if cfg.Turn.ResponseTimeout != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s from the env, got %v", cfg.Turn.ResponseTimeout)
	}
	if len(cfg.Turn.FillerPhrases) != 2 || cfg.Turn.FillerPhrases[1] != "Let me see." {
		t.Fatalf("expected filler phrases from the env, got %q", cfg.Turn.FillerPhrases)
	}
	if err := cfg.Validate(true); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateListsEverythingMissing(t *testing.T) {
	cfg := Config{
		Audio: AudioConfig{Backend: "alsa", SampleRate: 16000, FrameDuration: time.Millisecond},
		LLM:   LLMConfig{Provider: "openai"},
		TTS:   TTSConfig{Provider: "elevenlabs"},
	}

	err := cfg.Validate(true)
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"stt.api_key", "audio.backend", "llm.api_key", "tts.api_key"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}

	if err := cfg.Validate(false); strings.Contains(err.Error(), "stt.api_key") {
		t.Fatalf("expected stt to be skipped without a microphone, got %v", err)
	}
}
