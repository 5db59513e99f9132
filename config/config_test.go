package config

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresGeminiKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("JWT_SECRET", "secret")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected missing GEMINI_API_KEY to fail")
	}
}

func TestLoadConfigAppliesOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MAX_BUFFER_SIZE", "2048")
	t.Setenv("PARTIAL_INTERVAL_MS", "500")
	t.Setenv("MAX_TOOL_ROUNDS", "3")
	t.Setenv("REALTIME_PROVIDER", "none")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.MaxBufferSize != 2048 {
		t.Fatalf("expected MaxBufferSize 2048, got %d", cfg.MaxBufferSize)
	}
	if cfg.PartialInterval != 500*time.Millisecond {
		t.Fatalf("expected PartialInterval 500ms, got %s", cfg.PartialInterval)
	}
	if cfg.MaxToolRounds != 3 {
		t.Fatalf("expected MaxToolRounds 3, got %d", cfg.MaxToolRounds)
	}
	if cfg.RealtimeProvider != "none" {
		t.Fatalf("expected realtime provider none, got %q", cfg.RealtimeProvider)
	}
}

func TestLoadConfigRejectsInvalidNumbers(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PARTIAL_MIN_CHUNKS", "four")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected invalid PARTIAL_MIN_CHUNKS to fail")
	}
}

func TestLoadConfigRequiresDeepgramKeyForDeepgramProvider(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("REALTIME_PROVIDER", "deepgram")
	t.Setenv("DEEPGRAM_API_KEY", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected deepgram provider without key to fail")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.MaxBufferSize != 10*1024*1024 || cfg.MinBufferSize != 1024 {
		t.Fatalf("unexpected buffer limits %d/%d", cfg.MaxBufferSize, cfg.MinBufferSize)
	}
	if cfg.AudioSessionTimeout != 5*time.Minute || cfg.AudioSweepInterval != time.Minute {
		t.Fatalf("unexpected audio expiry %s/%s", cfg.AudioSessionTimeout, cfg.AudioSweepInterval)
	}
	if cfg.PartialMinChunks != 4 || cfg.PartialMinBytes != 64*1024 {
		t.Fatalf("unexpected partial policy %d/%d", cfg.PartialMinChunks, cfg.PartialMinBytes)
	}
}
