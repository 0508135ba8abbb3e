package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("BACKEND_URL", "")
	os.Setenv("AUDIO_FRAME_MS", "")
	os.Setenv("ICE_SERVERS_JSON", "")
	cfg := Load()
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.BackendURL == "" || cfg.WSBackendURL == "" {
		t.Fatalf("expected default backend urls")
	}
	if cfg.FrameDuration != 500*time.Millisecond {
		t.Fatalf("frame duration: %v", cfg.FrameDuration)
	}
	if cfg.PreviewTimeout != 3*time.Second {
		t.Fatalf("preview timeout: %v", cfg.PreviewTimeout)
	}
	if cfg.ICEServersJSON == "" {
		t.Fatalf("expected default ice servers json")
	}
}

func TestLoad_Overrides(t *testing.T) {
	os.Setenv("AUDIO_FRAME_MS", "250")
	os.Setenv("SUMMARY_MODEL", "gpt-4.1")
	defer os.Unsetenv("AUDIO_FRAME_MS")
	defer os.Unsetenv("SUMMARY_MODEL")

	cfg := Load()
	if cfg.FrameDuration != 250*time.Millisecond {
		t.Fatalf("frame duration override: %v", cfg.FrameDuration)
	}
	if cfg.SummaryModel != "gpt-4.1" {
		t.Fatalf("summary model override: %s", cfg.SummaryModel)
	}
}

func TestLoad_BadNumberFallsBack(t *testing.T) {
	os.Setenv("AUDIO_SAMPLE_RATE", "not-a-number")
	defer os.Unsetenv("AUDIO_SAMPLE_RATE")
	cfg := Load()
	if cfg.SampleRate != 16000 {
		t.Fatalf("sample rate fallback: %d", cfg.SampleRate)
	}
}
