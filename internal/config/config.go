// Package config loads application configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// HTTPAddress is the dev server listen address.
	HTTPAddress string
	// BackendURL is the meeting backend HTTP base; WSBackendURL its
	// WebSocket counterpart.
	BackendURL   string
	WSBackendURL string

	SampleRate     int
	FrameDuration  time.Duration
	StopGrace      time.Duration
	PreviewTimeout time.Duration

	SummaryTemplateID string
	SummaryProvider   string
	SummaryModel      string
	SummaryAPIKey     string

	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string

	ICEServersJSON string
	DatabasePath   string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using process environment")
	}

	cfg := Config{
		HTTPAddress:  getEnv("HTTP_ADDRESS", ":8000"),
		BackendURL:   getEnv("BACKEND_URL", "http://localhost:8000"),
		WSBackendURL: getEnv("WS_BACKEND_URL", "ws://localhost:8000"),

		SampleRate:     getEnvInt("AUDIO_SAMPLE_RATE", 16000),
		FrameDuration:  getEnvMillis("AUDIO_FRAME_MS", 500),
		StopGrace:      getEnvMillis("AUDIO_STOP_GRACE_MS", 500),
		PreviewTimeout: getEnvMillis("PREVIEW_TIMEOUT_MS", 3000),

		SummaryTemplateID: getEnv("SUMMARY_TEMPLATE_ID", "standard"),
		SummaryProvider:   getEnv("SUMMARY_PROVIDER", "openai"),
		SummaryModel:      getEnv("SUMMARY_MODEL", "gpt-4o-mini"),
		SummaryAPIKey:     os.Getenv("SUMMARY_API_KEY"),

		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         getEnv("SUPABASE_BUCKET", "meeting-recordings"),

		ICEServersJSON: getEnv("ICE_SERVERS_JSON", `[{"urls":["stun:stun.l.google.com:19302"]}]`),
		DatabasePath:   getEnv("VMEETING_DB", "vmeeting.db"),
	}

	if cfg.SummaryAPIKey == "" {
		log.Println("Warning: SUMMARY_API_KEY not set - the backend's default key will be used")
	}
	if cfg.SupabaseURL == "" {
		log.Println("Warning: SUPABASE_URL not set - recording archival disabled")
	}

	log.Printf("config: HTTP_ADDRESS=%s BACKEND_URL=%s", cfg.HTTPAddress, cfg.BackendURL)
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: %s=%q is not a number, using %d", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getEnvMillis(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMillis)) * time.Millisecond
}
