package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredKeys(t *testing.T) {
	t.Helper()
	t.Setenv("LYRA_CARTESIA_API_KEY", "ck")
	t.Setenv("LYRA_OPENAI_API_KEY", "ok")
	t.Setenv("LYRA_GEMINI_API_KEY", "gk")
	t.Setenv("LYRA_API_KEYS", "client-key-1")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	setRequiredKeys(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr=%q", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Errorf("AuthMode=%q", cfg.AuthMode)
	}
	if _, ok := cfg.APIKeys["client-key-1"]; !ok {
		t.Errorf("APIKeys=%v", cfg.APIKeys)
	}
	if cfg.UtteranceDebounce != 800*time.Millisecond {
		t.Errorf("UtteranceDebounce=%v", cfg.UtteranceDebounce)
	}
	if cfg.FrameFreshness != 5*time.Second {
		t.Errorf("FrameFreshness=%v", cfg.FrameFreshness)
	}
	if cfg.FastModel == "" || cfg.ConversationalModel == "" || cfg.DeepModel == "" {
		t.Errorf("tier models must default non-empty: %+v", cfg)
	}
	if !strings.Contains(cfg.Persona, "Lyra") {
		t.Errorf("Persona=%q", cfg.Persona)
	}
	if cfg.LogJSON {
		t.Errorf("LogJSON should default to false")
	}
}

func TestLoadFromEnvLogFormat(t *testing.T) {
	setRequiredKeys(t)

	t.Setenv("LYRA_LOG_JSON", "true")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if !cfg.LogJSON {
		t.Errorf("LogJSON=%v, want true", cfg.LogJSON)
	}

	t.Setenv("LYRA_LOG_JSON", "not-a-bool")
	cfg, err = LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.LogJSON {
		t.Errorf("malformed LYRA_LOG_JSON should fall back to the default")
	}
}

func TestLoadFromEnvAuthRequiredNeedsKeys(t *testing.T) {
	setRequiredKeys(t)
	t.Setenv("LYRA_API_KEYS", "")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error when auth is required without keys")
	}

	t.Setenv("LYRA_AUTH_MODE", "disabled")
	if _, err := LoadFromEnv(); err != nil {
		t.Fatalf("auth disabled should not need keys: %v", err)
	}
}

func TestLoadFromEnvRejectsBadAuthMode(t *testing.T) {
	setRequiredKeys(t)
	t.Setenv("LYRA_AUTH_MODE", "sometimes")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for unknown auth mode")
	}
}

func TestLoadFromEnvRejectsMissingProviderKeys(t *testing.T) {
	setRequiredKeys(t)
	t.Setenv("LYRA_CARTESIA_API_KEY", "")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for missing speech provider key")
	}
}

func TestResumeWindow(t *testing.T) {
	cfg := Config{
		ReconnectBackoffBase:   time.Second,
		ReconnectBackoffFactor: 2.0,
		ReconnectBackoffCap:    30 * time.Second,
		ReconnectMaxAttempts:   5,
	}
	// 1+2+4+8+16 seconds of backoff plus 5s slack.
	if got, want := cfg.ResumeWindow(), 36*time.Second; got != want {
		t.Errorf("ResumeWindow=%v, want %v", got, want)
	}

	cfg.ReconnectMaxAttempts = 0
	if got := cfg.ResumeWindow(); got != 0 {
		t.Errorf("ResumeWindow with no attempts=%v, want 0", got)
	}

	// The cap bounds each individual delay.
	cfg = Config{
		ReconnectBackoffBase:   20 * time.Second,
		ReconnectBackoffFactor: 2.0,
		ReconnectBackoffCap:    30 * time.Second,
		ReconnectMaxAttempts:   3,
	}
	if got, want := cfg.ResumeWindow(), (20+30+30)*time.Second+5*time.Second; got != want {
		t.Errorf("capped ResumeWindow=%v, want %v", got, want)
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, b ,, c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("splitCSV=%v", got)
	}
	if splitCSV("  ") != nil {
		t.Fatalf("blank input should yield nil")
	}
}
