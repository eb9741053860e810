package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/casecoach/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantErr: "log_level",
		},
		{
			name:    "half configured tls",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			wantErr: "key_file",
		},
		{
			name:    "temperature out of range",
			yaml:    "providers:\n  chat:\n    name: openai\n    options:\n      temperature: 3\n",
			wantErr: "temperature",
		},
		{
			name:    "negative frame size",
			yaml:    "live:\n  frame_size: -1\n",
			wantErr: "frame_size",
		},
		{
			name:    "negative idle timeout",
			yaml:    "chat:\n  idle_timeout: -5m\n",
			wantErr: "idle_timeout",
		},
		{
			name:    "fallbacks without primary",
			yaml:    "providers:\n  chat_fallbacks:\n    - name: openai\n",
			wantErr: "requires providers.chat",
		},
		{
			name:    "unnamed fallback",
			yaml:    "providers:\n  live:\n    name: gemini-live\n  live_fallbacks:\n    - model: x\n",
			wantErr: "live_fallbacks[0].name",
		},
		{
			name:    "negative breaker",
			yaml:    "providers:\n  circuit_breaker:\n    max_failures: -1\n",
			wantErr: "circuit_breaker",
		},
		{
			name:    "unknown field",
			yaml:    "personas: []\n",
			wantErr: "personas",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error should mention %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidate_JoinsAllProblems(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
live:
  send_queue: -2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "send_queue"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderNameOnlyWarns(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  chat:
    name: my-private-llm
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Errorf("unknown provider names should not fail validation: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "casecoach.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Live.Name != "gemini-live" {
		t.Errorf("providers.live.name: got %q", cfg.Providers.Live.Name)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
