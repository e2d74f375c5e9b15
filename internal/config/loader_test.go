package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gabbyhq/gabby/internal/config"
)

const minimalYAML = `
providers:
  chat:
    name: http
    base_url: http://localhost:9000/chat
  tts:
    name: http
    base_url: http://localhost:9000/tts
`

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.LogFormatText {
		t.Errorf("log = %q/%q, want info/text", cfg.Server.LogLevel, cfg.Server.LogFormat)
	}
	c := cfg.Conversation
	if c.DefaultLanguage != "en-US" {
		t.Errorf("default_language = %q, want en-US", c.DefaultLanguage)
	}
	if c.IdleTimeout != 2*time.Second {
		t.Errorf("idle_timeout = %s, want 2s", c.IdleTimeout)
	}
	if c.SuppressionWindow != 3*time.Second {
		t.Errorf("suppression_window = %s, want 3s", c.SuppressionWindow)
	}
	if c.PlaybackSlack != 5*time.Second || c.RequestTimeout != 30*time.Second {
		t.Errorf("playback_slack/request_timeout = %s/%s", c.PlaybackSlack, c.RequestTimeout)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "\nnpcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "npcs") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: open") {
		t.Errorf("error = %v, want open prefix", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "gabby.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Chat.BaseURL != "http://localhost:9000/chat" {
		t.Errorf("chat base_url = %q", cfg.Providers.Chat.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{name: "minimal is valid", yaml: minimalYAML},
		{
			name: "full is valid",
			yaml: `
server:
  listen_addr: ":9090"
  log_level: debug
  log_format: pretty
  max_sessions: 4
  allowed_origins: ["localhost:*"]
conversation:
  default_language: af-ZA
  idle_timeout: 1500ms
  suppression_window: 2s
providers:
  chat: {name: openai, api_key: sk-test, model: gpt-4o-mini}
  tts: {name: elevenlabs, api_key: el-test, options: {voice: Rachel}}
  stt: {name: deepgram, api_key: dg-test}
  fallback_chat:
    - {name: anthropic, api_key: sk-ant, model: claude-haiku}
  fallback_tts:
    - {name: http, base_url: "http://localhost:5002/tts"}
proxy:
  socks5: "127.0.0.1:1080"
memory:
  postgres_dsn: "postgres://localhost/gabby"
`,
		},
		{name: "providers required", yaml: "server: {log_level: info}", wantErr: []string{"providers.chat.name is required", "providers.tts.name is required"}},
		{
			name:    "bad log level and format",
			yaml:    minimalYAML + "server: {log_level: loud, log_format: xml}",
			wantErr: []string{"server.log_level", "server.log_format"},
		},
		{
			name:    "negative timings",
			yaml:    minimalYAML + "conversation: {idle_timeout: -1s, suppression_window: -1s}",
			wantErr: []string{"conversation.idle_timeout", "conversation.suppression_window"},
		},
		{
			name:    "negative max sessions",
			yaml:    minimalYAML + "server: {max_sessions: -1}",
			wantErr: []string{"server.max_sessions"},
		},
		{
			name: "unknown provider",
			yaml: `
providers:
  chat: {name: eliza}
  tts: {name: http, base_url: "http://x"}
  stt: {name: whisper}
`,
			wantErr: []string{`providers.chat.name "eliza"`, `providers.stt.name "whisper"`},
		},
		{
			name: "http needs base url",
			yaml: `
providers:
  chat: {name: http}
  tts: {name: http, base_url: "http://x"}
`,
			wantErr: []string{"providers.chat.base_url is required"},
		},
		{
			name:    "deepgram needs key",
			yaml:    minimalYAML + "  stt: {name: deepgram}",
			wantErr: []string{"providers.stt.api_key is required"},
		},
		{
			name:    "fallback entry needs name",
			yaml:    minimalYAML + "  fallback_chat: [{model: x}]",
			wantErr: []string{"providers.fallback_chat[0].name is required"},
		},
		{
			name:    "tls needs both files",
			yaml:    minimalYAML + "server: {tls: {cert_file: a.pem}}",
			wantErr: []string{"server.tls"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected errors %v, got nil", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"chat", "tts", "stt"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] should not be empty", kind)
		}
	}
	if !slices.Contains(config.ValidProviderNames["stt"], config.BrowserSTT) {
		t.Error("stt names should contain the browser recognizer")
	}
}

func TestProviderEntry_Option(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{"voice": "alloy", "speed": 1.2}}
	if got := e.Option("voice"); got != "alloy" {
		t.Errorf("Option(voice) = %q, want alloy", got)
	}
	if got := e.Option("speed"); got != "" {
		t.Errorf("Option(speed) = %q, want empty for non-string", got)
	}
	if got := e.Option("missing"); got != "" {
		t.Errorf("Option(missing) = %q, want empty", got)
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("GABBY_TEST_CHAT_KEY", "sk-test")
	t.Setenv("GABBY_TEST_DSN", "postgres://localhost/gabby")

	yml := `
providers:
  chat:
    name: openai
    api_key: ${GABBY_TEST_CHAT_KEY}
  tts:
    name: http
    base_url: http://localhost:9000/tts
memory:
  postgres_dsn: $GABBY_TEST_DSN
`
	cfg, err := config.LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.Chat.APIKey != "sk-test" {
		t.Errorf("chat api_key: got %q, want sk-test", cfg.Providers.Chat.APIKey)
	}
	if cfg.Memory.PostgresDSN != "postgres://localhost/gabby" {
		t.Errorf("postgres_dsn: got %q", cfg.Memory.PostgresDSN)
	}
}
