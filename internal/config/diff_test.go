package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/gabbyhq/gabby/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo, AllowedOrigins: []string{"localhost:*"}},
		Providers: config.ProvidersConfig{
			Chat: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini", Options: map[string]any{"temperature": 0.7}},
			TTS:  config.ProviderEntry{Name: "http", BaseURL: "http://localhost/tts"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level is hot, got RestartRequired=%v", d.RestartRequired)
	}
}

func TestDiff_ConversationChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Conversation.SuppressionWindow = 4 * time.Second

	d := config.Diff(old, new)
	if !d.ConversationChanged {
		t.Fatal("expected ConversationChanged=true")
	}
	if d.Conversation.SuppressionWindow != 4*time.Second {
		t.Errorf("Conversation.SuppressionWindow = %s, want 4s", d.Conversation.SuppressionWindow)
	}
	if d.Conversation.IdleTimeout != config.DefaultIdleTimeout {
		t.Errorf("Conversation should carry the full new block, got idle %s", d.Conversation.IdleTimeout)
	}
}

func TestDiff_MaxSessionsChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.MaxSessions = 8

	d := config.Diff(old, new)
	if !d.MaxSessionsChanged || d.NewMaxSessions != 8 {
		t.Errorf("max sessions diff = %v/%d, want true/8", d.MaxSessionsChanged, d.NewMaxSessions)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9999" }, []string{"server"}},
		{"origins", func(c *config.Config) { c.Server.AllowedOrigins = nil }, []string{"server"}},
		{"tls", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"} }, []string{"server"}},
		{"chat model", func(c *config.Config) { c.Providers.Chat.Model = "gpt-4o" }, []string{"providers"}},
		{"chat option", func(c *config.Config) { c.Providers.Chat.Options["temperature"] = 0.2 }, []string{"providers"}},
		{"fallback added", func(c *config.Config) {
			c.Providers.FallbackTTS = []config.ProviderEntry{{Name: "openai"}}
		}, []string{"providers"}},
		{"proxy", func(c *config.Config) { c.Proxy.SOCKS5 = "127.0.0.1:1080" }, []string{"proxy"}},
		{"memory and proxy", func(c *config.Config) {
			c.Memory.PostgresDSN = "postgres://x"
			c.Proxy.SOCKS5 = "p:1"
		}, []string{"proxy", "memory"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !slices.Equal(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.want)
			}
			if d.Empty() {
				t.Error("diff should not be empty")
			}
		})
	}
}
