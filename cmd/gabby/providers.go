package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/net/proxy"

	"github.com/gabbyhq/gabby/internal/app"
	"github.com/gabbyhq/gabby/internal/config"
	"github.com/gabbyhq/gabby/internal/health"
	"github.com/gabbyhq/gabby/internal/resilience"
	"github.com/gabbyhq/gabby/pkg/provider/chat"
	"github.com/gabbyhq/gabby/pkg/provider/chat/anyllm"
	"github.com/gabbyhq/gabby/pkg/provider/chat/httpchat"
	oachat "github.com/gabbyhq/gabby/pkg/provider/chat/openai"
	"github.com/gabbyhq/gabby/pkg/provider/stt"
	"github.com/gabbyhq/gabby/pkg/provider/stt/deepgram"
	"github.com/gabbyhq/gabby/pkg/provider/tts"
	"github.com/gabbyhq/gabby/pkg/provider/tts/elevenlabs"
	"github.com/gabbyhq/gabby/pkg/provider/tts/httptts"
	oatts "github.com/gabbyhq/gabby/pkg/provider/tts/openai"
)

// anyllmBackends are the chat backends served through any-llm-go under their
// own provider name.
var anyllmBackends = []string{"anthropic", "ollama", "gemini", "mistral", "groq", "deepseek"}

// newHTTPClient returns the client shared by every provider. Without a proxy
// it returns nil so each provider keeps its own default client.
func newHTTPClient(cfg config.ProxyConfig) (*http.Client, error) {
	if cfg.SOCKS5 == "" {
		return nil, nil
	}
	dialer, err := proxy.SOCKS5("tcp", cfg.SOCKS5, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", cfg.SOCKS5, err)
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Transport: transport}, nil
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. hc may be nil.
func registerBuiltinProviders(reg *config.Registry, hc *http.Client) {
	// ── Chat ──────────────────────────────────────────────────────────────────

	reg.RegisterChat("http", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []httpchat.Option
		if hc != nil {
			opts = append(opts, httpchat.WithHTTPClient(hc))
		}
		if entry.APIKey != "" {
			opts = append(opts, httpchat.WithHeader("Authorization", "Bearer "+entry.APIKey))
		}
		return httpchat.New(entry.BaseURL, opts...)
	})

	reg.RegisterChat("openai", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []oachat.Option
		if entry.BaseURL != "" {
			opts = append(opts, oachat.WithBaseURL(entry.BaseURL))
		}
		if hc != nil {
			opts = append(opts, oachat.WithHTTPClient(hc))
		}
		if prompt := entry.Option("system_prompt"); prompt != "" {
			opts = append(opts, oachat.WithSystemPrompt(prompt))
		}
		if n := optInt(entry.Options, "max_tokens"); n > 0 {
			opts = append(opts, oachat.WithMaxTokens(n))
		}
		return oachat.New(entry.APIKey, entry.Model, opts...)
	})

	// anyllm takes the backend from options.provider.
	reg.RegisterChat("anyllm", func(entry config.ProviderEntry) (chat.Provider, error) {
		return anyllm.New(entry.Option("provider"), entry.Model, anyllmOptions(entry)...)
	})

	for _, backend := range anyllmBackends {
		reg.RegisterChat(backend, func(entry config.ProviderEntry) (chat.Provider, error) {
			return anyllm.New(backend, entry.Model, anyllmOptions(entry)...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("http", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []httptts.Option
		if hc != nil {
			opts = append(opts, httptts.WithHTTPClient(hc))
		}
		if entry.APIKey != "" {
			opts = append(opts, httptts.WithHeader("Authorization", "Bearer "+entry.APIKey))
		}
		if ct := entry.Option("content_type"); ct != "" {
			opts = append(opts, httptts.WithDefaultContentType(ct))
		}
		return httptts.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if voice := entry.Option("voice"); voice != "" {
			opts = append(opts, oatts.WithVoice(voice))
		}
		if hc != nil {
			opts = append(opts, oatts.WithHTTPClient(hc))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if voice := entry.Option("voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if outputFmt := entry.Option("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if hc != nil {
			opts = append(opts, elevenlabs.WithHTTPClient(hc))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if enc := entry.Option("encoding"); enc != "" {
			opts = append(opts, deepgram.WithEncoding(enc, optInt(entry.Options, "sample_rate")))
		}
		if hc != nil {
			opts = append(opts, deepgram.WithHTTPClient(hc))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"chat", "tts", "stt"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

func anyllmOptions(entry config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return opts
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// Chat and TTS are wrapped in failover chains with the configured fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	fbCfg := resilience.FallbackConfig{}

	// ── Chat ──────────────────────────────────────────────────────────────────
	primaryChat, err := reg.CreateChat(cfg.Providers.Chat)
	if err != nil {
		return nil, fmt.Errorf("create chat provider %q: %w", cfg.Providers.Chat.Name, err)
	}
	chatChain := resilience.NewChatFallback(primaryChat, cfg.Providers.Chat.Name, fbCfg)
	for i, entry := range cfg.Providers.FallbackChat {
		p, err := reg.CreateChat(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback_chat[%d] %q: %w", i, entry.Name, err)
		}
		chatChain.AddFallback(entry.Name, p)
	}
	ps.Chat, ps.ChatName = chatChain, cfg.Providers.Chat.Name
	ps.Checks = append(ps.Checks, chainCheck("chat", chatChain.Status))
	slog.Info("provider created", "kind", "chat", "name", cfg.Providers.Chat.Name, "fallbacks", len(cfg.Providers.FallbackChat))

	// ── TTS ───────────────────────────────────────────────────────────────────
	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ttsChain := resilience.NewTTSFallback(primaryTTS, cfg.Providers.TTS.Name, fbCfg)
	for i, entry := range cfg.Providers.FallbackTTS {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback_tts[%d] %q: %w", i, entry.Name, err)
		}
		ttsChain.AddFallback(entry.Name, p)
	}
	ps.TTS, ps.TTSName = ttsChain, cfg.Providers.TTS.Name
	ps.Checks = append(ps.Checks, chainCheck("tts", ttsChain.Status))
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name, "fallbacks", len(cfg.Providers.FallbackTTS))

	// ── STT ───────────────────────────────────────────────────────────────────
	entry := cfg.Providers.STT
	if entry.Name == "" || entry.Name == config.BrowserSTT {
		slog.Info("provider created", "kind", "stt", "name", config.BrowserSTT)
		return ps, nil
	}
	// Build one recognizer up front so a bad entry fails at startup.
	if _, err := reg.CreateSTT(entry); err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
	}
	ps.NewRecognizer = func() (stt.Recognizer, error) { return reg.CreateSTT(entry) }
	slog.Info("provider created", "kind", "stt", "name", entry.Name)
	return ps, nil
}

// chainCheck reports a failover chain as unready when every breaker is open.
func chainCheck(name string, status func() []resilience.EntryStatus) health.Checker {
	return health.Checker{
		Name: name,
		Check: func(context.Context) error {
			entries := status()
			for _, e := range entries {
				if e.State != resilience.StateOpen {
					return nil
				}
			}
			if len(entries) == 0 {
				return errors.New("no providers configured")
			}
			return fmt.Errorf("all %d providers have open circuit breakers", len(entries))
		},
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer from a provider Options map. YAML decodes plain
// numbers as int; quoted numbers are parsed. Returns 0 when absent or invalid.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
