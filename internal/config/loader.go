package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// BrowserSTT selects the page recognizer.
const BrowserSTT = "browser"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to reject unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"chat": {"http", "openai", "anyllm", "anthropic", "ollama", "gemini", "mistral", "groq", "deepseek"},
	"tts":  {"http", "openai", "elevenlabs"},
	"stt":  {BrowserSTT, "deepgram"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} references in secrets and endpoints with values
// from the environment, so keys can live in a .env file.
func expandEnv(cfg *Config) {
	expand := func(e *ProviderEntry) {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
	}
	expand(&cfg.Providers.Chat)
	expand(&cfg.Providers.TTS)
	expand(&cfg.Providers.STT)
	for i := range cfg.Providers.FallbackChat {
		expand(&cfg.Providers.FallbackChat[i])
	}
	for i := range cfg.Providers.FallbackTTS {
		expand(&cfg.Providers.FallbackTTS[i])
	}
	cfg.Memory.PostgresDSN = os.ExpandEnv(cfg.Memory.PostgresDSN)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, pretty", cfg.Server.LogFormat))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions %d must not be negative", cfg.Server.MaxSessions))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Conversation timings
	c := cfg.Conversation
	if c.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("conversation.idle_timeout %s must be positive", c.IdleTimeout))
	}
	if c.SuppressionWindow < 0 {
		errs = append(errs, fmt.Errorf("conversation.suppression_window %s must not be negative", c.SuppressionWindow))
	}
	if c.PlaybackSlack < 0 {
		errs = append(errs, fmt.Errorf("conversation.playback_slack %s must not be negative", c.PlaybackSlack))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("conversation.request_timeout %s must not be negative", c.RequestTimeout))
	}

	// Providers
	if cfg.Providers.Chat.Name == "" {
		errs = append(errs, errors.New("providers.chat.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	errs = append(errs, validateEntry("chat", "providers.chat", cfg.Providers.Chat)...)
	errs = append(errs, validateEntry("tts", "providers.tts", cfg.Providers.TTS)...)
	errs = append(errs, validateEntry("stt", "providers.stt", cfg.Providers.STT)...)
	for i, e := range cfg.Providers.FallbackChat {
		prefix := fmt.Sprintf("providers.fallback_chat[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		errs = append(errs, validateEntry("chat", prefix, e)...)
	}
	for i, e := range cfg.Providers.FallbackTTS {
		prefix := fmt.Sprintf("providers.fallback_tts[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		errs = append(errs, validateEntry("tts", prefix, e)...)
	}

	// Memory availability
	if cfg.Memory.PostgresDSN == "" {
		slog.Debug("memory.postgres_dsn is empty; transcripts are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateEntry checks a single provider entry of the given kind.
func validateEntry(kind, prefix string, e ProviderEntry) []error {
	if e.Name == "" {
		return nil
	}
	var errs []error
	if known := ValidProviderNames[kind]; !slices.Contains(known, e.Name) {
		errs = append(errs, fmt.Errorf("%s.name %q is not a known %s provider; valid values: %v", prefix, e.Name, kind, known))
	}
	if e.Name == "http" && e.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s.base_url is required for the http provider", prefix))
	}
	if e.Name == "deepgram" && e.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s.api_key is required for deepgram", prefix))
	}
	return errs
}
