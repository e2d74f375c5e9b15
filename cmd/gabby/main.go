// Command gabby is the main entry point for the Gabby voice assistant server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/gabbyhq/gabby/internal/app"
	"github.com/gabbyhq/gabby/internal/config"
	"github.com/gabbyhq/gabby/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.StringP("config", "c", "config.yaml", "path to the YAML configuration file")
	envFile := flag.StringP("env", "e", ".env", "env file loaded before the configuration")
	logLevel := flag.StringP("log-level", "l", "", "override server.log_level (debug, info, warn, error)")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "gabby: load env file %q: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	// The watcher performs the initial load; its Run loop starts later.
	var (
		application *app.App
		level       = new(slog.LevelVar)
	)
	watcher, err := config.NewWatcher(*configPath, func(old, cfg *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged && *logLevel == "" {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		application.Reload(cfg, d)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "gabby: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "gabby: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	lvl := cfg.Server.LogLevel
	if *logLevel != "" {
		lvl = config.LogLevel(*logLevel)
		if !lvl.IsValid() {
			fmt.Fprintf(os.Stderr, "gabby: invalid --log-level %q\n", *logLevel)
			return 1
		}
	}
	level.Set(slogLevel(lvl))
	logger := newLogger(cfg.Server.LogFormat, level)
	slog.SetDefault(logger)

	slog.Info("gabby starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", lvl,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, telemetryConfig(cfg))
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	httpClient, err := newHTTPClient(cfg.Proxy)
	if err != nil {
		slog.Error("failed to configure proxy", "socks5", cfg.Proxy.SOCKS5, "err", err)
		return 1
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, httpClient)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err = app.New(ctx, cfg, providers, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return application.Shutdown(shutdownCtx)
	})

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Gabby · startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Chat", cfg.Providers.Chat.Name, cfg.Providers.Chat.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	stt := cfg.Providers.STT.Name
	if stt == "" {
		stt = config.BrowserSTT
	}
	printProvider("STT", stt, cfg.Providers.STT.Model)
	fmt.Printf("║  Fallbacks       : %-19s ║\n",
		fmt.Sprintf("%d chat, %d tts", len(cfg.Providers.FallbackChat), len(cfg.Providers.FallbackTTS)))
	if cfg.Memory.PostgresDSN != "" {
		fmt.Printf("║  Transcripts     : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Transcripts     : %-19s ║\n", "in memory")
	}
	if cfg.Server.MaxSessions > 0 {
		fmt.Printf("║  Max sessions    : %-19d ║\n", cfg.Server.MaxSessions)
	} else {
		fmt.Printf("║  Max sessions    : %-19s ║\n", "unlimited")
	}
	fmt.Printf("║  Language        : %-19s ║\n", cfg.Conversation.DefaultLanguage)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

// telemetryConfig describes this deployment on every exported metric and span.
func telemetryConfig(cfg *config.Config) observe.ProviderConfig {
	stt := cfg.Providers.STT.Name
	if stt == "" {
		stt = config.BrowserSTT
	}
	return observe.ProviderConfig{
		ServiceName:     observe.DefaultServiceName,
		ServiceVersion:  version,
		ListenAddr:      cfg.Server.ListenAddr,
		STTMode:         stt,
		ChatProvider:    cfg.Providers.Chat.Name,
		TTSProvider:     cfg.Providers.TTS.Name,
		DefaultLanguage: cfg.Conversation.DefaultLanguage,
	}
}

func printProvider(kind, name, model string) {
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, providerSummary(name, model))
}

// providerSummary renders a provider as it fits in the summary box.
func providerSummary(name, model string) string {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	return truncate(value, 19)
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(format config.LogFormat, level *slog.LevelVar) *slog.Logger {
	switch format {
	case config.LogFormatJSON:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	case config.LogFormatPretty:
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		}))
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
