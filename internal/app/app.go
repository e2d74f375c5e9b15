// Package app wires all Gabby subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the server is shut down, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithSessionStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gabbyhq/gabby/internal/config"
	"github.com/gabbyhq/gabby/internal/gateway"
	"github.com/gabbyhq/gabby/internal/health"
	"github.com/gabbyhq/gabby/internal/observe"
	"github.com/gabbyhq/gabby/pkg/memory"
	"github.com/gabbyhq/gabby/pkg/memory/postgres"
	"github.com/gabbyhq/gabby/pkg/provider/chat"
	"github.com/gabbyhq/gabby/pkg/provider/tts"
	"github.com/gabbyhq/gabby/pkg/types"
)

// maxSearchLimit caps the limit query parameter of the search endpoint.
const maxSearchLimit = 500

// Providers holds the provider values built by main.go via the config
// registry. Chat and TTS are required.
type Providers struct {
	Chat     chat.Provider
	ChatName string
	TTS      tts.Provider
	TTSName  string

	// NewRecognizer creates a server-side recognizer per connection. Nil
	// means every connection uses the page recognizer.
	NewRecognizer gateway.RecognizerFactory

	// Checks are extra readiness checks, typically one per provider chain.
	Checks []health.Checker
}

// App owns all subsystem lifetimes and serves the Gabby HTTP surface.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger

	// Subsystems, initialised in New and torn down in Shutdown.
	store    memory.SessionStore
	metrics  *observe.Metrics
	sessions *SessionManager
	gw       *gateway.Handler
	health   *health.Handler
	mux      *http.ServeMux
	server   *http.Server
	checks   []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a transcript store instead of creating one from config.
func WithSessionStore(s memory.SessionStore) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of the global one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger used by the app and every session.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: transcript store connection,
// session manager, websocket gateway, health checks and HTTP routes. It does
// not listen; call Run for that.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.Chat == nil || providers.TTS == nil {
		return nil, errors.New("app: chat and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcript store ──────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Sessions and gateway ──────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Chat:         providers.Chat,
		ChatName:     providers.ChatName,
		TTS:          providers.TTS,
		TTSName:      providers.TTSName,
		Recorder:     a.store,
		Conversation: cfg.Conversation,
		MaxSessions:  cfg.Server.MaxSessions,
		Metrics:      a.metrics,
		Logger:       a.logger,
	})
	a.initGateway()

	// ── 3. Health ────────────────────────────────────────────────────────
	a.checks = append(a.checks, providers.Checks...)
	a.health = health.New(a.checks...)

	// ── 4. Routes ────────────────────────────────────────────────────────
	a.initRoutes()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(a.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("app initialised",
		"chat", providers.ChatName,
		"tts", providers.TTSName,
		"server_recognizer", providers.NewRecognizer != nil,
		"max_sessions", cfg.Server.MaxSessions,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMemory opens the postgres transcript store when a DSN is configured and
// falls back to an in-process store otherwise.
func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		a.store = memory.NewMemStore()
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.checks = append(a.checks, health.PingCheck("database", store))
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

func (a *App) initGateway() {
	opts := []gateway.Option{
		gateway.WithPlaybackSlack(a.cfg.Conversation.PlaybackSlack),
		gateway.WithLogger(a.logger),
	}
	if len(a.cfg.Server.AllowedOrigins) > 0 {
		opts = append(opts, gateway.WithOriginPatterns(a.cfg.Server.AllowedOrigins...))
	}
	if a.providers.NewRecognizer != nil {
		opts = append(opts, gateway.WithRecognizerFactory(a.providers.NewRecognizer))
	}
	a.gw = gateway.NewHandler(a.sessions, opts...)
}

func (a *App) initRoutes() {
	a.mux = http.NewServeMux()
	a.mux.Handle("GET /ws", a.gw)
	a.health.Register(a.mux)
	a.mux.Handle("GET /metrics", promhttp.Handler())
	a.mux.HandleFunc("GET /api/sessions", a.listSessions)
	a.mux.HandleFunc("GET /api/sessions/{id}/transcript", a.sessionTranscript)
	a.mux.HandleFunc("GET /api/transcripts/search", a.searchTranscripts)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the routed HTTP handler without the server around it.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on server.listen_addr and serves until Shutdown is called or
// the listener fails. It returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ln)
}

// Serve serves on ln until Shutdown is called. TLS is used when
// server.tls is configured.
func (a *App) Serve(ln net.Listener) error {
	a.logger.Info("app listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	var err error
	if tlsCfg := a.cfg.Server.TLS; tlsCfg != nil {
		err = a.server.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
	} else {
		err = a.server.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("app: serve: %w", err)
}

// Reload applies the hot-reloadable part of a config change. Changes listed
// in d.RestartRequired are ignored until the next restart.
func (a *App) Reload(cfg *config.Config, d config.ConfigDiff) {
	if d.ConversationChanged {
		a.sessions.SetConversation(d.Conversation)
		a.gw.SetPlaybackSlack(d.Conversation.PlaybackSlack)
	}
	if d.MaxSessionsChanged {
		a.sessions.SetMaxSessions(d.NewMaxSessions)
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
	a.cfg = cfg
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains the server and tears down subsystems in order: readiness
// first, then websocket connections, then sessions, then the HTTP server
// and finally the closers. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "sessions", a.sessions.Count(), "closers", len(a.closers))

		a.health.Drain()
		if err := a.gw.Shutdown(ctx); err != nil {
			a.logger.Warn("gateway shutdown error", "err", err)
		}
		if err := a.sessions.StopAll(ctx); err != nil {
			a.logger.Warn("session shutdown error", "err", err)
		}
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("http shutdown error", "err", err)
		}

		// Run closers in order.
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── API ─────────────────────────────────────────────────────────────────────

// transcriptEntry is the JSON form of a [types.TranscriptEntry].
type transcriptEntry struct {
	SessionID string    `json:"session_id"`
	Language  string    `json:"language"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func toJSONEntries(in []types.TranscriptEntry) []transcriptEntry {
	out := make([]transcriptEntry, len(in))
	for i, e := range in {
		out[i] = transcriptEntry{
			SessionID: e.SessionID,
			Language:  e.Language,
			Role:      e.Message.Role,
			Content:   e.Message.Content,
			Timestamp: e.Timestamp,
		}
	}
	return out
}

func (a *App) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": a.sessions.Sessions()})
}

func (a *App) sessionTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := a.store.GetSession(r.Context(), id)
	if err != nil {
		a.apiError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "entries": toJSONEntries(entries)})
}

func (a *App) searchTranscripts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		a.apiError(w, r, http.StatusBadRequest, errors.New("query parameter q is required"))
		return
	}
	opts := memory.SearchOpts{
		SessionID: q.Get("session_id"),
		Role:      q.Get("role"),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxSearchLimit {
			a.apiError(w, r, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", maxSearchLimit))
			return
		}
		opts.Limit = n
	}
	entries, err := a.store.Search(r.Context(), query, opts)
	if err != nil {
		a.apiError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "entries": toJSONEntries(entries)})
}

func (a *App) apiError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api request failed", "path", r.URL.Path, "err", err)
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
