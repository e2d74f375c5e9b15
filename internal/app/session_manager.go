package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gabbyhq/gabby/internal/capture"
	"github.com/gabbyhq/gabby/internal/config"
	"github.com/gabbyhq/gabby/internal/finalizer"
	"github.com/gabbyhq/gabby/internal/gateway"
	"github.com/gabbyhq/gabby/internal/observe"
	"github.com/gabbyhq/gabby/internal/turn"
	"github.com/gabbyhq/gabby/pkg/provider/chat"
	"github.com/gabbyhq/gabby/pkg/provider/tts"
)

// ErrTooManySessions is returned by [SessionManager.Open] when
// server.max_sessions sessions are already active.
var ErrTooManySessions = errors.New("app: too many active sessions")

// SessionInfo holds metadata about an active session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string `json:"session_id"`

	// Language is the resolved session language.
	Language string `json:"language"`

	// RemoteAddr is the address of the browser that opened the session.
	RemoteAddr string `json:"remote_addr,omitempty"`

	// StartedAt is when the session was opened.
	StartedAt time.Time `json:"started_at"`

	// State is the conversation state at the time of the call.
	State string `json:"state"`
}

// SessionManager manages the lifecycle of voice sessions. It implements
// [gateway.Sessions]: every websocket connection opens one session.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu           sync.Mutex
	sessions     map[string]*activeSession
	conversation config.ConversationConfig
	maxSessions  int

	// Dependencies injected at construction.
	chat     chat.Provider
	chatName string
	tts      tts.Provider
	ttsName  string
	recorder turn.Recorder
	metrics  *observe.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type activeSession struct {
	info SessionInfo
	ctrl *turn.Controller
}

var _ gateway.Sessions = (*SessionManager)(nil)

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Chat     chat.Provider
	ChatName string
	TTS      tts.Provider
	TTSName  string

	// Recorder receives every history entry. May be nil.
	Recorder turn.Recorder

	// Conversation holds the timings applied to new sessions.
	Conversation config.ConversationConfig

	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		sessions:     make(map[string]*activeSession),
		conversation: cfg.Conversation,
		maxSessions:  cfg.MaxSessions,
		chat:         cfg.Chat,
		chatName:     cfg.ChatName,
		tts:          cfg.TTS,
		ttsName:      cfg.TTSName,
		recorder:     cfg.Recorder,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          time.Now,
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.logger == nil {
		sm.logger = slog.Default()
	}
	return sm
}

// Open builds a capture session and a turn controller for req and opens the
// conversation, which queues the greeting.
func (sm *SessionManager) Open(ctx context.Context, req gateway.SessionRequest) (gateway.Conversation, error) {
	sm.mu.Lock()
	if _, dup := sm.sessions[req.SessionID]; dup {
		sm.mu.Unlock()
		return nil, fmt.Errorf("app: session %q already active", req.SessionID)
	}
	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		n := len(sm.sessions)
		sm.mu.Unlock()
		sm.logger.Warn("app: session rejected", "session_id", req.SessionID, "active", n, "max", sm.maxSessions)
		return nil, fmt.Errorf("%w (%d)", ErrTooManySessions, n)
	}
	conv := sm.conversation
	// Reserve the slot so concurrent opens observe the limit.
	slot := &activeSession{}
	sm.sessions[req.SessionID] = slot
	sm.mu.Unlock()

	lang := req.Language
	if lang == "" {
		lang = conv.DefaultLanguage
	}
	logger := sm.logger.With("session_id", req.SessionID)

	opts := []turn.Option{
		turn.WithSessionID(req.SessionID),
		turn.WithLanguage(lang),
		turn.WithMetrics(sm.metrics),
		turn.WithLogger(sm.logger),
		turn.WithRequestTimeout(conv.RequestTimeout),
		turn.WithProviderNames(sm.chatName, sm.ttsName),
		turn.WithFinalizerOptions(
			finalizer.WithIdleTimeout(conv.IdleTimeout),
			finalizer.WithSuppressionWindow(conv.SuppressionWindow),
		),
	}
	if req.View != nil {
		opts = append(opts, turn.WithView(req.View))
	}
	if sm.recorder != nil {
		opts = append(opts, turn.WithRecorder(sm.recorder))
	}

	mic := capture.New(req.Recognizer, capture.WithLogger(logger))
	ctrl := turn.New(mic, sm.chat, sm.tts, req.Player, opts...)
	if err := ctrl.Open(ctx); err != nil {
		sm.mu.Lock()
		delete(sm.sessions, req.SessionID)
		sm.mu.Unlock()
		return nil, fmt.Errorf("app: open session: %w", err)
	}

	sm.mu.Lock()
	slot.ctrl = ctrl
	slot.info = SessionInfo{
		SessionID:  req.SessionID,
		Language:   ctrl.Language(),
		RemoteAddr: req.RemoteAddr,
		StartedAt:  sm.now().UTC(),
	}
	active := len(sm.sessions)
	sm.mu.Unlock()

	sm.metrics.ActiveSessions.Add(ctx, 1)
	logger.Info("app: session started", "language", ctrl.Language(), "remote_addr", req.RemoteAddr, "active", active)
	return ctrl, nil
}

// Close ends the session and waits for its background work or ctx.
// Closing an unknown session is a no-op.
func (sm *SessionManager) Close(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	s, ok := sm.sessions[sessionID]
	if !ok || s.ctrl == nil {
		sm.mu.Unlock()
		return nil
	}
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	err := s.ctrl.Close(ctx)
	sm.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	sm.logger.Info("app: session stopped",
		"session_id", sessionID,
		"duration", sm.now().Sub(s.info.StartedAt).Round(time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("app: close session %q: %w", sessionID, err)
	}
	return nil
}

// StopAll closes every active session. Used during shutdown.
func (sm *SessionManager) StopAll(ctx context.Context) error {
	sm.mu.Lock()
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sm.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := sm.Close(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sessions returns metadata for every open session, oldest first.
func (sm *SessionManager) Sessions() []SessionInfo {
	sm.mu.Lock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	ctrls := make([]*turn.Controller, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		if s.ctrl == nil {
			continue
		}
		out = append(out, s.info)
		ctrls = append(ctrls, s.ctrl)
	}
	sm.mu.Unlock()

	// State takes the controller lock; read it outside ours.
	for i, c := range ctrls {
		out[i].State = c.State().String()
	}
	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return out
}

// Count returns the number of active sessions, reserved slots included.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// SetConversation replaces the timings applied to sessions opened from now on.
func (sm *SessionManager) SetConversation(c config.ConversationConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.conversation = c
}

// SetMaxSessions changes the session cap. Sessions already open are kept.
func (sm *SessionManager) SetMaxSessions(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.maxSessions = n
}
