package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h http.HandlerFunc, r *http.Request) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, r)
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "database", Check: failWith("down")})

	code, body := serve(t, h.Healthz, httptest.NewRequest("GET", "/healthz", nil))
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantBody   string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "database", Check: ok},
				{Name: "chat", Check: ok},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
			wantChecks: map[string]string{"database": "ok", "chat": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "database", Check: failWith("connection refused")},
				{Name: "chat", Check: ok},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{"database": "fail: connection refused", "chat": "ok"},
		},
		{
			name: "all fail",
			checkers: []Checker{
				{Name: "database", Check: failWith("timeout")},
				{Name: "tts", Check: failWith("circuit open: elevenlabs")},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{"database": "fail: timeout", "tts": "fail: circuit open: elevenlabs"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := New(tt.checkers...)
			code, body := serve(t, h.Readyz, httptest.NewRequest("GET", "/readyz", nil))
			if code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			if body.Status != tt.wantBody {
				t.Errorf("body status = %q, want %q", body.Status, tt.wantBody)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	arrived := make(chan struct{}, 2)
	wait := func(ctx context.Context) error {
		arrived <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: wait}, Checker{Name: "b", Check: wait})

	done := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
		done <- rec.Code
	}()

	for range 2 {
		select {
		case <-arrived:
		case <-time.After(2 * time.Second):
			t.Fatal("checks did not run concurrently")
		}
	}
	close(release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
}

func TestReadyz_Draining(t *testing.T) {
	t.Parallel()
	called := false
	h := New(Checker{Name: "database", Check: func(context.Context) error { called = true; return nil }})
	h.Drain()

	code, body := serve(t, h.Readyz, httptest.NewRequest("GET", "/readyz", nil))
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 while draining", code)
	}
	if body.Checks["server"] == "" {
		t.Error("draining should be reported under the server check")
	}
	if called {
		t.Error("checkers should not run while draining")
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code, _ := serve(t, h.Readyz, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	t.Parallel()
	if err := PingCheck("db", pinger{}).Check(context.Background()); err != nil {
		t.Errorf("healthy ping = %v", err)
	}
	c := PingCheck("db", pinger{err: errors.New("refused")})
	if c.Name != "db" || c.Check(context.Background()) == nil {
		t.Errorf("failing ping check = %+v", c)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: ok}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
