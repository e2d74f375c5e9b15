package httpchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gabbyhq/gabby/pkg/provider/chat"
	"github.com/gabbyhq/gabby/pkg/types"
)

func TestReply_Success(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer tok")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "Sunny and 24 degrees."})
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithHeader("Authorization", "Bearer tok"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hist := []types.Message{
		{Role: types.RoleAssistant, Content: "Hi! This is Gabby."},
		{Role: types.RoleUser, Content: "What's the weather"},
	}
	reply, err := p.Reply(context.Background(), chat.Request{
		Message:  "What's the weather",
		History:  hist,
		Language: "en-US",
	})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply != "Sunny and 24 degrees." {
		t.Errorf("reply = %q", reply)
	}
	if got.Message != "What's the weather" || got.Language != "en-US" {
		t.Errorf("request = %+v", got)
	}
	if len(got.History) != 2 || got.History[0] != hist[0] || got.History[1] != hist[1] {
		t.Errorf("history = %+v, want %+v", got.History, hist)
	}
}

func TestReply_EmptyHistoryIsArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&raw)
		if string(raw["history"]) != "[]" {
			t.Errorf("history = %s, want []", raw["history"])
		}
		_, _ = w.Write([]byte(`{"reply":"ok"}`))
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Reply(context.Background(), chat.Request{Message: "hi"}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
}

func TestReply_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	_, err := p.Reply(context.Background(), chat.Request{Message: "hi"})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", se.StatusCode)
	}
	if se.Body != "boom" {
		t.Errorf("Body = %q, want %q", se.Body, "boom")
	}
}

func TestReply_EmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"reply":"   "}`))
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Reply(context.Background(), chat.Request{Message: "hi"}); err == nil {
		t.Error("expected error for empty reply")
	}
}

func TestReply_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p, _ := New(srv.URL, WithTimeout(50*time.Millisecond))
	if _, err := p.Reply(context.Background(), chat.Request{Message: "hi"}); err == nil {
		t.Error("expected timeout error")
	}
}

func TestNew_EmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty url")
	}
}
