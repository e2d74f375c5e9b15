package httptts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gabbyhq/gabby/pkg/audio"
	"github.com/gabbyhq/gabby/pkg/provider/tts"
)

func TestSynthesize_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req["text"] != "Hello there" || req["language"] != "af-ZA" {
			t.Errorf("request = %v", req)
		}
		w.Header().Set("Content-Type", "audio/mpeg; charset=binary")
		_, _ = w.Write([]byte("ID3-fake-mp3"))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clip, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello there", Language: "af-ZA"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(clip.Data) != "ID3-fake-mp3" {
		t.Errorf("data = %q", clip.Data)
	}
	if clip.ContentType != audio.ContentTypeMPEG {
		t.Errorf("content type = %q, want %q", clip.ContentType, audio.ContentTypeMPEG)
	}
}

func TestSynthesize_OmitsEmptyLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		_ = json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["language"]; ok {
			t.Error("expected language to be omitted")
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{1, 2})
	}))
	defer srv.Close()

	p, _ := New(srv.URL, WithDefaultContentType(audio.ContentTypeWAV))
	clip, err := p.Synthesize(context.Background(), tts.Request{Text: "Hi"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.ContentType != audio.ContentTypeWAV {
		t.Errorf("content type = %q, want %q", clip.ContentType, audio.ContentTypeWAV)
	}
}

func TestSynthesize_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) }},
		{"empty body", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			p, _ := New(srv.URL)
			if _, err := p.Synthesize(context.Background(), tts.Request{Text: "Hi"}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSynthesize_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "Hi"})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Errorf("err = %v, want StatusError 502", err)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("http://127.0.0.1:1")
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "  "}); err == nil {
		t.Error("expected error for empty text")
	}
}
