package elevenlabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gabbyhq/gabby/pkg/audio"
	"github.com/gabbyhq/gabby/pkg/provider/tts"
)

// ---- request building ----

func TestBuildSpeechRequest(t *testing.T) {
	data, err := buildSpeechRequest("Hallo", "eleven_flash_v2_5", "af-ZA")
	if err != nil {
		t.Fatalf("buildSpeechRequest: %v", err)
	}
	var got speechRequest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Text != "Hallo" || got.ModelID != "eleven_flash_v2_5" {
		t.Errorf("request = %+v", got)
	}
	if got.LanguageCode != "af" {
		t.Errorf("language_code = %q, want %q", got.LanguageCode, "af")
	}
	if got.VoiceSettings == nil || got.VoiceSettings.Stability != 0.5 {
		t.Errorf("voice settings = %+v", got.VoiceSettings)
	}
}

func TestBuildSpeechRequest_NoLanguage(t *testing.T) {
	data, _ := buildSpeechRequest("Hi", "m", "")
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)
	if _, ok := raw["language_code"]; ok {
		t.Error("expected language_code to be omitted")
	}
}

func TestSpeechURL(t *testing.T) {
	p, _ := New("key", WithBaseURL("https://example.test/"))
	want := "https://example.test/v1/text-to-speech/voice%201?output_format=mp3_44100_128"
	if got := p.speechURL("voice 1"); got != want {
		t.Errorf("speechURL = %q, want %q", got, want)
	}
}

// ---- Synthesize ----

func TestSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "key" {
			t.Errorf("xi-api-key = %q", got)
		}
		if r.URL.Path != "/v1/text-to-speech/rachel" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURL(srv.URL), WithVoice("rachel"))
	clip, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello", Language: "en-US"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(clip.Data) != "mp3" || clip.ContentType != audio.ContentTypeMPEG {
		t.Errorf("clip = %+v", clip)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello"}); err == nil {
		t.Error("expected error without a voice")
	}
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello", Voice: "v"}); err == nil {
		t.Error("expected error for 429")
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
	if p.outputFormat != defaultOutputFmt {
		t.Errorf("expected outputFormat %q, got %q", defaultOutputFmt, p.outputFormat)
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := New("key", WithModel("eleven_multilingual_v2"), WithOutputFormat("mp3_22050_32"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" {
		t.Errorf("expected model 'eleven_multilingual_v2', got %q", p.model)
	}
	if p.outputFormat != "mp3_22050_32" {
		t.Errorf("expected outputFormat 'mp3_22050_32', got %q", p.outputFormat)
	}
}
