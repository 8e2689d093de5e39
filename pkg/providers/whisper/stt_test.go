package whisper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mzaldivar/centralita/pkg/errorsx"
)

func TestTranscribeParsesText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Fatalf("unexpected auth header %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Fatalf("unexpected model %q", got)
		}
		w.Write([]byte(`{"text": "  hola mundo  "}`))
	}))
	defer srv.Close()

	tr := New(Config{APIKey: "key", BaseURL: srv.URL})
	text, err := tr.Transcribe(context.Background(), []byte("RIFFfake"))
	if err != nil {
		t.Fatalf("transcribe error: %v", err)
	}
	if text != "hola mundo" {
		t.Fatalf("expected trimmed transcript, got %q", text)
	}
}

func TestTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := New(Config{APIKey: "key", BaseURL: srv.URL})
	if _, err := tr.Transcribe(context.Background(), []byte("RIFFfake")); err == nil {
		t.Fatalf("expected error on 5xx")
	}
}

func TestTranscribeMissingKeyIsConfigError(t *testing.T) {
	tr := New(Config{})
	_, err := tr.Transcribe(context.Background(), []byte("RIFFfake"))
	if !errorsx.IsConfig(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestTranscribeEmptySegment(t *testing.T) {
	tr := New(Config{APIKey: "key"})
	text, err := tr.Transcribe(context.Background(), nil)
	if err != nil || text != "" {
		t.Fatalf("expected empty no-op, got %q %v", text, err)
	}
}
