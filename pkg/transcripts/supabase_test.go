package transcripts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mzaldivar/centralita/pkg/errorsx"
)

func TestSupabaseWritePostsRow(t *testing.T) {
	var gotPath, gotKey, gotAuth string
	var gotRow Transcript
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotRow); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink, err := NewSupabase(SupabaseConfig{URL: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewSupabase: %v", err)
	}

	tr := Transcript{
		CallID:  "CA123",
		StartTS: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		EndTS:   time.Date(2025, 6, 1, 10, 0, 5, 0, time.UTC),
		Text:    "hola buenos dias",
	}
	if err := sink.Write(context.Background(), tr); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if gotPath != "/rest/v1/transcripts" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotKey != "secret" || gotAuth != "Bearer secret" {
		t.Fatalf("auth headers not set: apikey=%q auth=%q", gotKey, gotAuth)
	}
	if gotRow.CallID != tr.CallID || gotRow.Text != tr.Text {
		t.Fatalf("row mismatch: %+v", gotRow)
	}
}

func TestSupabaseWriteRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"permission denied"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink, err := NewSupabase(SupabaseConfig{URL: srv.URL, APIKey: "bad"})
	if err != nil {
		t.Fatalf("NewSupabase: %v", err)
	}
	err = sink.Write(context.Background(), Transcript{CallID: "CA1", Text: "x"})
	if err == nil {
		t.Fatal("expected error on 401 response")
	}
	if !errorsx.HasReason(err, errorsx.ReasonSinkWrite) {
		t.Fatalf("expected sink write reason, got %v", err)
	}
}

func TestSupabaseRequiresConfig(t *testing.T) {
	if _, err := NewSupabase(SupabaseConfig{URL: "https://x.supabase.co"}); !errorsx.IsConfig(err) {
		t.Fatalf("expected config error without api key, got %v", err)
	}
	if _, err := NewSupabase(SupabaseConfig{APIKey: "k"}); !errorsx.IsConfig(err) {
		t.Fatalf("expected config error without url, got %v", err)
	}
}
