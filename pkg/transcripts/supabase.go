package transcripts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mzaldivar/centralita/pkg/errorsx"
)

// SupabaseConfig points the sink at a Supabase project's REST API.
type SupabaseConfig struct {
	URL     string // project base URL, e.g. https://xyz.supabase.co
	APIKey  string // service role or anon key
	Table   string // "transcripts" by default
	Timeout time.Duration
}

// SupabaseSink writes transcripts as rows through PostgREST.
type SupabaseSink struct {
	cfg    SupabaseConfig
	client *http.Client
}

// NewSupabase builds the sink. Both URL and APIKey are required; a
// missing value returns a config error so callers can fall back to
// NoopSink rather than fail mid-call.
func NewSupabase(cfg SupabaseConfig) (*SupabaseSink, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, errorsx.Wrap(fmt.Errorf("supabase url and api key are required"), errorsx.ReasonConfigMissing)
	}
	if cfg.Table == "" {
		cfg.Table = "transcripts"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &SupabaseSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (s *SupabaseSink) Write(ctx context.Context, tr Transcript) error {
	body, err := json.Marshal(tr)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSinkWrite)
	}

	endpoint := s.cfg.URL + "/rest/v1/" + s.cfg.Table
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSinkWrite)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.client.Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSinkWrite)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errorsx.Wrap(
			fmt.Errorf("supabase insert returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			errorsx.ReasonSinkWrite,
		)
	}
	return nil
}

var _ Sink = (*SupabaseSink)(nil)
