package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mzaldivar/centralita/pkg/adapters/tts"
	"github.com/mzaldivar/centralita/pkg/errorsx"
	"github.com/mzaldivar/centralita/pkg/logging"
)

type Config struct {
	APIKey  string
	Model   string
	Voice   string
	Format  string
	BaseURL string
	Timeout time.Duration
}

// Synthesizer renders text to audio through the OpenAI speech API.
type Synthesizer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config) *Synthesizer {
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "nova"
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.NewComponentLogger(slog.Default(), "openai_tts"),
	}
}

func (s *Synthesizer) Name() string { return "openai_tts" }

func (s *Synthesizer) ContentType() string {
	if s.cfg.Format == "wav" {
		return "audio/wav"
	}
	return "audio/mpeg"
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.cfg.APIKey == "" {
		return nil, errorsx.Wrap(errors.New("openai api key not configured"), errorsx.ReasonConfigMissing)
	}
	payload, err := json.Marshal(map[string]any{
		"model":           s.cfg.Model,
		"input":           text,
		"voice":           s.cfg.Voice,
		"response_format": s.cfg.Format,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("openai tts status %d: %s", resp.StatusCode, string(body))
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	s.logger.Debug("tts_synthesized", "chars_in", len(text), "bytes_out", len(audio))
	return audio, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
