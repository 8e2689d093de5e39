package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/mzaldivar/centralita/pkg/errorsx"
	"github.com/mzaldivar/centralita/pkg/logging"
)

type Config struct {
	APIKey   string
	Model    string
	Language string
	BaseURL  string
	Timeout  time.Duration
}

// Transcriber is a one-shot speech-to-text client over the OpenAI
// audio transcription HTTP API. One segment, one request.
type Transcriber struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Transcriber{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.NewComponentLogger(slog.Default(), "whisper_stt"),
	}
}

func (t *Transcriber) Name() string { return "whisper_batch" }

// Transcribe uploads one WAV segment and returns its transcript text,
// trimmed. Timeouts, connection failures and non-2xx responses all
// surface as errors; the caller treats them as "no transcript".
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if t.cfg.APIKey == "" {
		return "", errorsx.Wrap(errors.New("whisper api key not configured"), errorsx.ReasonConfigMissing)
	}
	if len(wav) == 0 {
		return "", nil
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	if err := w.WriteField("model", t.cfg.Model); err != nil {
		return "", err
	}
	if t.cfg.Language != "" {
		if err := w.WriteField("language", t.cfg.Language); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSTTTranscribe)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("whisper status %d: %s", resp.StatusCode, clip(string(raw)))
		return "", errorsx.Wrap(err, errorsx.ReasonSTTTranscribe)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSTTTranscribe)
	}
	text := strings.TrimSpace(out.Text)
	t.logger.Debug("whisper_transcribed", "bytes_in", len(wav), "chars_out", len(text))
	return text, nil
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "..."
}
