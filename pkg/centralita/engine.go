// Package centralita wires the transport, session, transcription,
// synthesis cache, and transcript sink into one runnable engine.
package centralita

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mzaldivar/centralita/pkg/adapters/stt"
	"github.com/mzaldivar/centralita/pkg/adapters/tts"
	"github.com/mzaldivar/centralita/pkg/configutil"
	"github.com/mzaldivar/centralita/pkg/errorsx"
	"github.com/mzaldivar/centralita/pkg/frames"
	"github.com/mzaldivar/centralita/pkg/logging"
	"github.com/mzaldivar/centralita/pkg/metrics"
	"github.com/mzaldivar/centralita/pkg/providers/deepgram"
	"github.com/mzaldivar/centralita/pkg/providers/mock"
	"github.com/mzaldivar/centralita/pkg/providers/openai"
	"github.com/mzaldivar/centralita/pkg/providers/whisper"
	"github.com/mzaldivar/centralita/pkg/redact"
	"github.com/mzaldivar/centralita/pkg/runner"
	"github.com/mzaldivar/centralita/pkg/session"
	"github.com/mzaldivar/centralita/pkg/storage"
	"github.com/mzaldivar/centralita/pkg/synthcache"
	"github.com/mzaldivar/centralita/pkg/transcripts"
	"github.com/mzaldivar/centralita/pkg/transports"
	tmock "github.com/mzaldivar/centralita/pkg/transports/mock"
	"github.com/mzaldivar/centralita/pkg/transports/twilio"
)

// Engine owns the process-wide resources: one transport, one synthesis
// cache, one sink, one observer. Sessions are created per stream and
// share nothing with each other.
type Engine struct {
	cfg       Config
	transport transports.Transport
	cache     *synthcache.Cache
	sink      transcripts.Sink
	batch     stt.BatchTranscriber
	observer  metrics.Observer
	logger    *slog.Logger

	metricsFile *os.File

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

type sessionEntry struct {
	in   chan frames.Frame
	done chan struct{}
	ctrl *session.Controller
}

// EngineOptions allows tests to substitute fakes for the constructed
// collaborators. Zero values build everything from the config.
type EngineOptions struct {
	Config    Config
	Transport transports.Transport
	Store     storage.Store
	Sink      transcripts.Sink
	Observer  metrics.Observer
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	slog.SetDefault(logging.InitLogger(logging.ParseLevel(cfg.LogLevel)))
	redact.SetEnabled(cfg.Privacy.RedactPII)

	e := &Engine{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(slog.Default(), "engine"),
		sessions: make(map[string]*sessionEntry),
	}

	e.observer = opts.Observer
	if e.observer == nil {
		obs, f, err := buildObserver(cfg.Metrics)
		if err != nil {
			return nil, err
		}
		e.observer = obs
		e.metricsFile = f
	}

	store := opts.Store
	if store == nil {
		store = buildStore(cfg.Storage)
	}
	synth, err := buildTTS(cfg.Vendors.TTS, cfg.Synthesis)
	if err != nil {
		return nil, err
	}
	e.cache = synthcache.New(synth, store, e.observer, synthcache.Config{
		Voice:  cfg.Synthesis.Voice,
		Model:  cfg.Synthesis.Model,
		Format: cfg.Synthesis.Format,
	})

	e.sink = opts.Sink
	if e.sink == nil {
		e.sink = buildSink(cfg.Transcripts, e.logger)
	}

	// The batch transcriber holds an HTTP client and is shared by every
	// session. Building it here also surfaces STT misconfiguration at
	// startup instead of on the first call.
	if cfg.SessionSettings().Mode != session.ModeStreaming {
		batch, err := buildBatchSTT(cfg.Vendors.STT)
		if err != nil {
			return nil, err
		}
		e.batch = batch
	}

	e.transport = opts.Transport
	if e.transport == nil {
		tr, err := buildTransport(cfg.Transports, e.cache)
		if err != nil {
			return nil, err
		}
		e.transport = tr
	}

	e.logger.Info("engine configured",
		"environment", cfg.Environment,
		"transport", e.transport.Name(),
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"session_mode", cfg.Session.Mode,
		"segment_policy", cfg.Segmenter.Policy,
	)
	return e, nil
}

// Cache exposes the synthesis cache for callers outside the media
// path, such as announcement tooling.
func (e *Engine) Cache() *synthcache.Cache { return e.cache }

// Transport exposes the running transport, e.g. for outbound dialing.
func (e *Engine) Transport() transports.Transport { return e.transport }

// Start brings up the transport and the frame dispatcher. It returns
// once the engine is running; Drain stops it.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	if err := e.transport.Start(e.ctx); err != nil {
		return err
	}
	if rr, ok := e.transport.(transports.ReadyReporter); ok {
		fields := []any{}
		for k, v := range rr.ReadyFields() {
			fields = append(fields, k, v)
		}
		e.logger.Info("transport ready", fields...)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatch()
	}()
	return nil
}

// Drain stops accepting new work, lets in-flight sessions flush, and
// releases process resources. Implements runner.Drainer.
func (e *Engine) Drain() error {
	// Stop the transport first so sessions drain their buffered audio
	// before the engine context is cancelled out from under them.
	_ = e.transport.Stop()
	e.wg.Wait()
	if e.cancel != nil {
		e.cancel()
	}
	if f, ok := e.observer.(metrics.Flusher); ok {
		_ = f.Flush()
	}
	if e.metricsFile != nil {
		_ = e.metricsFile.Close()
	}
	return nil
}

// dispatch routes inbound frames to per-stream sessions, creating a
// session on the first frame for an unknown stream and reaping it when
// its controller returns.
func (e *Engine) dispatch() {
	for f := range e.transport.Recv() {
		streamID := f.Meta()[frames.MetaStreamID]
		if streamID == "" {
			// Connectivity acknowledgements arrive before the stream
			// is identified; nothing to route yet.
			continue
		}
		entry, err := e.sessionFor(streamID, f.Meta())
		if err != nil {
			e.logger.Error("session create failed", "stream_id", streamID, "error", err)
			continue
		}
		select {
		case entry.in <- f:
		case <-entry.done:
			// Session already tore down; late frames are dropped.
		}
	}
	// Transport closed: end every remaining session and wait for the
	// controllers to finish their final flush.
	e.mu.Lock()
	for id, entry := range e.sessions {
		close(entry.in)
		delete(e.sessions, id)
	}
	e.mu.Unlock()
}

func (e *Engine) sessionFor(streamID string, meta map[string]string) (*sessionEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.sessions[streamID]; ok {
		return entry, nil
	}

	deps := session.Deps{
		Sink:     e.sink,
		Observer: e.observer,
		Send:     e.transport.Send,
	}
	settings := e.cfg.SessionSettings()
	switch settings.Mode {
	case session.ModeStreaming:
		stream, err := buildStreamingSTT(e.cfg.Vendors.STT, streamID, meta[frames.MetaCallSID], meta[frames.MetaTraceID], settings.SampleRate)
		if err != nil {
			return nil, err
		}
		deps.Stream = stream
	default:
		deps.Batch = e.batch
	}

	entry := &sessionEntry{
		in:   make(chan frames.Frame, 64),
		done: make(chan struct{}),
		ctrl: session.New(deps, settings),
	}
	e.sessions[streamID] = entry

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(entry.done)
		_ = entry.ctrl.Run(e.ctx, entry.in)
		e.mu.Lock()
		if cur, ok := e.sessions[streamID]; ok && cur == entry {
			delete(e.sessions, streamID)
		}
		e.mu.Unlock()
	}()
	return entry, nil
}

func buildObserver(cfg MetricsConfig) (metrics.Observer, *os.File, error) {
	if strings.TrimSpace(cfg.JSONLPath) == "" {
		return metrics.NoopObserver{}, nil, nil
	}
	f, err := os.OpenFile(cfg.JSONLPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open metrics file: %w", err)
	}
	return metrics.NewJSONLObserver(f), f, nil
}

func buildStore(cfg StorageConfig) storage.Store {
	if strings.TrimSpace(cfg.Bucket) == "" {
		// No bucket configured: keep synthesized audio in memory so
		// local runs still exercise the cache path.
		return storage.NewMemory()
	}
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     cfg.AccessKey,
				SecretAccessKey: cfg.SecretKey,
			}, nil
		})
	}
	return storage.NewS3(s3.New(opts), cfg.Bucket, cfg.Prefix, cfg.PublicBaseURL)
}

func buildSink(cfg SinkConfig, logger *slog.Logger) transcripts.Sink {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "supabase":
		sink, err := transcripts.NewSupabase(transcripts.SupabaseConfig{
			URL:    cfg.URL,
			APIKey: cfg.APIKey,
			Table:  cfg.Table,
		})
		if err != nil {
			// A misconfigured sink degrades to no persistence rather
			// than blocking call processing.
			logger.Warn("transcript sink disabled", "error", err)
			return transcripts.NoopSink{}
		}
		return sink
	default:
		return transcripts.NoopSink{}
	}
}

func validateSettings(path string, input map[string]any, schema configutil.Schema) error {
	if err := configutil.ValidateSettings(input, schema); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

type whisperSettings struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	Language  string `mapstructure:"language"`
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

func buildBatchSTT(cfg VendorConfig) (stt.BatchTranscriber, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "whisper", "openai":
		if err := validateSettings("vendors.stt.settings", cfg.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "base_url", "timeout_ms"},
		}); err != nil {
			return nil, err
		}
		var s whisperSettings
		if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonConfigMissing)
		}
		return whisper.New(whisper.Config{
			APIKey:   s.APIKey,
			Model:    s.Model,
			Language: s.Language,
			BaseURL:  s.BaseURL,
			Timeout:  time.Duration(s.TimeoutMS) * time.Millisecond,
		}), nil
	case "mock":
		var s struct {
			Transcript string `mapstructure:"transcript"`
		}
		if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
			return nil, err
		}
		return &mock.BatchSTT{Transcript: s.Transcript}, nil
	default:
		return nil, fmt.Errorf("batch stt provider not registered: %s", cfg.Provider)
	}
}

type deepgramSettings struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
	Interim  bool   `mapstructure:"interim"`
}

func buildStreamingSTT(cfg VendorConfig, streamID, callSID, traceID string, sampleRate int) (stt.StreamingSTT, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "deepgram":
		if err := validateSettings("vendors.stt.settings", cfg.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "interim"},
		}); err != nil {
			return nil, err
		}
		var s deepgramSettings
		if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonConfigMissing)
		}
		return deepgram.New(deepgram.Config{
			APIKey:     s.APIKey,
			Model:      s.Model,
			Language:   s.Language,
			SampleRate: sampleRate,
			Interim:    s.Interim,
			StreamID:   streamID,
			CallSID:    callSID,
			TraceID:    traceID,
		}), nil
	case "mock":
		var s struct {
			Transcript string `mapstructure:"transcript"`
		}
		if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
			return nil, err
		}
		return mock.NewSTT(mock.STTConfig{
			StreamID:   streamID,
			CallSID:    callSID,
			Transcript: s.Transcript,
		}), nil
	default:
		return nil, fmt.Errorf("streaming stt provider not registered: %s", cfg.Provider)
	}
}

type openaiTTSSettings struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

func buildTTS(cfg VendorConfig, synth SynthesisConfig) (tts.Synthesizer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		if err := validateSettings("vendors.tts.settings", cfg.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"base_url", "timeout_ms"},
		}); err != nil {
			return nil, err
		}
		var s openaiTTSSettings
		if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "vendors.tts.settings.api_key"); err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonConfigMissing)
		}
		return openai.New(openai.Config{
			APIKey:  s.APIKey,
			Model:   synth.Model,
			Voice:   synth.Voice,
			Format:  synth.Format,
			BaseURL: s.BaseURL,
			Timeout: time.Duration(s.TimeoutMS) * time.Millisecond,
		}), nil
	case "mock":
		return &mock.TTS{}, nil
	default:
		return nil, fmt.Errorf("tts provider not registered: %s", cfg.Provider)
	}
}

func buildTransport(cfg TransportsConfig, greeter twilio.Greeter) (transports.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "twilio":
		if err := validateSettings("transports.settings", cfg.Settings, configutil.Schema{
			Required: []string{"account_sid", "auth_token"},
			Optional: []string{
				"public_url", "server_addr", "voice_path", "ws_path",
				"status_callback_path", "greeting", "allow_any_origin", "allowed_origins",
			},
		}); err != nil {
			return nil, err
		}
		var s twilio.Config
		if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
			return nil, err
		}
		return twilio.New(s, greeter), nil
	case "mock":
		return tmock.New(), nil
	default:
		return nil, fmt.Errorf("transport provider not registered: %s", cfg.Provider)
	}
}

// NewRunner wraps the engine in the shared lifecycle runner so the
// command line entrypoint gets banner, hooks, and bounded drain.
func (e *Engine) NewRunner(drainTimeout time.Duration) *runner.LifecycleRunner {
	hooks := runner.Hooks{
		OnStart: func() { e.logger.Info("engine started") },
		OnStop:  func() { e.logger.Info("engine stopped") },
	}
	return runner.NewLifecycleRunner(e, hooks, drainTimeout)
}
