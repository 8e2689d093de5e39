package centralita

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mzaldivar/centralita/pkg/frames"
	"github.com/mzaldivar/centralita/pkg/metrics"
	"github.com/mzaldivar/centralita/pkg/providers/mock"
	"github.com/mzaldivar/centralita/pkg/transcripts"
	tmock "github.com/mzaldivar/centralita/pkg/transports/mock"
)

func testConfig() Config {
	return Config{
		LogLevel: "error",
		Session:  SessionConfig{Mode: "batch", SampleRate: 8000},
		Segmenter: SegmenterConfig{
			Policy:       "fixed",
			ChunkSeconds: 1,
		},
		Vendors: VendorsConfig{
			STT: VendorConfig{Provider: "mock", Settings: map[string]any{"transcript": "hola desde el motor"}},
			TTS: VendorConfig{Provider: "mock"},
		},
		Transports: TransportsConfig{Provider: "mock"},
	}
}

func TestEngineRoutesCallToTranscript(t *testing.T) {
	transport := tmock.New()
	sink := &transcripts.MemorySink{}
	obs := metrics.NewMemoryObserver()

	eng, err := NewEngine(EngineOptions{
		Config:    testConfig(),
		Transport: transport,
		Sink:      sink,
		Observer:  obs,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	meta := map[string]string{frames.MetaCallSID: "CA42"}
	transport.Push(frames.NewSystemFrame("stream-1", time.Now().UnixNano(), frames.SystemStreamStart, meta))
	transport.Push(frames.NewAudioFrame("stream-1", time.Now().UnixNano(), bytes.Repeat([]byte{0x00}, 8000), 8000, 1, nil))
	transport.Push(frames.NewSystemFrame("stream-1", time.Now().UnixNano(), frames.SystemStreamStop, nil))

	if err := eng.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	rows := sink.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected one transcript, got %d", len(rows))
	}
	if rows[0].CallID != "CA42" || rows[0].Text != "hola desde el motor" {
		t.Fatalf("unexpected row %+v", rows[0])
	}
	if n := len(obs.Named(metrics.EventSessionClosed)); n != 1 {
		t.Fatalf("expected one session close event, got %d", n)
	}

	var outbound int
	for _, f := range transport.Sent() {
		if tf, ok := f.(frames.TextFrame); ok && tf.Text() == "hola desde el motor" {
			outbound++
		}
	}
	if outbound != 1 {
		t.Fatalf("expected transcript forwarded to caller once, got %d", outbound)
	}
}

func TestEngineIsolatesConcurrentStreams(t *testing.T) {
	transport := tmock.New()
	sink := &transcripts.MemorySink{}

	eng, err := NewEngine(EngineOptions{
		Config:    testConfig(),
		Transport: transport,
		Sink:      sink,
		Observer:  metrics.NoopObserver{},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i, stream := range []string{"stream-a", "stream-b"} {
		sid := []string{"CA1", "CA2"}[i]
		transport.Push(frames.NewSystemFrame(stream, time.Now().UnixNano(), frames.SystemStreamStart,
			map[string]string{frames.MetaCallSID: sid}))
		transport.Push(frames.NewAudioFrame(stream, time.Now().UnixNano(), bytes.Repeat([]byte{0x00}, 8000), 8000, 1, nil))
		transport.Push(frames.NewSystemFrame(stream, time.Now().UnixNano(), frames.SystemStreamStop, nil))
	}

	if err := eng.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	rows := sink.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected two transcripts, got %d", len(rows))
	}
	seen := map[string]bool{}
	for _, r := range rows {
		seen[r.CallID] = true
	}
	if !seen["CA1"] || !seen["CA2"] {
		t.Fatalf("expected transcripts for both calls, got %v", seen)
	}
}

func TestEngineSharesBatchTranscriberAcrossSessions(t *testing.T) {
	transport := tmock.New()

	eng, err := NewEngine(EngineOptions{
		Config:    testConfig(),
		Transport: transport,
		Sink:      &transcripts.MemorySink{},
		Observer:  metrics.NoopObserver{},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	batch, ok := eng.batch.(*mock.BatchSTT)
	if !ok {
		t.Fatalf("expected batch transcriber built at construction, got %T", eng.batch)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i, stream := range []string{"stream-a", "stream-b"} {
		sid := []string{"CA1", "CA2"}[i]
		transport.Push(frames.NewSystemFrame(stream, time.Now().UnixNano(), frames.SystemStreamStart,
			map[string]string{frames.MetaCallSID: sid}))
		transport.Push(frames.NewAudioFrame(stream, time.Now().UnixNano(), bytes.Repeat([]byte{0x00}, 8000), 8000, 1, nil))
		transport.Push(frames.NewSystemFrame(stream, time.Now().UnixNano(), frames.SystemStreamStop, nil))
	}

	if err := eng.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	// Both sessions must route through the one client built in NewEngine.
	if got := batch.Calls(); got != 2 {
		t.Fatalf("expected two transcriptions on the shared client, got %d", got)
	}
}

func TestConfigValidateRejectsUnknownMode(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Mode = "duplex"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown session mode")
	}
	cfg = testConfig()
	cfg.Segmenter.Policy = "vad"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown segmenter policy")
	}
	cfg = testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
