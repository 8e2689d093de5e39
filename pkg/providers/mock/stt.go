package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mzaldivar/centralita/pkg/adapters/stt"
	"github.com/mzaldivar/centralita/pkg/frames"
)

type STTConfig struct {
	StreamID          string
	CallSID           string
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	// EmitPerSend emits one result per SendAudio call instead of
	// once per session.
	EmitPerSend bool
}

// StreamingSTT is an in-memory stt.StreamingSTT for tests.
type StreamingSTT struct {
	cfg     STTConfig
	out     chan frames.Frame
	mu      sync.Mutex
	started bool
	closed  bool
	emitted bool
	sends   int
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &StreamingSTT{cfg: cfg, out: make(chan frames.Frame, 32)}
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.started = false
	return nil
}

func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("not started")
	}
	s.sends++
	if s.emitted && !s.cfg.EmitPerSend {
		return nil
	}
	s.emitted = true

	meta := map[string]string{
		frames.MetaStreamID: s.cfg.StreamID,
		frames.MetaCallSID:  s.cfg.CallSID,
		frames.MetaSource:   "stt",
	}
	if s.cfg.EmitInterim {
		interim := s.cfg.InterimTranscript
		if interim == "" {
			interim = s.cfg.Transcript
		}
		im := cloneMeta(meta)
		im[frames.MetaIsFinal] = "false"
		s.push(frames.NewTextFrame(s.cfg.StreamID, time.Now().UnixNano(), interim, im))
	}
	fm := cloneMeta(meta)
	fm[frames.MetaIsFinal] = "true"
	s.push(frames.NewTextFrame(s.cfg.StreamID, time.Now().UnixNano(), s.cfg.Transcript, fm))
	return nil
}

func (s *StreamingSTT) Results() <-chan frames.Frame { return s.out }

// Sends reports how many audio frames were received.
func (s *StreamingSTT) Sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

func (s *StreamingSTT) push(f frames.Frame) {
	select {
	case s.out <- f:
	default:
	}
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// BatchSTT is an in-memory stt.BatchTranscriber for tests.
type BatchSTT struct {
	Transcript string
	Err        error

	mu    sync.Mutex
	calls int
	wavs  [][]byte
}

func (b *BatchSTT) Name() string { return "mock_batch_stt" }

func (b *BatchSTT) Transcribe(ctx context.Context, wav []byte) (string, error) {
	_ = ctx
	b.mu.Lock()
	b.calls++
	b.wavs = append(b.wavs, append([]byte(nil), wav...))
	b.mu.Unlock()
	if b.Err != nil {
		return "", b.Err
	}
	return b.Transcript, nil
}

func (b *BatchSTT) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *BatchSTT) Wavs() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.wavs))
	copy(out, b.wavs)
	return out
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
var _ stt.BatchTranscriber = (*BatchSTT)(nil)
