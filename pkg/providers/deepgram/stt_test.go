package deepgram

import (
	"testing"
	"time"

	"github.com/mzaldivar/centralita/pkg/errorsx"
	"github.com/mzaldivar/centralita/pkg/frames"
)

func TestEmitBeforeCloseDeliversResult(t *testing.T) {
	s := New(Config{StreamID: "stream-1"})
	s.emit(frames.NewTextFrame("stream-1", time.Now().UnixNano(), "hola", nil))
	select {
	case f := <-s.Results():
		tf, ok := f.(frames.TextFrame)
		if !ok || tf.Text() != "hola" {
			t.Fatalf("unexpected frame %+v", f)
		}
	default:
		t.Fatalf("expected a buffered result")
	}
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	s := New(Config{StreamID: "stream-1"})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// A reader callback landing after teardown must not panic on the
	// closed results channel.
	s.emit(frames.NewTextFrame("stream-1", time.Now().UnixNano(), "tarde", nil))

	if f, ok := <-s.Results(); ok {
		t.Fatalf("expected closed results channel, got %+v", f)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New(Config{StreamID: "stream-1"})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSendAudioBeforeStartErrors(t *testing.T) {
	s := New(Config{StreamID: "stream-1"})
	af := frames.NewAudioFrame("stream-1", time.Now().UnixNano(), []byte{0xFF}, 8000, 1, nil)
	err := s.SendAudio(af)
	if err == nil {
		t.Fatalf("expected error before start")
	}
	if !errorsx.HasReason(err, errorsx.ReasonSTTSend) {
		t.Fatalf("expected stt send reason, got %v", err)
	}
}
