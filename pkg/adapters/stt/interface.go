package stt

import (
	"context"

	"github.com/mzaldivar/centralita/pkg/frames"
)

// BatchTranscriber performs one bounded request per audio segment.
// Implementations must treat timeouts, connection failures and error
// responses uniformly: return an error, never panic, never block past
// the context deadline. An empty transcript with a nil error means
// "no speech detected".
type BatchTranscriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe sends one WAV-framed segment and returns its text.
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// StreamingSTT defines the contract for any streaming STT vendor
// implementation fed continuously with audio frames.
type StreamingSTT interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the STT connection.
	Start(ctx context.Context) error
	// Close signals end-of-input and shuts down the connection.
	// In-flight results remain readable on Results until it closes.
	Close() error
	// SendAudio sends audio frames to the STT service.
	SendAudio(frame frames.AudioFrame) error
	// Results returns a channel of transcription frames. Text frames
	// carry frames.MetaIsFinal when the backend marks them terminal.
	Results() <-chan frames.Frame
}
