package tts

import "context"

// Synthesizer converts text into playable audio bytes in one call.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize renders text to audio.
	Synthesize(ctx context.Context, text string) ([]byte, error)
	// ContentType reports the MIME type of synthesized audio.
	ContentType() string
}
