package mock

import (
	"context"
	"sync"

	"github.com/mzaldivar/centralita/pkg/adapters/tts"
)

// TTS is an in-memory tts.Synthesizer for tests. It records how many
// times synthesis actually ran so cache tests can assert hit behavior.
type TTS struct {
	Audio []byte
	Err   error
	Type  string

	mu    sync.Mutex
	calls int
	texts []string
}

func (t *TTS) Name() string { return "mock_tts" }

func (t *TTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	_ = ctx
	t.mu.Lock()
	t.calls++
	t.texts = append(t.texts, text)
	t.mu.Unlock()
	if t.Err != nil {
		return nil, t.Err
	}
	if t.Audio != nil {
		return t.Audio, nil
	}
	return []byte("mock-audio:" + text), nil
}

func (t *TTS) ContentType() string {
	if t.Type != "" {
		return t.Type
	}
	return "audio/mpeg"
}

func (t *TTS) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *TTS) Texts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.texts))
	copy(out, t.texts)
	return out
}

var _ tts.Synthesizer = (*TTS)(nil)
