package transcripts

import (
	"context"
	"sync"
)

// MemorySink collects transcripts in memory for tests.
type MemorySink struct {
	// Err, when set, is returned by every Write.
	Err error

	mu   sync.Mutex
	rows []Transcript
}

func (m *MemorySink) Write(ctx context.Context, tr Transcript) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.rows = append(m.rows, tr)
	return nil
}

func (m *MemorySink) Rows() []Transcript {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transcript, len(m.rows))
	copy(out, m.rows)
	return out
}

var _ Sink = (*MemorySink)(nil)
