package transcripts

import (
	"context"
	"time"
)

// Transcript is one finalized utterance attributed to a call.
type Transcript struct {
	CallID  string    `json:"call_id"`
	StartTS time.Time `json:"start_ts"`
	EndTS   time.Time `json:"end_ts"`
	Text    string    `json:"text"`
}

// Sink persists finalized transcripts. Implementations must be safe
// for concurrent use; sessions write from their own goroutines.
type Sink interface {
	Write(ctx context.Context, tr Transcript) error
}

// NoopSink discards transcripts. Used when no persistence backend is
// configured.
type NoopSink struct{}

func (NoopSink) Write(context.Context, Transcript) error { return nil }

var _ Sink = NoopSink{}
