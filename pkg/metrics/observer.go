package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Event names recorded by the pipeline.
const (
	EventSegmentEmitted   = "segment_emitted"
	EventSegmentDiscarded = "segment_discarded"
	EventTranscriptFinal  = "transcript_final"
	EventTranscriptEmpty  = "transcript_empty"
	EventCacheHit         = "tts_cache_hit"
	EventCacheMiss        = "tts_cache_miss"
	EventSinkError        = "sink_error"
	EventSessionClosed    = "session_closed"
)
