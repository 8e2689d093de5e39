// Package segmenter turns the continuous inbound call-audio byte
// stream into discrete utterance segments for transcription. Payloads
// stay in the provider's native mu-law encoding (one byte per sample);
// decoding happens downstream when a segment is dispatched.
package segmenter

import (
	"time"

	"github.com/mzaldivar/centralita/pkg/audio"
)

type PolicyKind string

const (
	// PolicyFixed slices segments of a fixed sample count.
	PolicyFixed PolicyKind = "fixed"
	// PolicyEnergy endpoints on silence after voice, with a hard
	// duration cap so continuous speech is still bounded.
	PolicyEnergy PolicyKind = "energy"
)

type Config struct {
	SampleRate int
	Policy     PolicyKind
	// ChunkSeconds sizes fixed-policy segments.
	ChunkSeconds float64
	// EnergyThreshold is the decoded-PCM RMS level above which a
	// frame counts as voiced.
	EnergyThreshold float64
	// MaxSilence is the quiet span after the last voiced frame that
	// completes a segment.
	MaxSilence time.Duration
	// MaxSegment caps segment duration during continuous speech.
	MaxSegment time.Duration
	// MinSegment discards shorter segments as noise. The terminal
	// Flush ignores it so trailing speech is never dropped.
	MinSegment time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if c.Policy == "" {
		c.Policy = PolicyFixed
	}
	if c.ChunkSeconds <= 0 {
		c.ChunkSeconds = 5
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = 500
	}
	if c.MaxSilence <= 0 {
		c.MaxSilence = 700 * time.Millisecond
	}
	if c.MaxSegment <= 0 {
		c.MaxSegment = 15 * time.Second
	}
	if c.MinSegment < 0 {
		c.MinSegment = 0
	}
	return c
}

// Segment is one utterance in the provider's native encoding.
type Segment struct {
	Payload []byte
	Start   time.Time
	End     time.Time
}

// Segmenter accumulates one session's audio. Not safe for concurrent
// use; each session owns exactly one.
type Segmenter struct {
	cfg        Config
	buf        []byte
	anchor     time.Time
	lastVoice  time.Time
	voicedEnd  int
	sawVoice   bool
	discarded  int
	flushed    bool
	chunkBytes int
}

func New(cfg Config) *Segmenter {
	cfg = cfg.withDefaults()
	return &Segmenter{
		cfg:        cfg,
		chunkBytes: int(float64(cfg.SampleRate) * cfg.ChunkSeconds),
	}
}

// Write appends an inbound media payload and returns any segments the
// active policy completed. now is the arrival time of the payload.
func (s *Segmenter) Write(payload []byte, now time.Time) []Segment {
	if s.flushed || len(payload) == 0 {
		return nil
	}
	if s.anchor.IsZero() {
		s.anchor = now
		s.lastVoice = now
	}
	s.buf = append(s.buf, payload...)

	if s.cfg.Policy == PolicyEnergy {
		return s.writeEnergy(payload, now)
	}
	return s.writeFixed()
}

func (s *Segmenter) writeFixed() []Segment {
	var out []Segment
	for len(s.buf) >= s.chunkBytes {
		payload := append([]byte(nil), s.buf[:s.chunkBytes]...)
		s.buf = s.buf[s.chunkBytes:]
		end := s.anchor.Add(s.byteDuration(len(payload)))
		out = append(out, Segment{Payload: payload, Start: s.anchor, End: end})
		s.anchor = end
	}
	return out
}

func (s *Segmenter) writeEnergy(payload []byte, now time.Time) []Segment {
	if pcm, err := audio.DecodeMuLaw(payload); err == nil {
		if audio.RMS(pcm) >= s.cfg.EnergyThreshold {
			s.lastVoice = now
			s.voicedEnd = len(s.buf)
			s.sawVoice = true
		}
	}

	if s.byteDuration(len(s.buf)) >= s.cfg.MaxSegment {
		return s.emitEnergy(len(s.buf))
	}
	if s.sawVoice && now.Sub(s.lastVoice) >= s.cfg.MaxSilence {
		return s.emitEnergy(s.voicedEnd)
	}
	if !s.sawVoice && s.byteDuration(len(s.buf)) >= s.cfg.MaxSilence+s.cfg.MaxSegment {
		// Unvoiced preamble that never triggered endpointing; drop it
		// so an idle line does not buffer without bound.
		s.consume(len(s.buf))
	}
	return nil
}

// emitEnergy closes the segment at boundary, dropping any trailing
// silence beyond it, and applies the minimum-duration noise gate.
func (s *Segmenter) emitEnergy(boundary int) []Segment {
	if boundary <= 0 {
		s.consume(len(s.buf))
		return nil
	}
	payload := append([]byte(nil), s.buf[:boundary]...)
	start := s.anchor
	end := start.Add(s.byteDuration(boundary))
	s.consume(len(s.buf))

	if s.byteDuration(len(payload)) < s.cfg.MinSegment {
		s.discarded++
		return nil
	}
	return []Segment{{Payload: payload, Start: start, End: end}}
}

// consume advances the anchor past n buffered bytes and resets the
// voice tracking for the next segment.
func (s *Segmenter) consume(n int) {
	s.anchor = s.anchor.Add(s.byteDuration(n))
	s.buf = s.buf[:0]
	s.voicedEnd = 0
	s.sawVoice = false
}

// Flush emits whatever is buffered as a final segment, bypassing the
// minimum-duration gate, and moves the segmenter to its terminal
// state. Trailing speech is never silently dropped at call teardown.
func (s *Segmenter) Flush(now time.Time) (Segment, bool) {
	if s.flushed {
		return Segment{}, false
	}
	s.flushed = true
	if len(s.buf) == 0 {
		return Segment{}, false
	}
	payload := append([]byte(nil), s.buf...)
	start := s.anchor
	if start.IsZero() {
		start = now
	}
	end := start.Add(s.byteDuration(len(payload)))
	s.buf = nil
	return Segment{Payload: payload, Start: start, End: end}, true
}

// Flushed reports whether the segmenter reached its terminal state.
func (s *Segmenter) Flushed() bool { return s.flushed }

// Pending returns the number of buffered, unemitted bytes.
func (s *Segmenter) Pending() int { return len(s.buf) }

// Discarded counts segments dropped by the minimum-duration gate.
func (s *Segmenter) Discarded() int { return s.discarded }

func (s *Segmenter) byteDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(s.cfg.SampleRate)
}
