package segmenter

import (
	"bytes"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

// mu-law 0xFF decodes to silence; 0x00 decodes to a loud sample.
func voicedFrame(n int) []byte { return bytes.Repeat([]byte{0x00}, n) }
func silentFrame(n int) []byte { return bytes.Repeat([]byte{0xFF}, n) }

func TestFixedPolicyExactThreshold(t *testing.T) {
	s := New(Config{SampleRate: 8000, Policy: PolicyFixed, ChunkSeconds: 1})
	segs := s.Write(make([]byte, 8000), t0)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if len(segs[0].Payload) != 8000 {
		t.Fatalf("expected 8000-byte payload, got %d", len(segs[0].Payload))
	}
	if s.Pending() != 0 {
		t.Fatalf("expected empty buffer, got %d pending", s.Pending())
	}
	if got := segs[0].End.Sub(segs[0].Start); got != time.Second {
		t.Fatalf("expected 1s duration, got %v", got)
	}
}

func TestFixedPolicyRetainsRemainder(t *testing.T) {
	s := New(Config{SampleRate: 8000, Policy: PolicyFixed, ChunkSeconds: 1})
	segs := s.Write(make([]byte, 12000), t0)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if s.Pending() != 4000 {
		t.Fatalf("expected 4000 bytes retained, got %d", s.Pending())
	}
}

func TestFixedPolicyTimestampsNonDecreasing(t *testing.T) {
	s := New(Config{SampleRate: 8000, Policy: PolicyFixed, ChunkSeconds: 1})
	segs := s.Write(make([]byte, 24000), t0)
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].Start.Before(segs[i-1].End) {
			t.Fatalf("segment %d starts before previous end", i)
		}
		if !segs[i].Start.Equal(segs[i-1].End) {
			t.Fatalf("expected start re-anchored to previous end")
		}
	}
}

func TestEnergyPolicyEndpointsAtVoiceSilenceTransition(t *testing.T) {
	s := New(Config{
		SampleRate:      8000,
		Policy:          PolicyEnergy,
		EnergyThreshold: 500,
		MaxSilence:      300 * time.Millisecond,
	})
	now := t0
	if segs := s.Write(voicedFrame(800), now); len(segs) != 0 {
		t.Fatalf("unexpected early segment")
	}
	var emitted []Segment
	for i := 0; i < 5; i++ {
		now = now.Add(100 * time.Millisecond)
		emitted = append(emitted, s.Write(silentFrame(800), now)...)
	}
	if len(emitted) != 1 {
		t.Fatalf("expected exactly 1 segment, got %d", len(emitted))
	}
	// Boundary sits at the end of the voiced frame, not at the end of
	// the trailing silence.
	if len(emitted[0].Payload) != 800 {
		t.Fatalf("expected 800-byte voiced payload, got %d", len(emitted[0].Payload))
	}
}

func TestEnergyPolicyMaxDurationCap(t *testing.T) {
	s := New(Config{
		SampleRate:      8000,
		Policy:          PolicyEnergy,
		EnergyThreshold: 500,
		MaxSilence:      10 * time.Second,
		MaxSegment:      time.Second,
	})
	now := t0
	var emitted []Segment
	for i := 0; i < 12; i++ {
		emitted = append(emitted, s.Write(voicedFrame(800), now)...)
		now = now.Add(100 * time.Millisecond)
	}
	if len(emitted) == 0 {
		t.Fatalf("expected cap to force a segment during continuous speech")
	}
}

func TestEnergyPolicyMinDurationDiscard(t *testing.T) {
	s := New(Config{
		SampleRate:      8000,
		Policy:          PolicyEnergy,
		EnergyThreshold: 500,
		MaxSilence:      100 * time.Millisecond,
		MinSegment:      time.Second,
	})
	now := t0
	s.Write(voicedFrame(80), now) // 10ms blip
	now = now.Add(200 * time.Millisecond)
	segs := s.Write(silentFrame(800), now)
	if len(segs) != 0 {
		t.Fatalf("expected blip discarded, got %d segments", len(segs))
	}
	if s.Discarded() != 1 {
		t.Fatalf("expected 1 discarded segment, got %d", s.Discarded())
	}
}

func TestFlushBypassesMinimumDuration(t *testing.T) {
	s := New(Config{
		SampleRate: 8000,
		Policy:     PolicyEnergy,
		MinSegment: 5 * time.Second,
	})
	s.Write(voicedFrame(400), t0)
	seg, ok := s.Flush(t0.Add(50 * time.Millisecond))
	if !ok {
		t.Fatalf("expected final flush to emit pending audio")
	}
	if len(seg.Payload) != 400 {
		t.Fatalf("expected 400-byte final segment, got %d", len(seg.Payload))
	}
	if !s.Flushed() {
		t.Fatalf("expected terminal state after flush")
	}
}

func TestFlushEmptyBuffer(t *testing.T) {
	s := New(Config{SampleRate: 8000})
	if _, ok := s.Flush(t0); ok {
		t.Fatalf("expected no segment from empty flush")
	}
	if segs := s.Write(make([]byte, 8000), t0); segs != nil {
		t.Fatalf("expected writes ignored after flush")
	}
}
