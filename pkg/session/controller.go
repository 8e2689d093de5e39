// Package session orchestrates one call end-to-end: it classifies
// inbound frames, drives the segmenter, dispatches segments to the
// transcription backend, and fans finalized transcripts out to the
// sink and the outbound channel.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mzaldivar/centralita/pkg/adapters/stt"
	"github.com/mzaldivar/centralita/pkg/audio"
	"github.com/mzaldivar/centralita/pkg/frames"
	"github.com/mzaldivar/centralita/pkg/logging"
	"github.com/mzaldivar/centralita/pkg/metrics"
	"github.com/mzaldivar/centralita/pkg/redact"
	"github.com/mzaldivar/centralita/pkg/segmenter"
	"github.com/mzaldivar/centralita/pkg/transcripts"
)

type State string

const (
	StateInitializing State = "INITIALIZING"
	StateActive       State = "ACTIVE"
	StateDraining     State = "DRAINING"
	StateClosed       State = "CLOSED"
)

type Mode string

const (
	// ModeBatch sends one transcription request per completed segment.
	ModeBatch Mode = "batch"
	// ModeStreaming feeds audio continuously into a bidirectional
	// transcription stream and reads results asynchronously.
	ModeStreaming Mode = "streaming"
)

// PlaceholderCallID identifies sessions whose start message never
// carried a call identifier. Processing proceeds under it so the audio
// is still transcribed and the gap is diagnosable in logs.
const PlaceholderCallID = "unknown-call"

type Config struct {
	Mode       Mode
	SampleRate int
	// TargetRate resamples decoded PCM before batch transcription when
	// it differs from SampleRate. Zero keeps the native rate.
	TargetRate int
	// Condition enables gain normalization and high-pass filtering of
	// decoded PCM before batch transcription.
	Condition bool
	// QueueSize bounds the segment queue between the frame reader and
	// the batch transcription consumer. A full queue blocks the reader
	// rather than dropping audio.
	QueueSize int
	// SegmentTimeout bounds each batch transcription call.
	SegmentTimeout time.Duration

	Segmenter segmenter.Config
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeBatch
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 8
	}
	if c.SegmentTimeout <= 0 {
		c.SegmentTimeout = 30 * time.Second
	}
	if c.Segmenter.SampleRate <= 0 {
		c.Segmenter.SampleRate = c.SampleRate
	}
	return c
}

// Deps are the injected collaborators for one session. Batch is
// required in ModeBatch, Stream in ModeStreaming. Send forwards text
// over the outbound channel, best-effort; nil disables forwarding.
type Deps struct {
	Batch    stt.BatchTranscriber
	Stream   stt.StreamingSTT
	Sink     transcripts.Sink
	Send     func(frames.Frame) error
	Observer metrics.Observer
}

// Controller runs one call session. It owns all session-scoped state;
// nothing here is shared across sessions.
type Controller struct {
	cfg    Config
	deps   Deps
	seg    *segmenter.Segmenter
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	callID      string
	transcripts int

	segCh chan segmenter.Segment
	wg    sync.WaitGroup
}

func New(deps Deps, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	if deps.Sink == nil {
		deps.Sink = transcripts.NoopSink{}
	}
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		seg:    segmenter.New(cfg.Segmenter),
		logger: logging.NewComponentLogger(slog.Default(), "session"),
		state:  StateInitializing,
		callID: PlaceholderCallID,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

// Transcripts reports how many finalized transcripts were emitted.
func (c *Controller) Transcripts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcripts
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run consumes inbound frames until a stop frame arrives, the channel
// closes, or ctx is cancelled, then drains and tears down. It always
// logs session end; errors inside the loop are contained per message.
func (c *Controller) Run(ctx context.Context, in <-chan frames.Frame) error {
	start := time.Now()
	defer func() {
		c.setState(StateClosed)
		if n := c.seg.Discarded(); n > 0 {
			c.deps.Observer.RecordEvent(metrics.MetricsEvent{
				Name:  metrics.EventSegmentDiscarded,
				Time:  time.Now(),
				Value: float64(n),
				Tags:  map[string]string{frames.MetaCallSID: c.CallID()},
			})
		}
		c.deps.Observer.RecordEvent(metrics.MetricsEvent{
			Name:  metrics.EventSessionClosed,
			Time:  time.Now(),
			Value: time.Since(start).Seconds(),
			Tags:  map[string]string{frames.MetaCallSID: c.CallID()},
		})
		c.logger.Info("session ended",
			"call_sid", c.CallID(),
			"duration", time.Since(start),
			"transcripts", c.Transcripts(),
			"discarded_segments", c.seg.Discarded(),
		)
	}()

	if err := c.startWorkers(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.drain(ctx, "context_cancelled")
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				c.drain(ctx, "transport_closed")
				return nil
			}
			if stop := c.handle(ctx, f); stop {
				c.drain(ctx, "stop_event")
				return nil
			}
		}
	}
}

func (c *Controller) startWorkers(ctx context.Context) error {
	switch c.cfg.Mode {
	case ModeStreaming:
		if err := c.deps.Stream.Start(ctx); err != nil {
			return err
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.consumeResults()
		}()
	default:
		c.segCh = make(chan segmenter.Segment, c.cfg.QueueSize)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for seg := range c.segCh {
				c.transcribeSegment(ctx, seg)
			}
		}()
	}
	return nil
}

// handle dispatches one inbound frame. It returns true when the frame
// ends the session.
func (c *Controller) handle(ctx context.Context, f frames.Frame) bool {
	switch fr := f.(type) {
	case frames.SystemFrame:
		return c.handleSystem(fr)
	case frames.AudioFrame:
		c.handleAudio(ctx, fr)
	case frames.ControlFrame:
		c.logger.Debug("control frame ignored",
			"call_sid", c.CallID(), "code", string(fr.Code()), "digit", fr.Meta()[frames.MetaDTMFDigit])
	default:
		c.logger.Warn("unexpected frame kind", "call_sid", c.CallID(), "kind", string(f.Kind()))
	}
	return false
}

func (c *Controller) handleSystem(f frames.SystemFrame) bool {
	switch f.Name() {
	case frames.SystemConnected:
		// Provider connectivity acknowledgement, nothing to do yet.
		return false
	case frames.SystemStreamStart:
		c.mu.Lock()
		if sid := f.Meta()[frames.MetaCallSID]; sid != "" {
			c.callID = sid
		}
		c.state = StateActive
		c.mu.Unlock()
		c.logger.Info("session started", "call_sid", c.CallID(), "from", f.Meta()[frames.MetaFromNumber])
		return false
	case frames.SystemStreamStop, frames.SystemDisconnected:
		return true
	default:
		c.logger.Debug("unknown system event ignored", "call_sid", c.CallID(), "event", f.Name())
		return false
	}
}

func (c *Controller) handleAudio(ctx context.Context, f frames.AudioFrame) {
	c.mu.Lock()
	if c.state == StateInitializing {
		// Audio before an identifying start message still gets
		// processed under the placeholder identifier.
		c.state = StateActive
	}
	c.mu.Unlock()

	payload := f.RawPayload()
	if c.cfg.Mode == ModeStreaming {
		if err := c.deps.Stream.SendAudio(f); err != nil {
			c.logger.Warn("stream send failed", "call_sid", c.CallID(), "error", err)
		}
		return
	}

	segments := c.seg.Write(payload, time.Now())
	frames.ReleaseAudioFrame(f)
	for _, seg := range segments {
		c.enqueue(ctx, seg)
	}
}

// enqueue blocks when the queue is full so a slow transcription
// backend applies backpressure to the reader instead of growing memory
// without bound.
func (c *Controller) enqueue(ctx context.Context, seg segmenter.Segment) {
	c.deps.Observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventSegmentEmitted,
		Time:  time.Now(),
		Value: seg.End.Sub(seg.Start).Seconds(),
		Tags:  map[string]string{frames.MetaCallSID: c.CallID()},
	})
	select {
	case c.segCh <- seg:
	case <-ctx.Done():
	}
}

// drain flushes pending audio through the pipeline, stops the workers,
// and waits for in-flight results before returning.
func (c *Controller) drain(ctx context.Context, reason string) {
	c.setState(StateDraining)
	c.logger.Info("session draining", "call_sid", c.CallID(), "reason", reason)

	if c.cfg.Mode == ModeStreaming {
		if err := c.deps.Stream.Close(); err != nil {
			c.logger.Warn("stream close failed", "call_sid", c.CallID(), "error", err)
		}
		c.wg.Wait()
		return
	}

	if seg, ok := c.seg.Flush(time.Now()); ok {
		c.enqueue(ctx, seg)
	}
	close(c.segCh)
	c.wg.Wait()
}

// transcribeSegment runs the batch pipeline for one segment: decode,
// optionally resample and condition, wrap as WAV, transcribe, emit.
// Every failure is contained; a failed segment yields no transcript.
func (c *Controller) transcribeSegment(ctx context.Context, seg segmenter.Segment) {
	pcm, err := audio.DecodeMuLaw(seg.Payload)
	if err != nil {
		c.logger.Warn("segment decode failed", "call_sid", c.CallID(), "error", err)
		return
	}
	rate := c.cfg.SampleRate
	if c.cfg.TargetRate > 0 && c.cfg.TargetRate != rate {
		pcm, err = audio.Resample(pcm, rate, c.cfg.TargetRate)
		if err != nil {
			c.logger.Warn("segment resample failed", "call_sid", c.CallID(), "error", err)
			return
		}
		rate = c.cfg.TargetRate
	}
	if c.cfg.Condition {
		pcm, err = audio.Condition(pcm, audio.ConditionConfig{SampleRate: rate})
		if err != nil {
			c.logger.Warn("segment conditioning failed", "call_sid", c.CallID(), "error", err)
			return
		}
	}

	tctx, cancel := context.WithTimeout(ctx, c.cfg.SegmentTimeout)
	defer cancel()
	text, err := c.deps.Batch.Transcribe(tctx, audio.WAV(pcm, rate))
	if err != nil {
		// Timeouts, connection failures, and backend errors all mean
		// the same thing here: no transcript for this segment. Never
		// retried, so result order is preserved.
		c.logger.Warn("transcription failed", "call_sid", c.CallID(), "error", err)
		return
	}
	c.emit(ctx, strings.TrimSpace(text), seg.Start, seg.End)
}

// consumeResults drains the streaming backend until its results
// channel closes, forwarding only finalized transcripts.
func (c *Controller) consumeResults() {
	var lastEnd time.Time
	for f := range c.deps.Stream.Results() {
		tf, ok := f.(frames.TextFrame)
		if !ok {
			continue
		}
		if tf.Meta()[frames.MetaIsFinal] != "true" {
			continue
		}
		start := lastEnd
		end := time.Unix(0, tf.PTS())
		if start.IsZero() || end.Before(start) {
			start = end
		}
		lastEnd = end
		c.emit(context.Background(), strings.TrimSpace(tf.Text()), start, end)
	}
}

// emit persists and forwards one finalized transcript. Whitespace-only
// text counts as no speech and is suppressed. Sink failures are logged
// and never abort the session.
func (c *Controller) emit(ctx context.Context, text string, start, end time.Time) {
	if text == "" {
		c.deps.Observer.RecordEvent(metrics.MetricsEvent{
			Name: metrics.EventTranscriptEmpty,
			Time: time.Now(),
			Tags: map[string]string{frames.MetaCallSID: c.CallID()},
		})
		return
	}

	c.mu.Lock()
	c.transcripts++
	callID := c.callID
	c.mu.Unlock()

	c.deps.Observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventTranscriptFinal,
		Time: time.Now(),
		Tags: map[string]string{frames.MetaCallSID: callID},
	})
	c.logger.Info("transcript", "call_sid", callID, "text", redact.Text(text))

	tr := transcripts.Transcript{CallID: callID, StartTS: start, EndTS: end, Text: text}
	if err := c.deps.Sink.Write(ctx, tr); err != nil {
		c.deps.Observer.RecordEvent(metrics.MetricsEvent{
			Name: metrics.EventSinkError,
			Time: time.Now(),
			Tags: map[string]string{frames.MetaCallSID: callID},
		})
		c.logger.Warn("sink write failed", "call_sid", callID, "error", err)
	}

	if c.deps.Send != nil {
		out := frames.NewTextFrame(callID, end.UnixNano(), text, map[string]string{
			frames.MetaCallSID: callID,
			frames.MetaIsFinal: "true",
			frames.MetaSource:  "session",
		})
		if err := c.deps.Send(out); err != nil {
			c.logger.Debug("outbound send failed", "call_sid", callID, "error", err)
		}
	}
}
