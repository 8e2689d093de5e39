// Package mock provides an in-memory transport for tests and local
// runs without any network dependency.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/mzaldivar/centralita/pkg/frames"
)

// Transport queues injected inbound frames and records outbound frames.
// Push blocks when the inbound buffer is full, mirroring the
// backpressure a real media stream applies.
type Transport struct {
	recvCh chan frames.Frame
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	sent   []frames.Frame
}

func New() *Transport {
	return &Transport{
		recvCh: make(chan frames.Frame, 256),
		done:   make(chan struct{}),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	close(t.recvCh)
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

// Send records the outbound frame. Frames sent while draining are still
// recorded so tests can assert on transcripts emitted during shutdown.
func (t *Transport) Send(f frames.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, f)
	return nil
}

// Push injects an inbound frame, blocking until the engine consumes it
// or the transport stops. The send happens under the mutex so Stop can
// never close the channel out from under an in-flight Push.
func (t *Transport) Push(f frames.Frame) {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		select {
		case t.recvCh <- f:
			t.mu.Unlock()
			return
		default:
		}
		t.mu.Unlock()
		select {
		case <-t.done:
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// Sent returns a copy of the outbound frames recorded so far.
func (t *Transport) Sent() []frames.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]frames.Frame, len(t.sent))
	copy(out, t.sent)
	return out
}
