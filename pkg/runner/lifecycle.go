package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDrainTimeout is returned when in-flight calls did not finish
// draining within the configured window.
var ErrDrainTimeout = errors.New("drain timeout")

// LifecycleRunner drives a Drainer through New -> Starting -> Running ->
// Draining -> Stopped. Run blocks until the context is cancelled or Stop
// is called, then drains with a bounded wait.
type LifecycleRunner struct {
	state        int32
	ctx          context.Context
	cancel       context.CancelFunc
	onceStop     sync.Once
	hooks        Hooks
	drainer      Drainer
	stopErr      error
	drainTimeout time.Duration
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, drainTimeout time.Duration) *LifecycleRunner {
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleRunner{
		state:        int32(StateNew),
		ctx:          ctx,
		cancel:       cancel,
		hooks:        hooks,
		drainer:      drainer,
		drainTimeout: drainTimeout,
	}
}

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errors.New("runner already started")
	}
	PrintBanner()
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)
	<-r.ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.drainer != nil {
			done := make(chan error, 1)
			go func() { done <- r.drainer.Drain() }()
			select {
			case err := <-done:
				r.stopErr = err
			case <-time.After(r.drainTimeout):
				r.stopErr = ErrDrainTimeout
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
