package agent

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"streamloop/pkg/throttle"
	"streamloop/pkg/types"
)

// DefaultForwardInterval is the per-key cooldown used by Forward.
const DefaultForwardInterval = 100 * time.Millisecond

// Sink receives throttled decisions, for example a UI push or a history
// store. Send is never called concurrently.
type Sink interface {
	Send(ctx context.Context, d types.MessageDecision) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, d types.MessageDecision) error

func (f SinkFunc) Send(ctx context.Context, d types.MessageDecision) error { return f(ctx, d) }

// MultiSink sends each decision to every sink in order and returns the
// first error.
func MultiSink(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, d types.MessageDecision) error {
		for _, s := range sinks {
			if err := s.Send(ctx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

type forwardConfig struct {
	interval time.Duration
	key      func(types.MessageDecision) string
}

// ForwardOption configures Forward.
type ForwardOption func(*forwardConfig)

// WithInterval sets the per-key cooldown. Zero or less forwards every
// decision unthrottled.
func WithInterval(d time.Duration) ForwardOption {
	return func(c *forwardConfig) { c.interval = d }
}

// WithKey sets how decisions are grouped for throttling. The default groups
// by message id, so successive snapshots of one message coalesce.
func WithKey(fn func(types.MessageDecision) string) ForwardOption {
	return func(c *forwardConfig) {
		if fn != nil {
			c.key = fn
		}
	}
}

// ByToolCallID groups decisions by tool call id, falling back to the
// message id for decisions without one.
func ByToolCallID(d types.MessageDecision) string {
	if d.ToolCallID != "" {
		return d.ToolCallID
	}
	return d.ID
}

// Forward drains seq into sink through a keyed throttle. Pending trailing
// values are flushed when seq ends, including when it ends with an error,
// so the latest state of every key reaches the sink. The first sink error
// stops the iteration.
func Forward(ctx context.Context, seq iter.Seq2[types.MessageDecision, error], sink Sink, opts ...ForwardOption) error {
	cfg := forwardConfig{
		interval: DefaultForwardInterval,
		key:      func(d types.MessageDecision) string { return d.ID },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		mu      sync.Mutex
		sendErr error
	)
	failed := func() error {
		mu.Lock()
		defer mu.Unlock()
		return sendErr
	}

	th := throttle.NewKeyed(func(_ string, d types.MessageDecision) {
		if failed() != nil {
			return
		}
		if err := sink.Send(ctx, d); err != nil {
			mu.Lock()
			sendErr = err
			mu.Unlock()
		}
	}, cfg.interval)
	defer th.Stop()

	for d, err := range seq {
		if err != nil {
			th.Flush()
			return errors.Join(err, failed())
		}
		th.Schedule(cfg.key(d), d)
		if err := failed(); err != nil {
			return err
		}
	}

	th.Flush()
	return failed()
}
