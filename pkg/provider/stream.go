package provider

import (
	"context"
	"errors"
	"io"
	"sync"

	"streamloop/pkg/types"
)

// Emit hands one event to the consumer, blocking until it is received.
type Emit func(types.Event) error

// Producer generates events for a stream. It returns when the source is
// exhausted, on error, or when emit fails because the stream was closed.
type Producer func(ctx context.Context, emit Emit) error

type streamItem struct {
	event StreamEvent
	err   error
}

// chanStream runs a producer goroutine over an unbuffered channel, so at
// most one event is in flight between producer and consumer.
type chanStream struct {
	items     chan streamItem
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewChanStream starts produce in its own goroutine and returns the stream
// reading from it. Closing the stream cancels the producer's context and
// waits for it to return.
func NewChanStream(ctx context.Context, produce Producer) EventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &chanStream{
		items:  make(chan streamItem),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.items)

		emit := func(ev types.Event) error {
			select {
			case s.items <- streamItem{event: StreamEvent{Message: ev}}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := produce(ctx, emit)
		if err == nil || errors.Is(err, io.EOF) {
			return
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// Closed by the consumer, nobody is listening.
			return
		}
		select {
		case s.items <- streamItem{err: err}:
		case <-ctx.Done():
		}
	}()

	return s
}

func (s *chanStream) Recv() (StreamEvent, error) {
	item, ok := <-s.items
	if !ok {
		return StreamEvent{}, io.EOF
	}
	if item.err != nil {
		return StreamEvent{}, item.err
	}
	return item.event, nil
}

func (s *chanStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// sliceStream replays a fixed list of events.
type sliceStream struct {
	mu     sync.Mutex
	events []types.Event
	err    error
	closed bool
}

// FromEvents returns a stream that yields events in order and then io.EOF.
func FromEvents(events ...types.Event) EventStream {
	return &sliceStream{events: events}
}

// FromEventsWithError yields events in order and then fails with err.
func FromEventsWithError(err error, events ...types.Event) EventStream {
	return &sliceStream{events: events, err: err}
}

func (s *sliceStream) Recv() (StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return StreamEvent{}, io.EOF
	}
	if len(s.events) == 0 {
		if s.err != nil {
			return StreamEvent{}, s.err
		}
		return StreamEvent{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return StreamEvent{Message: ev}, nil
}

func (s *sliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
