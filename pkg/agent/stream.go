package agent

import (
	"context"

	"streamloop/pkg/types"
)

// Chunk is one element of the channel view of a run.
type Chunk struct {
	Decision types.MessageDecision
	Err      error
}

// Stream runs the turn in a goroutine and delivers it over an unbuffered
// channel that is closed when the run ends. Cancelling ctx stops the run
// and closes the provider stream.
func (a *Agent) Stream(ctx context.Context, req Request) <-chan Chunk {
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		for d, err := range a.Run(ctx, req) {
			select {
			case ch <- Chunk{Decision: d, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
