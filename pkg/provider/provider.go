package provider

import (
	"context"

	"streamloop/pkg/types"
)

// ChatOptions contains configurable parameters for generation.
type ChatOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
	Stop        []string
}

// Option is a functional option for configuring ChatOptions.
type Option func(*ChatOptions)

func WithTemperature(t float64) Option {
	return func(o *ChatOptions) {
		o.Temperature = t
	}
}

func WithModel(m string) Option {
	return func(o *ChatOptions) {
		o.Model = m
	}
}

func WithMaxTokens(n int) Option {
	return func(o *ChatOptions) {
		o.MaxTokens = n
	}
}

func WithStop(stop ...string) Option {
	return func(o *ChatOptions) {
		o.Stop = stop
	}
}

// Apply folds opts over base.
func Apply(base ChatOptions, opts []Option) ChatOptions {
	for _, o := range opts {
		o(&base)
	}
	return base
}

// StreamEvent wraps one message emitted by a provider stream.
type StreamEvent struct {
	Message types.Event
}

// EventStream is a pull-based sequence of provider events.
// Recv returns io.EOF once the stream is exhausted. Close releases the
// underlying connection and must be safe to call at any point, including
// before the stream is exhausted.
type EventStream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// Provider opens event streams against an LLM backend.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "anthropic").
	Name() string

	// Stream sends the conversation and tool specs and returns the event stream
	// of the model's reply. Tools are passed through without interpretation.
	Stream(ctx context.Context, messages []types.Event, tools []types.ToolDefinition, opts ...Option) (EventStream, error)
}
