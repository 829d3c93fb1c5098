package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"streamloop/pkg/prompt"
	"streamloop/pkg/provider"
	"streamloop/pkg/resource"
	"streamloop/pkg/types"
)

const (
	tracerName     = "streamloop/agent"
	systemPromptID = "system-prompt"
)

// Config describes how an Agent is assembled.
type Config struct {
	Provider provider.Provider

	// Fetchers resolve resource references by server key before each turn.
	Fetchers         resource.Fetchers
	FetchConcurrency int

	// SystemPrompt is rendered and prepended when a conversation does not
	// already open with a system message.
	SystemPrompt prompt.Template

	// Options are applied to every provider call before per-request options.
	Options []provider.Option

	Logger  *slog.Logger
	Metrics *Metrics
	Tracer  trace.Tracer

	// OnState observes state transitions of every run.
	OnState func(State)
}

// Agent turns conversations into streams of message decisions.
// An Agent holds no per-run state and may serve concurrent runs.
type Agent struct {
	provider     provider.Provider
	prefetcher   *resource.Prefetcher
	systemPrompt prompt.Template
	options      []provider.Option
	logger       *slog.Logger
	metrics      *Metrics
	tracer       trace.Tracer
	onState      func(State)
}

// Request is one turn: the conversation so far and the tools on offer.
type Request struct {
	Messages   []types.Event
	Tools      []types.ToolDefinition
	Options    []provider.Option
	PromptVars map[string]any
}

// New builds an Agent and wires defaults.
func New(cfg Config) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent: provider is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Agent{
		provider: cfg.Provider,
		prefetcher: resource.NewPrefetcher(cfg.Fetchers,
			resource.WithConcurrency(cfg.FetchConcurrency),
			resource.WithLogger(logger),
		),
		systemPrompt: cfg.SystemPrompt,
		options:      cfg.Options,
		logger:       logger,
		metrics:      cfg.Metrics,
		tracer:       tracer,
		onState:      cfg.OnState,
	}, nil
}

// Run returns a pull-based sequence of decisions for one turn. Nothing
// happens until the sequence is iterated. Resources are resolved first,
// then the provider stream is opened and each event with a representable
// role is yielded as soon as it arrives. A failure is yielded once as the
// final element; decisions yielded before it remain valid. Stopping the
// iteration early closes the provider stream.
func (a *Agent) Run(ctx context.Context, req Request) iter.Seq2[types.MessageDecision, error] {
	return func(yield func(types.MessageDecision, error) bool) {
		ctx, span := a.tracer.Start(ctx, "agent.run", trace.WithAttributes(
			attribute.String("provider", a.provider.Name()),
			attribute.Int("messages", len(req.Messages)),
			attribute.Int("tools", len(req.Tools)),
		))
		defer span.End()

		state := StateIdle
		transition := func(next State) {
			a.logger.Debug("agent: state transition", "from", state.String(), "to", next.String())
			state = next
			if a.onState != nil {
				a.onState(next)
			}
		}
		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			a.metrics.run(outcomeError)
			transition(StateErrored)
			yield(types.MessageDecision{}, err)
		}

		transition(StatePrefetching)
		messages, err := a.prefetch(ctx, req.Messages)
		if err != nil {
			fail(fmt.Errorf("agent: prefetch: %w", err))
			return
		}
		messages = a.withSystemPrompt(messages, req.PromptVars)

		transition(StateStreaming)
		opts := append(append([]provider.Option{}, a.options...), req.Options...)
		stream, err := a.provider.Stream(ctx, messages, req.Tools, opts...)
		if err != nil {
			fail(fmt.Errorf("agent: open %s stream: %w", a.provider.Name(), err))
			return
		}
		defer stream.Close()

		yielded := 0
		for {
			ev, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				fail(fmt.Errorf("agent: %s stream: %w", a.provider.Name(), err))
				return
			}

			d, ok := Decide(a.logger, ev.Message)
			if !ok {
				a.logger.Debug("agent: skipping event with unmapped role", "id", ev.Message.ID, "role", ev.Message.Role)
				a.metrics.skipped(ev.Message.Role)
				continue
			}
			if malformedToolCall(ev.Message, d) {
				a.metrics.malformed(ev.Message.ToolCalls[0].Function.Name)
			}
			a.metrics.decision(string(d.Role))

			yielded++
			if !yield(d, nil) {
				span.SetAttributes(attribute.Int("decisions", yielded), attribute.Bool("cancelled", true))
				a.metrics.run(outcomeCancelled)
				transition(StateDone)
				return
			}
		}

		transition(StateDraining)
		span.SetAttributes(attribute.Int("decisions", yielded))
		a.metrics.run(outcomeDone)
		transition(StateDone)
	}
}

// Collect drains Run and returns every decision, or the first error along
// with the decisions yielded before it.
func (a *Agent) Collect(ctx context.Context, req Request) ([]types.MessageDecision, error) {
	var out []types.MessageDecision
	for d, err := range a.Run(ctx, req) {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (a *Agent) prefetch(ctx context.Context, messages []types.Event) ([]types.Event, error) {
	ctx, span := a.tracer.Start(ctx, "agent.prefetch")
	defer span.End()

	start := time.Now()
	out, err := a.prefetcher.Prefetch(ctx, messages)
	a.metrics.prefetch(time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// withSystemPrompt prepends the rendered system prompt unless the
// conversation already opens with a system message.
func (a *Agent) withSystemPrompt(messages []types.Event, vars map[string]any) []types.Event {
	if a.systemPrompt.IsZero() {
		return messages
	}
	if len(messages) > 0 && messages[0].Role == string(types.RoleSystem) {
		return messages
	}
	sys := types.Event{
		ID:      systemPromptID,
		Role:    string(types.RoleSystem),
		Content: types.Text(a.systemPrompt.Render(vars)),
	}
	return append([]types.Event{sys}, messages...)
}
