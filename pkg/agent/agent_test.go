package agent

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamloop/pkg/prompt"
	"streamloop/pkg/provider"
	"streamloop/pkg/resource"
	"streamloop/pkg/types"
)

// trackedStream records whether Close was called.
type trackedStream struct {
	provider.EventStream
	mu     sync.Mutex
	closed bool
}

func (s *trackedStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.EventStream.Close()
}

func (s *trackedStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeProvider struct {
	stream  *trackedStream
	openErr error

	mu       sync.Mutex
	opened   int
	messages []types.Event
	tools    []types.ToolDefinition
	options  provider.ChatOptions
}

func newFakeProvider(s provider.EventStream) *fakeProvider {
	return &fakeProvider{stream: &trackedStream{EventStream: s}}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Stream(ctx context.Context, messages []types.Event, tools []types.ToolDefinition, opts ...provider.Option) (provider.EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	f.messages = messages
	f.tools = tools
	f.options = provider.Apply(provider.ChatOptions{}, opts)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

func newAgent(t *testing.T, p provider.Provider, mutate ...func(*Config)) *Agent {
	t.Helper()
	cfg := Config{Provider: p}
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func text(id, role, body string) types.Event {
	return types.Event{ID: id, Role: role, Content: types.Text(body)}
}

func TestNewRequiresProvider(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestRunPreservesOrder(t *testing.T) {
	events := []types.Event{
		text("1", "user", "hi"),
		text("2", "assistant", "hello"),
		text("3", "system", "note"),
		{ID: "4", Role: "tool", ToolCallID: "tc_9", Content: types.Text("result")},
		text("5", "assistant", "done"),
	}
	a := newAgent(t, newFakeProvider(provider.FromEvents(events...)))

	got, err := a.Collect(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, got, 5)

	wantRoles := []types.Role{types.RoleUser, types.RoleAssistant, types.RoleSystem, types.RoleTool, types.RoleAssistant}
	for i, d := range got {
		assert.Equal(t, events[i].ID, d.ID)
		assert.Equal(t, wantRoles[i], d.Role)
		assert.NoError(t, d.Validate())
	}
	assert.Equal(t, "tc_9", got[3].ToolCallID)
	assert.Empty(t, got[0].ToolCallID)
}

func TestRunSkipsUnmappedRoles(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	a := newAgent(t, newFakeProvider(provider.FromEvents(
		text("1", "developer", "x"),
		text("2", "user", "a"),
		text("3", "activity", "y"),
		text("4", "assistant", "b"),
		text("5", "mystery", "z"),
		text("6", "Assistant", "w"),
	)), func(c *Config) { c.Metrics = metrics })

	got, err := a.Collect(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "4", got[1].ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SkippedEvents.WithLabelValues("developer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SkippedEvents.WithLabelValues("activity")))
	// Roles outside the known set share one label value.
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SkippedEvents.WithLabelValues(otherRole)))
	assert.Equal(t, 3, testutil.CollectAndCount(metrics.SkippedEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Decisions.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues(outcomeDone)))
}

func TestRunToolCallPropagation(t *testing.T) {
	ev := types.Event{
		ID:   "a1",
		Role: "assistant",
		ToolCalls: []types.ToolCall{{
			ID:       "tc_1",
			Function: types.FunctionCall{Name: "search", Arguments: `{"q":"x"}`},
		}},
	}
	a := newAgent(t, newFakeProvider(provider.FromEvents(ev)))

	got, err := a.Collect(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tc_1", got[0].ToolCallID)
	assert.Equal(t, &types.ToolCallRequest{
		ToolName:   "search",
		Parameters: []types.ToolParameter{{ParameterName: "q", ParameterValue: "x"}},
	}, got[0].ToolCallRequest)
}

func TestRunMalformedArgumentsDoNotAbort(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	metrics := NewMetrics(nil)

	a := newAgent(t, newFakeProvider(provider.FromEvents(
		types.Event{ID: "a1", Role: "assistant", ToolCalls: []types.ToolCall{{
			ID:       "tc_1",
			Function: types.FunctionCall{Name: "search", Arguments: "{not json"},
		}}},
		text("a2", "assistant", "after"),
	)), func(c *Config) {
		c.Logger = logger
		c.Metrics = metrics
	})

	got, err := a.Collect(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tc_1", got[0].ToolCallID)
	assert.Nil(t, got[0].ToolCallRequest)
	assert.Contains(t, logs.String(), "malformed tool call arguments")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MalformedToolArgs.WithLabelValues("search")))
}

func TestRunPrefetchesBeforeStreaming(t *testing.T) {
	fetches := 0
	fetchers := resource.Fetchers{
		"docs": func(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
			fetches++
			return []mcp.ResourceContents{mcp.TextResourceContents{URI: uri, MIMEType: "text/plain", Text: "body of " + uri}}, nil
		},
	}
	fp := newFakeProvider(provider.FromEvents(text("r1", "assistant", "ok")))

	var states []State
	a := newAgent(t, fp, func(c *Config) {
		c.Fetchers = fetchers
		c.OnState = func(s State) { states = append(states, s) }
	})

	ref := types.ContentPart{Type: types.PartResource, Resource: &types.ResourceRef{ServerKey: "docs", URI: "doc://a"}}
	input := []types.Event{
		{ID: "u1", Role: "user", Content: types.Content{{Type: types.PartText, Text: "see"}, ref}},
		{ID: "u2", Role: "user", Content: types.Content{ref}},
	}

	got, err := a.Collect(context.Background(), Request{Messages: input})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, fetches)

	require.Len(t, fp.messages, 2)
	assert.Equal(t, "see\nbody of doc://a", types.FlattenContent(fp.messages[0].Content))
	assert.Equal(t, types.PartResource, input[0].Content[1].Type, "input is not mutated")

	assert.Equal(t, []State{StatePrefetching, StateStreaming, StateDraining, StateDone}, states)
}

func TestRunUnknownServerFailsBeforeStreamOpens(t *testing.T) {
	fp := newFakeProvider(provider.FromEvents(text("r1", "assistant", "never")))
	var states []State
	a := newAgent(t, fp, func(c *Config) {
		c.OnState = func(s State) { states = append(states, s) }
	})

	input := []types.Event{{ID: "u1", Role: "user", Content: types.Content{{
		Type:     types.PartResource,
		Resource: &types.ResourceRef{ServerKey: "nowhere", URI: "x://y"},
	}}}}

	var decisions int
	var errs []error
	for d, err := range a.Run(context.Background(), Request{Messages: input}) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_ = d
		decisions++
	}

	assert.Zero(t, decisions)
	require.Len(t, errs, 1)
	var unknown *resource.UnknownServerError
	assert.ErrorAs(t, errs[0], &unknown)
	assert.Zero(t, fp.opened)
	assert.Equal(t, []State{StatePrefetching, StateErrored}, states)
}

func TestRunFetchFailurePropagates(t *testing.T) {
	boom := errors.New("fetch down")
	fp := newFakeProvider(provider.FromEvents())
	a := newAgent(t, fp, func(c *Config) {
		c.Fetchers = resource.Fetchers{"docs": func(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
			return nil, boom
		}}
	})

	_, err := a.Collect(context.Background(), Request{Messages: []types.Event{{
		ID: "u1", Role: "user",
		Content: types.Content{{Type: types.PartResource, Resource: &types.ResourceRef{ServerKey: "docs", URI: "d://1"}}},
	}}})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, fp.opened)
}

func TestRunMidStreamErrorKeepsEarlierDecisions(t *testing.T) {
	boom := errors.New("connection reset")
	metrics := NewMetrics(nil)
	a := newAgent(t, newFakeProvider(provider.FromEventsWithError(boom,
		text("1", "user", "a"),
		text("2", "assistant", "b"),
	)), func(c *Config) { c.Metrics = metrics })

	got, err := a.Collect(context.Background(), Request{})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, got, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues(outcomeError)))
}

func TestRunOpenError(t *testing.T) {
	fp := newFakeProvider(provider.FromEvents())
	fp.openErr = errors.New("unauthorized")
	a := newAgent(t, fp)

	_, err := a.Collect(context.Background(), Request{})
	assert.ErrorIs(t, err, fp.openErr)
}

func TestRunEarlyExitClosesStream(t *testing.T) {
	fp := newFakeProvider(provider.FromEvents(
		text("1", "user", "a"),
		text("2", "assistant", "b"),
		text("3", "assistant", "c"),
	))
	a := newAgent(t, fp)

	seen := 0
	for _, err := range a.Run(context.Background(), Request{}) {
		require.NoError(t, err)
		seen++
		break
	}
	assert.Equal(t, 1, seen)
	assert.True(t, fp.stream.isClosed())
}

func TestRunIsLazy(t *testing.T) {
	fp := newFakeProvider(provider.FromEvents(text("1", "user", "a")))
	a := newAgent(t, fp)

	seq := a.Run(context.Background(), Request{})
	assert.Zero(t, fp.opened)
	for range seq {
	}
	assert.Equal(t, 1, fp.opened)
	assert.True(t, fp.stream.isClosed())
}

func TestRunSystemPromptAndOptions(t *testing.T) {
	fp := newFakeProvider(provider.FromEvents())
	a := newAgent(t, fp, func(c *Config) {
		c.SystemPrompt = prompt.NewTemplate("You help {{user}}.")
		c.Options = []provider.Option{provider.WithModel("base"), provider.WithTemperature(0.1)}
	})

	tools := []types.ToolDefinition{{Type: "function", Function: types.FunctionDefinition{Name: "search"}}}
	_, err := a.Collect(context.Background(), Request{
		Messages:   []types.Event{text("u1", "user", "hi")},
		Tools:      tools,
		Options:    []provider.Option{provider.WithModel("override")},
		PromptVars: map[string]any{"user": "Ada"},
	})
	require.NoError(t, err)

	require.Len(t, fp.messages, 2)
	assert.Equal(t, "system", fp.messages[0].Role)
	assert.Equal(t, "You help Ada.", types.FlattenContent(fp.messages[0].Content))
	assert.Equal(t, tools, fp.tools)
	assert.Equal(t, "override", fp.options.Model)
	assert.Equal(t, 0.1, fp.options.Temperature)

	// An explicit system message wins.
	fp2 := newFakeProvider(provider.FromEvents())
	a2 := newAgent(t, fp2, func(c *Config) { c.SystemPrompt = prompt.NewTemplate("ignored") })
	_, err = a2.Collect(context.Background(), Request{Messages: []types.Event{text("s", "system", "mine"), text("u", "user", "hi")}})
	require.NoError(t, err)
	require.Len(t, fp2.messages, 2)
	assert.Equal(t, "mine", types.FlattenContent(fp2.messages[0].Content))
}

func TestStreamChannel(t *testing.T) {
	boom := errors.New("late failure")
	a := newAgent(t, newFakeProvider(provider.FromEventsWithError(boom, text("1", "user", "a"))))

	var chunks []Chunk
	for c := range a.Stream(context.Background(), Request{}) {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "1", chunks[0].Decision.ID)
	assert.ErrorIs(t, chunks[1].Err, boom)
}

func TestStreamChannelCancel(t *testing.T) {
	fp := newFakeProvider(provider.NewChanStream(context.Background(), func(ctx context.Context, emit provider.Emit) error {
		for {
			if err := emit(text("x", "assistant", "tick")); err != nil {
				return err
			}
		}
	}))
	a := newAgent(t, fp)

	ctx, cancel := context.WithCancel(context.Background())
	ch := a.Stream(ctx, Request{})
	<-ch
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.True(t, fp.stream.isClosed())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "prefetching", StatePrefetching.String())
	assert.True(t, StateErrored.Terminal())
	assert.False(t, StateStreaming.Terminal())
	assert.Equal(t, "unknown", State(42).String())
}
