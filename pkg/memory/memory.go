package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"streamloop/pkg/types"
)

// ErrInvalidDecision is returned by Save for decisions that fail validation.
var ErrInvalidDecision = errors.New("memory: invalid decision")

// Store persists decisions per conversation thread. Saving a decision whose
// id is already stored replaces it in place, so snapshots of a streaming
// message keep the position of the first one.
type Store interface {
	Save(ctx context.Context, threadID string, d types.MessageDecision) error
	History(ctx context.Context, threadID string) ([]types.MessageDecision, error)
}

// InMemory is a simple thread-safe store.
type InMemory struct {
	mu      sync.RWMutex
	threads map[string]*thread
}

type thread struct {
	order []types.MessageDecision
	index map[string]int
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{threads: make(map[string]*thread)}
}

// Save upserts d into the thread.
func (m *InMemory) Save(_ context.Context, threadID string, d types.MessageDecision) error {
	if err := d.Validate(); err != nil {
		return errors.Join(ErrInvalidDecision, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[threadID]
	if !ok {
		th = &thread{index: make(map[string]int)}
		m.threads[threadID] = th
	}
	if i, ok := th.index[d.ID]; ok {
		th.order[i] = d
		return nil
	}
	th.index[d.ID] = len(th.order)
	th.order = append(th.order, d)
	return nil
}

// History returns a copy of the thread so callers cannot mutate internal state.
func (m *InMemory) History(_ context.Context, threadID string) ([]types.MessageDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	th, ok := m.threads[threadID]
	if !ok {
		return nil, nil
	}
	out := make([]types.MessageDecision, len(th.order))
	copy(out, th.order)
	return out, nil
}

// Reset clears a thread.
func (m *InMemory) Reset(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
}

// ThreadSink saves every decision it receives into one thread of a Store.
// It satisfies agent.Sink.
type ThreadSink struct {
	Store    Store
	ThreadID string
}

func (s ThreadSink) Send(ctx context.Context, d types.MessageDecision) error {
	return s.Store.Save(ctx, s.ThreadID, d)
}

// Events converts stored decisions back into provider events for the next
// turn. Decisions that cannot be converted are skipped.
func Events(history []types.MessageDecision) []types.Event {
	out := make([]types.Event, 0, len(history))
	for _, d := range history {
		ev, err := d.ToEvent()
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// FormatHistory renders a simple bullet list of the conversation for prompts.
func FormatHistory(history []types.MessageDecision) string {
	if len(history) == 0 {
		return ""
	}
	lines := make([]string, 0, len(history))
	for _, d := range history {
		line := "- " + string(d.Role) + ": " + d.Message
		if d.ToolCallRequest != nil {
			line += " [calls " + d.ToolCallRequest.ToolName + "]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
