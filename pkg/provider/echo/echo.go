package echo

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"streamloop/pkg/provider"
	"streamloop/pkg/types"
)

// ChatModel is a deterministic echo provider useful for tests and fallbacks.
// It streams the last user message back word by word.
type ChatModel struct {
	Prefix string
	// NewID generates message ids; defaults to uuid.NewString.
	NewID func() string
}

// New returns a new echo provider.
func New(prefix string) *ChatModel {
	return &ChatModel{Prefix: prefix}
}

func (p *ChatModel) Name() string {
	if p.Prefix == "" {
		return "echo"
	}
	return "echo-" + strings.ReplaceAll(p.Prefix, " ", "_")
}

// Stream implements provider.Provider.
func (p *ChatModel) Stream(ctx context.Context, messages []types.Event, tools []types.ToolDefinition, opts ...provider.Option) (provider.EventStream, error) {
	var reply strings.Builder
	if p.Prefix != "" {
		reply.WriteString(strings.TrimSpace(p.Prefix))
		reply.WriteString(" ")
	}

	parentID := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == string(types.RoleUser) {
			reply.WriteString(types.FlattenContent(messages[i].Content))
			parentID = messages[i].ID
			break
		}
	}

	newID := p.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	snap := provider.NewSnapshot(newID(), parentID)
	words := strings.Fields(reply.String())

	return provider.NewChanStream(ctx, func(ctx context.Context, emit provider.Emit) error {
		for i, word := range words {
			if i > 0 {
				word = " " + word
			}
			snap.AppendText(word)
			if err := emit(snap.Event()); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

var _ provider.Provider = (*ChatModel)(nil)
