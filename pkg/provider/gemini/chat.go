package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"streamloop/pkg/provider"
	"streamloop/pkg/types"
)

// Config contains Gemini credential and runtime options.
type Config struct {
	APIKey      string
	Model       string // e.g., "gemini-1.5-flash"
	Temperature float64
}

// ChatModel implements provider.Provider using Google Gemini.
type ChatModel struct {
	client             *genai.Client
	defaultModel       string
	defaultTemperature float64
}

const (
	defaultModel       = "gemini-1.5-flash"
	defaultTemperature = 0.5
)

// New builds a Gemini streaming provider.
func New(ctx context.Context, cfg Config) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}

	temp := cfg.Temperature
	if temp == 0 {
		temp = defaultTemperature
	}

	return &ChatModel{
		client:             client,
		defaultModel:       modelName,
		defaultTemperature: temp,
	}, nil
}

func (m *ChatModel) Name() string {
	return "gemini"
}

// Close releases the underlying client connection.
func (m *ChatModel) Close() error {
	return m.client.Close()
}

// Stream implements provider.Provider.
func (m *ChatModel) Stream(ctx context.Context, messages []types.Event, tools []types.ToolDefinition, opts ...provider.Option) (provider.EventStream, error) {
	conv, err := convertConversation(messages)
	if err != nil {
		return nil, err
	}

	options := provider.Apply(provider.ChatOptions{
		Model:       m.defaultModel,
		Temperature: m.defaultTemperature,
	}, opts)

	gm := m.client.GenerativeModel(options.Model)
	gm.SetTemperature(float32(options.Temperature))
	if options.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(options.MaxTokens))
	}
	if options.TopP > 0 {
		gm.SetTopP(float32(options.TopP))
	}
	if len(options.Stop) > 0 {
		gm.StopSequences = options.Stop
	}
	gm.SystemInstruction = conv.system
	if len(tools) > 0 {
		converted, err := convertTools(tools)
		if err != nil {
			return nil, err
		}
		gm.Tools = converted
	}

	cs := gm.StartChat()
	cs.History = conv.history

	return provider.NewChanStream(ctx, func(ctx context.Context, emit provider.Emit) error {
		iter := cs.SendMessageStream(ctx, conv.last...)
		snap := provider.NewSnapshot(uuid.NewString(), conv.parentID)
		calls := 0

		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("gemini: %w", err)
			}

			if applyResponse(snap, resp, &calls) {
				if err := emit(snap.Event()); err != nil {
					return err
				}
			}
		}
	}), nil
}

// conversation is a message list split the way a chat session wants it.
type conversation struct {
	system   *genai.Content
	history  []*genai.Content
	last     []genai.Part
	parentID string
}

// convertConversation maps events onto Gemini contents. System events go to
// the system instruction, assistant events use the "model" role, and tool
// replies become function responses named after the call they answer.
func convertConversation(events []types.Event) (conversation, error) {
	var conv conversation
	var systemParts []genai.Part
	callNames := map[string]string{}
	var contents []*genai.Content

	for _, ev := range events {
		role, ok := types.MapRole(ev.Role)
		if !ok {
			continue
		}
		conv.parentID = ev.ID

		switch role {
		case types.RoleSystem:
			if text := types.FlattenContent(ev.Content); text != "" {
				systemParts = append(systemParts, genai.Text(text))
			}

		case types.RoleUser:
			parts := toParts(ev.Content)
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: parts})

		case types.RoleAssistant:
			parts := toParts(ev.Content)
			for _, tc := range ev.ToolCalls {
				callNames[tc.ID] = tc.Function.Name
				args := map[string]any{}
				if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
					if err := json.Unmarshal([]byte(raw), &args); err != nil {
						return conv, fmt.Errorf("gemini: invalid tool call input for %s: %w", tc.Function.Name, err)
					}
				}
				parts = append(parts, genai.FunctionCall{Name: tc.Function.Name, Args: args})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})

		case types.RoleTool:
			name := callNames[ev.ToolCallID]
			if name == "" {
				name = ev.ToolCallID
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     name,
					Response: map[string]any{"content": types.FlattenContent(ev.Content)},
				}},
			})
		}
	}

	if len(systemParts) > 0 {
		conv.system = &genai.Content{Parts: systemParts}
	}
	if len(contents) == 0 {
		return conv, errors.New("gemini: no messages to send")
	}
	conv.history = contents[:len(contents)-1]
	conv.last = contents[len(contents)-1].Parts
	return conv, nil
}

func toParts(c types.Content) []genai.Part {
	var parts []genai.Part
	for _, p := range c {
		switch {
		case p.Type == types.PartText:
			if p.Text != "" {
				parts = append(parts, genai.Text(p.Text))
			}
		case p.Type == types.PartBinary && strings.HasPrefix(p.MIMEType, "image/") && p.Data != "":
			parts = append(parts, genai.Blob{MIMEType: p.MIMEType, Data: decodeBase64(p.Data)})
		default:
			parts = append(parts, genai.Text(types.Placeholder(p)))
		}
	}
	return parts
}

// applyResponse folds one streamed response into snap. calls counts the
// function calls seen so far, since Gemini sends each call whole.
func applyResponse(snap *provider.Snapshot, resp *genai.GenerateContentResponse, calls *int) bool {
	if resp == nil || len(resp.Candidates) == 0 {
		return false
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return false
	}

	changed := false
	for _, part := range cand.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if snap.AppendText(string(p)) {
				changed = true
			}
		case genai.FunctionCall:
			args, err := json.Marshal(p.Args)
			if err != nil || p.Args == nil {
				args = []byte("{}")
			}
			snap.SetToolCall(*calls, types.ToolCall{
				ID:       "call_" + uuid.NewString(),
				Function: types.FunctionCall{Name: p.Name, Arguments: string(args)},
			})
			*calls++
			changed = true
		}
	}
	return changed
}
