// Package anthropic adapts the Anthropic Messages streaming API to
// provider.Provider.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"streamloop/pkg/provider"
	"streamloop/pkg/types"
)

// Config contains Anthropic credential and runtime options.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	HTTPClient  *http.Client
	Temperature float64
	MaxTokens   int
	MaxRetries  int
}

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
)

// ChatModel implements provider.Provider on top of anthropic-sdk-go.
type ChatModel struct {
	client             anthropic.Client
	defaultModel       string
	defaultTemperature float64
	defaultMaxTokens   int
}

// New builds an Anthropic streaming provider.
func New(cfg Config) (*ChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.MaxRetries > 0 {
		options = append(options, option.WithMaxRetries(cfg.MaxRetries))
	} else if cfg.MaxRetries < 0 {
		options = append(options, option.WithMaxRetries(0))
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &ChatModel{
		client:             anthropic.NewClient(options...),
		defaultModel:       model,
		defaultTemperature: cfg.Temperature,
		defaultMaxTokens:   maxTokens,
	}, nil
}

func (m *ChatModel) Name() string {
	return "anthropic"
}

func (m *ChatModel) buildParams(messages []types.Event, tools []types.ToolDefinition, opts []provider.Option) (anthropic.MessageNewParams, error) {
	options := provider.Apply(provider.ChatOptions{
		Model:       m.defaultModel,
		Temperature: m.defaultTemperature,
		MaxTokens:   m.defaultMaxTokens,
	}, opts)
	if options.MaxTokens <= 0 {
		options.MaxTokens = m.defaultMaxTokens
	}

	system, msgs, err := convertMessages(messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		Messages:  msgs,
		MaxTokens: int64(options.MaxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if options.Temperature > 0 {
		params.Temperature = anthropic.Float(options.Temperature)
	}
	if len(options.Stop) > 0 {
		params.StopSequences = options.Stop
	}
	if len(tools) > 0 {
		converted, err := convertTools(tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = converted
	}
	return params, nil
}

// Stream implements provider.Provider.
func (m *ChatModel) Stream(ctx context.Context, messages []types.Event, tools []types.ToolDefinition, opts ...provider.Option) (provider.EventStream, error) {
	params, err := m.buildParams(messages, tools, opts)
	if err != nil {
		return nil, err
	}

	parentID := ""
	if n := len(messages); n > 0 {
		parentID = messages[n-1].ID
	}

	return provider.NewChanStream(ctx, func(ctx context.Context, emit provider.Emit) error {
		stream := m.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		var snap *provider.Snapshot
		ensure := func(id string) {
			if snap != nil {
				return
			}
			if id == "" {
				id = uuid.NewString()
			}
			snap = provider.NewSnapshot(id, parentID)
		}

		for stream.Next() {
			event := stream.Current()
			changed := false

			switch event.Type {
			case "message_start":
				ensure(event.AsMessageStart().Message.ID)

			case "content_block_start":
				ensure("")
				start := event.AsContentBlockStart()
				if start.ContentBlock.Type == "tool_use" {
					toolUse := start.ContentBlock.AsToolUse()
					changed = snap.AppendToolCall(int(start.Index), toolUse.ID, toolUse.Name, "")
				}

			case "content_block_delta":
				ensure("")
				delta := event.AsContentBlockDelta()
				switch delta.Delta.Type {
				case "text_delta":
					changed = snap.AppendText(delta.Delta.Text)
				case "thinking_delta":
					changed = snap.AppendReasoning(delta.Delta.Thinking)
				case "input_json_delta":
					changed = snap.AppendToolCall(int(delta.Index), "", "", delta.Delta.PartialJSON)
				}

			case "content_block_stop":
				if snap != nil {
					changed = snap.CloseToolCall(int(event.AsContentBlockStop().Index))
				}

			case "error":
				return errors.New("anthropic: stream error")
			}

			if changed {
				if err := emit(snap.Event()); err != nil {
					return err
				}
			}
		}

		if err := stream.Err(); err != nil {
			return fmt.Errorf("anthropic: %w", err)
		}
		if snap != nil && snap.CloseToolCalls() {
			return emit(snap.Event())
		}
		return nil
	}), nil
}

// convertMessages splits the system prompt out of the conversation and maps
// the remaining events onto Anthropic message params. Tool replies travel as
// user messages carrying a tool_result block.
func convertMessages(events []types.Event) (string, []anthropic.MessageParam, error) {
	var system []string
	var result []anthropic.MessageParam

	for _, ev := range events {
		role, ok := types.MapRole(ev.Role)
		if !ok {
			continue
		}
		text := types.FlattenContent(ev.Content)

		switch role {
		case types.RoleSystem:
			if text != "" {
				system = append(system, text)
			}

		case types.RoleUser:
			if text == "" {
				continue
			}
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))

		case types.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(ev.ToolCallID, text, false),
			))

		case types.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if text != "" {
				content = append(content, anthropic.NewTextBlock(text))
			}
			for _, tc := range ev.ToolCalls {
				input := map[string]any{}
				if args := strings.TrimSpace(tc.Function.Arguments); args != "" {
					if err := json.Unmarshal([]byte(args), &input); err != nil {
						return "", nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Function.Name, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(content...))
		}
	}

	return strings.Join(system, "\n\n"), result, nil
}

func convertTools(tools []types.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		raw, err := json.Marshal(t.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Function.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if t.Function.Parameters != nil {
			if err := json.Unmarshal(raw, &schema); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Function.Name, err)
			}
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Function.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Function.Name)
		}
		if t.Function.Description != "" {
			toolParam.OfTool.Description = anthropic.String(t.Function.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

var _ provider.Provider = (*ChatModel)(nil)
