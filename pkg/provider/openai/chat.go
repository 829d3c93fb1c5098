package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"

	"streamloop/pkg/provider"
	"streamloop/pkg/types"
)

// Config contains OpenAI credential and runtime options.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	HTTPClient  *http.Client
	Temperature float64 // Default temperature
}

// ChatModel implements provider.Provider using OpenAI chat completions.
type ChatModel struct {
	name               string
	client             *goopenai.Client
	defaultModel       string
	defaultTemperature float64
}

const (
	defaultTemperature = 0.7
	defaultModel       = goopenai.GPT4oMini
)

// New builds a streaming chat completion provider.
func New(cfg Config) (*ChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}

	return newChatModel("openai", apiCfg, cfg.Model, defaultModel, cfg.Temperature), nil
}

func newChatModel(name string, apiCfg goopenai.ClientConfig, model, fallbackModel string, temp float64) *ChatModel {
	if strings.TrimSpace(model) == "" {
		model = fallbackModel
	}
	if temp == 0 {
		temp = defaultTemperature
	}
	return &ChatModel{
		name:               name,
		client:             goopenai.NewClientWithConfig(apiCfg),
		defaultModel:       model,
		defaultTemperature: temp,
	}
}

func (m *ChatModel) Name() string {
	return m.name
}

func (m *ChatModel) prepareRequest(messages []types.Event, tools []types.ToolDefinition, opts []provider.Option) goopenai.ChatCompletionRequest {
	options := provider.Apply(provider.ChatOptions{
		Model:       m.defaultModel,
		Temperature: m.defaultTemperature,
	}, opts)

	req := goopenai.ChatCompletionRequest{
		Model:       options.Model,
		Messages:    convertMessages(messages),
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
		Stop:        options.Stop,
		Stream:      true,
	}

	if len(tools) > 0 {
		req.Tools = make([]goopenai.Tool, len(tools))
		for i, t := range tools {
			typ := t.Type
			if typ == "" {
				typ = string(goopenai.ToolTypeFunction)
			}
			req.Tools[i] = goopenai.Tool{
				Type: goopenai.ToolType(typ),
				Function: &goopenai.FunctionDefinition{
					Name:        t.Function.Name,
					Description: t.Function.Description,
					Parameters:  t.Function.Parameters,
				},
			}
		}
	}

	return req
}

// Stream implements provider.Provider. Each chunk that changes the reply is
// emitted as a full snapshot of the assistant message so far.
func (m *ChatModel) Stream(ctx context.Context, messages []types.Event, tools []types.ToolDefinition, opts ...provider.Option) (provider.EventStream, error) {
	req := m.prepareRequest(messages, tools, opts)

	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: open stream: %w", m.name, err)
	}

	parentID := ""
	if n := len(messages); n > 0 {
		parentID = messages[n-1].ID
	}

	return provider.NewChanStream(ctx, func(ctx context.Context, emit provider.Emit) error {
		defer stream.Close()

		var snap *provider.Snapshot
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if snap != nil && snap.CloseToolCalls() {
					return emit(snap.Event())
				}
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", m.name, err)
			}
			if len(resp.Choices) == 0 {
				continue
			}

			if snap == nil {
				id := resp.ID
				if id == "" {
					id = uuid.NewString()
				}
				snap = provider.NewSnapshot(id, parentID)
			}

			delta := resp.Choices[0].Delta
			changed := snap.AppendText(delta.Content)
			if snap.AppendReasoning(delta.ReasoningContent) {
				changed = true
			}
			for i, tc := range delta.ToolCalls {
				index := i
				if tc.Index != nil {
					index = *tc.Index
				}
				if snap.AppendToolCall(index, tc.ID, tc.Function.Name, tc.Function.Arguments) {
					changed = true
				}
			}
			if resp.Choices[0].FinishReason != "" && snap.CloseToolCalls() {
				changed = true
			}

			if changed {
				if err := emit(snap.Event()); err != nil {
					return err
				}
			}
		}
	}), nil
}

// convertMessages maps events onto chat completion messages. Events whose
// role has no chat completion equivalent are dropped.
func convertMessages(events []types.Event) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(events))
	for _, ev := range events {
		role, ok := types.MapRole(ev.Role)
		if !ok {
			continue
		}

		msg := goopenai.ChatCompletionMessage{}
		switch role {
		case types.RoleSystem:
			msg.Role = goopenai.ChatMessageRoleSystem
		case types.RoleUser:
			msg.Role = goopenai.ChatMessageRoleUser
		case types.RoleAssistant:
			msg.Role = goopenai.ChatMessageRoleAssistant
			if len(ev.ToolCalls) > 0 {
				msg.ToolCalls = convertToOpenAIToolCalls(ev.ToolCalls)
			}
		case types.RoleTool:
			msg.Role = goopenai.ChatMessageRoleTool
			msg.ToolCallID = ev.ToolCallID
		}

		// Multi-part content is only accepted on user messages.
		if role == types.RoleUser && hasImages(ev.Content) {
			msg.MultiContent = convertParts(ev.Content)
		} else {
			msg.Content = types.FlattenContent(ev.Content)
		}
		out = append(out, msg)
	}
	return out
}

func hasImages(c types.Content) bool {
	for _, p := range c {
		if isImage(p) {
			return true
		}
	}
	return false
}

func isImage(p types.ContentPart) bool {
	return p.Type == types.PartBinary && strings.HasPrefix(p.MIMEType, "image/") && (p.Data != "" || p.URL != "")
}

func convertParts(c types.Content) []goopenai.ChatMessagePart {
	parts := make([]goopenai.ChatMessagePart, 0, len(c))
	for _, p := range c {
		switch {
		case p.Type == types.PartText:
			parts = append(parts, goopenai.ChatMessagePart{Type: goopenai.ChatMessagePartTypeText, Text: p.Text})
		case isImage(p):
			url := p.URL
			if p.Data != "" {
				url = "data:" + p.MIMEType + ";base64," + p.Data
			}
			parts = append(parts, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL:    url,
					Detail: goopenai.ImageURLDetailAuto,
				},
			})
		default:
			parts = append(parts, goopenai.ChatMessagePart{Type: goopenai.ChatMessagePartTypeText, Text: types.Placeholder(p)})
		}
	}
	return parts
}

func convertToOpenAIToolCalls(tcs []types.ToolCall) []goopenai.ToolCall {
	res := make([]goopenai.ToolCall, len(tcs))
	for i, tc := range tcs {
		typ := tc.Type
		if typ == "" {
			typ = string(goopenai.ToolTypeFunction)
		}
		res[i] = goopenai.ToolCall{
			ID:   tc.ID,
			Type: goopenai.ToolType(typ),
			Function: goopenai.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		}
	}
	return res
}

// Ensure interface compliance
var _ provider.Provider = (*ChatModel)(nil)
