package openai

import (
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

// OpenRouterConfig contains OpenRouter credential and runtime options.
type OpenRouterConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	HTTPClient  *http.Client
	Temperature float64
	Referer     string // Optional: HTTP-Referer header required by OpenRouter when set in dashboard
	AppName     string // Optional: X-Title header recommended by OpenRouter
}

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	openRouterModel   = "openrouter/auto"
	refererHeaderKey  = "HTTP-Referer"
	appNameHeaderKey  = "X-Title"
)

// NewOpenRouter builds a provider for OpenRouter's OpenAI-compatible API.
func NewOpenRouter(cfg OpenRouterConfig) (*ChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openrouter api key is required")
	}

	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = openRouterBaseURL
	if strings.TrimSpace(cfg.BaseURL) != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	headers := map[string]string{}
	if strings.TrimSpace(cfg.Referer) != "" {
		headers[refererHeaderKey] = cfg.Referer
	}
	if strings.TrimSpace(cfg.AppName) != "" {
		headers[appNameHeaderKey] = cfg.AppName
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}
	if len(headers) > 0 {
		apiCfg.HTTPClient = withHeaders(cfg.HTTPClient, headers)
	}

	return newChatModel("openrouter", apiCfg, cfg.Model, openRouterModel, cfg.Temperature), nil
}

type headerRoundTripper struct {
	headers map[string]string
	base    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.base.RoundTrip(req)
}

// withHeaders wraps the provided HTTP client (or default) to inject headers.
func withHeaders(client *http.Client, headers map[string]string) *http.Client {
	baseClient := client
	if baseClient == nil {
		baseClient = &http.Client{}
	}

	clone := *baseClient
	baseTransport := baseClient.Transport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}
	clone.Transport = &headerRoundTripper{
		headers: headers,
		base:    baseTransport,
	}

	return &clone
}
