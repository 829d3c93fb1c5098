package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"streamloop/pkg/config"
	"streamloop/pkg/provider"
	"streamloop/pkg/provider/anthropic"
	"streamloop/pkg/provider/echo"
	"streamloop/pkg/provider/gemini"
	"streamloop/pkg/provider/openai"
	"streamloop/pkg/resource"
)

// fileServerKey is the server key resource references use for local files.
const fileServerKey = "file"

// buildProvider returns the configured provider and a release func. "auto"
// picks the first provider with credentials in the environment and falls
// back to the echo provider.
func buildProvider(ctx context.Context, cfg config.Provider, logger *slog.Logger) (provider.Provider, func() error, error) {
	noop := func() error { return nil }
	name := strings.ToLower(cfg.Name)
	if name == "auto" {
		name, cfg.APIKey = detectProvider(cfg.APIKey)
		logger.Info("provider selected", "provider", name)
	}

	switch name {
	case "openrouter":
		p, err := openai.NewOpenRouter(openai.OpenRouterConfig{
			APIKey:      keyOr(cfg.APIKey, "OPENROUTER_API_KEY"),
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Referer:     cfg.Referer,
			AppName:     cfg.AppName,
		})
		return p, noop, err
	case "openai":
		p, err := openai.New(openai.Config{
			APIKey:      keyOr(cfg.APIKey, "OPENAI_API_KEY"),
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
		return p, noop, err
	case "anthropic":
		p, err := anthropic.New(anthropic.Config{
			APIKey:      keyOr(cfg.APIKey, "ANTHROPIC_API_KEY"),
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		return p, noop, err
	case "gemini":
		p, err := gemini.New(ctx, gemini.Config{
			APIKey:      keyOr(cfg.APIKey, "GEMINI_API_KEY"),
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, noop, err
		}
		return p, p.Close, nil
	case "echo":
		return echo.New("echo"), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown provider %q", cfg.Name)
}

// detectProvider mirrors the precedence of the provider environment keys.
func detectProvider(explicitKey string) (name, key string) {
	for _, c := range []struct{ name, env string }{
		{"openrouter", "OPENROUTER_API_KEY"},
		{"openai", "OPENAI_API_KEY"},
		{"anthropic", "ANTHROPIC_API_KEY"},
		{"gemini", "GEMINI_API_KEY"},
	} {
		if v := os.Getenv(c.env); v != "" {
			return c.name, keyOr(explicitKey, c.env)
		}
	}
	return "echo", explicitKey
}

func keyOr(key, env string) string {
	if key != "" {
		return key
	}
	return os.Getenv(env)
}

// buildFetchers wires the local file fetcher and one MCP client per
// configured server. The returned closer releases the MCP sessions.
func buildFetchers(ctx context.Context, cfg config.Resources) (resource.Fetchers, io.Closer, error) {
	fetchers := resource.Fetchers{fileServerKey: resource.FileFetcher(cfg.FileRoot)}
	var clients closers
	for key, url := range cfg.MCPServers {
		c, err := mcpclient.NewStreamableHttpClient(url)
		if err != nil {
			_ = clients.Close()
			return nil, nil, fmt.Errorf("mcp server %s: %w", key, err)
		}
		clients = append(clients, c)
		if _, err := c.Initialize(ctx, mcp.InitializeRequest{
			Params: mcp.InitializeParams{
				ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
				ClientInfo:      mcp.Implementation{Name: "streamloop", Version: version},
			},
		}); err != nil {
			_ = clients.Close()
			return nil, nil, fmt.Errorf("mcp server %s: initialize: %w", key, err)
		}
		fetchers[key] = resource.MCPFetcher(c)
	}
	return fetchers, clients, nil
}

type closers []io.Closer

func (cs closers) Close() error {
	var first error
	for _, c := range cs {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
