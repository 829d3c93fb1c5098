package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"streamloop/pkg/agent"
	"streamloop/pkg/config"
	"streamloop/pkg/memory"
	"streamloop/pkg/prompt"
	"streamloop/pkg/provider"
	"streamloop/pkg/resource"
	"streamloop/pkg/telemetry"
	"streamloop/pkg/tool"
	"streamloop/pkg/types"
)

type runFlags struct {
	threadID  string
	resources []string
	vars      []string
	provider  string
	model     string
	noTools   bool
}

func buildRunCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one turn and stream the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			if flags.provider != "" {
				cfg.Provider.Name = flags.provider
			}
			if flags.model != "" {
				cfg.Provider.Model = flags.model
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCommand(ctx, cfg, logger, flags, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.threadID, "thread", "default", "Conversation thread to continue")
	cmd.Flags().StringArrayVar(&flags.resources, "resource", nil, "Attach a resource as server=uri (repeatable)")
	cmd.Flags().StringArrayVar(&flags.vars, "var", nil, "System prompt variable as key=value (repeatable)")
	cmd.Flags().StringVar(&flags.provider, "provider", "", "Override the configured provider")
	cmd.Flags().StringVar(&flags.model, "model", "", "Override the configured model")
	cmd.Flags().BoolVar(&flags.noTools, "no-tools", false, "Do not offer the built-in tools")
	return cmd
}

func runCommand(ctx context.Context, cfg config.Config, logger *slog.Logger, flags *runFlags, text string, out io.Writer) error {
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	if cfg.Telemetry.MetricsAddr != "" {
		srv := serveMetrics(cfg.Telemetry.MetricsAddr, reg, logger)
		defer srv.Close()
	}

	llm, release, err := buildProvider(ctx, cfg.Provider, logger)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}
	defer release()

	fetchers, mcpClients, err := buildFetchers(ctx, cfg.Resources)
	if err != nil {
		return err
	}
	defer mcpClients.Close()

	store, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	ag, err := agent.New(agent.Config{
		Provider:         llm,
		Fetchers:         fetchers,
		FetchConcurrency: cfg.Agent.FetchConcurrency,
		SystemPrompt:     prompt.NewTemplate(cfg.Agent.SystemPrompt),
		Options:          providerOptions(cfg.Provider),
		Logger:           logger,
		Metrics:          agent.NewMetrics(reg),
		OnState: func(s agent.State) {
			logger.Debug("agent state", "state", s.String())
		},
	})
	if err != nil {
		return err
	}

	refs, err := parseResources(flags.resources)
	if err != nil {
		return err
	}
	vars, err := parseVars(flags.vars)
	if err != nil {
		return err
	}

	var catalog *tool.Catalog
	if !flags.noTools {
		if catalog, err = builtinCatalog(); err != nil {
			return err
		}
	}

	return runTurn(ctx, turn{
		agent: ag,
		prefetcher: resource.NewPrefetcher(fetchers,
			resource.WithConcurrency(cfg.Agent.FetchConcurrency),
			resource.WithLogger(logger),
		),
		store:    store,
		catalog:  catalog,
		threadID: flags.threadID,
		text:     text,
		refs:     refs,
		vars:     vars,
		interval: cfg.Agent.ThrottleInterval,
		logger:   logger,
	}, out)
}

type turn struct {
	agent      *agent.Agent
	prefetcher *resource.Prefetcher
	store      memory.Store
	catalog    *tool.Catalog
	threadID   string
	text       string
	refs       []types.ResourceRef
	vars       map[string]any
	interval   time.Duration
	logger     *slog.Logger
}

// runTurn appends the user message to the thread, streams the reply to out
// and persists every forwarded decision. The stored user message carries the
// flattened text of its resources; binary bodies keep only their placeholder.
func runTurn(ctx context.Context, t turn, out io.Writer) error {
	history, err := t.store.History(ctx, t.threadID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	// Resources are resolved before the user message is stored, so the
	// thread keeps their content for later turns and a failed fetch leaves
	// no trace.
	user := userEvent(uuid.NewString(), t.text, t.refs)
	if len(t.refs) > 0 {
		pf := t.prefetcher
		if pf == nil {
			pf = resource.NewPrefetcher(nil)
		}
		resolved, err := pf.Prefetch(ctx, []types.Event{user})
		if err != nil {
			return fmt.Errorf("resolve resources: %w", err)
		}
		user = resolved[0]
	}
	if err := t.store.Save(ctx, t.threadID, types.MessageDecision{
		ID:      user.ID,
		Role:    types.RoleUser,
		Message: types.FlattenContent(user.Content),
	}); err != nil {
		return fmt.Errorf("save user message: %w", err)
	}

	req := agent.Request{
		Messages:   append(memory.Events(history), user),
		PromptVars: t.vars,
	}
	if t.catalog != nil {
		req.Tools = t.catalog.Definitions()
	}

	p := newPrinter(out)
	sink := agent.MultiSink(p, memory.ThreadSink{Store: t.store, ThreadID: t.threadID})
	err = agent.Forward(ctx, t.agent.Run(ctx, req), sink, agent.WithInterval(t.interval))
	p.finish()
	if err != nil {
		return err
	}

	if t.catalog != nil {
		for _, d := range p.toolCalls() {
			if verr := t.catalog.Validate(d.ToolCallRequest); verr != nil {
				t.logger.Warn("tool call rejected", "tool", d.ToolCallRequest.ToolName, "error", verr)
			}
		}
	}
	return nil
}

func userEvent(id, text string, refs []types.ResourceRef) types.Event {
	content := types.Text(text)
	for i := range refs {
		content = append(content, types.ContentPart{Type: types.PartResource, Resource: &refs[i]})
	}
	return types.Event{ID: id, Role: string(types.RoleUser), Content: content}
}

func providerOptions(cfg config.Provider) []provider.Option {
	var opts []provider.Option
	if cfg.MaxTokens > 0 {
		opts = append(opts, provider.WithMaxTokens(cfg.MaxTokens))
	}
	return opts
}

func parseResources(specs []string) ([]types.ResourceRef, error) {
	refs := make([]types.ResourceRef, 0, len(specs))
	for _, s := range specs {
		key, uri, ok := strings.Cut(s, "=")
		if !ok || key == "" || uri == "" {
			return nil, fmt.Errorf("invalid --resource %q: want server=uri", s)
		}
		refs = append(refs, types.ResourceRef{ServerKey: key, URI: uri})
	}
	return refs, nil
}

func parseVars(specs []string) (map[string]any, error) {
	vars := make(map[string]any, len(specs))
	for _, s := range specs {
		key, val, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: want key=value", s)
		}
		vars[key] = val
	}
	return vars, nil
}

type storeCloser func() error

func openStore(ctx context.Context, cfg config.Storage) (memory.Store, storeCloser, error) {
	if cfg.Path == "" {
		return memory.NewInMemory(), func() error { return nil }, nil
	}
	s, err := openSQLite(ctx, cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}
