package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"streamloop/pkg/memory"
	"streamloop/pkg/memory/sqlite"
)

func buildHistoryCmd(root *rootFlags) *cobra.Command {
	var threadID string
	var listThreads bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a stored conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			if cfg.Storage.Path == "" {
				return fmt.Errorf("history needs storage.path (or STREAMLOOP_DB_PATH)")
			}
			s, err := openSQLite(cmd.Context(), cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			if listThreads {
				return printThreads(cmd.Context(), s, cmd.OutOrStdout())
			}
			return printHistory(cmd.Context(), s, threadID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "default", "Thread to show")
	cmd.Flags().BoolVar(&listThreads, "threads", false, "List stored threads instead")
	return cmd
}

func openSQLite(ctx context.Context, path string) (*sqlite.Store, error) {
	s, err := sqlite.Open(ctx, sqlite.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return s, nil
}

func printHistory(ctx context.Context, s memory.Store, threadID string, out io.Writer) error {
	history, err := s.History(ctx, threadID)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		_, err = fmt.Fprintf(out, "thread %q is empty\n", threadID)
		return err
	}
	_, err = fmt.Fprintln(out, memory.FormatHistory(history))
	return err
}

func printThreads(ctx context.Context, s *sqlite.Store, out io.Writer) error {
	threads, err := s.Threads(ctx)
	if err != nil {
		return err
	}
	for _, t := range threads {
		if _, err := fmt.Fprintln(out, t); err != nil {
			return err
		}
	}
	return nil
}
