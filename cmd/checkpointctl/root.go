package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rudihinds/langgraph-agent-sub011/graph/config"
	"github.com/rudihinds/langgraph-agent-sub011/graph/store"
)

type rootFlags struct {
	configPath string
	backend    string
	dsn        string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "checkpointctl",
		Short:         "Inspect and maintain workflow checkpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&flags.backend, "backend", "", "checkpoint backend (memory, sqlite, mysql, redis)")
	root.PersistentFlags().StringVar(&flags.dsn, "dsn", "", "SQLite path or MySQL DSN")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log store activity to stderr")

	root.AddCommand(newThreadsCmd(flags), newSessionsCmd(flags))
	return root
}

// threadStore is a checkpoint store over raw JSON state; the CLI never
// needs to know the workflow's state type.
type threadStore = store.Store[json.RawMessage]

// openStore opens the configured store. The returned close function must be
// called when the command is done.
func openStore(ctx context.Context, flags *rootFlags) (threadStore, *zap.Logger, func(), error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if flags.backend != "" {
		cfg.Checkpointer.Backend = flags.backend
	}
	if flags.dsn != "" {
		cfg.Checkpointer.DSN = flags.dsn
	}

	logger := zap.NewNop()
	if flags.verbose {
		if logger, err = cfg.Logger(); err != nil {
			return nil, nil, nil, err
		}
	}

	opened, err := store.Open[json.RawMessage](ctx, cfg.StoreConfig(nil), logger)
	if err != nil {
		return nil, nil, nil, err
	}
	if opened.Fallback != nil {
		return nil, nil, nil, fmt.Errorf("checkpoint store unavailable: %w", opened.Fallback)
	}
	closeFn := func() {
		if c, ok := opened.Store.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		_ = logger.Sync()
	}
	return opened.Store, logger, closeFn, nil
}
