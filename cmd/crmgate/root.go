package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/prospectcrm/crmgate/internal/config"
)

type rootOptions struct {
	debug bool
	env   config.Env
	log   *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "crmgate",
		Short: "Session and authorization gateway for the CRM web front-end",
		Long: `crmgate binds browser sessions to the CRM backend, restores each session
once, and gates every page by authentication and role.

Configuration is read from CRMGATE_* environment variables; flags override them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			env, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			opts.env = env

			log, err := newLogger(env.LogLevel, opts.debug)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.log = log
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "development logging at debug level")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newLintCmd(opts))
	return root
}

// newLogger builds the production logger at level, or the development
// logger at debug level when debug is set.
func newLogger(level string, debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}
