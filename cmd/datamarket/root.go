package main

import (
	"fmt"
	"slices"
	"strings"

	"datamarket/config"
	"datamarket/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "datamarket",
		Short: "Data marketplace settlement engine",
		Long: `datamarket authenticates wallet owners, settles dataset purchases
against the Cardano ledger and verifies ratings and file integrity.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			if cmd.Flags().Changed("log-level") && !slices.Contains(validLogLevels, level) {
				return fmt.Errorf("invalid log level: %s. Valid log levels are: %s", level, strings.Join(validLogLevels, "|"))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a config file (default ./config.yaml or ./config/config.yaml)")
	cmd.PersistentFlags().StringP("log-level", "l", "info", fmt.Sprintf("log level (%s)", strings.Join(validLogLevels, "|")))
	cmd.PersistentFlags().String("storage", config.DriverPostgres, "storage driver (postgres|memory)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newDatasetCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration with the command's flags applied and builds
// the process logger from it.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadWithFlags(o.configPath, cmd.Flags())
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger.New(cfg.Log.Level, cfg.Log.Pretty), nil
}
