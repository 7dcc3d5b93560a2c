// Command plc-server runs the tank system node server and its maintenance
// commands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"plcserver/internal/config"
	"plcserver/internal/core"
	"plcserver/internal/logging"
)

const serviceName = "plc-server"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "plc-server:", err)
		stop()
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	database   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Tank system node server backed by a relational reading log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to the YAML configuration file")
	root.PersistentFlags().StringVarP(&opts.database, "database", "d", config.DefaultSQLitePath, "sqlite database file (overrides storage.sqlite_path)")
	root.AddCommand(newServeCmd(opts), newRecordCmd(opts), newExportCmd(opts))
	return root
}

// load reads the configuration and builds the logger for cmd.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if f := cmd.Flag("database"); f != nil && f.Changed {
		cfg.Storage.SQLitePath = o.database
	}
	lc := cfg.LoggingConfig(serviceName)
	lc.Output = cmd.ErrOrStderr()
	logger, err := logging.New(lc)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// openLog opens the configured backend behind the store lock.
func openLog(ctx context.Context, cfg config.Config) (*core.ReadingLog, error) {
	backend, err := core.OpenReadingBackend(ctx, cfg.StorageOptions())
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}
	return core.NewReadingLog(backend), nil
}
