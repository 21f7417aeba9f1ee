package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"PMCopilot/internal/app"
	"PMCopilot/internal/config"
	"PMCopilot/internal/logging"
)

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pmcopilot",
		Short:         "Predictive maintenance ingestion and fleet refresh",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (overrides PMCOPILOT_CONFIG)")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the scheduler and the /ws, /metrics and /healthz endpoints",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Refresh the whole fleet once and print the run summary",
			Args:  cobra.NoArgs,
			RunE:  runRefresh,
		},
		&cobra.Command{
			Use:   "predict MACHINE_ID",
			Short: "Fetch the prediction of one machine through the cache",
			Args:  cobra.ExactArgs(1),
			RunE:  runPredict,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the database schema",
			Args:  cobra.NoArgs,
			RunE:  runMigrate,
		},
	)
	return root
}

func load() (config.Config, *slog.Logger) {
	if configPath != "" {
		_ = os.Setenv("PMCOPILOT_CONFIG", configPath)
	}
	cfg := config.Load()
	return cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format)
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.Application) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger := load()
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application init failed", "error", err)
		return err
	}
	defer application.Close()

	if err := fn(ctx, application); err != nil {
		logger.Error("application stopped", "error", err)
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.Application) error {
		return a.Serve(ctx)
	})
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.Application) error {
		summary, err := a.Refresh(ctx)
		if printErr := printJSON(cmd, summary); printErr != nil {
			return printErr
		}
		return err
	})
}

func runPredict(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.Application) error {
		result, err := a.Coordinator.Fetch(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger := load()
	if err := app.Migrate(cmd.Context(), cfg); err != nil {
		logger.Error("migration failed", "error", err)
		return err
	}
	logger.Info("schema applied")
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
