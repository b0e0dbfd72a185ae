package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/modcheck/internal/bootstrap"
	"github.com/kdimtricp/modcheck/internal/config"
	"github.com/kdimtricp/modcheck/internal/logging"
	"github.com/kdimtricp/modcheck/internal/moderation"
)

func main() {
	var (
		configFile string
		envFile    string
		userID     string
		noWait     bool
	)

	cmd := &cobra.Command{
		Use:   "modcheck-moderate <object-key>",
		Short: "Moderate one uploaded object and print its record",
		Long: "Runs the same job the /moderate endpoint runs. Videos are polled " +
			"until the analyzer finishes or the poll budget runs out.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, envFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, moderation.Request{UserID: userID, FileKey: args[0]}, !noWait)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "Path to a config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to a .env file; ignored if missing")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner of the object")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return right after dispatch; the record stays IN_PROGRESS")
	_ = cmd.MarkFlagRequired("user")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, req moderation.Request, wait bool) error {
	logger, closer, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	services, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		// With --no-wait the poll loop is abandoned and the record stays
		// IN_PROGRESS.
		timeout := time.Second
		if !wait {
			timeout = 0
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		services.Close(closeCtx)
	}()

	var result any
	if wait {
		out, err := services.Orchestrator.Submit(ctx, req)
		if err != nil {
			return fmt.Errorf("moderation failed (%s): %w", moderation.ErrorKind(err), err)
		}
		if out.BudgetExceeded {
			fmt.Fprintln(os.Stderr, "Job still in progress; query the record later")
		}
		result = out.Record
	} else {
		job, err := services.Orchestrator.Dispatch(ctx, req)
		if err != nil {
			return fmt.Errorf("moderation failed (%s): %w", moderation.ErrorKind(err), err)
		}
		result = job.Record
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
