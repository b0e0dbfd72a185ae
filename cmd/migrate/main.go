package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/modcheck/internal/awsclient"
	"github.com/kdimtricp/modcheck/internal/config"
	"github.com/kdimtricp/modcheck/internal/database"
	"github.com/kdimtricp/modcheck/internal/dynamo"
	"github.com/kdimtricp/modcheck/internal/logging"
)

func main() {
	var (
		configFile     string
		envFile        string
		migrationsPath string
		status         bool
	)

	cmd := &cobra.Command{
		Use:   "modcheck-migrate",
		Short: "Prepare the record store",
		Long: "Applies SQL migrations for the sql store backend, or creates the " +
			"DynamoDB table and owner index for the dynamodb backend.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, envFile)
			if err != nil {
				return err
			}
			logger, closer, err := logging.New(cfg.LoggingConfig())
			if err != nil {
				return err
			}
			defer closer.Close()
			slog.SetDefault(logger)

			if cfg.Store.Backend == config.StoreDynamoDB {
				return createTable(cmd.Context(), cfg, logger)
			}
			return migrateSQL(cmd.Context(), cfg, migrationsPath, status)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "Path to a config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to a .env file; ignored if missing")
	cmd.Flags().StringVar(&migrationsPath, "migrations", "", "Directory of migrations (defaults to the embedded set)")
	cmd.Flags().BoolVar(&status, "status", false, "Show migration status only")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func migrateSQL(ctx context.Context, cfg *config.Config, migrationsPath string, status bool) error {
	dbConfig := cfg.DatabaseConfig()
	db, err := database.NewDB(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	fsys, err := database.MigrationsFS(migrationsPath)
	if err != nil {
		return err
	}
	migrator := database.NewMigrator(db.Conn(), dbConfig.Type)

	if !status {
		fmt.Println("Running migrations...")
		if err := migrator.Run(ctx, fsys); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		fmt.Println("Migrations completed successfully!")
		return nil
	}

	if dbConfig.Type != "postgres" {
		fmt.Printf("%s schema is created on startup; no migrations tracked\n", dbConfig.Type)
		return nil
	}
	if err := migrator.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	applied, err := migrator.GetAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	migrations, err := migrator.LoadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	fmt.Println("Migration Status:")
	fmt.Println("=================")
	for _, m := range migrations {
		state := "pending"
		if applied[m.Version] {
			state = "applied"
		}
		fmt.Printf("%s - %s [%s]\n", m.Version, m.Name, state)
	}
	return nil
}

func createTable(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	awsCfg, err := awsclient.Load(ctx, cfg.AWSClientConfig())
	if err != nil {
		return err
	}
	store := dynamo.NewRecordStore(awsCfg, cfg.DynamoConfig(), logger)
	if err := store.EnsureTable(ctx); err != nil {
		return err
	}
	fmt.Printf("Table %s is ready\n", cfg.Store.DynamoTable)
	return nil
}
