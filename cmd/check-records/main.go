package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/modcheck/internal/bootstrap"
	"github.com/kdimtricp/modcheck/internal/config"
	"github.com/kdimtricp/modcheck/internal/database"
	"github.com/kdimtricp/modcheck/internal/logging"
	"github.com/kdimtricp/modcheck/internal/models"
)

func main() {
	var (
		configFile string
		envFile    string
		userID     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "modcheck-check-records [object-key]",
		Short: "Show moderation records",
		Long: "Prints one record by object key, or an owner's most recent records " +
			"when --user is given.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (userID == "") {
				return fmt.Errorf("give either an object key or --user")
			}
			cfg, err := config.Load(configFile, envFile)
			if err != nil {
				return err
			}
			logger, closer, err := logging.New(cfg.LoggingConfig())
			if err != nil {
				return err
			}
			defer closer.Close()

			store, closeStore, err := bootstrap.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			var records []models.ModerationRecord
			if userID != "" {
				records, err = store.ListByOwner(cmd.Context(), userID, limit)
			} else {
				var r *models.ModerationRecord
				r, err = store.Get(cmd.Context(), args[0])
				if r != nil {
					records = append(records, *r)
				}
			}
			if err != nil {
				return err
			}
			printRecords(records)
			return nil
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "Path to a config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to a .env file; ignored if missing")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "List this owner's records")
	cmd.Flags().IntVarP(&limit, "limit", "n", database.DefaultListLimit, "Number of records to list")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func printRecords(records []models.ModerationRecord) {
	if len(records) == 0 {
		fmt.Println("No records found")
		return
	}

	counts := map[models.Status]int{}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OBJECT\tSTATUS\tOWNER\tJOB\tSUBMITTED\tFINDINGS")
	for _, r := range records {
		counts[r.Status]++
		findings := formatFindings(r)
		if r.Error != "" {
			findings = "error: " + r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ObjectID, r.Status, r.OwnerID, r.JobID, r.SubmittedAt.Format(time.RFC3339), findings)
	}
	w.Flush()

	fmt.Printf("\n%d records: %d passed, %d failed, %d in progress, %d errored\n",
		len(records),
		counts[models.StatusPassed],
		counts[models.StatusFailed],
		counts[models.StatusInProgress],
		counts[models.StatusErrored],
	)
}

func formatFindings(r models.ModerationRecord) string {
	if len(r.Findings) == 0 {
		return "-"
	}
	parts := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		if i < len(r.Offsets) {
			parts[i] = fmt.Sprintf("%s@%s", f, time.Duration(r.Offsets[i])*time.Millisecond)
		} else {
			parts[i] = f
		}
	}
	return strings.Join(parts, ", ")
}
