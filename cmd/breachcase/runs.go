package main

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/breachcase/internal/config"
	"github.com/jonathan/breachcase/internal/db"
	"github.com/jonathan/breachcase/internal/domainname"
	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/observability"
)

func (a *app) runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List export runs recorded in the run ledger",
		Long: `Reads the export_runs ledger written by export when database_url (or
DATABASE_URL) is configured. With a run ID, shows that run only.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return failure.Configuration("%v", err)
			}
			return nil
		},
		RunE: a.runRuns,
	}

	f := cmd.Flags()
	f.String("config", "", "Path to a YAML or JSON config file (default ./"+config.DefaultConfigFile+" if present)")
	f.String("database-url", "", "Postgres connection string for the run ledger")
	f.StringP("domain", "d", "", "Only list runs for this domain")
	f.Int("limit", 20, "Maximum runs to list")
	f.Bool("json", false, "Print runs as JSON")
	return cmd
}

func (a *app) runRuns(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(config.LoadOptions{File: configPath, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	a.secrets = cfg.Secrets()
	if cfg.DatabaseURL == "" {
		return failure.Configuration("runs needs database_url or %s", config.DatabaseEnv)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 1 {
		return failure.Configuration("--limit must be at least 1")
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	ledger, err := a.openLedger(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return failure.Wrap(failure.KindTransient, "open run ledger", err)
	}
	defer ledger.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), ledgerTimeout)
	defer cancel()

	var runs []db.ExportRun
	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return failure.Configuration("invalid run id %q", args[0])
		}
		run, err := ledger.GetRun(ctx, id)
		if err != nil {
			return failure.Wrap(failure.KindTransient, "read run ledger", err)
		}
		if run == nil {
			return failure.New(failure.KindNotFound, "runs", "no run %s in the ledger", id)
		}
		runs = []db.ExportRun{*run}
	} else {
		domain := cfg.Domain
		if domain != "" {
			if domain, err = domainname.Normalize(domain); err != nil {
				return err
			}
		}
		runs, err = ledger.ListRuns(ctx, domain, limit)
		if err != nil {
			return failure.Wrap(failure.KindTransient, "read run ledger", err)
		}
	}

	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		if runs == nil {
			runs = []db.ExportRun{}
		}
		return enc.Encode(runs)
	}

	rows := make([]observability.RunRow, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, observability.RunRow{
			RunID:    r.RunID.String(),
			Domain:   r.Domain,
			Started:  r.StartedAt,
			Finished: r.FinishedAt,
			State:    r.State,
			ExitCode: r.ExitCode,
			Rows:     r.Rows,
			CaseDir:  r.CaseDir,
		})
	}
	observability.NewPrinter(a.stdout).PrintRunsTable(rows)
	return nil
}
