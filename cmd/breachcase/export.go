package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/breachcase/internal/config"
	"github.com/jonathan/breachcase/internal/domainname"
	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/logging"
	"github.com/jonathan/breachcase/internal/observability"
	"github.com/jonathan/breachcase/internal/pipeline"
	"github.com/jonathan/breachcase/internal/session"
)

func (a *app) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export breach records for a domain into a new case folder",
		Long: `Fetches every breach record for --domain, from fixture files or the live search
service, and writes the allowlisted columns to CSV inside a new case folder.

Every run leaves a manifest, SHA-256 sidecars for the CSV and run log, and with
--evidence a zip archive of the folder, whatever the outcome.

Values merge from flags, BREACHCASE_* environment variables, the config file
and defaults, in that order. Credentials come only from the environment or the
config file.`,
		Args: exactArgs(0),
		RunE: a.runExport,
	}

	f := cmd.Flags()
	f.String("config", "", "Path to a YAML or JSON config file (default ./"+config.DefaultConfigFile+" if present)")
	f.StringP("domain", "d", "", "Domain to query (required)")
	f.StringP("out", "o", "", "CSV output path (default <case folder>/<domain>.csv)")
	f.String("columns", "", "Comma-separated output columns from the allowlist")
	f.Bool("resume", false, "Append to an existing output file without repeating the header")
	f.String("fixtures", "", "Read records from fixture files in this directory instead of the live service")
	f.Bool("dry-run", false, "Run against --fixtures only, never contacting the live service")
	f.Bool("evidence", false, "Bundle the case folder into a checksummed zip archive")
	f.Int("retries", 0, "Whole-run retries after a transient failure")
	f.Duration("retry-wait", 0, "Wait between whole-run retries")
	f.Int("max-pages", 0, "Maximum pages to request from the live service")
	f.Duration("page-delay", 0, "Minimum delay between page requests")
	f.Int("page-retries", 0, "Attempts per page before giving up")
	f.Duration("page-backoff", 0, "Initial backoff between page attempts")
	f.Bool("expand", false, "Ask the live service for expanded results")
	f.String("api-url", "", "Search service endpoint")
	f.Duration("timeout", 0, "Per-request timeout")
	f.String("case-root", "", "Directory under which case folders are created")
	f.Bool("safe-formulas", false, "Prefix values that spreadsheets would evaluate as formulas")
	f.BoolP("verbose", "v", false, "Log progress to the console")
	return cmd
}

func (a *app) runExport(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(config.LoadOptions{File: configPath, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	a.secrets = cfg.Secrets()

	if cfg.Domain == "" {
		return failure.Configuration("--domain is required")
	}
	domain, err := domainname.Normalize(cfg.Domain)
	if err != nil {
		return err
	}

	console := logging.NewConsole(a.stderr, cfg.Verbose)
	sess, err := session.New(session.Options{
		App:          appName,
		Version:      version,
		Domain:       domain,
		CaseRoot:     cfg.CaseRoot,
		Invocation:   a.invocation(),
		ConfigSource: cfg.Source,
		OutputPath:   cfg.Out,
		Evidence:     cfg.Evidence,
		Now:          a.now,
		Logger:       console,
	})
	if err != nil {
		return err
	}
	defer finalizeOnExit(sess)

	runLog, err := logging.NewRunLogger(a.stderr, cfg.Verbose, sess.LogPath)
	if err != nil {
		sess.Fail(failure.IO("open run log", err))
		return sess.Err()
	}
	logger := runLog.With(logging.FieldRunID, sess.ID.String(), logging.FieldDomain, domain)
	sess.AttachLogger(logger, runLog.Close)
	logger.Infow("Case folder created", logging.FieldCaseDir, sess.Dir)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger := a.startLedger(ctx, cfg.DatabaseURL, sess, logger)

	result, _ := a.runPipeline(ctx, sess, pipeline.RunOptions{
		Domain:       domain,
		Columns:      cfg.Columns,
		Resume:       cfg.Resume,
		DryRun:       cfg.DryRun,
		Fixtures:     cfg.Fixtures,
		SafeFormulas: cfg.SafeFormulas,
		Retries:      cfg.Retries,
		RetryWait:    cfg.RetryWait,
		Live: pipeline.LiveOptions{
			Credentials: cfg.Credentials(),
			Endpoint:    cfg.APIURL,
			Timeout:     cfg.Timeout,
			MaxPages:    cfg.MaxPages,
			PageDelay:   cfg.PageDelay,
			PageRetries: cfg.PageRetries,
			PageBackoff: cfg.PageBackoff,
			Expand:      cfg.Expand,
		},
		OnProgress: progressLogger(logger),
		Logger:     logger,
	})

	finalizeErr := sess.Finalize()
	finished := a.now()
	ledger.finish(sess, result.Rows, finished)

	summary := &observability.RunSummary{
		Domain:   domainname.Display(domain),
		RunID:    sess.ID.String(),
		Mode:     string(result.Mode),
		Columns:  result.Columns.String(),
		Pages:    result.Pages,
		Rows:     result.Rows,
		Attempts: result.Attempts,
		State:    sess.State().String(),
		ExitCode: sess.ExitCode(),
		CaseDir:  sess.Dir,
		Output:   sess.OutputPath,
		Duration: finished.Sub(sess.Start),
	}
	if cfg.Evidence {
		summary.Archive = sess.ArchivePath
	}
	observability.NewPrinter(a.stdout).PrintRunSummary(summary)

	if err := sess.Err(); err != nil {
		return failure.WithLogHint(err, sess.LogPath)
	}
	if finalizeErr != nil {
		return failure.WithLogHint(finalizeErr, sess.LogPath)
	}
	return nil
}

// finalizeOnExit finalizes sess on every way out of the export. A panic is
// recorded as an unknown failure so the manifest still carries an outcome,
// then re-raised.
func finalizeOnExit(sess *session.Session) {
	if r := recover(); r != nil {
		sess.Fail(failure.New(failure.KindUnknown, "export", "panic: %v", r))
		_ = sess.Finalize()
		panic(r)
	}
	_ = sess.Finalize()
}

func progressLogger(logger *zap.SugaredLogger) pipeline.ProgressCallback {
	return func(ev pipeline.ProgressEvent) {
		logger.Debugw(ev.Message,
			"step", ev.Step,
			logging.FieldPage, ev.Page,
			logging.FieldCount, ev.Count,
			logging.FieldRows, ev.Rows)
	}
}

func redactErr(err error, secrets []string) string {
	return logging.Redact(err.Error(), secrets...)
}
