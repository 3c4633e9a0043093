// Package pipeline drives one export: it resolves the column spec, selects
// the record source, and streams projected rows into the CSV sink under the
// run-level retry policy, recording each phase on the RunSession.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/breachcase/internal/columns"
	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/fetch"
	"github.com/jonathan/breachcase/internal/logging"
	"github.com/jonathan/breachcase/internal/records"
	"github.com/jonathan/breachcase/internal/retry"
	"github.com/jonathan/breachcase/internal/session"
	"github.com/jonathan/breachcase/internal/sink"
	"github.com/jonathan/breachcase/internal/source"
)

// ProgressEvent represents a progress update during an export.
type ProgressEvent struct {
	Step    string
	Message string
	Page    int
	Count   int
	Rows    int
}

// ProgressCallback is called when export progress occurs.
type ProgressCallback func(event ProgressEvent)

// LiveOptions configures the live search source.
type LiveOptions struct {
	Credentials fetch.Credentials
	Endpoint    string
	Timeout     time.Duration
	MaxPages    int
	PageDelay   time.Duration
	PageRetries int
	PageBackoff time.Duration
	Expand      bool
}

// SourceFactory opens a fresh record source for one run attempt.
type SourceFactory func(ctx context.Context, mode source.Mode) (source.Source, error)

// RunOptions holds configuration for one export.
type RunOptions struct {
	Domain       string
	Columns      string
	Resume       bool
	DryRun       bool
	Fixtures     string
	SafeFormulas bool
	Retries      int
	RetryWait    time.Duration
	Live         LiveOptions

	// NewSource overrides how sources are built.
	NewSource SourceFactory
	// Sleep overrides the wait between run attempts.
	Sleep      retry.Sleeper
	OnProgress ProgressCallback
	Logger     *zap.SugaredLogger
}

// Result summarises a finished export.
type Result struct {
	Mode     source.Mode
	Columns  columns.Spec
	Rows     int
	Appended int
	Pages    int
	Attempts int
}

func emitProgress(opts *RunOptions, event ProgressEvent) {
	if opts.OnProgress != nil {
		opts.OnProgress(event)
	}
}

// SelectMode picks the record source from explicit options only. Dry runs
// and a fixtures path select fixture mode; a dry run without fixtures is a
// configuration error. Live mode needs credentials.
func SelectMode(opts RunOptions) (source.Mode, error) {
	if opts.DryRun && opts.Fixtures == "" {
		return "", failure.Configuration("--dry-run requires --fixtures")
	}
	if opts.DryRun || opts.Fixtures != "" {
		return source.ModeFixture, nil
	}
	if opts.Live.Credentials.Empty() {
		return "", failure.Configuration("live mode requires api_user and api_key (or %s/%s)",
			"BREACHCASE_API_USER", "BREACHCASE_API_KEY")
	}
	return source.ModeLive, nil
}

// DefaultSourceFactory builds fixture and live sources from opts.
func DefaultSourceFactory(opts RunOptions, logger *zap.SugaredLogger) SourceFactory {
	return func(ctx context.Context, mode source.Mode) (source.Source, error) {
		switch mode {
		case source.ModeFixture:
			return source.NewFixtureSource(opts.Fixtures, logger)
		case source.ModeLive:
			client := fetch.NewClient(opts.Live.Credentials, &fetch.Options{
				Endpoint: opts.Live.Endpoint,
				Timeout:  opts.Live.Timeout,
			})
			fetcher := retry.NewFetcher(opts.Live.PageRetries, opts.Live.PageBackoff, logger)
			return source.NewLiveSource(client, fetcher, source.LiveOptions{
				Domain:          opts.Domain,
				MaxPages:        opts.Live.MaxPages,
				PageDelay:       opts.Live.PageDelay,
				Expand:          opts.Live.Expand,
				ValidatePayload: true,
			}, logger), nil
		default:
			return nil, failure.Configuration("unknown source mode %q", mode)
		}
	}
}

// Run executes the export inside sess and records the outcome on it. The
// caller owns finalization.
func Run(ctx context.Context, sess *session.Session, opts RunOptions) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	result := &Result{}

	err := run(ctx, sess, &opts, logger, result)
	if err != nil {
		sess.Fail(err)
		return result, err
	}
	if err := sess.Succeed(result.Rows); err != nil {
		sess.Fail(err)
		return result, err
	}
	return result, nil
}

func run(ctx context.Context, sess *session.Session, opts *RunOptions, logger *zap.SugaredLogger, result *Result) error {
	spec, err := columns.NewResolver(logger).Resolve(opts.Columns)
	if err != nil {
		return err
	}
	result.Columns = spec
	if err := sess.Advance(session.ColumnsResolved); err != nil {
		return err
	}
	logger.Infow("Columns resolved", logging.FieldColumns, spec.String())

	mode, err := SelectMode(*opts)
	if err != nil {
		return err
	}
	result.Mode = mode
	if err := sess.Advance(session.ModeSelected); err != nil {
		return err
	}
	logger.Infow("Source selected", logging.FieldMode, string(mode))

	newSource := opts.NewSource
	if newSource == nil {
		newSource = DefaultSourceFactory(*opts, logger)
	}
	projector := columns.Projector{NeutralizeFormulas: opts.SafeFormulas}

	policy := retry.RunPolicy{
		Retries: opts.Retries,
		Wait:    opts.RetryWait,
		Sleep:   opts.Sleep,
		Logger:  logger,
	}
	return policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := sess.Advance(session.Fetching); err != nil {
			return err
		}
		result.Attempts = attempt
		emitProgress(opts, ProgressEvent{Step: "fetch", Message: "starting attempt"})
		return fetchAndWrite(ctx, sess, opts, mode, newSource, projector, spec, logger, result)
	})
}

// fetchAndWrite performs one full pass: open the sink, drain the source and
// append every projected row, flushing after each page.
func fetchAndWrite(
	ctx context.Context,
	sess *session.Session,
	opts *RunOptions,
	mode source.Mode,
	newSource SourceFactory,
	projector columns.Projector,
	spec columns.Spec,
	logger *zap.SugaredLogger,
	result *Result,
) (err error) {
	src, err := newSource(ctx, mode)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	out, err := sink.Open(sess.OutputPath, opts.Resume)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		result.Rows = out.RowCount()
		result.Appended = out.Appended()
		sess.SetRows(out.RowCount())
	}()

	if err := out.WriteHeaderOnce(spec); err != nil {
		return err
	}
	if err := out.Flush(); err != nil {
		return err
	}

	result.Pages = 0
	return source.Drain(ctx, src, func(page records.Page) error {
		for _, rec := range page.Records {
			if err := out.AppendRow(projector.Project(rec, spec)); err != nil {
				return err
			}
		}
		if err := out.Flush(); err != nil {
			return err
		}
		result.Pages++
		sess.SetRows(out.RowCount())
		logger.Debugw("Page written",
			logging.FieldPage, page.Number,
			logging.FieldCount, page.Count(),
			logging.FieldRows, out.RowCount())
		emitProgress(opts, ProgressEvent{
			Step:    "page",
			Message: "page written",
			Page:    page.Number,
			Count:   page.Count(),
			Rows:    out.RowCount(),
		})
		return nil
	})
}
