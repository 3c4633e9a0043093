package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/breachcase/internal/db"
	"github.com/jonathan/breachcase/internal/logging"
	"github.com/jonathan/breachcase/internal/session"
)

// ledgerTimeout bounds each ledger call so a slow database cannot hold up a run.
const ledgerTimeout = 5 * time.Second

// runLedger records run starts and outcomes and reads them back.
type runLedger interface {
	RecordStart(ctx context.Context, start db.RunStart) error
	RecordFinish(ctx context.Context, finish db.RunFinish) error
	GetRun(ctx context.Context, runID uuid.UUID) (*db.ExportRun, error)
	ListRuns(ctx context.Context, domain string, limit int) ([]db.ExportRun, error)
	Close()
}

func connectLedger(ctx context.Context, databaseURL string) (runLedger, error) {
	ctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	conn, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := conn.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// ledgerRecorder logs ledger failures as warnings and never fails the run.
type ledgerRecorder struct {
	ledger  runLedger
	logger  *zap.SugaredLogger
	secrets []string
}

func (a *app) startLedger(ctx context.Context, databaseURL string, sess *session.Session, logger *zap.SugaredLogger) *ledgerRecorder {
	if databaseURL == "" {
		return nil
	}
	ledger, err := a.openLedger(ctx, databaseURL)
	if err != nil {
		logger.Warnw("Run ledger unavailable", logging.FieldError, redactErr(err, a.secrets))
		return nil
	}
	r := &ledgerRecorder{ledger: ledger, logger: logger, secrets: a.secrets}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := ledger.RecordStart(callCtx, db.RunStart{
		RunID:     sess.ID,
		Domain:    sess.Domain,
		CaseDir:   sess.Dir,
		StartedAt: sess.Start,
		State:     sess.State().String(),
	}); err != nil {
		logger.Warnw("Failed to record run start", logging.FieldError, redactErr(err, a.secrets))
	}
	return r
}

func (r *ledgerRecorder) finish(sess *session.Session, rows int, finishedAt time.Time) {
	if r == nil {
		return
	}
	defer r.ledger.Close()

	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if err := r.ledger.RecordFinish(ctx, db.RunFinish{
		RunID:      sess.ID,
		FinishedAt: finishedAt,
		ExitCode:   sess.ExitCode(),
		Rows:       int64(rows),
		State:      sess.State().String(),
	}); err != nil {
		r.logger.Warnw("Failed to record run finish", logging.FieldError, redactErr(err, r.secrets))
	}
}
