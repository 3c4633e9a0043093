// Package session owns the per-run case folder: it creates the folder, writes
// the risk notice, tracks the run's lifecycle state and, on every exit path,
// writes the manifest, checksums the artifacts and optionally bundles the
// folder into an evidence archive.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/logging"
)

const (
	// NoticeName is the risk disclosure file written into every case folder.
	NoticeName = "RISK_NOTICE.txt"
	// LogName is the run log file inside a case folder.
	LogName = "run.log"
	// ArchiveExt is the evidence archive suffix, appended to the folder path.
	ArchiveExt = ".zip"
)

const riskNotice = `This folder contains breach-exposure data for %s.

The records may include personal data and credentials belonging to real
people. Store this folder on encrypted media, share it only with people
authorised to handle the incident, and delete it when the engagement ends.
Do not use any credential found here to access a system.
`

// Options configures a new RunSession.
type Options struct {
	App     string
	Version string
	// Domain is the ASCII form of the queried domain.
	Domain       string
	CaseRoot     string
	Invocation   string
	ConfigSource string
	// OutputPath overrides the CSV location. It may lie outside the case folder.
	OutputPath string
	Evidence   bool
	Archiver   Archiver
	Now        func() time.Time
	Logger     *zap.SugaredLogger
}

// Session is one export run and its case folder.
type Session struct {
	ID           uuid.UUID
	Domain       string
	Dir          string
	OutputPath   string
	LogPath      string
	ManifestPath string
	NoticePath   string
	ArchivePath  string
	Start        time.Time

	opts     Options
	runner   string
	mu       sync.Mutex
	state    State
	err      error
	attempts int
	rows     int
	logClose func() error
	logger   *zap.SugaredLogger

	finalizeOnce sync.Once
	finalizeErr  error
}

// New creates the case folder durably and writes the risk notice.
func New(opts Options) (*Session, error) {
	if opts.Domain == "" {
		return nil, failure.Configuration("domain is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Archiver == nil {
		opts.Archiver = ZipArchiver{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.CaseRoot == "" {
		opts.CaseRoot = "cases"
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, failure.Wrap(failure.KindIO, "generate run id", err)
	}
	start := opts.Now()

	dir := filepath.Join(
		opts.CaseRoot,
		opts.Domain,
		start.Format("2006-01-02"),
		start.Format("150405")+"-"+id.String()[:8],
	)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, failure.IO("create case folder", err)
	}
	root := filepath.Clean(opts.CaseRoot)
	for p := dir; ; p = filepath.Dir(p) {
		if err := syncDir(p); err != nil {
			return nil, failure.IO("sync case folder", err)
		}
		if p == root || p == filepath.Dir(p) {
			break
		}
	}

	s := &Session{
		ID:           id,
		Domain:       opts.Domain,
		Dir:          dir,
		OutputPath:   opts.OutputPath,
		LogPath:      filepath.Join(dir, LogName),
		ManifestPath: filepath.Join(dir, ManifestName),
		NoticePath:   filepath.Join(dir, NoticeName),
		ArchivePath:  dir + ArchiveExt,
		Start:        start,
		opts:         opts,
		runner:       Runner(),
		state:        Created,
		logger:       opts.Logger,
	}
	if s.OutputPath == "" {
		s.OutputPath = filepath.Join(dir, opts.Domain+".csv")
	}

	if err := writeFileSync(s.NoticePath, []byte(fmt.Sprintf(riskNotice, opts.Domain))); err != nil {
		return nil, failure.IO("write risk notice", err)
	}
	return s, nil
}

// AttachLogger routes session messages to logger and registers closeLog to
// run during finalization, before the log is checksummed.
func (s *Session) AttachLogger(logger *zap.SugaredLogger, closeLog func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
	s.logClose = closeLog
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the recorded failure, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Advance moves the session to a non-terminal state.
func (s *Session) Advance(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to.Terminal() || to == Finalized {
		return errors.AssertionFailedf("use Succeed, Fail or Finalize to enter %s", to)
	}
	if err := checkTransition(s.state, to); err != nil {
		return err
	}
	if to == Fetching {
		s.attempts++
	}
	s.logger.Debugw("Session state", logging.FieldFrom, s.state.String(), logging.FieldTo, to.String())
	s.state = to
	return nil
}

// Succeed records a successful fetch with the output's row count.
func (s *Session) Succeed(rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkTransition(s.state, Succeeded); err != nil {
		return err
	}
	s.rows = rows
	s.state = Succeeded
	return nil
}

// Fail records err as the run's disposition. Exhausted transient failures
// land in FailedRetryable; everything else is FailedFatal. The first
// recorded failure wins.
func (s *Session) Fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail(err)
}

func (s *Session) fail(err error) {
	switch s.state {
	case Finalized, FailedFatal, FailedRetryable:
		return
	}
	s.err = err
	if failure.Retryable(err) {
		s.state = FailedRetryable
	} else {
		s.state = FailedFatal
	}
}

// SetRows updates the row count recorded in the manifest.
func (s *Session) SetRows(rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
}

// ExitCode is the process exit code implied by the current state.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode()
}

func (s *Session) exitCode() int {
	if s.err != nil {
		return failure.ExitCode(s.err)
	}
	if s.state == Succeeded || s.state == Finalized {
		return failure.ExitOK
	}
	return failure.KindUnknown.ExitCode()
}

// Finalize writes the manifest, closes the run log, checksums the output and
// log and, when requested, builds the evidence archive. Only the first call
// does work; later calls return the first result. A session that never
// reached an outcome state is recorded as a fatal failure.
func (s *Session) Finalize() error {
	s.finalizeOnce.Do(func() {
		s.finalizeErr = s.finalize()
	})
	return s.finalizeErr
}

func (s *Session) finalize() error {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.fail(failure.New(failure.KindUnknown, "finalize", "run ended in state %s", s.state))
	}
	manifest := Manifest{
		App:          s.opts.App,
		Version:      s.opts.Version,
		RunID:        s.ID.String(),
		Domain:       s.Domain,
		Invocation:   s.opts.Invocation,
		Runner:       s.runner,
		ConfigSource: s.opts.ConfigSource,
		State:        s.state.String(),
		StartTime:    s.Start,
		EndTime:      s.opts.Now(),
		ExitCode:     s.exitCode(),
		Attempts:     s.attempts,
		Rows:         s.rows,
		Output:       s.OutputPath,
	}
	if s.err != nil {
		manifest.Error = s.err.Error()
	}
	logClose := s.logClose
	logger := s.logger
	s.mu.Unlock()

	var errs error
	if err := manifest.Write(s.ManifestPath); err != nil {
		errs = errors.CombineErrors(errs, failure.IO("write manifest", err))
	}

	logger.Infow("Run finished",
		logging.FieldState, manifest.State,
		logging.FieldExitCode, manifest.ExitCode,
		logging.FieldRows, manifest.Rows,
		logging.FieldDuration, manifest.EndTime.Sub(manifest.StartTime).Milliseconds())

	if logClose != nil {
		if err := logClose(); err != nil {
			errs = errors.CombineErrors(errs, failure.IO("close run log", err))
		}
	}

	if err := s.writeChecksums(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}

	if s.opts.Evidence {
		if err := s.buildEvidence(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}

	s.mu.Lock()
	s.state = Finalized
	s.mu.Unlock()
	return errs
}

// writeChecksums hashes the output and log in parallel. Missing artifacts
// are skipped.
func (s *Session) writeChecksums() error {
	var g errgroup.Group
	for _, path := range []string{s.OutputPath, s.LogPath} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		g.Go(func() error {
			if _, err := WriteChecksum(path); err != nil {
				return failure.IO("checksum "+filepath.Base(path), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Session) buildEvidence() error {
	entries, err := FolderEntries(s.Dir)
	if err != nil {
		return failure.IO("list case folder", err)
	}
	if s.outputIsExternal() {
		for _, path := range []string{s.OutputPath, s.OutputPath + ChecksumExt} {
			if _, err := os.Stat(path); err == nil {
				entries = append(entries, ArchiveEntry{
					Name: filepath.Join("external", filepath.Base(path)),
					Path: path,
				})
			}
		}
	}
	if err := s.opts.Archiver.Archive(s.ArchivePath, entries); err != nil {
		return failure.IO("build evidence archive", err)
	}
	if _, err := WriteChecksum(s.ArchivePath); err != nil {
		return failure.IO("checksum evidence archive", err)
	}
	return nil
}

func (s *Session) outputIsExternal() bool {
	rel, err := filepath.Rel(s.Dir, s.OutputPath)
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
