package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/fetch"
	"github.com/jonathan/breachcase/internal/logging"
	"github.com/jonathan/breachcase/internal/records"
	"github.com/jonathan/breachcase/internal/session"
	"github.com/jonathan/breachcase/internal/source"
)

func newSession(t *testing.T, mutate func(*session.Options)) *session.Session {
	t.Helper()
	opts := session.Options{
		App:        "breachcase",
		Version:    "test",
		Domain:     "example.com",
		CaseRoot:   filepath.Join(t.TempDir(), "cases"),
		Invocation: "breachcase export --domain example.com",
	}
	if mutate != nil {
		mutate(&opts)
	}
	sess, err := session.New(opts)
	require.NoError(t, err)

	runLog, err := logging.NewRunLogger(&bytes.Buffer{}, false, sess.LogPath)
	require.NoError(t, err)
	sess.AttachLogger(runLog.SugaredLogger, runLog.Close)
	return sess
}

func writePage(t *testing.T, dir, name string, n int) {
	t.Helper()
	entries := make([]map[string]any, n)
	for i := range entries {
		entries[i] = map[string]any{
			"email":         fmt.Sprintf("%s-%d@example.com", strings.TrimSuffix(name, ".json"), i),
			"database_name": "LeakDB",
			"domain":        "example.com",
		}
	}
	data, err := json.Marshal(map[string]any{"entries": entries})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func csvLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func manifestOf(t *testing.T, sess *session.Session) map[string]string {
	t.Helper()
	data, err := os.ReadFile(sess.ManifestPath)
	require.NoError(t, err)
	return session.ParseManifest(string(data))
}

func TestRun_FixtureModeWritesAllRowsAndChecksums(t *testing.T) {
	fixtures := t.TempDir()
	writePage(t, fixtures, "example.com_page1.json", 3)
	writePage(t, fixtures, "example.com_page2.json", 5)

	sess := newSession(t, nil)
	result, err := Run(context.Background(), sess, RunOptions{
		Domain:   "example.com",
		Fixtures: fixtures,
		DryRun:   true,
	})
	require.NoError(t, err)
	require.NoError(t, sess.Finalize())

	assert.Equal(t, source.ModeFixture, result.Mode)
	assert.Equal(t, 8, result.Rows)
	assert.Equal(t, 2, result.Pages)

	lines := csvLines(t, sess.OutputPath)
	require.Len(t, lines, 9)
	assert.Equal(t, "email,username,name,first_name,last_name,database_name,breach,domain", lines[0])
	assert.Equal(t, "example.com_page1-0@example.com,,,,,LeakDB,,example.com", lines[1])

	assert.FileExists(t, sess.OutputPath+session.ChecksumExt)
	assert.FileExists(t, sess.LogPath+session.ChecksumExt)

	m := manifestOf(t, sess)
	assert.Equal(t, "0", m["exit_code"])
	assert.Equal(t, "8", m["rows"])
}

func TestRun_DroppedColumnsStillSucceed(t *testing.T) {
	fixtures := t.TempDir()
	writePage(t, fixtures, "p1.json", 1)

	sess := newSession(t, nil)
	result, err := Run(context.Background(), sess, RunOptions{
		Domain:   "example.com",
		Fixtures: fixtures,
		Columns:  "domain,bogus,email",
	})
	require.NoError(t, err)
	require.NoError(t, sess.Finalize())

	assert.Equal(t, "domain,email", result.Columns.String())
	lines := csvLines(t, sess.OutputPath)
	assert.Equal(t, []string{"domain,email", "example.com,p1-0@example.com"}, lines)
}

func TestRun_DryRunWithoutFixturesIsConfigurationError(t *testing.T) {
	sess := newSession(t, nil)
	_, err := Run(context.Background(), sess, RunOptions{Domain: "example.com", DryRun: true})
	require.Error(t, err)
	assert.Equal(t, failure.KindConfiguration, failure.KindOf(err))

	require.NoError(t, sess.Finalize())
	assert.Equal(t, "2", manifestOf(t, sess)["exit_code"])
	assert.NoFileExists(t, sess.OutputPath)
}

func TestRun_LiveWithoutCredentialsIsConfigurationError(t *testing.T) {
	sess := newSession(t, nil)
	_, err := Run(context.Background(), sess, RunOptions{Domain: "example.com"})
	require.Error(t, err)
	assert.Equal(t, failure.KindConfiguration, failure.KindOf(err))
}

func TestRun_EmptyColumnsAfterFilteringIsFatal(t *testing.T) {
	sess := newSession(t, nil)
	_, err := Run(context.Background(), sess, RunOptions{
		Domain:   "example.com",
		Fixtures: t.TempDir(),
		Columns:  "bogus,nope",
	})
	require.Error(t, err)
	assert.Equal(t, failure.KindConfiguration, failure.KindOf(err))
	assert.Equal(t, session.FailedFatal, sess.State())
}

func TestRun_LiveZeroCountPageWritesNoRows(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[],"total":0}`))
	}))
	defer server.Close()

	sess := newSession(t, nil)
	result, err := Run(context.Background(), sess, RunOptions{
		Domain: "example.com",
		Live: LiveOptions{
			Credentials: fetch.Credentials{User: "u", Key: "k"},
			Endpoint:    server.URL,
			Timeout:     5 * time.Second,
			MaxPages:    20,
			PageRetries: 1,
		},
	})
	require.NoError(t, err)
	require.NoError(t, sess.Finalize())

	assert.Equal(t, source.ModeLive, result.Mode)
	assert.Equal(t, 0, result.Rows)
	assert.Equal(t, int32(1), requests.Load())
	assert.Len(t, csvLines(t, sess.OutputPath), 1)
}

func TestRun_LiveAuthFailureIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	sess := newSession(t, nil)
	_, err := Run(context.Background(), sess, RunOptions{
		Domain:  "example.com",
		Retries: 3,
		Sleep:   func(context.Context, time.Duration) error { return nil },
		Live: LiveOptions{
			Credentials: fetch.Credentials{User: "u", Key: "k"},
			Endpoint:    server.URL,
			Timeout:     5 * time.Second,
			MaxPages:    20,
			PageRetries: 5,
		},
	})
	require.Error(t, err)
	assert.Equal(t, failure.KindAuthentication, failure.KindOf(err))
	require.NoError(t, sess.Finalize())
	assert.Equal(t, "3", manifestOf(t, sess)["exit_code"])
	assert.Equal(t, "1", manifestOf(t, sess)["attempts"])
}

// scriptedSource returns the scripted pages, then runs onExhausted.
type scriptedSource struct {
	pages       []records.Page
	onExhausted func() error
}

func (s *scriptedSource) NextPage(ctx context.Context) (records.Page, error) {
	if len(s.pages) > 0 {
		page := s.pages[0]
		s.pages = s.pages[1:]
		return page, nil
	}
	if s.onExhausted != nil {
		return records.Page{}, s.onExhausted()
	}
	return records.Page{}, io.EOF
}

func (s *scriptedSource) Close() error { return nil }

func page(n int, emails ...string) records.Page {
	p := records.Page{Number: n}
	for _, e := range emails {
		p.Records = append(p.Records, records.Record{"email": e})
	}
	return p
}

func TestRun_InterruptMidFetchPreservesPartialOutput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := newSession(t, nil)
	_, err := Run(ctx, sess, RunOptions{
		Domain:   "example.com",
		Fixtures: "unused",
		Columns:  "email",
		Retries:  2,
		NewSource: func(context.Context, source.Mode) (source.Source, error) {
			return &scriptedSource{
				pages: []records.Page{page(1, "a@example.com", "b@example.com")},
				onExhausted: func() error {
					cancel()
					return failure.Wrap(failure.KindInterrupted, "fetch page", ctx.Err())
				},
			}, nil
		},
	})
	require.Error(t, err)
	assert.Equal(t, failure.KindInterrupted, failure.KindOf(err))

	require.NoError(t, sess.Finalize())

	m := manifestOf(t, sess)
	assert.Equal(t, "130", m["exit_code"])
	assert.Equal(t, "2", m["rows"])
	assert.Equal(t, []string{"email", "a@example.com", "b@example.com"}, csvLines(t, sess.OutputPath))
	assert.FileExists(t, sess.OutputPath+session.ChecksumExt)
}

func TestRun_OuterRetryRestartsFromScratch(t *testing.T) {
	var sleeps []time.Duration
	calls := 0

	sess := newSession(t, nil)
	result, err := Run(context.Background(), sess, RunOptions{
		Domain:    "example.com",
		Fixtures:  "unused",
		Columns:   "email",
		Retries:   2,
		RetryWait: 7 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
		NewSource: func(context.Context, source.Mode) (source.Source, error) {
			calls++
			src := &scriptedSource{pages: []records.Page{page(1, "a@example.com")}}
			if calls == 1 {
				src.onExhausted = func() error {
					return failure.New(failure.KindTransient, "fetch page", "retry budget exhausted")
				}
			}
			return src, nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, sess.Finalize())

	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{7 * time.Second}, sleeps)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, []string{"email", "a@example.com"}, csvLines(t, sess.OutputPath))
	assert.Equal(t, "2", manifestOf(t, sess)["attempts"])
}

func TestRun_TransientExhaustionHasDistinctStatus(t *testing.T) {
	sess := newSession(t, nil)
	_, err := Run(context.Background(), sess, RunOptions{
		Domain:   "example.com",
		Fixtures: "unused",
		NewSource: func(context.Context, source.Mode) (source.Source, error) {
			return &scriptedSource{onExhausted: func() error {
				return failure.New(failure.KindTransient, "fetch page", "retry budget exhausted after 5 attempts")
			}}, nil
		},
	})
	require.Error(t, err)
	assert.Equal(t, session.FailedRetryable, sess.State())
	require.NoError(t, sess.Finalize())
	assert.Equal(t, "5", manifestOf(t, sess)["exit_code"])
}

func TestRun_ResumeAppendsWithoutSecondHeader(t *testing.T) {
	out := filepath.Join(t.TempDir(), "shared.csv")
	require.NoError(t, os.WriteFile(out, []byte("email\nold@example.com\n"), 0o644))

	fixtures := t.TempDir()
	writePage(t, fixtures, "p1.json", 2)

	sess := newSession(t, func(o *session.Options) { o.OutputPath = out })
	result, err := Run(context.Background(), sess, RunOptions{
		Domain:   "example.com",
		Fixtures: fixtures,
		Columns:  "email",
		Resume:   true,
	})
	require.NoError(t, err)
	require.NoError(t, sess.Finalize())

	assert.Equal(t, 3, result.Rows)
	assert.Equal(t, 2, result.Appended)
	assert.Equal(t, []string{"email", "old@example.com", "p1-0@example.com", "p1-1@example.com"}, csvLines(t, out))
}

func TestRun_ProgressEvents(t *testing.T) {
	fixtures := t.TempDir()
	writePage(t, fixtures, "p1.json", 2)

	var events []ProgressEvent
	sess := newSession(t, nil)
	_, err := Run(context.Background(), sess, RunOptions{
		Domain:     "example.com",
		Fixtures:   fixtures,
		OnProgress: func(e ProgressEvent) { events = append(events, e) },
	})
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "page", events[1].Step)
	assert.Equal(t, 2, events[1].Count)
}

func TestSelectMode(t *testing.T) {
	mode, err := SelectMode(RunOptions{Fixtures: "dir"})
	require.NoError(t, err)
	assert.Equal(t, source.ModeFixture, mode)

	mode, err = SelectMode(RunOptions{Live: LiveOptions{Credentials: fetch.Credentials{User: "u", Key: "k"}}})
	require.NoError(t, err)
	assert.Equal(t, source.ModeLive, mode)

	_, err = SelectMode(RunOptions{DryRun: true})
	assert.Equal(t, failure.KindConfiguration, failure.KindOf(err))
}
