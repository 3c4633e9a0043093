package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/logging"
	"github.com/jonathan/breachcase/internal/records"
	"github.com/jonathan/breachcase/internal/schemas"
)

// FixtureExt is the extension of eligible fixture files.
const FixtureExt = ".json"

type fixturePayload struct {
	Entries []map[string]any `json:"entries"`
}

// FixtureSource replays fixture files from a directory, one page per file,
// in lexical filename order.
type FixtureSource struct {
	dir    string
	files  []string
	next   int
	logger *zap.SugaredLogger
}

// NewFixtureSource lists the eligible files in dir. A missing directory or
// one without eligible files is a fixture error.
func NewFixtureSource(dir string, logger *zap.SugaredLogger) (*FixtureSource, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, failure.Wrap(failure.KindFixture, "open fixtures "+dir, err)
	}
	if !info.IsDir() {
		return nil, failure.New(failure.KindFixture, "open fixtures", "%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, failure.Wrap(failure.KindFixture, "list fixtures "+dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), FixtureExt) {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, failure.New(failure.KindFixture, "open fixtures", "no %s files in %s", FixtureExt, dir)
	}

	logger.Infow("Fixture source ready", logging.FieldDir, dir, logging.FieldFiles, len(files))
	return &FixtureSource{dir: dir, files: files, logger: logger}, nil
}

// Files returns the eligible file names in read order.
func (s *FixtureSource) Files() []string {
	return append([]string(nil), s.files...)
}

// NextPage returns every record of the next file as one page.
func (s *FixtureSource) NextPage(ctx context.Context) (records.Page, error) {
	if err := ctx.Err(); err != nil {
		return records.Page{}, failure.Wrap(failure.KindInterrupted, "read fixtures", err)
	}
	if s.next >= len(s.files) {
		return records.Page{}, io.EOF
	}

	name := s.files[s.next]
	s.next++
	path := filepath.Join(s.dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		return records.Page{}, failure.Wrap(failure.KindFixture, "read fixture "+name, err)
	}
	if err := schemas.ValidateSearchPayload(data); err != nil {
		return records.Page{}, failure.Wrap(failure.KindFixture, "validate fixture "+name, err)
	}

	var payload fixturePayload
	if err := records.Unmarshal(data, &payload); err != nil {
		return records.Page{}, failure.Wrap(failure.KindFixture, "decode fixture "+name, err)
	}

	page := records.Page{Number: s.next, Records: records.FromEntries(payload.Entries)}
	s.logger.Debugw("Read fixture page", logging.FieldFile, name, logging.FieldPage, page.Number, logging.FieldCount, page.Count())
	return page, nil
}

// Close releases nothing; files are read whole on demand.
func (s *FixtureSource) Close() error {
	return nil
}
