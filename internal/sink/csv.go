// Package sink writes projected rows to the run's CSV artifact.
package sink

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/jonathan/breachcase/internal/columns"
	"github.com/jonathan/breachcase/internal/failure"
)

// CsvSink appends rows to one CSV file. A header is written at most once per
// file: a resumed file that already has content is assumed to carry it.
type CsvSink struct {
	path          string
	file          *os.File
	writer        *csv.Writer
	headerPresent bool
	existing      int
	appended      int
	closed        bool
}

// Open prepares path for writing. With resume set and a non-empty file at
// path, rows are appended after the existing content; otherwise the file is
// created or truncated.
func Open(path string, resume bool) (*CsvSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, failure.IO("create output directory", err)
	}

	s := &CsvSink{path: path}

	if resume {
		info, err := os.Stat(path)
		switch {
		case err == nil && info.Size() > 0:
			existing, err := countRows(path)
			if err != nil {
				return nil, failure.IO("read existing output", err)
			}
			s.existing = existing
			s.headerPresent = true
		case err != nil && !os.IsNotExist(err):
			return nil, failure.IO("stat output", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if s.headerPresent {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, failure.IO("open output", err)
	}
	s.file = f
	s.writer = csv.NewWriter(f)
	return s, nil
}

// countRows returns the number of non-header records in an existing file.
func countRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	n := 0
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.Wrapf(err, "parse %s", filepath.Base(path))
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n - 1, nil
}

// Path returns the output file path.
func (s *CsvSink) Path() string {
	return s.path
}

// HeaderPresent reports whether the file already carries a header.
func (s *CsvSink) HeaderPresent() bool {
	return s.headerPresent
}

// WriteHeaderOnce writes spec as the header unless one is already present.
func (s *CsvSink) WriteHeaderOnce(spec columns.Spec) error {
	if s.headerPresent {
		return nil
	}
	if err := s.write([]string(spec)); err != nil {
		return err
	}
	s.headerPresent = true
	return nil
}

// AppendRow writes one record line. The header must have been written.
func (s *CsvSink) AppendRow(row []string) error {
	if !s.headerPresent {
		return errors.AssertionFailedf("append to %s before header", s.path)
	}
	if err := s.write(row); err != nil {
		return err
	}
	s.appended++
	return nil
}

func (s *CsvSink) write(row []string) error {
	if s.closed {
		return failure.IO("write output", os.ErrClosed)
	}
	if err := s.writer.Write(row); err != nil {
		return failure.IO("write output", err)
	}
	return nil
}

// Flush pushes buffered rows to the file.
func (s *CsvSink) Flush() error {
	if s.closed {
		return nil
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return failure.IO("flush output", err)
	}
	return nil
}

// RowCount is the number of data rows in the file, including rows present
// before a resume.
func (s *CsvSink) RowCount() int {
	return s.existing + s.appended
}

// Appended is the number of rows written by this sink.
func (s *CsvSink) Appended() int {
	return s.appended
}

// Close flushes, syncs and closes the file. It is safe to call twice.
func (s *CsvSink) Close() error {
	if s.closed {
		return nil
	}
	flushErr := s.Flush()
	s.closed = true
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	if flushErr != nil {
		return flushErr
	}
	if syncErr != nil {
		return failure.IO("sync output", syncErr)
	}
	if closeErr != nil {
		return failure.IO("close output", closeErr)
	}
	return nil
}
