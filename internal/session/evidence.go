package session

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
)

// ArchiveEntry maps a file on disk to its name inside an archive.
type ArchiveEntry struct {
	Name string
	Path string
}

// Archiver bundles files into a single archive at dest.
type Archiver interface {
	Archive(dest string, entries []ArchiveEntry) error
}

// archiveEpoch is stamped on every entry so identical inputs produce
// identical archives.
var archiveEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// ZipArchiver writes deflate-compressed zip archives with sorted entries and
// fixed timestamps.
type ZipArchiver struct{}

// Archive implements Archiver.
func (ZipArchiver) Archive(dest string, entries []ArchiveEntry) error {
	sorted := append([]ArchiveEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)

	for _, entry := range sorted {
		if err := addZipEntry(zw, entry); err != nil {
			_ = zw.Close()
			_ = out.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func addZipEntry(zw *zip.Writer, entry ArchiveEntry) error {
	in, err := os.Open(entry.Path)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	header := &zip.FileHeader{
		Name:     filepath.ToSlash(entry.Name),
		Method:   zip.Deflate,
		Modified: archiveEpoch,
	}
	header.SetMode(0o644)
	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		return errors.Wrapf(err, "archive %s", entry.Name)
	}
	return nil
}

// FolderEntries lists every regular file under dir, named relative to the
// folder's parent so the archive unpacks into a single directory.
func FolderEntries(dir string) ([]ArchiveEntry, error) {
	base := filepath.Dir(dir)
	var entries []ArchiveEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		entries = append(entries, ArchiveEntry{Name: rel, Path: path})
		return nil
	})
	return entries, err
}
