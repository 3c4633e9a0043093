package session

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Verification statuses.
const (
	StatusOK       = "OK"
	StatusMismatch = "MISMATCH"
	StatusMissing  = "MISSING"
	StatusInvalid  = "INVALID"
)

// Check is the verification result for one artifact.
type Check struct {
	Artifact string
	Path     string
	Status   string
	Expected string
	Actual   string
}

// OK reports whether the artifact matched its sidecar.
func (c Check) OK() bool {
	return c.Status == StatusOK
}

// Verify recomputes every checksum sidecar in a case folder, the sidecar of
// an output recorded in the manifest outside the folder, and the sidecar of
// a sibling evidence archive.
func Verify(dir string) ([]Check, error) {
	dir = filepath.Clean(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var sidecars []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ChecksumExt) {
			sidecars = append(sidecars, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(sidecars)

	if data, err := os.ReadFile(filepath.Join(dir, ManifestName)); err == nil {
		if out := ParseManifest(string(data))["output"]; out != "" && filepath.Dir(filepath.Clean(out)) != dir {
			if _, err := os.Stat(out + ChecksumExt); err == nil {
				sidecars = append(sidecars, out+ChecksumExt)
			}
		}
	}
	if _, err := os.Stat(dir + ArchiveExt + ChecksumExt); err == nil {
		sidecars = append(sidecars, dir+ArchiveExt+ChecksumExt)
	}

	checks := make([]Check, 0, len(sidecars))
	for _, sidecar := range sidecars {
		checks = append(checks, verifyOne(sidecar))
	}
	return checks, nil
}

func verifyOne(sidecar string) Check {
	artifact := strings.TrimSuffix(sidecar, ChecksumExt)
	c := Check{Artifact: filepath.Base(artifact), Path: artifact}

	expected, err := ReadChecksum(sidecar)
	if err != nil {
		c.Status = StatusInvalid
		return c
	}
	c.Expected = expected

	actual, err := FileSHA256(artifact)
	if err != nil {
		c.Status = StatusMissing
		return c
	}
	c.Actual = actual

	if actual == expected {
		c.Status = StatusOK
	} else {
		c.Status = StatusMismatch
	}
	return c
}
