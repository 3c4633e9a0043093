package session

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"
)

// ManifestName is the manifest file name inside a case folder.
const ManifestName = "manifest.txt"

// Manifest is the fixed-schema record of one run.
type Manifest struct {
	App          string
	Version      string
	RunID        string
	Domain       string
	Invocation   string
	Runner       string
	ConfigSource string
	State        string
	StartTime    time.Time
	EndTime      time.Time
	ExitCode     int
	Error        string
	Attempts     int
	Rows         int
	Output       string
}

// Lines renders the manifest as ordered "key: value" lines.
func (m Manifest) Lines() []string {
	kv := [][2]string{
		{"app", m.App},
		{"version", m.Version},
		{"run_id", m.RunID},
		{"domain", m.Domain},
		{"invocation", m.Invocation},
		{"runner", m.Runner},
		{"config_source", m.ConfigSource},
		{"state", m.State},
		{"start_time", m.StartTime.Format(time.RFC3339)},
		{"end_time", m.EndTime.Format(time.RFC3339)},
		{"exit_code", strconv.Itoa(m.ExitCode)},
		{"error", m.Error},
		{"attempts", strconv.Itoa(m.Attempts)},
		{"rows", strconv.Itoa(m.Rows)},
		{"output", m.Output},
	}
	lines := make([]string, 0, len(kv))
	for _, pair := range kv {
		lines = append(lines, fmt.Sprintf("%s: %s", pair[0], oneLine(pair[1])))
	}
	return lines
}

// Write creates path and fails if it already exists.
func (m Manifest) Write(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	body := strings.Join(m.Lines(), "\n") + "\n"
	if _, err := f.WriteString(body); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ParseManifest reads "key: value" lines back into a map.
func ParseManifest(data string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(data, "\n") {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			key, ok = strings.CutSuffix(line, ":")
			if !ok {
				continue
			}
			value = ""
		}
		out[key] = value
	}
	return out
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " | ")
}

// Runner returns "user@host" for the current process, with "unknown" for
// whichever part cannot be determined.
func Runner() string {
	name := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return name + "@" + host
}
