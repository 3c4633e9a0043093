// Package observability provides formatted terminal output for export runs.
package observability

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 10
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for _, line := range lines {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, fitLine(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// fitLine shortens line to width runes. A leading "Label:" and its padding
// are kept, and the middle of the value is elided so both ends stay visible.
func fitLine(line string, width int) string {
	runes := []rune(line)
	if len(runes) <= width {
		return line
	}

	prefix := 0
	if i := strings.Index(line, ": "); i > 0 {
		j := i + 1
		for j < len(line) && line[j] == ' ' {
			j++
		}
		prefix = len([]rune(line[:j]))
	}
	if prefix > width/2 {
		prefix = 0
	}

	avail := width - prefix - len(ellipsis)
	head := avail / 3
	tail := avail - head
	return string(runes[:prefix+head]) + ellipsis + string(runes[len(runes)-tail:])
}

const ellipsis = "..."

// RunSummary is what the export command reports when a run ends.
type RunSummary struct {
	Domain   string
	RunID    string
	Mode     string
	Columns  string
	Pages    int
	Rows     int
	Attempts int
	State    string
	ExitCode int
	CaseDir  string
	Output   string
	Archive  string
	Duration time.Duration
}

// PrintRunSummary outputs a boxed summary of a finished export.
func (p *Printer) PrintRunSummary(s *RunSummary) {
	if s == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Domain:   %s\n", s.Domain))
	sb.WriteString(fmt.Sprintf("Run ID:   %s\n", s.RunID))
	if s.Mode != "" {
		sb.WriteString(fmt.Sprintf("Mode:     %s\n", s.Mode))
	}
	if s.Columns != "" {
		sb.WriteString(fmt.Sprintf("Columns:  %s\n", s.Columns))
	}
	sb.WriteString(fmt.Sprintf("Rows:     %d (%d pages, %d attempts)\n", s.Rows, s.Pages, s.Attempts))
	sb.WriteString(fmt.Sprintf("State:    %s (exit %d)\n", s.State, s.ExitCode))
	sb.WriteString(fmt.Sprintf("Duration: %s\n", s.Duration.Round(time.Millisecond)))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Case:     %s\n", s.CaseDir))
	sb.WriteString(fmt.Sprintf("Output:   %s\n", s.Output))
	if s.Archive != "" {
		sb.WriteString(fmt.Sprintf("Evidence: %s\n", s.Archive))
	}

	p.printBox("EXPORT SUMMARY", sb.String())
}

// PrintExcerpt outputs the summarize result in a box, capped at
// maxItemsToShow lines.
func (p *Printer) PrintExcerpt(lines []string, breached int) {
	var sb strings.Builder
	count := min(len(lines), maxItemsToShow)
	for i := 0; i < count; i++ {
		sb.WriteString(fmt.Sprintf("  • %s\n", lines[i]))
	}
	if len(lines) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(lines)-maxItemsToShow))
	}
	if len(lines) == 0 {
		sb.WriteString("  (none)\n")
	}
	sb.WriteString(fmt.Sprintf("\nBreached Databases: %d\n", breached))
	p.printBox("EXCERPT", sb.String())
}

// ChecksumRow is one line of a verification report.
type ChecksumRow struct {
	Artifact string
	Status   string
	Expected string
	Actual   string
}

// PrintChecksumReport renders verification results as a table.
func (p *Printer) PrintChecksumReport(rows []ChecksumRow) {
	tw := table.NewWriter()
	tw.SetOutputMirror(p.out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Artifact", "Status", "Expected", "Actual"})
	for _, r := range rows {
		tw.AppendRow(table.Row{r.Artifact, r.Status, short(r.Expected), short(r.Actual)})
	}
	tw.Render()
}

// RunRow is one ledger entry in the runs table.
type RunRow struct {
	RunID    string
	Domain   string
	Started  time.Time
	Finished *time.Time
	State    string
	ExitCode *int
	Rows     *int64
	CaseDir  string
}

// PrintRunsTable renders ledger entries, newest first as given. Runs that
// never recorded an outcome show "-" for the finish columns.
func (p *Printer) PrintRunsTable(rows []RunRow) {
	tw := table.NewWriter()
	tw.SetOutputMirror(p.out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Run", "Domain", "Started", "Duration", "State", "Exit", "Rows", "Case folder"})
	for _, r := range rows {
		duration, exit, count := "-", "-", "-"
		if r.Finished != nil {
			duration = r.Finished.Sub(r.Started).Round(time.Second).String()
		}
		if r.ExitCode != nil {
			exit = strconv.Itoa(*r.ExitCode)
		}
		if r.Rows != nil {
			count = strconv.FormatInt(*r.Rows, 10)
		}
		tw.AppendRow(table.Row{
			shortID(r.RunID), r.Domain, r.Started.UTC().Format(time.RFC3339),
			duration, r.State, exit, count, r.CaseDir,
		})
	}
	if len(rows) == 0 {
		tw.AppendFooter(table.Row{"no runs recorded"})
	}
	tw.Render()
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// short abbreviates a hex digest for display.
func short(digest string) string {
	if len(digest) <= 16 {
		return digest
	}
	return digest[:16] + "…"
}
