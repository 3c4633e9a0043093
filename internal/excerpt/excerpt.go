// Package excerpt renders a short "Name <email>" excerpt and a count of
// distinct breached databases from an exported CSV.
package excerpt

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/logging"
)

// DefaultLimit is the number of excerpt lines shown when none is given.
const DefaultLimit = 10

// sampleSize is how much input is inspected to detect the delimiter.
const sampleSize = 64 << 10

// Candidate delimiters in tie-break order.
var delimiters = []rune{',', ';', '\t', '|', ':'}

var aliases = map[string]map[string]bool{
	"email":  set("email", "email_address", "e-mail", "mail", "addr", "address_email"),
	"name":   set("name", "full_name", "fullname", "display_name"),
	"first":  set("first_name", "firstname", "given_name", "givenname", "first"),
	"last":   set("last_name", "lastname", "surname", "family_name", "familyname", "last"),
	"breach": set("breach", "source", "database", "database_name", "breach_name"),
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}

// Options tunes column selection, decoding and ranking.
type Options struct {
	Limit int
	// Explicit column names, matched case-insensitively: exact first, then substring.
	EmailCol  string
	NameCol   string
	FirstCol  string
	LastCol   string
	BreachCol string
	// Delimiter is "auto" (or empty) or a single character; `\t` means tab.
	Delimiter string
	// Encoding is utf-8 (invalid bytes replaced), latin-1 or windows-1252.
	Encoding string
	// PreferDomain ranks addresses at this domain first.
	PreferDomain string
	Logger       *zap.SugaredLogger
}

// Result is the excerpt and breach count.
type Result struct {
	Excerpt           []string `json:"excerpt"`
	BreachedDatabases int      `json:"breached_databases"`

	Empty            bool `json:"-"`
	EmailColumnFound bool `json:"-"`
	Delimiter        rune `json:"-"`
}

// Decoder returns the text decoder for an encoding name.
func Decoder(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "", "utf-8", "utf8":
		return unicode.UTF8.NewDecoder(), nil
	case "latin-1", "latin1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	default:
		return nil, failure.Configuration("unsupported encoding %q", name)
	}
}

// ParseDelimiter resolves a delimiter option. Zero means auto-detect.
func ParseDelimiter(s string) (rune, error) {
	switch s {
	case "", "auto":
		return 0, nil
	case `\t`, "tab":
		return '\t', nil
	}
	runes := []rune(s)
	if len(runes) != 1 {
		return 0, failure.Configuration("delimiter must be a single character, got %q", s)
	}
	return runes[0], nil
}

// SummarizeFile opens path and summarizes it.
func SummarizeFile(path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Configuration("file not found: %s", path)
		}
		return nil, failure.IO("open "+path, err)
	}
	defer func() { _ = f.Close() }()
	return Summarize(f, opts)
}

type ranked struct {
	preferMiss int
	noName     int
	order      int
	display    string
}

// Summarize reads CSV from r and builds the excerpt.
func Summarize(r io.Reader, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	dec, err := Decoder(opts.Encoding)
	if err != nil {
		return nil, err
	}
	delim, err := ParseDelimiter(opts.Delimiter)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(transform.NewReader(r, dec), sampleSize)
	if delim == 0 {
		sample, _ := br.Peek(sampleSize)
		delim = DetectDelimiter(string(sample))
		logger.Infow("Detected delimiter", logging.FieldDelimiter, string(delim))
	}

	reader := csv.NewReader(br)
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	// Leading whitespace is skipped unless the delimiter is whitespace.
	reader.TrimLeadingSpace = delim != '\t' && delim != ' '

	result := &Result{Excerpt: []string{}, Delimiter: delim}

	header, err := reader.Read()
	if err == io.EOF {
		result.Empty = true
		return result, nil
	}
	if err != nil {
		return nil, failure.Wrap(failure.KindIO, "CSV header parse failed", err)
	}

	headerLower := make([]string, len(header))
	for i, h := range header {
		headerLower[i] = strings.ToLower(strings.TrimSpace(h))
	}
	// A UTF-8 BOM would hide the first column name.
	if len(headerLower) > 0 {
		headerLower[0] = strings.TrimPrefix(headerLower[0], "\ufeff")
	}

	idxEmail := chooseColumn(headerLower, "email", opts.EmailCol)
	idxName := chooseColumn(headerLower, "name", opts.NameCol)
	idxFirst := chooseColumn(headerLower, "first", opts.FirstCol)
	idxLast := chooseColumn(headerLower, "last", opts.LastCol)
	idxBreach := chooseColumn(headerLower, "breach", opts.BreachCol)

	result.EmailColumnFound = idxEmail >= 0
	if !result.EmailColumnFound {
		logger.Warnw("No email column found; excerpt will be empty")
	}

	prefer := strings.ToLower(strings.TrimSpace(opts.PreferDomain))
	breaches := make(map[string]struct{})
	var items []ranked

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, failure.Wrap(failure.KindIO, "CSV parse failed", err)
		}

		if b := field(row, idxBreach); b != "" {
			breaches[b] = struct{}{}
		}

		email := field(row, idxEmail)
		if email == "" {
			continue
		}
		name := buildName(row, idxName, idxFirst, idxLast)
		display := email
		if name != "" {
			display = fmt.Sprintf("%s <%s>", name, email)
		}

		item := ranked{preferMiss: 1, noName: 1, order: len(items), display: display}
		if prefer != "" && emailDomain(email) == prefer {
			item.preferMiss = 0
		}
		if name != "" {
			item.noName = 0
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.preferMiss != b.preferMiss {
			return a.preferMiss < b.preferMiss
		}
		if a.noName != b.noName {
			return a.noName < b.noName
		}
		return a.order < b.order
	})

	seen := make(map[string]bool)
	for _, item := range items {
		if seen[item.display] {
			continue
		}
		seen[item.display] = true
		result.Excerpt = append(result.Excerpt, item.display)
		if len(result.Excerpt) >= limit {
			break
		}
	}
	result.BreachedDatabases = len(breaches)
	return result, nil
}

// chooseColumn returns the index of the column for role, or -1. An explicit
// name wins by exact match, then by substring; otherwise the first header
// that is a known alias is used.
func chooseColumn(headerLower []string, role, explicit string) int {
	if explicit = strings.ToLower(strings.TrimSpace(explicit)); explicit != "" {
		for i, h := range headerLower {
			if h == explicit {
				return i
			}
		}
		for i, h := range headerLower {
			if strings.Contains(h, explicit) {
				return i
			}
		}
	}
	for i, h := range headerLower {
		if aliases[role][h] {
			return i
		}
	}
	return -1
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func buildName(row []string, idxName, idxFirst, idxLast int) string {
	if name := field(row, idxName); name != "" {
		return name
	}
	first, last := field(row, idxFirst), field(row, idxLast)
	return strings.TrimSpace(strings.Join([]string{first, last}, " "))
}

// emailDomain returns the lowercased part after the first '@' that is
// followed only by non-'>' characters.
func emailDomain(email string) string {
	for i := 0; i < len(email); i++ {
		if email[i] != '@' {
			continue
		}
		rest := email[i+1:]
		if rest != "" && !strings.Contains(rest, ">") {
			return strings.ToLower(rest)
		}
	}
	return ""
}

// DetectDelimiter picks the candidate that splits the sample's lines into a
// consistent, non-zero number of fields, preferring the one with the most
// splits. Without a consistent candidate the most frequent one wins; an
// empty sample yields ','.
func DetectDelimiter(sample string) rune {
	lines := sampleLines(sample, 20)
	if len(lines) == 0 {
		return ','
	}

	best, bestCount := rune(0), 0
	for _, d := range delimiters {
		n := countOutsideQuotes(lines[0], d)
		if n == 0 {
			continue
		}
		consistent := true
		for _, line := range lines[1:] {
			if countOutsideQuotes(line, d) != n {
				consistent = false
				break
			}
		}
		if consistent && n > bestCount {
			best, bestCount = d, n
		}
	}
	if best != 0 {
		return best
	}

	best, bestCount = ',', 0
	for _, d := range delimiters {
		if n := strings.Count(sample, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// sampleLines returns up to limit complete non-empty lines. The last line is
// dropped when the sample was cut mid-line.
func sampleLines(sample string, limit int) []string {
	complete := strings.HasSuffix(sample, "\n")
	raw := strings.Split(strings.ReplaceAll(sample, "\r\n", "\n"), "\n")
	if !complete && len(raw) > 1 {
		raw = raw[:len(raw)-1]
	}
	var lines []string
	for _, line := range raw {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == limit {
			break
		}
	}
	return lines
}

func countOutsideQuotes(line string, d rune) int {
	n, quoted := 0, false
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == d && !quoted:
			n++
		}
	}
	return n
}

// WriteText renders the human-readable report.
func (r *Result) WriteText(w io.Writer) error {
	var b bytes.Buffer
	b.WriteString("Excerpt (name <email>)\n")
	switch {
	case r.Empty:
		b.WriteString("(empty file)\n")
	case len(r.Excerpt) > 0:
		for _, line := range r.Excerpt {
			b.WriteString(line + "\n")
		}
	case !r.EmailColumnFound:
		b.WriteString("(no email column found)\n")
	default:
		b.WriteString("(no rows with emails found)\n")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Breached Databases: %d\n", r.BreachedDatabases)
	_, err := w.Write(b.Bytes())
	return err
}

// MarshalSidecar renders the JSON summary with two-space indentation and
// without HTML escaping.
func (r *Result) MarshalSidecar() ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// WriteSidecar writes the JSON summary to path.
func (r *Result) WriteSidecar(path string) error {
	data, err := r.MarshalSidecar()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
