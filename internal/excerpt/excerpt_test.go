package excerpt

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/breachcase/internal/failure"
)

func summarize(t *testing.T, input string, opts Options) *Result {
	t.Helper()
	res, err := Summarize(strings.NewReader(input), opts)
	require.NoError(t, err)
	return res
}

func text(t *testing.T, r *Result) string {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, r.WriteText(&b))
	return b.String()
}

func TestSummarize_ExportedCSV(t *testing.T) {
	input := "email,username,name,first_name,last_name,database_name,breach,domain\n" +
		"a@example.com,,,Ann,Lee,LeakDB,,example.com\n" +
		"b@other.org,,Bob Stone,,,LeakDB,,other.org\n" +
		"c@example.com,,,,,ComboList,,example.com\n"

	res := summarize(t, input, Options{})

	assert.Equal(t, []string{"Ann Lee <a@example.com>", "Bob Stone <b@other.org>", "c@example.com"}, res.Excerpt)
	assert.Equal(t, 2, res.BreachedDatabases)
	assert.Equal(t, ',', res.Delimiter)
	assert.Equal(t, "Excerpt (name <email>)\nAnn Lee <a@example.com>\nBob Stone <b@other.org>\nc@example.com\n\nBreached Databases: 2\n", text(t, res))
}

func TestSummarize_PreferDomainRanksFirst(t *testing.T) {
	input := "email,name\n" +
		"x@other.org,Xavier\n" +
		"y@example.com,\n" +
		"z@example.com,Zed\n"

	res := summarize(t, input, Options{PreferDomain: "Example.com"})
	assert.Equal(t, []string{"Zed <z@example.com>", "y@example.com", "Xavier <x@other.org>"}, res.Excerpt)
}

func TestSummarize_DedupesAndLimits(t *testing.T) {
	var b strings.Builder
	b.WriteString("email\n")
	for i := 0; i < 30; i++ {
		b.WriteString("same@example.com\n")
	}
	for _, e := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		b.WriteString(e + "\n")
	}

	res := summarize(t, b.String(), Options{Limit: 3})
	assert.Equal(t, []string{"same@example.com", "a@x.io", "b@x.io"}, res.Excerpt)
}

func TestSummarize_DetectsSemicolon(t *testing.T) {
	input := "Email;Full_Name;Source\n\"a@x.io\";\"Ann; Jr\";db1\nb@x.io;Bob;db2\n"
	res := summarize(t, input, Options{})
	assert.Equal(t, ';', res.Delimiter)
	assert.Equal(t, []string{"Ann; Jr <a@x.io>", "Bob <b@x.io>"}, res.Excerpt)
	assert.Equal(t, 2, res.BreachedDatabases)
}

func TestSummarize_ManualTabDelimiter(t *testing.T) {
	res := summarize(t, "mail\tsurname\nq@x.io\tQuinn\n", Options{Delimiter: `\t`})
	assert.Equal(t, '\t', res.Delimiter)
	assert.Equal(t, []string{"Quinn <q@x.io>"}, res.Excerpt)
}

func TestSummarize_ExplicitColumns(t *testing.T) {
	input := "contact_addr,who,leak\np@x.io,Pat,db\n"
	res := summarize(t, input, Options{EmailCol: "contact", NameCol: "WHO", BreachCol: "leak"})
	assert.Equal(t, []string{"Pat <p@x.io>"}, res.Excerpt)
	assert.Equal(t, 1, res.BreachedDatabases)
}

func TestSummarize_EmptyFile(t *testing.T) {
	res := summarize(t, "", Options{})
	assert.True(t, res.Empty)
	assert.Equal(t, "Excerpt (name <email>)\n(empty file)\n\nBreached Databases: 0\n", text(t, res))
}

func TestSummarize_NoEmailColumn(t *testing.T) {
	res := summarize(t, "username,breach\nbob,db1\nann,db2\n", Options{})
	assert.False(t, res.EmailColumnFound)
	assert.Equal(t, 2, res.BreachedDatabases)
	assert.Contains(t, text(t, res), "(no email column found)")
}

func TestSummarize_NoRowsWithEmails(t *testing.T) {
	res := summarize(t, "email,name\n,Ann\n", Options{})
	assert.Contains(t, text(t, res), "(no rows with emails found)")
}

func TestSummarize_Latin1(t *testing.T) {
	input := []byte("email,name\nj@x.io,Jos\xe9\n")
	res, err := Summarize(bytes.NewReader(input), Options{Encoding: "latin-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"José <j@x.io>"}, res.Excerpt)
}

func TestSummarize_InvalidUTF8IsReplaced(t *testing.T) {
	input := []byte("email,name\nj@x.io,Jos\xe9\n")
	res, err := Summarize(bytes.NewReader(input), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Jos\uFFFD <j@x.io>"}, res.Excerpt)
}

func TestSummarize_UnsupportedEncoding(t *testing.T) {
	_, err := Summarize(strings.NewReader("email\n"), Options{Encoding: "ebcdic"})
	require.Error(t, err)
	assert.Equal(t, failure.KindConfiguration, failure.KindOf(err))
}

func TestParseDelimiter(t *testing.T) {
	d, err := ParseDelimiter("auto")
	require.NoError(t, err)
	assert.Equal(t, rune(0), d)

	d, err = ParseDelimiter("|")
	require.NoError(t, err)
	assert.Equal(t, '|', d)

	_, err = ParseDelimiter(",,")
	assert.Error(t, err)
}

func TestDetectDelimiter(t *testing.T) {
	assert.Equal(t, ',', DetectDelimiter(""))
	assert.Equal(t, '|', DetectDelimiter("a|b|c\n1|2|3\n"))
	assert.Equal(t, ',', DetectDelimiter("a,b\n1,2\n"))
	assert.Equal(t, ':', DetectDelimiter("a:b\n1:2\n"))
}

func TestSidecar(t *testing.T) {
	res := &Result{Excerpt: []string{"Ann <a@x.io>"}, BreachedDatabases: 1}
	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, res.WriteSidecar(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Ann <a@x.io>")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 1, decoded["breached_databases"])
}

func TestSummarizeFile_Missing(t *testing.T) {
	_, err := SummarizeFile(filepath.Join(t.TempDir(), "nope.csv"), Options{})
	require.Error(t, err)
	assert.Equal(t, failure.ExitConfiguration, failure.ExitCode(err))
}
