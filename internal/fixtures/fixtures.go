// Package fixtures generates deterministic, search-response shaped fixture
// files for offline runs and tests.
package fixtures

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/logging"
)

var (
	DefaultFreemail = []string{"gmail.com", "outlook.com", "yahoo.com"}
	DefaultBreaches = []string{"LinkedIn", "Dropbox", "Adobe", "Canva", "Twitter", "Collection#1"}
)

var (
	firstNames = []string{"Alice", "Bob", "Carol", "Dave", "Eve", "Frank", "Grace", "Heidi", "Ivan", "Judy",
		"Mallory", "Niaj", "Olivia", "Peggy", "Rupert", "Sybil", "Trent", "Uma", "Victor", "Wendy"}
	lastNames = []string{"Smith", "Johnson", "Brown", "Taylor", "Anderson", "Thomas", "Jackson", "White",
		"Harris", "Martin", "Thompson", "Garcia", "Martinez", "Robinson", "Clark"}
	streets = []string{"Main", "Oak", "Pine", "Cedar", "Maple", "Elm"}
)

const (
	passwordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
	hexChars      = "0123456789abcdef"
)

// Options controls generation. Zero values take the documented defaults
// except PreferCorporate, where zero means every address is freemail.
type Options struct {
	Domain           string
	Dir              string
	Pages            int
	PerPage          int
	Seed             uint64
	PreferCorporate  float64
	Freemail         []string
	Breaches         []string
	IncludePasswords bool
	// Now anchors generated timestamps; output is reproducible for a fixed
	// Seed and Now.
	Now    time.Time
	Logger *zap.SugaredLogger
}

// DefaultOptions mirrors the generator's command-line defaults.
func DefaultOptions() Options {
	return Options{
		Domain:          "example.com",
		Dir:             "fixtures",
		Pages:           2,
		PerPage:         200,
		Seed:            1234,
		PreferCorporate: 0.7,
		Freemail:        DefaultFreemail,
		Breaches:        DefaultBreaches,
	}
}

// FileName is the fixture file name for a page.
func FileName(domain string, page int) string {
	return fmt.Sprintf("%s_page%d.json", domain, page)
}

func (o *Options) validate() error {
	switch {
	case o.Domain == "":
		return failure.Configuration("fixture domain is required")
	case o.Pages < 1:
		return failure.Configuration("pages must be at least 1, got %d", o.Pages)
	case o.PerPage < 0:
		return failure.Configuration("per-page must not be negative, got %d", o.PerPage)
	case o.PreferCorporate < 0 || o.PreferCorporate > 1:
		return failure.Configuration("prefer-corporate must be within [0,1], got %g", o.PreferCorporate)
	case len(o.Freemail) == 0:
		return failure.Configuration("at least one freemail domain is required")
	case len(o.Breaches) == 0:
		return failure.Configuration("at least one breach name is required")
	}
	return nil
}

type generator struct {
	rng  *rand.Rand
	opts Options
}

// Generate writes Pages files of PerPage entries into Dir and returns their
// paths.
func Generate(opts Options) ([]string, error) {
	opts.Freemail = clean(opts.Freemail)
	opts.Breaches = clean(opts.Breaches)
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, failure.IO("create fixture directory", err)
	}

	g := &generator{rng: rand.New(rand.NewPCG(opts.Seed, opts.Seed)), opts: opts}
	paths := make([]string, 0, opts.Pages)
	for page := 1; page <= opts.Pages; page++ {
		entries := make([]map[string]string, 0, opts.PerPage)
		for i := 0; i < opts.PerPage; i++ {
			entries = append(entries, g.entry())
		}

		data, err := marshal(entries)
		if err != nil {
			return nil, failure.Wrap(failure.KindFixture, "encode fixture", err)
		}
		path := filepath.Join(opts.Dir, FileName(opts.Domain, page))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, failure.IO("write fixture", err)
		}
		logger.Infow("Wrote fixture", logging.FieldFile, path, logging.FieldCount, len(entries))
		paths = append(paths, path)
	}
	return paths, nil
}

func clean(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func marshal(entries []map[string]string) ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{"entries": entries}); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (g *generator) pick(items []string) string {
	return items[g.rng.IntN(len(items))]
}

// between returns a uniform integer in [lo, hi].
func (g *generator) between(lo, hi int) int {
	return lo + g.rng.IntN(hi-lo+1)
}

func (g *generator) entry() map[string]string {
	first := g.pick(firstNames)
	last := g.pick(lastNames)
	domain := g.opts.Domain
	if g.rng.Float64() >= g.opts.PreferCorporate {
		domain = g.pick(g.opts.Freemail)
	}
	username := g.username(first, last)

	item := map[string]string{
		"email":      username + "@" + domain,
		"first_name": first,
		"last_name":  last,
		"name":       first + " " + last,
		"username":   username,
		"breach":     g.pick(g.opts.Breaches),
		"source":     "fixture",
		"ip":         g.ip(),
		"address":    fmt.Sprintf("%d %s St", g.between(10, 9999), g.pick(streets)),
		"created_at": g.pastTimestamp(),
		"updated_at": g.pastTimestamp(),
		"domain":     domain,
	}
	if g.opts.IncludePasswords {
		item["password"] = g.password()
		item["hashed_password"] = g.hex(64)
		item["hash"] = g.hex(64)
		item["password_hash"] = g.hex(64)
	}
	return item
}

func (g *generator) username(first, last string) string {
	f, l := strings.ToLower(first), strings.ToLower(last)
	forms := []string{f, l, f[:1] + l, f + "." + l}
	suffix := ""
	// one in four usernames carries a numeric suffix
	if g.rng.IntN(4) == 3 {
		suffix = strconv.Itoa(g.between(1, 9999))
	}
	return g.pick(forms) + suffix
}

func (g *generator) ip() string {
	parts := make([]string, 4)
	for i := range parts {
		parts[i] = strconv.Itoa(g.between(1, 254))
	}
	return strings.Join(parts, ".")
}

func (g *generator) password() string {
	n := g.between(8, 14)
	b := make([]byte, n)
	for i := range b {
		b[i] = passwordChars[g.rng.IntN(len(passwordChars))]
	}
	return string(b)
}

func (g *generator) hex(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = hexChars[g.rng.IntN(len(hexChars))]
	}
	return string(b)
}

func (g *generator) pastTimestamp() string {
	back := time.Duration(g.between(0, 365))*24*time.Hour +
		time.Duration(g.between(0, 23))*time.Hour +
		time.Duration(g.between(0, 59))*time.Minute
	return g.opts.Now.UTC().Add(-back).Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}
