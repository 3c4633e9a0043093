// Package columns resolves the output column set against a fixed allowlist
// and projects breach records onto ordered CSV rows.
package columns

import (
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/logging"
	"github.com/jonathan/breachcase/internal/records"
)

// Separator splits a requested column list.
const Separator = ","

// Spec is an ordered list of allowlisted field names. Duplicates are kept.
type Spec []string

// String renders the spec the way it was requested.
func (s Spec) String() string {
	return strings.Join(s, Separator)
}

// allowed is the set of field names that may appear in output.
var allowed = []string{
	"id",
	"email",
	"ip_address",
	"username",
	"password",
	"hashed_password",
	"hash_type",
	"name",
	"vin",
	"address",
	"phone",
	"database_name",
	"first_name",
	"last_name",
	"breach",
	"source",
	"ip",
	"domain",
	"created_at",
	"updated_at",
	"hash",
	"password_hash",
}

// DefaultSpec is used when no columns are requested. Secrets are left out.
var DefaultSpec = Spec{
	"email",
	"username",
	"name",
	"first_name",
	"last_name",
	"database_name",
	"breach",
	"domain",
}

// Allowlist returns a fresh copy of the allowlisted field set.
func Allowlist() map[string]struct{} {
	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		set[name] = struct{}{}
	}
	return set
}

// Resolver turns a requested column list into a Spec.
type Resolver struct {
	Allowlist map[string]struct{}
	Default   Spec
	Logger    *zap.SugaredLogger
}

// NewResolver returns a resolver over the built-in allowlist and defaults.
func NewResolver(logger *zap.SugaredLogger) *Resolver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Resolver{
		Allowlist: Allowlist(),
		Default:   DefaultSpec,
		Logger:    logger,
	}
}

// Resolve validates requested against the allowlist. An empty request
// returns the default spec unmodified. Unknown names are dropped and reported
// in a single warning; an empty result is a configuration error.
func (r *Resolver) Resolve(requested string) (Spec, error) {
	if requested == "" {
		return r.Default, nil
	}

	var spec Spec
	var dropped []string
	for _, part := range strings.Split(requested, Separator) {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if _, ok := r.Allowlist[name]; !ok {
			dropped = append(dropped, name)
			continue
		}
		spec = append(spec, name)
	}

	if len(dropped) > 0 {
		r.Logger.Warnw("Dropping columns not in allowlist",
			logging.FieldDropped, strings.Join(dropped, Separator))
	}

	if len(spec) == 0 {
		return nil, failure.Configuration("no allowlisted columns in %q", requested)
	}
	return spec, nil
}

// Projector maps records onto rows.
type Projector struct {
	// NeutralizeFormulas prefixes values that a spreadsheet would evaluate
	// as a formula with a single quote.
	NeutralizeFormulas bool
}

// Project returns one value per spec entry. Absent fields become "" so the
// row arity always equals len(spec).
func (p Projector) Project(rec records.Record, spec Spec) []string {
	row := make([]string, len(spec))
	for i, name := range spec {
		value := rec.Get(name)
		if p.NeutralizeFormulas {
			value = neutralize(value)
		}
		row[i] = value
	}
	return row
}

func neutralize(value string) string {
	if value == "" {
		return value
	}
	switch value[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + value
	}
	return value
}
