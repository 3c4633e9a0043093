// Package config merges the export configuration from built-in defaults, an
// optional YAML/JSON file, BREACHCASE_* environment variables and explicitly
// set command-line flags, in increasing order of precedence.
package config

import (
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/fetch"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "BREACHCASE_"

// DefaultConfigFile is read from the working directory when --config is not given.
const DefaultConfigFile = "breachcase.yaml"

// Fallback credential variables.
const (
	LegacyUserEnv = "DEHASHED_EMAIL"
	LegacyKeyEnv  = "DEHASHED_API_KEY"
	DatabaseEnv   = "DATABASE_URL"
)

// Config is the merged configuration for one export run.
type Config struct {
	Domain   string `koanf:"domain"`
	Out      string `koanf:"out"`
	Columns  string `koanf:"columns"`
	Resume   bool   `koanf:"resume"`
	Fixtures string `koanf:"fixtures"`
	DryRun   bool   `koanf:"dry_run"`
	Evidence bool   `koanf:"evidence"`

	// Outer run-level retry
	Retries   int           `koanf:"retries" validate:"gte=0,lte=100"`
	RetryWait time.Duration `koanf:"retry_wait" validate:"gte=0s"`

	// Per-page fetch
	MaxPages    int           `koanf:"max_pages" validate:"gte=1,lte=10000"`
	PageDelay   time.Duration `koanf:"page_delay" validate:"gte=0s"`
	PageRetries int           `koanf:"page_retries" validate:"gte=1,lte=50"`
	PageBackoff time.Duration `koanf:"page_backoff" validate:"gte=0s"`
	Expand      bool          `koanf:"expand"`
	APIURL      string        `koanf:"api_url" validate:"required,url"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0s"`

	CaseRoot     string `koanf:"case_root" validate:"required"`
	DatabaseURL  string `koanf:"database_url"`
	Verbose      bool   `koanf:"verbose"`
	SafeFormulas bool   `koanf:"safe_formulas"`

	// Credentials never come from flags.
	APIUser string `koanf:"api_user"`
	APIKey  string `koanf:"api_key"`

	// Source is the config file actually read, if any.
	Source string `koanf:"-"`
}

// Defaults returns the built-in configuration values.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"case_root":    "cases",
		"retries":      0,
		"retry_wait":   "10s",
		"max_pages":    20,
		"page_delay":   "1s",
		"page_retries": 5,
		"page_backoff": "1s",
		"api_url":      fetch.DefaultEndpoint,
		"timeout":      "30s",
	}
}

// LoadOptions selects the sources to merge.
type LoadOptions struct {
	// File is an explicit config path. Empty means DefaultConfigFile if present.
	File string
	// Flags contributes only flags whose Changed bit is set.
	Flags *pflag.FlagSet
}

// skippedFlags never reach the config tree.
var skippedFlags = map[string]bool{
	"config": true,
	"help":   true,
}

// Load merges defaults, file, environment and flags, then validates.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, failure.Wrap(failure.KindConfiguration, "load defaults", err)
	}

	source := opts.File
	if source == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			source = DefaultConfigFile
		}
	}
	if source != "" {
		if err := k.Load(file.Provider(source), yaml.Parser()); err != nil {
			return nil, failure.Configuration("read config file %s: %v", source, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, failure.Wrap(failure.KindConfiguration, "load environment", err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || skippedFlags[f.Name] {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(opts.Flags, f)
		}), nil); err != nil {
			return nil, failure.Wrap(failure.KindConfiguration, "load flags", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, failure.Configuration("decode config: %v", err)
	}
	cfg.Source = source
	if k.Exists("columns") && strings.TrimSpace(cfg.Columns) == "" {
		return nil, failure.Configuration("columns is set but empty; omit it to use the default column spec")
	}
	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyFallbacks() {
	if c.APIUser == "" {
		c.APIUser = os.Getenv(LegacyUserEnv)
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv(LegacyKeyEnv)
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv(DatabaseEnv)
	}
	c.Columns = strings.TrimSpace(c.Columns)
}

var validate = newValidator()

// newValidator reports fields by their config key.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := f.Tag.Get("koanf")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks numeric ranges and URL syntax. Cross-field rules that
// depend on the run mode are checked when the mode is selected.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return failure.Configuration("invalid %s: failed %q check (got %v)",
				fe.Field(), fe.Tag(), fe.Value())
		}
		return failure.Configuration("invalid config: %v", err)
	}
	return nil
}

// Credentials returns the configured API credential pair.
func (c *Config) Credentials() fetch.Credentials {
	return fetch.Credentials{User: c.APIUser, Key: c.APIKey}
}

// Secrets lists values that must never appear in output.
func (c *Config) Secrets() []string {
	secrets := []string{c.APIKey}
	if u, err := url.Parse(c.DatabaseURL); err == nil && u.User != nil {
		if pw, ok := u.User.Password(); ok && pw != "" {
			secrets = append(secrets, pw)
		}
	}
	return secrets
}
