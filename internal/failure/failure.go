// Package failure classifies run errors into the taxonomy that decides retry
// behaviour and process exit codes.
//
// Errors are created and wrapped with github.com/cockroachdb/errors so that
// stack traces, hints and errors.Is/As all keep working across package
// boundaries. The Kind carried by an *Error is the single source of truth for
// the exit code a run finishes with.
package failure

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind is a failure category.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindFixture
	KindAuthentication
	KindNotFound
	KindTransient
	KindIO
	KindInterrupted
)

// Process exit codes, one per Kind.
const (
	ExitOK             = 0
	ExitUnknown        = 1
	ExitConfiguration  = 2
	ExitAuthentication = 3
	ExitNotFound       = 4
	ExitTransient      = 5
	ExitIO             = 6
	ExitFixture        = 7
	ExitInterrupted    = 130
)

var kindNames = map[Kind]string{
	KindUnknown:        "error",
	KindConfiguration:  "configuration error",
	KindFixture:        "fixture error",
	KindAuthentication: "authentication error",
	KindNotFound:       "not found",
	KindTransient:      "transient service error",
	KindIO:             "i/o error",
	KindInterrupted:    "interrupted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "error"
}

// ExitCode returns the process exit code for the kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindConfiguration:
		return ExitConfiguration
	case KindFixture:
		return ExitFixture
	case KindAuthentication:
		return ExitAuthentication
	case KindNotFound:
		return ExitNotFound
	case KindTransient:
		return ExitTransient
	case KindIO:
		return ExitIO
	case KindInterrupted:
		return ExitInterrupted
	default:
		return ExitUnknown
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted message.
func New(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: errors.NewWithDepthf(1, format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: errors.WithStackDepth(err, 1)}
}

// Configuration is shorthand for a KindConfiguration error.
func Configuration(format string, args ...interface{}) error {
	return &Error{Kind: KindConfiguration, Err: errors.NewWithDepthf(1, format, args...)}
}

// IO wraps a filesystem failure.
func IO(op string, err error) error {
	return Wrap(KindIO, op, err)
}

// KindOf reports the kind of the outermost classified error in err's chain.
// Context cancellation that was never classified counts as an interrupt.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindInterrupted
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ExitCode maps err to a process exit code; nil is success.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	return KindOf(err).ExitCode()
}

// Retryable reports whether an outer run-level retry may help.
func Retryable(err error) bool {
	return Is(err, KindTransient)
}

// WithLogHint attaches the path of the run log to err for the final diagnostic.
func WithLogHint(err error, logPath string) error {
	if err == nil || logPath == "" {
		return err
	}
	return errors.WithHintf(err, "log: %s", logPath)
}

// Diagnostic renders the one-line message printed to stderr for a fatal error.
func Diagnostic(app string, err error) string {
	msg := fmt.Sprintf("%s: %s: %v", app, KindOf(err), err)
	if hints := errors.FlattenHints(err); hints != "" {
		msg += " (" + hints + ")"
	}
	return msg
}
