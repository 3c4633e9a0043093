// Package main provides the breachcase command line tool.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/logging"
	"github.com/jonathan/breachcase/internal/pipeline"
	"github.com/jonathan/breachcase/internal/session"
)

const appName = "breachcase"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app holds what the subcommands share, so tests can run them in process.
type app struct {
	stdout io.Writer
	stderr io.Writer
	args   []string
	now    func() time.Time

	// secrets are redacted from the final diagnostic.
	secrets []string

	// openLedger connects the optional run ledger.
	openLedger func(ctx context.Context, databaseURL string) (runLedger, error)
	// runPipeline performs the export inside a session.
	runPipeline func(ctx context.Context, sess *session.Session, opts pipeline.RunOptions) (*pipeline.Result, error)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:      stdout,
		stderr:      stderr,
		now:         time.Now,
		openLedger:  connectLedger,
		runPipeline: pipeline.Run,
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Breach-exposure export with case folders and evidence",
		Long:          "breachcase queries breach-exposure records for a domain, writes an allowlisted CSV and keeps every run in a checksummed case folder.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return failure.Configuration("%v", err)
	})

	root.AddCommand(
		a.exportCmd(),
		a.summarizeCmd(),
		a.genFixturesCmd(),
		a.verifyCmd(),
		a.runsCmd(),
	)
	return root
}

// run executes args and returns the process exit code.
func (a *app) run(ctx context.Context, args []string) int {
	a.args = args
	root := a.rootCmd()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return failure.ExitOK
	}
	fmt.Fprintln(a.stderr, logging.Redact(failure.Diagnostic(appName, err), a.secrets...))
	return failure.ExitCode(err)
}

// invocation is the command line recorded in the manifest.
func (a *app) invocation() string {
	return strings.Join(append([]string{appName}, a.args...), " ")
}

// exactArgs is cobra.ExactArgs reporting a configuration error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return failure.Configuration("%v", err)
		}
		return nil
	}
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	os.Exit(newApp(os.Stdout, os.Stderr).run(context.Background(), os.Args[1:]))
}
