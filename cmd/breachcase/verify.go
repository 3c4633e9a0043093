package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/observability"
	"github.com/jonathan/breachcase/internal/session"
)

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <case-folder>",
		Short: "Recompute the checksums of a case folder and its evidence archive",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runVerify(args[0])
		},
	}
}

func (a *app) runVerify(dir string) error {
	checks, err := session.Verify(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return failure.Configuration("case folder not found: %s", dir)
		}
		return failure.IO("read case folder", err)
	}
	if len(checks) == 0 {
		return failure.New(failure.KindNotFound, "verify", "no checksum sidecars in %s", dir)
	}

	rows := make([]observability.ChecksumRow, 0, len(checks))
	failed := 0
	for _, c := range checks {
		rows = append(rows, observability.ChecksumRow{
			Artifact: c.Artifact,
			Status:   c.Status,
			Expected: c.Expected,
			Actual:   c.Actual,
		})
		if !c.OK() {
			failed++
		}
	}
	observability.NewPrinter(a.stdout).PrintChecksumReport(rows)

	if failed > 0 {
		return failure.New(failure.KindUnknown, "verify", "%d of %d artifacts failed verification", failed, len(checks))
	}
	return nil
}
