package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/breachcase/internal/domainname"
	"github.com/jonathan/breachcase/internal/excerpt"
	"github.com/jonathan/breachcase/internal/logging"
	"github.com/jonathan/breachcase/internal/observability"
)

type summarizeFlags struct {
	limit        int
	emailCol     string
	nameCol      string
	firstCol     string
	lastCol      string
	breachCol    string
	delimiter    string
	encoding     string
	preferDomain string
	jsonFile     string
	boxed        bool
	verbose      bool
}

func (a *app) summarizeCmd() *cobra.Command {
	var flags summarizeFlags
	cmd := &cobra.Command{
		Use:   "summarize <csv>",
		Short: "Print a short excerpt and the breached-database count for an exported CSV",
		Long: `Reads an exported CSV, picks up to --limit "Name <email>" lines ranked by the
preferred domain and by whether a name is known, and counts the distinct breach
sources. The delimiter is detected unless --delimiter is given.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSummarize(args[0], flags)
		},
	}

	f := cmd.Flags()
	f.IntVar(&flags.limit, "limit", 10, "Maximum excerpt lines")
	f.StringVar(&flags.emailCol, "email-col", "", "Email column name")
	f.StringVar(&flags.nameCol, "name-col", "", "Full name column name")
	f.StringVar(&flags.firstCol, "first-col", "", "First name column name")
	f.StringVar(&flags.lastCol, "last-col", "", "Last name column name")
	f.StringVar(&flags.breachCol, "breach-col", "", "Breach source column name")
	f.StringVar(&flags.delimiter, "delimiter", "auto", `Field delimiter, "auto" or a single character (\t for tab)`)
	f.StringVar(&flags.encoding, "encoding", "utf-8", "Input encoding: utf-8, latin-1 or windows-1252")
	f.StringVar(&flags.preferDomain, "prefer-domain", "", "Rank addresses at this domain first")
	f.StringVar(&flags.jsonFile, "json-file", "", "Also write the result as JSON to this path")
	f.BoolVar(&flags.boxed, "boxed", false, "Print the excerpt in a box")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Log detection details to the console")
	return cmd
}

func (a *app) runSummarize(path string, flags summarizeFlags) error {
	logger := logging.NewConsole(a.stderr, flags.verbose)

	prefer := flags.preferDomain
	if prefer != "" {
		ascii, err := domainname.Normalize(prefer)
		if err != nil {
			return err
		}
		prefer = ascii
	}

	result, err := excerpt.SummarizeFile(path, excerpt.Options{
		Limit:        flags.limit,
		EmailCol:     flags.emailCol,
		NameCol:      flags.nameCol,
		FirstCol:     flags.firstCol,
		LastCol:      flags.lastCol,
		BreachCol:    flags.breachCol,
		Delimiter:    flags.delimiter,
		Encoding:     flags.encoding,
		PreferDomain: prefer,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	if flags.boxed {
		observability.NewPrinter(a.stdout).PrintExcerpt(result.Excerpt, result.BreachedDatabases)
	} else if err := result.WriteText(a.stdout); err != nil {
		return err
	}

	if flags.jsonFile != "" {
		if err := result.WriteSidecar(flags.jsonFile); err != nil {
			logger.Warnw("Failed to write JSON sidecar", logging.FieldFile, flags.jsonFile, logging.FieldError, err.Error())
		}
	}
	return nil
}
