package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/breachcase/internal/domainname"
	"github.com/jonathan/breachcase/internal/fixtures"
	"github.com/jonathan/breachcase/internal/logging"
)

func (a *app) genFixturesCmd() *cobra.Command {
	opts := fixtures.DefaultOptions()
	var verbose bool

	cmd := &cobra.Command{
		Use:   "gen-fixtures",
		Short: "Generate deterministic fixture pages for offline exports",
		Long: `Writes <domain>_page<N>.json files shaped like search responses. The same
--seed always produces the same records, so fixture runs are reproducible.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			domain, err := domainname.Normalize(opts.Domain)
			if err != nil {
				return err
			}
			opts.Domain = domain
			opts.Logger = logging.NewConsole(a.stderr, verbose)

			paths, err := fixtures.Generate(opts)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(a.stdout, p)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Domain, "domain", "d", opts.Domain, "Corporate domain for generated addresses")
	f.StringVarP(&opts.Dir, "out", "o", opts.Dir, "Output directory")
	f.IntVar(&opts.Pages, "pages", opts.Pages, "Number of page files")
	f.IntVar(&opts.PerPage, "per-page", opts.PerPage, "Entries per page")
	f.Uint64Var(&opts.Seed, "seed", opts.Seed, "Random seed")
	f.Float64Var(&opts.PreferCorporate, "prefer-corporate", opts.PreferCorporate, "Probability an address uses the corporate domain")
	f.StringSliceVar(&opts.Freemail, "freemail", opts.Freemail, "Freemail domains for non-corporate addresses")
	f.StringSliceVar(&opts.Breaches, "breaches", opts.Breaches, "Breach names to draw from")
	f.BoolVar(&opts.IncludePasswords, "include-passwords", false, "Add synthetic password and hash fields")
	f.BoolVarP(&verbose, "verbose", "v", false, "Log each file written")
	return cmd
}
