package main

import (
	"github.com/spf13/cobra"

	"github.com/helixir/paper-acquisition-service/internal/domain"
)

type resolvedDOI struct {
	DOI          string              `yaml:"doi"`
	Availability domain.Availability `yaml:"availability"`
	AccessURLs   domain.AccessURLs   `yaml:"access_urls"`
}

func newResolveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <doi>...",
		Short: "Check where the PDFs for DOIs can be obtained",
		Example: `  paperctl resolve 10.1038/nature12373
  paperctl resolve https://doi.org/10.1126/science.1259855 doi:10.1000/xyz`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records := make([]domain.PaperRecord, len(args))
			for i, arg := range args {
				records[i] = domain.PaperRecord{DOI: domain.NormalizeDOI(arg)}
			}

			resolved := c.components().Resolver.ResolveAll(cmd.Context(), records)

			out := make([]resolvedDOI, len(resolved))
			for i, p := range resolved {
				out[i] = resolvedDOI{DOI: p.DOI, Availability: p.Availability, AccessURLs: p.AccessURLs}
			}
			return writeYAML(cmd.OutOrStdout(), out)
		},
	}
}
