package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helixir/paper-acquisition-service/internal/pdf"
)

type fetchOutput struct {
	URL          string `yaml:"url"`
	Path         string `yaml:"path"`
	SizeBytes    int64  `yaml:"size_bytes"`
	ContentHash  string `yaml:"content_hash"`
	PageCount    int    `yaml:"page_count,omitempty"`
	DOIConfirmed *bool  `yaml:"doi_confirmed,omitempty"`
}

func newFetchCmd(c *cli) *cobra.Command {
	var output, doi string

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Download and verify a single PDF",
		Long: `Fetch downloads url, following one level of PDF links when the response
is an HTML landing page, and saves the verified PDF. With --doi the saved
file is searched for that DOI.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.components().Fetcher.Fetch(cmd.Context(), args[0], output)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", args[0], err)
			}

			out := fetchOutput{
				URL:         res.URL,
				Path:        res.Path,
				SizeBytes:   res.SizeBytes,
				ContentHash: res.ContentHash,
				PageCount:   res.PageCount,
			}
			if doi != "" {
				found, err := pdf.ContainsDOI(res.Path, doi)
				if err != nil {
					c.logger.Warn().Err(err).Str("path", res.Path).Msg("doi inspection failed")
				} else {
					out.DOIConfirmed = &found
				}
			}
			return writeYAML(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "paper.pdf", "destination file")
	cmd.Flags().StringVar(&doi, "doi", "", "check that the saved PDF mentions this DOI")
	return cmd
}
