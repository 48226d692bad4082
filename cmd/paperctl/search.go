package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/helixir/paper-acquisition-service/internal/domain"
	"github.com/helixir/paper-acquisition-service/internal/papersources"
	"github.com/helixir/paper-acquisition-service/internal/papersources/pubmed"
)

type searchOutput struct {
	TotalResults   int                  `yaml:"total_results"`
	AvailableCount int                  `yaml:"available_count"`
	Papers         []domain.PaperRecord `yaml:"papers"`
}

func newSearchCmd(c *cli) *cobra.Command {
	var (
		maxResults int
		countOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search PubMed and resolve availability for each hit",
		Long: `Search runs the query against PubMed, resolves PDF availability for every
hit and prints the records sorted with available papers first. The output
can be passed straight to the batch command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			components := c.components()
			if !components.PubMed.IsEnabled() {
				return fmt.Errorf("search: %w (set pubmed.enabled)", pubmed.ErrDisabled)
			}
			ctx := cmd.Context()

			if countOnly {
				n, err := components.PubMed.Count(ctx, args[0])
				if err != nil {
					return fmt.Errorf("count: %w", err)
				}
				return writeYAML(cmd.OutOrStdout(), map[string]int{"result_count": n})
			}

			result, err := components.PubMed.Search(ctx, papersources.SearchParams{
				Query:      args[0],
				MaxResults: maxResults,
			})
			if err != nil {
				return fmt.Errorf("search pubmed: %w", err)
			}

			papers := components.Resolver.ResolveAll(ctx, result.Papers)
			slices.SortStableFunc(papers, domain.ComparePapers)

			out := searchOutput{TotalResults: result.TotalResults, Papers: papers}
			for _, p := range papers {
				if p.Availability.IsAvailable {
					out.AvailableCount++
				}
			}
			c.logger.Info().
				Int("returned", len(papers)).
				Int("available", out.AvailableCount).
				Msg("search completed")
			return writeYAML(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().IntVarP(&maxResults, "max-results", "n", 0, "maximum records to return (default: pubmed.max_results)")
	cmd.Flags().BoolVar(&countOnly, "count", false, "print only the number of matching records")
	return cmd
}
