package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixir/paper-acquisition-service/internal/domain"
)

type batchOutput struct {
	BatchID   string          `yaml:"batch_id"`
	Status    string          `yaml:"status"`
	Requested int             `yaml:"requested"`
	Available int             `yaml:"available"`
	Succeeded int             `yaml:"succeeded"`
	Failed    int             `yaml:"failed"`
	Archive   string          `yaml:"archive,omitempty"`
	Duration  string          `yaml:"duration,omitempty"`
	Error     string          `yaml:"error,omitempty"`
	Outcomes  []outcomeOutput `yaml:"outcomes,omitempty"`
}

type outcomeOutput struct {
	Title    string `yaml:"title"`
	DOI      string `yaml:"doi,omitempty"`
	Status   string `yaml:"status"`
	Filename string `yaml:"filename,omitempty"`
	Source   string `yaml:"source,omitempty"`
	Reason   string `yaml:"reason,omitempty"`
	Detail   string `yaml:"detail,omitempty"`
}

func newBatchOutput(b *domain.BatchResult, archive string) batchOutput {
	out := batchOutput{
		BatchID:   b.ID.String(),
		Status:    string(b.Status),
		Requested: b.Requested,
		Available: b.Available,
		Succeeded: b.SucceededCount(),
		Failed:    b.FailedCount(),
		Archive:   archive,
		Error:     b.Error,
	}
	if d := b.Duration(); d > 0 {
		out.Duration = d.Round(time.Millisecond).String()
	}
	for _, o := range b.Outcomes {
		out.Outcomes = append(out.Outcomes, outcomeOutput{
			Title:    o.Title,
			DOI:      o.DOI,
			Status:   string(o.Status),
			Filename: o.Filename,
			Source:   string(o.Source),
			Reason:   string(o.Reason),
			Detail:   o.Detail,
		})
	}
	return out
}

// needsResolution reports whether a record arrived without any
// availability information.
func needsResolution(p domain.PaperRecord) bool {
	return !p.Availability.IsAvailable && !p.Availability.IsFindable
}

func newBatchCmd(c *cli) *cobra.Command {
	var (
		input      string
		output     string
		resolveAll bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Download a list of papers into a zip archive",
		Long: `Batch reads a YAML or JSON paper list, downloads every available PDF and
writes a zip holding the PDFs and a manifest of all papers. Records with no
availability are resolved first; --resolve re-resolves every record.`,
		Example: `  paperctl search "crispr[Title]" | paperctl batch -i - -o crispr.zip`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			papers, err := readPapersFile(input, cmd.InOrStdin())
			if err != nil {
				return err
			}

			components := c.components()
			ctx := cmd.Context()

			var pending []int
			for i, p := range papers {
				if resolveAll || needsResolution(p) {
					pending = append(pending, i)
				}
			}
			if len(pending) > 0 {
				subset := make([]domain.PaperRecord, len(pending))
				for j, i := range pending {
					subset[j] = papers[i]
				}
				for j, p := range components.Resolver.ResolveAll(ctx, subset) {
					papers[pending[j]] = p
				}
				c.logger.Debug().Int("resolved", len(pending)).Msg("availability resolved")
			}

			result, err := components.Orchestrator.RunBatch(ctx, papers)
			if err != nil {
				if result != nil && errors.Is(err, domain.ErrEmptyBatch) {
					_ = writeYAML(cmd.OutOrStdout(), newBatchOutput(result, ""))
				}
				return fmt.Errorf("run batch: %w", err)
			}
			defer func() {
				if err := result.Cleanup(); err != nil {
					c.logger.Warn().Err(err).Msg("failed to remove batch archive")
				}
			}()

			if err := copyFile(result.ArchivePath, output); err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), newBatchOutput(result, output))
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", `paper list file, or "-" for stdin`)
	cmd.Flags().StringVarP(&output, "output", "o", "papers.zip", "archive destination")
	cmd.Flags().BoolVar(&resolveAll, "resolve", false, "resolve availability for every record")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return out.Close()
}
