package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fagdag/internal/app"
	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/core/services"
)

var (
	ingestWatch       bool
	ingestConcurrency int
	ingestRecreate    bool
	ingestInterval    time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Ingest documents into the index",
	Long: `Reads every document in dir (or content.dir, or the working directory),
masks personal information, splits the text into chunks, embeds them and
writes them to the index.

Failures of single documents or chunks are reported and do not stop the
run. With --watch the directory is watched and changed files are
re-ingested until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestWatch, "watch", "w", false, "keep running and re-ingest changed files")
	ingestCmd.Flags().IntVarP(&ingestConcurrency, "concurrency", "c", 0, "documents processed at once (default ingest.concurrency)")
	ingestCmd.Flags().BoolVar(&ingestRecreate, "recreate", false, "recreate the index if its schema is incompatible")
	ingestCmd.Flags().DurationVar(&ingestInterval, "interval", 0, "with --watch, also re-ingest everything this often")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	err := ensureServices(cmd, app.Options{Concurrency: ingestConcurrency, AllowRecreate: ingestRecreate})
	if err != nil {
		return err
	}
	if ingestService == nil || contentSource == nil {
		return errors.New("ingest service not configured")
	}

	dir := ""
	if len(args) > 0 {
		dir = args[0]
	}
	source := contentSource(dir)

	if ingestWatch {
		return watchIngest(cmd, source)
	}

	cmd.Printf("Ingesting from %s...\n", source.Name())
	report, err := ingestService.Ingest(cmd.Context(), source)
	if report != nil {
		printReport(cmd, report)
	}
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	return nil
}

// watchIngest runs the scheduler until the command context is cancelled.
func watchIngest(cmd *cobra.Command, source driven.ContentSource) error {
	scheduler := services.NewIngestScheduler(ingestService, source, services.SchedulerConfig{Interval: ingestInterval})
	scheduler.OnReport(func(report *domain.IngestReport, err error) {
		if report != nil {
			printReport(cmd, report)
		}
		if err != nil {
			cmd.PrintErrf("Ingest failed: %v\n", err)
		}
	})

	cmd.Printf("Watching %s, press Ctrl+C to stop.\n", source.Name())
	if err := scheduler.Start(cmd.Context()); err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	return nil
}

// printReport writes the per-stage summary of a run.
func printReport(cmd *cobra.Command, r *domain.IngestReport) {
	cmd.Printf("Run %s on index %s: %s\n", r.RunID, r.Index, r.Status)
	cmd.Printf("  Documents: %d processed, %d skipped, %d failed\n",
		r.Documents.Processed, r.Documents.Skipped, r.Documents.Failed)
	for _, stage := range domain.AllStages() {
		c, ok := r.Stages[stage]
		if !ok || c == nil {
			continue
		}
		cmd.Printf("  %-9s %d processed, %d skipped, %d failed\n", string(stage)+":", c.Processed, c.Skipped, c.Failed)
	}
	for _, w := range r.Warnings {
		cmd.Printf("  Warning: %s\n", w)
	}
	if n := len(r.FailedItems); n > 0 {
		cmd.Printf("  Failed items (%d):\n", n)
		for i, item := range r.FailedItems {
			if i == maxListedFailures {
				cmd.Printf("    ... and %d more\n", n-i)
				break
			}
			cmd.Printf("    %v\n", item)
		}
	}
	if !r.FinishedAt.IsZero() {
		cmd.Printf("  Took %s\n", r.Duration().Round(time.Millisecond))
	}
}

const maxListedFailures = 10
