package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fagdag/internal/app"
	"github.com/custodia-labs/fagdag/internal/core/domain"
)

var indexYes bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the search index",
	Long: `Create, recreate, delete or inspect the index named by index.name and
index.namespace on the configured backend.`,
}

var indexCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the index or update its schema",
	Args:  cobra.NoArgs,
	RunE:  runIndexCreate,
}

var indexRecreateCmd = &cobra.Command{
	Use:   "recreate",
	Short: "Delete every chunk and recreate the index",
	Args:  cobra.NoArgs,
	RunE:  runIndexRecreate,
}

var indexDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the index",
	Args:  cobra.NoArgs,
	RunE:  runIndexDelete,
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index statistics",
	Args:  cobra.NoArgs,
	RunE:  runIndexStatus,
}

func init() {
	indexCreateCmd.Flags().BoolVar(&ingestRecreate, "recreate", false, "recreate the index if its schema is incompatible")
	indexRecreateCmd.Flags().BoolVarP(&indexYes, "yes", "y", false, "do not ask for confirmation")
	indexDeleteCmd.Flags().BoolVarP(&indexYes, "yes", "y", false, "do not ask for confirmation")
	indexCmd.AddCommand(indexCreateCmd, indexRecreateCmd, indexDeleteCmd, indexStatusCmd)
	rootCmd.AddCommand(indexCmd)
}

func runIndexCreate(cmd *cobra.Command, _ []string) error {
	if err := ensureServices(cmd, app.Options{AllowRecreate: ingestRecreate}); err != nil {
		return err
	}
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}
	action, err := ingestService.EnsureSchema(cmd.Context())
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	cmd.Printf("Index %s: %s\n", indexLabel(), action)
	return nil
}

func runIndexRecreate(cmd *cobra.Command, _ []string) error {
	if err := ensureServices(cmd, app.Options{}); err != nil {
		return err
	}
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}
	if !confirm(cmd, fmt.Sprintf("Recreate index %s and delete all its chunks?", indexLabel())) {
		cmd.Println("Aborted.")
		return nil
	}
	if err := ingestService.Recreate(cmd.Context()); err != nil {
		return fmt.Errorf("recreate index: %w", err)
	}
	cmd.Printf("Index %s recreated.\n", indexLabel())
	return nil
}

func runIndexDelete(cmd *cobra.Command, _ []string) error {
	if err := ensureServices(cmd, app.Options{}); err != nil {
		return err
	}
	if indexAdmin == nil {
		return errors.New("index service not configured")
	}
	if !confirm(cmd, fmt.Sprintf("Delete index %s?", indexAdmin.IndexName())) {
		cmd.Println("Aborted.")
		return nil
	}
	if err := indexAdmin.Delete(cmd.Context()); err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	cmd.Printf("Index %s deleted.\n", indexAdmin.IndexName())
	return nil
}

func runIndexStatus(cmd *cobra.Command, _ []string) error {
	if err := ensureServices(cmd, app.Options{}); err != nil {
		return err
	}
	if indexAdmin == nil {
		return errors.New("index service not configured")
	}
	stats, err := indexAdmin.Stats(cmd.Context())
	if errors.Is(err, domain.ErrNotFound) {
		cmd.Printf("Index %s does not exist. Run 'fagdag index create' or 'fagdag ingest'.\n", indexAdmin.IndexName())
		return nil
	}
	if err != nil {
		return fmt.Errorf("index status: %w", err)
	}

	cmd.Printf("Index:      %s\n", stats.Name)
	cmd.Printf("Documents:  %d\n", stats.Parents)
	cmd.Printf("Chunks:     %d\n", stats.Chunks)
	cmd.Printf("Dimensions: %d\n", stats.Dimensions)

	if ingestService != nil {
		if report := ingestService.Status(); report != nil {
			cmd.Println()
			printReport(cmd, report)
		}
	}
	return nil
}

func indexLabel() string {
	if indexAdmin == nil {
		return "(unknown)"
	}
	return indexAdmin.IndexName()
}

// confirm asks a yes/no question on stdin unless --yes was given.
func confirm(cmd *cobra.Command, question string) bool {
	if indexYes {
		return true
	}
	cmd.Printf("%s [y/N]: ", question)
	answer := readLine(newReader(cmd))
	return answer == "y" || answer == "Y" || answer == "yes"
}
