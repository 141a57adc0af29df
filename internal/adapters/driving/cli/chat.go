package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui"
	"github.com/custodia-labs/fagdag/internal/app"
	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/services"
	"github.com/custodia-labs/fagdag/internal/logger"
)

var (
	chatTopK  int
	chatWatch bool
)

// runTUI starts the program; tests replace it.
var runTUI = func(a *tui.App) error { return a.Run() }

var chatCmd = &cobra.Command{
	Use:     "chat",
	Aliases: []string{"tui"},
	Short:   "Chat with your documents in the terminal UI",
	Long: `Opens the interactive terminal UI. Ask questions in the chat view and
the answer streams in with the chunks it was based on. The search view
shows what retrieval finds without asking the model.

Controls:
  enter    Send the question
  esc      Stop a streaming answer, or go back
  ctrl+o   Show or hide sources
  ctrl+l   Start a new conversation
  ctrl+c   Quit

Logs are written to tui.log in the configuration directory while the UI
is open. With --watch the content directory is re-ingested in the
background as files change.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().IntVarP(&chatTopK, "top-k", "k", 0, "chunks retrieved per question (default retrieval.top_k)")
	chatCmd.Flags().BoolVarP(&chatWatch, "watch", "w", false, "re-ingest the content directory in the background")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in TUI: %v\n%s", r, debug.Stack())
		}
	}()

	if err := ensureServices(cmd, app.Options{TopK: chatTopK}); err != nil {
		return err
	}
	if queryService == nil {
		return tui.ErrMissingQueryService
	}

	restore, err := logToFile()
	if err != nil {
		return err
	}
	defer restore()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if chatWatch && ingestService != nil && contentSource != nil {
		scheduler := services.NewIngestScheduler(ingestService, contentSource(""), services.SchedulerConfig{})
		scheduler.OnReport(func(r *domain.IngestReport, err error) {
			if err != nil {
				logger.Warn("Background ingest failed: %v", err)
				return
			}
			logger.Info("Background ingest %s: %d documents", r.Status, r.Documents.Processed)
		})
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				logger.Warn("Scheduler stopped: %v", err)
			}
		}()
	}

	ports := tui.NewPorts(queryService)
	ports.Ingest = ingestService
	ports.Settings = settingsService

	a, err := tui.NewApp(ports)
	if err != nil {
		return fmt.Errorf("failed to create TUI: %w", err)
	}
	a.WithContext(ctx).WithTopK(chatTopK)

	if err := runTUI(a); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// logToFile sends log output to tui.log so it does not draw over the UI.
func logToFile() (func(), error) {
	dir, err := app.ResolveConfigDir(configDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "tui.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(f)
	return func() {
		logger.SetOutput(os.Stderr)
		_ = f.Close()
	}, nil
}
