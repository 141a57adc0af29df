// Package cli implements the fagdag command line on top of cobra.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fagdag/internal/app"
	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/core/ports/driving"
	"github.com/custodia-labs/fagdag/internal/logger"
)

// version is set by Execute from build flags.
var version = "dev"

var (
	verbose   bool
	configDir string
)

// IndexAdmin manages the bound index.
type IndexAdmin interface {
	IndexName() string
	Stats(ctx context.Context) (domain.IndexStats, error)
	Delete(ctx context.Context) error
}

// Services used by the commands. They are built lazily by wire, or set
// directly by tests.
var (
	settingsService driving.SettingsService
	ingestService   driving.IngestService
	queryService    driving.QueryService
	indexAdmin      IndexAdmin
	contentSource   func(dir string) driven.ContentSource
)

// wire builds the services from the stored settings.
var wire = wireApp

// current is the wired application, closed when Execute returns.
var current *app.App

var rootCmd = &cobra.Command{
	Use:   "fagdag",
	Short: "Ask questions about your own documents",
	Long: `fagdag indexes a directory of documents and answers questions about them.

Documents are masked for personal information, split into overlapping
chunks, embedded and written to a hybrid keyword and vector index.
Questions retrieve the most relevant chunks and stream a grounded answer
from the configured language model.

Configuration lives in ~/.fagdag/config.toml. Run 'fagdag config show'
to see the effective settings.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug and progress logs")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default ~/.fagdag)")
}

// Execute runs the root command and returns the process exit code.
// Configuration errors exit with 2, every other failure with 1.
func Execute(v string) int {
	if v != "" {
		version = v
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if cerr := closeServices(); cerr != nil {
		logger.Warn("Closing: %v", cerr)
	}
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	if errors.Is(err, domain.ErrConfig) {
		return 2
	}
	return 1
}

// ensureSettings opens the config store once.
func ensureSettings() error {
	if settingsService != nil {
		return nil
	}
	dir, err := app.ResolveConfigDir(configDir)
	if err != nil {
		return err
	}
	svc, err := app.NewSettingsService(dir)
	if err != nil {
		return err
	}
	settingsService = svc
	return nil
}

// ensureServices wires the ingest and query services unless they are
// already set.
func ensureServices(cmd *cobra.Command, opts app.Options) error {
	if ingestService != nil && queryService != nil {
		return nil
	}
	if err := ensureSettings(); err != nil {
		return err
	}
	opts.ConfigDir = configDir
	return wire(cmd.Context(), opts)
}

func wireApp(ctx context.Context, opts app.Options) error {
	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	a, err := app.New(ctx, settings, opts)
	if err != nil {
		return err
	}
	current = a
	ingestService = a.Ingest
	queryService = a.Query
	indexAdmin = &appIndex{a: a}
	contentSource = a.Source
	return nil
}

// closeServices releases the wired application and forgets the services.
func closeServices() error {
	if current == nil {
		return nil
	}
	err := current.Close()
	current = nil
	ingestService = nil
	queryService = nil
	indexAdmin = nil
	contentSource = nil
	return err
}

// appIndex adapts the wired writer to IndexAdmin.
type appIndex struct {
	a *app.App
}

func (i *appIndex) IndexName() string {
	return i.a.Schema.Name
}

func (i *appIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	return i.a.Writer.Stats(ctx)
}

func (i *appIndex) Delete(ctx context.Context) error {
	return i.a.Writer.DeleteIndex(ctx, i.a.Schema.Name)
}
