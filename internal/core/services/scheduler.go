package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/core/ports/driving"
	"github.com/custodia-labs/fagdag/internal/logger"
)

// DocumentLoader loads one document by ID. Sources that implement it get
// incremental re-ingestion of changed documents.
type DocumentLoader interface {
	Document(ctx context.Context, id string) (domain.Document, error)
}

// SchedulerConfig configures an IngestScheduler.
type SchedulerConfig struct {
	// Interval triggers a full re-ingest periodically. Zero disables it.
	Interval time.Duration
}

// IngestScheduler keeps an index in step with a content source. It runs a
// full ingest on start, re-ingests changed documents when the source can
// watch, and optionally re-ingests everything on an interval. Runs never
// overlap.
type IngestScheduler struct {
	ingest   driving.IngestService
	source   driven.ContentSource
	interval time.Duration
	onReport func(*domain.IngestReport, error)

	runMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewIngestScheduler creates a scheduler for source.
func NewIngestScheduler(ingest driving.IngestService, source driven.ContentSource, cfg SchedulerConfig) *IngestScheduler {
	return &IngestScheduler{
		ingest:   ingest,
		source:   source,
		interval: cfg.Interval,
	}
}

// OnReport registers a callback invoked after every run.
func (s *IngestScheduler) OnReport(fn func(*domain.IngestReport, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReport = fn
}

// Start runs the scheduler loop. It blocks until ctx is done or Stop is
// called. The error of the initial full ingest is returned if it aborts.
func (s *IngestScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.wg.Wait()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := s.runFull(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if watcher, ok := s.source.(driven.Watcher); ok {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			err := watcher.Watch(ctx, func(changes []domain.RawDocumentChange) {
				s.handleChanges(ctx, changes)
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn("Watch %s stopped: %v", s.source.Name(), err)
			}
		}()
		logger.Info("Watching %s for changes", s.source.Name())
	}

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			_, _ = s.runFull(ctx)
		}
	}
}

// Stop ends the loop and waits for in-flight work.
func (s *IngestScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *IngestScheduler) runFull(ctx context.Context) (*domain.IngestReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report, err := s.ingest.Ingest(ctx, s.source)
	s.report(report, err)
	return report, err
}

// handleChanges re-ingests created and updated documents and removes
// the chunks of deleted ones.
func (s *IngestScheduler) handleChanges(ctx context.Context, changes []domain.RawDocumentChange) {
	loader, ok := s.source.(DocumentLoader)
	if !ok {
		_, _ = s.runFull(ctx)
		return
	}

	var (
		docs    = make([]domain.Document, 0, len(changes))
		removed []string
	)
	for _, change := range changes {
		if change.Type == domain.ChangeDeleted {
			removed = append(removed, change.URI)
			continue
		}
		doc, err := loader.Document(ctx, change.URI)
		if err != nil {
			logger.Warn("Reloading %s: %v", change.URI, err)
			continue
		}
		docs = append(docs, doc)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if len(removed) > 0 {
		n, err := s.ingest.DeleteDocuments(ctx, removed)
		if err != nil {
			logger.Warn("Removing %d deleted documents: %v", len(removed), err)
		} else {
			logger.Info("Removed %d chunks of %d deleted documents", n, len(removed))
		}
	}
	if len(docs) == 0 {
		return
	}

	logger.Info("Re-ingesting %d changed documents", len(docs))
	report, err := s.ingest.IngestDocuments(ctx, docs)
	s.report(report, err)
}

func (s *IngestScheduler) report(report *domain.IngestReport, err error) {
	s.mu.Lock()
	fn := s.onReport
	s.mu.Unlock()
	if fn != nil {
		fn(report, err)
	}
}
