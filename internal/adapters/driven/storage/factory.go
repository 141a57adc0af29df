// Package storage selects the index backend named in settings.
package storage

import (
	"context"
	"fmt"

	"github.com/custodia-labs/fagdag/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/fagdag/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/fagdag/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/logger"
)

// Open returns the vector store for settings, bound to its effective index
// name. An unknown backend or missing DSN is ErrConfig.
func Open(ctx context.Context, settings *domain.IndexSettings) (driven.VectorStore, error) {
	name := settings.IndexName()
	if name == "" {
		return nil, fmt.Errorf("%w: index name is empty", domain.ErrConfig)
	}

	switch settings.Backend {
	case domain.IndexBackendMemory:
		logger.Debug("Index %s: in-memory", name)
		return memory.NewVectorStore(name), nil
	case domain.IndexBackendSQLite, "":
		store, err := sqlite.NewStore(settings.DataDir, name)
		if err != nil {
			return nil, fmt.Errorf("open sqlite index: %w", err)
		}
		logger.Debug("Index %s: sqlite at %s", name, store.Path())
		return store, nil
	case domain.IndexBackendPostgres:
		store, err := postgres.NewStore(ctx, settings.DSN, name)
		if err != nil {
			return nil, fmt.Errorf("open postgres index: %w", err)
		}
		logger.Debug("Index %s: postgres", name)
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown index backend %q", domain.ErrConfig, settings.Backend)
	}
}
