package postprocessors

import (
	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/postprocessors/chunker"
	"github.com/custodia-labs/fagdag/internal/postprocessors/normalise"
)

// RegisterDefaults registers all built-in processors with the registry.
func RegisterDefaults(r *Registry) {
	r.Register("normalise", buildNormalise)
	r.Register("chunker", buildChunker)
}

// DefaultPipeline builds the standard normalise -> chunker pipeline.
func DefaultPipeline(r *Registry, cfg domain.ChunkingSettings, languageCode string) (*Pipeline, error) {
	norm, err := r.Build("normalise", nil)
	if err != nil {
		return nil, err
	}
	chunk, err := r.Build("chunker", map[string]any{
		"max_len":       cfg.MaxLen,
		"overlap":       cfg.Overlap,
		"language_code": languageCode,
	})
	if err != nil {
		return nil, err
	}
	return NewPipeline(norm, chunk), nil
}

func buildNormalise(_ map[string]any) (driven.PostProcessor, error) {
	return normalise.New(), nil
}

// buildChunker creates a chunker from generic config.
// Supported config keys:
//   - max_len (int): Runes per chunk (default: 1000)
//   - overlap (int): Runes shared by neighbouring chunks (default: 250)
//   - language_code (string): Stamped on every chunk (default: nb)
//
// An invalid combination is reported as ErrConfig rather than corrected.
func buildChunker(cfg map[string]any) (driven.PostProcessor, error) {
	maxLen := chunker.DefaultMaxLen
	overlap := chunker.DefaultOverlap
	var opts []chunker.Option

	if cfg != nil {
		if _, ok := cfg["max_len"]; ok {
			maxLen = getIntFromConfig(cfg, "max_len")
		}
		if _, ok := cfg["overlap"]; ok {
			overlap = getIntFromConfig(cfg, "overlap")
		}
		if code, ok := cfg["language_code"].(string); ok {
			opts = append(opts, chunker.WithLanguageCode(code))
		}
	}

	return chunker.New(maxLen, overlap, opts...)
}

// getIntFromConfig safely extracts an int from generic config map.
// Handles int, int64, and float64 types that may come from TOML/JSON parsing.
func getIntFromConfig(cfg map[string]any, key string) int {
	val, ok := cfg[key]
	if !ok {
		return 0
	}

	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
