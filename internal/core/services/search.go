package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/logger"
)

// Ensure HybridRetriever implements the interface.
var _ driven.Retriever = (*HybridRetriever)(nil)

// candidateFactor widens each leg so fusion has more than topK to rank.
const candidateFactor = 2

// HybridRetriever runs the lexical and vector legs of a backend in
// parallel and fuses them with Reciprocal Rank Fusion.
type HybridRetriever struct {
	backend       driven.SearchBackend
	k             int
	minSimilarity float64
}

// RetrieverConfig configures a HybridRetriever.
type RetrieverConfig struct {
	// K is the RRF constant. Zero uses DefaultRRFK.
	K int

	// MinSimilarity is the cosine similarity a vector hit must exceed.
	// Zero still drops orthogonal and opposing vectors.
	MinSimilarity float64
}

// NewHybridRetriever creates a retriever over backend.
func NewHybridRetriever(backend driven.SearchBackend, cfg RetrieverConfig) *HybridRetriever {
	if cfg.K <= 0 {
		cfg.K = DefaultRRFK
	}
	return &HybridRetriever{
		backend:       backend,
		k:             cfg.K,
		minSimilarity: cfg.MinSimilarity,
	}
}

// Search returns at most topK results in descending score order. A nil
// vector skips the vector leg and blank text skips the lexical leg. If one
// leg fails the other leg's ranking is used; if both fail the error is
// returned. Nothing above the relevance floor yields an empty slice.
func (r *HybridRetriever) Search(
	ctx context.Context, vector []float32, text string, topK int,
) ([]domain.RetrievalResult, error) {
	logger.Section("Retrieval")

	if topK <= 0 {
		topK = domain.DefaultTopK
	}
	limit := topK * candidateFactor
	text = strings.TrimSpace(text)

	var lexical, semantic []driven.Hit
	var lexicalErr, vectorErr error

	var wg sync.WaitGroup
	if text != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lexical, lexicalErr = r.lexicalLeg(ctx, text, limit)
		}()
	}
	if len(vector) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			semantic, vectorErr = r.vectorLeg(ctx, vector, limit)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case lexicalErr != nil && vectorErr != nil:
		logger.Warn("Retrieval: both lexical and vector legs failed")
		return nil, fmt.Errorf("hybrid search: lexical: %w; vector: %w", lexicalErr, vectorErr)
	case lexicalErr != nil:
		logger.Warn("Retrieval: lexical leg failed, using vector results only: %v", lexicalErr)
	case vectorErr != nil:
		logger.Warn("Retrieval: vector leg failed, using lexical results only: %v", vectorErr)
	}

	logger.Debug("Retrieval: fusing %d lexical + %d vector hits", len(lexical), len(semantic))
	fused := ReciprocalRankFusion(r.k, lexical, semantic)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	results := make([]domain.RetrievalResult, len(fused))
	for i, hit := range fused {
		results[i] = domain.RetrievalResult{Chunk: hit.Chunk, Score: hit.Score}
	}
	logger.Info("Retrieval: %d results", len(results))
	return results, nil
}

// lexicalLeg drops hits with no term overlap.
func (r *HybridRetriever) lexicalLeg(ctx context.Context, text string, limit int) ([]driven.Hit, error) {
	hits, err := r.backend.LexicalSearch(ctx, text, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Score > 0 {
			out = append(out, h)
		}
	}
	return out, nil
}

// vectorLeg keeps hits strictly above the similarity floor.
func (r *HybridRetriever) vectorLeg(ctx context.Context, vector []float32, limit int) ([]driven.Hit, error) {
	hits, err := r.backend.VectorSearch(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Score > r.minSimilarity {
			out = append(out, h)
		}
	}
	return out, nil
}
