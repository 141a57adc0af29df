package services

import "github.com/custodia-labs/fagdag/internal/core/ports/driven"

// DefaultRRFK is the Reciprocal Rank Fusion constant. Larger values flatten
// the advantage of top ranks.
const DefaultRRFK = 60

// ReciprocalRankFusion merges ranked lists by summing 1/(k+rank) per chunk,
// with rank starting at 1. Each list must already be ordered best first.
// The result is ordered by fused score, then insertion sequence, then ID.
func ReciprocalRankFusion(k int, lists ...[]driven.Hit) []driven.Hit {
	if k <= 0 {
		k = DefaultRRFK
	}

	merged := make(map[string]*driven.Hit)
	order := make([]string, 0)

	for _, list := range lists {
		for rank, hit := range list {
			rrf := 1.0 / float64(k+rank+1)
			if m, ok := merged[hit.Chunk.ID]; ok {
				m.Score += rrf
				if hit.Seq < m.Seq {
					m.Seq = hit.Seq
				}
				continue
			}
			h := hit
			h.Score = rrf
			merged[hit.Chunk.ID] = &h
			order = append(order, hit.Chunk.ID)
		}
	}

	results := make([]driven.Hit, 0, len(order))
	for _, id := range order {
		results = append(results, *merged[id])
	}
	driven.SortHits(results)
	return results
}
