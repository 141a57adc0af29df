package textutil

import "math"

// Okapi BM25 parameters.
const (
	BM25K1 = 1.2
	BM25B  = 0.75
)

// BM25 keeps the term statistics needed to score documents. It is not
// safe for concurrent use; callers hold their own lock.
type BM25 struct {
	docs     map[string]map[string]int
	lengths  map[string]int
	docFreq  map[string]int
	totalLen int
}

// NewBM25 creates an empty scorer.
func NewBM25() *BM25 {
	return &BM25{
		docs:    make(map[string]map[string]int),
		lengths: make(map[string]int),
		docFreq: make(map[string]int),
	}
}

// Add indexes text under id, replacing any previous text for id.
func (b *BM25) Add(id, text string) {
	b.Remove(id)

	tokens := Tokenize(text)
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	for t := range tf {
		b.docFreq[t]++
	}
	b.docs[id] = tf
	b.lengths[id] = len(tokens)
	b.totalLen += len(tokens)
}

// Remove drops id from the statistics.
func (b *BM25) Remove(id string) {
	tf, ok := b.docs[id]
	if !ok {
		return
	}
	for t := range tf {
		b.docFreq[t]--
		if b.docFreq[t] == 0 {
			delete(b.docFreq, t)
		}
	}
	b.totalLen -= b.lengths[id]
	delete(b.docs, id)
	delete(b.lengths, id)
}

// Len returns the number of indexed documents.
func (b *BM25) Len() int {
	return len(b.docs)
}

// Scores returns the BM25 score of every document matching at least one
// query term. Documents scoring zero are omitted.
func (b *BM25) Scores(query string) map[string]float64 {
	terms := Tokenize(query)
	if len(terms) == 0 || len(b.docs) == 0 {
		return nil
	}

	n := float64(len(b.docs))
	avgLen := float64(b.totalLen) / n
	if avgLen == 0 {
		avgLen = 1
	}

	seen := make(map[string]bool, len(terms))
	scores := make(map[string]float64)
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true

		df := float64(b.docFreq[term])
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		for id, tf := range b.docs {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			dl := float64(b.lengths[id])
			scores[id] += idf * f * (BM25K1 + 1) / (f + BM25K1*(1-BM25B+BM25B*dl/avgLen))
		}
	}
	return scores
}
