package domain

// RetrievalResult is a ranked chunk returned from a query.
type RetrievalResult struct {
	Chunk Chunk

	// Score is higher for more relevant chunks. It combines the lexical
	// and vector signals according to the backend's ranking policy.
	Score float64
}

// Texts returns the chunk contents in result order.
func Texts(results []RetrievalResult) []string {
	texts := make([]string, len(results))
	for i := range results {
		texts[i] = results[i].Chunk.Content
	}
	return texts
}

// User-visible answers that are distinct from a model answer.
const (
	// CouldNotAnswer is returned when the query pipeline failed.
	CouldNotAnswer = "Sorry, I could not answer that right now. Please try again later."

	// NoRelevantContext is returned when retrieval found nothing.
	NoRelevantContext = "I could not find any relevant information in the indexed documents."

	// DefaultUnknownAnswer is what the model is told to say when the
	// context does not contain the answer.
	DefaultUnknownAnswer = "I don't know based on the provided documents."
)

// Answer is the outcome of one query round-trip.
type Answer struct {
	// Text is the answer as delivered so far. A query that fails before
	// any text was delivered carries CouldNotAnswer instead.
	Text string

	// Notice is shown after Text when a failure cut a delivered answer
	// short. Text is never replaced once delivered.
	Notice string

	// Contexts are the retrieval results the prompt was built from.
	Contexts []RetrievalResult

	// State is the terminal state of the query.
	State QueryState

	// Partial is true when streaming stopped before the model finished.
	Partial bool

	// NoContext is true when retrieval returned nothing.
	NoContext bool
}
