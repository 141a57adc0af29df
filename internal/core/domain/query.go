package domain

import (
	"fmt"
	"sync"
)

// QueryState is a state of a single query round-trip.
type QueryState string

// Query states.
const (
	QueryIdle           QueryState = "idle"
	QueryEmbedding      QueryState = "embedding"
	QueryRetrieving     QueryState = "retrieving"
	QueryPromptBuilding QueryState = "prompt_building"
	QueryStreaming      QueryState = "streaming"
	QueryCompleted      QueryState = "completed"
	QueryFailed         QueryState = "failed"
	QueryCancelled      QueryState = "cancelled"
)

// IsTerminal returns true for Completed, Failed and Cancelled.
func (s QueryState) IsTerminal() bool {
	return s == QueryCompleted || s == QueryFailed || s == QueryCancelled
}

// next lists the forward transition of each non-terminal state.
var next = map[QueryState]QueryState{
	QueryIdle:           QueryEmbedding,
	QueryEmbedding:      QueryRetrieving,
	QueryRetrieving:     QueryPromptBuilding,
	QueryPromptBuilding: QueryStreaming,
	QueryStreaming:      QueryCompleted,
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to QueryState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == QueryFailed || to == QueryCancelled {
		return true
	}
	return next[from] == to
}

// QueryRun tracks the state of one query. It is safe for concurrent use,
// so a UI can poll State while the query runs.
type QueryRun struct {
	mu      sync.RWMutex
	state   QueryState
	history []QueryState
	err     error
}

// NewQueryRun returns a run in the Idle state.
func NewQueryRun() *QueryRun {
	return &QueryRun{state: QueryIdle, history: []QueryState{QueryIdle}}
}

// State returns the current state.
func (r *QueryRun) State() QueryState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// History returns every state the run has been in, in order.
func (r *QueryRun) History() []QueryState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]QueryState, len(r.history))
	copy(out, r.history)
	return out
}

// Err returns the error recorded by Fail.
func (r *QueryRun) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Transition moves the run to the given state.
func (r *QueryRun) Transition(to QueryState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !CanTransition(r.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, to)
	}
	r.state = to
	r.history = append(r.history, to)
	return nil
}

// Fail moves the run to Failed and records the cause.
// It is a no-op when the run already reached a terminal state.
func (r *QueryRun) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.IsTerminal() {
		return
	}
	r.state = QueryFailed
	r.history = append(r.history, QueryFailed)
	r.err = err
}

// Cancel moves the run to Cancelled.
// It is a no-op when the run already reached a terminal state.
func (r *QueryRun) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.IsTerminal() {
		return
	}
	r.state = QueryCancelled
	r.history = append(r.history, QueryCancelled)
}
