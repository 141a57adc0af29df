package domain

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryState_IsTerminal(t *testing.T) {
	assert.True(t, QueryCompleted.IsTerminal())
	assert.True(t, QueryFailed.IsTerminal())
	assert.True(t, QueryCancelled.IsTerminal())
	assert.False(t, QueryIdle.IsTerminal())
	assert.False(t, QueryStreaming.IsTerminal())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to QueryState
		want     bool
	}{
		{QueryIdle, QueryEmbedding, true},
		{QueryEmbedding, QueryRetrieving, true},
		{QueryRetrieving, QueryPromptBuilding, true},
		{QueryPromptBuilding, QueryStreaming, true},
		{QueryStreaming, QueryCompleted, true},
		{QueryIdle, QueryRetrieving, false},
		{QueryEmbedding, QueryCompleted, false},
		{QueryRetrieving, QueryEmbedding, false},
		{QueryEmbedding, QueryFailed, true},
		{QueryStreaming, QueryCancelled, true},
		{QueryCompleted, QueryFailed, false},
		{QueryCancelled, QueryEmbedding, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestQueryRun_HappyPath(t *testing.T) {
	run := NewQueryRun()
	require.Equal(t, QueryIdle, run.State())

	for _, s := range []QueryState{QueryEmbedding, QueryRetrieving, QueryPromptBuilding, QueryStreaming, QueryCompleted} {
		require.NoError(t, run.Transition(s))
	}

	assert.Equal(t, QueryCompleted, run.State())
	assert.Equal(t, []QueryState{
		QueryIdle, QueryEmbedding, QueryRetrieving, QueryPromptBuilding, QueryStreaming, QueryCompleted,
	}, run.History())
	assert.NoError(t, run.Err())
}

func TestQueryRun_InvalidTransition(t *testing.T) {
	run := NewQueryRun()
	err := run.Transition(QueryStreaming)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, QueryIdle, run.State())
}

func TestQueryRun_FailIsSticky(t *testing.T) {
	run := NewQueryRun()
	require.NoError(t, run.Transition(QueryEmbedding))

	cause := errors.New("boom")
	run.Fail(cause)
	run.Cancel()
	run.Fail(errors.New("later"))

	assert.Equal(t, QueryFailed, run.State())
	assert.Equal(t, cause, run.Err())
	assert.ErrorIs(t, run.Transition(QueryRetrieving), ErrInvalidTransition)
}

func TestQueryRun_CancelAfterCompleteIsNoop(t *testing.T) {
	run := NewQueryRun()
	for _, s := range []QueryState{QueryEmbedding, QueryRetrieving, QueryPromptBuilding, QueryStreaming, QueryCompleted} {
		require.NoError(t, run.Transition(s))
	}
	run.Cancel()
	assert.Equal(t, QueryCompleted, run.State())
}

func TestQueryRun_ConcurrentAccess(t *testing.T) {
	run := NewQueryRun()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = run.State()
			_ = run.History()
		}()
		go func() {
			defer wg.Done()
			run.Cancel()
		}()
	}
	wg.Wait()
	assert.Equal(t, QueryCancelled, run.State())
	assert.Equal(t, []QueryState{QueryIdle, QueryCancelled}, run.History())
}
