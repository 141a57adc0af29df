package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

func result(id, content string, score float64) domain.RetrievalResult {
	return domain.RetrievalResult{Chunk: domain.Chunk{ID: id, Content: content}, Score: score}
}

func TestPromptAssembler_BuildPrompt(t *testing.T) {
	a := NewPromptAssembler(nil, PromptConfig{})

	prompt := a.BuildPrompt("What is the vacation policy?", []domain.RetrievalResult{
		result("low", "Parking is free.", 0.1),
		result("high", "Employees get 25 vacation days.", 0.9),
	})

	assert.True(t, strings.HasPrefix(prompt, "Answer the question using only"))
	assert.Contains(t, prompt, domain.DefaultUnknownAnswer)
	assert.Contains(t, prompt, "<context id=\"1\">\nEmployees get 25 vacation days.\n</context>")
	assert.Contains(t, prompt, "<context id=\"2\">\nParking is free.\n</context>")
	assert.True(t, strings.HasSuffix(prompt, "Question: What is the vacation policy?"))
	assert.Less(t, strings.Index(prompt, "vacation days"), strings.Index(prompt, "Parking"))
}

func TestPromptAssembler_NoContexts(t *testing.T) {
	a := NewPromptAssembler(nil, PromptConfig{UnknownAnswer: "Vet ikke."})

	prompt := a.BuildPrompt("Hva er ferieregelen?", nil)
	assert.NotContains(t, prompt, "<context")
	assert.Contains(t, prompt, "Vet ikke.")
	assert.True(t, strings.HasSuffix(prompt, "Question: Hva er ferieregelen?"))
	assert.Equal(t, "Vet ikke.", a.UnknownAnswer())
}

func TestPromptAssembler_Budget(t *testing.T) {
	a := NewPromptAssembler(nil, PromptConfig{MaxContextChars: 20})

	prompt := a.BuildPrompt("q", []domain.RetrievalResult{
		result("huge", strings.Repeat("x", 21), 1.0),
		result("best", "0123456789", 0.9),
		result("mid", "abcdefghij", 0.5),
		result("worst", "ABCDE", 0.1),
	})

	assert.NotContains(t, prompt, "xxxxx")
	assert.Contains(t, prompt, "0123456789")
	assert.Contains(t, prompt, "abcdefghij")
	assert.NotContains(t, prompt, "ABCDE")
}

func TestPromptAssembler_BuildPromptText(t *testing.T) {
	a := NewPromptAssembler(nil, PromptConfig{})
	prompt := a.BuildPromptText("q", []string{"first", "second"})
	assert.Less(t, strings.Index(prompt, "first"), strings.Index(prompt, "second"))
}

func TestPromptAssembler_Store(t *testing.T) {
	store := mockPromptStore{
		driven.PromptRAGAnswer:  "Svar kun fra konteksten. Ellers si: %s",
		driven.PromptChatSystem: "Du er en hjelpsom assistent.",
	}
	a := NewPromptAssembler(store, PromptConfig{UnknownAnswer: "Vet ikke."})

	prompt := a.BuildPrompt("q", nil)
	assert.True(t, strings.HasPrefix(prompt, "Svar kun fra konteksten. Ellers si: Vet ikke."))

	history := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "old system"},
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	}
	messages := a.BuildMessages(history, prompt)
	require.Len(t, messages, 4)
	assert.Equal(t, domain.ChatMessage{Role: domain.RoleSystem, Content: "Du er en hjelpsom assistent."}, messages[0])
	assert.Equal(t, domain.RoleUser, messages[1].Role)
	assert.Equal(t, domain.RoleAssistant, messages[2].Role)
	assert.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Content: prompt}, messages[3])
	assert.Len(t, history, 3)
}

func TestPromptAssembler_TemplateWithoutPlaceholder(t *testing.T) {
	a := NewPromptAssembler(mockPromptStore{driven.PromptRAGAnswer: "no placeholder"}, PromptConfig{})
	prompt := a.BuildPrompt("q", nil)
	assert.Contains(t, prompt, domain.DefaultUnknownAnswer)
	assert.NotContains(t, prompt, "no placeholder")
}

func TestPromptAssembler_MissingStorePrompts(t *testing.T) {
	a := NewPromptAssembler(mockPromptStore{}, PromptConfig{})
	messages := a.BuildMessages(nil, "prompt")
	require.Len(t, messages, 1)
	assert.Equal(t, domain.RoleUser, messages[0].Role)
}
