package services

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/logger"
)

// fallbackInstruction is used when no prompt store is configured or the
// stored template cannot be loaded.
const fallbackInstruction = `Answer the question using only the text inside the <context> sections.
If the answer is not in the context, reply exactly with: %s`

// PromptConfig configures a PromptAssembler.
type PromptConfig struct {
	// MaxContextChars bounds the total characters of context text.
	MaxContextChars int

	// UnknownAnswer is what the model must say when the context is
	// insufficient.
	UnknownAnswer string
}

// PromptAssembler merges retrieved chunks and the user's question into a
// bounded, grounded prompt.
type PromptAssembler struct {
	store   driven.PromptStore
	budget  int
	unknown string
}

// NewPromptAssembler creates an assembler. store may be nil.
func NewPromptAssembler(store driven.PromptStore, cfg PromptConfig) *PromptAssembler {
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = domain.DefaultMaxContextChars
	}
	if cfg.UnknownAnswer == "" {
		cfg.UnknownAnswer = domain.DefaultUnknownAnswer
	}
	return &PromptAssembler{
		store:   store,
		budget:  cfg.MaxContextChars,
		unknown: cfg.UnknownAnswer,
	}
}

// UnknownAnswer returns the configured unknown answer.
func (a *PromptAssembler) UnknownAnswer() string {
	return a.unknown
}

// BuildPrompt renders the instruction, the contexts that fit the budget in
// descending score order, and the literal question. With no contexts the
// context block is omitted entirely.
func (a *PromptAssembler) BuildPrompt(userMessage string, contexts []domain.RetrievalResult) string {
	kept := a.fit(contexts)

	var b strings.Builder
	b.WriteString(a.instruction())
	b.WriteString("\n\n")

	for i, c := range kept {
		fmt.Fprintf(&b, "<context id=\"%d\">\n%s\n</context>\n", i+1, c.Chunk.Content)
	}
	if len(kept) > 0 {
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(userMessage)
	return b.String()
}

// BuildPromptText is BuildPrompt for plain texts already ordered best first.
func (a *PromptAssembler) BuildPromptText(userMessage string, contexts []string) string {
	results := make([]domain.RetrievalResult, len(contexts))
	for i, text := range contexts {
		results[i] = domain.RetrievalResult{
			Chunk: domain.Chunk{Content: text},
			Score: float64(len(contexts) - i),
		}
	}
	return a.BuildPrompt(userMessage, results)
}

// BuildMessages returns the conversation to send: the system persona,
// then history, then the grounded prompt as the final user message.
// history is never modified.
func (a *PromptAssembler) BuildMessages(history []domain.ChatMessage, prompt string) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(history)+2)
	if system := a.load(driven.PromptChatSystem); system != "" {
		out = append(out, domain.ChatMessage{Role: domain.RoleSystem, Content: system})
	}
	for _, m := range history {
		if m.Role == domain.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return append(out, domain.ChatMessage{Role: domain.RoleUser, Content: prompt})
}

// fit drops chunks larger than the whole budget, then drops the lowest
// scoring chunks until the rest fit. Survivors keep score order.
func (a *PromptAssembler) fit(contexts []domain.RetrievalResult) []domain.RetrievalResult {
	sorted := make([]domain.RetrievalResult, 0, len(contexts))
	total := 0
	for _, c := range contexts {
		n := utf8.RuneCountInString(c.Chunk.Content)
		if n > a.budget {
			logger.Debug("Prompt: dropping chunk %s (%d chars) larger than budget", c.Chunk.ID, n)
			continue
		}
		sorted = append(sorted, c)
		total += n
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	for total > a.budget && len(sorted) > 0 {
		last := sorted[len(sorted)-1]
		total -= utf8.RuneCountInString(last.Chunk.Content)
		sorted = sorted[:len(sorted)-1]
	}
	if dropped := len(contexts) - len(sorted); dropped > 0 {
		logger.Debug("Prompt: %d of %d chunks dropped to fit %d chars", dropped, len(contexts), a.budget)
	}
	return sorted
}

func (a *PromptAssembler) instruction() string {
	tmpl := a.load(driven.PromptRAGAnswer)
	if !strings.Contains(tmpl, "%s") {
		tmpl = fallbackInstruction
	}
	return strings.Replace(tmpl, "%s", a.unknown, 1)
}

func (a *PromptAssembler) load(name string) string {
	if a.store == nil {
		if name == driven.PromptRAGAnswer {
			return fallbackInstruction
		}
		return ""
	}
	tmpl, err := a.store.Load(name)
	if err != nil {
		logger.Warn("Prompt %s unavailable, using built-in: %v", name, err)
		if name == driven.PromptRAGAnswer {
			return fallbackInstruction
		}
		return ""
	}
	return tmpl
}
