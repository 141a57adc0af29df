// Package messages defines Bubbletea message types for the TUI.
// Messages represent events and commands that flow through the Elm architecture.
package messages

import (
	"github.com/custodia-labs/fagdag/internal/core/domain"
)

// ViewChanged is sent when navigating between views.
type ViewChanged struct {
	View ViewType
}

// ViewType identifies which view is currently active.
type ViewType int

const (
	// ViewMenu is the main navigation menu.
	ViewMenu ViewType = iota
	// ViewChat is the conversation view.
	ViewChat
	// ViewSearch shows retrieval results without asking the model.
	ViewSearch
	// ViewSettings shows the effective settings.
	ViewSettings
	// ViewHelp is the help/keybindings view.
	ViewHelp
)

// String returns the string representation of the view type.
func (v ViewType) String() string {
	switch v {
	case ViewMenu:
		return "menu"
	case ViewChat:
		return "chat"
	case ViewSearch:
		return "search"
	case ViewSettings:
		return "settings"
	case ViewHelp:
		return "help"
	default:
		return "unknown"
	}
}

// AnswerDelta carries one streamed fragment of the answer.
type AnswerDelta struct {
	Text string
}

// AnswerCompleted ends a query. Answer is never nil.
type AnswerCompleted struct {
	Answer *domain.Answer
	Err    error
}

// SearchCompleted carries retrieval results back to the model.
type SearchCompleted struct {
	Query   string
	Results []domain.RetrievalResult
	Err     error
}

// ErrorOccurred signals that an error happened.
type ErrorOccurred struct {
	Err error
}

// Quit signals the application should exit.
type Quit struct{}

// SettingsLoaded carries the application settings.
type SettingsLoaded struct {
	Settings *domain.Settings
	Err      error
}

// SettingsSaved reports the result of storing settings.
type SettingsSaved struct {
	Err error
}

// ProviderChecked reports a provider connectivity check.
type ProviderChecked struct {
	// Kind is "embedding" or "llm".
	Kind string
	Err  error
}
