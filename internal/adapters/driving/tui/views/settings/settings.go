// Package settings provides the settings view for the TUI.
package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driving"
)

// ErrNoSettingsService indicates that no settings service was provided.
var ErrNoSettingsService = errors.New("settings service not available")

// Section tracks which settings section is active.
type Section int

const (
	SectionOverview Section = iota
	SectionEmbedding
	SectionLLM
)

// Provider check kinds carried by messages.ProviderChecked.
const (
	KindEmbedding = "embedding"
	KindLLM       = "llm"
)

const (
	keyDown  = "down"
	keyEnter = "enter"
	keyTab   = "tab"
)

// View shows the effective settings and lets the user pick providers.
type View struct {
	styles          *styles.Styles
	settingsService driving.SettingsService

	settings *domain.Settings
	err      error

	// checks holds the last ping result per kind; a nil entry means the
	// provider answered.
	checks   map[string]error
	checking bool

	section      Section
	selected     int
	focusedField int

	apiKeyInput textinput.Model

	width  int
	height int
	ready  bool
}

// NewView creates a new settings view.
func NewView(s *styles.Styles, settingsService driving.SettingsService) *View {
	if s == nil {
		s = styles.DefaultStyles()
	}

	apiKeyInput := textinput.New()
	apiKeyInput.Placeholder = "Enter API key"
	apiKeyInput.EchoMode = textinput.EchoPassword
	apiKeyInput.CharLimit = 256

	return &View{
		styles:          s,
		settingsService: settingsService,
		checks:          make(map[string]error),
		apiKeyInput:     apiKeyInput,
	}
}

// Init loads the settings.
func (v *View) Init() tea.Cmd {
	return v.loadSettings()
}

func (v *View) loadSettings() tea.Cmd {
	svc := v.settingsService
	return func() tea.Msg {
		if svc == nil {
			return messages.SettingsLoaded{Err: ErrNoSettingsService}
		}
		settings, err := svc.Get()
		return messages.SettingsLoaded{Settings: settings, Err: err}
	}
}

// Update handles messages for the settings view.
func (v *View) Update(msg tea.Msg) (*View, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.SetDimensions(msg.Width, msg.Height)
		return v, nil

	case messages.SettingsLoaded:
		if msg.Err != nil {
			v.err = msg.Err
		} else {
			v.settings = msg.Settings
			v.err = nil
		}
		return v, nil

	case messages.SettingsSaved:
		if msg.Err != nil {
			v.err = msg.Err
			return v, nil
		}
		v.err = nil
		v.backToOverview()
		clear(v.checks)
		return v, v.loadSettings()

	case messages.ProviderChecked:
		v.checks[msg.Kind] = msg.Err
		v.checking = len(v.checks) < 2
		return v, nil

	case tea.KeyMsg:
		return v.handleKeyMsg(msg)
	}

	return v, nil
}

func (v *View) handleKeyMsg(msg tea.KeyMsg) (*View, tea.Cmd) {
	if msg.String() == "esc" {
		if v.section == SectionOverview {
			return v, func() tea.Msg {
				return messages.ViewChanged{View: messages.ViewMenu}
			}
		}
		v.backToOverview()
		return v, nil
	}

	switch v.section {
	case SectionOverview:
		return v.handleOverviewKeys(msg)
	case SectionEmbedding:
		return v.handleProviderKeys(msg, domain.AllEmbeddingProviders(), v.saveEmbedding)
	case SectionLLM:
		return v.handleProviderKeys(msg, domain.AllLLMProviders(), v.saveLLM)
	}
	return v, nil
}

func (v *View) handleOverviewKeys(msg tea.KeyMsg) (*View, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if v.selected > 0 {
			v.selected--
		}
	case keyDown, "j":
		if v.selected < 1 {
			v.selected++
		}
	case "v":
		return v, v.checkProviders()
	case keyEnter:
		if v.selected == 0 {
			v.section = SectionEmbedding
			v.selected = v.providerIndex(domain.AllEmbeddingProviders(), v.embeddingProvider())
		} else {
			v.section = SectionLLM
			v.selected = v.providerIndex(domain.AllLLMProviders(), v.llmProvider())
		}
	}
	return v, nil
}

// handleProviderKeys drives a provider list with an API key field below.
func (v *View) handleProviderKeys(
	msg tea.KeyMsg,
	providers []domain.AIProvider,
	save func(domain.AIProvider, string) tea.Cmd,
) (*View, tea.Cmd) {
	if v.focusedField == 1 {
		switch msg.String() {
		case keyTab, "shift+tab":
			v.focusedField = 0
			v.apiKeyInput.Blur()
			return v, nil
		case keyEnter:
			return v, save(providers[v.selected], v.apiKeyInput.Value())
		default:
			var cmd tea.Cmd
			v.apiKeyInput, cmd = v.apiKeyInput.Update(msg)
			return v, cmd
		}
	}

	switch msg.String() {
	case "up", "k":
		if v.selected > 0 {
			v.selected--
		}
	case keyDown, "j":
		if v.selected < len(providers)-1 {
			v.selected++
		}
	case keyTab:
		if providers[v.selected].RequiresAPIKey() {
			v.focusedField = 1
			return v, v.apiKeyInput.Focus()
		}
	case keyEnter:
		provider := providers[v.selected]
		if provider.RequiresAPIKey() {
			v.focusedField = 1
			return v, v.apiKeyInput.Focus()
		}
		return v, save(provider, "")
	}
	return v, nil
}

// saveEmbedding stores the provider with its default model. Switching
// the model changes the vector length, so dimensions follow when known.
func (v *View) saveEmbedding(provider domain.AIProvider, apiKey string) tea.Cmd {
	model := domain.DefaultEmbeddingModels()[provider]
	values := [][2]string{
		{"embedding.provider", string(provider)},
		{"embedding.model", model},
	}
	if dims, ok := domain.EmbeddingDimensions()[model]; ok {
		values = append(values, [2]string{"embedding.dimensions", strconv.Itoa(dims)})
	}
	if apiKey != "" {
		values = append(values, [2]string{"embedding.api_key", apiKey})
	}
	return v.save(values)
}

func (v *View) saveLLM(provider domain.AIProvider, apiKey string) tea.Cmd {
	values := [][2]string{
		{"llm.provider", string(provider)},
		{"llm.model", domain.DefaultLLMModels()[provider]},
	}
	if apiKey != "" {
		values = append(values, [2]string{"llm.api_key", apiKey})
	}
	return v.save(values)
}

func (v *View) save(values [][2]string) tea.Cmd {
	svc := v.settingsService
	return func() tea.Msg {
		if svc == nil {
			return messages.SettingsSaved{Err: ErrNoSettingsService}
		}
		for _, kv := range values {
			if err := svc.Set(kv[0], kv[1]); err != nil {
				return messages.SettingsSaved{Err: err}
			}
		}
		return messages.SettingsSaved{}
	}
}

// checkProviders pings both providers concurrently.
func (v *View) checkProviders() tea.Cmd {
	svc := v.settingsService
	if svc == nil {
		v.err = ErrNoSettingsService
		return nil
	}
	v.checking = true
	clear(v.checks)
	return tea.Batch(
		func() tea.Msg {
			return messages.ProviderChecked{Kind: KindEmbedding, Err: svc.ValidateEmbeddingConfig()}
		},
		func() tea.Msg {
			return messages.ProviderChecked{Kind: KindLLM, Err: svc.ValidateLLMConfig()}
		},
	)
}

func (v *View) backToOverview() {
	v.section = SectionOverview
	v.selected = 0
	v.focusedField = 0
	v.apiKeyInput.SetValue("")
	v.apiKeyInput.Blur()
}

func (v *View) embeddingProvider() domain.AIProvider {
	if v.settings == nil {
		return ""
	}
	return v.settings.Embedding.Provider
}

func (v *View) llmProvider() domain.AIProvider {
	if v.settings == nil {
		return ""
	}
	return v.settings.LLM.Provider
}

func (v *View) providerIndex(providers []domain.AIProvider, current domain.AIProvider) int {
	for i, p := range providers {
		if p == current {
			return i
		}
	}
	return 0
}

// View renders the settings view.
func (v *View) View() string {
	var b strings.Builder

	b.WriteString(v.styles.Title.Render("Settings"))
	b.WriteString("\n\n")

	if v.err != nil {
		b.WriteString(v.styles.Error.Render(fmt.Sprintf("Error: %s", v.err.Error())))
		b.WriteString("\n\n")
	}

	if v.settings == nil {
		b.WriteString(v.styles.Muted.Render("Loading settings..."))
		return b.String()
	}

	switch v.section {
	case SectionOverview:
		b.WriteString(v.renderOverview())
	case SectionEmbedding:
		b.WriteString(v.renderProviderSelect("Select Embedding Provider",
			domain.AllEmbeddingProviders(), v.settings.Embedding.Provider, domain.DefaultEmbeddingModels()))
	case SectionLLM:
		b.WriteString(v.renderProviderSelect("Select LLM Provider",
			domain.AllLLMProviders(), v.settings.LLM.Provider, domain.DefaultLLMModels()))
	}

	b.WriteString("\n")
	b.WriteString(v.renderHelp())
	return b.String()
}

func (v *View) renderOverview() string {
	var b strings.Builder
	s := v.settings

	items := []struct {
		label  string
		value  string
		status string
	}{
		{
			label:  "Embedding Provider",
			value:  fmt.Sprintf("%s (%s, %d dims)", s.Embedding.Provider.Description(), s.Embedding.Model, s.Embedding.Dimensions),
			status: v.status(KindEmbedding, s.Embedding.IsConfigured()),
		},
		{
			label:  "LLM Provider",
			value:  fmt.Sprintf("%s (%s)", s.LLM.Provider.Description(), s.LLM.Model),
			status: v.status(KindLLM, s.LLM.IsConfigured()),
		},
	}

	for i, item := range items {
		indicator := "  "
		if i == v.selected {
			indicator = "> "
		}
		line := fmt.Sprintf("%s%s: %s", indicator, item.label, item.value)
		if i == v.selected {
			b.WriteString(v.styles.Selected.Render(line))
		} else {
			b.WriteString(v.styles.Normal.Render(line))
		}
		b.WriteString(" " + item.status + "\n")
	}

	b.WriteString("\n")
	b.WriteString(v.styles.Subtitle.Render("Index"))
	b.WriteString("\n")
	b.WriteString(v.styles.Muted.Render(fmt.Sprintf("  %s on %s, batches of %d", s.Index.IndexName(), s.Index.Backend, s.Index.BatchSize)))
	b.WriteString("\n\n")

	b.WriteString(v.styles.Subtitle.Render("Pipeline"))
	b.WriteString("\n")
	b.WriteString(v.styles.Muted.Render(fmt.Sprintf("  chunks of %d chars, %d overlap", s.Chunking.MaxLen, s.Chunking.Overlap)))
	b.WriteString("\n")
	pii := "off"
	if s.PII.Enabled {
		pii = "on"
	}
	b.WriteString(v.styles.Muted.Render(fmt.Sprintf("  PII masking %s, top-k %d", pii, s.Retrieval.TopK)))
	b.WriteString("\n\n")

	if err := s.Validate(); err != nil {
		b.WriteString(v.styles.Warning.Render(fmt.Sprintf("Warning: %s", err.Error())))
	} else {
		b.WriteString(v.styles.Success.Render("Configuration is valid"))
	}
	b.WriteString("\n")
	return b.String()
}

// status labels a provider with its configuration state or the result
// of the last check.
func (v *View) status(kind string, configured bool) string {
	if err, ok := v.checks[kind]; ok {
		if err != nil {
			return v.styles.Error.Render("[unreachable: " + err.Error() + "]")
		}
		return v.styles.Success.Render("[reachable]")
	}
	if v.checking {
		return v.styles.Muted.Render("[checking...]")
	}
	if configured {
		return v.styles.Success.Render("[configured]")
	}
	return v.styles.Warning.Render("[needs API key]")
}

func (v *View) renderProviderSelect(
	title string,
	providers []domain.AIProvider,
	current domain.AIProvider,
	models map[domain.AIProvider]string,
) string {
	var b strings.Builder

	b.WriteString(v.styles.Subtitle.Render(title))
	b.WriteString("\n\n")

	for i, provider := range providers {
		indicator := "  "
		if i == v.selected && v.focusedField == 0 {
			indicator = "> "
		}
		mark := ""
		if provider == current {
			mark = v.styles.Success.Render(" (current)")
		}

		line := indicator + provider.Description() + mark
		if i == v.selected && v.focusedField == 0 {
			b.WriteString(v.styles.Selected.Render(line))
		} else {
			b.WriteString(v.styles.Normal.Render(line))
		}
		b.WriteString("\n")
		if model, ok := models[provider]; ok {
			b.WriteString(v.styles.Muted.Render("    Model: " + model))
			b.WriteString("\n")
		}
	}

	if providers[v.selected].RequiresAPIKey() {
		b.WriteString("\n")
		b.WriteString(v.styles.Normal.Render("API Key:"))
		b.WriteString("\n")
		b.WriteString(v.apiKeyInput.View())
		b.WriteString("\n")
		if providers[v.selected] == domain.AIProviderAzureOpenAI {
			b.WriteString(v.styles.Muted.Render("Set the endpoint with 'fagdag config set'."))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (v *View) renderHelp() string {
	switch v.section {
	case SectionOverview:
		return v.styles.Help.Render("[j/k] navigate  [enter] edit  [v] check providers  [esc] back")
	case SectionEmbedding, SectionLLM:
		if v.focusedField == 1 {
			return v.styles.Help.Render("[tab] back to list  [enter] save  [esc] back")
		}
		return v.styles.Help.Render("[j/k] navigate  [tab] API key  [enter] select  [esc] back")
	default:
		return ""
	}
}

// SetDimensions sets the view dimensions.
func (v *View) SetDimensions(width, height int) {
	v.width = width
	v.height = height
	v.ready = true
}

// Section returns the active section.
func (v *View) Section() Section {
	return v.section
}

// Settings returns the loaded settings, or nil before they arrive.
func (v *View) Settings() *domain.Settings {
	return v.settings
}

// Err returns the last load or save error.
func (v *View) Err() error {
	return v.err
}

// Reset resets the view to initial state.
func (v *View) Reset() {
	v.backToOverview()
	v.err = nil
	v.checking = false
	clear(v.checks)
}
