package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/views/chat"
	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/views/menu"
	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/views/search"
	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/views/settings"
)

// App is the main TUI application following the Elm architecture.
// It implements tea.Model for use with Bubbletea.
type App struct {
	ports  *Ports
	ctx    context.Context
	styles *styles.Styles
	keymap *keymap.KeyMap
	help   help.Model

	menuView     *menu.View
	chatView     *chat.View
	searchView   *search.View
	settingsView *settings.View

	currentView messages.ViewType
	err         error

	width  int
	height int
	ready  bool
}

var _ tea.Model = (*App)(nil)

// NewApp creates a new TUI application with the given ports.
func NewApp(ports *Ports) (*App, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("creating app: %w", err)
	}

	s := styles.DefaultStyles()
	km := keymap.DefaultKeyMap()
	h := help.New()
	h.ShowAll = true

	return &App{
		ports:        ports,
		ctx:          context.Background(),
		styles:       s,
		keymap:       km,
		help:         h,
		menuView:     menu.NewView(s),
		chatView:     chat.NewView(s, km, ports.Query),
		searchView:   search.NewView(s, km, ports.Query),
		settingsView: settings.NewView(s, ports.Settings),
		currentView:  messages.ViewMenu,
	}, nil
}

// WithContext sets the context queries run under.
func (a *App) WithContext(ctx context.Context) *App {
	a.ctx = ctx
	a.chatView.WithContext(ctx)
	a.searchView.WithContext(ctx)
	return a
}

// WithTopK overrides how many results the search view shows.
func (a *App) WithTopK(k int) *App {
	a.searchView.WithTopK(k)
	return a
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.SetWindowTitle("fagdag")
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.SetDimensions(msg.Width, msg.Height)
		return a, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			a.chatView.Stop()
			return a, tea.Quit
		}
		if a.currentView == messages.ViewHelp {
			if msg.Type == tea.KeyEsc || msg.String() == "q" {
				a.currentView = messages.ViewMenu
			}
			return a, nil
		}

	case messages.ViewChanged:
		return a, a.switchTo(msg.View)

	case messages.AnswerDelta, messages.AnswerCompleted:
		// Streamed answers always belong to the chat.
		a.chatView, cmd = a.chatView.Update(msg)
		return a, cmd

	case messages.SearchCompleted:
		a.searchView, cmd = a.searchView.Update(msg)
		a.err = a.searchView.Err()
		return a, cmd

	case messages.SettingsLoaded, messages.SettingsSaved, messages.ProviderChecked:
		a.settingsView, cmd = a.settingsView.Update(msg)
		return a, cmd

	case messages.ErrorOccurred:
		a.err = msg.Err

	case messages.Quit:
		return a, tea.Quit
	}

	return a, a.forward(msg)
}

// forward hands msg to the active view.
func (a *App) forward(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch a.currentView {
	case messages.ViewMenu:
		a.menuView, cmd = a.menuView.Update(msg)
	case messages.ViewChat:
		a.chatView, cmd = a.chatView.Update(msg)
	case messages.ViewSearch:
		a.searchView, cmd = a.searchView.Update(msg)
	case messages.ViewSettings:
		a.settingsView, cmd = a.settingsView.Update(msg)
	case messages.ViewHelp:
	}
	return cmd
}

func (a *App) switchTo(view messages.ViewType) tea.Cmd {
	a.currentView = view
	switch view {
	case messages.ViewChat:
		// The conversation survives trips to the menu.
		return a.chatView.Init()
	case messages.ViewSearch:
		a.searchView.Reset()
		return a.searchView.Init()
	case messages.ViewSettings:
		a.settingsView.Reset()
		return a.settingsView.Init()
	case messages.ViewMenu, messages.ViewHelp:
	}
	return nil
}

// View implements tea.Model.
func (a *App) View() string {
	if !a.ready {
		return "Initialising..."
	}

	switch a.currentView {
	case messages.ViewChat:
		return a.chatView.View()
	case messages.ViewSearch:
		return a.searchView.View()
	case messages.ViewSettings:
		return a.settingsView.View()
	case messages.ViewHelp:
		return a.viewHelp()
	default:
		return a.menuView.View()
	}
}

func (a *App) viewHelp() string {
	var b strings.Builder

	b.WriteString(a.styles.Title.Render("Help"))
	b.WriteString("\n\n")
	b.WriteString(a.help.FullHelpView(a.keymap.FullHelp()))
	b.WriteString("\n\n")
	b.WriteString(a.styles.Normal.Render(
		"Chat answers only from the indexed documents and lists the chunks it used.\n" +
			"Search shows what retrieval finds for a query without asking the model.",
	))
	b.WriteString("\n\n")

	if a.ports.Ingest != nil {
		b.WriteString(a.styles.Subtitle.Render("Last ingest"))
		b.WriteString("\n")
		if r := a.ports.Ingest.Status(); r != nil {
			b.WriteString(a.styles.Muted.Render(fmt.Sprintf("  %s: %s, %d documents, %d failed",
				r.Index, r.Status, r.Documents.Processed, r.Documents.Failed)))
		} else {
			b.WriteString(a.styles.Muted.Render("  none in this session; run 'fagdag ingest'"))
		}
		b.WriteString("\n\n")
	}

	b.WriteString(a.styles.Help.Render("[esc] back to menu"))
	return b.String()
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen(), tea.WithContext(a.ctx))
	_, err := p.Run()
	return err
}

// CurrentView returns the current view type.
func (a *App) CurrentView() messages.ViewType {
	return a.currentView
}

// Err returns the last error that occurred.
func (a *App) Err() error {
	return a.err
}

// Ready returns whether the app has been initialised.
func (a *App) Ready() bool {
	return a.ready
}

// SetDimensions sets the terminal dimensions on every view.
func (a *App) SetDimensions(width, height int) {
	a.width = width
	a.height = height
	a.ready = true
	a.help.Width = width

	a.menuView.SetDimensions(width, height)
	a.chatView.SetDimensions(width, height)
	a.searchView.SetDimensions(width, height)
	a.settingsView.SetDimensions(width, height)
}
