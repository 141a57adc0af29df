// Package search provides the retrieval-only view for the TUI.
package search

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/components/input"
	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/components/list"
	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/components/status"
	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driving"
)

// View shows the chunks retrieval returns for a query, without asking
// the model.
type View struct {
	styles    *styles.Styles
	keymap    *keymap.KeyMap
	input     *input.Prompt
	list      *list.ResultList
	statusbar *status.Bar

	queryService driving.QueryService
	ctx          context.Context
	topK         int

	width      int
	height     int
	ready      bool
	err        error
	focusInput bool
	expanded   bool
}

// NewView creates a new search view.
func NewView(s *styles.Styles, km *keymap.KeyMap, queryService driving.QueryService) *View {
	if s == nil {
		s = styles.DefaultStyles()
	}
	if km == nil {
		km = keymap.DefaultKeyMap()
	}

	return &View{
		styles:       s,
		keymap:       km,
		input:        input.NewPrompt(s, "Search:", "Search your documents..."),
		list:         list.NewResultList(s),
		statusbar:    status.NewBar(s, km),
		queryService: queryService,
		ctx:          context.Background(),
		width:        80,
		height:       24,
		focusInput:   true,
	}
}

// WithContext sets the context searches run under.
func (v *View) WithContext(ctx context.Context) *View {
	v.ctx = ctx
	return v
}

// WithTopK overrides the number of results; zero keeps the configured value.
func (v *View) WithTopK(k int) *View {
	v.topK = k
	return v
}

// Init initialises the view.
func (v *View) Init() tea.Cmd {
	return v.input.Init()
}

// Update handles messages for the search view.
func (v *View) Update(msg tea.Msg) (*View, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.SetDimensions(msg.Width, msg.Height)
		return v, nil

	case tea.KeyMsg:
		return v.handleKeyMsg(msg)

	case messages.SearchCompleted:
		v.handleSearchCompleted(msg)
		return v, nil

	case messages.ErrorOccurred:
		v.setError(msg.Err)
		return v, nil
	}

	var cmd tea.Cmd
	if v.focusInput {
		v.input, cmd = v.input.Update(msg)
	}
	return v, cmd
}

func (v *View) handleKeyMsg(msg tea.KeyMsg) (*View, tea.Cmd) {
	if msg.Type == tea.KeyEsc {
		if v.expanded {
			v.expanded = false
			return v, nil
		}
		return v, func() tea.Msg {
			return messages.ViewChanged{View: messages.ViewMenu}
		}
	}

	if v.focusInput {
		if msg.Type == tea.KeyEnter {
			query := strings.TrimSpace(v.input.Value())
			if query == "" {
				return v, nil
			}
			v.err = nil
			v.statusbar.SetState(status.StateSearching)
			v.focusInput = false
			v.input.Blur()
			return v, v.performSearch(query)
		}
		var cmd tea.Cmd
		v.input, cmd = v.input.Update(msg)
		return v, cmd
	}

	switch {
	case msg.Type == tea.KeyEnter:
		v.expanded = !v.expanded && v.list.SelectedResult() != nil
	case keymap.Matches(msg.String(), v.keymap.NewSearch):
		v.expanded = false
		v.focusInput = true
		v.input.SetValue("")
		return v, v.input.Focus()
	default:
		v.list, _ = v.list.Update(msg)
	}
	return v, nil
}

// performSearch runs retrieval off the update loop.
func (v *View) performSearch(query string) tea.Cmd {
	svc, ctx, topK := v.queryService, v.ctx, v.topK
	return func() tea.Msg {
		if svc == nil {
			return messages.ErrorOccurred{Err: ErrNoQueryService}
		}
		results, err := svc.Search(ctx, query, topK)
		return messages.SearchCompleted{Query: query, Results: results, Err: err}
	}
}

func (v *View) handleSearchCompleted(msg messages.SearchCompleted) {
	if msg.Err != nil {
		v.setError(msg.Err)
		return
	}

	v.err = nil
	v.expanded = false
	v.list.SetResults(msg.Results)
	v.statusbar.SetState(status.StateResults)
	v.statusbar.SetResultCount(len(msg.Results))
	v.focusInput = false
	v.input.Blur()
}

func (v *View) setError(err error) {
	v.err = err
	v.statusbar.SetState(status.StateError)
	v.statusbar.SetMessage(err.Error())
	v.focusInput = true
	v.input.Focus()
}

// View renders the search view.
func (v *View) View() string {
	if !v.ready {
		return "Initialising..."
	}

	sections := make([]string, 0, 10)
	sections = append(sections, v.styles.Title.Render("fagdag search"), "", v.input.View(), "")

	if v.err != nil {
		sections = append(sections, v.styles.Error.Render("Error: "+v.err.Error()), "")
	}

	if r := v.list.SelectedResult(); v.expanded && r != nil {
		sections = append(sections, v.renderChunk(r))
	} else {
		sections = append(sections, v.list.View())
	}

	sections = append(sections, "", v.statusbar.View())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderChunk shows the whole text of one result.
func (v *View) renderChunk(r *domain.RetrievalResult) string {
	header := v.styles.Subtitle.Render(list.Title(r.Chunk))
	body := lipgloss.NewStyle().Width(max(v.width-4, 20)).Render(r.Chunk.Content)
	return v.styles.Border.Padding(0, 1).Render(header + "\n\n" + body)
}

// SetDimensions sets the view dimensions.
func (v *View) SetDimensions(width, height int) {
	v.width = width
	v.height = height
	v.ready = true

	v.input.SetWidth(width)
	v.list.SetDimensions(width, height-10)
	v.statusbar.SetWidth(width)
}

// Width returns the current width.
func (v *View) Width() int {
	return v.width
}

// Height returns the current height.
func (v *View) Height() int {
	return v.height
}

// Ready returns whether the view is ready to render.
func (v *View) Ready() bool {
	return v.ready
}

// Query returns the current search query.
func (v *View) Query() string {
	return v.input.Value()
}

// SetQuery sets the search query.
func (v *View) SetQuery(query string) {
	v.input.SetValue(query)
}

// Results returns the current search results.
func (v *View) Results() []domain.RetrievalResult {
	return v.list.Results()
}

// SelectedResult returns the currently selected result.
func (v *View) SelectedResult() *domain.RetrievalResult {
	return v.list.SelectedResult()
}

// Expanded reports whether the selected chunk is shown in full.
func (v *View) Expanded() bool {
	return v.expanded
}

// Err returns the current error, if any.
func (v *View) Err() error {
	return v.err
}

// Reset returns the view to an empty query.
func (v *View) Reset() {
	v.focusInput = true
	v.expanded = false
	v.input.Focus()
	v.input.SetValue("")
	v.list.SetResults(nil)
	v.err = nil
	v.statusbar.Clear()
}

// InputFocused returns whether the input has focus.
func (v *View) InputFocused() bool {
	return v.focusInput
}
