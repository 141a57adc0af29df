// Package chat provides the conversation view for the TUI.
//
// A question runs in a tea.Cmd while its answer streams back through a
// channel, one AnswerDelta per fragment and a final AnswerCompleted.
// Stopping sets a flag the delta callback checks, so the query ends with
// the text received so far.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/viewport"
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

// ErrNoQueryService indicates that no query service was provided.
var ErrNoQueryService = errors.New("query service is required")

// streamBuffer bounds how many fragments may queue before the query
// waits for the view.
const streamBuffer = 64

// turn is one question and its answer as shown in the transcript.
type turn struct {
	question string
	answer   strings.Builder
	sources  []domain.RetrievalResult
	state    domain.QueryState
	notice   string
	err      error
	done     bool
}

// View is the conversation view.
type View struct {
	styles    *styles.Styles
	keymap    *keymap.KeyMap
	input     *input.Prompt
	viewport  viewport.Model
	statusbar *status.Bar

	queryService driving.QueryService
	ctx          context.Context

	history     []domain.ChatMessage
	turns       []*turn
	events      chan tea.Msg
	stop        *atomic.Bool
	streaming   bool
	showSources bool

	width  int
	height int
	ready  bool
}

// NewView creates a new chat view.
func NewView(s *styles.Styles, km *keymap.KeyMap, queryService driving.QueryService) *View {
	if s == nil {
		s = styles.DefaultStyles()
	}
	if km == nil {
		km = keymap.DefaultKeyMap()
	}

	bar := status.NewBar(s, km)
	bar.SetChat(true)

	return &View{
		styles:       s,
		keymap:       km,
		input:        input.NewPrompt(s, "Ask:", "Ask about your documents..."),
		viewport:     viewport.New(80, 16),
		statusbar:    bar,
		queryService: queryService,
		ctx:          context.Background(),
		width:        80,
		height:       24,
	}
}

// WithContext sets the context questions run under.
func (v *View) WithContext(ctx context.Context) *View {
	v.ctx = ctx
	return v
}

// Init initialises the view.
func (v *View) Init() tea.Cmd {
	return v.input.Init()
}

// Update handles messages for the chat view.
func (v *View) Update(msg tea.Msg) (*View, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.SetDimensions(msg.Width, msg.Height)
		return v, nil

	case tea.KeyMsg:
		return v.handleKeyMsg(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		v.viewport, cmd = v.viewport.Update(msg)
		return v, cmd

	case messages.AnswerDelta:
		return v, v.handleDelta(msg)

	case messages.AnswerCompleted:
		v.handleCompleted(msg)
		return v, nil

	case messages.ErrorOccurred:
		v.statusbar.SetState(status.StateError)
		v.statusbar.SetMessage(msg.Err.Error())
		return v, nil
	}

	var cmd tea.Cmd
	v.input, cmd = v.input.Update(msg)
	return v, cmd
}

func (v *View) handleKeyMsg(msg tea.KeyMsg) (*View, tea.Cmd) {
	key := msg.String()

	if v.streaming {
		if keymap.Matches(key, v.keymap.Stop) {
			v.Stop()
		}
		return v, nil
	}

	switch {
	case keymap.Matches(key, v.keymap.Back):
		return v, func() tea.Msg {
			return messages.ViewChanged{View: messages.ViewMenu}
		}
	case keymap.Matches(key, v.keymap.Send):
		return v, v.submit()
	case keymap.Matches(key, v.keymap.Sources):
		v.showSources = !v.showSources
		v.refresh(false)
		return v, nil
	case keymap.Matches(key, v.keymap.Clear):
		v.Reset()
		return v, nil
	case keymap.Matches(key, v.keymap.ScrollUp):
		v.viewport.SetYOffset(v.viewport.YOffset - v.viewport.Height/2)
		return v, nil
	case keymap.Matches(key, v.keymap.ScrollDown):
		v.viewport.SetYOffset(v.viewport.YOffset + v.viewport.Height/2)
		return v, nil
	}

	var cmd tea.Cmd
	v.input, cmd = v.input.Update(msg)
	return v, cmd
}

// submit starts a query for the current input.
func (v *View) submit() tea.Cmd {
	question := strings.TrimSpace(v.input.Value())
	if question == "" {
		return nil
	}
	if v.queryService == nil {
		return func() tea.Msg { return messages.ErrorOccurred{Err: ErrNoQueryService} }
	}

	v.input.Reset()
	v.turns = append(v.turns, &turn{question: question, state: domain.QueryEmbedding})
	v.streaming = true
	v.stop = &atomic.Bool{}
	v.events = make(chan tea.Msg, streamBuffer)
	v.statusbar.SetState(status.StateThinking)
	v.statusbar.SetMessage("")
	v.refresh(true)

	history := append([]domain.ChatMessage(nil), v.history...)
	return tea.Batch(
		ask(v.ctx, v.queryService, history, question, v.stop, v.events),
		waitFor(v.events),
	)
}

// ask runs the query, sending each fragment and then the answer to
// events before closing it.
func ask(
	ctx context.Context,
	svc driving.QueryService,
	history []domain.ChatMessage,
	question string,
	stop *atomic.Bool,
	events chan<- tea.Msg,
) tea.Cmd {
	return func() tea.Msg {
		defer close(events)

		onDelta := func(text string) error {
			if stop.Load() {
				return domain.ErrStopStreaming
			}
			select {
			case events <- messages.AnswerDelta{Text: text}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		answer, err := svc.Ask(ctx, history, question, onDelta)
		if answer == nil {
			answer = &domain.Answer{Text: domain.CouldNotAnswer, State: domain.QueryFailed}
		}
		select {
		case events <- messages.AnswerCompleted{Answer: answer, Err: err}:
		case <-ctx.Done():
		}
		return nil
	}
}

// waitFor delivers the next message from events, or nothing once it
// is closed.
func waitFor(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}

func (v *View) current() *turn {
	if len(v.turns) == 0 {
		return nil
	}
	return v.turns[len(v.turns)-1]
}

func (v *View) handleDelta(msg messages.AnswerDelta) tea.Cmd {
	t := v.current()
	if !v.streaming || t == nil {
		return nil
	}
	t.answer.WriteString(msg.Text)
	t.state = domain.QueryStreaming
	v.statusbar.SetState(status.StateStreaming)
	v.refresh(true)
	return waitFor(v.events)
}

func (v *View) handleCompleted(msg messages.AnswerCompleted) {
	t := v.current()
	if !v.streaming || t == nil {
		return
	}
	v.streaming = false
	v.events = nil

	answer := msg.Answer
	t.done = true
	t.state = answer.State
	t.sources = answer.Contexts
	t.err = msg.Err
	t.notice = answer.Notice
	// Streamed text stays on screen; only an answer that never streamed
	// is written here.
	if t.answer.Len() == 0 {
		t.answer.WriteString(answer.Text)
	}

	switch {
	case answer.State == domain.QueryCancelled:
		v.statusbar.SetState(status.StateStopped)
	case msg.Err != nil:
		v.statusbar.SetState(status.StateError)
		v.statusbar.SetMessage(msg.Err.Error())
	default:
		v.statusbar.SetState(status.StateReady)
		v.statusbar.SetMessage(fmt.Sprintf("%d sources", len(answer.Contexts)))
	}

	shown := t.answer.String()
	keep := answer.State == domain.QueryCompleted ||
		(answer.State == domain.QueryCancelled && strings.TrimSpace(shown) != "")
	if keep {
		v.history = append(v.history,
			domain.ChatMessage{Role: domain.RoleUser, Content: t.question},
			domain.ChatMessage{Role: domain.RoleAssistant, Content: shown},
		)
	}
	v.refresh(true)
}

// Stop ends the streaming answer, keeping what has arrived.
func (v *View) Stop() {
	if v.stop != nil {
		v.stop.Store(true)
	}
}

// refresh re-renders the transcript into the viewport.
func (v *View) refresh(follow bool) {
	v.viewport.SetContent(v.renderTranscript())
	if follow {
		v.viewport.GotoBottom()
	}
}

func (v *View) renderTranscript() string {
	if len(v.turns) == 0 {
		return v.styles.Muted.Render("Ask a question about the indexed documents.")
	}

	wrap := lipgloss.NewStyle().Width(max(v.width-2, 20))
	var b strings.Builder
	for i, t := range v.turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(v.styles.UserMessage.Render("You: "))
		b.WriteString(wrap.Render(t.question))
		b.WriteString("\n")
		b.WriteString(v.styles.AssistantMessage.Render("fagdag: "))

		text := t.answer.String()
		if text == "" && !t.done {
			text = v.styles.Muted.Render("...")
		}
		b.WriteString(wrap.Render(text))
		b.WriteString("\n")

		if t.done && t.state == domain.QueryCancelled {
			b.WriteString(v.styles.Warning.Render("(answer stopped early)"))
			b.WriteString("\n")
		}
		if t.notice != "" {
			b.WriteString(v.styles.Warning.Render(t.notice))
			b.WriteString("\n")
		}
		if t.err != nil && t.state != domain.QueryCancelled {
			b.WriteString(v.styles.Error.Render("Error: " + t.err.Error()))
			b.WriteString("\n")
		}
		if v.showSources && len(t.sources) > 0 {
			b.WriteString(v.renderSources(t.sources))
		}
	}
	return b.String()
}

func (v *View) renderSources(sources []domain.RetrievalResult) string {
	var b strings.Builder
	for i := range sources {
		line := fmt.Sprintf("[%d] %s #%d (%.2f)", i+1, list.Title(sources[i].Chunk), sources[i].Chunk.Position, sources[i].Score)
		b.WriteString(v.styles.Source.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

// View renders the chat view.
func (v *View) View() string {
	if !v.ready {
		return "Initialising..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		v.styles.Title.Render("fagdag chat"),
		"",
		v.viewport.View(),
		"",
		v.input.View(),
		v.statusbar.View(),
	)
}

// SetDimensions sets the view dimensions.
func (v *View) SetDimensions(width, height int) {
	v.width = width
	v.height = height
	v.ready = true

	v.viewport.Width = width
	v.viewport.Height = max(height-8, 3)
	v.input.SetWidth(width)
	v.statusbar.SetWidth(width)
	v.refresh(true)
}

// Reset starts a new conversation. A streaming answer is stopped first.
func (v *View) Reset() {
	v.Stop()
	v.streaming = false
	v.events = nil
	v.history = nil
	v.turns = nil
	v.input.Reset()
	v.input.Focus()
	v.statusbar.Clear()
	v.refresh(true)
}

// History returns the conversation sent with the next question.
func (v *View) History() []domain.ChatMessage {
	return v.history
}

// Streaming reports whether an answer is in flight.
func (v *View) Streaming() bool {
	return v.streaming
}

// ShowSources reports whether sources are listed under answers.
func (v *View) ShowSources() bool {
	return v.showSources
}

// Transcript returns the rendered conversation.
func (v *View) Transcript() string {
	return v.renderTranscript()
}

// Ready returns whether the view is ready to render.
func (v *View) Ready() bool {
	return v.ready
}

// Width returns the current width.
func (v *View) Width() int {
	return v.width
}

// Height returns the current height.
func (v *View) Height() int {
	return v.height
}
