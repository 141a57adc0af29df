package menu

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/fagdag/internal/adapters/driving/tui/styles"
)

func TestNewView(t *testing.T) {
	view := NewView(styles.DefaultStyles())

	require.NotNil(t, view)
	assert.Len(t, view.Items(), 5)
	assert.Equal(t, 0, view.Selected())
	assert.Nil(t, view.Init())
}

func TestNewView_NilStyles(t *testing.T) {
	view := NewView(nil)

	assert.NotNil(t, view.styles)
}

func TestView_Update_WindowSize(t *testing.T) {
	view := NewView(nil)

	updated, cmd := view.Update(tea.WindowSizeMsg{Width: 100, Height: 50})

	assert.Same(t, view, updated)
	assert.Nil(t, cmd)
	assert.True(t, view.ready)
	assert.Equal(t, 100, view.width)
}

func TestView_Navigation(t *testing.T) {
	view := NewView(nil)
	down := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}}
	up := tea.KeyMsg{Type: tea.KeyUp}

	for range 10 {
		view.Update(down)
	}
	assert.Equal(t, 4, view.Selected())

	view.Update(up)
	assert.Equal(t, 3, view.Selected())

	for range 10 {
		view.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}})
	}
	assert.Equal(t, 0, view.Selected())
}

func TestView_EnterChangesView(t *testing.T) {
	tests := []struct {
		index int
		want  messages.ViewType
	}{
		{0, messages.ViewChat},
		{1, messages.ViewSearch},
		{2, messages.ViewSettings},
		{3, messages.ViewHelp},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			view := NewView(nil)
			view.selected = tt.index

			_, cmd := view.Update(tea.KeyMsg{Type: tea.KeyEnter})
			require.NotNil(t, cmd)

			assert.Equal(t, messages.ViewChanged{View: tt.want}, cmd())
		})
	}
}

func TestView_Quit(t *testing.T) {
	view := NewView(nil)
	view.selected = 4

	_, cmd := view.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	_, cmd = NewView(nil).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestView_View(t *testing.T) {
	view := NewView(nil)
	assert.Contains(t, view.View(), "Initialising")

	view.SetDimensions(120, 40)
	output := view.View()

	assert.Contains(t, output, "fagdag")
	for _, item := range view.Items() {
		assert.Contains(t, output, item.Label)
		assert.Contains(t, output, item.Hint)
	}
	assert.Contains(t, output, "> ")
}
