package keymap

import (
	"testing"

	"github.com/charmbracelet/bubbles/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultKeyMap_Bindings(t *testing.T) {
	km := DefaultKeyMap()
	require.NotNil(t, km)

	tests := []struct {
		name    string
		binding key.Binding
		keys    []string
	}{
		{"quit", km.Quit, []string{"q", "ctrl+c"}},
		{"help", km.Help, []string{"?"}},
		{"back", km.Back, []string{"esc"}},
		{"send", km.Send, []string{"enter"}},
		{"stop", km.Stop, []string{"esc", "ctrl+x"}},
		{"up", km.Up, []string{"up", "k"}},
		{"down", km.Down, []string{"down", "j"}},
		{"scroll up", km.ScrollUp, []string{"pgup"}},
		{"scroll down", km.ScrollDown, []string{"pgdown"}},
		{"sources", km.Sources, []string{"ctrl+o"}},
		{"clear", km.Clear, []string{"ctrl+l"}},
		{"new search", km.NewSearch, []string{"n"}},
		{"check", km.Check, []string{"v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range tt.keys {
				assert.Contains(t, tt.binding.Keys(), k)
			}
			assert.NotEmpty(t, tt.binding.Help().Desc)
		})
	}
}

func TestKeyMap_HelpGroups(t *testing.T) {
	km := DefaultKeyMap()

	assert.Len(t, km.ShortHelp(), 2)
	assert.Equal(t, "send", km.ChatHelp()[0].Help().Desc)
	assert.Equal(t, "stop", km.StreamingHelp()[0].Help().Desc)
	assert.Len(t, km.ResultsHelp(), 4)

	full := km.FullHelp()
	require.Len(t, full, 3)
	for _, group := range full {
		assert.NotEmpty(t, group)
	}
}

func TestMatches(t *testing.T) {
	km := DefaultKeyMap()

	assert.True(t, Matches("esc", km.Stop))
	assert.True(t, Matches("ctrl+x", km.Stop))
	assert.False(t, Matches("enter", km.Stop))
	assert.False(t, Matches("", km.Quit))
}
