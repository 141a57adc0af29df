package domain

// Role identifies the author of a chat message.
type Role string

// Chat roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid returns true if the role is recognised.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// ChatMessage is role-tagged text exchanged in a conversation.
// A conversation is an ordered slice of messages and is resent in full on
// every completion request; no server-side session memory is assumed.
type ChatMessage struct {
	Role    Role
	Content string
}

// Conversation returns a copy of history with the message appended.
// The input slice is never modified.
func Conversation(history []ChatMessage, msg ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(history)+1)
	out = append(out, history...)
	return append(out, msg)
}
