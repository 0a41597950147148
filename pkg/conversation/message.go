package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	// RoleTool marks messages carrying the result of a tool execution.
	RoleTool Role = "tool"
)

// Message is a single role-tagged entry of a conversation.
type Message struct {
	ID   uuid.UUID `json:"id" yaml:"id"`
	Time time.Time `json:"time" yaml:"time"`

	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`

	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type MessageOption func(*Message)

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(message *Message) {
		message.Metadata = metadata
	}
}

func WithTime(time time.Time) MessageOption {
	return func(message *Message) {
		message.Time = time
	}
}

func WithID(id uuid.UUID) MessageOption {
	return func(message *Message) {
		message.ID = id
	}
}

func NewChatMessage(role Role, text string, options ...MessageOption) *Message {
	ret := &Message{
		ID:      uuid.New(),
		Time:    time.Now(),
		Role:    role,
		Content: text,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func (m *Message) String() string {
	return m.Content
}

// View renders the message for terminal output.
func (m *Message) View() string {
	text := m.Content
	// If we are markdown, add a newline so that it becomes valid markdown to parse.
	if strings.HasPrefix(text, "```") {
		text = "\n" + text
	}
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(text, "\n"))
}

// Conversation is an ordered list of messages, oldest first.
type Conversation []*Message

// Clone returns a deep copy, so that stages of a turn can append to the
// conversation without touching the caller's slice or messages.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	return clone.Clone(c).(Conversation)
}

// GetSinglePrompt concatenates all message contents, one per line.
func (c Conversation) GetSinglePrompt() string {
	prompt := ""
	for _, message := range c {
		prompt += message.Content + "\n"
	}
	return prompt
}

// LastOfRole returns the most recent message with the given role.
func (c Conversation) LastOfRole(role Role) (*Message, bool) {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i] != nil && c[i].Role == role {
			return c[i], true
		}
	}
	return nil, false
}
