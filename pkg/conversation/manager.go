package conversation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Manager keeps the running conversation of a multi-turn chat.
type Manager interface {
	GetConversation() Conversation
	AppendMessages(msgs ...*Message)
	SaveToFile(filename string) error
}

const DefaultAutosaveFormat = `{{.Year}}/{{.Month}}/{{.Day}}/{{.Time.Format "150405"}}-{{.ConversationID}}.json`

type ManagerImpl struct {
	ConversationID uuid.UUID

	mu       sync.RWMutex
	messages Conversation

	autosaveEnabled bool
	autosaveFormat  string
	autosaveDir     string
	startTime       time.Time
}

var _ Manager = (*ManagerImpl)(nil)

type ManagerOption func(*ManagerImpl)

func WithMessages(messages ...*Message) ManagerOption {
	return func(m *ManagerImpl) {
		m.messages = append(m.messages, messages...)
	}
}

func WithManagerConversationID(conversationID uuid.UUID) ManagerOption {
	return func(m *ManagerImpl) {
		m.ConversationID = conversationID
	}
}

// WithAutosave writes the conversation after every append. An empty dir
// defaults to ~/.mcpturn/history, an empty format to DefaultAutosaveFormat.
func WithAutosave(dir string, format string) ManagerOption {
	return func(m *ManagerImpl) {
		m.autosaveEnabled = true

		if dir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				homeDir = "."
			}
			dir = filepath.Join(homeDir, ".mcpturn", "history")
		}
		m.autosaveDir = dir

		if format == "" {
			format = DefaultAutosaveFormat
		}
		m.autosaveFormat = format
	}
}

func NewManager(options ...ManagerOption) *ManagerImpl {
	ret := &ManagerImpl{
		ConversationID: uuid.Nil,
		startTime:      time.Now(),
	}
	for _, option := range options {
		option(ret)
	}

	if ret.ConversationID == uuid.Nil {
		ret.ConversationID = uuid.New()
	}

	return ret
}

// GetConversation returns a copy of the messages appended so far.
func (c *ManagerImpl) GetConversation() Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ret := make(Conversation, len(c.messages))
	copy(ret, c.messages)
	return ret
}

func (c *ManagerImpl) AppendMessages(messages ...*Message) {
	c.mu.Lock()
	c.messages = append(c.messages, messages...)
	count := len(c.messages)
	c.mu.Unlock()

	log.Trace().
		Str("conversation_id", c.ConversationID.String()).
		Int("appended", len(messages)).
		Int("total", count).
		Msg("appended messages")

	if c.autosaveEnabled {
		if err := c.autoSave(); err != nil {
			log.Warn().Err(err).Msg("could not autosave conversation")
		}
	}
}

// SaveToFile writes the conversation as indented JSON.
func (c *ManagerImpl) SaveToFile(s string) error {
	msgs := c.GetConversation()
	f, err := os.Create(s)
	if err != nil {
		return err
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(msgs)
}

// AutosavePath renders the file the conversation is autosaved to.
func (c *ManagerImpl) AutosavePath() (string, error) {
	data := map[string]interface{}{
		"Year":           c.startTime.Format("2006"),
		"Month":          c.startTime.Format("01"),
		"Day":            c.startTime.Format("02"),
		"ConversationID": c.ConversationID.String(),
		"Time":           c.startTime,
	}

	tmpl, err := template.New("autosave").Funcs(sprig.TxtFuncMap()).Parse(c.autosaveFormat)
	if err != nil {
		return "", errors.Wrap(err, "invalid autosave format")
	}

	var filePathBuffer strings.Builder
	if err := tmpl.Execute(&filePathBuffer, data); err != nil {
		return "", err
	}

	return filepath.Join(c.autosaveDir, filePathBuffer.String()), nil
}

func (c *ManagerImpl) autoSave() error {
	fullPath, err := c.AutosavePath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}

	return c.SaveToFile(fullPath)
}
