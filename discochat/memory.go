package discochat

import (
	"log/slog"
	"strings"
	"sync"
	"unicode"

	openai "github.com/sashabaranov/go-openai"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem    Role = openai.ChatMessageRoleSystem
	RoleUser      Role = openai.ChatMessageRoleUser
	RoleAssistant Role = openai.ChatMessageRoleAssistant
)

// maxNameLength is the longest value the chat completion API accepts
// for a message's 'name' field
const maxNameLength = 64

// MemoryItem is a single conversation turn.
type MemoryItem struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	Role     Role   `json:"role"`
}

func (m MemoryItem) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("role", string(m.Role)),
		slog.String("username", m.Username),
		slog.Int("length", len(m.Text)),
	)
}

// ChatCompletionMessage renders the turn as a chat completion message.
// System turns never carry a name.
func (m MemoryItem) ChatCompletionMessage() openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{
		Role:    string(m.Role),
		Content: m.Text,
	}
	if m.Role != RoleSystem && m.Username != "" {
		msg.Name = sanitizeUsername(m.Username)
	}
	return msg
}

// transcriptLine returns the turn as a line of a condensed transcript
func (m MemoryItem) transcriptLine() string {
	if m.Username == "" {
		return m.Text
	}
	return m.Username + ": " + m.Text
}

// sanitizeUsername converts a display name into something accepted by the
// chat completion API's 'name' field: whitespace and hyphens become
// underscores, anything else outside [a-zA-Z0-9_] is dropped.
func sanitizeUsername(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsSpace(r), r == '-':
			b.WriteRune('_')
		case r == '_', r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		}
		if b.Len() >= maxNameLength {
			break
		}
	}
	return b.String()
}

// ChannelMemory holds the rolling conversation window for one channel.
// The number of retained user/assistant turns never exceeds MaxLength,
// with the oldest turn evicted first. System prompts are kept separately
// and don't count against the limit.
type ChannelMemory struct {
	ChannelID string
	MaxLength int

	botName       string
	systemPrompts []MemoryItem
	messages      []MemoryItem
	mu            sync.RWMutex
}

// NewChannelMemory returns a ChannelMemory seeded with the given system
// prompts and messages. If there are more messages than maxLength, only
// the newest are kept. A maxLength below 1 uses DefaultChatHistoryLength.
func NewChannelMemory(
	botName string,
	channelID string,
	systemPrompts []MemoryItem,
	messages []MemoryItem,
	maxLength int,
) *ChannelMemory {
	if maxLength < 1 {
		maxLength = DefaultChatHistoryLength
	}
	c := &ChannelMemory{
		ChannelID:     channelID,
		MaxLength:     maxLength,
		botName:       botName,
		systemPrompts: append([]MemoryItem(nil), systemPrompts...),
		messages:      make([]MemoryItem, 0, min(len(messages), maxLength)),
	}
	for _, m := range messages {
		c.appendLocked(m)
	}
	return c
}

// Append adds a turn to the end of the window, evicting from the head
// until the window fits within MaxLength.
func (c *ChannelMemory) Append(item MemoryItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(item)
}

func (c *ChannelMemory) appendLocked(item MemoryItem) {
	c.messages = append(c.messages, item)
	if over := len(c.messages) - c.MaxLength; over > 0 {
		c.messages = append(c.messages[:0:0], c.messages[over:]...)
	}
}

// Clear removes all turns. System prompts are kept.
func (c *ChannelMemory) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = []MemoryItem{}
}

// SetSystemPrompts replaces the system prompts prepended to every render
func (c *ChannelMemory) SetSystemPrompts(prompts []MemoryItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemPrompts = append([]MemoryItem(nil), prompts...)
}

// Messages returns a copy of the retained turns, oldest first
func (c *ChannelMemory) Messages() []MemoryItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]MemoryItem{}, c.messages...)
}

// SystemPrompts returns a copy of the current system prompts
func (c *ChannelMemory) SystemPrompts() []MemoryItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]MemoryItem{}, c.systemPrompts...)
}

// Len returns the number of retained turns
func (c *ChannelMemory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Render returns the messages to send with a chat completion request.
// System prompts always come first.
//
// When condense is false, every turn maps to one message, in order.
//
// When condense is true, all turns are folded into a single user message
// holding a "username: text" transcript, with the bot's name on the last
// line, so the model continues the transcript as the bot. The result is
// always the system prompts plus one message.
func (c *ChannelMemory) Render(condense bool) []openai.ChatCompletionMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rendered := make([]openai.ChatCompletionMessage, 0, len(c.systemPrompts)+len(c.messages))
	for _, p := range c.systemPrompts {
		rendered = append(rendered, p.ChatCompletionMessage())
	}

	if !condense {
		for _, m := range c.messages {
			rendered = append(rendered, m.ChatCompletionMessage())
		}
		return rendered
	}

	lines := make([]string, 0, len(c.messages)+1)
	for _, m := range c.messages {
		lines = append(lines, m.transcriptLine())
	}
	lines = append(lines, c.botName)

	return append(
		rendered,
		openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: strings.Join(lines, "\n"),
		},
	)
}
