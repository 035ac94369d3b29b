// Package copilot – memory.go keeps the short rolling conversation history of
// every user and group. Nothing here is persisted.
package copilot

import (
	"strings"
	"sync"

	"github.com/jholhewres/linegpt/pkg/linegpt/model"
)

// conversation is the state of one identity.
type conversation struct {
	systemMessage string
	entries       []model.Message
}

// Memory stores conversations keyed by identity. Unknown identities are
// initialized on first use, so no operation ever fails. Safe for concurrent use.
type Memory struct {
	mu            sync.RWMutex
	systemMessage string
	window        int
	conversations map[string]*conversation
}

// NewMemory creates a memory whose views hold the system message plus the
// last 2*window entries.
func NewMemory(systemMessage string, window int) *Memory {
	if window < 1 {
		window = 1
	}
	return &Memory{
		systemMessage: systemMessage,
		window:        window,
		conversations: make(map[string]*conversation),
	}
}

// Get returns the system entry followed by the most recent entries.
// The returned slice is a copy.
func (m *Memory) Get(identity string) []model.Message {
	m.mu.RLock()
	conv, ok := m.conversations[identity]
	if ok {
		view := m.view(conv)
		m.mu.RUnlock()
		return view
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view(m.conversationLocked(identity))
}

// Append adds one entry to the identity's history.
func (m *Memory) Append(identity, role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv := m.conversationLocked(identity)
	conv.entries = append(conv.entries, model.Message{Role: role, Content: content})

	// Only the tail is ever read; keep a bounded backlog.
	if keep := 4 * m.window; len(conv.entries) > 2*keep {
		conv.entries = append([]model.Message(nil), conv.entries[len(conv.entries)-keep:]...)
	}
}

// ChangeSystemMessage replaces the identity's system message and keeps its
// history.
func (m *Memory) ChangeSystemMessage(identity, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversationLocked(identity).systemMessage = text
}

// Remove resets the identity to the default system message and an empty
// history.
func (m *Memory) Remove(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[identity] = &conversation{systemMessage: m.systemMessage}
}

// Render formats the Get view one entry per line.
func (m *Memory) Render(identity string) string {
	var sb strings.Builder
	for i, msg := range m.Get(identity) {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
	}
	return sb.String()
}

// Len returns the number of identities with state.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

func (m *Memory) conversationLocked(identity string) *conversation {
	conv, ok := m.conversations[identity]
	if !ok {
		conv = &conversation{systemMessage: m.systemMessage}
		m.conversations[identity] = conv
	}
	return conv
}

func (m *Memory) view(conv *conversation) []model.Message {
	tail := conv.entries
	if n := 2 * m.window; len(tail) > n {
		tail = tail[len(tail)-n:]
	}
	out := make([]model.Message, 0, len(tail)+1)
	out = append(out, model.Message{Role: model.RoleSystem, Content: conv.systemMessage})
	return append(out, tail...)
}
