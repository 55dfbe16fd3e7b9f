package llm

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// maxUsers bounds how many conversation windows are kept resident.
	maxUsers = 1024
	// windowTurns is the sliding window length per user.
	windowTurns = 10
)

// Turn is one utterance in a conversation window.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
	At   time.Time
}

// Memory keeps a short per-user conversation window so follow-up questions
// ("what about last month?") resolve against recent turns. Least recently
// active users are evicted first.
type Memory struct {
	mu    sync.Mutex
	users *lru.Cache[string, []Turn]
}

// NewMemory creates the conversation store.
func NewMemory() (*Memory, error) {
	users, err := lru.New[string, []Turn](maxUsers)
	if err != nil {
		return nil, err
	}
	return &Memory{users: users}, nil
}

// Append records a turn, trimming the window to its fixed length.
func (m *Memory) Append(userID, role, text string) {
	if text == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	window, _ := m.users.Get(userID)
	window = append(window, Turn{Role: role, Text: text, At: time.Now()})
	if len(window) > windowTurns {
		window = window[len(window)-windowTurns:]
	}
	m.users.Add(userID, window)
}

// Window returns a copy of the user's recent turns, oldest first.
func (m *Memory) Window(userID string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	window, ok := m.users.Get(userID)
	if !ok {
		return nil
	}
	out := make([]Turn, len(window))
	copy(out, window)
	return out
}

// Clear drops the user's window.
func (m *Memory) Clear(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users.Remove(userID)
}
