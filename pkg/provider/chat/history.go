package chat

import "sync"

// Log is a concurrency-safe conversation history that implementations embed.
type Log struct {
	mu    sync.Mutex
	turns []Message
}

// NewLog returns a Log seeded with a copy of history.
func NewLog(history []Message) *Log {
	return &Log{turns: append([]Message(nil), history...)}
}

// Add appends a completed exchange.
func (l *Log) Add(user, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, Message{Role: RoleUser, Text: user}, Message{Role: RoleModel, Text: model})
}

// Messages returns a copy of the recorded turns.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.turns...)
}
