package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CoachingSession is one conversation with the coach, optionally bound to
// one analysis result. The message log is append-only and safe for
// concurrent use; read it through History.
type CoachingSession struct {
	ID         string
	AnalysisID string
	CreatedAt  time.Time

	mu       sync.Mutex
	messages []ChatMessage
}

func NewCoachingSession(analysisID string) *CoachingSession {
	return &CoachingSession{
		ID:         uuid.New().String(),
		AnalysisID: analysisID,
		CreatedAt:  time.Now(),
	}
}

// Append adds a message to the log, keeping timestamps strictly increasing
// even when two appends land on the same clock tick.
func (s *CoachingSession) Append(role, content string) ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := time.Now()
	if n := len(s.messages); n > 0 && !ts.After(s.messages[n-1].Timestamp) {
		ts = s.messages[n-1].Timestamp.Add(time.Nanosecond)
	}
	msg := ChatMessage{Role: role, Content: content, Timestamp: ts}
	s.messages = append(s.messages, msg)
	return msg
}

// History returns a copy of the message log.
func (s *CoachingSession) History() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatMessage(nil), s.messages...)
}
