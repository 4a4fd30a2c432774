package pipeline

import "encoding/json"

// EventType discriminates the messages pushed to progress subscribers.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one progress update for a job. Complete and Error are terminal:
// exactly one of them ends every subscriber stream.
type Event struct {
	Type     EventType
	Progress int
	Err      string
}

func progressEvent(p int) Event   { return Event{Type: EventProgress, Progress: p} }
func completeEvent() Event        { return Event{Type: EventComplete, Progress: 100} }
func errorEvent(msg string) Event { return Event{Type: EventError, Err: msg} }

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventProgress:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			Progress int       `json:"progress"`
		}{e.Type, e.Progress})
	case EventError:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Error string    `json:"error"`
		}{e.Type, e.Err})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}
