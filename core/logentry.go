package core

import "time"

// LogEntry is the renderable projection of one accepted merged event. Entries
// live in the bounded event log until cap eviction or session reset; nothing
// else destroys them.
type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	AgentName string         `json:"agent_name,omitempty"`
	Summary   string         `json:"summary"`
	Payload   map[string]any `json:"payload,omitempty"`
	Expanded  bool           `json:"expanded,omitempty"`
}

// Clone returns a deep copy safe for independent mutation.
func (e LogEntry) Clone() LogEntry {
	out := e
	if e.Payload != nil {
		out.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			out.Payload[k] = v
		}
	}
	return out
}
