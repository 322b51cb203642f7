package core

import "encoding/json"

// Turn roles in the cross-turn context payload. The orchestrator contract
// knows exactly two speakers: the human and the entry agent.
const (
	TurnRoleHuman      = "human"
	TurnRoleEntryAgent = "entry_agent"
)

// Turn is one utterance in the cross-turn conversation context. Turns are
// extracted from direct-channel messages only; internal agent collaboration
// never leaks into the next invocation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationContext is the payload handed to the orchestrator on follow-up
// turns via --conversation-context. It is omitted entirely on turn 1.
type ConversationContext struct {
	EntryAgent string `json:"entry_agent"`
	Turns      []Turn `json:"turns"`
}

// Empty reports whether there is nothing to hand over.
func (c ConversationContext) Empty() bool {
	return c.EntryAgent == "" && len(c.Turns) == 0
}

// Encode marshals the payload into the exact JSON form the orchestrator
// expects.
func (c ConversationContext) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
