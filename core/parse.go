package core

import (
	"encoding/json"
	"time"
)

// wireEvent mirrors the orchestrator's stdout contract: one flat JSON object
// per line, discriminated by event_type, timestamps as epoch milliseconds.
// Which fields are meaningful depends on the type; decoding is tolerant of
// absent optional fields but strict about the discriminator.
type wireEvent struct {
	EventType  string `json:"event_type"`
	Timestamp  int64  `json:"timestamp"`
	WorkflowID string `json:"workflow_id"`
	SessionID  string `json:"session_id"`
	TraceID    string `json:"trace_id"`
	TurnNumber int    `json:"turn_number"`

	NodeID        string  `json:"node_id,omitempty"`
	NodeName      string  `json:"node_name,omitempty"`
	FromAgent     *string `json:"from_agent,omitempty"`
	HandoffPrompt string  `json:"handoff_prompt,omitempty"`
	Status        string  `json:"status,omitempty"`
	Response      string  `json:"response,omitempty"`
	Error         string  `json:"error,omitempty"`

	NodeIDs         []string `json:"node_ids,omitempty"`
	NodeNames       []string `json:"node_names,omitempty"`
	CompletedCount  int      `json:"completed_count,omitempty"`
	TotalCount      int      `json:"total_count,omitempty"`
	ConvergenceNode string   `json:"convergence_node,omitempty"`
	CompletedAgents []string `json:"completed_agents,omitempty"`

	FinalAgent string `json:"final_agent,omitempty"`
	Graph      *Graph `json:"graph,omitempty"`

	RouterModel     string  `json:"router_model,omitempty"`
	NextAgent       string  `json:"next_agent,omitempty"`
	DurationMS      int64   `json:"duration_ms,omitempty"`
	AgentSuggestion *string `json:"agent_suggestion,omitempty"`

	Text string `json:"text,omitempty"`
}

func (w wireEvent) meta() Meta {
	m := Meta{
		WorkflowID: w.WorkflowID,
		TurnNumber: w.TurnNumber,
		SessionID:  w.SessionID,
		TraceID:    w.TraceID,
		Source:     SourceLocal,
	}
	if w.Timestamp != 0 {
		m.Timestamp = time.UnixMilli(w.Timestamp).UTC()
	}
	return m
}

// ParseLine decodes one stdout line into its event variant. Failures are
// always reported as a *ParseError carrying the offending line so callers can
// surface the problem and keep consuming the stream.
func ParseLine(line []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, &ParseError{Line: string(line), Err: err}
	}
	if w.EventType == "" {
		return nil, &ParseError{Line: string(line), Err: ErrMissingEventType}
	}

	meta := w.meta()

	switch EventType(w.EventType) {
	case EventGraphStructure:
		var g Graph
		if w.Graph != nil {
			g = *w.Graph
		}
		return GraphStructure{Meta: meta, Graph: g}, nil
	case EventNodeStart:
		return NodeStart{Meta: meta, NodeID: w.NodeID, NodeName: w.NodeName, FromAgent: w.FromAgent, HandoffPrompt: w.HandoffPrompt}, nil
	case EventNodeStop:
		return NodeStop{Meta: meta, NodeID: w.NodeID, NodeName: w.NodeName, Status: w.Status, Response: w.Response, Error: w.Error}, nil
	case EventParallelNodeStart:
		return ParallelNodeStart{Meta: meta, NodeIDs: w.NodeIDs, NodeNames: w.NodeNames, FromAgent: w.FromAgent}, nil
	case EventParallelNodeStop:
		return ParallelNodeStop{Meta: meta, NodeID: w.NodeID, NodeName: w.NodeName, Status: w.Status, Response: w.Response, Error: w.Error, CompletedCount: w.CompletedCount, TotalCount: w.TotalCount}, nil
	case EventConvergenceReady:
		return ConvergenceReady{Meta: meta, ConvergenceNode: w.ConvergenceNode, CompletedAgents: w.CompletedAgents}, nil
	case EventRouterDecision:
		return RouterDecision{Meta: meta, RouterModel: w.RouterModel, FromAgent: stringOrEmpty(w.FromAgent), NextAgent: w.NextAgent, DurationMS: w.DurationMS, AgentSuggestion: w.AgentSuggestion}, nil
	case EventTokenDelta:
		return TokenDelta{Meta: meta, NodeID: w.NodeID, Text: w.Text}, nil
	case EventWorkflowComplete:
		return WorkflowComplete{Meta: meta, FinalAgent: w.FinalAgent, Status: w.Status}, nil
	case EventWorkflowError:
		return WorkflowError{Meta: meta, Error: w.Error, Status: w.Status}, nil
	default:
		return nil, &ParseError{Line: string(line), Err: ErrUnknownEventType}
	}
}

// WireLine encodes an event back into its stdout wire form. Used by replay
// tooling and tests; remote variants have no stdout representation and
// return ErrNotWireEvent.
func WireLine(e Event) ([]byte, error) {
	m := e.Common()
	w := wireEvent{
		EventType:  string(e.Type()),
		WorkflowID: m.WorkflowID,
		SessionID:  m.SessionID,
		TraceID:    m.TraceID,
		TurnNumber: m.TurnNumber,
	}
	if !m.Timestamp.IsZero() {
		w.Timestamp = m.Timestamp.UnixMilli()
	}

	switch ev := e.(type) {
	case GraphStructure:
		g := ev.Graph
		w.Graph = &g
	case NodeStart:
		w.NodeID, w.NodeName, w.FromAgent, w.HandoffPrompt = ev.NodeID, ev.NodeName, ev.FromAgent, ev.HandoffPrompt
	case NodeStop:
		w.NodeID, w.NodeName, w.Status, w.Response, w.Error = ev.NodeID, ev.NodeName, ev.Status, ev.Response, ev.Error
	case ParallelNodeStart:
		w.NodeIDs, w.NodeNames, w.FromAgent = ev.NodeIDs, ev.NodeNames, ev.FromAgent
	case ParallelNodeStop:
		w.NodeID, w.NodeName, w.Status, w.Response, w.Error = ev.NodeID, ev.NodeName, ev.Status, ev.Response, ev.Error
		w.CompletedCount, w.TotalCount = ev.CompletedCount, ev.TotalCount
	case ConvergenceReady:
		w.ConvergenceNode, w.CompletedAgents = ev.ConvergenceNode, ev.CompletedAgents
	case RouterDecision:
		w.RouterModel, w.NextAgent, w.DurationMS, w.AgentSuggestion = ev.RouterModel, ev.NextAgent, ev.DurationMS, ev.AgentSuggestion
		if ev.FromAgent != "" {
			from := ev.FromAgent
			w.FromAgent = &from
		}
	case TokenDelta:
		w.NodeID, w.Text = ev.NodeID, ev.Text
	case WorkflowComplete:
		w.FinalAgent, w.Status = ev.FinalAgent, ev.Status
	case WorkflowError:
		w.Error, w.Status = ev.Error, ev.Status
	default:
		return nil, ErrNotWireEvent
	}

	return json.Marshal(w)
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
