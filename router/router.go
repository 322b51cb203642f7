package router

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
)

// MessageSink is the transcript write surface the router appends through.
// *session.Session implements it.
type MessageSink interface {
	BeginStreaming(channel core.Channel, agentName string)
	AppendToken(channel core.Channel, agentName, text string)
	FinalizeStreaming(channel core.Channel, agentName, finalText string)
	AppendMarker(channel core.Channel, agentName, text string)
	UpsertToolCall(agentName string, tc core.MessageToolCall)
}

// Channel classifies an agent start: no sending agent means the user-facing
// entry point, anything else is agent-to-agent collaboration.
func Channel(fromAgent *string) core.Channel {
	if fromAgent == nil {
		return core.ChannelDirect
	}
	return core.ChannelInternal
}

// Options configures a Router.
type Options struct {
	// Logger receives routing diagnostics.
	Logger logging.Logger
}

type target struct {
	channel core.Channel
	agent   string
}

// Router folds merged events into transcript messages through a MessageSink.
// Route and RouteToken are safe for concurrent use, though the engine calls
// them from a single dispatch loop.
type Router struct {
	opts Options
	sink MessageSink

	mu    sync.Mutex
	nodes map[string]target
}

// New creates a Router writing through sink.
func New(sink MessageSink, optFns ...func(o *Options)) *Router {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		opts:  opts,
		sink:  sink,
		nodes: make(map[string]target),
	}
}

// Route folds one lifecycle event into the transcript. Events without a
// message effect (router decisions, remote span markers, terminal events)
// pass through untouched; the session handles lifecycle state separately.
func (r *Router) Route(ev core.Event) {
	switch e := ev.(type) {
	case core.NodeStart:
		ch := Channel(e.FromAgent)
		if e.FromAgent != nil {
			text := fmt.Sprintf("Handoff to %s", e.NodeName)
			if e.HandoffPrompt != "" {
				text += ": " + e.HandoffPrompt
			}
			r.sink.AppendMarker(core.ChannelInternal, *e.FromAgent, text)
		}
		r.register(e.NodeID, ch, e.NodeName)
		r.sink.BeginStreaming(ch, e.NodeName)

	case core.NodeStop:
		ch, ok := r.channelFor(e.NodeID)
		if !ok {
			r.opts.Logger.Warn("stop for unknown node", "node_id", e.NodeID, "node", e.NodeName)
			ch = core.ChannelInternal
		}
		r.sink.FinalizeStreaming(ch, e.NodeName, stopText(e.Response, e.Status, e.Error))

	case core.ParallelNodeStart:
		if e.FromAgent != nil {
			text := "Fanning out to " + strings.Join(e.NodeNames, ", ")
			r.sink.AppendMarker(core.ChannelInternal, *e.FromAgent, text)
		}
		for i, id := range e.NodeIDs {
			if i < len(e.NodeNames) {
				r.register(id, core.ChannelInternal, e.NodeNames[i])
			}
		}

	case core.ParallelNodeStop:
		r.sink.AppendMarker(core.ChannelInternal, e.NodeName, stopText(e.Response, e.Status, e.Error))

	case core.ConvergenceReady:
		text := "Converging results from " + strings.Join(e.CompletedAgents, ", ")
		r.sink.AppendMarker(core.ChannelInternal, e.ConvergenceNode, text)

	case core.ToolCall:
		r.sink.UpsertToolCall(e.AgentName, core.MessageToolCall{
			ID:        callID(e.EventID),
			ToolName:  e.ToolName,
			System:    e.System,
			Operation: e.Operation,
			Status:    core.StatusStarted,
		})

	case core.ToolResult:
		r.sink.UpsertToolCall(e.AgentName, core.MessageToolCall{
			ID:         callID(e.EventID),
			ToolName:   e.ToolName,
			System:     e.System,
			Operation:  e.Operation,
			Status:     e.Status,
			DurationMS: e.DurationMS,
			Error:      e.ErrorMessage,
		})

	case core.RouterDecision:
		r.opts.Logger.Debug("router decision",
			"from", e.FromAgent, "next", e.NextAgent, "model", e.RouterModel)

	case core.AgentSpanStart, core.AgentSpanEnd:
		// Local node events are the authoritative span boundaries.
	}
}

// RouteToken appends a streaming fragment to the open message in its node's
// channel. Fragments for unregistered nodes are dropped.
func (r *Router) RouteToken(td core.TokenDelta) {
	r.mu.Lock()
	tgt, ok := r.nodes[td.NodeID]
	r.mu.Unlock()
	if !ok {
		r.opts.Logger.Debug("token for unknown node", "node_id", td.NodeID)
		return
	}
	r.sink.AppendToken(tgt.channel, tgt.agent, td.Text)
}

// Reset clears node registrations for a fresh workflow.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = make(map[string]target)
}

func (r *Router) register(nodeID string, ch core.Channel, agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[nodeID] = target{channel: ch, agent: agent}
}

func (r *Router) channelFor(nodeID string) (core.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tgt, ok := r.nodes[nodeID]
	return tgt.channel, ok
}

// stopText picks the display text for a finished agent: the response when it
// succeeded, the error detail when it failed.
func stopText(response, status, errText string) string {
	if status == core.StatusError && response == "" && errText != "" {
		return "Error: " + errText
	}
	return response
}

func callID(eventID string) string {
	if eventID == "" {
		return core.NewID()
	}
	return eventID
}
