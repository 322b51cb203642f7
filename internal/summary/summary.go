// Package summary renders accepted events into the one-line human readable
// form carried by core.LogEntry. It lives in internal because the exact
// wording is presentation detail, not API.
package summary

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agenttrace/core"
)

// Entry converts an event into a renderable log entry. The switch is total
// over the event union; internal-only types still produce a sensible entry so
// callers can log them during debugging even though the merged log skips them.
func Entry(ev core.Event) core.LogEntry {
	entry := core.LogEntry{
		ID:        core.NewID(),
		Timestamp: ev.Common().Timestamp,
		EventType: ev.Type(),
	}

	switch e := ev.(type) {
	case core.GraphStructure:
		entry.Summary = fmt.Sprintf("Workflow graph received (%d nodes)", len(e.Graph.Nodes))

	case core.NodeStart:
		entry.AgentName = e.NodeName
		if e.IsEntry() {
			entry.Summary = fmt.Sprintf("%s started", e.NodeName)
		} else {
			entry.Summary = fmt.Sprintf("%s started (handoff from %s)", e.NodeName, *e.FromAgent)
			entry.Payload = payload("handoff_prompt", e.HandoffPrompt)
		}

	case core.NodeStop:
		entry.AgentName = e.NodeName
		if e.Failed() {
			entry.Summary = fmt.Sprintf("%s failed: %s", e.NodeName, e.Error)
		} else {
			entry.Summary = fmt.Sprintf("%s completed", e.NodeName)
			entry.Payload = payload("response", e.Response)
		}

	case core.ParallelNodeStart:
		entry.Summary = fmt.Sprintf("Fan-out to %s", strings.Join(e.NodeNames, ", "))
		if e.FromAgent != nil {
			entry.Summary += fmt.Sprintf(" from %s", *e.FromAgent)
		}

	case core.ParallelNodeStop:
		entry.AgentName = e.NodeName
		if e.Status == core.StatusError {
			entry.Summary = fmt.Sprintf("%s branch failed: %s", e.NodeName, e.Error)
		} else {
			entry.Summary = fmt.Sprintf("%s branch completed (%d/%d done)", e.NodeName, e.CompletedCount, e.TotalCount)
		}

	case core.ConvergenceReady:
		entry.AgentName = e.ConvergenceNode
		entry.Summary = fmt.Sprintf("%s converging results from %s", e.ConvergenceNode, strings.Join(e.CompletedAgents, ", "))

	case core.RouterDecision:
		entry.AgentName = e.NextAgent
		if e.NextAgent == "COMPLETE" {
			entry.Summary = fmt.Sprintf("Router ended the run after %s (%dms)", e.FromAgent, e.DurationMS)
		} else {
			entry.Summary = fmt.Sprintf("Router chose %s after %s (%dms)", e.NextAgent, e.FromAgent, e.DurationMS)
		}

	case core.TokenDelta:
		entry.Summary = "Token delta"

	case core.WorkflowComplete:
		entry.AgentName = e.FinalAgent
		entry.Summary = fmt.Sprintf("Workflow complete (final agent %s)", e.FinalAgent)

	case core.WorkflowError:
		if e.Interrupted() {
			entry.Summary = "Workflow interrupted"
		} else {
			entry.Summary = fmt.Sprintf("Workflow failed: %s", e.Error)
		}

	case core.StreamEnd:
		entry.Summary = fmt.Sprintf("Stream ended (exit %d)", e.ExitCode)

	case core.ToolCall:
		entry.AgentName = e.AgentName
		entry.Summary = fmt.Sprintf("%s called %s", e.AgentName, toolLabel(e.System, e.Operation, e.ToolName))
		entry.Payload = payload("parameters", e.Params)

	case core.ToolResult:
		entry.AgentName = e.AgentName
		label := toolLabel(e.System, e.Operation, e.ToolName)
		if e.Failed() {
			entry.Summary = fmt.Sprintf("%s failed: %s", label, e.ErrorMessage)
		} else {
			entry.Summary = fmt.Sprintf("%s completed in %dms", label, e.DurationMS)
		}

	case core.AgentSpanStart:
		entry.AgentName = e.AgentName
		entry.Summary = fmt.Sprintf("%s span opened", e.AgentName)

	case core.AgentSpanEnd:
		entry.AgentName = e.AgentName
		entry.Summary = fmt.Sprintf("%s span closed (%s)", e.AgentName, e.Status)

	default:
		entry.Summary = string(ev.Type())
	}

	return entry
}

// toolLabel prefers the split system/operation form, falling back to the raw
// gateway tool name.
func toolLabel(system, operation, toolName string) string {
	if system != "" && operation != "" {
		return system + " " + operation
	}
	if operation != "" {
		return operation
	}
	return toolName
}

func payload(key, value string) map[string]any {
	if value == "" {
		return nil
	}
	return map[string]any{key: value}
}
