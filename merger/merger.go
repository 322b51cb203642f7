// Package merger combines the local stdout stream and the remote poll stream
// into one ordered event sequence.
//
// The merger is the sole arbiter of cross-source ordering: within a source,
// order is preserved; across sources, arrival order wins. On the way through
// it deduplicates near-identical events with a bounded LRU window (poll
// overlap and retried writes produce repeats), captures the one-shot graph
// snapshot, diverts token deltas to their own channel, and tags remote events
// with the graph node their agent name resolves to so consumers can nest
// tool activity under the node that caused it.
package merger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
	"github.com/hupe1980/agenttrace/observability"
)

// DefaultWindow is the dedup window size in events.
const DefaultWindow = 4096

// Options configures a Merger.
type Options struct {
	// Buffer is the merged channel capacity.
	Buffer int
	// Window bounds the dedup LRU. Old keys fall out, trading perfect
	// dedup for bounded memory.
	Window int
	// Logger receives dedup and attribution diagnostics.
	Logger logging.Logger
	// Metrics records merged and deduplicated counts.
	Metrics *observability.Collector
	// OnDuplicate observes each suppressed event. Test seam.
	OnDuplicate func(ev core.Event)
}

// Merger fans two event sources into one ordered stream.
type Merger struct {
	opts Options

	events chan core.Event
	tokens chan core.TokenDelta

	seen *lru.Cache[string, struct{}]

	mu    sync.RWMutex
	graph *core.Graph
	spans map[string]string // lowercased agent name or node id -> node id
}

// New constructs a Merger. Call Merge to start it.
func New(optFns ...func(o *Options)) *Merger {
	opts := Options{
		Buffer: 100,
		Window: DefaultWindow,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}

	// lru.New only fails for non-positive sizes, which the clamp above
	// rules out.
	seen, _ := lru.New[string, struct{}](opts.Window)

	return &Merger{
		opts:   opts,
		events: make(chan core.Event, opts.Buffer),
		tokens: make(chan core.TokenDelta, opts.Buffer),
		seen:   seen,
		spans:  make(map[string]string),
	}
}

// Merge starts draining both sources. It returns immediately; the merged
// channels close once both sources are closed (or the context ends). Merge
// must be called once.
func (m *Merger) Merge(ctx context.Context, local, remote <-chan core.Event) {
	combined := make(chan core.Event, m.opts.Buffer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(forward(gctx, local, combined))
	g.Go(forward(gctx, remote, combined))
	go func() {
		_ = g.Wait()
		close(combined)
	}()

	go func() {
		defer close(m.events)
		defer close(m.tokens)
		for ev := range combined {
			if !m.process(gctx, ev) {
				return
			}
		}
	}()
}

// Events returns the merged, deduplicated event stream.
func (m *Merger) Events() <-chan core.Event { return m.events }

// Tokens returns the diverted token-delta stream.
func (m *Merger) Tokens() <-chan core.TokenDelta { return m.tokens }

// Graph returns a copy of the captured topology snapshot, or nil before one
// arrived.
func (m *Merger) Graph() *core.Graph {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.graph == nil {
		return nil
	}
	g := m.graph.Clone()
	return &g
}

// process routes one event. Internal-only types bypass the dedup window:
// the graph is captured once by construction, and token deltas repeat
// legitimately (identical fragments inside one timestamp tick).
func (m *Merger) process(ctx context.Context, ev core.Event) bool {
	switch e := ev.(type) {
	case core.GraphStructure:
		m.captureGraph(e)
		return true
	case core.TokenDelta:
		return send(ctx, m.tokens, e)
	case core.StreamEnd:
		return send(ctx, m.events, ev)
	case core.NodeStart:
		m.registerSpan(e.NodeID, e.NodeName)
	case core.ParallelNodeStart:
		for i, id := range e.NodeIDs {
			name := ""
			if i < len(e.NodeNames) {
				name = e.NodeNames[i]
			}
			m.registerSpan(id, name)
		}
	case core.ToolCall:
		e.OwnerNode = m.resolveOwner(e.AgentName)
		ev = e
	case core.ToolResult:
		e.OwnerNode = m.resolveOwner(e.AgentName)
		ev = e
	case core.AgentSpanStart:
		e.OwnerNode = m.resolveOwner(e.AgentName)
		ev = e
	case core.AgentSpanEnd:
		e.OwnerNode = m.resolveOwner(e.AgentName)
		ev = e
	}

	if m.duplicate(ev) {
		m.opts.Metrics.EventDeduplicated(ctx, string(ev.Common().Source))
		m.opts.Logger.Debug("suppressing duplicate event", "type", string(ev.Type()), "subject", ev.Subject())
		if m.opts.OnDuplicate != nil {
			m.opts.OnDuplicate(ev)
		}
		return true
	}

	m.opts.Metrics.EventMerged(ctx, string(ev.Common().Source))
	return send(ctx, m.events, ev)
}

// duplicate records the event's identity tuple in the window and reports
// whether it was already present.
func (m *Merger) duplicate(ev core.Event) bool {
	meta := ev.Common()
	key := fmt.Sprintf("%s|%s|%d|%s", meta.WorkflowID, ev.Type(), meta.Timestamp.UnixMicro(), ev.Subject())

	seen, _ := m.seen.ContainsOrAdd(key, struct{}{})
	return seen
}

func (m *Merger) captureGraph(e core.GraphStructure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.graph != nil {
		return
	}
	g := e.Graph.Clone()
	m.graph = &g
	for _, node := range g.Nodes {
		m.registerSpanLocked(node.ID, node.Name)
	}
}

// registerSpan remembers an agent's node identity so later remote events can
// be attributed. Mappings survive the span's end: tool results routinely
// arrive after their agent stopped.
func (m *Merger) registerSpan(nodeID, nodeName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerSpanLocked(nodeID, nodeName)
}

func (m *Merger) registerSpanLocked(nodeID, nodeName string) {
	if nodeID == "" {
		return
	}
	m.spans[strings.ToLower(nodeID)] = nodeID
	if nodeName != "" {
		m.spans[strings.ToLower(nodeName)] = nodeID
	}
}

func (m *Merger) resolveOwner(agentName string) string {
	if agentName == "" {
		return ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spans[strings.ToLower(agentName)]
}

func forward(ctx context.Context, in <-chan core.Event, out chan<- core.Event) func() error {
	return func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-in:
				if !ok {
					return nil
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
