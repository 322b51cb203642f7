// Package eventlog keeps the bounded, filterable debug log of merged events.
//
// The log is a visualization aid, not an audit trail: when the cap is hit the
// oldest entries fall off so a long-running session holds memory flat. Reads
// return deep copies, and filtering is a pure function over a snapshot so an
// open filter view never blocks appends.
package eventlog

import (
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
)

// DefaultCapacity is the default entry cap.
const DefaultCapacity = 500

// Options configures a Log.
type Options struct {
	// Capacity caps retained entries; the oldest are evicted beyond it.
	Capacity int
	// Logger receives eviction diagnostics.
	Logger logging.Logger
	// OnEvict observes each batch of evicted entries.
	OnEvict func(n int)
}

// Filter selects log entries. Zero-valued fields match everything; set
// fields combine conjunctively.
type Filter struct {
	// EventType matches entries of exactly this type.
	EventType core.EventType
	// AgentName matches entries attributed to this agent, case-insensitively.
	AgentName string
}

func (f Filter) matches(e core.LogEntry) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.AgentName != "" && !strings.EqualFold(f.AgentName, e.AgentName) {
		return false
	}
	return true
}

// Log is the bounded in-memory event log. Safe for concurrent use.
type Log struct {
	opts Options

	mu      sync.RWMutex
	entries []core.LogEntry
	evicted int
}

// New constructs an empty log.
func New(optFns ...func(o *Options)) *Log {
	opts := Options{
		Capacity: DefaultCapacity,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}

	return &Log{opts: opts}
}

// Append adds one entry, evicting the oldest when the cap is exceeded.
func (l *Log) Append(e core.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.opts.Capacity; over > 0 {
		copy(l.entries, l.entries[over:])
		l.entries = l.entries[:l.opts.Capacity]
		l.evicted += over
		l.opts.Logger.Debug("evicted log entries", "count", over, "total_evicted", l.evicted)
		if l.opts.OnEvict != nil {
			l.opts.OnEvict(over)
		}
	}
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Evicted returns the total number of entries dropped so far.
func (l *Log) Evicted() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.evicted
}

// Entries returns a deep copy of all retained entries, oldest first.
func (l *Log) Entries() []core.LogEntry {
	return l.Filtered(Filter{})
}

// Filtered returns a deep copy of the entries matching f, oldest first.
func (l *Log) Filtered(f Filter) []core.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]core.LogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if f.matches(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// AgentOptions returns the distinct agent names present in the log, sorted
// for stable dropdown rendering.
func (l *Log) AgentOptions() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]struct{}, 8)
	var out []string
	for _, e := range l.entries {
		if e.AgentName == "" {
			continue
		}
		if _, ok := seen[e.AgentName]; ok {
			continue
		}
		seen[e.AgentName] = struct{}{}
		out = append(out, e.AgentName)
	}
	sort.Strings(out)
	return out
}

// Clear drops every entry and resets eviction counts.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.evicted = 0
}
