package core

// GraphNode is one agent vertex in the workflow topology.
type GraphNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// GraphEdge is a possible transition between two agents. Condition describes
// when the edge is taken ("handoff", "dependency", ...).
type GraphEdge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// Graph is the workflow topology emitted once per run for initial rendering.
// Edges show possible transitions; the path actually taken is reconstructed
// from node events at runtime.
type Graph struct {
	Nodes      []GraphNode `json:"nodes"`
	Edges      []GraphEdge `json:"edges"`
	EntryPoint string      `json:"entry_point,omitempty"`
}

// Entry returns the declared entry node id, falling back to the first node
// when the topology does not name one.
func (g Graph) Entry() string {
	if g.EntryPoint != "" {
		return g.EntryPoint
	}
	if len(g.Nodes) > 0 {
		return g.Nodes[0].ID
	}
	return ""
}

// Node looks up a vertex by id.
func (g Graph) Node(id string) (GraphNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return GraphNode{}, false
}

// Clone returns a deep copy safe for independent mutation.
func (g Graph) Clone() Graph {
	out := Graph{EntryPoint: g.EntryPoint}
	if g.Nodes != nil {
		out.Nodes = make([]GraphNode, len(g.Nodes))
		copy(out.Nodes, g.Nodes)
	}
	if g.Edges != nil {
		out.Edges = make([]GraphEdge, len(g.Edges))
		copy(out.Edges, g.Edges)
	}
	return out
}
