package resolver

type visitState int

const (
	inProgress visitState = iota
	complete
)

type visit struct {
	node  *Node
	state visitState
	// depth the node was expanded at
	depth int
}

// visitedSet memoizes nodes by identity key. A key that is in progress is an
// ancestor on the current path.
type visitedSet struct {
	entries map[string]*visit
}

func newVisitedSet() *visitedSet {
	return &visitedSet{entries: make(map[string]*visit)}
}

func (v *visitedSet) lookup(key string) (*visit, bool) {
	e, ok := v.entries[key]
	return e, ok
}

func (v *visitedSet) begin(n *Node, depth int) {
	v.entries[n.Key] = &visit{node: n, state: inProgress, depth: depth}
}

func (v *visitedSet) finish(n *Node) {
	if e, ok := v.entries[n.Key]; ok && e.node == n {
		e.state = complete
		return
	}
	v.entries[n.Key] = &visit{node: n, state: complete}
}

// completed returns the completed node of every key
func (v *visitedSet) completed() map[string]*Node {
	out := make(map[string]*Node, len(v.entries))
	for key, e := range v.entries {
		if e.state == complete {
			out[key] = e.node
		}
	}
	return out
}
