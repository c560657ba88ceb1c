// Package walk provides a pruning depth-first traversal over directed
// graphs.
package walk

import "gonum.org/v1/gonum/graph"

// Direction selects which edges Walk follows.
type Direction int

const (
	// Upstream follows in-edges, towards producers.
	Upstream Direction = iota
	// Downstream follows out-edges, towards consumers.
	Downstream
)

// Walk visits the nodes reachable from start in the given direction. visit
// is called once per node encountered; the node's neighbors are expanded
// only if it returns true. visit doubles as the deduplication hook (insert
// into a set and return whether the insert was new): Walk itself keeps no
// visited state and will not terminate on cyclic graphs.
//
// Walk starts by visiting start itself, so if that call returns false no
// other nodes are walked.
func Walk(g graph.Directed, start graph.Node, dir Direction, visit func(graph.Node) bool) {
	pending := []graph.Node{start}
	for len(pending) > 0 {
		n := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if !visit(n) {
			continue
		}
		var neighbors graph.Nodes
		if dir == Upstream {
			neighbors = g.To(n.ID())
		} else {
			neighbors = g.From(n.ID())
		}
		for neighbors.Next() {
			pending = append(pending, neighbors.Node())
		}
	}
}
