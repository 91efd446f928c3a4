package plan

import (
	"fmt"
	"slices"

	"github.com/trendops/evreport/internal/errors"
)

// StageNode is one unit of work in the execution graph, backed by exactly
// one external collaborator call.
type StageNode struct {
	// Name uniquely identifies the node, Kind plus instance when instanced,
	// e.g. "market.brief:eu/subsidy" or "report.compose".
	Name string `json:"name"`
	// Kind names the stage definition, e.g. "company.dossier".
	Kind string `json:"kind"`
	// Instance is the fan-out instance identifier, empty for singleton stages.
	Instance string `json:"instance,omitempty"`
	// Reads is the set of state keys the stage consumes.
	Reads []string `json:"reads"`
	// Writes is the set of state keys the stage produces.
	Writes []string `json:"writes"`
	// DependsOn lists predecessor node names.
	DependsOn []string `json:"depends_on,omitempty"`
	// Critical marks stages whose absence blocks compilation.
	Critical bool `json:"critical,omitempty"`
}

// Graph is a directed acyclic graph of stage nodes with a precomputed
// topological order.
type Graph struct {
	Nodes map[string]*StageNode
	// Order holds node names in a valid execution order.
	Order []string
}

// Node returns the named node, or nil.
func (g *Graph) Node(name string) *StageNode {
	return g.Nodes[name]
}

// NodesOfKind returns all nodes of a kind in topological order.
func (g *Graph) NodesOfKind(kind string) []*StageNode {
	var out []*StageNode
	for _, name := range g.Order {
		if n := g.Nodes[name]; n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// Successors returns the names of nodes that depend on the given node.
func (g *Graph) Successors(name string) []string {
	var out []string
	for _, other := range g.Order {
		if slices.Contains(g.Nodes[other].DependsOn, name) {
			out = append(out, other)
		}
	}
	return out
}

// buildOrder computes a topological order over the nodes using Kahn's
// algorithm, with name ties broken lexicographically so the order is
// deterministic. Returns an error if the dependency edges form a cycle.
func (g *Graph) buildOrder() error {
	indegree := make(map[string]int, len(g.Nodes))
	for name, node := range g.Nodes {
		indegree[name] = len(node.DependsOn)
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	slices.Sort(ready)

	order := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		var unblocked []string
		for other, node := range g.Nodes {
			if slices.Contains(node.DependsOn, name) {
				indegree[other]--
				if indegree[other] == 0 {
					unblocked = append(unblocked, other)
				}
			}
		}
		slices.Sort(unblocked)
		ready = mergeSorted(ready, unblocked)
	}

	if len(order) != len(g.Nodes) {
		return errors.NewPlanError(
			fmt.Sprintf("dependency cycle among %d nodes", len(g.Nodes)-len(order)),
			errors.ErrUnsatisfiableGraph)
	}
	g.Order = order
	return nil
}

// mergeSorted merges two sorted name lists preserving order.
func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
