package resource

import (
	"fmt"
	"sort"

	"github.com/socpm/pmres/internal/domain"
)

// DependencyGraph is the directed acyclic graph of nested requests a
// resource's controller may issue. An edge a -> b lets a transition of a
// request b.
type DependencyGraph struct {
	edges map[string][]string
}

// NewDependencyGraph returns an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{edges: make(map[string][]string)}
}

// Add inserts from -> to, rejecting edges that would close a cycle.
func (g *DependencyGraph) Add(from, to string) error {
	if from == to || g.reachable(to, from) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrDependencyCycle, from, to)
	}
	if g.Allows(from, to) {
		return nil
	}
	g.edges[from] = append(g.edges[from], to)
	return nil
}

// Allows reports whether from may request to.
func (g *DependencyGraph) Allows(from, to string) bool {
	for _, n := range g.edges[from] {
		if n == to {
			return true
		}
	}
	return false
}

// reachable walks the graph depth-first from src.
func (g *DependencyGraph) reachable(src, dst string) bool {
	seen := map[string]bool{}
	stack := []string{src}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == dst {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.edges[n]...)
	}
	return false
}

// Edge is one dependency.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Edges lists every edge, sorted.
func (g *DependencyGraph) Edges() []Edge {
	var out []Edge
	for from, tos := range g.edges {
		for _, to := range tos {
			out = append(out, Edge{From: from, To: to})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}
