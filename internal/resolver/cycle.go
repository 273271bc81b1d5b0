package resolver

import (
	"slices"
	"strings"
)

// Cycle is a set of pending transactions that wait on each other through
// their parents. None of them can ever be applied.
type Cycle struct {
	// Path walks the cycle from the earliest-arrived member back to itself,
	// following parent edges: ["a", "b", "a"] means a waits on b and b on a.
	Path []string `json:"path"`
}

// String renders the cycle as "a → b → a".
func (c Cycle) String() string {
	return strings.Join(c.Path, " → ")
}

// Cycles reports the parent cycles among pending transactions, ordered by
// the arrival of their earliest member. A pending set without cycles
// returns an empty slice.
//
// It builds a graph with an edge from every pending tx to each of its
// pending parents and finds the strongly connected components with
// Tarjan's algorithm. Components of one node count only when the tx names
// itself as a parent.
func (q *Queue[L, S]) Cycles() []Cycle {
	g := q.pendingGraph()
	cycles := []Cycle{}
	for _, scc := range tarjanSCC(g) {
		if len(scc) > 1 || g.hasSelfLoop(scc[0]) {
			cycles = append(cycles, Cycle{Path: g.cyclePath(scc)})
		}
	}
	return cycles
}

// parentGraph maps a pending id to the pending ids it waits on. order holds
// the nodes in arrival order so the analysis is deterministic.
type parentGraph struct {
	order []string
	rank  map[string]int
	edges map[string][]string
}

func (q *Queue[L, S]) pendingGraph() parentGraph {
	g := parentGraph{
		rank:  make(map[string]int, len(q.pending)),
		edges: make(map[string][]string, len(q.pending)),
	}
	for _, entry := range q.pending {
		id := entry.Tx.ID
		if _, dup := g.rank[id]; dup {
			continue
		}
		g.rank[id] = len(g.order)
		g.order = append(g.order, id)
	}
	for _, entry := range q.pending {
		id := entry.Tx.ID
		for _, p := range entry.Tx.Parents {
			if _, ok := g.rank[p]; ok {
				g.edges[id] = append(g.edges[id], p)
			}
		}
	}
	return g
}

func (g parentGraph) hasSelfLoop(node string) bool {
	for _, neighbor := range g.edges[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC returns the strongly connected components of g. Each component
// is sorted by arrival, and components are ordered by their first member.
func tarjanSCC(g parentGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is the root of a component: pop it off the stack.
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, g.byArrival(scc))
		}
	}

	for _, node := range g.order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	sortByArrival(g, sccs)
	return sccs
}

func (g parentGraph) byArrival(ids []string) []string {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b string) int { return g.rank[a] - g.rank[b] })
	return out
}

func sortByArrival(g parentGraph, sccs [][]string) {
	slices.SortFunc(sccs, func(a, b []string) int { return g.rank[a[0]] - g.rank[b[0]] })
}

// cyclePath returns the shortest walk along parent edges inside scc that
// starts and ends at its first member.
func (g parentGraph) cyclePath(scc []string) []string {
	start := scc[0]
	if len(scc) == 1 {
		return []string{start, start}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	// Breadth-first search from start; prev records how each node was
	// reached. The search ends at the first edge back into start.
	prev := map[string]string{}
	frontier := []string{start}
	for len(frontier) > 0 {
		var next []string
		for _, v := range frontier {
			for _, w := range g.edges[v] {
				if !members[w] {
					continue
				}
				if w == start {
					return unwind(prev, start, v)
				}
				if _, seen := prev[w]; seen {
					continue
				}
				prev[w] = v
				next = append(next, w)
			}
		}
		frontier = next
	}
	// Unreachable for a strongly connected component.
	return append(slices.Clone(scc), start)
}

// unwind rebuilds start → ... → last → start from prev.
func unwind(prev map[string]string, start, last string) []string {
	path := []string{start}
	for v := last; v != start; v = prev[v] {
		path = append(path, v)
	}
	path = append(path, start)
	// path is start, last, ..., first hop, start; reverse the middle.
	slices.Reverse(path[1 : len(path)-1])
	return path
}
