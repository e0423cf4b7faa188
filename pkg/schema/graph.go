package schema

import (
	"sort"
)

// edge is one directed dependency.
type edge struct {
	From ObjectRef
	To   ObjectRef
}

// Graph holds object-level dependency edges in both directions, keyed by
// the normalized "SCHEMA.NAME" of each endpoint.
type Graph struct {
	edges []edge
	out   map[string][]ObjectRef // referrer -> referenced
	in    map[string][]ObjectRef // referenced -> referrers
}

// NewGraph returns an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{out: map[string][]ObjectRef{}, in: map[string][]ObjectRef{}}
}

// Add records one referrer -> referenced edge. Duplicate edges collapse.
func (g *Graph) Add(referrer, referenced ObjectRef) {
	rk, dk := referrer.key(), referenced.key()
	outBefore, inBefore := len(g.out[rk]), len(g.in[dk])
	g.out[rk] = appendObjOnce(g.out[rk], referenced)
	g.in[dk] = appendObjOnce(g.in[dk], referrer)
	if len(g.out[rk]) != outBefore || len(g.in[dk]) != inBefore {
		g.edges = append(g.edges, edge{From: referrer, To: referenced})
	}
}

// Dependents returns the objects that reference ref, sorted by name.
func (g *Graph) Dependents(ref ObjectRef) []ObjectRef {
	return sortedCopy(g.in[ref.key()])
}

// References returns the objects ref depends on, sorted by name.
func (g *Graph) References(ref ObjectRef) []ObjectRef {
	return sortedCopy(g.out[ref.key()])
}

// Len returns the number of distinct edges.
func (g *Graph) Len() int { return len(g.edges) }

// Edges visits every edge in insertion order; used by persistence.
func (g *Graph) Edges(visit func(referrer, referenced ObjectRef)) {
	for _, e := range g.edges {
		visit(e.From, e.To)
	}
}

func appendObjOnce(refs []ObjectRef, ref ObjectRef) []ObjectRef {
	for _, r := range refs {
		if r.key() == ref.key() && r.Kind == ref.Kind {
			return refs
		}
	}
	return append(refs, ref)
}

func sortedCopy(refs []ObjectRef) []ObjectRef {
	out := make([]ObjectRef, len(refs))
	copy(out, refs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Schema != out[j].Schema {
			return out[i].Schema < out[j].Schema
		}
		return out[i].Name < out[j].Name
	})
	return out
}
