package cluster

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// components groups members whose cosine distance chains within eps. With a minimum
// cluster size of one every point is a core point, so the clusters are the connected
// components of the eps-neighborhood graph.
// Every group holds ascending indices and groups are ordered by their first index.
func components(vectors [][]float64, members []int, eps float64) [][]int {
	norms := make([]float64, len(members))
	for i, m := range members {
		norms[i] = floats.Norm(vectors[m], 2)
	}

	g := simple.NewUndirectedGraph()
	for _, m := range members {
		g.AddNode(simple.Node(m))
	}
	for i := range members {
		for j := i + 1; j < len(members); j++ {
			if cosineDistance(vectors[members[i]], vectors[members[j]], norms[i], norms[j]) <= eps {
				g.SetEdge(simple.Edge{F: simple.Node(members[i]), T: simple.Node(members[j])})
			}
		}
	}

	ccs := topo.ConnectedComponents(g)
	out := make([][]int, 0, len(ccs))
	for _, cc := range ccs {
		group := make([]int, 0, len(cc))
		for _, n := range cc {
			group = append(group, int(n.ID()))
		}
		sort.Ints(group)
		out = append(out, group)
	}
	sort.Slice(out, func(a, b int) bool { return out[a][0] < out[b][0] })
	return out
}

// cosineDistance treats a zero vector as orthogonal to everything.
func cosineDistance(a, b []float64, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - floats.Dot(a, b)/(normA*normB)
}
