package scoring

import "github.com/opensource-finance/ringwatch/internal/graph"

// csr is a compressed sparse row matrix with implicit unit values.
// Duplicate coordinates are kept as separate entries, so they add up
// when multiplied.
type csr struct {
	n      int
	rowPtr []int
	cols   []int
}

// symmetricAdjacency builds A + Aᵀ of the structure graph: every edge u→v
// contributes an entry at (u,v) and at (v,u). A self loop therefore
// contributes two entries at (u,u).
func symmetricAdjacency(g *graph.Graph) *csr {
	n := g.Len()
	counts := make([]int, n+1)
	for u := 0; u < n; u++ {
		for _, v := range g.Successors(u) {
			counts[u+1]++
			counts[v+1]++
		}
	}
	for i := 1; i <= n; i++ {
		counts[i] += counts[i-1]
	}

	m := &csr{
		n:      n,
		rowPtr: counts,
		cols:   make([]int, counts[n]),
	}
	fill := make([]int, n)
	copy(fill, counts[:n])
	for u := 0; u < n; u++ {
		for _, v := range g.Successors(u) {
			m.cols[fill[u]] = v
			fill[u]++
			m.cols[fill[v]] = u
			fill[v]++
		}
	}
	return m
}

// mulVec returns m·x.
func (m *csr) mulVec(x []float64) []float64 {
	out := make([]float64, m.n)
	for i := 0; i < m.n; i++ {
		var sum float64
		for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
			sum += x[m.cols[k]]
		}
		out[i] = sum
	}
	return out
}

// normalizeByMax divides xs by its maximum. A non-positive maximum yields
// all zeros.
func normalizeByMax(xs []float64) []float64 {
	out := make([]float64, len(xs))
	var max float64
	for _, x := range xs {
		if x > max {
			max = x
		}
	}
	if max <= 0 {
		return out
	}
	for i, x := range xs {
		out[i] = x / max
	}
	return out
}
