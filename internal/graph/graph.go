// Package graph builds the transaction multigraph and its structure graph.
//
// The multigraph has one edge per transaction and only fixes node order and
// the transaction count. The structure graph collapses multiplicities to one
// edge per ordered account pair and is what every detector and every
// degree-based score reads. Both are built once
// and never mutated afterwards.
package graph

import "github.com/opensource-finance/ringwatch/internal/domain"

type pair struct {
	from, to int
}

// Graph is an immutable adjacency-list view over a transaction table.
// Accounts are addressed by a dense index in structure-graph order.
type Graph struct {
	accounts []string
	index    map[string]int

	succ [][]int
	pred [][]int

	edges map[pair]struct{}

	edgeCount int
	txCount   int
}

// New builds the multigraph and the structure graph from txs.
//
// Account order follows structure-graph construction: multigraph nodes in
// first-seen order, each immediately followed by its not-yet-seen
// successors in first-insertion order.
func New(txs []domain.Transaction) *Graph {
	// Multigraph pass: first-seen node order and per-node successor order.
	var order []string
	seen := make(map[string]int)
	var mgSucc [][]string
	succSeen := make(map[[2]string]bool)

	addNode := func(id string) int {
		if i, ok := seen[id]; ok {
			return i
		}
		i := len(order)
		seen[id] = i
		order = append(order, id)
		mgSucc = append(mgSucc, nil)
		return i
	}

	for _, tx := range txs {
		u := addNode(tx.SenderID)
		addNode(tx.ReceiverID)

		key := [2]string{tx.SenderID, tx.ReceiverID}
		if !succSeen[key] {
			succSeen[key] = true
			mgSucc[u] = append(mgSucc[u], tx.ReceiverID)
		}
	}

	g := &Graph{
		index:   make(map[string]int, len(order)),
		edges:   make(map[pair]struct{}, len(succSeen)),
		txCount: len(txs),
	}

	node := func(id string) int {
		if i, ok := g.index[id]; ok {
			return i
		}
		i := len(g.accounts)
		g.index[id] = i
		g.accounts = append(g.accounts, id)
		g.succ = append(g.succ, nil)
		g.pred = append(g.pred, nil)
		return i
	}

	// Structure pass: one edge per ordered pair.
	for i, from := range order {
		for _, to := range mgSucc[i] {
			u := node(from)
			v := node(to)
			g.succ[u] = append(g.succ[u], v)
			g.pred[v] = append(g.pred[v], u)
			g.edges[pair{u, v}] = struct{}{}
			g.edgeCount++
		}
	}

	return g
}

// Len returns the number of accounts.
func (g *Graph) Len() int {
	return len(g.accounts)
}

// Accounts returns account identifiers in graph order. The slice must not
// be modified.
func (g *Graph) Accounts() []string {
	return g.accounts
}

// Account returns the identifier of account i.
func (g *Graph) Account(i int) string {
	return g.accounts[i]
}

// Index returns the dense index of an account.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Successors returns the structure-graph out-neighbors of i.
func (g *Graph) Successors(i int) []int {
	return g.succ[i]
}

// Predecessors returns the structure-graph in-neighbors of i.
func (g *Graph) Predecessors(i int) []int {
	return g.pred[i]
}

// InDegree returns the number of distinct senders into i.
func (g *Graph) InDegree(i int) int {
	return len(g.pred[i])
}

// OutDegree returns the number of distinct receivers from i.
func (g *Graph) OutDegree(i int) int {
	return len(g.succ[i])
}

// Degree returns in-degree plus out-degree. A self loop counts twice.
func (g *Graph) Degree(i int) int {
	return len(g.pred[i]) + len(g.succ[i])
}

// HasEdge reports whether the structure graph has an edge u→v.
func (g *Graph) HasEdge(u, v int) bool {
	_, ok := g.edges[pair{u, v}]
	return ok
}

// EdgeCount returns the number of structure-graph edges.
func (g *Graph) EdgeCount() int {
	return g.edgeCount
}

// TransactionCount returns the number of multigraph edges.
func (g *Graph) TransactionCount() int {
	return g.txCount
}

// InternalEdges counts structure edges whose endpoints are both in members.
func (g *Graph) InternalEdges(members []string) int {
	set := make(map[int]bool, len(members))
	for _, m := range members {
		if i, ok := g.index[m]; ok {
			set[i] = true
		}
	}

	count := 0
	for u := range set {
		for _, v := range g.succ[u] {
			if set[v] {
				count++
			}
		}
	}
	return count
}
