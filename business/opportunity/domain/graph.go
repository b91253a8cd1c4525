package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	market "github.com/fd1az/arbitrage-pipeline/business/market/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

// NodeID indexes a token in a Graph.
type NodeID int32

// EdgeID indexes a directed swap in a Graph.
type EdgeID int32

// Edge is one direction of a pool.
type Edge struct {
	From NodeID
	To   NodeID
	Pool int // index into Graph.Pools
	// Rate is the fee-less marginal rate From → To.
	Rate float64
}

// Graph is an index-based token graph built once per snapshot. Nodes and edges
// live in flat slices; adjacency holds edge indices, so the graph carries no
// pointers between its parts.
type Graph struct {
	Pools []market.Pool
	Edges []Edge

	tokens []common.Address
	index  map[common.Address]NodeID
	adj    [][]EdgeID
}

// BuildGraph indexes every valid pool in snap. Malformed pools, and pools read
// more than maxAge before the snapshot was captured, are skipped and reported.
// A pool without a read time is not age-checked.
func BuildGraph(snap *market.Snapshot, maxAge time.Duration) (*Graph, []error) {
	g := &Graph{index: make(map[common.Address]NodeID)}
	var diags []error

	for _, p := range snap.Pools() {
		if err := p.Validate(); err != nil {
			diags = append(diags, err)
			continue
		}
		if age := snap.CapturedAt().Sub(p.UpdatedAt); maxAge > 0 && !p.UpdatedAt.IsZero() && age > maxAge {
			diags = append(diags, apperror.New(apperror.CodeStalePool,
				apperror.WithContext(fmt.Sprintf("%s: read %s before snapshot, limit %s", p.Key, age, maxAge))))
			continue
		}
		pi := len(g.Pools)
		g.Pools = append(g.Pools, p)

		a, b := g.node(p.Token0), g.node(p.Token1)
		g.addEdge(Edge{From: a, To: b, Pool: pi, Rate: p.MidRate(p.Token0)})
		g.addEdge(Edge{From: b, To: a, Pool: pi, Rate: p.MidRate(p.Token1)})
	}
	return g, diags
}

func (g *Graph) node(token common.Address) NodeID {
	if id, ok := g.index[token]; ok {
		return id
	}
	id := NodeID(len(g.tokens))
	g.tokens = append(g.tokens, token)
	g.index[token] = id
	g.adj = append(g.adj, nil)
	return id
}

func (g *Graph) addEdge(e Edge) {
	id := EdgeID(len(g.Edges))
	g.Edges = append(g.Edges, e)
	g.adj[e.From] = append(g.adj[e.From], id)
}

// Node returns the id of token.
func (g *Graph) Node(token common.Address) (NodeID, bool) {
	id, ok := g.index[token]
	return id, ok
}

// Token returns the token at id.
func (g *Graph) Token(id NodeID) common.Address { return g.tokens[id] }

// NumNodes returns the number of tokens.
func (g *Graph) NumNodes() int { return len(g.tokens) }

// Out returns the edges leaving id.
func (g *Graph) Out(id NodeID) []EdgeID { return g.adj[id] }

// Pool returns the pool behind edge e.
func (g *Graph) Pool(e EdgeID) market.Pool { return g.Pools[g.Edges[e].Pool] }

// EdgeFrom returns the edge of pool leaving from. Pools are indexed as two
// consecutive edges, token0 → token1 first.
func (g *Graph) EdgeFrom(pool int, from NodeID) EdgeID {
	e := EdgeID(2 * pool)
	if g.Edges[e].From != from {
		e++
	}
	return e
}

// PoolsBetween returns the indices of pools trading a and b.
func (g *Graph) PoolsBetween(a, b NodeID) []int {
	var out []int
	for _, eid := range g.adj[a] {
		if e := g.Edges[eid]; e.To == b {
			out = append(out, e.Pool)
		}
	}
	return out
}

// BestRates returns best[k][v]: the highest product of mid rates over walks of
// at most k edges from v to target, or 0 when target is unreachable. Since a
// swap never returns more than its mid rate, best bounds any real path.
func (g *Graph) BestRates(target NodeID, maxHops int) [][]float64 {
	n := len(g.tokens)
	best := make([][]float64, maxHops+1)
	best[0] = make([]float64, n)
	best[0][target] = 1

	for k := 1; k <= maxHops; k++ {
		cur := make([]float64, n)
		copy(cur, best[k-1])
		for _, e := range g.Edges {
			if v := e.Rate * best[k-1][e.To]; v > cur[e.From] {
				cur[e.From] = v
			}
		}
		best[k] = cur
	}
	return best
}
