package app

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	market "github.com/fd1az/arbitrage-pipeline/business/market/domain"
	"github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
)

// pathClass parameterises the best-first search for one path classification.
type pathClass struct {
	kind    domain.Kind
	minHops int
	allow   func(market.Pool) bool
	accept  func(g *domain.Graph, edges []domain.EdgeID) bool
}

var multiHopClass = pathClass{
	kind:    domain.KindMultiHop,
	minHops: 3,
	allow:   isConstantProduct,
	accept:  func(*domain.Graph, []domain.EdgeID) bool { return true },
}

var concentratedClass = pathClass{
	kind:    domain.KindConcentrated,
	minHops: 2,
	allow:   func(market.Pool) bool { return true },
	accept: func(g *domain.Graph, edges []domain.EdgeID) bool {
		for _, e := range edges {
			if g.Pool(e).Kind == market.KindConcentrated {
				return true
			}
		}
		return false
	},
}

// partial is an open path on the frontier.
type partial struct {
	node      domain.NodeID
	edges     []domain.EdgeID
	amountIn  decimal.Decimal
	amount    decimal.Decimal // held after fees
	crossings int
	bound     float64 // upper bound on profit in base units
}

type frontier []*partial

func (f frontier) Len() int           { return len(f) }
func (f frontier) Less(i, j int) bool { return f[i].bound > f[j].bound }
func (f frontier) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)        { *f = append(*f, x.(*partial)) }
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	*f = old[:n-1]
	return p
}

// searchPaths runs a best-first search for simple cycles anchored at the base
// token. Partial paths are expanded highest bound first; a partial path is
// pruned when even fee-less, impact-free swaps back to base could not reach the
// minimum profit. The search stops after the configured number of expansions.
func (r *run) searchPaths(class pathClass) ([]domain.Opportunity, error) {
	g := r.graph
	base, ok := g.Node(r.snap.BaseToken())
	if !ok {
		return nil, nil
	}

	maxHops := r.cfg.MaxHops
	best := g.BestRates(base, maxHops)
	minProfit, _ := r.cfg.MinProfit.Float64()

	f := &frontier{}
	for _, size := range r.cfg.TradeSizes {
		sz, _ := size.Float64()
		heap.Push(f, &partial{
			node:     base,
			amountIn: size,
			amount:   size,
			bound:    sz*best[maxHops][base] - sz,
		})
	}

	winners := make(map[string]domain.Opportunity)
	var order []string
	expansions := 0

	for f.Len() > 0 {
		if expansions >= r.cfg.ExpansionBudget {
			r.budgetExhausted(class.kind, expansions)
			break
		}
		if err := r.checkpoint(); err != nil {
			return nil, err
		}
		cur := heap.Pop(f).(*partial)
		expansions++

		for _, eid := range g.Out(cur.node) {
			e := g.Edges[eid]
			pool := g.Pools[e.Pool]
			if !class.allow(pool) || usesPool(g, cur.edges, e.Pool) {
				continue
			}
			edges := append(cur.edges[:len(cur.edges):len(cur.edges)], eid)

			if e.To == base {
				if len(edges) < class.minHops || !class.accept(g, edges) {
					continue
				}
				opp, ok := r.closePath(class.kind, edges, cur.amountIn)
				if !ok {
					continue
				}
				sig := signature(edges)
				prev, seen := winners[sig]
				if !seen {
					order = append(order, sig)
				}
				if !seen || opp.NetOfFees().GreaterThan(prev.NetOfFees()) {
					winners[sig] = opp
				}
				continue
			}

			// At least one more hop is needed to return to base.
			if len(edges) >= maxHops || visits(g, cur.edges, e.To) {
				continue
			}
			res, err := pool.SwapExactIn(g.Token(e.From), cur.amount.Mul(one.Sub(pool.Fee)))
			if err != nil {
				r.diag(err)
				continue
			}
			crossings := cur.crossings + res.TicksCrossed
			if crossings > r.cfg.MaxTickCrossings {
				continue
			}
			held, _ := res.AmountOut.Float64()
			in, _ := cur.amountIn.Float64()
			bound := held*best[maxHops-len(edges)][e.To] - in
			if bound < minProfit {
				continue
			}
			heap.Push(f, &partial{
				node:      e.To,
				edges:     edges,
				amountIn:  cur.amountIn,
				amount:    res.AmountOut,
				crossings: crossings,
				bound:     bound,
			})
		}
	}

	out := make([]domain.Opportunity, 0, len(order))
	for _, sig := range order {
		out = append(out, winners[sig])
	}
	return out, nil
}

// closePath quotes a complete cycle and emits it when it is profitable after
// venue fees and within the tick-crossing limit.
func (r *run) closePath(kind domain.Kind, edges []domain.EdgeID, amountIn decimal.Decimal) (domain.Opportunity, bool) {
	q, err := quotePath(r.graph, edges, amountIn)
	if err != nil {
		r.diag(err)
		return domain.Opportunity{}, false
	}
	if q.crossings > r.cfg.MaxTickCrossings {
		return domain.Opportunity{}, false
	}
	if !q.gross().Sub(q.fees()).IsPositive() {
		return domain.Opportunity{}, false
	}
	return r.emit(kind, q, one)
}

func usesPool(g *domain.Graph, edges []domain.EdgeID, pool int) bool {
	for _, e := range edges {
		if g.Edges[e].Pool == pool {
			return true
		}
	}
	return false
}

// visits reports whether node appears as the destination of any edge in the path.
func visits(g *domain.Graph, edges []domain.EdgeID, node domain.NodeID) bool {
	for _, e := range edges {
		if g.Edges[e].To == node {
			return true
		}
	}
	return false
}

func signature(edges []domain.EdgeID) string {
	var b strings.Builder
	for i, e := range edges {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", e)
	}
	return b.String()
}
