package app

import (
	"github.com/shopspring/decimal"

	"github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
)

// searchDirect finds two-hop loops across constant-product pools trading the
// same pair. A loop through the base token is direct. A loop on a pair without
// the base token is cross-venue and its profit is converted to base at the mid rate.
func (r *run) searchDirect() ([]domain.Opportunity, error) {
	g := r.graph
	base := r.snap.BaseToken()

	type pair struct{ a, b domain.NodeID }
	groups := make(map[pair][]int)
	var order []pair
	for pi, p := range g.Pools {
		if !isConstantProduct(p) {
			continue
		}
		a, _ := g.Node(p.Token0)
		b, _ := g.Node(p.Token1)
		if a > b {
			a, b = b, a
		}
		k := pair{a, b}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], pi)
	}

	var found []domain.Opportunity
	for _, k := range order {
		pools := groups[k]
		if len(pools) < 2 {
			continue
		}
		for _, start := range []domain.NodeID{k.a, k.b} {
			other := k.b
			if start == k.b {
				other = k.a
			}
			startToken := g.Token(start)
			// A pair that includes base is only looped from base.
			if startToken != base && g.Token(other) == base {
				continue
			}

			rate, ok := baseRate(g, startToken, base)
			if !ok {
				continue
			}
			kind := domain.KindDirect
			if startToken != base {
				kind = domain.KindCrossVenue
			}

			for _, pi := range pools {
				for _, qi := range pools {
					if pi == qi {
						continue
					}
					if err := r.checkpoint(); err != nil {
						return nil, err
					}

					buy, sell := g.Pools[pi], g.Pools[qi]
					differential := buy.MidRate(startToken)*sell.MidRate(g.Token(other)) - 1
					feeSum, _ := buy.Fee.Add(sell.Fee).Float64()
					if differential <= feeSum {
						continue
					}

					edges := []domain.EdgeID{g.EdgeFrom(pi, start), g.EdgeFrom(qi, other)}
					if opp, ok := r.bestSize(edges, rate, kind); ok {
						found = append(found, opp)
					}
				}
			}
		}
	}
	return found, nil
}

// bestSize quotes edges at every configured trade size and keeps the size with
// the highest profit net of venue fees. rate converts start-token units to base.
func (r *run) bestSize(edges []domain.EdgeID, rate float64, kind domain.Kind) (domain.Opportunity, bool) {
	toBase := decimal.NewFromFloat(rate)

	var (
		best    quote
		bestNet decimal.Decimal
		found   bool
	)
	for _, size := range r.cfg.TradeSizes {
		amountIn := size.DivRound(toBase, 18)
		q, err := quotePath(r.graph, edges, amountIn)
		if err != nil {
			r.diag(err)
			continue
		}
		if q.crossings > r.cfg.MaxTickCrossings {
			continue
		}
		net := q.gross().Sub(q.fees()).Mul(toBase)
		if !found || net.GreaterThan(bestNet) {
			best, bestNet, found = q, net, true
		}
	}
	if !found || !bestNet.IsPositive() {
		return domain.Opportunity{}, false
	}
	return r.emit(kind, best, toBase)
}
