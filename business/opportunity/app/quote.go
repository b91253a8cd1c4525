package app

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	market "github.com/fd1az/arbitrage-pipeline/business/market/domain"
	"github.com/fd1az/arbitrage-pipeline/business/opportunity/domain"
)

var one = decimal.NewFromInt(1)

// quote is a path priced twice: once as executed (fees taken from each input)
// and once fee-less. The difference between the two outputs is the venue fee.
type quote struct {
	hops       []domain.Hop
	amountIn   decimal.Decimal
	out        decimal.Decimal // after fees
	outFeeless decimal.Decimal
	crossings  int
}

// gross is the fee-less profit in start-token units.
func (q quote) gross() decimal.Decimal { return q.outFeeless.Sub(q.amountIn) }

// fees is the total venue fee in start-token units.
func (q quote) fees() decimal.Decimal { return q.outFeeless.Sub(q.out) }

// quotePath prices amountIn along edges.
func quotePath(g *domain.Graph, edges []domain.EdgeID, amountIn decimal.Decimal) (quote, error) {
	q := quote{
		hops:     make([]domain.Hop, 0, len(edges)),
		amountIn: amountIn,
	}
	feeful, feeless := amountIn, amountIn

	for _, eid := range edges {
		e := g.Edges[eid]
		pool := g.Pools[e.Pool]
		tokenIn, tokenOut := g.Token(e.From), g.Token(e.To)

		executed, err := pool.SwapExactIn(tokenIn, feeful.Mul(one.Sub(pool.Fee)))
		if err != nil {
			return quote{}, err
		}
		ideal, err := pool.SwapExactIn(tokenIn, feeless)
		if err != nil {
			return quote{}, err
		}

		q.hops = append(q.hops, domain.Hop{
			Venue:        pool.Key.Venue,
			Pool:         pool.Key.Address,
			PoolKind:     pool.Kind,
			TokenIn:      tokenIn,
			TokenOut:     tokenOut,
			Fee:          pool.Fee,
			AmountIn:     feeful,
			AmountOut:    executed.AmountOut,
			GasUnits:     pool.Key.Venue.SwapGas(),
			TicksCrossed: executed.TicksCrossed,
		})
		q.crossings += executed.TicksCrossed
		feeful, feeless = executed.AmountOut, ideal.AmountOut
	}

	q.out, q.outFeeless = feeful, feeless
	return q, nil
}

// baseRate returns the best mid rate from token to base through a single pool.
func baseRate(g *domain.Graph, token, base common.Address) (float64, bool) {
	if token == base {
		return 1, true
	}
	from, ok1 := g.Node(token)
	to, ok2 := g.Node(base)
	if !ok1 || !ok2 {
		return 0, false
	}
	best := 0.0
	for _, pi := range g.PoolsBetween(from, to) {
		best = max(best, g.Pools[pi].MidRate(token))
	}
	return best, best > 0
}

func isConstantProduct(p market.Pool) bool { return p.Kind == market.KindConstantProduct }
