package domain

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

// divPrecision is the decimal places kept when dividing token amounts.
const divPrecision = 18

// PoolKind is the pricing model of a pool.
type PoolKind string

const (
	KindConstantProduct PoolKind = "constant-product"
	KindConcentrated    PoolKind = "concentrated"
)

// PoolKey identifies a pool within a snapshot.
type PoolKey struct {
	Venue   Venue
	Address common.Address
}

func (k PoolKey) String() string {
	return fmt.Sprintf("%s:%s", k.Venue, k.Address.Hex())
}

// TickRange is a price range [Lower, Upper) with constant active liquidity.
// Liquidity is expressed in decimal-adjusted token units.
type TickRange struct {
	Lower     int
	Upper     int
	Liquidity float64
}

// ConcentratedState is the tick state of a concentrated-liquidity pool.
// Prices are token1 per token0: price(tick) = 1.0001^tick * Scale.
type ConcentratedState struct {
	Tick        int
	TickSpacing int
	// Scale adjusts raw tick prices to decimal token units, 10^(decimals0-decimals1).
	Scale float64
	// Ranges are sorted by Lower and contiguous.
	Ranges []TickRange
}

func (s ConcentratedState) clone() *ConcentratedState {
	s.Ranges = slices.Clone(s.Ranges)
	return &s
}

func (s ConcentratedState) scale() float64 {
	if s.Scale <= 0 {
		return 1
	}
	return s.Scale
}

// sqrtPriceAt returns sqrt(price) at tick in decimal units.
func (s ConcentratedState) sqrtPriceAt(tick int) float64 {
	return math.Pow(1.0001, float64(tick)/2) * math.Sqrt(s.scale())
}

// activeIndex returns the index of the range containing the current tick, or -1.
func (s ConcentratedState) activeIndex() int {
	for i, r := range s.Ranges {
		if s.Tick >= r.Lower && s.Tick < r.Upper {
			return i
		}
	}
	return -1
}

// Pool is the state of one liquidity pool at snapshot time.
type Pool struct {
	Key    PoolKey
	Token0 common.Address
	Token1 common.Address
	// Fee is the swap fee as a fraction (0.003 = 0.3%).
	Fee  decimal.Decimal
	Kind PoolKind

	// Constant-product reserves in decimal token units.
	Reserve0 decimal.Decimal
	Reserve1 decimal.Decimal

	// Concentrated is set for KindConcentrated pools.
	Concentrated *ConcentratedState

	UpdatedAt time.Time
}

// Clone returns a deep copy.
func (p Pool) Clone() Pool {
	if p.Concentrated != nil {
		p.Concentrated = p.Concentrated.clone()
	}
	return p
}

// Has reports whether token is one of the pool's tokens.
func (p Pool) Has(token common.Address) bool {
	return token == p.Token0 || token == p.Token1
}

// Other returns the counterpart of token in the pool.
func (p Pool) Other(token common.Address) common.Address {
	if token == p.Token0 {
		return p.Token1
	}
	return p.Token0
}

// Validate checks the pool is internally consistent.
func (p Pool) Validate() error {
	malformed := func(reason string) error {
		return apperror.New(apperror.CodeMalformedPool,
			apperror.WithContext(fmt.Sprintf("%s: %s", p.Key, reason)))
	}

	if p.Token0 == p.Token1 {
		return malformed("identical tokens")
	}
	if p.Fee.IsNegative() || p.Fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return malformed("fee out of range")
	}

	switch p.Kind {
	case KindConstantProduct:
		if !p.Reserve0.IsPositive() || !p.Reserve1.IsPositive() {
			return malformed("non-positive reserves")
		}
	case KindConcentrated:
		cs := p.Concentrated
		if cs == nil || len(cs.Ranges) == 0 {
			return malformed("missing tick ranges")
		}
		for i, r := range cs.Ranges {
			if r.Upper <= r.Lower || r.Liquidity < 0 || math.IsNaN(r.Liquidity) {
				return malformed(fmt.Sprintf("bad tick range %d", i))
			}
			if i > 0 && cs.Ranges[i-1].Upper != r.Lower {
				return malformed("tick ranges not contiguous")
			}
		}
		if cs.activeIndex() < 0 {
			return malformed("current tick outside known ranges")
		}
	default:
		return malformed(fmt.Sprintf("unknown kind %q", p.Kind))
	}
	return nil
}

// MidRate returns the fee-less marginal rate of tokenIn to the other token.
func (p Pool) MidRate(tokenIn common.Address) float64 {
	var price float64 // token1 per token0
	switch p.Kind {
	case KindConcentrated:
		sq := p.Concentrated.sqrtPriceAt(p.Concentrated.Tick)
		price = sq * sq
	default:
		price, _ = p.Reserve1.Div(p.Reserve0).Float64()
	}

	if tokenIn == p.Token0 {
		return price
	}
	if price == 0 {
		return 0
	}
	return 1 / price
}

// SwapResult is the fee-less outcome of a swap through one pool.
type SwapResult struct {
	AmountOut    decimal.Decimal
	TicksCrossed int
}

// SwapExactIn quotes amountIn of tokenIn through the pool without fees.
// Concentrated pools are walked within the active range plus one adjacent range
// on each side; leaving that window fails with TICK_WINDOW_EXCEEDED.
func (p Pool) SwapExactIn(tokenIn common.Address, amountIn decimal.Decimal) (SwapResult, error) {
	if !p.Has(tokenIn) {
		return SwapResult{}, apperror.New(apperror.CodeInvalidInput,
			apperror.WithContext(fmt.Sprintf("%s does not trade %s", p.Key, tokenIn.Hex())))
	}
	if !amountIn.IsPositive() {
		return SwapResult{AmountOut: decimal.Zero}, nil
	}

	if p.Kind == KindConcentrated {
		return p.walkTicks(tokenIn == p.Token0, amountIn)
	}

	rIn, rOut := p.Reserve0, p.Reserve1
	if tokenIn == p.Token1 {
		rIn, rOut = p.Reserve1, p.Reserve0
	}
	out := rOut.Mul(amountIn).DivRound(rIn.Add(amountIn), divPrecision)
	return SwapResult{AmountOut: out}, nil
}

func (p Pool) walkTicks(zeroForOne bool, amountIn decimal.Decimal) (SwapResult, error) {
	cs := p.Concentrated
	idx := cs.activeIndex()
	if idx < 0 {
		return SwapResult{}, apperror.New(apperror.CodeMalformedPool, apperror.WithContext(p.Key.String()))
	}
	lo, hi := max(idx-1, 0), min(idx+1, len(cs.Ranges)-1)

	remaining, _ := amountIn.Float64()
	out := 0.0
	crossed := 0
	sqrtP := cs.sqrtPriceAt(cs.Tick)

	for i := idx; remaining > 0; {
		if i < lo || i > hi {
			return SwapResult{TicksCrossed: crossed}, apperror.New(apperror.CodeTickWindowExceeded,
				apperror.WithContext(fmt.Sprintf("%s: %d ranges crossed", p.Key, crossed)))
		}
		r := cs.Ranges[i]
		L := r.Liquidity

		if zeroForOne {
			sqrtLower := cs.sqrtPriceAt(r.Lower)
			maxIn := L * (1/sqrtLower - 1/sqrtP)
			if L > 0 && remaining <= maxIn {
				next := 1 / (1/sqrtP + remaining/L)
				out += L * (sqrtP - next)
				remaining = 0
				break
			}
			out += L * (sqrtP - sqrtLower)
			remaining -= maxIn
			sqrtP = sqrtLower
			i--
		} else {
			sqrtUpper := cs.sqrtPriceAt(r.Upper)
			maxIn := L * (sqrtUpper - sqrtP)
			if L > 0 && remaining <= maxIn {
				next := sqrtP + remaining/L
				out += L * (1/sqrtP - 1/next)
				remaining = 0
				break
			}
			out += L * (1/sqrtP - 1/sqrtUpper)
			remaining -= maxIn
			sqrtP = sqrtUpper
			i++
		}
		crossed++
	}

	if math.IsNaN(out) || math.IsInf(out, 0) || out < 0 {
		return SwapResult{}, apperror.New(apperror.CodeMalformedPool,
			apperror.WithContext(fmt.Sprintf("%s: non-finite swap output", p.Key)))
	}
	return SwapResult{AmountOut: decimal.NewFromFloat(out), TicksCrossed: crossed}, nil
}
