// Package domain contains the opportunity model and the token/pool graph it is searched on.
package domain

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	market "github.com/fd1az/arbitrage-pipeline/business/market/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

// Kind classifies a trade path.
type Kind string

const (
	KindDirect       Kind = "direct"
	KindMultiHop     Kind = "multi-hop"
	KindConcentrated Kind = "concentrated-liquidity"
	KindCrossVenue   Kind = "cross-venue"
)

// Kinds lists every path classification.
var Kinds = []Kind{KindDirect, KindCrossVenue, KindMultiHop, KindConcentrated}

// Hop is one swap of a path.
type Hop struct {
	Venue    market.Venue
	Pool     common.Address
	PoolKind market.PoolKind
	TokenIn  common.Address
	TokenOut common.Address
	Fee      decimal.Decimal

	// Expected amounts after venue fees, in decimal token units.
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal

	GasUnits     uint64
	TicksCrossed int
}

// PoolKey returns the snapshot key of the hop's pool.
func (h Hop) PoolKey() market.PoolKey {
	return market.PoolKey{Venue: h.Venue, Address: h.Pool}
}

// Settlement describes the external step that closes an open-ended path.
type Settlement struct {
	Token       common.Address
	Description string
}

// Opportunity is an immutable candidate trade path found in one snapshot.
type Opportunity struct {
	ID    uuid.UUID
	Block uint64
	Kind  Kind
	Hops  []Hop

	// AmountIn is denominated in the first hop's input token.
	AmountIn decimal.Decimal
	// GrossProfit is the fee-less profit in base-asset units.
	GrossProfit decimal.Decimal
	// VenueFees is the total venue fee paid along the path, in base-asset units.
	VenueFees decimal.Decimal
	// AmountInBase is AmountIn valued in base-asset units.
	AmountInBase decimal.Decimal

	GasUnits   uint64
	Complexity float64

	OpenEnded  bool
	Settlement *Settlement
}

// Params are the inputs to New.
type Params struct {
	Block        uint64
	Kind         Kind
	Hops         []Hop
	AmountIn     decimal.Decimal
	AmountInBase decimal.Decimal
	GrossProfit  decimal.Decimal
	VenueFees    decimal.Decimal
	OpenEnded    bool
	Settlement   *Settlement
}

// New builds and validates an opportunity. Gas units and complexity are derived from the hops.
func New(p Params) (Opportunity, error) {
	o := Opportunity{
		ID:           uuid.New(),
		Block:        p.Block,
		Kind:         p.Kind,
		Hops:         slices.Clone(p.Hops),
		AmountIn:     p.AmountIn,
		AmountInBase: p.AmountInBase,
		GrossProfit:  p.GrossProfit,
		VenueFees:    p.VenueFees,
		OpenEnded:    p.OpenEnded,
		Settlement:   p.Settlement,
	}
	if o.AmountInBase.IsZero() {
		o.AmountInBase = o.AmountIn
	}

	gas := market.BaseTxGas
	maxWeight := 0.0
	for _, h := range o.Hops {
		gas += h.GasUnits
		maxWeight = max(maxWeight, h.Venue.ComplexityWeight())
	}
	o.GasUnits = gas
	o.Complexity = float64(len(o.Hops)) * maxWeight

	if err := o.Validate(); err != nil {
		return Opportunity{}, err
	}
	return o, nil
}

// Validate checks the path invariants: hops chain token to token, and the path
// is a closed loop unless it is open-ended with a settlement step.
func (o Opportunity) Validate() error {
	invalid := func(reason string) error {
		return apperror.New(apperror.CodeValidationError,
			apperror.WithContext(fmt.Sprintf("opportunity %s: %s", o.ID, reason)))
	}

	if len(o.Hops) == 0 {
		return invalid("no hops")
	}
	for i := 1; i < len(o.Hops); i++ {
		if o.Hops[i].TokenIn != o.Hops[i-1].TokenOut {
			return invalid(fmt.Sprintf("hop %d does not continue hop %d", i, i-1))
		}
	}
	if o.OpenEnded {
		if o.Settlement == nil {
			return invalid("open-ended path without settlement")
		}
	} else if !o.IsClosedLoop() {
		return invalid("path is not a closed loop")
	}
	if !o.AmountIn.IsPositive() {
		return invalid("non-positive amount in")
	}
	return nil
}

// IsClosedLoop reports whether the first input token equals the last output token.
func (o Opportunity) IsClosedLoop() bool {
	return len(o.Hops) > 0 && o.Hops[0].TokenIn == o.Hops[len(o.Hops)-1].TokenOut
}

// StartToken returns the token the path begins (and, if closed, ends) with.
func (o Opportunity) StartToken() common.Address {
	if len(o.Hops) == 0 {
		return common.Address{}
	}
	return o.Hops[0].TokenIn
}

// NetOfFees is gross profit minus venue fees.
func (o Opportunity) NetOfFees() decimal.Decimal {
	return o.GrossProfit.Sub(o.VenueFees)
}

// UsesConcentratedLiquidity reports whether any hop walks ticks.
func (o Opportunity) UsesConcentratedLiquidity() bool {
	for _, h := range o.Hops {
		if h.PoolKind == market.KindConcentrated {
			return true
		}
	}
	return false
}

// PairKey identifies the set of tokens traded. Opportunities with equal keys
// compete for the same liquidity.
func (o Opportunity) PairKey() string {
	seen := make(map[common.Address]struct{}, len(o.Hops)+1)
	tokens := make([]common.Address, 0, len(o.Hops)+1)
	add := func(a common.Address) {
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			tokens = append(tokens, a)
		}
	}
	for _, h := range o.Hops {
		add(h.TokenIn)
		add(h.TokenOut)
	}
	slices.SortFunc(tokens, func(a, b common.Address) int { return bytes.Compare(a[:], b[:]) })

	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Hex()
	}
	return strings.Join(parts, "/")
}

// Route returns a compact path description, e.g. "uniswap_v2:0xB4e16d -> sushiswap:0x397FF1".
func (o Opportunity) Route() string {
	parts := make([]string, len(o.Hops))
	for i, h := range o.Hops {
		parts[i] = fmt.Sprintf("%s:%s", h.Venue, h.Pool.Hex()[:8])
	}
	return strings.Join(parts, " -> ")
}

// Better reports whether o wins a tie-break against other: lower complexity,
// then higher gross profit.
func (o Opportunity) Better(other Opportunity) bool {
	if o.Complexity != other.Complexity {
		return o.Complexity < other.Complexity
	}
	return o.GrossProfit.GreaterThan(other.GrossProfit)
}
