// Package domain contains the market snapshot model: venues, pools and pending transactions.
package domain

// Venue identifies a liquidity venue (DEX protocol).
type Venue string

const (
	VenueUniswapV2   Venue = "uniswap_v2"
	VenueUniswapV3   Venue = "uniswap_v3"
	VenueSushiswap   Venue = "sushiswap"
	VenuePancakeswap Venue = "pancakeswap"
	VenueCurve       Venue = "curve"
	VenueBalancer    Venue = "balancer"
	VenueDodo        Venue = "dodo"
)

// venueProfile is the static execution profile of a venue.
type venueProfile struct {
	complexity float64 // execution-complexity weight per hop
	swapGas    uint64  // gas units for one swap through the executor
	reliable   bool    // battle-tested router, raises confidence
}

var venueProfiles = map[Venue]venueProfile{
	VenueUniswapV2:   {complexity: 1, swapGas: 100_000, reliable: true},
	VenueUniswapV3:   {complexity: 3, swapGas: 150_000, reliable: true},
	VenueSushiswap:   {complexity: 1, swapGas: 100_000, reliable: true},
	VenuePancakeswap: {complexity: 1, swapGas: 100_000},
	VenueCurve:       {complexity: 4, swapGas: 200_000},
	VenueBalancer:    {complexity: 5, swapGas: 250_000},
	VenueDodo:        {complexity: 2, swapGas: 150_000},
}

// Unknown venues are treated as the most complex known venue.
var unknownVenue = venueProfile{complexity: 5, swapGas: 250_000}

// BaseTxGas is the intrinsic gas of a transaction.
const BaseTxGas uint64 = 21_000

// ComplexityWeight returns the venue-type weight used in complexity scores.
func (v Venue) ComplexityWeight() float64 {
	if p, ok := venueProfiles[v]; ok {
		return p.complexity
	}
	return unknownVenue.complexity
}

// SwapGas returns the estimated gas units for one swap on this venue.
func (v Venue) SwapGas() uint64 {
	if p, ok := venueProfiles[v]; ok {
		return p.swapGas
	}
	return unknownVenue.swapGas
}

// Reliable reports whether the venue counts toward opportunity confidence.
func (v Venue) Reliable() bool {
	return venueProfiles[v].reliable
}

// Known reports whether the venue has a registered profile.
func (v Venue) Known() bool {
	_, ok := venueProfiles[v]
	return ok
}

func (v Venue) String() string { return string(v) }
