package domain

import (
	"bytes"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/arbitrage-pipeline/internal/asset"
)

// PendingTx is a pending transaction visible in the mempool at capture time.
type PendingTx struct {
	Hash   common.Hash
	SeenAt time.Time
}

// Snapshot is an immutable point-in-time view of the market.
// Accessors return copies; nothing reachable from a Snapshot can be mutated.
type Snapshot struct {
	block      uint64
	capturedAt time.Time
	baseFee    *big.Int
	baseToken  common.Address

	pools   map[PoolKey]Pool
	order   []PoolKey
	tokens  map[common.Address]*asset.Asset
	pending []PendingTx
}

// SnapshotInput collects the parts of a snapshot.
type SnapshotInput struct {
	Block      uint64
	CapturedAt time.Time
	BaseFee    *big.Int
	BaseToken  common.Address
	Tokens     []*asset.Asset
	Pools      []Pool
	Pending    []PendingTx
}

// NewSnapshot builds a snapshot from in. Later pools with a duplicate key replace earlier ones.
func NewSnapshot(in SnapshotInput) *Snapshot {
	s := &Snapshot{
		block:      in.Block,
		capturedAt: in.CapturedAt,
		baseToken:  in.BaseToken,
		pools:      make(map[PoolKey]Pool, len(in.Pools)),
		tokens:     make(map[common.Address]*asset.Asset, len(in.Tokens)),
		pending:    slices.Clone(in.Pending),
	}
	if in.BaseFee != nil {
		s.baseFee = new(big.Int).Set(in.BaseFee)
	}

	for _, t := range in.Tokens {
		s.tokens[t.Address()] = t
	}
	for _, p := range in.Pools {
		if _, dup := s.pools[p.Key]; !dup {
			s.order = append(s.order, p.Key)
		}
		s.pools[p.Key] = p.Clone()
	}

	slices.SortFunc(s.order, func(a, b PoolKey) int {
		if c := strings.Compare(string(a.Venue), string(b.Venue)); c != 0 {
			return c
		}
		return bytes.Compare(a.Address.Bytes(), b.Address.Bytes())
	})
	return s
}

// Block returns the block number the snapshot was captured at.
func (s *Snapshot) Block() uint64 { return s.block }

// CapturedAt returns the capture time.
func (s *Snapshot) CapturedAt() time.Time { return s.capturedAt }

// BaseToken returns the asset profits are denominated in.
func (s *Snapshot) BaseToken() common.Address { return s.baseToken }

// BaseFee returns a copy of the block base fee, or nil if unknown.
func (s *Snapshot) BaseFee() *big.Int {
	if s.baseFee == nil {
		return nil
	}
	return new(big.Int).Set(s.baseFee)
}

// Pools returns copies of all pools in deterministic order.
func (s *Snapshot) Pools() []Pool {
	out := make([]Pool, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.pools[k].Clone())
	}
	return out
}

// Pool returns a copy of the pool stored under key.
func (s *Snapshot) Pool(key PoolKey) (Pool, bool) {
	p, ok := s.pools[key]
	if !ok {
		return Pool{}, false
	}
	return p.Clone(), true
}

// Token returns token metadata for addr.
func (s *Snapshot) Token(addr common.Address) (*asset.Asset, bool) {
	t, ok := s.tokens[addr]
	return t, ok
}

// Symbol returns the token symbol, or a short hex form when unknown.
func (s *Snapshot) Symbol(addr common.Address) string {
	if t, ok := s.tokens[addr]; ok {
		return t.Symbol()
	}
	return addr.Hex()[:8]
}

// Pending returns a copy of the pending transactions.
func (s *Snapshot) Pending() []PendingTx {
	return slices.Clone(s.pending)
}

// PendingCount returns the number of visible pending transactions.
func (s *Snapshot) PendingCount() int { return len(s.pending) }
