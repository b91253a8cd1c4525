package domain

import "github.com/ethereum/go-ethereum/common"

// HeadVerdict classifies an incoming header against the heads seen so far.
type HeadVerdict int

const (
	HeadNew HeadVerdict = iota
	HeadDuplicate
	HeadStale
	HeadReorg
)

func (v HeadVerdict) String() string {
	switch v {
	case HeadNew:
		return "new"
	case HeadDuplicate:
		return "duplicate"
	case HeadStale:
		return "stale"
	case HeadReorg:
		return "reorg"
	}
	return "unknown"
}

// DefaultReorgDepth is how many recent heads are remembered.
const DefaultReorgDepth = 64

type seenHead struct {
	number uint64
	hash   common.Hash
}

// HeadTracker remembers the last heads of the canonical chain. WebSocket and
// polling deliver overlapping, occasionally out-of-order headers; the tracker
// decides which ones move the head. Not safe for concurrent use.
type HeadTracker struct {
	depth  int
	recent []seenHead // ascending by number
}

// NewHeadTracker keeps depth heads; non-positive depth uses DefaultReorgDepth.
func NewHeadTracker(depth int) *HeadTracker {
	if depth <= 0 {
		depth = DefaultReorgDepth
	}
	return &HeadTracker{depth: depth}
}

// Head returns the current head number, or 0 before the first header.
func (t *HeadTracker) Head() uint64 {
	if len(t.recent) == 0 {
		return 0
	}
	return t.recent[len(t.recent)-1].number
}

// Observe classifies b and, for HeadNew and HeadReorg, makes it the head and
// sets b.Reorg and b.Missed.
//
// A header at a known height with an unknown hash, or one whose parent is
// not the current head, is a reorg. Headers at or below the head whose hash
// is already known are duplicates or stale, and so is anything older than
// the remembered window.
func (t *HeadTracker) Observe(b *Block) HeadVerdict {
	if len(t.recent) == 0 {
		t.push(b)
		return HeadNew
	}

	head := t.recent[len(t.recent)-1]
	switch {
	case b.Number == head.number+1:
		if b.ParentHash != head.hash {
			b.Reorg = true
			t.push(b)
			return HeadReorg
		}
		t.push(b)
		return HeadNew

	case b.Number > head.number+1:
		b.Missed = b.Number - head.number - 1
		t.push(b)
		return HeadNew

	case b.Number == head.number && b.Hash == head.hash:
		return HeadDuplicate
	}

	// b is at or below the head.
	oldest := t.recent[0].number
	if b.Number < oldest {
		return HeadStale
	}
	for _, h := range t.recent {
		if h.number == b.Number && h.hash == b.Hash {
			return HeadStale
		}
	}
	b.Reorg = true
	t.rewind(b.Number)
	t.push(b)
	return HeadReorg
}

func (t *HeadTracker) push(b *Block) {
	t.recent = append(t.recent, seenHead{number: b.Number, hash: b.Hash})
	if over := len(t.recent) - t.depth; over > 0 {
		t.recent = append(t.recent[:0], t.recent[over:]...)
	}
}

// rewind drops every remembered head at or above number.
func (t *HeadTracker) rewind(number uint64) {
	i := len(t.recent)
	for i > 0 && t.recent[i-1].number >= number {
		i--
	}
	t.recent = t.recent[:i]
}
