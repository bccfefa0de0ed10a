package auction

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Identity names an account: the auction owner, a bidder or the escrow vault.
type Identity string

// Asset identifies the custodied item. A zero nonce denotes a fungible token.
type Asset struct {
	TokenID string `json:"token_id"`
	Nonce   uint64 `json:"nonce"`
}

// String returns the asset in "TOKEN-nonce" form.
func (a Asset) String() string {
	return fmt.Sprintf("%s-%d", a.TokenID, a.Nonce)
}

// Entry is one bidder slot in the registry. A zero amount marks a withdrawn bid.
type Entry struct {
	Bidder Identity
	Amount *uint256.Int
}

func (e Entry) clone() Entry {
	return Entry{Bidder: e.Bidder, Amount: amountOrZero(e.Amount).Clone()}
}

// Registry is the ordered bid registry. Slots are addressed 1-based and are
// never compacted during an auction, so a slot number stays valid until Clear.
type Registry struct {
	slots []Entry
}

// Append adds a new slot and returns its 1-based index.
func (r *Registry) Append(bidder Identity, amount *uint256.Int) int {
	r.slots = append(r.slots, Entry{Bidder: bidder, Amount: amountOrZero(amount).Clone()})
	return len(r.slots)
}

// Get returns a copy of slot i. It panics when i is out of range.
func (r *Registry) Get(i int) Entry {
	r.check(i)
	return r.slots[i-1].clone()
}

// Set overwrites the amount held in slot i. It panics when i is out of range.
func (r *Registry) Set(i int, amount *uint256.Int) {
	r.check(i)
	r.slots[i-1].Amount = amountOrZero(amount).Clone()
}

// Len returns the number of slots, withdrawn ones included.
func (r *Registry) Len() int {
	return len(r.slots)
}

// Clear drops every slot.
func (r *Registry) Clear() {
	r.slots = nil
}

// Entries returns a copy of all slots in index order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.slots))
	for i, e := range r.slots {
		out[i] = e.clone()
	}
	return out
}

func (r *Registry) check(i int) {
	if i < 1 || i > len(r.slots) {
		panic(fmt.Sprintf("auction: registry slot %d out of range [1, %d]", i, len(r.slots)))
	}
}

// Ledger is the persistent auction state. It is created once, inactive, and
// reused across auctions. Only the engine in this package mutates it; storage
// layers move it in and out through Snapshot and Restore.
type Ledger struct {
	round      uuid.UUID
	asset      Asset
	price      *uint256.Int
	minPrice   *uint256.Int
	expiration uint64
	active     bool
	bids       Registry
}

// NewLedger returns an inactive ledger with an empty registry.
func NewLedger() *Ledger {
	return &Ledger{
		price:    new(uint256.Int),
		minPrice: new(uint256.Int),
	}
}

// Snapshot is the exported form of a Ledger used by storage backends.
type Snapshot struct {
	Round      uuid.UUID
	Asset      Asset
	Price      *uint256.Int
	MinPrice   *uint256.Int
	Expiration uint64
	Active     bool
	Bids       []Entry
}

// Snapshot returns a deep copy of the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{
		Round:      l.round,
		Asset:      l.asset,
		Price:      amountOrZero(l.price).Clone(),
		MinPrice:   amountOrZero(l.minPrice).Clone(),
		Expiration: l.expiration,
		Active:     l.active,
		Bids:       l.bids.Entries(),
	}
}

// Restore rebuilds a ledger from a snapshot, preserving slot order.
func Restore(s Snapshot) *Ledger {
	l := &Ledger{
		round:      s.Round,
		asset:      s.Asset,
		price:      amountOrZero(s.Price).Clone(),
		minPrice:   amountOrZero(s.MinPrice).Clone(),
		expiration: s.Expiration,
		active:     s.Active,
	}
	for _, e := range s.Bids {
		l.bids.Append(e.Bidder, e.Amount)
	}
	return l
}

// Clone returns an independent copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	return Restore(l.Snapshot())
}

// Round identifies the current (or most recent) auction cycle.
func (l *Ledger) Round() uuid.UUID { return l.round }

// Active reports whether bidding is open.
func (l *Ledger) Active() bool { return l.active }

// Asset returns the custodied asset identity.
func (l *Ledger) Asset() Asset { return l.asset }

// Price returns the current highest locked bid, or the reserve when none beats it.
func (l *Ledger) Price() *uint256.Int { return amountOrZero(l.price).Clone() }

// MinPrice returns the reserve fixed at start.
func (l *Ledger) MinPrice() *uint256.Int { return amountOrZero(l.minPrice).Clone() }

// Expiration returns the deadline fixed at start.
func (l *Ledger) Expiration() uint64 { return l.expiration }

// Bids returns a copy of the registry slots in index order.
func (l *Ledger) Bids() []Entry { return l.bids.Entries() }

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
