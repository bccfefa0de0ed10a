package auction

import "github.com/holiman/uint256"

// Cancel ends the auction without a sale. Every slot is refunded in index
// order and zeroed, the asset goes back to the owner and the auction becomes
// inactive. Zeroed slots stay in the registry until the next accept.
func (e *Engine) Cancel(caller Identity) (bool, error) {
	const op = "cancel"
	l := e.ledger
	if caller != e.owner {
		return false, reject(op, KindAuthorization, ErrNotOwner)
	}
	if !l.active {
		return false, reject(op, KindPrecondition, ErrInactive)
	}

	for i := 1; i <= l.bids.Len(); i++ {
		if err := e.updateBid(op, l.bids.Get(i).Bidder, new(uint256.Int)); err != nil {
			return false, err
		}
	}
	if err := e.sendAsset(op, e.owner); err != nil {
		return false, err
	}
	l.active = false
	return true, nil
}

// Accept settles the auction once it has expired. The first slot holding the
// strictly highest amount wins; a later equal amount does not displace it.
// A winning amount below the reserve leaves the auction active and untouched.
//
// On success losers are refunded in index order, the winner receives the
// asset, the owner receives the winning amount and the registry is cleared.
func (e *Engine) Accept(caller Identity) (bool, error) {
	const op = "accept"
	l := e.ledger
	switch {
	case caller != e.owner:
		return false, reject(op, KindAuthorization, ErrNotOwner)
	case !l.active:
		return false, reject(op, KindPrecondition, ErrInactive)
	case !(l.expiration < e.clock.Now()):
		return false, reject(op, KindPrecondition, ErrNotExpired)
	case l.bids.Len() == 0:
		return false, reject(op, KindPrecondition, ErrNoBids)
	}

	winner, amount := l.winningSlot()
	if winner == 0 {
		// Only withdrawn slots remain.
		return false, reject(op, KindPrecondition, ErrNoBids)
	}
	if amount.Lt(l.minPrice) {
		return false, reject(op, KindValue, ErrReserveNotMet)
	}

	for i := 1; i <= l.bids.Len(); i++ {
		entry := l.bids.Get(i)
		if i == winner || entry.Amount.IsZero() {
			continue
		}
		if err := e.sendFunds(op, entry.Bidder, entry.Amount); err != nil {
			return false, err
		}
	}
	if err := e.sendAsset(op, l.bids.Get(winner).Bidder); err != nil {
		return false, err
	}
	if err := e.sendFunds(op, e.owner, amount); err != nil {
		return false, err
	}

	l.active = false
	l.bids.Clear()
	return true, nil
}

// winningSlot returns the first slot with the strictly highest non-zero
// amount, or 0 when every slot is zero.
func (l *Ledger) winningSlot() (int, *uint256.Int) {
	best, amount := 0, new(uint256.Int)
	for i := 1; i <= l.bids.Len(); i++ {
		if a := l.bids.Get(i).Amount; a.Gt(amount) {
			best, amount = i, a
		}
	}
	return best, amount
}
