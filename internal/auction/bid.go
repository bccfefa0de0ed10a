package auction

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Start opens an auction for asset. lockedAmount is the number of asset units
// the caller deposited into custody for this call; it must be exactly one.
// On a false return the deposit is not retained by the ledger: returning it is
// the custody environment's job.
func (e *Engine) Start(caller Identity, asset Asset, lockedAmount uint64, minPrice *uint256.Int, expiration uint64) (bool, error) {
	const op = "start"
	l := e.ledger
	switch {
	case caller != e.owner:
		return false, reject(op, KindAuthorization, ErrNotOwner)
	case l.active:
		return false, reject(op, KindPrecondition, ErrActive)
	case asset.Nonce == 0:
		return false, reject(op, KindValue, ErrFungibleAsset)
	case lockedAmount != 1:
		return false, reject(op, KindValue, ErrAmountNotUnit)
	case expiration <= e.clock.Now():
		return false, reject(op, KindPrecondition, ErrExpirationPassed)
	}

	reserve := amountOrZero(minPrice).Clone()
	l.round = uuid.New()
	l.asset = asset
	l.price = reserve.Clone()
	l.minPrice = reserve
	l.expiration = expiration
	l.active = true
	return true, nil
}

// Bid records amount as caller's locked bid. The bid is accepted only while the
// auction is active, when caller is not the owner and amount strictly exceeds
// the current price.
//
// A rejected bid is penalised: half of amount (rounded down) goes back to the
// caller and the rest stays in escrow.
func (e *Engine) Bid(caller Identity, amount *uint256.Int) (bool, error) {
	const op = "bid"
	amount = amountOrZero(amount)
	l := e.ledger

	var rejection error
	switch {
	case !l.active:
		rejection = reject(op, KindPrecondition, ErrInactive)
	case caller == e.owner:
		rejection = reject(op, KindAuthorization, ErrOwnerBid)
	case !amount.Gt(l.price):
		rejection = reject(op, KindValue, ErrBidTooLow)
	}
	if rejection != nil {
		refund := new(uint256.Int).Rsh(amount, 1)
		if !refund.IsZero() {
			if err := e.sendFunds(op, caller, refund); err != nil {
				return false, err
			}
		}
		return false, rejection
	}

	if err := e.updateBid(op, caller, amount); err != nil {
		return false, err
	}
	return true, nil
}

// Unbid withdraws caller's bid, refunding it in full. A caller with no slot
// gets a zero slot, so calling it repeatedly is harmless.
func (e *Engine) Unbid(caller Identity) error {
	return e.updateBid("unbid", caller, new(uint256.Int))
}

// Forfeit returns the part of a rejected bid that stays in escrow.
func Forfeit(amount *uint256.Int) *uint256.Int {
	amount = amountOrZero(amount)
	return new(uint256.Int).Sub(amount, new(uint256.Int).Rsh(amount, 1))
}

// updateBid replaces bidder's locked amount, refunding any prior amount first,
// and recomputes price from the reserve over every slot.
func (e *Engine) updateBid(op string, bidder Identity, amount *uint256.Int) error {
	l := e.ledger
	l.price = l.minPrice.Clone()

	found := false
	for i := 1; i <= l.bids.Len(); i++ {
		entry := l.bids.Get(i)
		if entry.Bidder == bidder {
			found = true
			if !entry.Amount.IsZero() {
				if err := e.sendFunds(op, bidder, entry.Amount); err != nil {
					return err
				}
			}
			l.bids.Set(i, amount)
			entry.Amount = amount
		}
		if entry.Amount.Gt(l.price) {
			l.price = entry.Amount.Clone()
		}
	}

	if !found {
		l.bids.Append(bidder, amount)
		if amount.Gt(l.price) {
			l.price = amount.Clone()
		}
	}
	return nil
}
