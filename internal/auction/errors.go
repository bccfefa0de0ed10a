package auction

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation did not succeed.
type Kind uint8

const (
	// KindAuthorization: a non-owner invoked an owner-only operation, or the
	// owner tried to bid on its own auction.
	KindAuthorization Kind = iota + 1
	// KindPrecondition: the operation was invoked in the wrong lifecycle state.
	KindPrecondition
	// KindValue: an offered amount failed the comparison required to succeed.
	KindValue
	// KindCustody: a refund or payout could not be delivered. Fatal for the
	// operation; callers must not commit its effects.
	KindCustody
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindPrecondition:
		return "precondition"
	case KindValue:
		return "value"
	case KindCustody:
		return "custody"
	default:
		return "unknown"
	}
}

var (
	ErrNotOwner         = errors.New("caller is not the auction owner")
	ErrOwnerBid         = errors.New("auction owner cannot bid")
	ErrActive           = errors.New("auction already active")
	ErrInactive         = errors.New("auction not active")
	ErrFungibleAsset    = errors.New("asset nonce is zero; only unique assets can be auctioned")
	ErrAmountNotUnit    = errors.New("locked asset amount must be exactly one unit")
	ErrExpirationPassed = errors.New("expiration is not in the future")
	ErrBidTooLow        = errors.New("bid does not exceed current price")
	ErrNotExpired       = errors.New("auction has not expired")
	ErrNoBids           = errors.New("auction has no bids")
	ErrReserveNotMet    = errors.New("highest bid is below the reserve price")
	ErrCustodyFault     = errors.New("custody transfer failed")
)

// Error carries the failing operation and its Kind. The wrapped error is one
// of the sentinels above, so errors.Is works on it.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("auction %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func reject(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func custodyFault(op string, err error) error {
	return &Error{Op: op, Kind: KindCustody, Err: fmt.Errorf("%w: %w", ErrCustodyFault, err)}
}

// KindOf returns the Kind of an engine error, or 0 for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsRejection reports whether err is an ordinary rejection (authorization,
// precondition or value) rather than a custody fault or foreign error.
func IsRejection(err error) bool {
	switch KindOf(err) {
	case KindAuthorization, KindPrecondition, KindValue:
		return true
	default:
		return false
	}
}
