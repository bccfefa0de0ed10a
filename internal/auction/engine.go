// Package auction implements the escrowed single-item auction: the ledger,
// the bid engine that maintains it and the settlement of cancel and accept.
//
// Operations run to completion one at a time. The engine performs no locking;
// callers serialise access to a ledger.
package auction

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/holiman/uint256"
)

var errNoCustody = errors.New("custody service not configured")

// Clock supplies the current time. The engine never reads a local clock.
type Clock interface {
	Now() uint64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() uint64

func (f ClockFunc) Now() uint64 { return f() }

type systemClock struct{}

func (systemClock) Now() uint64 { return uint64(time.Now().Unix()) }

// SystemClock reports Unix seconds.
var SystemClock Clock = systemClock{}

// Custody delivers outbound transfers out of escrow. A returned error means the
// transfer did not happen; the engine aborts the operation with KindCustody.
type Custody interface {
	SendFunds(to Identity, amount *uint256.Int) error
	SendAsset(to Identity, asset Asset) error
}

// Engine runs auction operations against one ledger.
type Engine struct {
	ledger  *Ledger
	owner   Identity
	clock   Clock
	custody Custody
	logger  *slog.Logger
}

// NewEngine wires an engine to its ledger and collaborators. owner is the
// identity allowed to start, cancel and accept.
func NewEngine(ledger *Ledger, owner Identity, clock Clock, custody Custody) *Engine {
	if ledger == nil {
		ledger = NewLedger()
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Engine{
		ledger:  ledger,
		owner:   owner,
		clock:   clock,
		custody: custody,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger configures the logger used for transfer tracing. Passing nil
// discards output.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e.logger = logger
}

// Ledger returns the ledger the engine mutates.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Owner returns the auction owner identity.
func (e *Engine) Owner() Identity { return e.owner }

// Now returns the clock provider's current time.
func (e *Engine) Now() uint64 { return e.clock.Now() }

// Status reports whether the auction is active.
func (e *Engine) Status() bool { return e.ledger.active }

// TopBid returns the current highest price.
func (e *Engine) TopBid() *uint256.Int { return e.ledger.Price() }

// Expiration returns the auction deadline.
func (e *Engine) Expiration() uint64 { return e.ledger.expiration }

// Asset returns the custodied asset identity.
func (e *Engine) Asset() Asset { return e.ledger.asset }

func (e *Engine) sendFunds(op string, to Identity, amount *uint256.Int) error {
	if e.custody == nil {
		return custodyFault(op, errNoCustody)
	}
	if err := e.custody.SendFunds(to, amount); err != nil {
		return custodyFault(op, err)
	}
	e.logger.Debug("funds sent", "op", op, "to", string(to), "amount", amount.Dec())
	return nil
}

func (e *Engine) sendAsset(op string, to Identity) error {
	if e.custody == nil {
		return custodyFault(op, errNoCustody)
	}
	if err := e.custody.SendAsset(to, e.ledger.asset); err != nil {
		return custodyFault(op, err)
	}
	e.logger.Debug("asset sent", "op", op, "to", string(to), "asset", e.ledger.asset.String())
	return nil
}
