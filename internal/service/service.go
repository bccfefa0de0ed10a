// Package service runs auction operations against the store: each call loads
// the ledger, takes the caller's deposit into custody, runs the engine and
// commits everything in one transaction.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/xtrntr/auctionhouse/internal/auction"
	"github.com/xtrntr/auctionhouse/internal/custody"
	"github.com/xtrntr/auctionhouse/internal/db"
	"github.com/xtrntr/auctionhouse/internal/metrics"
	"github.com/xtrntr/auctionhouse/internal/models"
)

// ErrPayment wraps failures to take the caller's deposit into custody.
var ErrPayment = errors.New("payment failed")

// errRollback signals InTx to discard a rejected operation's writes.
var errRollback = errors.New("rollback")

// Result is the outcome of one operation.
type Result struct {
	OK        bool              `json:"ok"`
	Reason    string            `json:"reason,omitempty"`
	Round     string            `json:"round,omitempty"`
	Forfeited string            `json:"forfeited,omitempty"`
	Transfers []models.Transfer `json:"transfers,omitempty"`
}

// StartRequest carries the arguments of start.
type StartRequest struct {
	Asset      auction.Asset
	Amount     uint64 // asset units deposited with the call
	MinPrice   *uint256.Int
	Expiration uint64
}

// notifyBuffer bounds the committed views waiting for listeners. Views past
// it are dropped rather than holding up operations.
const notifyBuffer = 64

// Service serialises auction operations. The ledger row lock in the store
// serialises them across processes as well.
type Service struct {
	mu      sync.Mutex
	store   db.Store
	owner   auction.Identity
	clock   auction.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	// guarded by mu
	notify chan models.AuctionView
	closed bool
	done   chan struct{}

	lmu       sync.RWMutex
	listeners []func(models.AuctionView)
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the system clock.
func WithClock(c auction.Clock) Option { return func(s *Service) { s.clock = c } }

// WithLogger sets the operation logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetrics enables metric collection.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// New returns a service for the auction owned by owner.
func New(store db.Store, owner auction.Identity, opts ...Option) *Service {
	s := &Service{
		store:  store,
		owner:  owner,
		clock:  auction.SystemClock,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Owner returns the identity allowed to start, cancel and accept.
func (s *Service) Owner() auction.Identity { return s.owner }

// Now returns the clock provider's time.
func (s *Service) Now() uint64 { return s.clock.Now() }

// OnChange registers fn to receive the auction state after every committed
// operation, in commit order. Listeners run on a dispatcher goroutine, never
// under the operation lock, so a slow listener only delays later
// notifications.
func (s *Service) OnChange(fn func(models.AuctionView)) {
	s.lmu.Lock()
	s.listeners = append(s.listeners, fn)
	s.lmu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notify == nil && !s.closed {
		s.notify = make(chan models.AuctionView, notifyBuffer)
		s.done = make(chan struct{})
		go s.dispatch(s.notify, s.done)
	}
}

// Close delivers the notifications already queued and stops the dispatcher.
// Operations keep working after Close but no longer notify.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	notify, done := s.notify, s.done
	s.notify = nil
	s.mu.Unlock()

	if notify != nil {
		close(notify)
		<-done
	}
}

func (s *Service) dispatch(views <-chan models.AuctionView, done chan<- struct{}) {
	defer close(done)
	for view := range views {
		s.lmu.RLock()
		listeners := s.listeners
		s.lmu.RUnlock()
		for _, fn := range listeners {
			fn(view)
		}
	}
}

// enqueue hands view to the dispatcher. Callers hold mu, which keeps the
// queue in commit order.
func (s *Service) enqueue(view models.AuctionView) {
	if s.notify == nil {
		return
	}
	select {
	case s.notify <- view:
	default:
		s.logger.Warn("dropping auction change notification, listeners are behind", "round", view.Round)
	}
}

// Start opens an auction. The asset units in req.Amount are taken from the
// caller first; a rejected start rolls the deposit back.
func (s *Service) Start(ctx context.Context, caller auction.Identity, req StartRequest) (Result, error) {
	return s.run(ctx, "start", caller, func(v *custody.Vault, e *auction.Engine) (bool, error) {
		if err := v.ReceiveAsset(caller, req.Asset, req.Amount); err != nil {
			return false, fmt.Errorf("%w: %w", ErrPayment, err)
		}
		return e.Start(caller, req.Asset, req.Amount, req.MinPrice, req.Expiration)
	}, rollbackOnReject)
}

// Bid locks amount as the caller's bid. A rejected bid is committed: half is
// refunded and the rest is forfeited to escrow.
func (s *Service) Bid(ctx context.Context, caller auction.Identity, amount *uint256.Int) (Result, error) {
	res, err := s.run(ctx, "bid", caller, func(v *custody.Vault, e *auction.Engine) (bool, error) {
		if err := v.Receive(caller, amount); err != nil {
			return false, fmt.Errorf("%w: %w", ErrPayment, err)
		}
		return e.Bid(caller, amount)
	}, commitOnReject)
	if auction.IsRejection(err) && amount != nil && !amount.IsZero() {
		forfeit := auction.Forfeit(amount)
		res.Forfeited = forfeit.Dec()
		s.metrics.AddForfeit(forfeit)
	}
	return res, err
}

// Unbid withdraws the caller's bid.
func (s *Service) Unbid(ctx context.Context, caller auction.Identity) (Result, error) {
	return s.run(ctx, "unbid", caller, func(v *custody.Vault, e *auction.Engine) (bool, error) {
		return true, e.Unbid(caller)
	}, commitOnReject)
}

// Cancel closes the auction without a sale.
func (s *Service) Cancel(ctx context.Context, caller auction.Identity) (Result, error) {
	return s.run(ctx, "cancel", caller, func(v *custody.Vault, e *auction.Engine) (bool, error) {
		return e.Cancel(caller)
	}, rollbackOnReject)
}

// Accept settles the auction in favour of the highest bid.
func (s *Service) Accept(ctx context.Context, caller auction.Identity) (Result, error) {
	return s.run(ctx, "accept", caller, func(v *custody.Vault, e *auction.Engine) (bool, error) {
		return e.Accept(caller)
	}, rollbackOnReject)
}

type rejectPolicy bool

const (
	commitOnReject   rejectPolicy = false
	rollbackOnReject rejectPolicy = true
)

type opFunc func(v *custody.Vault, e *auction.Engine) (bool, error)

func (s *Service) run(ctx context.Context, op string, caller auction.Identity, fn opFunc, policy rejectPolicy) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	began := time.Now()
	var (
		res     Result
		opErr   error
		view    models.AuctionView
		price   *uint256.Int
		applied bool
	)
	err := s.store.InTx(ctx, func(tx db.Tx) error {
		ledger, err := tx.LoadLedger(ctx)
		if err != nil {
			return err
		}
		vault := custody.NewVault(ctx, tx, op)
		engine := auction.NewEngine(ledger, s.owner, s.clock, vault)
		engine.SetLogger(s.logger.With("op_id", vault.OpID().String()))

		ok, err := fn(vault, engine)
		res = Result{OK: ok, Round: roundOf(ledger), Transfers: vault.Transfers()}
		if err != nil && !auction.IsRejection(err) {
			return err
		}
		opErr = err
		if err != nil && policy == rollbackOnReject {
			return errRollback
		}
		if err := tx.SaveLedger(ctx, ledger); err != nil {
			return err
		}
		view = viewOf(ledger, s.clock.Now())
		price = ledger.Price()
		applied = true
		return nil
	})

	switch {
	case err == nil:
		err = opErr
	case errors.Is(err, errRollback):
		err = opErr
	default:
		// nothing was committed, including when the commit itself failed
		applied = false
		res = Result{}
	}
	if !applied {
		res.Transfers = nil
	}
	if err != nil {
		res.OK = false
		res.Reason = reasonOf(err)
	}

	s.observe(op, caller, res, err, time.Since(began))
	if applied {
		for _, tr := range res.Transfers {
			s.metrics.ObserveTransfer(tr.Kind)
		}
		s.metrics.SetAuction(view.Active, price, view.Bidders)
		s.enqueue(view)
	}
	return res, err
}

func (s *Service) observe(op string, caller auction.Identity, res Result, err error, elapsed time.Duration) {
	outcome := outcomeOf(err)
	s.metrics.ObserveOp(op, outcome, elapsed)

	attrs := []interface{}{"op", op, "caller", string(caller), "outcome", outcome, "transfers", len(res.Transfers)}
	switch outcome {
	case "ok", "rejected":
		if res.Reason != "" {
			attrs = append(attrs, "reason", res.Reason)
		}
		s.logger.Info("auction operation", attrs...)
	case "payment_failed":
		s.logger.Info("auction operation", append(attrs, "error", err)...)
	default:
		s.logger.Error("auction operation failed", append(attrs, "error", err)...)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case auction.IsRejection(err):
		return "rejected"
	case errors.Is(err, ErrPayment):
		return "payment_failed"
	case errors.Is(err, auction.ErrCustodyFault):
		return "custody_fault"
	default:
		return "error"
	}
}

func reasonOf(err error) string {
	var aerr *auction.Error
	if errors.As(err, &aerr) {
		return aerr.Err.Error()
	}
	return err.Error()
}

func roundOf(l *auction.Ledger) string {
	if l.Round() == uuid.Nil {
		return ""
	}
	return l.Round().String()
}

// Auction returns the current state.
func (s *Service) Auction(ctx context.Context) (models.AuctionView, error) {
	var view models.AuctionView
	err := s.store.InTx(ctx, func(tx db.Tx) error {
		l, err := tx.LoadLedger(ctx)
		if err != nil {
			return err
		}
		view = viewOf(l, s.clock.Now())
		return nil
	})
	return view, err
}

// Bids returns the registry with its 1-based slot numbers.
func (s *Service) Bids(ctx context.Context) ([]models.BidView, error) {
	var bids []models.BidView
	err := s.store.InTx(ctx, func(tx db.Tx) error {
		l, err := tx.LoadLedger(ctx)
		if err != nil {
			return err
		}
		bids = make([]models.BidView, 0, len(l.Bids()))
		for i, e := range l.Bids() {
			bids = append(bids, models.BidView{Slot: i + 1, Bidder: string(e.Bidder), Amount: e.Amount.Dec()})
		}
		return nil
	})
	return bids, err
}

// Account returns holder's balance and holdings.
func (s *Service) Account(ctx context.Context, holder string) (models.Account, error) {
	acct := models.Account{Holder: holder, Holdings: []models.Holding{}}
	err := s.store.InTx(ctx, func(tx db.Tx) error {
		bal, err := tx.Balance(ctx, holder)
		if err != nil {
			return err
		}
		acct.Balance = bal.Dec()
		holdings, err := tx.Holdings(ctx, holder)
		if err != nil {
			return err
		}
		if holdings != nil {
			acct.Holdings = holdings
		}
		return nil
	})
	return acct, err
}

// Transfers returns the custody journal entries involving holder.
func (s *Service) Transfers(ctx context.Context, holder string) ([]models.Transfer, error) {
	var transfers []models.Transfer
	err := s.store.InTx(ctx, func(tx db.Tx) error {
		var err error
		transfers, err = tx.Transfers(ctx, holder)
		return err
	})
	if transfers == nil {
		transfers = []models.Transfer{}
	}
	return transfers, err
}

func viewOf(l *auction.Ledger, now uint64) models.AuctionView {
	asset := l.Asset()
	view := models.AuctionView{
		Active:     l.Active(),
		Price:      l.Price().Dec(),
		MinPrice:   l.MinPrice().Dec(),
		Expiration: l.Expiration(),
		TokenID:    asset.TokenID,
		Nonce:      asset.Nonce,
		Bidders:    len(l.Bids()),
		Now:        now,
	}
	view.Round = roundOf(l)
	return view
}
