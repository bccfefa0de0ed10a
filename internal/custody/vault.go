// Package custody moves funds and assets between accounts and the escrow
// account inside a single store transaction, journalling every movement.
package custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/xtrntr/auctionhouse/internal/auction"
	"github.com/xtrntr/auctionhouse/internal/db"
	"github.com/xtrntr/auctionhouse/internal/models"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAssetNotHeld      = errors.New("asset not held")
	ErrUnknownAccount    = errors.New("unknown account")
	ErrEscrowShortfall   = errors.New("escrow shortfall")
)

// Vault is the custody service for one operation. It is not safe for
// concurrent use and must not outlive the transaction it was built on.
type Vault struct {
	ctx       context.Context
	tx        db.Tx
	op        string
	opID      uuid.UUID
	transfers []models.Transfer
}

var _ auction.Custody = (*Vault)(nil)

// NewVault returns a vault whose movements are tagged with op and a fresh
// operation id.
func NewVault(ctx context.Context, tx db.Tx, op string) *Vault {
	return &Vault{ctx: ctx, tx: tx, op: op, opID: uuid.New()}
}

// OpID groups the journal entries written by this vault.
func (v *Vault) OpID() uuid.UUID { return v.opID }

// Transfers returns the movements made so far, in order.
func (v *Vault) Transfers() []models.Transfer {
	out := make([]models.Transfer, len(v.transfers))
	copy(out, v.transfers)
	return out
}

// Receive moves amount from the caller into escrow. It runs before the
// auction entry point, the way a payable call carries its attached value.
func (v *Vault) Receive(from auction.Identity, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	bal, err := v.balance(string(from))
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from, bal.Dec(), amount.Dec())
	}
	if err := v.move(string(from), models.EscrowAccount, bal, amount); err != nil {
		return err
	}
	return v.record(models.TransferReceive, string(from), models.EscrowAccount, "", 0, amount.Dec())
}

// ReceiveAsset moves qty units of asset from the caller into escrow.
func (v *Vault) ReceiveAsset(from auction.Identity, asset auction.Asset, qty uint64) error {
	if qty == 0 {
		return nil
	}
	if err := v.moveAsset(string(from), models.EscrowAccount, asset, qty, ErrAssetNotHeld); err != nil {
		return err
	}
	return v.record(models.TransferReceive, string(from), models.EscrowAccount, asset.TokenID, asset.Nonce, fmt.Sprint(qty))
}

// SendFunds pays amount out of escrow.
func (v *Vault) SendFunds(to auction.Identity, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := v.requireAccount(string(to)); err != nil {
		return err
	}
	escrow, err := v.balance(models.EscrowAccount)
	if err != nil {
		return err
	}
	if escrow.Lt(amount) {
		return fmt.Errorf("%w: holds %s, owes %s", ErrEscrowShortfall, escrow.Dec(), amount.Dec())
	}
	if err := v.move(models.EscrowAccount, string(to), escrow, amount); err != nil {
		return err
	}
	return v.record(models.TransferSend, models.EscrowAccount, string(to), "", 0, amount.Dec())
}

// SendAsset delivers one unit of asset out of escrow.
func (v *Vault) SendAsset(to auction.Identity, asset auction.Asset) error {
	if err := v.requireAccount(string(to)); err != nil {
		return err
	}
	if err := v.moveAsset(models.EscrowAccount, string(to), asset, 1, ErrEscrowShortfall); err != nil {
		return err
	}
	return v.record(models.TransferSend, models.EscrowAccount, string(to), asset.TokenID, asset.Nonce, "1")
}

func (v *Vault) balance(holder string) (*uint256.Int, error) {
	bal, err := v.tx.Balance(v.ctx, holder)
	if errors.Is(err, db.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, holder)
	}
	return bal, err
}

func (v *Vault) requireAccount(holder string) error {
	ok, err := v.tx.AccountExists(v.ctx, holder)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, holder)
	}
	return nil
}

// move debits from (whose current balance is fromBal) and credits to. A move
// onto the same holder leaves the balance as it is.
func (v *Vault) move(from, to string, fromBal, amount *uint256.Int) error {
	if from == to {
		return nil
	}
	toBal, err := v.balance(to)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return fmt.Errorf("balance overflow crediting %s", to)
	}
	if err := v.tx.SetBalance(v.ctx, from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return v.tx.SetBalance(v.ctx, to, sum)
}

func (v *Vault) moveAsset(from, to string, asset auction.Asset, qty uint64, short error) error {
	have, err := v.tx.Holding(v.ctx, from, asset)
	if err != nil {
		return err
	}
	if have < qty {
		return fmt.Errorf("%w: %s holds %d of %s", short, from, have, asset)
	}
	if from == to {
		return nil
	}
	dst, err := v.tx.Holding(v.ctx, to, asset)
	if err != nil {
		return err
	}
	if err := v.tx.SetHolding(v.ctx, from, asset, have-qty); err != nil {
		return err
	}
	return v.tx.SetHolding(v.ctx, to, asset, dst+qty)
}

func (v *Vault) record(kind, from, to, tokenID string, nonce uint64, amount string) error {
	tr := models.Transfer{
		ID:      uuid.New(),
		OpID:    v.opID,
		Op:      v.op,
		Kind:    kind,
		From:    from,
		To:      to,
		TokenID: tokenID,
		Nonce:   nonce,
		Amount:  amount,
	}
	if err := v.tx.RecordTransfer(v.ctx, &tr); err != nil {
		return err
	}
	v.transfers = append(v.transfers, tr)
	return nil
}
