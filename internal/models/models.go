package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowAccount is the holder name of the custody vault. It cannot be registered.
const EscrowAccount = "escrow"

// Transfer kinds
const (
	TransferReceive = "receive" // into escrow, before the operation runs
	TransferSend    = "send"    // out of escrow, issued by the operation
)

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Holding is a quantity of one asset held by an account
type Holding struct {
	Holder   string `json:"holder"`
	TokenID  string `json:"token_id"`
	Nonce    uint64 `json:"nonce"`
	Quantity uint64 `json:"quantity"`
}

// Account is the balance view of one holder
type Account struct {
	Holder   string    `json:"holder"`
	Balance  string    `json:"balance"`
	Holdings []Holding `json:"holdings"`
}

// Transfer is one journalled custody movement. Fund transfers leave TokenID
// empty; asset transfers carry the unit count in Amount.
type Transfer struct {
	ID        uuid.UUID `json:"id"`
	OpID      uuid.UUID `json:"op_id"`
	Op        string    `json:"op"`
	Kind      string    `json:"kind"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	TokenID   string    `json:"token_id,omitempty"`
	Nonce     uint64    `json:"nonce,omitempty"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAsset reports whether the transfer moved an asset rather than funds.
func (t Transfer) IsAsset() bool { return t.TokenID != "" }

// AuctionView is the read-only state of the auction
type AuctionView struct {
	Round      string `json:"round"`
	Active     bool   `json:"active"`
	Price      string `json:"price"`
	MinPrice   string `json:"min_price"`
	Expiration uint64 `json:"expiration"`
	TokenID    string `json:"token_id"`
	Nonce      uint64 `json:"nonce"`
	Bidders    int    `json:"bidders"`
	Now        uint64 `json:"now"`
}

// BidView is one registry slot
type BidView struct {
	Slot   int    `json:"slot"`
	Bidder string `json:"bidder"`
	Amount string `json:"amount"`
}
