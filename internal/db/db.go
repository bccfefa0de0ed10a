package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/xtrntr/auctionhouse/internal/auction"
	"github.com/xtrntr/auctionhouse/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/001_init.sql
var schema string

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Migrate applies the schema. It is safe to run repeatedly.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user together with an empty balance
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	user := &models.User{}
	err = tx.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO balances (holder, amount) VALUES ($1, 0) ON CONFLICT (holder) DO NOTHING", username); err != nil {
		return nil, fmt.Errorf("failed to create balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// InTx runs fn inside a transaction, committing when fn returns nil
func (db *DB) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

// LoadLedger locks the auction row for update to serialise operations
// across server processes.
func (t *pgTx) LoadLedger(ctx context.Context) (*auction.Ledger, error) {
	var (
		round, tokenID, price, minPrice string
		nonce, expiration               int64
		active                          bool
	)
	err := t.tx.QueryRow(ctx, `
		SELECT round, token_id, nonce, price::text, min_price::text, expiration, active
		FROM auction_state
		WHERE id = 1
		FOR UPDATE
	`).Scan(&round, &tokenID, &nonce, &price, &minPrice, &expiration, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auction.NewLedger(), nil
		}
		return nil, fmt.Errorf("failed to load auction: %w", err)
	}

	snap := auction.Snapshot{
		Asset:      auction.Asset{TokenID: tokenID, Nonce: uint64(nonce)},
		Expiration: uint64(expiration),
		Active:     active,
	}
	if round != "" {
		if snap.Round, err = uuid.Parse(round); err != nil {
			return nil, fmt.Errorf("invalid auction round %q: %w", round, err)
		}
	}
	if snap.Price, err = parseAmount(price); err != nil {
		return nil, err
	}
	if snap.MinPrice, err = parseAmount(minPrice); err != nil {
		return nil, err
	}

	rows, err := t.tx.Query(ctx, "SELECT bidder, amount::text FROM bids ORDER BY slot ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to load bids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bidder, amount string
		if err := rows.Scan(&bidder, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		v, err := parseAmount(amount)
		if err != nil {
			return nil, err
		}
		snap.Bids = append(snap.Bids, auction.Entry{Bidder: auction.Identity(bidder), Amount: v})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return auction.Restore(snap), nil
}

// SaveLedger rewrites the auction row and the registry
func (t *pgTx) SaveLedger(ctx context.Context, l *auction.Ledger) error {
	snap := l.Snapshot()
	round := ""
	if snap.Round != uuid.Nil {
		round = snap.Round.String()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO auction_state (id, round, token_id, nonce, price, min_price, expiration, active)
		VALUES (1, $1, $2, $3, $4::text::numeric, $5::text::numeric, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			round = EXCLUDED.round,
			token_id = EXCLUDED.token_id,
			nonce = EXCLUDED.nonce,
			price = EXCLUDED.price,
			min_price = EXCLUDED.min_price,
			expiration = EXCLUDED.expiration,
			active = EXCLUDED.active
	`, round, snap.Asset.TokenID, int64(snap.Asset.Nonce), formatAmount(snap.Price),
		formatAmount(snap.MinPrice), int64(snap.Expiration), snap.Active)
	if err != nil {
		return fmt.Errorf("failed to save auction: %w", err)
	}

	if _, err := t.tx.Exec(ctx, "DELETE FROM bids"); err != nil {
		return fmt.Errorf("failed to clear bids: %w", err)
	}
	for i, e := range snap.Bids {
		_, err := t.tx.Exec(ctx,
			"INSERT INTO bids (slot, bidder, amount) VALUES ($1, $2, $3::text::numeric)",
			i+1, string(e.Bidder), formatAmount(e.Amount))
		if err != nil {
			return fmt.Errorf("failed to save bid slot %d: %w", i+1, err)
		}
	}
	return nil
}

// AccountExists reports whether holder has a balance row
func (t *pgTx) AccountExists(ctx context.Context, holder string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM balances WHERE holder = $1)", holder).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account existence: %w", err)
	}
	return exists, nil
}

// Balance returns the locked-for-update balance of holder
func (t *pgTx) Balance(ctx context.Context, holder string) (*uint256.Int, error) {
	var amount string
	err := t.tx.QueryRow(ctx,
		"SELECT amount::text FROM balances WHERE holder = $1 FOR UPDATE", holder).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return parseAmount(amount)
}

// SetBalance stores holder's balance, creating the account if needed
func (t *pgTx) SetBalance(ctx context.Context, holder string, amount *uint256.Int) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO balances (holder, amount) VALUES ($1, $2::text::numeric)
		ON CONFLICT (holder) DO UPDATE SET amount = EXCLUDED.amount
	`, holder, formatAmount(amount))
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return nil
}

// Holding returns how many units of asset holder has
func (t *pgTx) Holding(ctx context.Context, holder string, asset auction.Asset) (uint64, error) {
	var qty int64
	err := t.tx.QueryRow(ctx,
		"SELECT quantity FROM holdings WHERE holder = $1 AND token_id = $2 AND nonce = $3 FOR UPDATE",
		holder, asset.TokenID, int64(asset.Nonce)).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get holding: %w", err)
	}
	return uint64(qty), nil
}

// SetHolding stores the quantity of asset held by holder; zero removes the row
func (t *pgTx) SetHolding(ctx context.Context, holder string, asset auction.Asset, quantity uint64) error {
	var err error
	if quantity == 0 {
		_, err = t.tx.Exec(ctx,
			"DELETE FROM holdings WHERE holder = $1 AND token_id = $2 AND nonce = $3",
			holder, asset.TokenID, int64(asset.Nonce))
	} else {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO holdings (holder, token_id, nonce, quantity) VALUES ($1, $2, $3, $4)
			ON CONFLICT (holder, token_id, nonce) DO UPDATE SET quantity = EXCLUDED.quantity
		`, holder, asset.TokenID, int64(asset.Nonce), int64(quantity))
	}
	if err != nil {
		return fmt.Errorf("failed to set holding: %w", err)
	}
	return nil
}

// Holdings lists every asset held by holder
func (t *pgTx) Holdings(ctx context.Context, holder string) ([]models.Holding, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT holder, token_id, nonce, quantity
		FROM holdings
		WHERE holder = $1
		ORDER BY token_id ASC, nonce ASC
	`, holder)
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		var nonce, qty int64
		if err := rows.Scan(&h.Holder, &h.TokenID, &nonce, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		h.Nonce, h.Quantity = uint64(nonce), uint64(qty)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// RecordTransfer appends a custody movement to the journal
func (t *pgTx) RecordTransfer(ctx context.Context, tr *models.Transfer) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transfers (id, op_id, op, kind, sender, recipient, token_id, nonce, amount)
		VALUES ($1::text::uuid, $2::text::uuid, $3, $4, $5, $6, $7, $8, $9::text::numeric)
		RETURNING created_at
	`, tr.ID.String(), tr.OpID.String(), tr.Op, tr.Kind, tr.From, tr.To, tr.TokenID,
		int64(tr.Nonce), tr.Amount).Scan(&tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}

// Transfers lists the journal entries that involve holder
func (t *pgTx) Transfers(ctx context.Context, holder string) ([]models.Transfer, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id::text, op_id::text, op, kind, sender, recipient, token_id, nonce, amount::text, created_at
		FROM transfers
		WHERE sender = $1 OR recipient = $1
		ORDER BY seq ASC
	`, holder)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfers: %w", err)
	}
	defer rows.Close()

	var transfers []models.Transfer
	for rows.Next() {
		var (
			tr       models.Transfer
			id, opID string
			nonce    int64
		)
		if err := rows.Scan(&id, &opID, &tr.Op, &tr.Kind, &tr.From, &tr.To, &tr.TokenID, &nonce, &tr.Amount, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		if tr.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if tr.OpID, err = uuid.Parse(opID); err != nil {
			return nil, err
		}
		tr.Nonce = uint64(nonce)
		transfers = append(transfers, tr)
	}
	return transfers, rows.Err()
}
