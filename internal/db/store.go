package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/xtrntr/auctionhouse/internal/auction"
	"github.com/xtrntr/auctionhouse/internal/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrUserNotFound    = errors.New("user not found")
)

// Store is the persistence backend. All auction and custody state is read and
// written through a Tx so one operation commits or rolls back as a unit.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	Close(ctx context.Context) error
}

// Tx is the transactional view of the store.
type Tx interface {
	// LoadLedger returns the single auction ledger, locking it for the
	// remainder of the transaction where the backend supports it.
	LoadLedger(ctx context.Context) (*auction.Ledger, error)
	SaveLedger(ctx context.Context, l *auction.Ledger) error

	AccountExists(ctx context.Context, holder string) (bool, error)
	Balance(ctx context.Context, holder string) (*uint256.Int, error)
	SetBalance(ctx context.Context, holder string, amount *uint256.Int) error

	Holding(ctx context.Context, holder string, asset auction.Asset) (uint64, error)
	SetHolding(ctx context.Context, holder string, asset auction.Asset, quantity uint64) error
	Holdings(ctx context.Context, holder string) ([]models.Holding, error)

	RecordTransfer(ctx context.Context, t *models.Transfer) error
	Transfers(ctx context.Context, holder string) ([]models.Transfer, error)
}

// Open returns the backend named by driver.
func Open(ctx context.Context, driver, url string) (Store, error) {
	switch driver {
	case "postgres":
		db, err := NewDB(ctx, url)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close(ctx)
			return nil, err
		}
		return db, nil
	case "sqlite":
		return NewSQLite(url)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", s, err)
	}
	return v, nil
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
