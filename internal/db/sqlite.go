package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/xtrntr/auctionhouse/internal/auction"
	"github.com/xtrntr/auctionhouse/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type userRecord struct {
	ID           int    `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

func (userRecord) TableName() string { return "users" }

type balanceRecord struct {
	Holder string `gorm:"primaryKey"`
	Amount string `gorm:"not null"`
}

func (balanceRecord) TableName() string { return "balances" }

// Unsigned columns are stored as int64 bit patterns: database/sql refuses
// uint64 values with the high bit set.
type holdingRecord struct {
	Holder   string `gorm:"primaryKey"`
	TokenID  string `gorm:"primaryKey"`
	Nonce    int64  `gorm:"primaryKey;autoIncrement:false"`
	Quantity int64  `gorm:"not null"`
}

func (holdingRecord) TableName() string { return "holdings" }

type auctionRecord struct {
	ID         int `gorm:"primaryKey;autoIncrement:false"`
	Round      string
	TokenID    string
	Nonce      int64
	Price      string
	MinPrice   string
	Expiration int64
	Active     bool
}

func (auctionRecord) TableName() string { return "auction_state" }

type bidRecord struct {
	Slot   int    `gorm:"primaryKey;autoIncrement:false"`
	Bidder string `gorm:"uniqueIndex;not null"`
	Amount string `gorm:"not null"`
}

func (bidRecord) TableName() string { return "bids" }

type transferRecord struct {
	Seq       int64  `gorm:"primaryKey;autoIncrement"`
	ID        string `gorm:"uniqueIndex;not null"`
	OpID      string `gorm:"index;not null"`
	Op        string
	Kind      string
	Sender    string `gorm:"index"`
	Recipient string `gorm:"index"`
	TokenID   string
	Nonce     int64
	Amount    string
	CreatedAt time.Time
}

func (transferRecord) TableName() string { return "transfers" }

// SQLite is the embedded single-file backend, used for local runs and tests.
type SQLite struct {
	db *gorm.DB
}

// NewSQLite opens (or creates) the database at path and migrates it.
func NewSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		// log.Default is bridged onto the service's slog handler
		Logger: logger.New(log.Default(), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection keeps transactions serialised; SQLite has a single writer anyway.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userRecord{}, &balanceRecord{}, &holdingRecord{},
		&auctionRecord{}, &bidRecord{}, &transferRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&auctionRecord{ID: 1, Price: "0", MinPrice: "0"}).Error; err != nil {
		return nil, fmt.Errorf("failed to seed auction row: %w", err)
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&balanceRecord{Holder: models.EscrowAccount, Amount: "0"}).Error; err != nil {
		return nil, fmt.Errorf("failed to seed escrow account: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database handle
func (s *SQLite) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a new user together with an empty balance
func (s *SQLite) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	rec := userRecord{Username: username, PasswordHash: passwordHash}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&balanceRecord{Holder: username, Amount: "0"}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return rec.toModel(), nil
}

// GetUserByUsername retrieves a user by username
func (s *SQLite) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var rec userRecord
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return rec.toModel(), nil
}

// InTx runs fn inside a transaction, committing when fn returns nil
func (s *SQLite) InTx(ctx context.Context, fn func(Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sqliteTx{db: tx})
	})
}

func (r userRecord) toModel() *models.User {
	return &models.User{ID: r.ID, Username: r.Username, PasswordHash: r.PasswordHash, CreatedAt: r.CreatedAt}
}

type sqliteTx struct {
	db *gorm.DB
}

func (t *sqliteTx) LoadLedger(ctx context.Context) (*auction.Ledger, error) {
	var rec auctionRecord
	if err := t.db.WithContext(ctx).First(&rec, 1).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return auction.NewLedger(), nil
		}
		return nil, fmt.Errorf("failed to load auction: %w", err)
	}

	snap := auction.Snapshot{
		Asset:      auction.Asset{TokenID: rec.TokenID, Nonce: uint64(rec.Nonce)},
		Expiration: uint64(rec.Expiration),
		Active:     rec.Active,
	}
	var err error
	if rec.Round != "" {
		if snap.Round, err = uuid.Parse(rec.Round); err != nil {
			return nil, fmt.Errorf("invalid auction round %q: %w", rec.Round, err)
		}
	}
	if snap.Price, err = parseAmount(rec.Price); err != nil {
		return nil, err
	}
	if snap.MinPrice, err = parseAmount(rec.MinPrice); err != nil {
		return nil, err
	}

	var bids []bidRecord
	if err := t.db.WithContext(ctx).Order("slot ASC").Find(&bids).Error; err != nil {
		return nil, fmt.Errorf("failed to load bids: %w", err)
	}
	for _, b := range bids {
		v, err := parseAmount(b.Amount)
		if err != nil {
			return nil, err
		}
		snap.Bids = append(snap.Bids, auction.Entry{Bidder: auction.Identity(b.Bidder), Amount: v})
	}
	return auction.Restore(snap), nil
}

func (t *sqliteTx) SaveLedger(ctx context.Context, l *auction.Ledger) error {
	snap := l.Snapshot()
	rec := auctionRecord{
		ID:         1,
		TokenID:    snap.Asset.TokenID,
		Nonce:      int64(snap.Asset.Nonce),
		Price:      formatAmount(snap.Price),
		MinPrice:   formatAmount(snap.MinPrice),
		Expiration: int64(snap.Expiration),
		Active:     snap.Active,
	}
	if snap.Round != uuid.Nil {
		rec.Round = snap.Round.String()
	}
	db := t.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save auction: %w", err)
	}

	if err := db.Exec("DELETE FROM bids").Error; err != nil {
		return fmt.Errorf("failed to clear bids: %w", err)
	}
	if len(snap.Bids) == 0 {
		return nil
	}
	bids := make([]bidRecord, len(snap.Bids))
	for i, e := range snap.Bids {
		bids[i] = bidRecord{Slot: i + 1, Bidder: string(e.Bidder), Amount: formatAmount(e.Amount)}
	}
	if err := db.Create(&bids).Error; err != nil {
		return fmt.Errorf("failed to save bids: %w", err)
	}
	return nil
}

func (t *sqliteTx) AccountExists(ctx context.Context, holder string) (bool, error) {
	var n int64
	if err := t.db.WithContext(ctx).Model(&balanceRecord{}).Where("holder = ?", holder).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check account existence: %w", err)
	}
	return n > 0, nil
}

func (t *sqliteTx) Balance(ctx context.Context, holder string) (*uint256.Int, error) {
	var rec balanceRecord
	if err := t.db.WithContext(ctx).Where("holder = ?", holder).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return parseAmount(rec.Amount)
}

func (t *sqliteTx) SetBalance(ctx context.Context, holder string, amount *uint256.Int) error {
	rec := balanceRecord{Holder: holder, Amount: formatAmount(amount)}
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "holder"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return nil
}

func (t *sqliteTx) Holding(ctx context.Context, holder string, asset auction.Asset) (uint64, error) {
	var rec holdingRecord
	err := t.db.WithContext(ctx).
		Where("holder = ? AND token_id = ? AND nonce = ?", holder, asset.TokenID, int64(asset.Nonce)).
		Limit(1).Find(&rec).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get holding: %w", err)
	}
	return uint64(rec.Quantity), nil
}

func (t *sqliteTx) SetHolding(ctx context.Context, holder string, asset auction.Asset, quantity uint64) error {
	db := t.db.WithContext(ctx)
	var err error
	if quantity == 0 {
		err = db.Where("holder = ? AND token_id = ? AND nonce = ?", holder, asset.TokenID, int64(asset.Nonce)).
			Delete(&holdingRecord{}).Error
	} else {
		err = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "holder"}, {Name: "token_id"}, {Name: "nonce"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity"}),
		}).Create(&holdingRecord{Holder: holder, TokenID: asset.TokenID, Nonce: int64(asset.Nonce), Quantity: int64(quantity)}).Error
	}
	if err != nil {
		return fmt.Errorf("failed to set holding: %w", err)
	}
	return nil
}

func (t *sqliteTx) Holdings(ctx context.Context, holder string) ([]models.Holding, error) {
	var recs []holdingRecord
	err := t.db.WithContext(ctx).Where("holder = ?", holder).Order("token_id ASC, nonce ASC").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	var holdings []models.Holding
	for _, r := range recs {
		holdings = append(holdings, models.Holding{Holder: r.Holder, TokenID: r.TokenID, Nonce: uint64(r.Nonce), Quantity: uint64(r.Quantity)})
	}
	return holdings, nil
}

func (t *sqliteTx) RecordTransfer(ctx context.Context, tr *models.Transfer) error {
	rec := transferRecord{
		ID:        tr.ID.String(),
		OpID:      tr.OpID.String(),
		Op:        tr.Op,
		Kind:      tr.Kind,
		Sender:    tr.From,
		Recipient: tr.To,
		TokenID:   tr.TokenID,
		Nonce:     int64(tr.Nonce),
		Amount:    tr.Amount,
	}
	if err := t.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	tr.CreatedAt = rec.CreatedAt
	return nil
}

func (t *sqliteTx) Transfers(ctx context.Context, holder string) ([]models.Transfer, error) {
	var recs []transferRecord
	err := t.db.WithContext(ctx).
		Where("sender = ? OR recipient = ?", holder, holder).
		Order("seq ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get transfers: %w", err)
	}
	transfers := make([]models.Transfer, 0, len(recs))
	for _, r := range recs {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, err
		}
		opID, err := uuid.Parse(r.OpID)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, models.Transfer{
			ID:        id,
			OpID:      opID,
			Op:        r.Op,
			Kind:      r.Kind,
			From:      r.Sender,
			To:        r.Recipient,
			TokenID:   r.TokenID,
			Nonce:     uint64(r.Nonce),
			Amount:    r.Amount,
			CreatedAt: r.CreatedAt,
		})
	}
	return transfers, nil
}
