package db

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/auctionhouse/internal/auction"
	"github.com/xtrntr/auctionhouse/internal/models"
)

var nft = auction.Asset{TokenID: "NFT-abcdef", Nonce: 1}

// testStore exercises the Store contract against one backend. newStore must
// return an empty, migrated store.
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("LedgerRoundTrip", func(t *testing.T) { testLedgerRoundTrip(t, newStore(t)) })
	t.Run("Balances", func(t *testing.T) { testBalances(t, newStore(t)) })
	t.Run("Holdings", func(t *testing.T) { testHoldings(t, newStore(t)) })
	t.Run("FullRangeUnsigned", func(t *testing.T) { testFullRangeUnsigned(t, newStore(t)) })
	t.Run("Transfers", func(t *testing.T) { testTransfers(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, newStore(t)) })
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotZero(t, user.ID)

	_, err = s.CreateUser(ctx, "alice", "other")
	assert.Error(t, err, "duplicate username")

	got, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)

	_, err = s.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	// registration opens an empty account
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		ok, err := tx.AccountExists(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok)
		bal, err := tx.Balance(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, bal.IsZero())
		return nil
	}))
}

func testLedgerRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		l, err := tx.LoadLedger(ctx)
		require.NoError(t, err)
		assert.False(t, l.Active())
		assert.Empty(t, l.Bids())
		return nil
	}))

	big, _ := uint256.FromDecimal("340282366920938463463374607431768211456")
	want := auction.Restore(auction.Snapshot{
		Round:      uuid.New(),
		Asset:      nft,
		Price:      big,
		MinPrice:   uint256.NewInt(100),
		Expiration: 1000,
		Active:     true,
		Bids: []auction.Entry{
			{Bidder: "alice", Amount: big},
			{Bidder: "bob", Amount: uint256.NewInt(0)},
			{Bidder: "carol", Amount: uint256.NewInt(150)},
		},
	})
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.SaveLedger(ctx, want) }))

	var got *auction.Ledger
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		var err error
		got, err = tx.LoadLedger(ctx)
		return err
	}))
	assert.Equal(t, want.Snapshot(), got.Snapshot())

	// shrinking the registry drops stale slots
	snap := want.Snapshot()
	snap.Bids = snap.Bids[:1]
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.SaveLedger(ctx, auction.Restore(snap)) }))
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		var err error
		got, err = tx.LoadLedger(ctx)
		return err
	}))
	require.Len(t, got.Bids(), 1)
	assert.Equal(t, auction.Identity("alice"), got.Bids()[0].Bidder)
}

func testBalances(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		_, err := tx.Balance(ctx, "ghost")
		assert.ErrorIs(t, err, ErrAccountNotFound)
		ok, err := tx.AccountExists(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = tx.AccountExists(ctx, models.EscrowAccount)
		require.NoError(t, err)
		assert.True(t, ok, "escrow account exists after migration")

		require.NoError(t, tx.SetBalance(ctx, "ghost", uint256.NewInt(42)))
		require.NoError(t, tx.SetBalance(ctx, "ghost", uint256.NewInt(7)))
		bal, err := tx.Balance(ctx, "ghost")
		require.NoError(t, err)
		assert.Equal(t, uint64(7), bal.Uint64())
		return nil
	}))
}

func testHoldings(t *testing.T, s Store) {
	ctx := context.Background()
	other := auction.Asset{TokenID: "NFT-abcdef", Nonce: 2}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		n, err := tx.Holding(ctx, "alice", nft)
		require.NoError(t, err)
		assert.Zero(t, n)

		require.NoError(t, tx.SetHolding(ctx, "alice", other, 1))
		require.NoError(t, tx.SetHolding(ctx, "alice", nft, 3))
		require.NoError(t, tx.SetHolding(ctx, "alice", nft, 1))

		hs, err := tx.Holdings(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []models.Holding{
			{Holder: "alice", TokenID: "NFT-abcdef", Nonce: 1, Quantity: 1},
			{Holder: "alice", TokenID: "NFT-abcdef", Nonce: 2, Quantity: 1},
		}, hs)

		require.NoError(t, tx.SetHolding(ctx, "alice", nft, 0))
		n, err = tx.Holding(ctx, "alice", nft)
		require.NoError(t, err)
		assert.Zero(t, n)
		hs, err = tx.Holdings(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, hs, 1)
		return nil
	}))
}

// Nonces and expirations use the whole uint64 range, including values with
// the high bit set.
func testFullRangeUnsigned(t *testing.T, s Store) {
	ctx := context.Background()
	asset := auction.Asset{TokenID: "NFT-ffffff", Nonce: math.MaxUint64}

	want := auction.Restore(auction.Snapshot{
		Round:      uuid.New(),
		Asset:      asset,
		Price:      uint256.NewInt(0),
		MinPrice:   uint256.NewInt(0),
		Expiration: math.MaxUint64,
		Active:     true,
	})
	transfer := models.Transfer{ID: uuid.New(), OpID: uuid.New(), Op: "start", Kind: models.TransferReceive,
		From: "alice", To: models.EscrowAccount, TokenID: asset.TokenID, Nonce: asset.Nonce, Amount: "1"}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.SaveLedger(ctx, want))
		require.NoError(t, tx.SetHolding(ctx, "alice", asset, 1))
		return tx.RecordTransfer(ctx, &transfer)
	}))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		got, err := tx.LoadLedger(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.Snapshot(), got.Snapshot())
		assert.Equal(t, uint64(math.MaxUint64), got.Expiration())

		n, err := tx.Holding(ctx, "alice", asset)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
		hs, err := tx.Holdings(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, hs, 1)
		assert.Equal(t, asset.Nonce, hs[0].Nonce)

		ts, err := tx.Transfers(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, ts, 1)
		assert.Equal(t, asset.Nonce, ts[0].Nonce)

		require.NoError(t, tx.SetHolding(ctx, "alice", asset, 0))
		n, err = tx.Holding(ctx, "alice", asset)
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	}))
}

func testTransfers(t *testing.T, s Store) {
	ctx := context.Background()
	op := uuid.New()
	in := []models.Transfer{
		{ID: uuid.New(), OpID: op, Op: "bid", Kind: models.TransferReceive, From: "alice", To: models.EscrowAccount, Amount: "150"},
		{ID: uuid.New(), OpID: op, Op: "bid", Kind: models.TransferSend, From: models.EscrowAccount, To: "alice", Amount: "75"},
		{ID: uuid.New(), OpID: op, Op: "accept", Kind: models.TransferSend, From: models.EscrowAccount, To: "bob",
			TokenID: nft.TokenID, Nonce: nft.Nonce, Amount: "1"},
	}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		for i := range in {
			require.NoError(t, tx.RecordTransfer(ctx, &in[i]))
			assert.False(t, in[i].CreatedAt.IsZero())
		}
		return nil
	}))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		got, err := tx.Transfers(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, in[0].ID, got[0].ID, "journal order is insertion order")
		assert.Equal(t, in[1].ID, got[1].ID)
		assert.Equal(t, op, got[1].OpID)
		assert.False(t, got[0].IsAsset())

		got, err = tx.Transfers(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].IsAsset())
		assert.Equal(t, nft.Nonce, got[0].Nonce)

		got, err = tx.Transfers(ctx, models.EscrowAccount)
		require.NoError(t, err)
		assert.Len(t, got, 3)
		return nil
	}))
}

func testRollback(t *testing.T, s Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.SetBalance(ctx, "alice", uint256.NewInt(500)))
		require.NoError(t, tx.SetHolding(ctx, "alice", nft, 1))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		ok, err := tx.AccountExists(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, ok, "balance write rolled back")
		n, err := tx.Holding(ctx, "alice", nft)
		require.NoError(t, err)
		assert.Zero(t, n, "holding write rolled back")
		return nil
	}))
}

// testConcurrent increments one balance from many goroutines. Each
// transaction takes the ledger lock first, so no increment is lost.
func testConcurrent(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		return tx.SetBalance(ctx, "alice", uint256.NewInt(0))
	}))

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.InTx(ctx, func(tx Tx) error {
				if _, err := tx.LoadLedger(ctx); err != nil {
					return err
				}
				bal, err := tx.Balance(ctx, "alice")
				if err != nil {
					return err
				}
				return tx.SetBalance(ctx, "alice", new(uint256.Int).AddUint64(bal, 1))
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		bal, err := tx.Balance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, uint64(n), bal.Uint64())
		return nil
	}))
}
