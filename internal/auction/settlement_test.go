package auction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bidReq struct {
	who    Identity
	amount uint64
}

func bidAll(t *testing.T, e *Engine, bids ...bidReq) {
	t.Helper()
	for _, b := range bids {
		ok, err := e.Bid(b.who, amt(b.amount))
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestEngine_Cancel(t *testing.T) {
	e, custody, _ := newTestEngine(500)
	startAuction(e)
	bidAll(t, e, bidReq{alice, 150}, bidReq{bob, 300})
	custody.reset()

	ok, err := e.Cancel(owner)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, e.Status())
	assert.Equal(t, []sent{
		{To: alice, Amount: 150},
		{To: bob, Amount: 300},
		{To: owner, Asset: &testAsset},
	}, custody.sent)

	bids := e.Ledger().Bids()
	require.Len(t, bids, 2, "cancel zeroes slots but keeps them")
	for _, b := range bids {
		assert.True(t, b.Amount.IsZero())
	}
	assert.Equal(t, uint64(100), e.TopBid().Uint64())
}

func TestEngine_CancelWithoutBids(t *testing.T) {
	e, custody, _ := newTestEngine(500)
	startAuction(e)

	ok, err := e.Cancel(owner)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []sent{{To: owner, Asset: &testAsset}}, custody.sent)
}

func TestEngine_CancelRejections(t *testing.T) {
	tests := []struct {
		name    string
		start   bool
		caller  Identity
		wantErr error
	}{
		{name: "NotOwner", start: true, caller: alice, wantErr: ErrNotOwner},
		{name: "Inactive", caller: owner, wantErr: ErrInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, custody, _ := newTestEngine(500)
			if tt.start {
				startAuction(e)
				bidAll(t, e, bidReq{alice, 150})
			}
			before := e.Ledger().Snapshot()

			ok, err := e.Cancel(tt.caller)

			assert.False(t, ok)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, custody.sent)
			assert.Equal(t, before, e.Ledger().Snapshot())
		})
	}
}

// Scenario D: accept before expiration fails and leaves both bids active.
func TestEngine_AcceptBeforeExpirationScenarioD(t *testing.T) {
	e, custody, _ := newTestEngine(500)
	startAuction(e)
	bidAll(t, e, bidReq{alice, 150}, bidReq{bob, 300})
	before := e.Ledger().Snapshot()

	ok, err := e.Accept(owner)

	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotExpired)
	assert.Equal(t, before, e.Ledger().Snapshot())
	assert.Empty(t, custody.sent)
	assert.True(t, e.Status())
}

func TestEngine_AcceptAtExactExpiration(t *testing.T) {
	e, _, clock := newTestEngine(500)
	startAuction(e)
	bidAll(t, e, bidReq{alice, 150})
	clock.now = 1000

	ok, err := e.Accept(owner)

	assert.False(t, ok, "expiration must be strictly before now")
	assert.ErrorIs(t, err, ErrNotExpired)
}

// Scenario E: accept after expiration settles the sale.
func TestEngine_AcceptScenarioE(t *testing.T) {
	e, custody, clock := newTestEngine(500)
	startAuction(e)
	bidAll(t, e, bidReq{alice, 150}, bidReq{bob, 300})
	custody.reset()
	clock.now = 1001

	ok, err := e.Accept(owner)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []sent{
		{To: alice, Amount: 150},
		{To: bob, Asset: &testAsset},
		{To: owner, Amount: 300},
	}, custody.sent)
	assert.False(t, e.Status())
	assert.Empty(t, e.Ledger().Bids(), "accept clears the registry")
}

// Scenario F: a sole bid below the reserve cannot be accepted.
func TestEngine_AcceptBelowReserveScenarioF(t *testing.T) {
	e, custody, clock := newTestEngine(500)
	ok, err := e.Start(owner, testAsset, 1, amt(0), 1000)
	require.NoError(t, err)
	require.True(t, ok)
	bidAll(t, e, bidReq{alice, 50})
	// Raise the reserve after the bid, as a restored ledger may carry it.
	snap := e.Ledger().Snapshot()
	snap.MinPrice = amt(100)
	e = NewEngine(Restore(snap), owner, clock, custody)
	clock.now = 2000

	ok, err = e.Accept(owner)

	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrReserveNotMet)
	assert.Equal(t, KindValue, KindOf(err))
	assert.True(t, e.Status(), "auction stays active and biddable")
	bids := e.Ledger().Bids()
	require.Len(t, bids, 1)
	assert.Equal(t, uint64(50), bids[0].Amount.Uint64())
	assert.Empty(t, custody.sent)
}

func TestEngine_AcceptTieBreakFirstSlotWins(t *testing.T) {
	// Equal amounts cannot both be accepted by Bid, so build the tie directly.
	l := NewLedger()
	snap := l.Snapshot()
	snap.Asset = testAsset
	snap.Active = true
	snap.MinPrice = amt(100)
	snap.Price = amt(300)
	snap.Expiration = 1000
	snap.Bids = []Entry{
		{Bidder: alice, Amount: amt(200)},
		{Bidder: bob, Amount: amt(300)},
		{Bidder: carol, Amount: amt(300)},
	}
	custody := &fakeCustody{}
	e := NewEngine(Restore(snap), owner, ClockFunc(func() uint64 { return 1001 }), custody)

	ok, err := e.Accept(owner)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []sent{
		{To: alice, Amount: 200},
		{To: carol, Amount: 300},
		{To: bob, Asset: &testAsset},
		{To: owner, Amount: 300},
	}, custody.sent)
}

func TestEngine_AcceptSkipsWithdrawnSlots(t *testing.T) {
	e, custody, clock := newTestEngine(500)
	startAuction(e)
	bidAll(t, e, bidReq{alice, 150}, bidReq{bob, 300}, bidReq{carol, 400})
	require.NoError(t, e.Unbid(alice))
	custody.reset()
	clock.now = 1001

	ok, err := e.Accept(owner)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []sent{
		{To: bob, Amount: 300},
		{To: carol, Asset: &testAsset},
		{To: owner, Amount: 400},
	}, custody.sent)
}

func TestEngine_AcceptRejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, e *Engine)
		caller  Identity
		wantErr error
	}{
		{
			name:    "NotOwner",
			setup:   func(t *testing.T, e *Engine) { startAuction(e); bidAll(t, e, bidReq{alice, 150}) },
			caller:  alice,
			wantErr: ErrNotOwner,
		},
		{
			name:    "Inactive",
			setup:   func(t *testing.T, e *Engine) {},
			caller:  owner,
			wantErr: ErrInactive,
		},
		{
			name:    "NoBids",
			setup:   func(t *testing.T, e *Engine) { startAuction(e) },
			caller:  owner,
			wantErr: ErrNoBids,
		},
		{
			name: "OnlyWithdrawnBids",
			setup: func(t *testing.T, e *Engine) {
				startAuction(e)
				bidAll(t, e, bidReq{alice, 150})
				require.NoError(t, e.Unbid(alice))
			},
			caller:  owner,
			wantErr: ErrNoBids,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, custody, clock := newTestEngine(500)
			tt.setup(t, e)
			custody.reset()
			clock.now = 5000
			before := e.Ledger().Snapshot()

			ok, err := e.Accept(tt.caller)

			assert.False(t, ok)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsRejection(err))
			assert.Empty(t, custody.sent)
			assert.Equal(t, before, e.Ledger().Snapshot())
		})
	}
}

func TestEngine_AcceptCustodyFault(t *testing.T) {
	e, custody, clock := newTestEngine(500)
	startAuction(e)
	bidAll(t, e, bidReq{alice, 150}, bidReq{bob, 300})
	clock.now = 1001
	custody.refuse = owner

	ok, err := e.Accept(owner)

	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCustodyFault)
	assert.Equal(t, KindCustody, KindOf(err))
}

func TestEngine_ReuseAfterCancel(t *testing.T) {
	e, custody, clock := newTestEngine(500)
	startAuction(e)
	bidAll(t, e, bidReq{alice, 150})
	_, err := e.Cancel(owner)
	require.NoError(t, err)

	clock.now = 600
	ok, err := e.Start(owner, Asset{TokenID: "NFT-2", Nonce: 9}, 1, amt(10), 700)
	require.NoError(t, err)
	require.True(t, ok)
	custody.reset()

	bidAll(t, e, bidReq{alice, 20})

	bids := e.Ledger().Bids()
	require.Len(t, bids, 1, "alice reuses her zeroed slot from the cancelled round")
	assert.Equal(t, uint64(20), bids[0].Amount.Uint64())
	assert.Empty(t, custody.sent)
}
