package auction

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SlotsAreOneBased(t *testing.T) {
	var r Registry

	assert.Equal(t, 1, r.Append("alice", uint256.NewInt(10)))
	assert.Equal(t, 2, r.Append("bob", uint256.NewInt(20)))
	require.Equal(t, 2, r.Len())

	assert.Equal(t, Identity("alice"), r.Get(1).Bidder)
	assert.Equal(t, uint64(20), r.Get(2).Amount.Uint64())

	r.Set(1, new(uint256.Int))
	assert.True(t, r.Get(1).Amount.IsZero())
	assert.Equal(t, 2, r.Len(), "withdrawn slots are not compacted")

	r.Clear()
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_OutOfRangePanics(t *testing.T) {
	var r Registry
	r.Append("alice", uint256.NewInt(1))

	tests := []struct {
		name string
		fn   func()
	}{
		{"GetZero", func() { r.Get(0) }},
		{"GetPastEnd", func() { r.Get(2) }},
		{"SetPastEnd", func() { r.Set(2, uint256.NewInt(1)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, tt.fn)
		})
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	var r Registry
	r.Append("alice", uint256.NewInt(10))

	entry := r.Get(1)
	entry.Amount.SetUint64(999)

	assert.Equal(t, uint64(10), r.Get(1).Amount.Uint64())
}

func TestLedger_SnapshotRestore(t *testing.T) {
	l := NewLedger()
	l.asset = Asset{TokenID: "NFT", Nonce: 7}
	l.price = uint256.NewInt(300)
	l.minPrice = uint256.NewInt(100)
	l.expiration = 1000
	l.active = true
	l.bids.Append("alice", uint256.NewInt(150))
	l.bids.Append("bob", uint256.NewInt(300))
	l.bids.Append("carol", new(uint256.Int))

	restored := Restore(l.Snapshot())

	assert.Equal(t, l.Asset(), restored.Asset())
	assert.Equal(t, l.Price(), restored.Price())
	assert.Equal(t, l.MinPrice(), restored.MinPrice())
	assert.Equal(t, l.Expiration(), restored.Expiration())
	assert.True(t, restored.Active())
	assert.Equal(t, l.Bids(), restored.Bids())

	clone := l.Clone()
	clone.bids.Set(1, uint256.NewInt(1))
	assert.Equal(t, uint64(150), l.bids.Get(1).Amount.Uint64(), "clone must not alias the original")
}

func TestNewLedger_Inactive(t *testing.T) {
	l := NewLedger()

	assert.False(t, l.Active())
	assert.True(t, l.Price().IsZero())
	assert.Empty(t, l.Bids())
}
