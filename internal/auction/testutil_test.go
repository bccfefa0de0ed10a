package auction

import (
	"errors"

	"github.com/holiman/uint256"
)

const (
	owner Identity = "owner"
	alice Identity = "alice"
	bob   Identity = "bob"
	carol Identity = "carol"
)

var testAsset = Asset{TokenID: "NFT-abcdef", Nonce: 1}

type sent struct {
	To     Identity
	Amount uint64
	Asset  *Asset
}

// fakeCustody records outbound transfers and can refuse deliveries to a
// chosen identity.
type fakeCustody struct {
	sent   []sent
	refuse Identity
}

var errRefused = errors.New("recipient cannot receive")

func (c *fakeCustody) SendFunds(to Identity, amount *uint256.Int) error {
	if to == c.refuse {
		return errRefused
	}
	c.sent = append(c.sent, sent{To: to, Amount: amount.Uint64()})
	return nil
}

func (c *fakeCustody) SendAsset(to Identity, asset Asset) error {
	if to == c.refuse {
		return errRefused
	}
	a := asset
	c.sent = append(c.sent, sent{To: to, Asset: &a})
	return nil
}

func (c *fakeCustody) reset() { c.sent = nil }

func (c *fakeCustody) funds() []sent {
	var out []sent
	for _, s := range c.sent {
		if s.Asset == nil {
			out = append(out, s)
		}
	}
	return out
}

type testClock struct{ now uint64 }

func (c *testClock) Now() uint64 { return c.now }

func newTestEngine(now uint64) (*Engine, *fakeCustody, *testClock) {
	custody := &fakeCustody{}
	clock := &testClock{now: now}
	return NewEngine(NewLedger(), owner, clock, custody), custody, clock
}

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

// startAuction opens the canonical test auction: reserve 100, deadline 1000.
func startAuction(e *Engine) {
	ok, err := e.Start(owner, testAsset, 1, amt(100), 1000)
	if !ok || err != nil {
		panic("start failed: " + errString(err))
	}
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
