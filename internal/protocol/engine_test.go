package protocol

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devanshusanghani/2024-MTU-eCTF/internal/bus"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/console"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/message"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/peer"
)

type fixedRNG struct{ v uint32 }

func (f fixedRNG) Uint64() uint64 { return uint64(f.v) }
func (f fixedRNG) Uint32() uint32 { return f.v }

type stubRoster struct {
	ids []uint32
}

func (s stubRoster) IDs() []uint32 { return s.ids }
func (s stubRoster) Count() int    { return len(s.ids) }
func (s stubRoster) Contains(id uint32) bool {
	for _, v := range s.ids {
		if v == id {
			return true
		}
	}
	return false
}

func newEngine(t *testing.T, ids []uint32, sims map[uint32]*peer.Simulator, addrOf AddressMapper) *Engine {
	t.Helper()
	b := bus.NewLoopbackBus()
	for id, sim := range sims {
		sim.Register(b, addrOf(id))
	}
	tr := message.New(b, fixedRNG{v: 0x1234}, time.Millisecond, 10)
	con := console.New(nil, discard{})
	return New(tr, stubRoster{ids: ids}, addrOf, con)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func addrOfFixed(addrs map[uint32]byte) AddressMapper {
	return func(id uint32) byte { return addrs[id] }
}

func TestValidate_AllComponentsPass(t *testing.T) {
	ids := []uint32{0x11, 0x22}
	addrs := map[uint32]byte{0x11: 0x20, 0x22: 0x30}
	sims := map[uint32]*peer.Simulator{
		0x11: {ID: 0x11},
		0x22: {ID: 0x22},
	}
	e := newEngine(t, ids, sims, addrOfFixed(addrs))

	challenges, err := e.Validate(context.Background())
	require.NoError(t, err)
	assert.Len(t, challenges, 2)
	for _, c := range challenges {
		assert.NotZero(t, c)
	}
}

func TestValidate_FlagsIDMismatch(t *testing.T) {
	wrong := uint32(0x99)
	ids := []uint32{0x11}
	addrs := map[uint32]byte{0x11: 0x20}
	sims := map[uint32]*peer.Simulator{
		0x11: {ID: 0x11, WrongValidateID: &wrong},
	}
	e := newEngine(t, ids, sims, addrOfFixed(addrs))

	_, err := e.Validate(context.Background())
	assert.ErrorIs(t, err, ErrValidateFailed)
}

func TestValidate_FlagsSilentComponent(t *testing.T) {
	ids := []uint32{0x11}
	addrs := map[uint32]byte{0x11: 0x20}
	sims := map[uint32]*peer.Simulator{
		0x11: {ID: 0x11, Silent: true},
	}
	e := newEngine(t, ids, sims, addrOfFixed(addrs))

	_, err := e.Validate(context.Background())
	assert.ErrorIs(t, err, ErrValidateFailed)
}

func TestBoot_PropagatesValidatePassToEveryComponent(t *testing.T) {
	ids := []uint32{0x11, 0x22}
	addrs := map[uint32]byte{0x11: 0x20, 0x22: 0x30}
	sims := map[uint32]*peer.Simulator{
		0x11: {ID: 0x11, BootBanner: "one"},
		0x22: {ID: 0x22, BootBanner: "two"},
	}
	e := newEngine(t, ids, sims, addrOfFixed(addrs))

	challenges, err := e.Validate(context.Background())
	require.NoError(t, err)

	ok := e.Boot(context.Background(), challenges, err == nil)
	assert.True(t, ok)
}

func TestBoot_FailsClosedWhenValidateFailed(t *testing.T) {
	ids := []uint32{0x11}
	addrs := map[uint32]byte{0x11: 0x20}
	sims := map[uint32]*peer.Simulator{
		0x11: {ID: 0x11, BootBanner: "one"},
	}
	e := newEngine(t, ids, sims, addrOfFixed(addrs))

	challenges := make([]uint32, 1)
	ok := e.Boot(context.Background(), challenges, false)
	assert.False(t, ok, "a failing validate phase must suppress boot regardless of peer response")
}

func TestBoot_PeerRefusalFailsTheWholeBoot(t *testing.T) {
	ids := []uint32{0x11, 0x22}
	addrs := map[uint32]byte{0x11: 0x20, 0x22: 0x30}
	sims := map[uint32]*peer.Simulator{
		0x11: {ID: 0x11, RefuseBoot: true},
		0x22: {ID: 0x22},
	}
	e := newEngine(t, ids, sims, addrOfFixed(addrs))

	challenges, err := e.Validate(context.Background())
	require.NoError(t, err)

	ok := e.Boot(context.Background(), challenges, true)
	assert.False(t, ok)
}

func TestAttest_RejectsUnprovisionedID(t *testing.T) {
	e := newEngine(t, []uint32{0x11}, map[uint32]*peer.Simulator{
		0x11: {ID: 0x11},
	}, addrOfFixed(map[uint32]byte{0x11: 0x20}))

	err := e.Attest(context.Background(), 0xFF)
	assert.ErrorIs(t, err, ErrNotProvisioned)
}

func TestAttest_ReturnsPeerFields(t *testing.T) {
	ids := []uint32{0x11}
	addrs := map[uint32]byte{0x11: 0x20}
	sims := map[uint32]*peer.Simulator{
		0x11: {ID: 0x11, Location: "Lab", Date: "2026-01-01", Customer: "ACME"},
	}
	e := newEngine(t, ids, sims, addrOfFixed(addrs))

	var out bytes.Buffer
	e.Console = console.New(nil, &out)

	require.NoError(t, e.Attest(context.Background(), 0x11))
	assert.Contains(t, out.String(), "%info LOC>Lab\n")
	assert.Contains(t, out.String(), "%info DATE>2026-01-01\n")
	assert.Contains(t, out.String(), "%info CUST>ACME\n")
}

func TestScan_ReportsOnlyRespondingAddresses(t *testing.T) {
	ids := []uint32{0x11}
	addrs := map[uint32]byte{0x11: 0x20}
	sims := map[uint32]*peer.Simulator{
		0x11: {ID: 0x11},
	}
	e := newEngine(t, ids, sims, addrOfFixed(addrs))

	var out bytes.Buffer
	e.Console = console.New(nil, &out)

	require.NoError(t, e.Scan(context.Background()))
	assert.Equal(t, 1, strings.Count(out.String(), "F>"))
	assert.Contains(t, out.String(), "%info F>0x00000011\n")
}
