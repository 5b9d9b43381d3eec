package postboot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devanshusanghani/2024-MTU-eCTF/internal/board"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/bus"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/message"
)

type fixedRNG struct{ v uint32 }

func (f fixedRNG) Uint64() uint64 { return uint64(f.v) }
func (f fixedRNG) Uint32() uint32 { return f.v }

func TestSecureSend_RejectsOversizedPayload(t *testing.T) {
	tr := message.New(bus.NewLoopbackBus(), fixedRNG{v: 1}, time.Millisecond, 3)
	err := SecureSend(context.Background(), tr, 0x20, make([]byte, MaxPayload+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestSecureSend_ThreeLegExchangeWithAnEchoPeer(t *testing.T) {
	b := bus.NewLoopbackBus()
	// The peer echoes every frame back; the echo of the opener confirms receipt.
	// The echo of the data leg is never read — SecureSend doesn't poll after it.
	b.Register(0x20, func(addr byte, frame []byte) ([]byte, bool) {
		return frame, true
	})

	tr := message.New(b, fixedRNG{v: 1}, time.Millisecond, 5)
	err := SecureSend(context.Background(), tr, 0x20, []byte("payload"))
	require.NoError(t, err)
}

func TestSecureSend_PayloadRidesTheFinalLegOnly(t *testing.T) {
	b := bus.NewLoopbackBus()
	var legs [][]byte
	b.Register(0x20, func(addr byte, frame []byte) ([]byte, bool) {
		legs = append(legs, append([]byte(nil), frame...))
		return frame, true
	})

	tr := message.New(b, fixedRNG{v: 1}, time.Millisecond, 5)
	payload := []byte("payload")
	require.NoError(t, SecureSend(context.Background(), tr, 0x20, payload))

	require.Len(t, legs, 2) // opener + data leg; the middle leg is the peer's reply, not an AP send

	opener, err := message.Decode(legs[0])
	require.NoError(t, err)
	assert.Equal(t, byte(0), opener.Contents[0], "opening leg must carry no payload")

	dataLeg, err := message.Decode(legs[1])
	require.NoError(t, err)
	assert.Equal(t, byte(len(payload)), dataLeg.Contents[0])
	assert.Equal(t, payload, dataLeg.Contents[1:1+len(payload)])
}

func TestSecureReceive_RejectsOversizedClaimedLength(t *testing.T) {
	b := bus.NewLoopbackBus()
	// call 1 answers the unsolicited opening leg with an empty frame; call 2
	// answers the ack leg with the oversized-length final leg the claimed
	// length is actually checked against.
	call := 0
	b.Register(0x20, func(addr byte, frame []byte) ([]byte, bool) {
		call++
		in, err := message.Decode(frame)
		if err != nil {
			return nil, false
		}
		var f message.Frame
		f.Challenge = in.Challenge
		if call == 2 {
			f.Contents[0] = MaxPayload + 1
		}
		return f.Encode(), true
	})
	// Prime the bus's pending slot for 0x20 with the unsolicited opening
	// leg, standing in for the peer's first, unprompted send.
	var primer message.Frame
	require.NoError(t, b.Send(0x20, primer.Encode()))

	tr := message.New(b, fixedRNG{v: 1}, time.Millisecond, 5)
	_, rerr := SecureReceive(context.Background(), tr, 0x20)
	assert.ErrorIs(t, rerr, ErrPayloadTooLarge)
}

type idLister struct{ ids []uint32 }

func (l idLister) IDs() []uint32 { return l.ids }

func TestGetProvisionedIDs_ReturnsRosterIDs(t *testing.T) {
	assert.Equal(t, []uint32{1, 2, 3}, GetProvisionedIDs(idLister{ids: []uint32{1, 2, 3}}))
}

func TestDefaultApplication_StopsAfterBoundedIterations(t *testing.T) {
	led := board.NewFake()
	sleep := board.NewFake()
	DefaultApplication(context.Background(), led, sleep, 3)
	assert.Len(t, sleep.Sleeps, 6) // on+off per iteration
}

func TestDefaultApplication_StopsEarlyWhenContextCanceled(t *testing.T) {
	led := board.NewFake()
	sleep := board.NewFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	DefaultApplication(ctx, led, sleep, 10)
	assert.Empty(t, sleep.Sleeps)
}
