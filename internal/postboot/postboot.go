// Package postboot implements the AP's runtime API once every component has
// booted: a secure send/receive pair for exchanging short payloads with a
// booted component over the same bus/message layer, a provisioned-ID
// accessor, and a bounded stand-in for the original's post-boot default
// application (an indefinite LED blink loop, here made finite so it can run
// under a test harness instead of forever).
package postboot

import (
	"context"
	"errors"
	"time"

	"github.com/devanshusanghani/2024-MTU-eCTF/internal/board"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/message"
)

// MaxPayload is the largest payload SecureSend/SecureReceive will carry —
// one byte of the contents buffer is reserved for the length prefix, the
// rest for data, bounded well under message.MaxContents.
const MaxPayload = 64

// ErrPayloadTooLarge is returned by SecureSend when the caller's payload
// exceeds MaxPayload, or by SecureReceive when the peer claims one that does.
var ErrPayloadTooLarge = errors.New("postboot: payload exceeds maximum size")

// SecureSend delivers payload to addr as a three-leg exchange: an empty
// frame opening the exchange, a receive confirming the peer answered, then
// a final frame carrying the length-prefixed payload itself. The data rides
// the last leg, not the first — it is only sent once the peer has proven
// it's listening.
func SecureSend(ctx context.Context, t *message.Transport, addr byte, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}

	t.Reset()
	if err := t.TransmitTo(addr); err != nil {
		return err
	}
	if err := t.PollRecv(ctx, addr, false); err != nil {
		return err
	}

	t.Transmit.Contents[0] = byte(len(payload))
	copy(t.Transmit.Contents[1:], payload)
	return t.TransmitTo(addr)
}

// SecureReceive accepts a length-prefixed payload from addr, the mirror of
// SecureSend: an unsolicited first leg (its challenge starts a new exchange,
// so the check is skipped) carrying no data, an acknowledging transmit, then
// a final receive that carries the payload itself.
func SecureReceive(ctx context.Context, t *message.Transport, addr byte) ([]byte, error) {
	t.Reset()
	if err := t.PollRecv(ctx, addr, true); err != nil {
		return nil, err
	}

	if err := t.TransmitTo(addr); err != nil {
		return nil, err
	}
	if err := t.PollRecv(ctx, addr, false); err != nil {
		return nil, err
	}

	n := int(t.Receive.Contents[0])
	if n > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	data := append([]byte(nil), t.Receive.Contents[1:1+n]...)
	return data, nil
}

// idLister is the sliver of internal/protocol.Roster GetProvisionedIDs needs.
type idLister interface {
	IDs() []uint32
}

// GetProvisionedIDs returns the active roster snapshot, the post-boot
// equivalent of the provisioning-phase roster read.
func GetProvisionedIDs(r idLister) []uint32 {
	return r.IDs()
}

// DefaultApplication runs the post-boot idle behavior: a blink of led for
// iterations cycles, returning early if ctx is canceled. The original target
// blinks forever; bounding it here keeps it exercisable under test.
func DefaultApplication(ctx context.Context, led board.Indicator, sleep board.Sleeper, iterations int) {
	const halfPeriod = 250 * time.Millisecond
	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		led.On(board.LED1)
		sleep.Sleep(halfPeriod)
		led.Off(board.LED1)
		sleep.Sleep(halfPeriod)
	}
}
