// Package message implements the AP's message layer: a framed
// opcode+challenge+payload struct, transmit/poll-receive primitives over the
// bus, and the two-leg challenge chaining that lets the protocol engine
// authenticate both directions of a peer exchange before any secret payload
// is exposed. Frames use a fixed header (opcode, then a little-endian
// challenge) followed by the payload.
package message

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/devanshusanghani/2024-MTU-eCTF/internal/bus"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/rng"
)

// Opcode identifies the command a frame carries. Values match the original
// firmware's component_cmd_t enum so the wire stays byte-compatible.
type Opcode uint8

const (
	OpcodeNone Opcode = iota
	OpcodeScan
	OpcodeValidate
	OpcodeBoot
	OpcodeAttest
)

func (o Opcode) String() string {
	switch o {
	case OpcodeScan:
		return "SCAN"
	case OpcodeValidate:
		return "VALIDATE"
	case OpcodeBoot:
		return "BOOT"
	case OpcodeAttest:
		return "ATTEST"
	default:
		return "NONE"
	}
}

// MaxContents is sized for the largest message: three 64-byte attestation
// fields at offsets 0, 65, and 130, with a one-byte gap between fields.
const MaxContents = 130 + 64

const frameHeaderLen = 1 + 4 // opcode + challenge

// Frame is the fixed-size message struct carried over the bus.
type Frame struct {
	Opcode    Opcode
	Challenge uint32
	Contents  [MaxContents]byte
}

// Reset zeroizes the frame; both transmit and receive frames are cleared to
// zero between logical exchanges.
func (f *Frame) Reset() { *f = Frame{} }

// Encode serializes the frame to its wire form: a 1-byte opcode, a
// little-endian 32-bit challenge, then the contents buffer.
func (f *Frame) Encode() []byte {
	buf := make([]byte, frameHeaderLen+MaxContents)
	buf[0] = byte(f.Opcode)
	binary.LittleEndian.PutUint32(buf[1:5], f.Challenge)
	copy(buf[frameHeaderLen:], f.Contents[:])
	return buf
}

// Decode parses a wire-form frame, the mirror of Encode. Exported so the
// peer simulator (internal/peer) can decode what the AP sent it and encode
// its own reply without depending on Transport internals.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < frameHeaderLen {
		return Frame{}, fmt.Errorf("message: frame too short: %d", len(buf))
	}
	var f Frame
	f.Opcode = Opcode(buf[0])
	f.Challenge = binary.LittleEndian.Uint32(buf[1:5])
	copy(f.Contents[:], buf[frameHeaderLen:])
	return f, nil
}

// PutUint32 writes v little-endian into dst[0:4]. Exported so callers that
// build or read frame contents (internal/peer, internal/protocol) share one
// encoding instead of each rolling its own.
func PutUint32(dst []byte, v uint32) {
	binary.LittleEndian.PutUint32(dst, v)
}

// GetUint32 reads a little-endian uint32 from src[0:4].
func GetUint32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

var (
	// ErrBusTimeout is raised when PollRecv exceeds its poll window.
	ErrBusTimeout = errors.New("message: bus timeout")
	// ErrChallengeMismatch is raised when a received nonce disagrees with
	// the expected continuation of the handshake.
	ErrChallengeMismatch = errors.New("message: challenge mismatch")
)

// Transport owns the transmit/receive frame singletons and the send/poll
// primitives, as a value rather than package globals, so tests inject a
// mock bus.
type Transport struct {
	Transmit Frame
	Receive  Frame

	bus          bus.Bus
	rng          rng.Source
	pollInterval time.Duration
	pollAttempts int
}

// New constructs a Transport over bus b. pollInterval/pollAttempts bound how
// long PollRecv waits for a response before giving up with ErrBusTimeout.
func New(b bus.Bus, source rng.Source, pollInterval time.Duration, pollAttempts int) *Transport {
	return &Transport{
		bus:          b,
		rng:          source,
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
	}
}

// Reset zeroizes both frames.
func (t *Transport) Reset() {
	t.Transmit.Reset()
	t.Receive.Reset()
}

// TransmitTo sends the current Transmit frame to addr.
//
// The outgoing challenge is derived from Receive.Challenge: if it is zero
// (no prior receive this exchange), a fresh nonce is drawn to start a new
// handshake; otherwise the value is echoed forward, proving to the peer that
// this leg continues the same exchange it last heard from — this is the
// same "read the receive singleton to decide what transmit sends" pattern
// the original firmware's boot_components uses, restoring
// receive.rng_challenge before issuing a command so transmit echoes the
// right response.
func (t *Transport) TransmitTo(addr byte) error {
	if t.Receive.Challenge == 0 {
		t.Transmit.Challenge = t.rng.Uint32()
	} else {
		t.Transmit.Challenge = t.Receive.Challenge
	}
	return t.bus.Send(addr, t.Transmit.Encode())
}

// PollRecv repeatedly polls for a response from addr. If
// skipChalCheck is false, the received challenge must equal the value most
// recently transmitted, or ErrChallengeMismatch is returned.
func (t *Transport) PollRecv(ctx context.Context, addr byte, skipChalCheck bool) error {
	expected := t.Transmit.Challenge

	for attempt := 0; attempt < t.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, ok, err := t.bus.Recv(addr)
		if err != nil {
			return fmt.Errorf("message: recv from 0x%02x: %w", addr, err)
		}
		if ok {
			frame, err := Decode(data)
			if err != nil {
				return err
			}
			t.Receive = frame
			if !skipChalCheck && frame.Challenge != expected {
				return ErrChallengeMismatch
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.pollInterval):
		}
	}

	return ErrBusTimeout
}
