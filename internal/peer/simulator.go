// Package peer implements a simulated component peripheral: the other side
// of the AP<->Component protocol, treated elsewhere as an external
// collaborator. It exists so the whole scan/validate/boot/attest flow can be
// exercised end to end without real hardware, wired through
// internal/bus.LoopbackBus.
package peer

import (
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/bus"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/message"
)

// Simulator models one provisioned component's response behavior.
type Simulator struct {
	ID uint32

	// BootBanner is echoed (bounded to 64 bytes) when the component
	// receives a passing boot verdict.
	BootBanner string

	// Attestation fields, each truncated to 64 bytes on the wire.
	Location string
	Date     string
	Customer string

	// RefuseBoot makes the component always report a non-zero boot
	// status, regardless of the AP's verdict — for testing peer-side
	// boot refusal.
	RefuseBoot bool

	// WrongValidateID makes every Validate reply claim a different ID
	// than ID, for IdMismatch testing.
	WrongValidateID *uint32

	// Silent makes the component never reply (simulates a dead/missing
	// peripheral), for BusTimeout testing.
	Silent bool
}

// Handle implements bus.Handler.
func (s *Simulator) Handle(_ byte, frame []byte) ([]byte, bool) {
	if s.Silent {
		return nil, false
	}

	in, err := message.Decode(frame)
	if err != nil {
		return nil, false
	}

	var out message.Frame
	out.Challenge = in.Challenge // echo — proves receipt of this leg

	switch in.Opcode {
	case message.OpcodeScan:
		message.PutUint32(out.Contents[0:4], s.ID)

	case message.OpcodeValidate:
		id := s.ID
		if s.WrongValidateID != nil {
			id = *s.WrongValidateID
		}
		message.PutUint32(out.Contents[0:4], id)

	case message.OpcodeBoot:
		verdict := message.GetUint32(in.Contents[0:4])
		pass := verdict == 0 && !s.RefuseBoot
		if pass {
			message.PutUint32(out.Contents[0:4], 0)
			copy(out.Contents[4:4+64], boundedBytes(s.BootBanner, 64))
		} else {
			message.PutUint32(out.Contents[0:4], 0xFFFFFFFF)
		}

	case message.OpcodeAttest:
		copy(out.Contents[0:64], boundedBytes(s.Location, 64))
		copy(out.Contents[65:129], boundedBytes(s.Date, 64))
		copy(out.Contents[130:194], boundedBytes(s.Customer, 64))

	default:
		return nil, false
	}

	return out.Encode(), true
}

// Register wires s into b at addr.
func (s *Simulator) Register(b *bus.LoopbackBus, addr byte) {
	b.Register(addr, s.Handle)
}

// boundedBytes truncates s to at most max bytes, NUL-padding within the
// bound when it fits — every attestation/boot-banner field is a
// NUL-terminated string bounded to a fixed width.
func boundedBytes(s string, max int) []byte {
	b := []byte(s)
	if len(b) >= max {
		return b[:max]
	}
	out := make([]byte, max)
	copy(out, b)
	return out
}
