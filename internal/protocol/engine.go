// Package protocol implements the AP-side command engine: Scan, Validate,
// Boot, and Attest, each driving internal/message.Transport through the
// two-leg challenge handshake and internal/bus's address space. The control
// flow and console line shapes are grounded directly on
// application_processor.c's scan_components/validate_components/
// boot_components/attest_component.
package protocol

import (
	"context"
	"errors"
	"strings"

	"github.com/devanshusanghani/2024-MTU-eCTF/internal/bus"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/console"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/message"
)

// Roster is the subset of internal/roster.Roster the engine needs, so it
// depends on an interface rather than the concrete type.
type Roster interface {
	IDs() []uint32
	Count() int
	Contains(id uint32) bool
}

// AddressMapper resolves a provisioned component ID to its bus address.
// Kept injectable rather than a fixed formula since the real target derives
// it from board wiring, not from the ID value.
type AddressMapper func(id uint32) byte

var (
	// ErrValidateFailed aggregates one or more component validation
	// failures; the individual causes are reported to the console as they
	// occur, not wrapped into this error.
	ErrValidateFailed = errors.New("protocol: one or more components failed validation")
	// ErrNotProvisioned is raised by Attest against an unprovisioned ID.
	ErrNotProvisioned = errors.New("protocol: component not provisioned")
)

// Engine drives the scan/validate/boot/attest command set over one
// Transport, reporting progress and outcomes through a Console.
type Engine struct {
	Transport *message.Transport
	Roster    Roster
	AddrOf    AddressMapper
	Console   *console.Console
}

// New constructs an Engine from its collaborators.
func New(t *message.Transport, r Roster, addrOf AddressMapper, c *console.Console) *Engine {
	return &Engine{Transport: t, Roster: r, AddrOf: addrOf, Console: c}
}

func (e *Engine) issue(ctx context.Context, addr byte) error {
	if err := e.Transport.TransmitTo(addr); err != nil {
		return err
	}
	return e.Transport.PollRecv(ctx, addr, false)
}

// Scan prints the provisioned roster, then probes every non-blacklisted
// address in the bus scan range and reports the ones that answer.
func (e *Engine) Scan(ctx context.Context) error {
	for _, id := range e.Roster.IDs() {
		e.Console.Info("P>0x%08x", id)
	}

	for addr := bus.ScanLow; addr < bus.ScanHigh; addr++ {
		a := byte(addr)
		if bus.Blacklisted(a) {
			continue
		}
		e.Transport.Reset()
		e.Transport.Transmit.Opcode = message.OpcodeScan
		if err := e.issue(ctx, a); err != nil {
			continue
		}
		id := message.GetUint32(e.Transport.Receive.Contents[0:4])
		e.Console.Info("F>0x%08x", id)
	}

	e.Console.Success("List")
	return nil
}

// Validate runs the two-leg validation handshake against every provisioned
// component and returns the per-component challenge each one last replied
// with — Boot needs these to restore the right continuation nonce for its
// own single-leg exchange. The returned error is non-nil if any component
// failed, but every component is still attempted.
func (e *Engine) Validate(ctx context.Context) ([]uint32, error) {
	ids := e.Roster.IDs()
	challenges := make([]uint32, len(ids))

	var failed error
	for i, id := range ids {
		addr := e.AddrOf(id)
		e.Transport.Reset()

		e.Transport.Transmit.Opcode = message.OpcodeValidate
		if err := e.issue(ctx, addr); err != nil {
			e.Console.Error("Component ID: 0x%08x invalid", id)
			failed = ErrValidateFailed
			continue
		}
		if err := e.issue(ctx, addr); err != nil {
			e.Console.Error("Component ID: 0x%08x invalid", id)
			failed = ErrValidateFailed
			continue
		}

		challenges[i] = e.Transport.Receive.Challenge
		gotID := message.GetUint32(e.Transport.Receive.Contents[0:4])
		if gotID != id {
			e.Console.Error("Component ID: 0x%08x invalid", id)
			failed = ErrValidateFailed
		}
	}

	return challenges, failed
}

// Boot runs the boot handshake against every provisioned component, passing
// each one the aggregate validation verdict. challenges must be the slice
// Validate returned for this same roster snapshot. It returns whether every
// component booted successfully.
func (e *Engine) Boot(ctx context.Context, challenges []uint32, validatePassed bool) bool {
	ids := e.Roster.IDs()
	ok := validatePassed

	for i, id := range ids {
		addr := e.AddrOf(id)
		e.Transport.Reset()
		// Restoring Receive.Challenge before transmitting makes TransmitTo
		// echo this component's own validation-phase challenge forward,
		// rather than minting a fresh one — the single-leg equivalent of
		// the two-leg continuation Validate used.
		e.Transport.Receive.Challenge = challenges[i]

		e.Transport.Transmit.Opcode = message.OpcodeBoot
		if ok {
			message.PutUint32(e.Transport.Transmit.Contents[0:4], 0)
		} else {
			message.PutUint32(e.Transport.Transmit.Contents[0:4], 0xFFFFFFFF)
		}

		if err := e.issue(ctx, addr); err != nil {
			e.Console.Error("Could not boot component 0x%08x", id)
			ok = false
			continue
		}

		verdict := message.GetUint32(e.Transport.Receive.Contents[0:4])
		if verdict != 0 {
			e.Console.Error("Could not boot component 0x%08x", id)
			ok = false
			continue
		}

		banner := cString(e.Transport.Receive.Contents[4 : 4+64])
		e.Console.Info("0x%08x>%s", id, banner)
	}

	return ok
}

// Attest runs the attestation handshake against a single provisioned
// component and prints its location/date/customer fields.
func (e *Engine) Attest(ctx context.Context, id uint32) error {
	if !e.Roster.Contains(id) {
		e.Console.Error("Component ID: 0x%08x invalid", id)
		return ErrNotProvisioned
	}

	addr := e.AddrOf(id)
	e.Transport.Reset()
	e.Transport.Transmit.Opcode = message.OpcodeAttest

	if err := e.issue(ctx, addr); err != nil {
		e.Console.Error("Could not attest component 0x%08x", id)
		return err
	}
	if err := e.issue(ctx, addr); err != nil {
		e.Console.Error("Could not attest component 0x%08x", id)
		return err
	}

	loc := cString(e.Transport.Receive.Contents[0:64])
	date := cString(e.Transport.Receive.Contents[65:129])
	cust := cString(e.Transport.Receive.Contents[130:194])

	e.Console.Info("C>0x%08x", id)
	e.Console.Info("LOC>%s", loc)
	e.Console.Info("DATE>%s", date)
	e.Console.Info("CUST>%s", cust)
	e.Console.Success("Attest")
	return nil
}

// cString reads a NUL-terminated (or full-width) string out of a fixed-size
// field, the mirror of boundedBytes on the peer side.
func cString(field []byte) string {
	if i := strings.IndexByte(string(field), 0); i >= 0 {
		return string(field[:i])
	}
	return string(field)
}
