// Package bus is the external I2C-like bus collaborator:
// 7-bit addresses in [0x08, 0x78), best-effort delivery, polled receive. The
// real target drives this over actual I2C hardware; MockBus and LoopbackBus
// back tests and the in-process demo harness.
package bus

import (
	"fmt"
	"sync"
)

// Bus is the external transport collaborator the message layer sends
// through and polls. Send is fire-and-forget; Recv is a single, non-blocking
// poll attempt — the message layer is responsible for the retry loop.
type Bus interface {
	Send(addr byte, frame []byte) error
	Recv(addr byte) (frame []byte, ok bool, err error)
}

// Blacklisted reports whether addr is reserved for on-board peripherals and
// must be skipped on scan.
func Blacklisted(addr byte) bool {
	switch addr {
	case 0x18, 0x28, 0x36:
		return true
	default:
		return false
	}
}

const (
	// ScanLow is the first address scanned, inclusive.
	ScanLow = 0x08
	// ScanHigh is the last address scanned, exclusive.
	ScanHigh = 0x78
)

// SentFrame records one Send call, for MockBus assertions.
type SentFrame struct {
	Addr byte
	Data []byte
}

// MockBus is a Bus with per-address canned reply queues, for unit tests that
// don't need a full simulated peer (internal/peer.Simulator).
type MockBus struct {
	mu       sync.Mutex
	replies  map[byte][][]byte
	recvErrs map[byte]error
	sendErr  error
	Sent     []SentFrame
}

// NewMockBus returns an empty MockBus; every address reports no reply until
// QueueReply is called for it.
func NewMockBus() *MockBus {
	return &MockBus{
		replies:  make(map[byte][][]byte),
		recvErrs: make(map[byte]error),
	}
}

// QueueReply appends data to addr's reply queue; the next Recv(addr) call
// pops it.
func (b *MockBus) QueueReply(addr byte, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[addr] = append(b.replies[addr], data)
}

// SetRecvErr makes Recv(addr) return err until cleared with SetRecvErr(addr, nil).
func (b *MockBus) SetRecvErr(addr byte, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.recvErrs, addr)
		return
	}
	b.recvErrs[addr] = err
}

// SetSendErr makes every Send call fail with err.
func (b *MockBus) SetSendErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr = err
}

func (b *MockBus) Send(addr byte, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	b.Sent = append(b.Sent, SentFrame{Addr: addr, Data: cp})
	return b.sendErr
}

func (b *MockBus) Recv(addr byte) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.recvErrs[addr]; ok {
		return nil, false, err
	}
	q := b.replies[addr]
	if len(q) == 0 {
		return nil, false, nil
	}
	b.replies[addr] = q[1:]
	return q[0], true, nil
}

// Handler computes a peer's reply to a frame sent to addr. ok is false when
// the address has no peer listening — the same as an unanswered scan probe.
type Handler func(addr byte, frame []byte) (reply []byte, ok bool)

// LoopbackBus wires addresses to in-process Handlers (internal/peer.Simulator
// instances), so the full protocol can run end to end without real hardware.
type LoopbackBus struct {
	mu       sync.Mutex
	handlers map[byte]Handler
	pending  map[byte][]byte
}

func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{
		handlers: make(map[byte]Handler),
		pending:  make(map[byte][]byte),
	}
}

// Register binds a handler to addr.
func (b *LoopbackBus) Register(addr byte, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[addr] = h
}

func (b *LoopbackBus) Send(addr byte, frame []byte) error {
	b.mu.Lock()
	h, ok := b.handlers[addr]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	reply, ok := h(addr, frame)
	if !ok {
		return nil
	}
	b.mu.Lock()
	b.pending[addr] = reply
	b.mu.Unlock()
	return nil
}

func (b *LoopbackBus) Recv(addr byte) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.pending[addr]
	if !ok {
		return nil, false, nil
	}
	delete(b.pending, addr)
	return data, true, nil
}

// HardwareBus is the production Bus. This host build has no I2C controller
// to drive, so Send/Recv report an explicit error rather than silently
// discarding frames — a real target build replaces this file with one
// backed by the board's I2C driver.
type HardwareBus struct{}

// NewHardwareBus returns the production Bus placeholder.
func NewHardwareBus() *HardwareBus { return &HardwareBus{} }

func (HardwareBus) Send(addr byte, frame []byte) error {
	return fmt.Errorf("bus: no I2C controller wired to this host build (addr 0x%02x)", addr)
}

func (HardwareBus) Recv(addr byte) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("bus: no I2C controller wired to this host build (addr 0x%02x)", addr)
}
