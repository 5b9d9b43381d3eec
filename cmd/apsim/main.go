// Command apsim is the end-to-end demo harness: it wires an AP core to a
// handful of in-process simulated components over a LoopbackBus and runs
// the same dispatcher the real binary uses on stdin/stdout, so scan,
// validate+boot, and attest commands can be entered without any hardware
// or flash file. It exists so the full
// protocol can be exercised and watched without real I2C/flash/board
// peripherals.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/devanshusanghani/2024-MTU-eCTF/internal/auditlog"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/auth"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/board"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/bus"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/console"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/dispatcher"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/flashdev"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/message"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/peer"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/protocol"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/rng"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/roster"
)

const (
	demoMagic    = 0x4354464D
	demoAESKey   = "0123456789abcdef" // 16 bytes, AES-128
	demoHashKey  = "demo-hmac-key-not-for-production"
	pollInterval = 2 * time.Millisecond
	pollAttempts = 25
)

func main() {
	components := []uint32{0x11111111, 0x22222222, 0x33333333}
	addrs := map[uint32]byte{
		0x11111111: 0x20,
		0x22222222: 0x30,
		0x33333333: 0x40,
	}

	source := rng.Crypto{}
	b := bus.NewLoopbackBus()

	for i, id := range components {
		sim := &peer.Simulator{
			ID:         id,
			BootBanner: fmt.Sprintf("component-%d booted", i+1),
			Location:   "Test Bench",
			Date:       "2026-01-01",
			Customer:   "eCTF Demo",
		}
		sim.Register(b, addrs[id])
	}

	dev := flashdev.NewMemDevice()
	r, err := roster.New(dev, source, []byte(demoAESKey), []byte(demoHashKey), roster.Defaults{
		Magic:        demoMagic,
		ComponentIDs: components,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "roster construct:", err)
		os.Exit(1)
	}
	if err := r.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "roster load:", err)
		os.Exit(1)
	}

	transport := message.New(b, source, pollInterval, pollAttempts)
	con := console.New(os.Stdin, os.Stdout)
	engine := protocol.New(transport, r, func(id uint32) byte { return addrs[id] }, con)
	authenticator := auth.New("123456", "0123456789abcdef", source, board.RealTime{}, board.NewFake())

	auditDir, err := os.MkdirTemp("", "apsim-audit")
	if err == nil {
		defer os.RemoveAll(auditDir)
	}
	auditWriter := auditlog.NewWriter(auditDir, 0)
	defer auditWriter.Close()

	d := &dispatcher.Dispatcher{
		Console: con,
		Auth:    authenticator,
		Roster:  r,
		Engine:  engine,
		Audit:   auditWriter,
		Session: "demo",
	}

	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "dispatcher:", err)
	}
}
