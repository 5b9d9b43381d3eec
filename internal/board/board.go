// Package board models the external board-specific peripherals named in
// as out of scope: LEDs and the delay primitive. Production builds
// would wire these to real GPIO/timer drivers; tests and the simulator use
// the in-memory Fake.
package board

import (
	"time"

	logrus "github.com/sirupsen/logrus"
)

// LED identifies one of the board's status LEDs. LED3 is the one the
// operator-auth penalty and the "purple in normal operation" boot
// indicator both drive, per the original firmware's main().
type LED int

const (
	LED1 LED = iota
	LED2
	LED3
)

// Indicator is the external LED collaborator.
type Indicator interface {
	On(LED)
	Off(LED)
}

// Sleeper is the external delay collaborator.
type Sleeper interface {
	Sleep(time.Duration)
}

// RealTime is the production Sleeper, backed by time.Sleep.
type RealTime struct{}

func (RealTime) Sleep(d time.Duration) { time.Sleep(d) }

// Fake records each LED's latest state and every requested sleep duration,
// treating Sleep as a no-op, so property tests can assert on board state
// without real-time delays.
type Fake struct {
	States map[LED]bool
	Sleeps []time.Duration
}

func NewFake() *Fake {
	return &Fake{States: make(map[LED]bool)}
}

func (f *Fake) On(l LED)  { f.States[l] = true }
func (f *Fake) Off(l LED) { f.States[l] = false }

// GPIOIndicator is the production Indicator. This host build has no GPIO
// lines to drive, so it logs transitions at debug level instead of
// silently discarding them — a real target build replaces this file with
// one backed by the board's GPIO registers.
type GPIOIndicator struct{}

// NewGPIOIndicator returns the production Indicator placeholder.
func NewGPIOIndicator() *GPIOIndicator { return &GPIOIndicator{} }

func (GPIOIndicator) On(l LED)  { logrus.Debugf("board: LED%d on", l+1) }
func (GPIOIndicator) Off(l LED) { logrus.Debugf("board: LED%d off", l+1) }

func (f *Fake) Sleep(d time.Duration) { f.Sleeps = append(f.Sleeps, d) }
