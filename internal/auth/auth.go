// Package auth implements operator authentication at the console: constant-
// time PIN/token comparison, a randomized pre-compare delay, and a fixed
// post-failure penalty with a visible LED indication. The constant-time
// compare and the delay/penalty shape are grounded on the original
// host_messaging.c convention that validate_pin/validate_token return
// SUCCESS_RETURN (0) on a matching secret and a non-zero ERROR_RETURN
// otherwise, with the caller's `if (validate_x())` branch taking the penalty
// path on any non-zero result — auth deliberately mirrors that by returning
// an error (non-nil == failure, the "non-zero" case) rather than a bool.
package auth

import (
	"crypto/subtle"
	"time"

	"github.com/devanshusanghani/2024-MTU-eCTF/internal/board"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/rng"
)

const (
	// PINLen is the AP_PIN length the provisioning config must supply.
	PINLen = 6
	// TokenLen is the AP_TOKEN length the provisioning config must supply.
	TokenLen = 16

	minDelay = 500 * time.Millisecond
	maxDelay = 1500 * time.Millisecond
	penalty  = 4 * time.Second

	// penaltyLED is lit for the duration of the post-failure penalty.
	penaltyLED = board.LED3
)

// Authenticator validates operator-entered secrets against the provisioned
// PIN and token. It holds no state across calls beyond the secrets
// themselves — every Validate* call independently applies the random delay
// and, on mismatch, the fixed penalty.
type Authenticator struct {
	pin   string
	token string

	rng   rng.Source
	sleep board.Sleeper
	led   board.Indicator
}

// New constructs an Authenticator. pin must be PINLen bytes and token must
// be TokenLen bytes — the caller (internal/config) enforces this at load
// time, so New does not re-validate it.
func New(pin, token string, source rng.Source, sleep board.Sleeper, led board.Indicator) *Authenticator {
	return &Authenticator{pin: pin, token: token, rng: source, sleep: sleep, led: led}
}

// randomDelay sleeps a uniformly random duration in [minDelay, maxDelay],
// standing in for the original's randomized pre-compare delay that resists
// timing-based enumeration of the comparison itself.
func (a *Authenticator) randomDelay() {
	span := uint64(maxDelay - minDelay)
	offset := time.Duration(a.rng.Uint64() % uint64(span))
	a.sleep.Sleep(minDelay + offset)
}

// fail applies the fixed post-failure penalty: the penalty LED lit for
// penalty, then extinguished.
func (a *Authenticator) fail() {
	a.led.On(penaltyLED)
	a.sleep.Sleep(penalty)
	a.led.Off(penaltyLED)
}

// ErrMismatch is returned by ValidatePIN/ValidateToken when the entered
// secret does not match, after the delay and penalty have already run.
type ErrMismatch struct{ what string }

func (e ErrMismatch) Error() string { return "auth: " + e.what + " does not match" }

// ValidatePIN compares entered against the provisioned PIN. It always pays
// the randomized pre-compare delay, regardless of outcome; on mismatch it
// additionally runs the failure penalty before returning.
func (a *Authenticator) ValidatePIN(entered string) error {
	a.randomDelay()
	ok := subtle.ConstantTimeCompare([]byte(padTo(entered, PINLen)), []byte(a.pin)) == 1 && len(entered) == PINLen
	if !ok {
		a.fail()
		return ErrMismatch{"pin"}
	}
	return nil
}

// ValidateToken compares entered against the provisioned token, with the
// same delay/penalty shape as ValidatePIN.
func (a *Authenticator) ValidateToken(entered string) error {
	a.randomDelay()
	ok := subtle.ConstantTimeCompare([]byte(padTo(entered, TokenLen)), []byte(a.token)) == 1 && len(entered) == TokenLen
	if !ok {
		a.fail()
		return ErrMismatch{"token"}
	}
	return nil
}

// padTo bounds s to a fixed width for subtle.ConstantTimeCompare, which
// requires equal-length inputs — truncating or zero-padding here never
// short-circuits the comparison itself; the length check runs after it,
// so comparison timing stays independent of entered's length or content.
func padTo(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	out := make([]byte, n)
	copy(out, s)
	return string(out)
}
