package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devanshusanghani/2024-MTU-eCTF/internal/board"
)

type fixedRNG struct{ v uint64 }

func (f fixedRNG) Uint64() uint64 { return f.v }
func (f fixedRNG) Uint32() uint32 { return uint32(f.v) }

func TestValidatePIN_AcceptsExactMatch(t *testing.T) {
	sleeper := board.NewFake()
	led := board.NewFake()
	a := New("123456", "0123456789abcdef", fixedRNG{v: 0}, sleeper, led)

	require.NoError(t, a.ValidatePIN("123456"))
	assert.False(t, led.States[board.LED3], "a correct PIN must not trigger the failure LED")
}

func TestValidatePIN_RejectsMismatchAndAppliesPenalty(t *testing.T) {
	sleeper := board.NewFake()
	led := board.NewFake()
	a := New("123456", "0123456789abcdef", fixedRNG{v: 0}, sleeper, led)

	err := a.ValidatePIN("000000")
	assert.ErrorIs(t, err, ErrMismatch{"pin"})

	// The penalty LED must be off again afterwards, and the last recorded
	// sleep must be the penalty, following the pre-compare delay.
	assert.False(t, led.States[board.LED3])
	require.GreaterOrEqual(t, len(sleeper.Sleeps), 2)
	assert.Equal(t, penalty, sleeper.Sleeps[len(sleeper.Sleeps)-1])
}

func TestValidatePIN_RejectsWrongLength(t *testing.T) {
	sleeper := board.NewFake()
	led := board.NewFake()
	a := New("123456", "0123456789abcdef", fixedRNG{v: 0}, sleeper, led)

	err := a.ValidatePIN("12345")
	assert.Error(t, err)
}

func TestValidateToken_AcceptsExactMatch(t *testing.T) {
	sleeper := board.NewFake()
	led := board.NewFake()
	a := New("123456", "0123456789abcdef", fixedRNG{v: 0}, sleeper, led)

	require.NoError(t, a.ValidateToken("0123456789abcdef"))
}

func TestValidateToken_RejectsMismatch(t *testing.T) {
	sleeper := board.NewFake()
	led := board.NewFake()
	a := New("123456", "0123456789abcdef", fixedRNG{v: 0}, sleeper, led)

	err := a.ValidateToken("ffffffffffffffff")
	assert.ErrorIs(t, err, ErrMismatch{"token"})
}

func TestRandomDelay_StaysWithinConfiguredBounds(t *testing.T) {
	sleeper := board.NewFake()
	led := board.NewFake()

	for _, draw := range []uint64{0, 1 << 20, ^uint64(0)} {
		a := New("123456", "0123456789abcdef", fixedRNG{v: draw}, sleeper, led)
		a.randomDelay()
		d := sleeper.Sleeps[len(sleeper.Sleeps)-1]
		assert.GreaterOrEqual(t, d, minDelay)
		assert.Less(t, d, maxDelay+time.Nanosecond)
	}
}
