// Package rng is the external CSPRNG collaborator. On the
// real target this is a hardware TRNG; here it wraps crypto/rand so the
// roster's IV generation and the message layer's challenge nonces draw from
// the same uniform source the original firmware's rng_gen() provides.
package rng

import (
	"crypto/rand"
	"encoding/binary"
)

// Source draws uniformly random values. Implementations must be safe for
// concurrent use; the AP core is single-threaded but tests share one Source
// across a mock bus's simulated peers.
type Source interface {
	Uint64() uint64
	Uint32() uint32
}

// Crypto is the production Source, backed by crypto/rand.
type Crypto struct{}

func (Crypto) Uint64() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("rng: entropy source failed: " + err.Error())
	}
	return binary.LittleEndian.Uint64(buf[:])
}

func (Crypto) Uint32() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("rng: entropy source failed: " + err.Error())
	}
	return binary.LittleEndian.Uint32(buf[:])
}
