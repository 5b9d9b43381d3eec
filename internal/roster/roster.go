// Package roster implements the AP's persistent, encrypted, integrity-checked
// component roster. The encrypted span uses AES-CBC with the provisioned AES
// key and a random IV stored in the clear beside it, and is sized to an
// exact block multiple so no confidentiality padding is needed.
package roster

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/devanshusanghani/2024-MTU-eCTF/internal/flashdev"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/rng"
)

const (
	// MaxComponents is the fixed roster capacity.
	MaxComponents = 32

	headerLen = 4 + 4 + MaxComponents*4 // magic + count + ids
	hashLen   = sha256.Size             // 32
	ivLen     = aes.BlockSize           // 16
	// encLen is the encrypted span: header+ids plus the first 24 bytes of
	// the MAC that follows them in memory. 136+24 = 160, a clean
	// multiple of the AES block size, so no confidentiality padding is
	// needed.
	encLen = headerLen + 24
	// recordLen is the full on-flash record: header+ids+mac+iv.
	recordLen = headerLen + hashLen + ivLen
)

var (
	// ErrDuplicate is raised when Replace would introduce an ID already present.
	ErrDuplicate = errors.New("roster: component already provisioned")
	// ErrNotProvisioned is raised when Replace targets an unknown outgoing ID.
	ErrNotProvisioned = errors.New("roster: component not provisioned")
)

// Record is the decoded on-flash layout (flash_entry in the original).
type Record struct {
	Magic uint32
	Count uint32
	IDs   [MaxComponents]uint32
	MAC   [hashLen]byte
	IV    [ivLen]byte
}

func (r *Record) marshal() []byte {
	buf := make([]byte, recordLen)
	binary.LittleEndian.PutUint32(buf[0:4], r.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], r.Count)
	for i, id := range r.IDs {
		binary.LittleEndian.PutUint32(buf[8+i*4:12+i*4], id)
	}
	copy(buf[headerLen:headerLen+hashLen], r.MAC[:])
	copy(buf[headerLen+hashLen:], r.IV[:])
	return buf
}

func unmarshalRecord(buf []byte) (*Record, error) {
	if len(buf) < recordLen {
		return nil, fmt.Errorf("roster: record too short: %d < %d", len(buf), recordLen)
	}
	r := &Record{}
	r.Magic = binary.LittleEndian.Uint32(buf[0:4])
	r.Count = binary.LittleEndian.Uint32(buf[4:8])
	for i := range r.IDs {
		r.IDs[i] = binary.LittleEndian.Uint32(buf[8+i*4 : 12+i*4])
	}
	copy(r.MAC[:], buf[headerLen:headerLen+hashLen])
	copy(r.IV[:], buf[headerLen+hashLen:recordLen])
	return r, nil
}

// Defaults is the compile-time fallback roster, sourced from the
// provisioning config (MAGIC_CONSTANT, COMPONENT_IDS[]).
type Defaults struct {
	Magic        uint32
	ComponentIDs []uint32
}

// Roster is the AP's in-memory view of the persistent component list.
type Roster struct {
	mu sync.Mutex

	rec Record

	aesKey  []byte // 16 bytes, AES-128
	hashKey []byte // HMAC-SHA256 key

	dev      flashdev.Device
	rng      rng.Source
	defaults Defaults
}

// New constructs a Roster bound to its flash device and keys but does not
// load it; call Load before use.
func New(dev flashdev.Device, source rng.Source, aesKey, hashKey []byte, defaults Defaults) (*Roster, error) {
	if len(aesKey) != 16 {
		return nil, fmt.Errorf("roster: aes key must be 16 bytes, got %d", len(aesKey))
	}
	return &Roster{
		dev:      dev,
		rng:      source,
		aesKey:   aesKey,
		hashKey:  hashKey,
		defaults: defaults,
	}, nil
}

func (r *Roster) mac(header []byte) [hashLen]byte {
	m := hmac.New(sha256.New, r.hashKey)
	m.Write(header)
	var out [hashLen]byte
	copy(out[:], m.Sum(nil))
	return out
}

// Load reads the on-flash record, decrypts it, and verifies magic+MAC.
// On failure it silently reinitializes from defaults — this
// is a first-boot-or-wipe convention, not a claimed security property.
func (r *Roster) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, err := r.dev.ReadPage()
	if err != nil {
		return fmt.Errorf("roster: read page: %w", err)
	}
	if len(raw) < recordLen {
		return r.reinit(fmt.Errorf("page too short"))
	}

	clearMACTail := append([]byte(nil), raw[encLen:encLen+(hashLen-24)]...)
	iv := append([]byte(nil), raw[encLen+(hashLen-24):recordLen]...)

	plain, err := r.decryptSpan(raw[:encLen], iv)
	if err != nil {
		return r.reinit(fmt.Errorf("decrypt: %w", err))
	}

	full := append(append([]byte(nil), plain...), clearMACTail...)
	full = append(full, iv...)

	rec, err := unmarshalRecord(full)
	if err != nil {
		return r.reinit(err)
	}

	if rec.Magic != r.defaults.Magic {
		return r.reinit(fmt.Errorf("magic mismatch: got 0x%08x want 0x%08x", rec.Magic, r.defaults.Magic))
	}
	wantMAC := r.mac(full[:headerLen])
	if !hmac.Equal(rec.MAC[:], wantMAC[:]) {
		return r.reinit(fmt.Errorf("MAC mismatch"))
	}
	if rec.Count > MaxComponents {
		return r.reinit(fmt.Errorf("count %d exceeds max %d", rec.Count, MaxComponents))
	}

	r.rec = *rec
	return nil
}

// reinit rebuilds the roster from compile-time defaults and persists it.
// cause is logged at debug level only — reinitialization stays silent
// from the operator's point of view beyond that debug line.
func (r *Roster) reinit(cause error) error {
	log.WithError(cause).Debug("roster: flash integrity check failed, reinitializing from defaults")

	rec := Record{
		Magic: r.defaults.Magic,
		Count: uint32(len(r.defaults.ComponentIDs)),
	}
	copy(rec.IDs[:], r.defaults.ComponentIDs)

	header := rec.marshal()[:headerLen]
	rec.MAC = r.mac(header)

	iv := r.freshIV()
	rec.IV = iv

	r.rec = rec
	return r.persist(iv)
}

func (r *Roster) freshIV() [ivLen]byte {
	var iv [ivLen]byte
	binary.LittleEndian.PutUint64(iv[0:8], r.rng.Uint64())
	binary.LittleEndian.PutUint64(iv[8:16], r.rng.Uint64())
	return iv
}

// persist encrypts the current record with iv and writes it to flash as a
// single page: erase, then write. A power loss between the two leaves an
// erased page, which the next Load fails to verify and reinitializes.
func (r *Roster) persist(iv [ivLen]byte) error {
	full := r.rec.marshal()
	cipherSpan, err := r.encryptSpan(full[:encLen], iv[:])
	if err != nil {
		return fmt.Errorf("roster: encrypt: %w", err)
	}

	out := make([]byte, recordLen)
	copy(out, cipherSpan)
	copy(out[encLen:], full[encLen:]) // clear MAC tail + IV, unchanged

	if err := r.dev.ErasePage(); err != nil {
		return fmt.Errorf("roster: erase page: %w", err)
	}
	if err := r.dev.WritePage(out); err != nil {
		return fmt.Errorf("roster: write page: %w", err)
	}
	return nil
}

func (r *Roster) encryptSpan(plain, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(r.aesKey)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)
	return out, nil
}

func (r *Roster) decryptSpan(ciphertext, iv []byte) ([]byte, error) {
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext not block-aligned: %d", len(ciphertext))
	}
	block, err := aes.NewCipher(r.aesKey)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

// Contains reports whether id is in the active set.
func (r *Roster) Contains(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := uint32(0); i < r.rec.Count; i++ {
		if r.rec.IDs[i] == id {
			return true
		}
	}
	return false
}

// IDs returns a copy of the active component IDs, in stored order.
func (r *Roster) IDs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint32, r.rec.Count)
	copy(out, r.rec.IDs[:r.rec.Count])
	return out
}

// Count returns the number of active entries.
func (r *Roster) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.rec.Count)
}

// Replace swaps idOut for idIn in place. The IV is intentionally not
// rerolled here — it only changes on the next integrity-failure reinit,
// not on an ordinary replace (see DESIGN.md, "IV reuse on Replace").
func (r *Roster) Replace(idOut, idIn uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := uint32(0); i < r.rec.Count; i++ {
		if r.rec.IDs[i] == idIn {
			return ErrDuplicate
		}
	}

	slot := -1
	for i := uint32(0); i < r.rec.Count; i++ {
		if r.rec.IDs[i] == idOut {
			slot = int(i)
			break
		}
	}
	if slot == -1 {
		return ErrNotProvisioned
	}

	r.rec.IDs[slot] = idIn
	header := r.rec.marshal()[:headerLen]
	r.rec.MAC = r.mac(header)

	log.Infof("roster: replaced 0x%08x with 0x%08x", idOut, idIn)
	return r.persist(r.rec.IV)
}
