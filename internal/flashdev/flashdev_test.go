package flashdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDevice_NewDeviceIsErased(t *testing.T) {
	d := NewMemDevice()
	page, err := d.ReadPage()
	require.NoError(t, err)
	for _, b := range page {
		require.Equal(t, byte(0xFF), b)
	}
}

func TestMemDevice_WriteRequiresPriorErase(t *testing.T) {
	d := NewMemDevice()
	require.NoError(t, d.WritePage([]byte("hello")))

	err := d.WritePage([]byte("world"))
	assert.Error(t, err, "a second write without an intervening erase must fail")
}

func TestMemDevice_EraseThenWriteRoundTrips(t *testing.T) {
	d := NewMemDevice()
	require.NoError(t, d.WritePage([]byte("hello")))
	require.NoError(t, d.ErasePage())
	require.NoError(t, d.WritePage([]byte("world")))

	page, err := d.ReadPage()
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), page[:5])
}

func TestMemDevice_WriteRejectsOversizedData(t *testing.T) {
	d := NewMemDevice()
	err := d.WritePage(make([]byte, PageSize+1))
	assert.Error(t, err)
}

func TestMemDevice_CorruptByteFlipsExactlyOneByte(t *testing.T) {
	d := NewMemDevice()
	require.NoError(t, d.WritePage([]byte{0x01, 0x02, 0x03}))

	before, _ := d.ReadPage()
	d.CorruptByte(1)
	after, _ := d.ReadPage()

	assert.Equal(t, before[0], after[0])
	assert.NotEqual(t, before[1], after[1])
	assert.Equal(t, before[2], after[2])
}
