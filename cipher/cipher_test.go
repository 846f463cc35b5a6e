package cipher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewKeyNormalization(t *testing.T) {
	// Exactly 16 bytes: used verbatim.
	c := New("JvEuI)cyLCdpGFf:", false)
	require.Equal(t, []byte("JvEuI)cyLCdpGFf:"), c.Key())

	// Force MD5 even at 16 bytes.
	c2 := New("JvEuI)cyLCdpGFf:", true)
	require.NotEqual(t, []byte("JvEuI)cyLCdpGFf:"), c2.Key())
	require.Len(t, c2.Key(), 16)

	// Not 16 bytes: MD5 hashed.
	c3 := New("short", false)
	require.Len(t, c3.Key(), 16)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := New("JvEuI)cyLCdpGFf:", false)

	pattern := [][]byte{
		nil,
		[]byte("a"),
		[]byte(`{"gwId":"bf4e86355fde4faab6l043"}`),
		make([]byte, 16),
		make([]byte, 31),
	}

	for _, p := range pattern {
		ct, err := c.Encrypt(p)
		require.NoError(t, err)
		require.Equal(t, 0, len(ct)%16)

		pt, err := c.Decrypt(ct)
		require.NoError(t, err)
		require.Equal(t, p, pt)
	}
}

func TestDecryptRejectsUnalignedCiphertext(t *testing.T) {
	c := New("JvEuI)cyLCdpGFf:", false)
	_, err := c.Decrypt([]byte{0x01, 0x02, 0x03})
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptStrictPaddingRejectsMalformed(t *testing.T) {
	c := New("JvEuI)cyLCdpGFf:", false)
	c.StrictPadding = true

	ct, err := c.Encrypt([]byte("hello"))
	require.NoError(t, err)

	// Flip a byte in the last (padding) block to corrupt padding.
	ct[len(ct)-1] ^= 0xff

	_, err = c.Decrypt(ct)
	require.Error(t, err)
}

func TestCalculateSuffix(t *testing.T) {
	got := CalculateSuffix("bf4e86355fde4faab6l043", "JvEuI)cyLCdpGFf:")
	require.Len(t, got, 16)
}
