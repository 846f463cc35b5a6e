// Package cipher implements the AES-128-ECB/PKCS7 cipher used to encrypt
// Tuya's LAN protocol payloads, along with the device-secret-to-key
// normalization rule described by the protocol.
package cipher

import (
	stdcipher "crypto/aes"
	"errors"
	"fmt"

	"github.com/tuyalan/tuyalan/internal/bytesutil"
)

const blockSize = 16

// ErrInvalidCiphertext is returned by Decrypt when the input length is not
// a multiple of the AES block size.
var ErrInvalidCiphertext = errors.New("cipher: ciphertext is not block-aligned")

// Cipher holds the 16-byte AES key normalized from a device's local key,
// plus the original key bytes (needed verbatim as the HMAC-SHA256 key for
// protocol v3.4 framing).
type Cipher struct {
	key         []byte // normalized, always 16 bytes
	originalKey []byte

	// StrictPadding turns malformed PKCS7 padding on decrypt into a hard
	// error instead of the protocol's default best-effort passthrough.
	// See DESIGN.md's resolution of the "padding tolerance" open question.
	StrictPadding bool
}

// New derives a Cipher from a device's local key. If localKey's UTF-8
// encoding is exactly 16 bytes and forceMD5 is false, it is used verbatim;
// otherwise the key is the MD5 digest of localKey's UTF-8 bytes.
func New(localKey string, forceMD5 bool) *Cipher {
	raw := []byte(localKey)
	var key []byte
	if len(raw) == blockSize && !forceMD5 {
		key = append([]byte(nil), raw...)
	} else {
		key = bytesutil.MD5Sum(raw)
	}
	return &Cipher{key: key, originalKey: raw}
}

// Key returns the normalized 16-byte AES key.
func (c *Cipher) Key() []byte {
	return append([]byte(nil), c.key...)
}

// OriginalKey returns the original, un-normalized local-key bytes. Used as
// the HMAC-SHA256 key for v3.4 frame integrity.
func (c *Cipher) OriginalKey() []byte {
	return append([]byte(nil), c.originalKey...)
}

// Encrypt AES-128-ECB/PKCS7-encrypts plaintext of any length. The result's
// length is len(plaintext) rounded up to the next multiple of 16.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := stdcipher.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("cipher: building AES block: %w", err)
	}

	padded := bytesutil.PadPKCS7(plaintext, blockSize)
	out := make([]byte, len(padded))
	for off := 0; off < len(padded); off += blockSize {
		block.Encrypt(out[off:off+blockSize], padded[off:off+blockSize])
	}
	return out, nil
}

// Decrypt reverses Encrypt. Fails when the ciphertext length is not a
// multiple of 16 or (with StrictPadding set) when the trailing padding is
// invalid.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%blockSize != 0 {
		return nil, fmt.Errorf("cipher: decrypting %d bytes: %w", len(ciphertext), ErrInvalidCiphertext)
	}

	block, err := stdcipher.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("cipher: building AES block: %w", err)
	}

	out := make([]byte, len(ciphertext))
	for off := 0; off < len(ciphertext); off += blockSize {
		block.Decrypt(out[off:off+blockSize], ciphertext[off:off+blockSize])
	}

	if c.StrictPadding {
		if len(out) == 0 {
			return nil, fmt.Errorf("cipher: empty plaintext after decrypt")
		}
		padLen := int(out[len(out)-1])
		if padLen < 1 || padLen > blockSize || padLen > len(out) {
			return nil, fmt.Errorf("cipher: invalid PKCS7 padding byte %d", out[len(out)-1])
		}
		for _, b := range out[len(out)-padLen:] {
			if int(b) != padLen {
				return nil, fmt.Errorf("cipher: invalid PKCS7 padding: byte %d in a %d-byte pad", b, padLen)
			}
		}
	}

	return bytesutil.UnpadPKCS7(out, blockSize), nil
}

// CalculateSuffix returns MD5("data=<deviceId>||lpv=3.3||<localKey>"), the
// 16-byte suffix some devices use for their own side of integrity
// checking. Kept for completeness; not exercised by the codec itself.
func CalculateSuffix(deviceID, localKey string) []byte {
	s := fmt.Sprintf("data=%s||lpv=3.3||%s", deviceID, localKey)
	return bytesutil.MD5Sum([]byte(s))
}
