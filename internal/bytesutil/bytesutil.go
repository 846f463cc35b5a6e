// Package bytesutil collects the small binary helpers the Tuya wire format
// leans on repeatedly: big-endian int framing, hex codecs, the digests used
// for checksums and key derivation, and PKCS#7 padding.
package bytesutil

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

// ErrShortRead is returned by ReadUint32BE when fewer than 4 bytes remain
// at the requested offset.
var ErrShortRead = errors.New("bytesutil: short read")

// PutUint32BE writes v as 4 big-endian bytes at the end of dst and returns
// the extended slice.
func PutUint32BE(dst []byte, v int32) []byte {
	return append(dst,
		byte(v>>24),
		byte(v>>16),
		byte(v>>8),
		byte(v))
}

// ReadUint32BE reads a big-endian int32 from b at offset.
func ReadUint32BE(b []byte, offset int) (int32, error) {
	if offset < 0 || len(b) < offset+4 {
		return 0, fmt.Errorf("bytesutil: reading uint32 at offset %d: %w", offset, ErrShortRead)
	}
	v := uint32(b[offset])<<24 | uint32(b[offset+1])<<16 | uint32(b[offset+2])<<8 | uint32(b[offset+3])
	return int32(v), nil
}

// HexDecode decodes a hex string, tolerating spaces and colons used as
// byte separators. It rejects odd-length input and non-hex characters.
func HexDecode(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "").Replace(s)
	if len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("bytesutil: odd-length hex string")
	}
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("bytesutil: invalid hex string: %w", err)
	}
	return b, nil
}

// HexEncode returns the lowercase hex encoding of b with no separators.
func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// MD5Sum returns the MD5 digest of b.
func MD5Sum(b []byte) []byte {
	sum := md5.Sum(b)
	return sum[:]
}

// CRC32 returns the IEEE (zip-style) CRC32 checksum of b.
func CRC32(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// CRC32Bytes returns the IEEE CRC32 checksum of b as 4 big-endian bytes.
func CRC32Bytes(b []byte) []byte {
	out := make([]byte, 0, 4)
	return PutUint32BE(out, int32(CRC32(b)))
}

// HMACSHA256 returns the HMAC-SHA256 of data keyed by key.
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// PadPKCS7 pads data to a multiple of blockSize, always appending at least
// one byte of padding (a full block of value blockSize if data is already
// aligned).
func PadPKCS7(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

// UnpadPKCS7 strips PKCS#7 padding. If the trailing byte is out of range
// [1, blockSize] the input is returned unchanged — devices on this
// protocol occasionally emit malformed trailing bytes and strict rejection
// does more harm than good on the read path.
func UnpadPKCS7(data []byte, blockSize int) []byte {
	if len(data) == 0 {
		return data
	}
	padLen := int(data[len(data)-1])
	if padLen < 1 || padLen > blockSize || padLen > len(data) {
		return data
	}
	return data[:len(data)-padLen]
}

// XOR returns a ^ b for equal-length slices. Panics if lengths differ.
func XOR(a, b []byte) []byte {
	if len(a) != len(b) {
		panic("bytesutil: XOR operands must have equal length")
	}
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
