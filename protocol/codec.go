// Package protocol implements the Tuya LAN wire frame: command and
// version enumerations, the Message type, and the codec that turns a
// Message into bytes (and back) per §4.3 of the protocol notes — prefix,
// sequence, command, declared length, optional return code, encrypted
// payload, and a CRC32 or HMAC-SHA256 integrity trailer, framed between a
// fixed 4-byte prefix and suffix.
package protocol

import (
	"bytes"
	"fmt"

	"github.com/tuyalan/tuyalan/cipher"
	"github.com/tuyalan/tuyalan/internal/bytesutil"
)

// FramePrefix and FrameSuffix are the byte-exact frame delimiters every
// version of the protocol uses (spec external interfaces: prefix
// `00 00 55 AA`, suffix `00 00 AA 55`). Exported so a connection's receive
// loop can reject garbage before reading a declared-length body.
var (
	FramePrefix = []byte{0x00, 0x00, 0x55, 0xaa}
	FrameSuffix = []byte{0x00, 0x00, 0xaa, 0x55}
)

var (
	framePrefix = FramePrefix
	frameSuffix = FrameSuffix
)

// HeaderLength is the width, in bytes, of the fixed prefix+sequence+
// command+declaredLength block a connection's receive loop reads before
// it knows how many more bytes to read.
const HeaderLength = 16

// PeekHeader validates header's prefix and returns the declared length
// that follows it, so a receive loop knows how many more bytes to read
// before handing the whole frame to Decode. header must be exactly
// HeaderLength bytes (the first 16 bytes of a frame).
func PeekHeader(header []byte) (declaredLength int32, err error) {
	if len(header) != HeaderLength {
		return 0, fmt.Errorf("protocol: header must be %d bytes, got %d: %w", HeaderLength, len(header), ErrMalformedFrame)
	}
	if !bytes.Equal(header[0:4], framePrefix) {
		return 0, fmt.Errorf("protocol: bad prefix: %w", ErrMalformedFrame)
	}
	declaredLength, err = bytesutil.ReadUint32BE(header, 12)
	if err != nil {
		return 0, fmt.Errorf("protocol: reading declared length: %w", err)
	}
	return declaredLength, nil
}

// minFrameLength is the smallest possible CRC-variant frame: prefix(4) +
// seq(4) + cmd(4) + length(4) + retcode(4) + crc(4) + suffix(4).
const minFrameLength = 28

// Encode serializes msg per v's framing rules. Under v3.1-v3.3 cipher may
// be nil for a diagnostic, unencrypted frame (payload used as-is); under
// v3.4 it must not be nil, since its original key keys the HMAC trailer.
//
// The return-code field is written only when msg.ReturnCode is non-nil —
// that slot exists on the wire only for device-originated (response)
// frames. A caller-built request (the common case) leaves ReturnCode nil
// and gets a frame with no return-code bytes at all, matching observed
// device traffic; the declared length then equals payload+trailer+4
// with no slot for it. Encoding a message with
// ReturnCode set produces the response shape Decode expects.
func Encode(msg Message, c *cipher.Cipher, v Version) ([]byte, error) {
	prepared, err := preparePayload(msg.Payload, msg.Command, v, c)
	if err != nil {
		return nil, err
	}

	crcLen := v.crcLength()
	retcodeLen := 0
	if msg.ReturnCode != nil {
		retcodeLen = 4
	}
	declaredLength := int32(retcodeLen + len(prepared) + crcLen + 4)

	out := make([]byte, 0, 16+retcodeLen+len(prepared)+crcLen+4)
	out = append(out, framePrefix...)
	out = bytesutil.PutUint32BE(out, msg.Sequence)
	out = bytesutil.PutUint32BE(out, int32(msg.Command))
	out = bytesutil.PutUint32BE(out, declaredLength)
	if msg.ReturnCode != nil {
		out = bytesutil.PutUint32BE(out, *msg.ReturnCode)
	}

	integrityInput := append(append([]byte(nil), out...), prepared...)

	var trailer []byte
	if v == V34 {
		trailer = bytesutil.HMACSHA256(c.OriginalKey(), integrityInput)
	} else {
		trailer = bytesutil.CRC32Bytes(integrityInput)
	}

	out = append(out, prepared...)
	out = append(out, trailer...)
	out = append(out, frameSuffix...)
	return out, nil
}

// preparePayload implements the encode-side payload-layering rules:
// version-gated encryption and header placement per protocol version.
func preparePayload(payload []byte, cmd Command, v Version, c *cipher.Cipher) ([]byte, error) {
	if c == nil {
		return payload, nil
	}

	if v == v35 || !v.Supported() {
		return nil, fmt.Errorf("protocol: encoding under version %q: %w", v, ErrUnsupportedVersion)
	}

	if v == V31 {
		if cmd == CommandControl {
			return nil, fmt.Errorf("protocol: encoding CONTROL under v3.1: %w", ErrUnsupportedCommandVariant)
		}
		return payload, nil
	}

	if !headerEligible(cmd) {
		return c.Encrypt(payload)
	}

	switch v {
	case V32, V33:
		ciphertext, err := c.Encrypt(payload)
		if err != nil {
			return nil, err
		}
		return append(v.header(), ciphertext...), nil
	case V34:
		return c.Encrypt(append(v.header(), payload...))
	default:
		return nil, fmt.Errorf("protocol: encoding under version %q: %w", v, ErrUnsupportedVersion)
	}
}

// Decode parses a complete frame (as assembled by a connection's receive
// loop from a prefix, 12-byte header, and declaredLength more bytes) into
// a Message. cipher may be nil to read the payload as raw, undecrypted
// bytes (diagnostic use). Device-originated frames carry a return code at
// offset 16, which Decode returns in ReturnCode. A frame encoded from a
// request (ReturnCode nil) has no such slot; Decode recognizes it by a
// value at offset 16 with any of its top three bytes set, reads the
// payload from offset 16 instead, and leaves ReturnCode nil.
func Decode(data []byte, c *cipher.Cipher, v Version) (Message, error) {
	crcLen := v.crcLength()
	minLen := 16 + 4 + crcLen + 4 // header + retcode + trailer + suffix
	if minLen < minFrameLength {
		minLen = minFrameLength
	}
	if len(data) < minLen {
		return Message{}, fmt.Errorf("protocol: frame length %d below minimum %d: %w", len(data), minLen, ErrMalformedFrame)
	}

	if !bytes.Equal(data[0:4], framePrefix) {
		return Message{}, fmt.Errorf("protocol: bad prefix: %w", ErrMalformedFrame)
	}
	if !bytes.Equal(data[len(data)-4:], frameSuffix) {
		return Message{}, fmt.Errorf("protocol: bad suffix: %w", ErrMalformedFrame)
	}

	sequence, err := bytesutil.ReadUint32BE(data, 4)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: reading sequence: %w", err)
	}
	commandCode, err := bytesutil.ReadUint32BE(data, 8)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: reading command: %w", err)
	}
	cmd := Command(uint8(commandCode))
	if !cmd.Known() {
		return Message{}, fmt.Errorf("protocol: code 0x%02x: %w", uint8(commandCode), ErrUnknownCommand)
	}

	returnCode, err := bytesutil.ReadUint32BE(data, 16)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: reading return code: %w", err)
	}

	trailerStart := len(data) - 4 - crcLen
	trailer := data[trailerStart : len(data)-4]
	integrityInput := data[:trailerStart]

	var expected []byte
	if v == V34 {
		if c == nil {
			return Message{}, fmt.Errorf("protocol: v3.4 HMAC verification requires a cipher: %w", ErrMalformedFrame)
		}
		expected = bytesutil.HMACSHA256(c.OriginalKey(), integrityInput)
	} else {
		expected = bytesutil.CRC32Bytes(integrityInput)
	}
	if !bytes.Equal(trailer, expected) {
		return Message{}, fmt.Errorf("protocol: integrity mismatch: %w", ErrMalformedFrame)
	}

	// A request-shaped frame has no return-code slot, so the four bytes at
	// offset 16 already belong to the payload (a version header, plaintext
	// JSON, or ciphertext). A real return code is a small number: any of
	// its top three bytes being set marks a frame without the slot.
	bodyStart := 20
	rc := &returnCode
	if uint32(returnCode)&0xffffff00 != 0 {
		bodyStart = 16
		rc = nil
	}

	body := data[bodyStart:trailerStart]
	plaintext, err := decodePayload(body, cmd, c, v)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Command:    cmd,
		Payload:    plaintext,
		Sequence:   sequence,
		ReturnCode: rc,
	}, nil
}

// decodePayload mirrors preparePayload's layering rules so that decode
// undoes exactly what encode did for (v, cmd): v3.1 never encrypts;
// no-header commands are plain-encrypted at every version; v3.2/v3.3
// header-eligible commands carry their 15-byte version header in
// plaintext ahead of the ciphertext; v3.4 header-eligible commands carry
// it embedded inside the ciphertext. Within each header-eligible branch,
// the header's version bytes are sniffed against v itself (not a fixed
// "3.3") before being stripped, tolerating devices that omit the header
// bytes some firmwares are observed to skip.
func decodePayload(body []byte, cmd Command, c *cipher.Cipher, v Version) ([]byte, error) {
	if c == nil || len(body) == 0 {
		return body, nil
	}

	if v == V31 {
		// v3.1 non-CONTROL commands are never encrypted on encode; there
		// is nothing here to decrypt.
		return body, nil
	}

	if !headerEligible(cmd) {
		pt, err := c.Decrypt(body)
		if err != nil {
			return nil, fmt.Errorf("protocol: decrypting payload: %w", joinDecrypt(err))
		}
		return pt, nil
	}

	switch v {
	case V32, V33:
		if len(body) >= 15+16 && string(body[0:3]) == string(v) {
			pt, err := c.Decrypt(body[15:])
			if err != nil {
				return nil, fmt.Errorf("protocol: decrypting headered payload: %w", joinDecrypt(err))
			}
			return pt, nil
		}
		pt, err := c.Decrypt(body)
		if err != nil {
			return nil, fmt.Errorf("protocol: decrypting payload: %w", joinDecrypt(err))
		}
		return pt, nil
	case V34:
		pt, err := c.Decrypt(body)
		if err != nil {
			return nil, fmt.Errorf("protocol: decrypting payload: %w", joinDecrypt(err))
		}
		if len(pt) >= 15 && string(pt[0:3]) == string(v) {
			return pt[15:], nil
		}
		return pt, nil
	default:
		return nil, fmt.Errorf("protocol: decoding under version %q: %w", v, ErrUnsupportedVersion)
	}
}

func joinDecrypt(err error) error {
	return fmt.Errorf("%w: %v", ErrDecryptFailure, err)
}
