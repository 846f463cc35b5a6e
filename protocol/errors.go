package protocol

import "errors"

// Sentinel errors classifying wire-level failures. Callers should use
// errors.Is against these rather than matching message text.
var (
	// ErrMalformedFrame covers bad prefix, suffix, length, or integrity
	// checksum on decode.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrUnknownCommand is returned when a decoded command code isn't one
	// this engine recognizes.
	ErrUnknownCommand = errors.New("protocol: unknown command")

	// ErrDecryptFailure covers invalid ciphertext length or padding.
	ErrDecryptFailure = errors.New("protocol: decrypt failure")

	// ErrUnsupportedVersion is returned for v3.5 or any unrecognized
	// version string. Non-retryable.
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")

	// ErrUnsupportedCommandVariant is returned when encoding a CONTROL
	// command under v3.1, which this engine does not implement.
	// Non-retryable.
	ErrUnsupportedCommandVariant = errors.New("protocol: unsupported command variant for this version")
)
