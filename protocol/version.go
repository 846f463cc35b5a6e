package protocol

import "fmt"

// Version is a Tuya LAN protocol version. It controls payload layering
// and the integrity algorithm used by the wire codec.
type Version string

// Supported protocol versions. 3.5 is recognized only to be rejected —
// full v3.5 framing is out of scope for this engine.
const (
	V31 Version = "3.1"
	V32 Version = "3.2"
	V33 Version = "3.3"
	V34 Version = "3.4"
	v35 Version = "3.5"
)

// String implements fmt.Stringer.
func (v Version) String() string {
	return string(v)
}

// Supported reports whether v is implemented by this engine.
func (v Version) Supported() bool {
	switch v {
	case V31, V32, V33, V34:
		return true
	default:
		return false
	}
}

// ParseVersion validates and returns a Version for s.
func ParseVersion(s string) (Version, error) {
	v := Version(s)
	if !v.Supported() {
		return "", fmt.Errorf("protocol: version %q: %w", s, ErrUnsupportedVersion)
	}
	return v, nil
}

// header returns the 15-byte version header (3 ASCII bytes + 12 zero
// bytes) this version prepends or embeds ahead of encrypted payloads.
// v3.1 never uses a header; callers must not call this for V31.
func (v Version) header() []byte {
	h := make([]byte, 15)
	copy(h, []byte(v))
	return h
}

// crcLength returns the width, in bytes, of this version's integrity
// trailer: 4 for CRC32 (v3.1-3.3), 32 for HMAC-SHA256 (v3.4).
func (v Version) crcLength() int {
	if v == V34 {
		return 32
	}
	return 4
}
