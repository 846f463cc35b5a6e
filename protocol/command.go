package protocol

import "fmt"

// Command is an 8-bit-wide Tuya LAN protocol command code. It is carried
// on the wire as a 4-byte big-endian field (high 3 bytes always zero).
type Command uint8

// Wire command codes.
const (
	CommandUDP              Command = 0x00
	CommandAPConfig         Command = 0x01
	CommandSessKeyNegStart  Command = 0x03
	CommandSessKeyNegFinish Command = 0x04
	CommandSessKeyNegResp   Command = 0x05
	CommandControl          Command = 0x07
	CommandStatus           Command = 0x08
	CommandHeartBeat        Command = 0x09
	CommandDPQuery          Command = 0x0a
	CommandControlNew       Command = 0x0d
	CommandDPQueryNew       Command = 0x10
	CommandDPRefresh        Command = 0x12
	CommandUpdateDPS        = CommandDPRefresh // alias
	CommandDiscover         Command = 0x13
	CommandLanGwActive      Command = 0x25
	CommandLanExtStream     Command = 0x40
)

var commandNames = map[Command]string{
	CommandUDP:              "UDP",
	CommandAPConfig:         "AP_CONFIG",
	CommandSessKeyNegStart:  "SESS_KEY_NEG_START",
	CommandSessKeyNegFinish: "SESS_KEY_NEG_FINISH",
	CommandSessKeyNegResp:   "SESS_KEY_NEG_RESP",
	CommandControl:          "CONTROL",
	CommandStatus:           "STATUS",
	CommandHeartBeat:        "HEART_BEAT",
	CommandDPQuery:          "DP_QUERY",
	CommandControlNew:       "CONTROL_NEW",
	CommandDPQueryNew:       "DP_QUERY_NEW",
	CommandDPRefresh:        "DP_REFRESH",
	CommandDiscover:         "DISCOVER",
	CommandLanGwActive:      "LAN_GW_ACTIVE",
	CommandLanExtStream:     "LAN_EXT_STREAM",
}

// String implements fmt.Stringer. Unknown codes render as "unknown
// command(0xNN)" rather than panicking.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown command(0x%02x)", uint8(c))
}

// Known reports whether c is one of the codes this engine recognizes.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// noHeaderCommands is the set of commands whose payload never carries the
// 15-byte version header, even under v3.2/v3.3/v3.4 — they are always
// plain-encrypted.
var noHeaderCommands = map[Command]bool{
	CommandDPQuery:          true,
	CommandDPQueryNew:       true,
	CommandUpdateDPS:        true,
	CommandHeartBeat:        true,
	CommandSessKeyNegStart:  true,
	CommandSessKeyNegResp:   true,
	CommandSessKeyNegFinish: true,
	CommandLanExtStream:     true,
}

// headerEligible reports whether c's payload gets the version header
// treatment under v3.2/v3.3/v3.4 framing.
func headerEligible(c Command) bool {
	return !noHeaderCommands[c]
}
