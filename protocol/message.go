package protocol

// Message is a decoded or to-be-encoded Tuya LAN protocol frame: a
// command, an opaque payload (plaintext from the caller's perspective),
// a sequence number, and an optional return code.
//
// Sequence 0 on a Message passed to Encode means "the connection should
// assign one on send" — the codec itself never assigns sequence numbers.
type Message struct {
	Command    Command
	Payload    []byte
	Sequence   int32
	ReturnCode *int32 // nil for a request; non-nil reproduces a response frame on Encode; Decode sets it when the frame carries a return-code slot
}

// NewMessage builds a Message with no return code, the shape callers send.
func NewMessage(cmd Command, payload []byte, sequence int32) Message {
	return Message{Command: cmd, Payload: payload, Sequence: sequence}
}

// NewEmptyMessage builds a zero-payload Message, used for heartbeats and
// other bodyless commands.
func NewEmptyMessage(cmd Command, sequence int32) Message {
	return Message{Command: cmd, Sequence: sequence}
}
