package device

import "encoding/json"

// Status is a snapshot of a device's data points: point id to JSON scalar
// value (bool, number, or string), as last observed from a refresh
// response or an unsolicited push.
type Status map[string]interface{}

// Clone returns a shallow copy of s.
func (s Status) Clone() Status {
	out := make(Status, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// dpsEnvelope covers the three response shapes a device may use for a
// data-point payload: a bare {"dps": …} object, one nested under "data",
// or — least common — the dps map as the payload's top level.
type dpsEnvelope struct {
	Dps  map[string]interface{} `json:"dps"`
	Data *struct {
		Dps map[string]interface{} `json:"dps"`
	} `json:"data"`
}

// parseStatus extracts a data-point map from a decoded message payload.
// Malformed payloads return an error; callers handling unsolicited
// pushes are expected to swallow it.
func parseStatus(payload []byte) (Status, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var env dpsEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if env.Data != nil && env.Data.Dps != nil {
		return Status(env.Data.Dps), nil
	}
	if env.Dps != nil {
		return Status(env.Dps), nil
	}

	var bare map[string]interface{}
	if err := json.Unmarshal(payload, &bare); err != nil {
		return nil, err
	}
	return Status(bare), nil
}
