package models

import "encoding/json"

// Frame is one inbound websocket unit: a named event, its positional
// arguments and an optional acknowledgement id.
type Frame struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args"`
	Ack   *int64            `json:"ack,omitempty"`
}

// Arg decodes the positional argument i into dst. It reports false when the
// argument is missing or does not decode.
func (f Frame) Arg(i int, dst any) bool {
	if i < 0 || i >= len(f.Args) {
		return false
	}
	return json.Unmarshal(f.Args[i], dst) == nil
}

// Outbound is a server-to-client event.
type Outbound struct {
	Event string `json:"event"`
	Args  []any  `json:"args"`
}

// AckReply answers an inbound frame that carried an ack id.
type AckReply struct {
	Ack  int64 `json:"ack"`
	Args []any `json:"args"`
}
