package ws

import "time"

// ConnInfo describes one accepted websocket connection.
type ConnInfo struct {
	ConnID      string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
