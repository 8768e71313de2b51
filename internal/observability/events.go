package observability

type EventEnvelope struct {
	EventType string `json:"event_type"`
	EventName string `json:"event_name"`
	Payload   any    `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// WSEvent builds the envelope published on websocket lifecycle changes.
func WSEvent(name, connID, ip, user, reason string, durationMS int64) EventEnvelope {
	return EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: map[string]any{
			"ws": map[string]any{
				"event":       name,
				"conn_id":     connID,
				"duration_ms": durationMS,
				"reason":      reason,
			},
			"identity": map[string]any{
				"username": user,
				"ip":       ip,
			},
		},
	}
}
