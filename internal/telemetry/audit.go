package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

const publishTimeout = 5 * time.Second

// AuditEmitter publishes audit envelopes from a background worker so callers
// on the dispatcher loop never wait on the broker. Envelopes are dropped when
// the queue is full.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan AuditEnvelope
	done   chan struct{}
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	ConnID        string       `json:"conn_id"`
	TraceID       string       `json:"trace_id,omitempty"`
	Username      *string      `json:"username,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, buffer int, log *slog.Logger) *AuditEmitter {
	if buffer <= 0 {
		buffer = 1
	}
	e := &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
		queue:       make(chan AuditEnvelope, buffer),
		done:        make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit queues an audit record. It never blocks.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, connID, username string) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		ConnID:        connID,
		Payload: AuditPayload{
			Level: level,
			Text:  text,
		},
	}
	if username != "" {
		envelope.Username = &username
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		envelope.TraceID = sc.TraceID().String()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- envelope:
	default:
		e.log.Warn("audit queue full, dropping record", "level", level, "text", text)
	}
}

// Close stops accepting records and waits for queued ones to be published.
func (e *AuditEmitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()
	<-e.done
}

func (e *AuditEmitter) run() {
	defer close(e.done)
	for envelope := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		headers := map[string]string{}
		if envelope.TraceID != "" {
			headers["trace_id"] = envelope.TraceID
		}
		if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
			e.log.Error("audit publish failed", "error", err)
		}
		cancel()
	}
}
