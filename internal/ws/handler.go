package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-coordinator/internal/observability"
)

const lifecycleRoutingKey = "ws_events.chat"

// Handler upgrades HTTP requests to chat connections.
type Handler struct {
	hub      *Hub
	sink     EventSink
	upgrader websocket.Upgrader
	opts     ClientOptions
	log      *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, sink EventSink, policy *OriginPolicy, opts ClientOptions, log *slog.Logger) *Handler {
	return &Handler{
		hub:  hub,
		sink: sink,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.Check,
		},
		opts: opts,
		log:  log,
	}
}

// Handle upgrades the connection and registers the client with the hub.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-coordinator/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := NewClient(conn, info, h.opts, h.log)
	h.hub.Register(client)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect", "ok")
	h.publishLifecycle("ws_connect", info, "")

	h.hub.Serve(client, h.sink, func() {
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect", "ok")
		h.publishLifecycle("ws_disconnect", info, "")
	})
}

func (h *Handler) publishLifecycle(name string, info ConnInfo, reason string) {
	// The handshake request context is gone once Handle returns.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	envelope := observability.WSEvent(name, info.ConnID, info.IP, "", reason, time.Since(info.ConnectedAt).Milliseconds())
	if err := observability.PublishEvent(ctx, lifecycleRoutingKey, envelope, observability.BuildHeaders(info.RequestID, info.TraceID)); err != nil {
		h.log.Debug("failed to publish lifecycle event", "event", name, "error", err)
	}
}
