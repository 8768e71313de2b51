package ws

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chat-coordinator/internal/models"
	"chat-coordinator/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EventSink receives decoded inbound frames and connection loss notices.
type EventSink interface {
	Deliver(connID string, frame models.Frame)
	Disconnect(connID string)
}

// ClientOptions bounds what a single connection may do.
type ClientOptions struct {
	MaxMessageSize    int64
	SendBufferSize    int
	RateLimitBurst    int
	RateLimitInterval time.Duration
}

// Client is one websocket connection and its outbound queue.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	info      ConnInfo
	limiter   *rate.Limiter
	opts      ClientOptions
	closeOnce sync.Once
	log       *slog.Logger
}

// NewClient wraps conn. conn may be nil in tests that only inspect the send
// queue.
func NewClient(conn *websocket.Conn, info ConnInfo, opts ClientOptions, log *slog.Logger) *Client {
	if conn != nil && opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	var limiter *rate.Limiter
	if opts.RateLimitBurst > 0 && opts.RateLimitInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.RateLimitInterval/time.Duration(opts.RateLimitBurst)), opts.RateLimitBurst)
	}
	return &Client{
		conn:    conn,
		send:    make(chan []byte, opts.SendBufferSize),
		info:    info,
		limiter: limiter,
		opts:    opts,
		log:     log.With("conn_id", info.ConnID),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.info.ConnID
}

// Info returns the connection metadata.
func (c *Client) Info() ConnInfo {
	return c.info
}

// SendChan exposes queued outbound frames.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

func (c *Client) readPump(hub *Hub, sink EventSink) {
	defer func() {
		hub.Unregister(c.ID())
		sink.Disconnect(c.ID())
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			observability.IncDroppedFrame("rate_limited")
			c.log.Warn("rate limit exceeded, discarding frame", "burst", c.opts.RateLimitBurst, "interval", c.opts.RateLimitInterval.String())
			continue
		}

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			observability.IncDroppedFrame("malformed")
			c.log.Debug("discarding malformed frame", "error", err)
			continue
		}
		sink.Deliver(c.ID(), frame)
	}
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("failed to set read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		observability.IncDroppedFrame("oversized")
		c.log.Warn("frame exceeded maximum size", "limit", c.opts.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Info("client disconnected", "reason", err.Error())
	case errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed):
		c.log.Info("connection closed", "reason", err.Error())
	default:
		c.log.Warn("websocket read error", "error", err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One websocket message per frame; clients parse each message as a
			// single JSON document.
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("failed to write frame", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) closeConnection() {
	if c.conn == nil {
		return
	}
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.log.Debug("error closing connection", "error", err)
		}
	})
}
