package server

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrelay/internal/logging"
	"github.com/Tyrowin/chatrelay/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// ClientOptions are the per-connection limits.
type ClientOptions struct {
	MaxMessageSize int64
	RateBurst      int
	RateInterval   time.Duration
}

// Client is one websocket connection. It owns its state machine and the
// identity it authenticated as; the registry only points back at it.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	relay   *Relay
	addr    string
	limiter *rateLimiter
	opts    ClientOptions
	ctx     context.Context

	mu       sync.Mutex
	state    connState
	identity models.Identity
}

// NewClient creates a client for conn. conn may be nil in tests, in which
// case frames are only queued on the send channel.
func NewClient(conn *websocket.Conn, hub *Hub, relay *Relay, addr string, opts ClientOptions) *Client {
	if conn != nil && opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	id := uuid.NewString()
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		hub:     hub,
		relay:   relay,
		addr:    addr,
		limiter: newRateLimiter(opts.RateBurst, opts.RateInterval),
		opts:    opts,
		ctx:     logging.ContextWithConnID(context.Background(), id),
	}
}

// ID returns the connection id used in logs.
func (c *Client) ID() string { return c.id }

// GetSendChan returns the outbound frame queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Identity returns the authenticated identity, if any.
func (c *Client) Identity() (models.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity, c.state == stateAuthenticated
}

func (c *Client) currentState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// authenticate moves the client to Authenticated. It fails if the client
// is not Unauthenticated.
func (c *Client) authenticate(id models.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateUnauthenticated {
		return false
	}
	c.identity = id
	c.state = stateAuthenticated
	return true
}

func (c *Client) log() *zerolog.Logger {
	l := logging.Ctx(c.ctx).With().Str("remote_addr", c.addr).Logger()
	if id, ok := c.Identity(); ok {
		l = l.With().Str("user_id", string(id)).Logger()
	}
	return &l
}

// Send queues a frame without blocking. A client whose buffer is full is
// closed as a slow consumer.
func (c *Client) Send(frame []byte) bool {
	if frame == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.closeLocked()
		logging.Warn().Str("conn_id", c.id).Str("remote_addr", c.addr).
			Msg("closing client with full send buffer")
		return false
	}
}

// Close moves the client to Closed. The write pump flushes queued frames,
// sends a close message and closes the transport.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.state == stateClosed {
		return
	}
	c.state = stateClosed
	close(c.send)
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log().Debug().Err(err).Msg("failed to set initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs the read failure at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log().Warn().Int64("limit", c.opts.MaxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log().Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log().Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.log().Warn().Err(err).Msg("unexpected websocket close")
	default:
		c.log().Debug().Err(err).Msg("websocket read ended")
	}
}

func (c *Client) checkRateLimit() bool {
	if c.limiter.allow() {
		return true
	}
	c.log().Debug().Int("burst", c.opts.RateBurst).Dur("interval", c.opts.RateInterval).Msg("rate limit exceeded")
	return false
}

// readPump handles frames one at a time until the transport fails.
func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.relay.Disconnect(c)
		c.hub.detach(c)
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.checkRateLimit() {
			c.relay.reject(c, protocolError("rate limit exceeded"))
			continue
		}
		c.relay.HandleFrame(c.ctx, c, raw)
	}
}

// writePump drains the send queue. It exits once the queue is closed or a
// write fails, and always closes the transport.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				c.writeCloseMessage()
				return
			}
			if !c.writeFrame(frame) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log().Debug().Err(err).Msg("error closing connection")
	}
}

func (c *Client) writeCloseMessage() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.log().Debug().Err(err).Msg("error writing close message")
	}
}

// writeFrame writes one frame per websocket message so clients can parse
// each message as a single JSON object.
func (c *Client) writeFrame(frame []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log().Debug().Err(err).Msg("error setting write deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			c.log().Warn().Err(err).Msg("error writing frame")
		}
		return false
	}
	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log().Debug().Err(err).Msg("error writing ping")
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
