package websocket

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"telemetry-relay/domain"
)

const (
	DefaultWriteWait  = 10 * time.Second
	DefaultPongWait   = 60 * time.Second
	DefaultReadLimit  = 100 << 20 // 100 MiB
	DefaultSendBuffer = 256
)

type Config struct {
	WriteWait  time.Duration
	PongWait   time.Duration // zero disables keepalive pings
	ReadLimit  int64         // zero disables the limit
	SendBuffer int
}

func DefaultConfig() Config {
	return Config{
		WriteWait:  DefaultWriteWait,
		PongWait:   DefaultPongWait,
		ReadLimit:  DefaultReadLimit,
		SendBuffer: DefaultSendBuffer,
	}
}

func (c Config) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

type Conn struct {
	id    string
	role  domain.Role
	ws    *websocket.Conn
	send  chan []byte
	done  chan struct{}
	sink  domain.EventSink
	cfg   Config
	state atomic.Int32
}

func NewConn(id string, role domain.Role, ws *websocket.Conn, sink domain.EventSink, cfg Config) *Conn {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	c := &Conn{
		id:   id,
		role: role,
		ws:   ws,
		send: make(chan []byte, cfg.SendBuffer),
		done: make(chan struct{}),
		sink: sink,
		cfg:  cfg,
	}
	c.state.Store(int32(domain.StateConnecting))
	return c
}

func (c *Conn) ID() string        { return c.id }
func (c *Conn) Role() domain.Role { return c.role }

func (c *Conn) State() domain.State {
	return domain.State(c.state.Load())
}

// Send queues data for the write pump without blocking.
func (c *Conn) Send(data []byte) error {
	if c.State() != domain.StateOpen {
		return domain.ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return domain.ErrSendBufferFull
	}
}

func (c *Conn) Close() error {
	c.state.CompareAndSwap(int32(domain.StateOpen), int32(domain.StateClosing))
	return c.ws.Close()
}

// Start marks the connection open, announces it and starts the pumps. The
// connect event is submitted before the read pump can submit any message.
func (c *Conn) Start() {
	c.state.Store(int32(domain.StateOpen))
	c.submit(domain.Event{Kind: domain.EventConnect, Conn: c})
	go c.writePump()
	go c.readPump()
}

func (c *Conn) submit(ev domain.Event) {
	if err := c.sink.Submit(ev); err != nil {
		slog.Debug("event not submitted", "clientId", c.id, "kind", ev.Kind, "error", err)
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.state.Store(int32(domain.StateClosing))
		close(c.done)
		c.ws.Close()
		c.state.Store(int32(domain.StateClosed))
		c.submit(domain.Event{Kind: domain.EventClose, Conn: c})
	}()

	if c.cfg.ReadLimit > 0 {
		c.ws.SetReadLimit(c.cfg.ReadLimit)
	}
	if c.cfg.PongWait > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		c.ws.SetPongHandler(func(string) error {
			c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
			return nil
		})
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if isTransportError(err) {
				slog.Error("read error", "clientId", c.id, "error", err)
				c.submit(domain.Event{Kind: domain.EventError, Conn: c, Err: err})
			}
			return
		}

		c.submit(domain.Event{Kind: domain.EventMessage, Conn: c, Data: data})
	}
}

func (c *Conn) writePump() {
	var tick <-chan time.Time
	if c.cfg.PongWait > 0 {
		ticker := time.NewTicker(c.cfg.pingPeriod())
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.ws.Close()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.writeFailed(err)
				return
			}
		case <-tick:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.writeFailed(err)
				return
			}
		}
	}
}

// writeFailed reports a write error unless the read pump already tore the
// connection down. The deferred close in writePump then ends the read pump,
// which submits the close event.
func (c *Conn) writeFailed(err error) {
	if c.State() != domain.StateOpen || !isTransportError(err) {
		return
	}
	slog.Error("write error", "clientId", c.id, "error", err)
	c.submit(domain.Event{Kind: domain.EventError, Conn: c, Err: fmt.Errorf("write: %w", err)})
}

// isTransportError reports whether err is a socket failure rather than an
// orderly close by either side.
func isTransportError(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return websocket.IsUnexpectedCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		)
	}
	return !errors.Is(err, net.ErrClosed) && !errors.Is(err, websocket.ErrCloseSent)
}
