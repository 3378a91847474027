package wsserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/potluck/internal/dispatch"
)

var (
	// ErrClientClosed is returned by Send once the connection is closing.
	ErrClientClosed = errors.New("client closed")
	// ErrSendBufferFull is returned by Send when the peer is not reading.
	ErrSendBufferFull = errors.New("send buffer full")
)

// client is one WebSocket connection. It satisfies session.Conn.
type client struct {
	id     string
	conn   *websocket.Conn
	cfg    Config
	logger *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, cfg Config, logger *zap.Logger) *client {
	id := uuid.New().String()
	return &client{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		logger: logger.With(zap.String("conn", id)),
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *client) ID() string {
	return c.id
}

// Send queues frame for the write pump. It never blocks.
func (c *client) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops both pumps. Frames already queued are still written.
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// serve runs the pumps until the connection ends. Each inbound frame is
// handled on its own goroutine, at most cfg.FrameConcurrency at a time.
func (c *client) serve(ctx context.Context, d *dispatch.Dispatcher) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.FrameConcurrency)
	c.readPump(gctx, g, d)

	c.Close()
	g.Wait()
	d.Disconnect(c)
	<-writerDone
	c.logger.Debug("connection closed")
}

func (c *client) readPump(ctx context.Context, g *errgroup.Group, d *dispatch.Dispatcher) {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	// Unblock ReadMessage when the connection is closed from our side.
	go func() {
		select {
		case <-c.done:
			c.conn.SetReadDeadline(time.Now())
		case <-ctx.Done():
			c.conn.SetReadDeadline(time.Now())
		}
	}()

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read ended", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("binary frame ignored")
			continue
		}

		g.Go(func() error {
			if err := d.Handle(ctx, c, message); err != nil {
				c.logger.Debug("reply not sent", zap.Error(err))
			}
			return nil
		})
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				c.Close()
				return
			}

		case <-c.done:
			c.flush()
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, such as the reply to sign_out.
func (c *client) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.conn.WriteMessage(messageType, data)
}
