package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/casualjim/strix/pkg/slogx"
	"github.com/casualjim/strix/wire"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsPingInterval     = 30 * time.Second
	wsSendBuffer       = 64
)

// WSChannel is a websocket-backed frame channel. A single write loop owns
// the connection's outbound side and keeps it alive with pings; the read
// loop decodes inbound frames and hands them to the dispatch callback.
type WSChannel struct {
	conn *websocket.Conn
	out  chan wire.Frame
	done chan struct{}
	once sync.Once

	wmu sync.Mutex

	mu  sync.Mutex
	err error
}

// DialWS connects to a frame endpoint over websocket. Inbound frames go to
// dispatch; pass nil to discard them.
func DialWS(ctx context.Context, wsURL string, dispatch func(wire.Frame)) (*WSChannel, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = wsHandshakeTimeout

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &WSChannel{
		conn: conn,
		out:  make(chan wire.Frame, wsSendBuffer),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop(dispatch)
	return c, nil
}

// Send queues f for the write loop.
func (c *WSChannel) Send(ctx context.Context, f wire.Frame) error {
	select {
	case <-c.done:
		return c.closeErr()
	default:
	}
	select {
	case c.out <- f:
		return nil
	case <-c.done:
		return c.closeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed reports when the connection went away.
func (c *WSChannel) Closed() <-chan struct{} { return c.done }

// Err returns the close cause, nil for a clean shutdown or while open.
func (c *WSChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the connection down cleanly.
func (c *WSChannel) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *WSChannel) closeErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (c *WSChannel) shutdown(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		// Best effort close handshake before dropping the socket.
		_ = c.writeMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
	})
}

func (c *WSChannel) writeMessage(messageType int, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *WSChannel) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.out:
			data, err := wire.ToJSON(f)
			if err != nil {
				slog.Error("failed to marshal frame", slogx.Error(err), slogx.Conversation(f.ConversationID))
				continue
			}
			if err := c.writeMessage(websocket.TextMessage, data); err != nil {
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *WSChannel) readLoop(dispatch func(wire.Frame)) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.shutdown(err)
			} else {
				c.shutdown(nil)
			}
			return
		}

		f, err := wire.FromJSON(data)
		if err != nil {
			slog.Error("failed to unmarshal frame", slogx.Error(err))
			continue
		}
		if dispatch != nil {
			dispatch(f)
		}
	}
}
