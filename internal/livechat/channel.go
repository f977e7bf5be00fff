package livechat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soletrade/livechat/internal/chatwire"
)

// ErrChannelClosed is returned by Emit after the channel has been torn down.
var ErrChannelClosed = errors.New("livechat: channel closed")

// Channel is one bidirectional connection to the chat server.
type Channel interface {
	Emit(event string, payload any) error
	Close() error
}

// ChannelHooks receive channel lifecycle and inbound events. Implementations
// may invoke them from channel-owned goroutines; the session serializes them.
// OnConnected is fired by transports that signal reconnects on their own;
// dialers that connect synchronously leave it to the session.
type ChannelHooks struct {
	OnConnected    func()
	OnDisconnected func(err error)
	OnEvent        func(event string, data []byte)
}

// Dialer opens a connected Channel and wires its events to hooks.
type Dialer interface {
	Dial(ctx context.Context, hooks ChannelHooks) (Channel, error)
}

// WSDialer dials a websocket chat channel.
type WSDialer struct {
	URL    string
	Header http.Header
}

func (d WSDialer) Dial(ctx context.Context, hooks ChannelHooks) (Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, err
	}

	c := &wsChannel{
		conn:  conn,
		send:  make(chan chatwire.Envelope, 64),
		done:  make(chan struct{}),
		hooks: hooks,
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

// wsChannel has a single writer goroutine draining the send queue; Emit never
// touches the socket directly.
type wsChannel struct {
	conn  *websocket.Conn
	send  chan chatwire.Envelope
	done  chan struct{}
	hooks ChannelHooks

	closeOnce sync.Once
}

func (c *wsChannel) Emit(event string, payload any) error {
	env, err := chatwire.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}

func (c *wsChannel) writePump() {
	for {
		select {
		case env := <-c.send:
			if err := c.conn.WriteJSON(env); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsChannel) readPump() {
	for {
		var env chatwire.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
				// closed locally, not a transport failure
			default:
				_ = c.Close()
				if c.hooks.OnDisconnected != nil {
					c.hooks.OnDisconnected(err)
				}
			}
			return
		}
		if env.Event == "" {
			continue
		}
		if c.hooks.OnEvent != nil {
			c.hooks.OnEvent(env.Event, env.Data)
		}
	}
}
