package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/nats-io/nats.go"

	"github.com/casualjim/strix/pkg/slogx"
	"github.com/casualjim/strix/wire"
)

// NATS returns a provider that publishes each conversation's outbound
// frames to "<prefix>.<conversation>.out". Obtain hands out one channel
// per conversation; every channel shares the connection, and when the
// connection closes they all close.
func NATS(conn *nats.Conn, prefix string) Provider {
	p := &natsProvider{
		conn:     conn,
		prefix:   prefix,
		channels: haxmap.New[string, *natsChannel](),
		done:     make(chan struct{}),
	}
	conn.SetClosedHandler(func(*nats.Conn) { p.close() })
	if conn.IsClosed() {
		p.close()
	}
	return p
}

// SubscribeInbound listens on "<prefix>.*.in" and feeds every decoded
// frame to dispatch. The caller owns the returned subscription.
func SubscribeInbound(conn *nats.Conn, prefix string, dispatch func(wire.Frame)) (*nats.Subscription, error) {
	return subscribeFrames(conn, fmt.Sprintf("%s.*.in", prefix), dispatch)
}

// SubscribeOutbound mirrors SubscribeInbound for the "<prefix>.*.out" side,
// the frames agents publish. Taps and recorders listen here.
func SubscribeOutbound(conn *nats.Conn, prefix string, dispatch func(wire.Frame)) (*nats.Subscription, error) {
	return subscribeFrames(conn, fmt.Sprintf("%s.*.out", prefix), dispatch)
}

func subscribeFrames(conn *nats.Conn, subject string, dispatch func(wire.Frame)) (*nats.Subscription, error) {
	return conn.Subscribe(subject, func(msg *nats.Msg) {
		f, err := wire.FromJSON(msg.Data)
		if err != nil {
			slog.Error("failed to unmarshal frame", slogx.Error(err), slog.String("subject", msg.Subject))
			return
		}
		dispatch(f)
	})
}

type natsProvider struct {
	conn     *nats.Conn
	prefix   string
	channels *haxmap.Map[string, *natsChannel]
	done     chan struct{}
	once     sync.Once
}

func (p *natsProvider) close() {
	p.once.Do(func() { close(p.done) })
}

func (p *natsProvider) Obtain(_ context.Context, conversationID string) (Channel, error) {
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}
	ch, _ := p.channels.GetOrCompute(conversationID, func() *natsChannel {
		return &natsChannel{
			conn:    p.conn,
			subject: fmt.Sprintf("%s.%s.out", p.prefix, conversationID),
			done:    p.done,
		}
	})
	return ch, nil
}

type natsChannel struct {
	conn    *nats.Conn
	subject string
	done    chan struct{}
}

func (c *natsChannel) Send(_ context.Context, f wire.Frame) error {
	data, err := wire.ToJSON(f)
	if err != nil {
		return err
	}
	return c.conn.Publish(c.subject, data)
}

func (c *natsChannel) Closed() <-chan struct{} { return c.done }

func (c *natsChannel) Err() error {
	return c.conn.LastError()
}
