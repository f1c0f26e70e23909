package strix

import (
	"fmt"

	"github.com/fogfish/opts"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/casualjim/strix/pkg/uuidx"
	"github.com/casualjim/strix/wire"
)

// Exchange is one turn of the conversation: the messages a single request
// and its responses produced, grouped under one envelope id.
type Exchange struct {
	node[wire.ExchangeEvent]

	start *wire.ExchangeStart
	end   *wire.ExchangeEnd

	messages *orderedmap.OrderedMap[string, *Message]

	msgStartHandlers     handlers[*Message]
	msgCompletedHandlers handlers[MessageCompletion]
	endHandlers          handlers[wire.ExchangeEnd]
}

func newExchange(s *Session, id string) *Exchange {
	x := &Exchange{
		node:     newNode[wire.ExchangeEvent](s, &s.treeMu, id),
		messages: orderedmap.New[string, *Message](),
	}
	x.node.wrap = func(ev wire.ExchangeEvent) wire.FrameBody {
		return wire.ExchangeEnvelope{ID: id, Event: ev}
	}
	x.node.deliver = x.deliverEvent
	x.node.detach = func() { s.exchanges.Delete(id) }
	x.node.parentScope = s.InErrorScope
	return x
}

// Start returns the exchange's start event. It fails with ErrNoStartEvent
// when the exchange was materialized by a non-start event.
func (x *Exchange) Start() (wire.ExchangeStart, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.start == nil {
		return wire.ExchangeStart{}, ErrNoStartEvent
	}
	return *x.start, nil
}

// OnMessageStart registers fn for messages appearing under this exchange.
// Without at least one registration, events for unknown messages are
// dropped instead of materializing them.
func (x *Exchange) OnMessageStart(fn func(*Message)) func() {
	return x.msgStartHandlers.on(fn)
}

// OnMessageCompleted registers fn for the completion aggregate of every
// message that finishes under this exchange.
func (x *Exchange) OnMessageCompleted(fn func(MessageCompletion)) func() {
	return x.msgCompletedHandlers.on(fn)
}

// OnEnd registers fn for the exchange's end event.
func (x *Exchange) OnEnd(fn func(wire.ExchangeEnd)) func() {
	return x.endHandlers.on(fn)
}

// StartMessage opens a message under this exchange and emits its start
// event. An empty role defaults to the user role.
func (x *Exchange) StartMessage(start wire.MessageStart, options ...opts.Option[startConfig]) (*Message, error) {
	cfg := startConfig{}
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	if start.Role == "" {
		start.Role = wire.RoleUser
	}
	id := cfg.id
	if id == "" {
		id = uuidx.Prefixed("msg")
	}

	x.mu.Lock()
	if err := x.ensureLiveLocked(); err != nil {
		x.mu.Unlock()
		return nil, err
	}
	if _, ok := x.messages.Get(id); ok {
		x.mu.Unlock()
		return nil, fmt.Errorf("%w: message %s", ErrDuplicateID, id)
	}
	m := newMessage(x, id)
	m.start = &start
	x.messages.Set(id, m)
	x.mu.Unlock()

	x.sess.emit(m.wrap(start))
	return m, nil
}

// Message opens a message, runs fn against it and ends the message with
// whatever fn returns. A nil fn, or one that has nothing to add, ends the
// message with the zero payload.
func (x *Exchange) Message(start wire.MessageStart, fn func(*Message) wire.MessageEnd) error {
	m, err := x.StartMessage(start)
	if err != nil {
		return err
	}
	var end wire.MessageEnd
	if fn != nil {
		end = fn(m)
	}
	return m.SendEnd(end)
}

// SendMessageWithContentPart emits a complete single-part message: start,
// one content part carrying data, and both ends.
func (x *Exchange) SendMessageWithContentPart(data string, ct wire.ContentType) error {
	m, err := x.StartMessage(wire.MessageStart{Role: wire.RoleUser})
	if err != nil {
		return err
	}
	p, err := m.StartContentPart(wire.ContentPartStart{Type: ct})
	if err != nil {
		return err
	}
	if err := p.SendText(data); err != nil {
		return err
	}
	if err := p.SendEnd(wire.ContentPartEnd{}); err != nil {
		return err
	}
	return m.SendEnd(wire.MessageEnd{})
}

// SendEnd closes the exchange and retires it from its session.
func (x *Exchange) SendEnd(end wire.ExchangeEnd) error {
	x.mu.Lock()
	if err := x.ensureLiveLocked(); err != nil {
		x.mu.Unlock()
		return err
	}
	x.ended = true
	x.end = &end
	x.mu.Unlock()

	x.sess.emit(x.wrap(end))
	x.Delete()
	return nil
}

// Delete removes the exchange and everything under it, descendants first.
// Deleting is idempotent.
func (x *Exchange) Delete() {
	var fires []func()
	x.mu.Lock()
	x.deleteLocked(&fires)
	x.mu.Unlock()
	for _, fn := range fires {
		fn()
	}
}

func (x *Exchange) deleteLocked(fires *[]func()) {
	if !x.beginDeleteLocked() {
		return
	}
	msgs := make([]*Message, 0, x.messages.Len())
	for pair := x.messages.Oldest(); pair != nil; pair = pair.Next() {
		msgs = append(msgs, pair.Value)
	}
	for _, m := range msgs {
		m.deleteLocked(fires)
	}
	x.finishDeleteLocked(fires)
}

// routeMessage finds or materializes the addressed message and hands the
// inner event down. Unknown messages materialize only when someone listens
// for them; otherwise the event drops.
func (x *Exchange) routeMessage(env wire.MessageEnvelope, echoed bool) {
	x.mu.Lock()
	if x.deleted {
		x.mu.Unlock()
		return
	}
	m, ok := x.messages.Get(env.ID)
	var notify []func(*Message)
	if !ok {
		if x.msgStartHandlers.size() == 0 {
			x.mu.Unlock()
			return
		}
		m = newMessage(x, env.ID)
		if st, isStart := env.Event.(wire.MessageStart); isStart {
			m.start = &st
		}
		x.messages.Set(env.ID, m)
		m.announced = true
		notify = x.msgStartHandlers.snapshot()
	} else if _, isStart := env.Event.(wire.MessageStart); isStart && !m.announced {
		m.announced = true
		notify = x.msgStartHandlers.snapshot()
	}
	x.mu.Unlock()

	for _, fn := range notify {
		fn(m)
	}
	m.dispatch(env.Event, echoed)
}

func (x *Exchange) deliverEvent(ev wire.ExchangeEvent, echoed bool) {
	switch event := ev.(type) {
	case wire.ExchangeStart:
		x.mu.Lock()
		if x.start == nil {
			x.start = &event
		}
		x.mu.Unlock()
	case wire.ExchangeEnd:
		x.mu.Lock()
		if x.endFired {
			x.mu.Unlock()
			return
		}
		x.endFired = true
		x.ended = true
		if x.end == nil {
			x.end = &event
		}
		x.mu.Unlock()

		x.endHandlers.emit(event)
		x.Delete()
	case wire.MessageEnvelope:
		x.routeMessage(event, echoed)
	case wire.Meta:
		x.handleMeta(event)
	case wire.ErrorStart:
		x.handleErrorStart(event, echoed)
	case wire.ErrorEnd:
		x.handleErrorEnd(event, echoed)
	default:
		panic(fmt.Sprintf("unknown exchange event type: %T", event))
	}
}
