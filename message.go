package strix

import (
	"context"
	"fmt"
	"slices"

	"github.com/fogfish/opts"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/casualjim/strix/pkg/uuidx"
	"github.com/casualjim/strix/wire"
)

// Message groups the content parts streamed for one utterance together
// with the tool calls issued while producing it. When the message ends it
// publishes a completion aggregate combining its own start and end with
// the completions of everything that finished under it.
type Message struct {
	node[wire.MessageEvent]

	exch *Exchange

	start *wire.MessageStart
	end   *wire.MessageEnd

	parts *orderedmap.OrderedMap[string, *ContentPart]
	calls *orderedmap.OrderedMap[string, *ToolCall]

	partCompletions []ContentPartCompletion
	callCompletions []ToolCallCompletion
	completed       *MessageCompletion

	partStartHandlers handlers[*ContentPart]
	callStartHandlers handlers[*ToolCall]
	endHandlers       handlers[wire.MessageEnd]
	completedHandlers handlers[MessageCompletion]
}

func newMessage(x *Exchange, id string) *Message {
	m := &Message{
		node:  newNode[wire.MessageEvent](x.sess, x.mu, id),
		exch:  x,
		parts: orderedmap.New[string, *ContentPart](),
		calls: orderedmap.New[string, *ToolCall](),
	}
	m.node.wrap = func(ev wire.MessageEvent) wire.FrameBody {
		return x.wrap(wire.MessageEnvelope{ID: id, Event: ev})
	}
	m.node.deliver = m.deliverEvent
	m.node.detach = func() { x.messages.Delete(id) }
	m.node.parentScope = x.InErrorScope
	return m
}

// wrapMessageEvent nests one of this message's child events all the way up
// to a frame body.
func (m *Message) wrapMessageEvent(ev wire.MessageEvent) wire.FrameBody {
	return m.wrap(ev)
}

// Start returns the message's start event. It fails with ErrNoStartEvent
// when the message was materialized by a non-start event.
func (m *Message) Start() (wire.MessageStart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.start == nil {
		return wire.MessageStart{}, ErrNoStartEvent
	}
	return *m.start, nil
}

// Role returns the message's role, or the zero value when the message has
// no start event.
func (m *Message) Role() wire.MessageRole {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.start == nil {
		return ""
	}
	return m.start.Role
}

// IsUser reports whether the message was authored by the user.
func (m *Message) IsUser() bool { return m.Role() == wire.RoleUser }

// IsAssistant reports whether the message was authored by the assistant.
func (m *Message) IsAssistant() bool { return m.Role() == wire.RoleAssistant }

// IsSystem reports whether the message carries system content.
func (m *Message) IsSystem() bool { return m.Role() == wire.RoleSystem }

// OnContentPartStart registers fn for content parts appearing under this
// message. Without at least one registration, events for unknown parts are
// dropped instead of materializing them.
func (m *Message) OnContentPartStart(fn func(*ContentPart)) func() {
	return m.partStartHandlers.on(fn)
}

// OnToolCallStart registers fn for tool calls appearing under this
// message. Without at least one registration, events for unknown calls are
// dropped instead of materializing them.
func (m *Message) OnToolCallStart(fn func(*ToolCall)) func() {
	return m.callStartHandlers.on(fn)
}

// OnToolCallCompleted registers fn for every tool call under this message
// that runs to its end event. Sugar for OnToolCallStart plus OnEnd on each
// call.
func (m *Message) OnToolCallCompleted(fn func(ToolCallCompletion)) func() {
	return m.OnToolCallStart(func(t *ToolCall) {
		t.OnEnd(func(end wire.ToolCallEnd) {
			var start wire.ToolCallStart
			if st, err := t.Start(); err == nil {
				start = st
			}
			fn(ToolCallCompletion{ID: t.ID(), Start: start, End: end})
		})
	})
}

// OnEnd registers fn for the message's end event.
func (m *Message) OnEnd(fn func(wire.MessageEnd)) func() {
	return m.endHandlers.on(fn)
}

// OnCompleted registers fn for the message's completion aggregate, built
// once when the end event is delivered.
func (m *Message) OnCompleted(fn func(MessageCompletion)) func() {
	return m.completedHandlers.on(fn)
}

// Completion blocks until the message completes or ctx is done. A message
// that already completed resolves immediately.
func (m *Message) Completion(ctx context.Context) (MessageCompletion, error) {
	ch := make(chan MessageCompletion, 1)
	dispose := m.OnCompleted(func(c MessageCompletion) {
		select {
		case ch <- c:
		default:
		}
	})
	defer dispose()

	// Check after registering so an end landing in between cannot slip by.
	m.mu.Lock()
	if m.completed != nil {
		c := *m.completed
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	select {
	case c := <-ch:
		return c, nil
	case <-ctx.Done():
		return MessageCompletion{}, ctx.Err()
	}
}

// StartContentPart opens a content part under this message and emits its
// start event.
func (m *Message) StartContentPart(start wire.ContentPartStart, options ...opts.Option[startConfig]) (*ContentPart, error) {
	cfg := startConfig{}
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	id := cfg.id
	if id == "" {
		id = uuidx.Prefixed("part")
	}

	m.mu.Lock()
	if err := m.ensureLiveLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if _, ok := m.parts.Get(id); ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: content part %s", ErrDuplicateID, id)
	}
	p := newContentPart(m, id)
	p.start = &start
	m.parts.Set(id, p)
	m.mu.Unlock()

	m.sess.emit(p.wrap(start))
	return p, nil
}

// StartToolCall opens a tool call under this message and emits its start
// event. The start must name the tool being invoked.
func (m *Message) StartToolCall(start wire.ToolCallStart, options ...opts.Option[startConfig]) (*ToolCall, error) {
	if start.Name == "" {
		return nil, fmt.Errorf("tool call start requires a name")
	}
	cfg := startConfig{}
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	id := cfg.id
	if id == "" {
		id = uuidx.Prefixed("tc")
	}

	m.mu.Lock()
	if err := m.ensureLiveLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if _, ok := m.calls.Get(id); ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: tool call %s", ErrDuplicateID, id)
	}
	t := newToolCall(m, id)
	t.start = &start
	m.calls.Set(id, t)
	m.mu.Unlock()

	m.sess.emit(t.wrap(start))
	return t, nil
}

// ContentPart opens a content part, runs fn against it and ends the part
// with whatever fn returns. A nil fn, or one that has nothing to add, ends
// the part with the zero payload.
func (m *Message) ContentPart(start wire.ContentPartStart, fn func(*ContentPart) wire.ContentPartEnd) error {
	p, err := m.StartContentPart(start)
	if err != nil {
		return err
	}
	var end wire.ContentPartEnd
	if fn != nil {
		end = fn(p)
	}
	return p.SendEnd(end)
}

// ToolCall opens a tool call, runs fn against it and ends the call with
// whatever fn returns.
func (m *Message) ToolCall(start wire.ToolCallStart, fn func(*ToolCall) wire.ToolCallEnd) error {
	t, err := m.StartToolCall(start)
	if err != nil {
		return err
	}
	var end wire.ToolCallEnd
	if fn != nil {
		end = fn(t)
	}
	return t.SendEnd(end)
}

// SendEnd closes the message and retires it from its exchange.
func (m *Message) SendEnd(end wire.MessageEnd) error {
	m.mu.Lock()
	if err := m.ensureLiveLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.ended = true
	m.end = &end
	m.mu.Unlock()

	m.sess.emit(m.wrap(end))
	m.Delete()
	return nil
}

// Delete removes the message and everything under it. Children notify
// their deletion listeners before the message does. Deleting is idempotent.
func (m *Message) Delete() {
	var fires []func()
	m.mu.Lock()
	m.deleteLocked(&fires)
	m.mu.Unlock()
	for _, fn := range fires {
		fn()
	}
}

func (m *Message) deleteLocked(fires *[]func()) {
	if !m.beginDeleteLocked() {
		return
	}
	parts := make([]*ContentPart, 0, m.parts.Len())
	for pair := m.parts.Oldest(); pair != nil; pair = pair.Next() {
		parts = append(parts, pair.Value)
	}
	for _, p := range parts {
		p.deleteLocked(fires)
	}
	calls := make([]*ToolCall, 0, m.calls.Len())
	for pair := m.calls.Oldest(); pair != nil; pair = pair.Next() {
		calls = append(calls, pair.Value)
	}
	for _, t := range calls {
		t.deleteLocked(fires)
	}
	m.finishDeleteLocked(fires)
}

func (m *Message) partCompleted(c ContentPartCompletion) {
	m.mu.Lock()
	m.partCompletions = append(m.partCompletions, c)
	m.mu.Unlock()
}

func (m *Message) callCompleted(c ToolCallCompletion) {
	m.mu.Lock()
	m.callCompletions = append(m.callCompletions, c)
	m.mu.Unlock()
}

func (m *Message) completionLocked(end wire.MessageEnd) MessageCompletion {
	var start wire.MessageStart
	if m.start != nil {
		start = *m.start
	}
	return MessageCompletion{
		ID:           m.id,
		Start:        start,
		End:          end,
		ContentParts: slices.Clone(m.partCompletions),
		ToolCalls:    slices.Clone(m.callCompletions),
	}
}

// routeContentPart finds or materializes the addressed part and hands the
// inner event down. Unknown parts materialize only when someone listens
// for them; otherwise the event drops.
func (m *Message) routeContentPart(env wire.ContentPartEnvelope, echoed bool) {
	m.mu.Lock()
	if m.deleted {
		m.mu.Unlock()
		return
	}
	p, ok := m.parts.Get(env.ID)
	var notify []func(*ContentPart)
	if !ok {
		if m.partStartHandlers.size() == 0 {
			m.mu.Unlock()
			return
		}
		p = newContentPart(m, env.ID)
		if st, isStart := env.Event.(wire.ContentPartStart); isStart {
			p.start = &st
		}
		m.parts.Set(env.ID, p)
		p.announced = true
		notify = m.partStartHandlers.snapshot()
	} else if _, isStart := env.Event.(wire.ContentPartStart); isStart && !p.announced {
		p.announced = true
		notify = m.partStartHandlers.snapshot()
	}
	m.mu.Unlock()

	for _, fn := range notify {
		fn(p)
	}
	p.dispatch(env.Event, echoed)
}

// routeToolCall is routeContentPart for the message's tool calls.
func (m *Message) routeToolCall(env wire.ToolCallEnvelope, echoed bool) {
	m.mu.Lock()
	if m.deleted {
		m.mu.Unlock()
		return
	}
	t, ok := m.calls.Get(env.ID)
	var notify []func(*ToolCall)
	if !ok {
		if m.callStartHandlers.size() == 0 {
			m.mu.Unlock()
			return
		}
		t = newToolCall(m, env.ID)
		if st, isStart := env.Event.(wire.ToolCallStart); isStart {
			t.start = &st
		}
		m.calls.Set(env.ID, t)
		t.announced = true
		notify = m.callStartHandlers.snapshot()
	} else if _, isStart := env.Event.(wire.ToolCallStart); isStart && !t.announced {
		t.announced = true
		notify = m.callStartHandlers.snapshot()
	}
	m.mu.Unlock()

	for _, fn := range notify {
		fn(t)
	}
	t.dispatch(env.Event, echoed)
}

func (m *Message) deliverEvent(ev wire.MessageEvent, echoed bool) {
	switch event := ev.(type) {
	case wire.MessageStart:
		m.mu.Lock()
		if m.start == nil {
			m.start = &event
		}
		m.mu.Unlock()
	case wire.MessageEnd:
		m.mu.Lock()
		if m.endFired {
			m.mu.Unlock()
			return
		}
		m.endFired = true
		m.ended = true
		if m.end == nil {
			m.end = &event
		}
		completion := m.completionLocked(event)
		m.completed = &completion
		m.mu.Unlock()

		m.endHandlers.emit(event)
		m.completedHandlers.emit(completion)
		m.exch.msgCompletedHandlers.emit(completion)
		m.Delete()
	case wire.ContentPartEnvelope:
		m.routeContentPart(event, echoed)
	case wire.ToolCallEnvelope:
		m.routeToolCall(event, echoed)
	case wire.Meta:
		m.handleMeta(event)
	case wire.ErrorStart:
		m.handleErrorStart(event, echoed)
	case wire.ErrorEnd:
		m.handleErrorEnd(event, echoed)
	default:
		panic(fmt.Sprintf("unknown message event type: %T", event))
	}
}
