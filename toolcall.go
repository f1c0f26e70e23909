package strix

import (
	"fmt"

	"github.com/casualjim/strix/wire"
)

// ToolCall tracks one tool invocation from its start, carrying the tool
// name and input, to its end, carrying the output or a cancellation. A
// message-scoped tool call contributes its completion to the owning
// message's aggregate; the session-scoped variant is AsyncToolCall.
type ToolCall struct {
	node[wire.ToolCallEvent]

	// msg is nil for session-scoped calls.
	msg *Message

	start *wire.ToolCallStart
	end   *wire.ToolCallEnd

	endHandlers handlers[wire.ToolCallEnd]
}

func newToolCall(m *Message, id string) *ToolCall {
	t := &ToolCall{
		node: newNode[wire.ToolCallEvent](m.sess, m.mu, id),
		msg:  m,
	}
	t.node.wrap = func(ev wire.ToolCallEvent) wire.FrameBody {
		return m.wrapMessageEvent(wire.ToolCallEnvelope{ID: id, Event: ev})
	}
	t.node.deliver = t.deliverEvent
	t.node.detach = func() { m.calls.Delete(id) }
	t.node.parentScope = m.InErrorScope
	return t
}

// Start returns the call's start event. It fails with ErrNoStartEvent when
// the call was materialized by a non-start event.
func (t *ToolCall) Start() (wire.ToolCallStart, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.start == nil {
		return wire.ToolCallStart{}, ErrNoStartEvent
	}
	return *t.start, nil
}

// Name returns the invoked tool's name, or the empty string when the call
// has no start event.
func (t *ToolCall) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.start == nil {
		return ""
	}
	return t.start.Name
}

// OnEnd registers fn for the call's end event.
func (t *ToolCall) OnEnd(fn func(wire.ToolCallEnd)) func() {
	return t.endHandlers.on(fn)
}

// SendEnd reports the call's result, closes it and retires it from its
// parent.
func (t *ToolCall) SendEnd(end wire.ToolCallEnd) error {
	t.mu.Lock()
	if err := t.ensureLiveLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.ended = true
	t.end = &end
	t.mu.Unlock()

	t.sess.emit(t.wrap(end))
	t.Delete()
	return nil
}

// Delete removes the call from its parent. Deleting is idempotent and
// fires the call's deletion listeners exactly once.
func (t *ToolCall) Delete() {
	var fires []func()
	t.mu.Lock()
	t.deleteLocked(&fires)
	t.mu.Unlock()
	for _, fn := range fires {
		fn()
	}
}

func (t *ToolCall) deleteLocked(fires *[]func()) {
	if !t.beginDeleteLocked() {
		return
	}
	t.finishDeleteLocked(fires)
}

func (t *ToolCall) deliverEvent(ev wire.ToolCallEvent, echoed bool) {
	switch event := ev.(type) {
	case wire.ToolCallStart:
		t.mu.Lock()
		if t.start == nil {
			t.start = &event
		}
		t.mu.Unlock()
	case wire.ToolCallEnd:
		t.mu.Lock()
		if t.endFired {
			t.mu.Unlock()
			return
		}
		t.endFired = true
		t.ended = true
		if t.end == nil {
			t.end = &event
		}
		var start wire.ToolCallStart
		if t.start != nil {
			start = *t.start
		}
		t.mu.Unlock()

		t.endHandlers.emit(event)
		if t.msg != nil {
			t.msg.callCompleted(ToolCallCompletion{ID: t.id, Start: start, End: event})
		}
		t.Delete()
	case wire.Meta:
		t.handleMeta(event)
	case wire.ErrorStart:
		t.handleErrorStart(event, echoed)
	case wire.ErrorEnd:
		t.handleErrorEnd(event, echoed)
	default:
		panic(fmt.Sprintf("unknown tool call event type: %T", event))
	}
}

// AsyncToolCall is a tool call scoped directly to the session, for work
// that outlives any single exchange. Its frames nest one envelope deep
// instead of riding inside an exchange and message.
type AsyncToolCall struct {
	ToolCall
}

func newAsyncToolCall(s *Session, id string) *AsyncToolCall {
	t := &AsyncToolCall{
		ToolCall: ToolCall{node: newNode[wire.ToolCallEvent](s, &s.treeMu, id)},
	}
	t.node.wrap = func(ev wire.ToolCallEvent) wire.FrameBody {
		return wire.ToolCallEnvelope{ID: id, Event: ev}
	}
	t.node.deliver = t.deliverEvent
	t.node.detach = func() { s.asyncCalls.Delete(id) }
	t.node.parentScope = s.InErrorScope
	return t
}
