package strix

import (
	"fmt"

	"github.com/go-openapi/swag"

	"github.com/casualjim/strix/wire"
)

// InputStream pushes caller-supplied binary data into the conversation,
// session-scoped so it can run alongside exchanges: microphone audio while
// the assistant streams a reply, a file upload during a long tool call.
// Outbound chunks are stamped with a monotonic sequence number so the
// receiving side can detect gaps.
type InputStream struct {
	node[wire.StreamEvent]

	start *wire.StreamStart
	end   *wire.StreamEnd
	seq   int64

	chunkHandlers handlers[wire.StreamChunk]
	endHandlers   handlers[wire.StreamEnd]
}

func newInputStream(s *Session, id string) *InputStream {
	st := &InputStream{
		node: newNode[wire.StreamEvent](s, &s.treeMu, id),
	}
	st.node.wrap = func(ev wire.StreamEvent) wire.FrameBody {
		return wire.InputStreamEnvelope{ID: id, Event: ev}
	}
	st.node.deliver = st.deliverEvent
	st.node.detach = func() { s.streams.Delete(id) }
	st.node.parentScope = s.InErrorScope
	return st
}

// Start returns the stream's start event. It fails with ErrNoStartEvent
// when the stream was materialized by a non-start event.
func (st *InputStream) Start() (wire.StreamStart, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.start == nil {
		return wire.StreamStart{}, ErrNoStartEvent
	}
	return *st.start, nil
}

// OnChunk registers fn for every data chunk delivered to this stream.
func (st *InputStream) OnChunk(fn func(wire.StreamChunk)) func() {
	return st.chunkHandlers.on(fn)
}

// OnEnd registers fn for the stream's end event.
func (st *InputStream) OnEnd(fn func(wire.StreamEnd)) func() {
	return st.endHandlers.on(fn)
}

// SendChunk emits one slice of stream data, stamped with the next sequence
// number.
func (st *InputStream) SendChunk(data []byte) error {
	st.mu.Lock()
	if err := st.ensureLiveLocked(); err != nil {
		st.mu.Unlock()
		return err
	}
	chunk := wire.StreamChunk{Data: data, Sequence: swag.Int64(st.seq)}
	st.seq++
	st.mu.Unlock()

	st.sess.emit(st.wrap(chunk))
	return nil
}

// SendEnd closes the stream and retires it from its session.
func (st *InputStream) SendEnd(end wire.StreamEnd) error {
	st.mu.Lock()
	if err := st.ensureLiveLocked(); err != nil {
		st.mu.Unlock()
		return err
	}
	st.ended = true
	st.end = &end
	st.mu.Unlock()

	st.sess.emit(st.wrap(end))
	st.Delete()
	return nil
}

// Delete removes the stream from its session. Deleting is idempotent and
// fires the stream's deletion listeners exactly once.
func (st *InputStream) Delete() {
	var fires []func()
	st.mu.Lock()
	st.deleteLocked(&fires)
	st.mu.Unlock()
	for _, fn := range fires {
		fn()
	}
}

func (st *InputStream) deleteLocked(fires *[]func()) {
	if !st.beginDeleteLocked() {
		return
	}
	st.finishDeleteLocked(fires)
}

func (st *InputStream) deliverEvent(ev wire.StreamEvent, echoed bool) {
	switch event := ev.(type) {
	case wire.StreamStart:
		st.mu.Lock()
		if st.start == nil {
			st.start = &event
		}
		st.mu.Unlock()
	case wire.StreamChunk:
		st.chunkHandlers.emit(event)
	case wire.StreamEnd:
		st.mu.Lock()
		if st.endFired {
			st.mu.Unlock()
			return
		}
		st.endFired = true
		st.ended = true
		if st.end == nil {
			st.end = &event
		}
		st.mu.Unlock()

		st.endHandlers.emit(event)
		st.Delete()
	case wire.Meta:
		st.handleMeta(event)
	case wire.ErrorStart:
		st.handleErrorStart(event, echoed)
	case wire.ErrorEnd:
		st.handleErrorEnd(event, echoed)
	default:
		panic(fmt.Sprintf("unknown input stream event type: %T", event))
	}
}
