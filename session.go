package strix

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/casualjim/strix/pkg/uuidx"
	"github.com/casualjim/strix/wire"
)

// Session is the root of one conversation's node tree. Every frame for the
// conversation funnels through it, and everything it or its descendants
// emit goes out stamped with its conversation id.
//
// A session is either started proactively through Manager.StartSession or
// materialized reactively when a frame arrives for an unknown conversation
// while a session-start handler is registered.
type Session struct {
	node[wire.FrameBody]
	treeMu sync.Mutex

	mgr            *Manager
	conversationID string
	ctx            context.Context
	echo           bool

	start *wire.SessionStart
	end   *wire.SessionEnd
	label string

	emitPaused bool
	emitQueue  []wire.Frame

	exchanges  *orderedmap.OrderedMap[string, *Exchange]
	asyncCalls *orderedmap.OrderedMap[string, *AsyncToolCall]
	streams    *orderedmap.OrderedMap[string, *InputStream]

	exchStartHandlers   handlers[*Exchange]
	asyncCallHandlers   handlers[*AsyncToolCall]
	streamStartHandlers handlers[*InputStream]
	startedHandlers     handlers[wire.SessionStarted]
	endingHandlers      handlers[wire.SessionEnding]
	endHandlers         handlers[wire.SessionEnd]
	labelHandlers       handlers[string]
	anyErrHandlers      handlers[ErrorEvent]
}

func newSession(m *Manager, conversationID string) *Session {
	s := &Session{
		mgr:            m,
		conversationID: conversationID,
		ctx:            context.Background(),
		exchanges:      orderedmap.New[string, *Exchange](),
		asyncCalls:     orderedmap.New[string, *AsyncToolCall](),
		streams:        orderedmap.New[string, *InputStream](),
	}
	s.node = newNode[wire.FrameBody](s, &s.treeMu, conversationID)
	s.node.sess = s
	s.node.wrap = func(body wire.FrameBody) wire.FrameBody { return body }
	s.node.deliver = s.deliverFrame
	s.node.detach = func() {
		m.sessions.Del(conversationID)
		if m.pool != nil {
			m.pool.Release(conversationID)
		}
	}
	return s
}

// ConversationID returns the conversation this session roots.
func (s *Session) ConversationID() string { return s.conversationID }

// Start returns the session's start event. It fails with ErrNoStartEvent
// when the session was materialized by a non-start frame.
func (s *Session) Start() (wire.SessionStart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.start == nil {
		return wire.SessionStart{}, ErrNoStartEvent
	}
	return *s.start, nil
}

// Label returns the session's display label, tracking label updates from
// either side.
func (s *Session) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}

// UpdateLabel changes the session's display label and emits the update.
func (s *Session) UpdateLabel(label string) error {
	s.mu.Lock()
	if err := s.ensureLiveLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.label = label
	s.mu.Unlock()

	s.emit(wire.LabelUpdated{Label: label})
	return nil
}

// OnExchangeStart registers fn for exchanges appearing in this session.
// Without at least one registration, frames for unknown exchanges are
// dropped instead of materializing them.
func (s *Session) OnExchangeStart(fn func(*Exchange)) func() {
	return s.exchStartHandlers.on(fn)
}

// OnAsyncToolCallStart registers fn for session-scoped tool calls.
func (s *Session) OnAsyncToolCallStart(fn func(*AsyncToolCall)) func() {
	return s.asyncCallHandlers.on(fn)
}

// OnAsyncToolCallCompleted registers fn for every session-scoped tool call
// that runs to its end event. Sugar for OnAsyncToolCallStart plus OnEnd on
// each call.
func (s *Session) OnAsyncToolCallCompleted(fn func(ToolCallCompletion)) func() {
	return s.OnAsyncToolCallStart(func(t *AsyncToolCall) {
		t.OnEnd(func(end wire.ToolCallEnd) {
			var start wire.ToolCallStart
			if st, err := t.Start(); err == nil {
				start = st
			}
			fn(ToolCallCompletion{ID: t.ID(), Start: start, End: end})
		})
	})
}

// OnInputStreamStart registers fn for input streams appearing in this
// session.
func (s *Session) OnInputStreamStart(fn func(*InputStream)) func() {
	return s.streamStartHandlers.on(fn)
}

// OnStarted registers fn for the service's session-started acknowledgment.
func (s *Session) OnStarted(fn func(wire.SessionStarted)) func() {
	return s.startedHandlers.on(fn)
}

// OnEnding registers fn for the wind-down notice that precedes a session
// end.
func (s *Session) OnEnding(fn func(wire.SessionEnding)) func() {
	return s.endingHandlers.on(fn)
}

// OnEnd registers fn for the session's end frame.
func (s *Session) OnEnd(fn func(wire.SessionEnd)) func() {
	return s.endHandlers.on(fn)
}

// OnLabelUpdated registers fn for label changes.
func (s *Session) OnLabelUpdated(fn func(string)) func() {
	return s.labelHandlers.on(fn)
}

// OnAnyError registers fn for every error start surfacing anywhere in this
// session's tree, regardless of which node it was scoped to and whether
// that node handled it.
func (s *Session) OnAnyError(fn func(ErrorEvent)) func() {
	return s.anyErrHandlers.on(fn)
}

// StartExchange opens an exchange and emits its start event.
func (s *Session) StartExchange(start wire.ExchangeStart, options ...opts.Option[startConfig]) (*Exchange, error) {
	cfg := startConfig{}
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	id := cfg.id
	if id == "" {
		id = uuidx.Prefixed("ex")
	}

	s.mu.Lock()
	if err := s.ensureLiveLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if _, ok := s.exchanges.Get(id); ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: exchange %s", ErrDuplicateID, id)
	}
	x := newExchange(s, id)
	x.start = &start
	s.exchanges.Set(id, x)
	s.mu.Unlock()

	s.emit(x.wrap(start))
	return x, nil
}

// Exchange opens an exchange, runs fn against it and ends the exchange
// with whatever fn returns. A nil fn ends it with the zero payload.
func (s *Session) Exchange(start wire.ExchangeStart, fn func(*Exchange) wire.ExchangeEnd) error {
	x, err := s.StartExchange(start)
	if err != nil {
		return err
	}
	var end wire.ExchangeEnd
	if fn != nil {
		end = fn(x)
	}
	return x.SendEnd(end)
}

// StartAsyncToolCall opens a session-scoped tool call and emits its start
// event. The start must name the tool being invoked.
func (s *Session) StartAsyncToolCall(start wire.ToolCallStart, options ...opts.Option[startConfig]) (*AsyncToolCall, error) {
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

	s.mu.Lock()
	if err := s.ensureLiveLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if _, ok := s.asyncCalls.Get(id); ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: tool call %s", ErrDuplicateID, id)
	}
	t := newAsyncToolCall(s, id)
	t.start = &start
	s.asyncCalls.Set(id, t)
	s.mu.Unlock()

	s.emit(t.wrap(start))
	return t, nil
}

// StartInputStream opens a session-scoped input stream and emits its start
// event.
func (s *Session) StartInputStream(start wire.StreamStart, options ...opts.Option[startConfig]) (*InputStream, error) {
	cfg := startConfig{}
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	id := cfg.id
	if id == "" {
		id = uuidx.Prefixed("st")
	}

	s.mu.Lock()
	if err := s.ensureLiveLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if _, ok := s.streams.Get(id); ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: input stream %s", ErrDuplicateID, id)
	}
	st := newInputStream(s, id)
	st.start = &start
	s.streams.Set(id, st)
	s.mu.Unlock()

	s.emit(st.wrap(start))
	return st, nil
}

// SendEnding announces that this side intends to end the session soon. The
// session stays fully operational until the end frame.
func (s *Session) SendEnding(ending wire.SessionEnding) error {
	if err := s.ensureLive(); err != nil {
		return err
	}
	s.emit(ending)
	return nil
}

// SendEnd closes the session and tears down its tree.
func (s *Session) SendEnd(end wire.SessionEnd) error {
	s.mu.Lock()
	if err := s.ensureLiveLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.ended = true
	s.end = &end
	s.mu.Unlock()

	s.emit(end)
	s.Delete()
	return nil
}

// PauseEmits withholds outbound frames, buffering them in emission order.
// Local echo is unaffected: handlers observe local activity at the moment
// it happens, not when the frames eventually leave.
func (s *Session) PauseEmits() {
	s.mu.Lock()
	s.emitPaused = true
	s.mu.Unlock()
}

// ResumeEmits sends the buffered frames in their original order, original
// timestamps intact, and then lifts the pause.
func (s *Session) ResumeEmits() {
	s.mu.Lock()
	if !s.emitPaused {
		s.mu.Unlock()
		return
	}
	for len(s.emitQueue) > 0 {
		f := s.emitQueue[0]
		s.emitQueue = s.emitQueue[1:]
		s.mu.Unlock()
		s.mgr.send(s.sendCtx(), f)
		s.mu.Lock()
	}
	s.emitPaused = false
	s.emitQueue = nil
	s.mu.Unlock()
}

// EmitsPaused reports whether outbound frames are currently buffered.
func (s *Session) EmitsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitPaused
}

// Delete tears down the session's tree, descendants first, and removes the
// session from its manager. Deleting is idempotent.
func (s *Session) Delete() {
	var fires []func()
	s.mu.Lock()
	s.deleteLocked(&fires)
	s.mu.Unlock()
	for _, fn := range fires {
		fn()
	}
}

func (s *Session) deleteLocked(fires *[]func()) {
	if !s.beginDeleteLocked() {
		return
	}
	exchanges := make([]*Exchange, 0, s.exchanges.Len())
	for pair := s.exchanges.Oldest(); pair != nil; pair = pair.Next() {
		exchanges = append(exchanges, pair.Value)
	}
	for _, x := range exchanges {
		x.deleteLocked(fires)
	}
	calls := make([]*AsyncToolCall, 0, s.asyncCalls.Len())
	for pair := s.asyncCalls.Oldest(); pair != nil; pair = pair.Next() {
		calls = append(calls, pair.Value)
	}
	for _, t := range calls {
		t.deleteLocked(fires)
	}
	streams := make([]*InputStream, 0, s.streams.Len())
	for pair := s.streams.Oldest(); pair != nil; pair = pair.Next() {
		streams = append(streams, pair.Value)
	}
	for _, st := range streams {
		st.deleteLocked(fires)
	}
	s.finishDeleteLocked(fires)
}

func (s *Session) sendCtx() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// emit stamps body into a frame and moves it out: first the local echo,
// when enabled, so handlers see the event at the moment it was produced,
// then the transport send, unless emits are paused.
func (s *Session) emit(body wire.FrameBody) {
	f := wire.Frame{
		ConversationID: s.conversationID,
		Timestamp:      strfmt.DateTime(time.Now().UTC()),
		Body:           body,
	}

	s.mu.Lock()
	echo := s.echo
	s.mu.Unlock()
	if echo {
		s.mgr.dispatch(f, true)
	}

	s.mu.Lock()
	if s.emitPaused {
		s.emitQueue = append(s.emitQueue, f)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.mgr.send(s.sendCtx(), f)
}

// escalate runs the error chain above one node: the session's any-error
// handlers fire unconditionally, then the manager takes over.
func (s *Session) escalate(evt ErrorEvent, localHandled bool) {
	anyFns := s.anyErrHandlers.snapshot()
	for _, fn := range anyFns {
		fn(evt)
	}
	s.mgr.escalate(evt, localHandled || len(anyFns) > 0)
}

// dispatchFrame is the session's inbound entry point.
func (s *Session) dispatchFrame(f wire.Frame, echoed bool) {
	s.node.dispatch(f.Body, echoed)
}

// routeExchange finds or materializes the addressed exchange and hands the
// inner event down.
func (s *Session) routeExchange(env wire.ExchangeEnvelope, echoed bool) {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return
	}
	x, ok := s.exchanges.Get(env.ID)
	var notify []func(*Exchange)
	if !ok {
		if s.exchStartHandlers.size() == 0 {
			s.mu.Unlock()
			return
		}
		x = newExchange(s, env.ID)
		if st, isStart := env.Event.(wire.ExchangeStart); isStart {
			x.start = &st
		}
		s.exchanges.Set(env.ID, x)
		x.announced = true
		notify = s.exchStartHandlers.snapshot()
	} else if _, isStart := env.Event.(wire.ExchangeStart); isStart && !x.announced {
		x.announced = true
		notify = s.exchStartHandlers.snapshot()
	}
	s.mu.Unlock()

	for _, fn := range notify {
		fn(x)
	}
	x.dispatch(env.Event, echoed)
}

// routeAsyncToolCall is routeExchange for session-scoped tool calls.
func (s *Session) routeAsyncToolCall(env wire.ToolCallEnvelope, echoed bool) {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return
	}
	t, ok := s.asyncCalls.Get(env.ID)
	var notify []func(*AsyncToolCall)
	if !ok {
		if s.asyncCallHandlers.size() == 0 {
			s.mu.Unlock()
			return
		}
		t = newAsyncToolCall(s, env.ID)
		if st, isStart := env.Event.(wire.ToolCallStart); isStart {
			t.start = &st
		}
		s.asyncCalls.Set(env.ID, t)
		t.announced = true
		notify = s.asyncCallHandlers.snapshot()
	} else if _, isStart := env.Event.(wire.ToolCallStart); isStart && !t.announced {
		t.announced = true
		notify = s.asyncCallHandlers.snapshot()
	}
	s.mu.Unlock()

	for _, fn := range notify {
		fn(t)
	}
	t.dispatch(env.Event, echoed)
}

// routeStream is routeExchange for session-scoped input streams.
func (s *Session) routeStream(env wire.InputStreamEnvelope, echoed bool) {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return
	}
	st, ok := s.streams.Get(env.ID)
	var notify []func(*InputStream)
	if !ok {
		if s.streamStartHandlers.size() == 0 {
			s.mu.Unlock()
			return
		}
		st = newInputStream(s, env.ID)
		if ev, isStart := env.Event.(wire.StreamStart); isStart {
			st.start = &ev
		}
		s.streams.Set(env.ID, st)
		st.announced = true
		notify = s.streamStartHandlers.snapshot()
	} else if _, isStart := env.Event.(wire.StreamStart); isStart && !st.announced {
		st.announced = true
		notify = s.streamStartHandlers.snapshot()
	}
	s.mu.Unlock()

	for _, fn := range notify {
		fn(st)
	}
	st.dispatch(env.Event, echoed)
}

func (s *Session) deliverFrame(body wire.FrameBody, echoed bool) {
	switch event := body.(type) {
	case wire.SessionStart:
		s.mu.Lock()
		if s.start == nil {
			s.start = &event
			s.label = event.Label
		}
		s.mu.Unlock()
	case wire.SessionStarted:
		s.startedHandlers.emit(event)
	case wire.SessionEnding:
		s.endingHandlers.emit(event)
	case wire.SessionEnd:
		s.mu.Lock()
		if s.endFired {
			s.mu.Unlock()
			return
		}
		s.endFired = true
		s.ended = true
		if s.end == nil {
			s.end = &event
		}
		s.mu.Unlock()

		s.endHandlers.emit(event)
		s.Delete()
	case wire.LabelUpdated:
		s.mu.Lock()
		if !echoed {
			s.label = event.Label
		}
		s.mu.Unlock()
		s.labelHandlers.emit(event.Label)
	case wire.ExchangeEnvelope:
		s.routeExchange(event, echoed)
	case wire.ToolCallEnvelope:
		s.routeAsyncToolCall(event, echoed)
	case wire.InputStreamEnvelope:
		s.routeStream(event, echoed)
	case wire.Meta:
		s.handleMeta(event)
	case wire.ErrorStart:
		s.handleErrorStart(event, echoed)
	case wire.ErrorEnd:
		s.handleErrorEnd(event, echoed)
	default:
		panic(fmt.Sprintf("unknown frame body type: %T", event))
	}
}
