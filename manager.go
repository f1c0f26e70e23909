package strix

import (
	"context"
	"log/slog"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"

	"github.com/casualjim/strix/pkg/slogx"
	"github.com/casualjim/strix/pkg/uuidx"
	"github.com/casualjim/strix/transport"
	"github.com/casualjim/strix/wire"
)

// Manager owns the session registry and the outbound path. Inbound frames
// enter through Dispatch and are routed to their conversation's session;
// outbound frames leave through a channel pool, or through an emitter
// function when one is configured instead.
type Manager struct {
	log      *slog.Logger
	provider transport.Provider
	emit     EmitFunc

	pool     *Pool
	sessions *haxmap.Map[string, *Session]

	sessionStartHandlers handlers[*Session]
	anyErrHandlers       handlers[ErrorEvent]
	unhandledHandlers    handlers[ErrorEvent]
}

// New builds a manager. Without WithProvider or WithEmitter the manager
// still runs conversations, it just drops outbound frames.
func New(options ...opts.Option[Manager]) *Manager {
	m := &Manager{
		log:      slog.Default(),
		sessions: haxmap.New[string, *Session](),
	}
	if err := opts.Apply(m, options); err != nil {
		panic(err)
	}
	if m.provider != nil {
		m.pool = NewPool(m.provider, m.channelLost)
	}
	return m
}

// OnSessionStart registers fn for sessions appearing in this manager,
// whether started locally or materialized by inbound frames. Without at
// least one registration, frames for unknown conversations are dropped.
func (m *Manager) OnSessionStart(fn func(*Session)) func() {
	return m.sessionStartHandlers.on(fn)
}

// OnAnyError registers fn for every error start surfacing in any session.
func (m *Manager) OnAnyError(fn func(ErrorEvent)) func() {
	return m.anyErrHandlers.on(fn)
}

// OnUnhandledError registers fn as the fallback for error starts that no
// node-local or any-error handler observed.
func (m *Manager) OnUnhandledError(fn func(ErrorEvent)) func() {
	return m.unhandledHandlers.on(fn)
}

// Session returns the live session for a conversation, if any.
func (m *Manager) Session(conversationID string) (*Session, bool) {
	return m.sessions.Get(conversationID)
}

// StartSession opens a session for the conversation and emits its start
// frame. A live session under the same conversation id is torn down first.
// An empty conversation id gets one assigned.
func (m *Manager) StartSession(ctx context.Context, conversationID string, start wire.SessionStart, options ...opts.Option[sessionConfig]) (*Session, error) {
	cfg := sessionConfig{}
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	if conversationID == "" {
		conversationID = uuidx.Prefixed("conv")
	}

	if old, ok := m.sessions.Get(conversationID); ok {
		old.Delete()
	}

	s := newSession(m, conversationID)
	if ctx != nil {
		s.ctx = ctx
	}
	s.echo = cfg.echo
	s.start = &start
	s.label = start.Label
	m.sessions.Set(conversationID, s)

	s.emit(start)
	return s, nil
}

// Dispatch routes one inbound frame into the conversation it belongs to.
// Frames for unknown conversations materialize a session only when a
// session-start handler is registered; otherwise they drop.
func (m *Manager) Dispatch(f wire.Frame) {
	m.dispatch(f, false)
}

func (m *Manager) dispatch(f wire.Frame, echoed bool) {
	if f.ConversationID == "" {
		m.log.Warn("dropping frame without conversation id")
		return
	}

	s, ok := m.sessions.Get(f.ConversationID)
	var notify []func(*Session)
	if !ok {
		if echoed {
			return
		}
		if m.sessionStartHandlers.size() == 0 {
			m.log.Debug("dropping frame for unknown conversation", slogx.Conversation(f.ConversationID))
			return
		}
		var loaded bool
		s, loaded = m.sessions.GetOrCompute(f.ConversationID, func() *Session {
			ns := newSession(m, f.ConversationID)
			if st, isStart := f.Body.(wire.SessionStart); isStart {
				ns.start = &st
				ns.label = st.Label
			}
			ns.announced = true
			return ns
		})
		if !loaded {
			notify = m.sessionStartHandlers.snapshot()
		}
	} else if _, isStart := f.Body.(wire.SessionStart); isStart {
		s.mu.Lock()
		if !s.announced {
			s.announced = true
			notify = m.sessionStartHandlers.snapshot()
		}
		s.mu.Unlock()
	}

	for _, fn := range notify {
		fn(s)
	}
	s.dispatchFrame(f, echoed)
}

// escalate finishes the error chain: the manager's any-error handlers fire
// unconditionally; when nothing anywhere observed the error it goes to the
// unhandled handlers, and failing those, to the log.
func (m *Manager) escalate(evt ErrorEvent, handled bool) {
	anyFns := m.anyErrHandlers.snapshot()
	for _, fn := range anyFns {
		fn(evt)
	}
	if handled || len(anyFns) > 0 {
		return
	}

	unhandled := m.unhandledHandlers.snapshot()
	if len(unhandled) > 0 {
		for _, fn := range unhandled {
			fn(evt)
		}
		return
	}

	m.log.Error("unobserved conversation error",
		slogx.Conversation(evt.ConversationID),
		slog.String("node_id", evt.NodeID),
		slog.String("error_id", evt.Err.ID),
		slog.String("message", evt.Err.Message),
	)
}

// send moves one frame out. Transport failures never propagate back to the
// caller: they re-enter the conversation as error frames so handlers see
// them the same way they would see a remote fault.
func (m *Manager) send(ctx context.Context, f wire.Frame) {
	switch {
	case m.emit != nil:
		if err := m.emit(ctx, f); err != nil {
			m.sendFailed(f.ConversationID, err)
		}
	case m.pool != nil:
		ch, err := m.pool.Get(ctx, f.ConversationID)
		if err != nil {
			m.sendFailed(f.ConversationID, err)
			return
		}
		if err := ch.Send(ctx, f); err != nil {
			m.sendFailed(f.ConversationID, err)
		}
	default:
		m.log.Debug("no transport configured, dropping outbound frame", slogx.Conversation(f.ConversationID))
	}
}

func (m *Manager) sendFailed(conversationID string, err error) {
	m.log.Warn("outbound send failed", slogx.Conversation(conversationID), slogx.Error(err))
	m.dispatch(syntheticError(conversationID, "send failed", err), false)
}

func (m *Manager) channelLost(conversationID string, err error) {
	m.log.Warn("channel disconnected", slogx.Conversation(conversationID), slogx.Error(err))
	m.dispatch(syntheticError(conversationID, "channel disconnected", err), false)
}

func syntheticError(conversationID, msg string, err error) wire.Frame {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return wire.Frame{
		ConversationID: conversationID,
		Timestamp:      strfmt.DateTime(time.Now().UTC()),
		Body:           wire.ErrorStart{ID: uuidx.Prefixed("err"), Message: msg},
	}
}

// Close tears down every live session.
func (m *Manager) Close() {
	var all []*Session
	m.sessions.ForEach(func(_ string, s *Session) bool {
		all = append(all, s)
		return true
	})
	for _, s := range all {
		s.Delete()
	}
}
