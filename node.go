package strix

import (
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/casualjim/strix/pkg/uuidx"
	"github.com/casualjim/strix/types"
	"github.com/casualjim/strix/wire"
)

// inbound is one buffered delivery: the event plus whether it is the echo
// of something this engine emitted itself. Echoed deliveries fire handlers
// but skip state bookkeeping, because the local operation that produced
// them already did it.
type inbound[E any] struct {
	event  E
	echoed bool
}

// node carries the behavior shared by every level of a conversation tree:
// lifecycle flags, the pause buffer, the property bag, the local error
// table, and the handler registries for the event kinds that exist
// everywhere. E is the node's event union; concrete types embed node and
// provide deliver, wrap and detach at construction.
//
// All nodes of one session share the session's mutex. The lock covers
// state transitions only and is never held while handlers run.
type node[E any] struct {
	mu   *sync.Mutex
	sess *Session
	id   string

	// wrap builds the frame body that carries one of this node's events
	// out over the wire, nesting envelopes up to the frame level.
	wrap func(E) wire.FrameBody
	// deliver applies one event to the concrete node. It runs unlocked.
	deliver func(E, bool)
	// detach removes this node from its parent's child collection. It runs
	// with the tree lock held.
	detach func()
	// parentScope reports whether any ancestor has pending errors.
	parentScope func() bool

	announced bool
	ended     bool
	endFired  bool
	deleted   bool

	paused bool
	queue  []inbound[E]

	props types.Properties
	errs  *orderedmap.OrderedMap[string, wire.ErrorStart]

	metaHandlers     handlers[gjson.Result]
	errStartHandlers handlers[wire.ErrorStart]
	errEndHandlers   handlers[wire.ErrorEnd]
	deleteHandlers   handlers[struct{}]
}

func newNode[E any](sess *Session, mu *sync.Mutex, id string) node[E] {
	return node[E]{
		mu:   mu,
		sess: sess,
		id:   id,
		errs: orderedmap.New[string, wire.ErrorStart](),
	}
}

// eventAs converts a shared event such as wire.Meta into the node's own
// union. Every union in the wire package carries the shared events, so a
// failure here is an engine bug.
func eventAs[E any](v any) E {
	ev, ok := v.(E)
	if !ok {
		panic(fmt.Sprintf("event %T does not satisfy the node event union", v))
	}
	return ev
}

// ID returns the node's identifier. For a session it is the conversation
// id; for every other node it is the envelope id the node's frames carry.
func (n *node[E]) ID() string { return n.id }

// Ended reports whether the node's end event was sent or received.
func (n *node[E]) Ended() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ended
}

// Deleted reports whether the node was removed from its tree.
func (n *node[E]) Deleted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deleted
}

// Pause withholds inbound delivery for this node and, because routing to
// children happens during delivery, for everything below it. Events that
// arrive while paused are buffered in arrival order.
func (n *node[E]) Pause() {
	n.mu.Lock()
	n.paused = true
	n.mu.Unlock()
}

// Resume flushes the buffered events in arrival order and then lifts the
// pause. Events arriving during the flush go to the back of the buffer, so
// nothing can overtake the backlog.
func (n *node[E]) Resume() {
	n.mu.Lock()
	if !n.paused {
		n.mu.Unlock()
		return
	}
	for len(n.queue) > 0 {
		head := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()
		n.deliver(head.event, head.echoed)
		n.mu.Lock()
	}
	n.paused = false
	n.queue = nil
	n.mu.Unlock()
}

// Paused reports whether inbound delivery is currently withheld.
func (n *node[E]) Paused() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.paused
}

// dispatch is the single entry point for inbound events. It drops events
// for deleted nodes, buffers while paused and otherwise hands off to the
// concrete deliver.
func (n *node[E]) dispatch(ev E, echoed bool) {
	n.mu.Lock()
	if n.deleted {
		n.mu.Unlock()
		return
	}
	if n.paused {
		n.queue = append(n.queue, inbound[E]{event: ev, echoed: echoed})
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	n.deliver(ev, echoed)
}

// SetProperties merges the given entries into the node's property bag.
func (n *node[E]) SetProperties(p types.Properties) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.props == nil {
		n.props = types.Properties{}
	}
	for k, v := range p {
		n.props[k] = v
	}
}

// Properties returns a copy of the node's property bag. Properties are
// engine-local and never serialize onto frames.
func (n *node[E]) Properties() types.Properties {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.props.Clone()
}

// OnMeta registers fn for metadata events scoped to this node. It returns
// a disposer that removes the registration.
func (n *node[E]) OnMeta(fn func(gjson.Result)) func() {
	return n.metaHandlers.on(fn)
}

// OnErrorStart registers fn for error starts scoped to this node.
func (n *node[E]) OnErrorStart(fn func(wire.ErrorStart)) func() {
	return n.errStartHandlers.on(fn)
}

// OnErrorEnd registers fn for error resolutions scoped to this node.
func (n *node[E]) OnErrorEnd(fn func(wire.ErrorEnd)) func() {
	return n.errEndHandlers.on(fn)
}

// OnDeleted registers fn to run when this node is removed from its tree,
// whether directly or through an ancestor's deletion. It fires at most
// once.
func (n *node[E]) OnDeleted(fn func()) func() {
	return n.deleteHandlers.on(func(struct{}) { fn() })
}

// InErrorScope reports whether this node or any of its ancestors has an
// error that started and has not yet ended.
func (n *node[E]) InErrorScope() bool {
	n.mu.Lock()
	own := n.errs.Len() > 0
	n.mu.Unlock()
	if own {
		return true
	}
	if n.parentScope != nil {
		return n.parentScope()
	}
	return false
}

// ActiveErrors returns the node's pending error starts in arrival order.
func (n *node[E]) ActiveErrors() []wire.ErrorStart {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]wire.ErrorStart, 0, n.errs.Len())
	for pair := n.errs.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// ensureLive returns the error matching the node's lifecycle state, or nil
// when the node can still operate.
func (n *node[E]) ensureLive() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ensureLiveLocked()
}

func (n *node[E]) ensureLiveLocked() error {
	if n.ended {
		return ErrEnded
	}
	if n.deleted {
		return ErrDeleted
	}
	return nil
}

// send emits one of this node's own events onto the wire after the
// liveness check.
func (n *node[E]) send(ev E) error {
	if err := n.ensureLive(); err != nil {
		return err
	}
	n.sess.emit(n.wrap(ev))
	return nil
}

// SendMeta emits a metadata event scoped to this node.
func (n *node[E]) SendMeta(data gjson.Result) error {
	return n.send(eventAs[E](wire.Meta{Data: data}))
}

// SendErrorStart records the error in the node's table and emits it. When
// the id is empty one is assigned. The returned id is what SendErrorEnd
// expects.
func (n *node[E]) SendErrorStart(errStart wire.ErrorStart) (string, error) {
	if errStart.Message == "" {
		return "", fmt.Errorf("error start requires a message")
	}
	if errStart.ID == "" {
		errStart.ID = uuidx.Prefixed("err")
	}

	n.mu.Lock()
	if err := n.ensureLiveLocked(); err != nil {
		n.mu.Unlock()
		return "", err
	}
	n.errs.Set(errStart.ID, errStart)
	n.mu.Unlock()

	n.sess.emit(n.wrap(eventAs[E](errStart)))
	return errStart.ID, nil
}

// SendErrorEnd resolves a pending error start and emits the resolution.
func (n *node[E]) SendErrorEnd(id string) error {
	n.mu.Lock()
	if err := n.ensureLiveLocked(); err != nil {
		n.mu.Unlock()
		return err
	}
	if _, ok := n.errs.Get(id); !ok {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoSuchError, id)
	}
	n.errs.Delete(id)
	n.mu.Unlock()

	n.sess.emit(n.wrap(eventAs[E](wire.ErrorEnd{ID: id})))
	return nil
}

// handleMeta fires the node's metadata handlers for an inbound event.
func (n *node[E]) handleMeta(ev wire.Meta) {
	n.metaHandlers.emit(ev.Data)
}

// handleErrorStart applies an inbound error start: record it (unless it is
// the echo of a local send, which already recorded it), fire the node's
// handlers and hand the event to the session for escalation.
func (n *node[E]) handleErrorStart(ev wire.ErrorStart, echoed bool) {
	n.mu.Lock()
	if !echoed {
		n.errs.Set(ev.ID, ev)
	}
	n.mu.Unlock()

	local := n.errStartHandlers.snapshot()
	for _, fn := range local {
		fn(ev)
	}
	n.sess.escalate(ErrorEvent{
		ConversationID: n.sess.conversationID,
		NodeID:         n.id,
		Err:            ev,
	}, len(local) > 0)
}

// handleErrorEnd applies an inbound error resolution.
func (n *node[E]) handleErrorEnd(ev wire.ErrorEnd, echoed bool) {
	n.mu.Lock()
	if !echoed {
		n.errs.Delete(ev.ID)
	}
	n.mu.Unlock()
	n.errEndHandlers.emit(ev)
}

// beginDeleteLocked flips the deleted flag, reporting false when the node
// was already gone. Callers hold the tree lock.
func (n *node[E]) beginDeleteLocked() bool {
	if n.deleted {
		return false
	}
	n.deleted = true
	return true
}

// finishDeleteLocked detaches the node from its parent and queues its
// deletion listeners onto fires. The cascade collects listeners bottom-up
// and runs them only after the lock is released, so children always notify
// before their parents.
func (n *node[E]) finishDeleteLocked(fires *[]func()) {
	if n.detach != nil {
		n.detach()
	}
	for _, fn := range n.deleteHandlers.snapshot() {
		fn := fn
		*fires = append(*fires, func() { fn(struct{}{}) })
	}
}
