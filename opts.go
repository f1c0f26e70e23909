package strix

import (
	"context"
	"log/slog"

	"github.com/fogfish/opts"

	"github.com/casualjim/strix/transport"
	"github.com/casualjim/strix/wire"
)

// EmitFunc delivers outbound frames when the manager runs without a
// channel provider. Returning an error feeds a synthetic error frame back
// into the conversation, the same as a channel send failure would.
type EmitFunc func(context.Context, wire.Frame) error

// ManagerOption configures a Manager at construction time.
type ManagerOption = opts.Option[Manager]

var (
	// WithLogger sets the manager's logger. Defaults to slog.Default().
	WithLogger = opts.ForName[Manager, *slog.Logger]("log")

	// WithProvider wires in the channel provider that outbound frames are
	// pooled and sent over.
	WithProvider = opts.ForName[Manager, transport.Provider]("provider")

	// WithEmitter bypasses channel pooling and hands every outbound frame
	// to fn instead.
	WithEmitter = opts.ForName[Manager, EmitFunc]("emit")
)

type sessionConfig struct {
	echo bool
}

// SessionOption configures a session at start time.
type SessionOption = opts.Option[sessionConfig]

// WithEcho dispatches locally emitted frames back into the session's own
// handlers at the moment they are produced, before they go out. The
// instances handlers receive are the same ones the local operations
// created.
var WithEcho = opts.ForName[sessionConfig, bool]("echo")

type startConfig struct {
	id string
}

// StartOption configures a child node at start time.
type StartOption = opts.Option[startConfig]

// WithID pins the node's envelope id instead of generating one. Starting a
// child whose id collides with a live sibling fails with ErrDuplicateID.
var WithID = opts.ForName[startConfig, string]("id")
