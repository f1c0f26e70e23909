// Package transport carries conversation frames between an engine and its
// peers. A Channel is one outbound frame stream with a close signal; a
// Provider hands out channels per conversation, which is what lets several
// conversations multiplex over one connection.
package transport

import (
	"context"
	"errors"

	"github.com/casualjim/strix/wire"
)

// ErrClosed is returned by operations on a channel that has closed without
// a more specific cause.
var ErrClosed = errors.New("transport: channel closed")

// Channel is one outbound frame stream. Closed is readable by many
// watchers; Err reports the cause once Closed fires, nil for a clean
// shutdown.
type Channel interface {
	Send(ctx context.Context, f wire.Frame) error
	Closed() <-chan struct{}
	Err() error
}

// Provider obtains the channel a conversation's outbound frames ride on.
// Implementations may return the same channel for many conversations.
type Provider interface {
	Obtain(ctx context.Context, conversationID string) (Channel, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, conversationID string) (Channel, error)

func (f ProviderFunc) Obtain(ctx context.Context, conversationID string) (Channel, error) {
	return f(ctx, conversationID)
}

// Single returns a provider that hands every conversation the same
// channel.
func Single(ch Channel) Provider {
	return ProviderFunc(func(context.Context, string) (Channel, error) {
		return ch, nil
	})
}
