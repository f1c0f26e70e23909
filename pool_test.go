package strix

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casualjim/strix/transport"
	"github.com/casualjim/strix/wire"
)

// lossRecorder collects onLost callbacks for assertions.
type lossRecorder struct {
	mu   sync.Mutex
	ids  []string
	errs []error
}

func (r *lossRecorder) record(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	r.errs = append(r.errs, err)
}

func (r *lossRecorder) lost() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestPool_ReusesBindingPerConversation(t *testing.T) {
	local, _ := transport.Pipe()

	var obtains int
	provider := transport.ProviderFunc(func(context.Context, string) (transport.Channel, error) {
		obtains++
		return local, nil
	})
	pool := NewPool(provider, nil)

	first, err := pool.Get(context.Background(), "conv-a")
	require.NoError(t, err)
	second, err := pool.Get(context.Background(), "conv-a")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, obtains, "a bound conversation never re-obtains")

	_, err = pool.Get(context.Background(), "conv-b")
	require.NoError(t, err)
	assert.Equal(t, 2, obtains, "each conversation binds once")
}

func TestPool_DisconnectFansOutToChannelMembersOnly(t *testing.T) {
	shared, _ := transport.Pipe()
	other, _ := transport.Pipe()

	provider := transport.ProviderFunc(func(_ context.Context, conversationID string) (transport.Channel, error) {
		if conversationID == "conv-c" {
			return other, nil
		}
		return shared, nil
	})

	rec := &lossRecorder{}
	pool := NewPool(provider, rec.record)

	_, err := pool.Get(context.Background(), "conv-b")
	require.NoError(t, err)
	_, err = pool.Get(context.Background(), "conv-a")
	require.NoError(t, err)
	_, err = pool.Get(context.Background(), "conv-c")
	require.NoError(t, err)

	boom := errors.New("carrier dropped")
	shared.CloseWithError(boom)

	require.Eventually(t, func() bool {
		return len(rec.lost()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Sorted fan-out, and only the closed channel's members.
	assert.Equal(t, []string{"conv-a", "conv-b"}, rec.lost())
	rec.mu.Lock()
	for _, err := range rec.errs {
		assert.ErrorIs(t, err, boom)
	}
	rec.mu.Unlock()
}

func TestPool_DisconnectClearsBindingsForRebind(t *testing.T) {
	first, _ := transport.Pipe()
	second, _ := transport.Pipe()

	channels := []transport.Channel{first, second}
	provider := transport.ProviderFunc(func(context.Context, string) (transport.Channel, error) {
		ch := channels[0]
		channels = channels[1:]
		return ch, nil
	})

	notified := make(chan struct{}, 1)
	pool := NewPool(provider, func(string, error) { notified <- struct{}{} })

	got, err := pool.Get(context.Background(), "conv-a")
	require.NoError(t, err)
	assert.Same(t, first, got)

	first.Close()
	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("loss notification never arrived")
	}

	rebound, err := pool.Get(context.Background(), "conv-a")
	require.NoError(t, err)
	assert.Same(t, second, rebound)
}

func TestPool_NeverHandsBackAClosedBinding(t *testing.T) {
	first, _ := transport.Pipe()
	second, _ := transport.Pipe()

	channels := []transport.Channel{first, second}
	provider := transport.ProviderFunc(func(context.Context, string) (transport.Channel, error) {
		ch := channels[0]
		channels = channels[1:]
		return ch, nil
	})
	pool := NewPool(provider, nil)

	got, err := pool.Get(context.Background(), "conv-a")
	require.NoError(t, err)
	assert.Same(t, first, got)

	// No waiting for the disconnect watch: the next Get must spot the
	// closed binding on its own and fall through to the provider.
	first.Close()
	got, err = pool.Get(context.Background(), "conv-a")
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestPool_ReleaseUnbindsWithoutClosing(t *testing.T) {
	shared, _ := transport.Pipe()
	var obtains int
	provider := transport.ProviderFunc(func(context.Context, string) (transport.Channel, error) {
		obtains++
		return shared, nil
	})

	rec := &lossRecorder{}
	pool := NewPool(provider, rec.record)

	_, err := pool.Get(context.Background(), "conv-a")
	require.NoError(t, err)
	_, err = pool.Get(context.Background(), "conv-b")
	require.NoError(t, err)

	pool.Release("conv-a")

	select {
	case <-shared.Closed():
		t.Fatal("release must not close the channel")
	default:
	}

	// The released conversation rebinds on next use.
	_, err = pool.Get(context.Background(), "conv-a")
	require.NoError(t, err)
	assert.Equal(t, 3, obtains)

	// A later disconnect reaches both current members exactly once each.
	shared.Close()
	require.Eventually(t, func() bool {
		return len(rec.lost()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"conv-a", "conv-b"}, rec.lost())
}

func TestPool_ObtainFailurePropagates(t *testing.T) {
	boom := errors.New("no route")
	provider := transport.ProviderFunc(func(context.Context, string) (transport.Channel, error) {
		return nil, boom
	})
	pool := NewPool(provider, nil)

	_, err := pool.Get(context.Background(), "conv-a")
	assert.ErrorIs(t, err, boom)
}

func TestPool_ManagerTurnsChannelLossIntoErrorFrames(t *testing.T) {
	local, remote := transport.Pipe()
	m := New(WithProvider(transport.Single(local)))

	s, err := m.StartSession(context.Background(), "conv-1", wire.SessionStart{}, WithEcho(true))
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []wire.ErrorStart
	s.OnErrorStart(func(e wire.ErrorStart) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})

	// Sending binds the conversation to the pooled channel.
	require.NoError(t, s.UpdateLabel("bound"))

	remote.CloseWithError(errors.New("peer vanished"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen[0].Message, "channel disconnected")
	assert.Contains(t, seen[0].Message, "peer vanished")
}
