package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casualjim/strix/wire"
)

func pipeFrame(label string) wire.Frame {
	return wire.Frame{
		ConversationID: "conv-1",
		Timestamp:      strfmt.DateTime(time.Now().UTC()),
		Body:           wire.LabelUpdated{Label: label},
	}
}

func TestPipe_BothDirections(t *testing.T) {
	a, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, a.Send(ctx, pipeFrame("from-a")))
	require.NoError(t, b.Send(ctx, pipeFrame("from-b")))

	got, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.LabelUpdated{Label: "from-a"}, got.Body)

	got, err = a.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.LabelUpdated{Label: "from-b"}, got.Body)
}

func TestPipe_CloseWithErrorPropagates(t *testing.T) {
	a, b := Pipe()
	boom := errors.New("carrier lost")

	require.NoError(t, a.CloseWithError(boom))

	select {
	case <-b.Closed():
	case <-time.After(time.Second):
		t.Fatal("peer never observed the close")
	}
	assert.ErrorIs(t, b.Err(), boom)
	assert.ErrorIs(t, a.Err(), boom)

	ctx := context.Background()
	assert.ErrorIs(t, a.Send(ctx, pipeFrame("late")), boom)
	assert.ErrorIs(t, b.Send(ctx, pipeFrame("late")), boom)
}

func TestPipe_FirstCloseWins(t *testing.T) {
	a, b := Pipe()
	boom := errors.New("carrier lost")

	require.NoError(t, a.CloseWithError(boom))
	require.NoError(t, b.Close())

	assert.ErrorIs(t, a.Err(), boom)
	assert.ErrorIs(t, b.Err(), boom)
}

func TestPipe_DrainsAfterClose(t *testing.T) {
	a, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, a.Send(ctx, pipeFrame("one")))
	require.NoError(t, a.Send(ctx, pipeFrame("two")))
	require.NoError(t, a.Close())

	got, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.LabelUpdated{Label: "one"}, got.Body)

	got, err = b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.LabelUpdated{Label: "two"}, got.Body)

	_, err = b.Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPipe_RecvHonorsContext(t *testing.T) {
	_, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSingle_SharesOneChannel(t *testing.T) {
	a, _ := Pipe()
	provider := Single(a)

	ch1, err := provider.Obtain(context.Background(), "conv-1")
	require.NoError(t, err)
	ch2, err := provider.Obtain(context.Background(), "conv-2")
	require.NoError(t, err)
	assert.Same(t, a, ch1)
	assert.Same(t, a, ch2)
}

func TestProviderFunc_Adapts(t *testing.T) {
	a, _ := Pipe()
	var seen string
	provider := ProviderFunc(func(_ context.Context, conversationID string) (Channel, error) {
		seen = conversationID
		return a, nil
	})

	ch, err := provider.Obtain(context.Background(), "conv-42")
	require.NoError(t, err)
	assert.Same(t, a, ch)
	assert.Equal(t, "conv-42", seen)
}
