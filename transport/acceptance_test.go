package transport

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casualjim/strix/pkg/natsx"
	"github.com/casualjim/strix/wire"
)

// channelHarness is one live channel under test plus a way to observe what
// it sent and a way to close it.
type channelHarness struct {
	channel Channel
	recv    func(ctx context.Context) (wire.Frame, error)
	close   func()
}

// channelFactory creates a fresh harness for one test case.
type channelFactory func(t *testing.T) *channelHarness

type acceptanceTest struct {
	name string
	test func(t *testing.T, create channelFactory)
}

// runAcceptanceTests runs the channel contract against one implementation.
func runAcceptanceTests(t *testing.T, name string, factory channelFactory) {
	tests := []acceptanceTest{
		{"delivers frames in order", testDeliversInOrder},
		{"round-trips frame payloads", testRoundTripsPayloads},
		{"fails sends after close", testSendAfterClose},
		{"signals close to watchers", testSignalsClose},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", name, tt.name), func(t *testing.T) {
			tt.test(t, factory)
		})
	}
}

func TestChannelImplementations(t *testing.T) {
	t.Run("Pipe", func(t *testing.T) {
		runAcceptanceTests(t, "Pipe", func(t *testing.T) *channelHarness {
			a, b := Pipe()
			return &channelHarness{
				channel: a,
				recv:    b.Recv,
				close:   func() { _ = a.Close() },
			}
		})
	})

	t.Run("NATS", func(t *testing.T) {
		if os.Getenv("NATS_URL") == "" {
			t.Skip("NATS_URL not set")
		}
		runAcceptanceTests(t, "NATS", func(t *testing.T) *channelHarness {
			nc, err := natsx.Connect("")
			require.NoError(t, err)
			t.Cleanup(nc.Close)

			inbox := make(chan wire.Frame, 16)
			sub, err := nc.Subscribe("strixtest.conv-1.out", func(msg *nats.Msg) {
				f, ferr := wire.FromJSON(msg.Data)
				if ferr != nil {
					return
				}
				inbox <- f
			})
			require.NoError(t, err)
			t.Cleanup(func() { _ = sub.Unsubscribe() })

			provider := NATS(nc, "strixtest")
			ch, err := provider.Obtain(context.Background(), "conv-1")
			require.NoError(t, err)

			return &channelHarness{
				channel: ch,
				recv: func(ctx context.Context) (wire.Frame, error) {
					select {
					case f := <-inbox:
						return f, nil
					case <-ctx.Done():
						return wire.Frame{}, ctx.Err()
					}
				},
				close: nc.Close,
			}
		})
	})
}

func testDeliversInOrder(t *testing.T, create channelFactory) {
	h := create(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		f := wire.Frame{
			ConversationID: "conv-1",
			Timestamp:      strfmt.DateTime(time.Now().UTC()),
			Body:           wire.LabelUpdated{Label: fmt.Sprintf("step-%d", i)},
		}
		require.NoError(t, h.channel.Send(ctx, f))
	}

	for i := 0; i < 3; i++ {
		f, err := h.recv(ctx)
		require.NoError(t, err)
		lu, ok := f.Body.(wire.LabelUpdated)
		require.True(t, ok, "expected label update, got %T", f.Body)
		assert.Equal(t, fmt.Sprintf("step-%d", i), lu.Label)
	}
}

func testRoundTripsPayloads(t *testing.T, create channelFactory) {
	h := create(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sent := wire.Frame{
		ConversationID: "conv-1",
		Timestamp:      strfmt.DateTime(time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)),
		Body: wire.ExchangeEnvelope{
			ID: "ex_1",
			Event: wire.MessageEnvelope{
				ID: "msg_1",
				Event: wire.ContentPartEnvelope{
					ID:    "part_1",
					Event: wire.Chunk{Data: "hello"},
				},
			},
		},
	}
	require.NoError(t, h.channel.Send(ctx, sent))

	got, err := h.recv(ctx)
	require.NoError(t, err)

	wantJSON, err := wire.ToJSON(sent)
	require.NoError(t, err)
	gotJSON, err := wire.ToJSON(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(wantJSON), string(gotJSON))
}

func testSendAfterClose(t *testing.T, create channelFactory) {
	h := create(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.close()

	f := wire.Frame{
		ConversationID: "conv-1",
		Timestamp:      strfmt.DateTime(time.Now().UTC()),
		Body:           wire.SessionEnd{},
	}
	assert.Error(t, h.channel.Send(ctx, f))
}

func testSignalsClose(t *testing.T, create channelFactory) {
	h := create(t)

	select {
	case <-h.channel.Closed():
		t.Fatal("channel reported closed before close")
	default:
	}

	h.close()

	select {
	case <-h.channel.Closed():
	case <-time.After(5 * time.Second):
		t.Fatal("channel never reported closed")
	}
	assert.NoError(t, h.channel.Err())
}
