package strix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casualjim/strix/wire"
)

func TestExchange_SendMessageWithContentPart(t *testing.T) {
	m, rec := newRecordedManager(t)
	x := startTestExchange(t, m)

	var completions []MessageCompletion
	x.OnMessageCompleted(func(c MessageCompletion) { completions = append(completions, c) })

	require.NoError(t, x.SendMessageWithContentPart("what is the weather?", wire.ContentText))

	require.Len(t, completions, 1)
	c := completions[0]
	assert.Equal(t, "what is the weather?", c.Text())
	assert.Equal(t, wire.RoleUser, c.Start.Role)
	require.Len(t, c.ContentParts, 1)
	assert.Equal(t, wire.ContentText, c.ContentParts[0].Start.Type)

	// Start, chunk and both ends all went out, innermost envelopes intact.
	var kinds []string
	for _, body := range rec.bodies() {
		xEnv, ok := body.(wire.ExchangeEnvelope)
		if !ok {
			continue
		}
		mEnv, ok := xEnv.Event.(wire.MessageEnvelope)
		if !ok {
			continue
		}
		switch inner := mEnv.Event.(type) {
		case wire.MessageStart:
			kinds = append(kinds, "message_start")
		case wire.MessageEnd:
			kinds = append(kinds, "message_end")
		case wire.ContentPartEnvelope:
			switch inner.Event.(type) {
			case wire.ContentPartStart:
				kinds = append(kinds, "part_start")
			case wire.Chunk:
				kinds = append(kinds, "chunk")
			case wire.ContentPartEnd:
				kinds = append(kinds, "part_end")
			}
		}
	}
	assert.Equal(t, []string{"message_start", "part_start", "chunk", "part_end", "message_end"}, kinds)
}

func TestExchange_ReactiveMessageMaterialization(t *testing.T) {
	m, _ := newRecordedManager(t)
	x := startTestExchange(t, m)

	var materialized []*Message
	x.OnMessageStart(func(msg *Message) { materialized = append(materialized, msg) })

	m.Dispatch(remoteFrame("conv-1", wire.ExchangeEnvelope{
		ID: x.ID(),
		Event: wire.MessageEnvelope{
			ID:    "msg_remote",
			Event: wire.MessageStart{Role: wire.RoleAssistant},
		},
	}))

	require.Len(t, materialized, 1)
	assert.Equal(t, "msg_remote", materialized[0].ID())
	assert.True(t, materialized[0].IsAssistant())
}

func TestExchange_UnknownMessageDropsWithoutListeners(t *testing.T) {
	m, _ := newRecordedManager(t)
	x := startTestExchange(t, m)

	m.Dispatch(remoteFrame("conv-1", wire.ExchangeEnvelope{
		ID: x.ID(),
		Event: wire.MessageEnvelope{
			ID:    "msg_remote",
			Event: wire.MessageStart{},
		},
	}))

	x.mu.Lock()
	count := x.messages.Len()
	x.mu.Unlock()
	assert.Zero(t, count, "no listener, no materialized message")
}

func TestExchange_DuplicateMessageIDRejected(t *testing.T) {
	m, _ := newRecordedManager(t)
	x := startTestExchange(t, m)

	_, err := x.StartMessage(wire.MessageStart{}, WithID("msg_1"))
	require.NoError(t, err)
	_, err = x.StartMessage(wire.MessageStart{}, WithID("msg_1"))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestExchange_EndCascadesToMessages(t *testing.T) {
	m, _ := newRecordedManager(t)
	x := startTestExchange(t, m)

	msg, err := x.StartMessage(wire.MessageStart{})
	require.NoError(t, err)

	var deleted []string
	msg.OnDeleted(func() { deleted = append(deleted, "message") })
	x.OnDeleted(func() { deleted = append(deleted, "exchange") })

	require.NoError(t, x.SendEnd(wire.ExchangeEnd{}))

	assert.Equal(t, []string{"message", "exchange"}, deleted)
	_, err = msg.StartContentPart(wire.ContentPartStart{})
	assert.ErrorIs(t, err, ErrDeleted)
}

func TestExchange_RemoteEndFiresHandlers(t *testing.T) {
	m, _ := newRecordedManager(t)
	s := startEchoSession(t, m, "conv-1")

	var ends []wire.ExchangeEnd
	var exchanges []*Exchange
	s.OnExchangeStart(func(x *Exchange) {
		exchanges = append(exchanges, x)
		x.OnEnd(func(end wire.ExchangeEnd) { ends = append(ends, end) })
	})

	m.Dispatch(remoteFrame("conv-1", wire.ExchangeEnvelope{ID: "ex_remote", Event: wire.ExchangeStart{}}))
	m.Dispatch(remoteFrame("conv-1", wire.ExchangeEnvelope{ID: "ex_remote", Event: wire.ExchangeEnd{}}))

	require.Len(t, exchanges, 1)
	require.Len(t, ends, 1)
	assert.True(t, exchanges[0].Ended())
	assert.True(t, exchanges[0].Deleted())
}

func TestExchange_StartReturnsPayload(t *testing.T) {
	m, _ := newRecordedManager(t)
	s := startEchoSession(t, m, "conv-1")

	x, err := s.StartExchange(wire.ExchangeStart{})
	require.NoError(t, err)

	_, err = x.Start()
	assert.NoError(t, err)
}
