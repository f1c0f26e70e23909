package strix

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/casualjim/strix/types"
	"github.com/casualjim/strix/wire"
)

func TestNode_ErrorStartAssignsPrefixedID(t *testing.T) {
	m, _ := newRecordedManager(t)
	x := startTestExchange(t, m)

	id, err := x.SendErrorStart(wire.ErrorStart{Message: "tool timed out"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "err_"), "assigned ids carry the err_ prefix, got %q", id)

	given, err := x.SendErrorStart(wire.ErrorStart{ID: "err_mine", Message: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "err_mine", given)
}

func TestNode_ErrorStartRequiresMessage(t *testing.T) {
	m, _ := newRecordedManager(t)
	x := startTestExchange(t, m)

	_, err := x.SendErrorStart(wire.ErrorStart{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a message")
}

func TestNode_ErrorRoundTripOnDeepNode(t *testing.T) {
	m, _ := newRecordedManager(t)
	_, part := startTestPart(t, m)

	var starts []wire.ErrorStart
	var ends []wire.ErrorEnd
	part.OnErrorStart(func(e wire.ErrorStart) { starts = append(starts, e) })
	part.OnErrorEnd(func(e wire.ErrorEnd) { ends = append(ends, e) })

	id, err := part.SendErrorStart(wire.ErrorStart{Message: "decode stall"})
	require.NoError(t, err)

	require.Len(t, starts, 1)
	assert.Equal(t, "decode stall", starts[0].Message)
	assert.True(t, part.InErrorScope())
	require.Len(t, part.ActiveErrors(), 1)

	require.NoError(t, part.SendErrorEnd(id))
	require.Len(t, ends, 1)
	assert.Equal(t, id, ends[0].ID)
	assert.False(t, part.InErrorScope())
	assert.Empty(t, part.ActiveErrors())
}

func TestNode_RemoteErrorsTrackTheTable(t *testing.T) {
	m, _ := newRecordedManager(t)
	x := startTestExchange(t, m)

	m.Dispatch(remoteFrame("conv-1", wire.ExchangeEnvelope{
		ID:    x.ID(),
		Event: wire.ErrorStart{ID: "err_remote", Message: "peer hiccuped"},
	}))
	assert.True(t, x.InErrorScope())

	m.Dispatch(remoteFrame("conv-1", wire.ExchangeEnvelope{
		ID:    x.ID(),
		Event: wire.ErrorEnd{ID: "err_remote"},
	}))
	assert.False(t, x.InErrorScope())
}

func TestNode_MetaNestsToTheAddressedNode(t *testing.T) {
	m, rec := newRecordedManager(t)
	msg, part := startTestPart(t, m)

	var got []gjson.Result
	part.OnMeta(func(data gjson.Result) { got = append(got, data) })

	require.NoError(t, part.SendMeta(gjson.Parse(`{"latency_ms":42}`)))

	// The echo fires the part's own meta handlers.
	require.Len(t, got, 1)
	assert.EqualValues(t, 42, got[0].Get("latency_ms").Int())

	// And the outbound frame nests the meta all the way down.
	bodies := rec.bodies()
	xEnv, ok := bodies[len(bodies)-1].(wire.ExchangeEnvelope)
	require.True(t, ok)
	mEnv, ok := xEnv.Event.(wire.MessageEnvelope)
	require.True(t, ok)
	assert.Equal(t, msg.ID(), mEnv.ID)
	pEnv, ok := mEnv.Event.(wire.ContentPartEnvelope)
	require.True(t, ok)
	meta, ok := pEnv.Event.(wire.Meta)
	require.True(t, ok)
	assert.EqualValues(t, 42, meta.Data.Get("latency_ms").Int())
}

func TestNode_MetaDoesNotLeakAcrossLevels(t *testing.T) {
	m, _ := newRecordedManager(t)
	msg, part := startTestPart(t, m)

	var messageMeta, partMeta int
	msg.OnMeta(func(gjson.Result) { messageMeta++ })
	part.OnMeta(func(gjson.Result) { partMeta++ })

	require.NoError(t, part.SendMeta(gjson.Parse(`{"scoped":true}`)))

	assert.Zero(t, messageMeta, "meta addressed to the part stays on the part")
	assert.Equal(t, 1, partMeta)
}

func TestNode_PropertiesStayLocalPerNode(t *testing.T) {
	m, _ := newRecordedManager(t)
	msg, part := startTestPart(t, m)

	part.SetProperties(types.Properties{"render": "inline"})

	assert.Empty(t, msg.Properties())
	assert.Equal(t, "inline", part.Properties()["render"])
}

func TestNode_DisposersAreScopedToOneRegistration(t *testing.T) {
	m, _ := newRecordedManager(t)
	_, part := startTestPart(t, m)

	var a, b int
	disposeA := part.OnChunk(func(wire.Chunk) { a++ })
	part.OnChunk(func(wire.Chunk) { b++ })

	require.NoError(t, part.SendText("one"))
	disposeA()
	require.NoError(t, part.SendText("two"))

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestNode_DeleteListenersFireOnceAcrossPaths(t *testing.T) {
	m, _ := newRecordedManager(t)
	x := startTestExchange(t, m)

	var fired int
	x.OnDeleted(func() { fired++ })

	// End deletes, then an explicit delete is a no-op.
	require.NoError(t, x.SendEnd(wire.ExchangeEnd{}))
	x.Delete()

	assert.Equal(t, 1, fired)
}
