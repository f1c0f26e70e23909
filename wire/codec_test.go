package wire

import (
	"testing"

	"github.com/go-openapi/swag"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestFrame_MarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		want    string
		wantErr bool
	}{
		{
			name:    "no body",
			frame:   Frame{ConversationID: "conv_1"},
			wantErr: true,
		},
		{
			name: "session start",
			frame: Frame{
				ConversationID: "conv_1",
				Body:           SessionStart{Label: "daily briefing", Extra: gjson.Parse(`{"locale":"en"}`)},
			},
			want: `{"type":"session_start","conversation_id":"conv_1","label":"daily briefing","extra":{"locale":"en"}}`,
		},
		{
			name: "session end",
			frame: Frame{
				ConversationID: "conv_1",
				Body:           SessionEnd{},
			},
			want: `{"type":"session_end","conversation_id":"conv_1"}`,
		},
		{
			name: "label updated",
			frame: Frame{
				ConversationID: "conv_1",
				Body:           LabelUpdated{Label: "renamed"},
			},
			want: `{"type":"label_updated","conversation_id":"conv_1","label":"renamed"}`,
		},
		{
			name: "conversation scoped error",
			frame: Frame{
				ConversationID: "conv_1",
				Body:           ErrorStart{ID: "err_1", Message: "channel disconnected", Detail: gjson.Parse(`{"code":17}`)},
			},
			want: `{"type":"error","conversation_id":"conv_1","error":{"id":"err_1","message":"channel disconnected","detail":{"code":17}}}`,
		},
		{
			name: "meta",
			frame: Frame{
				ConversationID: "conv_1",
				Body:           Meta{Data: gjson.Parse(`{"latency_ms":12}`)},
			},
			want: `{"type":"meta","conversation_id":"conv_1","meta":{"latency_ms":12}}`,
		},
		{
			name: "nested chunk with citation",
			frame: Frame{
				ConversationID: "conv_1",
				Body: ExchangeEnvelope{
					ID: "ex_1",
					Event: MessageEnvelope{
						ID: "msg_1",
						Event: ContentPartEnvelope{
							ID: "part_1",
							Event: Chunk{
								Data:     "report says X",
								Sequence: swag.Int64(3),
								Citation: &Citation{
									ID:      "c1",
									Open:    true,
									Close:   true,
									Sources: []Source{{Title: "doc"}},
								},
							},
						},
					},
				},
			},
			want: `{
				"type":"exchange","conversation_id":"conv_1","id":"ex_1",
				"event":{"type":"message","id":"msg_1",
					"event":{"type":"content_part","id":"part_1",
						"event":{"type":"chunk","data":"report says X","sequence":3,
							"citation":{"id":"c1","open":true,"close":true,"sources":[{"title":"doc"}]}}}}}`,
		},
		{
			name: "tool call start at message scope",
			frame: Frame{
				ConversationID: "conv_1",
				Body: ExchangeEnvelope{
					ID: "ex_1",
					Event: MessageEnvelope{
						ID: "msg_1",
						Event: ToolCallEnvelope{
							ID:    "tc_1",
							Event: ToolCallStart{Name: "search", Input: gjson.Parse(`{"q":"owls"}`)},
						},
					},
				},
			},
			want: `{
				"type":"exchange","conversation_id":"conv_1","id":"ex_1",
				"event":{"type":"message","id":"msg_1",
					"event":{"type":"tool_call","id":"tc_1",
						"event":{"type":"start","name":"search","input":{"q":"owls"}}}}}`,
		},
		{
			name: "session scoped tool call end",
			frame: Frame{
				ConversationID: "conv_1",
				Body: ToolCallEnvelope{
					ID:    "tc_9",
					Event: ToolCallEnd{Cancelled: true, Output: gjson.Parse(`{"reason":"superseded"}`)},
				},
			},
			want: `{"type":"tool_call","conversation_id":"conv_1","id":"tc_9",
				"event":{"type":"end","cancelled":true,"output":{"reason":"superseded"}}}`,
		},
		{
			name: "input stream chunk",
			frame: Frame{
				ConversationID: "conv_1",
				Body: InputStreamEnvelope{
					ID:    "st_1",
					Event: StreamChunk{Data: []byte("pcm bytes"), Sequence: swag.Int64(0)},
				},
			},
			want: `{"type":"input_stream","conversation_id":"conv_1","id":"st_1",
				"event":{"type":"chunk","data":"cGNtIGJ5dGVz","sequence":0}}`,
		},
		{
			name: "content part error end",
			frame: Frame{
				ConversationID: "conv_1",
				Body: ExchangeEnvelope{
					ID: "ex_1",
					Event: MessageEnvelope{
						ID: "msg_1",
						Event: ContentPartEnvelope{
							ID:    "part_1",
							Event: ErrorEnd{ID: "err_1"},
						},
					},
				},
			},
			want: `{
				"type":"exchange","conversation_id":"conv_1","id":"ex_1",
				"event":{"type":"message","id":"msg_1",
					"event":{"type":"content_part","id":"part_1",
						"event":{"type":"error_end","error":{"id":"err_1"}}}}}`,
		},
		{
			name: "out of band content part start",
			frame: Frame{
				ConversationID: "conv_1",
				Body: ExchangeEnvelope{
					ID: "ex_1",
					Event: MessageEnvelope{
						ID: "msg_1",
						Event: ContentPartEnvelope{
							ID:    "part_2",
							Event: ContentPartStart{Type: ContentImage, MimeType: "image/png", Ref: "att_42", Size: swag.Int64(2048)},
						},
					},
				},
			},
			want: `{
				"type":"exchange","conversation_id":"conv_1","id":"ex_1",
				"event":{"type":"message","id":"msg_1",
					"event":{"type":"content_part","id":"part_2",
						"event":{"type":"start","content_type":"image","mime_type":"image/png","ref":"att_42","size":2048}}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToJSON(tt.frame)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(got))

			// Round-trip: decode what we encoded, re-encode and compare.
			decoded, err := FromJSON(got)
			require.NoError(t, err)
			reencoded, err := ToJSON(decoded)
			require.NoError(t, err)
			require.JSONEq(t, string(got), string(reencoded))
		})
	}
}

func TestFrame_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{
			name:    "invalid json",
			input:   `{not json`,
			wantErr: "invalid json",
		},
		{
			name:    "missing conversation id",
			input:   `{"type":"session_start"}`,
			wantErr: "missing required field 'conversation_id'",
		},
		{
			name:    "missing type",
			input:   `{"conversation_id":"conv_1"}`,
			wantErr: "missing required field 'type'",
		},
		{
			name:    "unknown frame type",
			input:   `{"conversation_id":"conv_1","type":"telemetry"}`,
			wantErr: "unknown frame type: telemetry",
		},
		{
			name:    "envelope without id",
			input:   `{"conversation_id":"conv_1","type":"exchange","event":{"type":"start"}}`,
			wantErr: "missing required field 'id'",
		},
		{
			name:    "envelope without event",
			input:   `{"conversation_id":"conv_1","type":"exchange","id":"ex_1"}`,
			wantErr: "missing required field 'event'",
		},
		{
			name:    "unknown nested event type",
			input:   `{"conversation_id":"conv_1","type":"exchange","id":"ex_1","event":{"type":"frobnicate"}}`,
			wantErr: "unknown exchange event type: frobnicate",
		},
		{
			name:    "tool call start without name",
			input:   `{"conversation_id":"conv_1","type":"tool_call","id":"tc_1","event":{"type":"start"}}`,
			wantErr: "missing required field 'name'",
		},
		{
			name:    "error without message",
			input:   `{"conversation_id":"conv_1","type":"error","error":{"id":"err_1"}}`,
			wantErr: "missing required field 'error.message'",
		},
		{
			name:    "citation without id",
			input:   `{"conversation_id":"conv_1","type":"exchange","id":"ex_1","event":{"type":"message","id":"m1","event":{"type":"content_part","id":"p1","event":{"type":"chunk","data":"x","citation":{"open":true}}}}}`,
			wantErr: "missing required field 'id'",
		},
		{
			name:    "stream chunk with bad base64",
			input:   `{"conversation_id":"conv_1","type":"input_stream","id":"st_1","event":{"type":"chunk","data":"!!!"}}`,
			wantErr: "invalid data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromJSON([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFrame_TimestampRoundTrip(t *testing.T) {
	input := `{"type":"session_started","conversation_id":"conv_1","ts":"2025-01-02T03:04:05.000Z"}`

	frame, err := FromJSON([]byte(input))
	require.NoError(t, err)
	assert.False(t, frame.Timestamp.IsZero())
	assert.Equal(t, "conv_1", frame.ConversationID)

	out, err := ToJSON(frame)
	require.NoError(t, err)
	require.JSONEq(t, input, string(out))
}

func TestFrame_ReadsNestedIdentifiers(t *testing.T) {
	frame := Frame{
		ConversationID: "conv_1",
		Body: ExchangeEnvelope{
			ID: "ex_1",
			Event: MessageEnvelope{
				ID:    "msg_1",
				Event: MessageStart{Role: RoleAssistant},
			},
		},
	}

	data, err := json.Marshal(frame)
	require.NoError(t, err)

	assert.Equal(t, "ex_1", gjson.GetBytes(data, "id").String())
	assert.Equal(t, "msg_1", gjson.GetBytes(data, "event.id").String())
	assert.Equal(t, "assistant", gjson.GetBytes(data, "event.event.role").String())

	decoded, err := FromJSON(data)
	require.NoError(t, err)

	env, ok := decoded.Body.(ExchangeEnvelope)
	require.True(t, ok)
	msgEnv, ok := env.Event.(MessageEnvelope)
	require.True(t, ok)
	start, ok := msgEnv.Event.(MessageStart)
	require.True(t, ok)
	assert.Equal(t, RoleAssistant, start.Role)
}
