package wire

import (
	"encoding/base64"
	"fmt"

	"github.com/go-openapi/swag"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var inputStreamJSON = []byte(`{"type":"input_stream"}`)

// StreamEvent is the closed union of events an InputStreamEnvelope can carry.
type StreamEvent interface {
	streamEvent()
}

// InputStreamEnvelope addresses one session-scoped input stream: a chunked
// upload running alongside the exchanges, typically audio.
type InputStreamEnvelope struct {
	ID    string      `json:"id"`
	Event StreamEvent `json:"-"`
}

func (InputStreamEnvelope) frameBody() {}

// MarshalJSON implements custom JSON marshaling for InputStreamEnvelope
func (i InputStreamEnvelope) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(inputStreamJSON, i.ID, i.Event)
}

// UnmarshalJSON implements custom JSON unmarshaling for InputStreamEnvelope
func (i *InputStreamEnvelope) UnmarshalJSON(data []byte) error {
	id, eventRaw, err := unmarshalEnvelope(data, "input_stream")
	if err != nil {
		return err
	}
	i.ID = id

	event, err := streamEventFromJSON(eventRaw)
	if err != nil {
		return err
	}
	i.Event = event

	return nil
}

// StreamStart opens an input stream.
type StreamStart struct {
	MimeType string       `json:"mime_type,omitempty"`
	Extra    gjson.Result `json:"extra,omitempty"`
}

func (StreamStart) streamEvent() {}

// MarshalJSON implements custom JSON marshaling for StreamStart
func (s StreamStart) MarshalJSON() ([]byte, error) {
	result := startJSON

	var err error
	if s.MimeType != "" {
		result, err = sjson.SetBytes(result, "mime_type", s.MimeType)
		if err != nil {
			return nil, err
		}
	}

	if s.Extra.Exists() {
		result, err = sjson.SetRawBytes(result, "extra", []byte(s.Extra.Raw))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for StreamStart
func (s *StreamStart) UnmarshalJSON(data []byte) error {
	if err := requireType(data, "start"); err != nil {
		return err
	}

	if mimeType := gjson.GetBytes(data, "mime_type"); mimeType.Exists() {
		s.MimeType = mimeType.String()
	}

	if extra := gjson.GetBytes(data, "extra"); extra.Exists() {
		s.Extra = extra
	}

	return nil
}

// StreamChunk carries one slice of stream payload, base64 encoded on the
// wire.
type StreamChunk struct {
	Data     []byte `json:"data,omitempty"`
	Sequence *int64 `json:"sequence,omitempty"`
}

func (StreamChunk) streamEvent() {}

// MarshalJSON implements custom JSON marshaling for StreamChunk
func (s StreamChunk) MarshalJSON() ([]byte, error) {
	result := chunkJSON

	var err error
	if len(s.Data) > 0 {
		result, err = sjson.SetBytes(result, "data", base64.StdEncoding.EncodeToString(s.Data))
		if err != nil {
			return nil, err
		}
	}

	if s.Sequence != nil {
		result, err = sjson.SetBytes(result, "sequence", swag.Int64Value(s.Sequence))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for StreamChunk
func (s *StreamChunk) UnmarshalJSON(data []byte) error {
	if err := requireType(data, "chunk"); err != nil {
		return err
	}

	if d := gjson.GetBytes(data, "data"); d.Exists() {
		decoded, err := base64.StdEncoding.DecodeString(d.String())
		if err != nil {
			return fmt.Errorf("invalid data: %w", err)
		}
		s.Data = decoded
	}

	if sequence := gjson.GetBytes(data, "sequence"); sequence.Exists() {
		s.Sequence = swag.Int64(sequence.Int())
	}

	return nil
}

// StreamEnd closes an input stream.
type StreamEnd struct {
	Interrupted bool         `json:"interrupted,omitempty"`
	Extra       gjson.Result `json:"extra,omitempty"`
}

func (StreamEnd) streamEvent() {}

// MarshalJSON implements custom JSON marshaling for StreamEnd
func (s StreamEnd) MarshalJSON() ([]byte, error) {
	result := endJSON

	var err error
	if s.Interrupted {
		result, err = sjson.SetBytes(result, "interrupted", true)
		if err != nil {
			return nil, err
		}
	}

	if s.Extra.Exists() {
		result, err = sjson.SetRawBytes(result, "extra", []byte(s.Extra.Raw))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for StreamEnd
func (s *StreamEnd) UnmarshalJSON(data []byte) error {
	if err := requireType(data, "end"); err != nil {
		return err
	}

	s.Interrupted = gjson.GetBytes(data, "interrupted").Bool()

	if extra := gjson.GetBytes(data, "extra"); extra.Exists() {
		s.Extra = extra
	}

	return nil
}
