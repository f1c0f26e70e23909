package wire

import (
	"fmt"

	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	sessionStartJSON   = []byte(`{"type":"session_start"}`)
	sessionStartedJSON = []byte(`{"type":"session_started"}`)
	sessionEndingJSON  = []byte(`{"type":"session_ending"}`)
	sessionEndJSON     = []byte(`{"type":"session_end"}`)
	labelUpdatedJSON   = []byte(`{"type":"label_updated"}`)
)

// FrameBody is the closed union of payloads a Frame can carry. All members
// live in this package; the marker method keeps the set sealed.
type FrameBody interface {
	frameBody()
}

// Frame is one unit on the connection: a conversation id, an optional
// timestamp assigned by the emitter, and exactly one body.
type Frame struct {
	ConversationID string          `json:"conversation_id"`
	Timestamp      strfmt.DateTime `json:"ts,omitempty"`
	Body           FrameBody       `json:"-"`
}

// MarshalJSON implements custom JSON marshaling for Frame
func (f Frame) MarshalJSON() ([]byte, error) {
	if f.Body == nil {
		return nil, fmt.Errorf("frame for %q has no body", f.ConversationID)
	}

	result, err := json.Marshal(f.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame body: %w", err)
	}

	result, err = sjson.SetBytes(result, "conversation_id", f.ConversationID)
	if err != nil {
		return nil, err
	}

	if !f.Timestamp.IsZero() {
		result, err = sjson.SetBytes(result, "ts", f.Timestamp.String())
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for Frame
func (f *Frame) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	conversationID := gjson.GetBytes(data, "conversation_id")
	if !conversationID.Exists() {
		return fmt.Errorf("missing required field 'conversation_id'")
	}
	f.ConversationID = conversationID.String()

	if ts := gjson.GetBytes(data, "ts"); ts.Exists() {
		if err := f.Timestamp.UnmarshalText([]byte(ts.String())); err != nil {
			return fmt.Errorf("invalid ts: %w", err)
		}
	}

	body, err := frameBodyFromJSON(data)
	if err != nil {
		return err
	}
	f.Body = body

	return nil
}

// SessionStart opens a conversation session. The label is a human readable
// name for the conversation; extra carries service specific attributes.
type SessionStart struct {
	Label string       `json:"label,omitempty"`
	Extra gjson.Result `json:"extra,omitempty"`
}

func (SessionStart) frameBody() {}

// MarshalJSON implements custom JSON marshaling for SessionStart
func (s SessionStart) MarshalJSON() ([]byte, error) {
	result := sessionStartJSON

	var err error
	if s.Label != "" {
		result, err = sjson.SetBytes(result, "label", s.Label)
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

// UnmarshalJSON implements custom JSON unmarshaling for SessionStart
func (s *SessionStart) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != "session_start" {
		return fmt.Errorf("missing or invalid type, expected 'session_start'")
	}

	if label := gjson.GetBytes(data, "label"); label.Exists() {
		s.Label = label.String()
	}

	if extra := gjson.GetBytes(data, "extra"); extra.Exists() {
		s.Extra = extra
	}

	return nil
}

// SessionStarted is the service acknowledgement that a session is live.
type SessionStarted struct {
	Extra gjson.Result `json:"extra,omitempty"`
}

func (SessionStarted) frameBody() {}

// MarshalJSON implements custom JSON marshaling for SessionStarted
func (s SessionStarted) MarshalJSON() ([]byte, error) {
	result := sessionStartedJSON

	var err error
	if s.Extra.Exists() {
		result, err = sjson.SetRawBytes(result, "extra", []byte(s.Extra.Raw))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for SessionStarted
func (s *SessionStarted) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != "session_started" {
		return fmt.Errorf("missing or invalid type, expected 'session_started'")
	}

	if extra := gjson.GetBytes(data, "extra"); extra.Exists() {
		s.Extra = extra
	}

	return nil
}

// SessionEnding announces a service initiated drain: the session is about to
// end and no new work should be started on it.
type SessionEnding struct {
	Extra gjson.Result `json:"extra,omitempty"`
}

func (SessionEnding) frameBody() {}

// MarshalJSON implements custom JSON marshaling for SessionEnding
func (s SessionEnding) MarshalJSON() ([]byte, error) {
	result := sessionEndingJSON

	var err error
	if s.Extra.Exists() {
		result, err = sjson.SetRawBytes(result, "extra", []byte(s.Extra.Raw))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for SessionEnding
func (s *SessionEnding) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != "session_ending" {
		return fmt.Errorf("missing or invalid type, expected 'session_ending'")
	}

	if extra := gjson.GetBytes(data, "extra"); extra.Exists() {
		s.Extra = extra
	}

	return nil
}

// SessionEnd closes a session. After it the conversation id may be reused by
// a brand new session.
type SessionEnd struct {
	Extra gjson.Result `json:"extra,omitempty"`
}

func (SessionEnd) frameBody() {}

// MarshalJSON implements custom JSON marshaling for SessionEnd
func (s SessionEnd) MarshalJSON() ([]byte, error) {
	result := sessionEndJSON

	var err error
	if s.Extra.Exists() {
		result, err = sjson.SetRawBytes(result, "extra", []byte(s.Extra.Raw))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for SessionEnd
func (s *SessionEnd) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != "session_end" {
		return fmt.Errorf("missing or invalid type, expected 'session_end'")
	}

	if extra := gjson.GetBytes(data, "extra"); extra.Exists() {
		s.Extra = extra
	}

	return nil
}

// LabelUpdated renames the conversation.
type LabelUpdated struct {
	Label string `json:"label"`
}

func (LabelUpdated) frameBody() {}

// MarshalJSON implements custom JSON marshaling for LabelUpdated
func (l LabelUpdated) MarshalJSON() ([]byte, error) {
	return sjson.SetBytes(labelUpdatedJSON, "label", l.Label)
}

// UnmarshalJSON implements custom JSON unmarshaling for LabelUpdated
func (l *LabelUpdated) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != "label_updated" {
		return fmt.Errorf("missing or invalid type, expected 'label_updated'")
	}

	label := gjson.GetBytes(data, "label")
	if !label.Exists() {
		return fmt.Errorf("missing required field 'label'")
	}
	l.Label = label.String()

	return nil
}
