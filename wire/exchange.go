package wire

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	exchangeJSON = []byte(`{"type":"exchange"}`)
	messageJSON  = []byte(`{"type":"message"}`)
	startJSON    = []byte(`{"type":"start"}`)
	endJSON      = []byte(`{"type":"end"}`)
)

// ExchangeEvent is the closed union of events an ExchangeEnvelope can carry.
type ExchangeEvent interface {
	exchangeEvent()
}

// MessageEvent is the closed union of events a MessageEnvelope can carry.
type MessageEvent interface {
	messageEvent()
}

// ExchangeEnvelope addresses one exchange within a conversation and carries
// exactly one event for it.
type ExchangeEnvelope struct {
	ID    string        `json:"id"`
	Event ExchangeEvent `json:"-"`
}

func (ExchangeEnvelope) frameBody() {}

// MarshalJSON implements custom JSON marshaling for ExchangeEnvelope
func (e ExchangeEnvelope) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(exchangeJSON, e.ID, e.Event)
}

// UnmarshalJSON implements custom JSON unmarshaling for ExchangeEnvelope
func (e *ExchangeEnvelope) UnmarshalJSON(data []byte) error {
	id, eventRaw, err := unmarshalEnvelope(data, "exchange")
	if err != nil {
		return err
	}
	e.ID = id

	event, err := exchangeEventFromJSON(eventRaw)
	if err != nil {
		return err
	}
	e.Event = event

	return nil
}

// ExchangeStart opens an exchange: one turn of the conversation grouping the
// messages produced while handling it.
type ExchangeStart struct {
	Extra gjson.Result `json:"extra,omitempty"`
}

func (ExchangeStart) exchangeEvent() {}

// MarshalJSON implements custom JSON marshaling for ExchangeStart
func (e ExchangeStart) MarshalJSON() ([]byte, error) {
	result := startJSON

	var err error
	if e.Extra.Exists() {
		result, err = sjson.SetRawBytes(result, "extra", []byte(e.Extra.Raw))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for ExchangeStart
func (e *ExchangeStart) UnmarshalJSON(data []byte) error {
	if err := requireType(data, "start"); err != nil {
		return err
	}

	if extra := gjson.GetBytes(data, "extra"); extra.Exists() {
		e.Extra = extra
	}

	return nil
}

// ExchangeEnd closes an exchange.
type ExchangeEnd struct {
	Extra gjson.Result `json:"extra,omitempty"`
}

func (ExchangeEnd) exchangeEvent() {}

// MarshalJSON implements custom JSON marshaling for ExchangeEnd
func (e ExchangeEnd) MarshalJSON() ([]byte, error) {
	result := endJSON

	var err error
	if e.Extra.Exists() {
		result, err = sjson.SetRawBytes(result, "extra", []byte(e.Extra.Raw))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for ExchangeEnd
func (e *ExchangeEnd) UnmarshalJSON(data []byte) error {
	if err := requireType(data, "end"); err != nil {
		return err
	}

	if extra := gjson.GetBytes(data, "extra"); extra.Exists() {
		e.Extra = extra
	}

	return nil
}

// MessageEnvelope addresses one message within an exchange.
type MessageEnvelope struct {
	ID    string       `json:"id"`
	Event MessageEvent `json:"-"`
}

func (MessageEnvelope) exchangeEvent() {}

// MarshalJSON implements custom JSON marshaling for MessageEnvelope
func (m MessageEnvelope) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(messageJSON, m.ID, m.Event)
}

// UnmarshalJSON implements custom JSON unmarshaling for MessageEnvelope
func (m *MessageEnvelope) UnmarshalJSON(data []byte) error {
	id, eventRaw, err := unmarshalEnvelope(data, "message")
	if err != nil {
		return err
	}
	m.ID = id

	event, err := messageEventFromJSON(eventRaw)
	if err != nil {
		return err
	}
	m.Event = event

	return nil
}

// MessageRole identifies who a message speaks for.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageStart opens a message. A message groups the content parts streamed
// for one utterance together with the tool calls issued while producing it.
type MessageStart struct {
	Role  MessageRole  `json:"role,omitempty"`
	Extra gjson.Result `json:"extra,omitempty"`
}

func (MessageStart) messageEvent() {}

// MarshalJSON implements custom JSON marshaling for MessageStart
func (m MessageStart) MarshalJSON() ([]byte, error) {
	result := startJSON

	var err error
	if m.Role != "" {
		result, err = sjson.SetBytes(result, "role", string(m.Role))
		if err != nil {
			return nil, err
		}
	}

	if m.Extra.Exists() {
		result, err = sjson.SetRawBytes(result, "extra", []byte(m.Extra.Raw))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for MessageStart
func (m *MessageStart) UnmarshalJSON(data []byte) error {
	if err := requireType(data, "start"); err != nil {
		return err
	}

	if role := gjson.GetBytes(data, "role"); role.Exists() {
		m.Role = MessageRole(role.String())
	}

	if extra := gjson.GetBytes(data, "extra"); extra.Exists() {
		m.Extra = extra
	}

	return nil
}

// MessageEnd closes a message.
type MessageEnd struct {
	Extra gjson.Result `json:"extra,omitempty"`
}

func (MessageEnd) messageEvent() {}

// MarshalJSON implements custom JSON marshaling for MessageEnd
func (m MessageEnd) MarshalJSON() ([]byte, error) {
	result := endJSON

	var err error
	if m.Extra.Exists() {
		result, err = sjson.SetRawBytes(result, "extra", []byte(m.Extra.Raw))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for MessageEnd
func (m *MessageEnd) UnmarshalJSON(data []byte) error {
	if err := requireType(data, "end"); err != nil {
		return err
	}

	if extra := gjson.GetBytes(data, "extra"); extra.Exists() {
		m.Extra = extra
	}

	return nil
}

// marshalEnvelope renders the common envelope shape: the pre-allocated type
// marker, the addressed node id, and the nested event document.
func marshalEnvelope(marker []byte, id string, event any) ([]byte, error) {
	if event == nil {
		return nil, fmt.Errorf("envelope for %q has no event", id)
	}

	result, err := sjson.SetBytes(marker, "id", id)
	if err != nil {
		return nil, err
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope event: %w", err)
	}

	return sjson.SetRawBytes(result, "event", eventBytes)
}

// unmarshalEnvelope validates the common envelope shape and returns the node
// id together with the raw nested event document.
func unmarshalEnvelope(data []byte, expectType string) (string, []byte, error) {
	if !gjson.ValidBytes(data) {
		return "", nil, fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != expectType {
		return "", nil, fmt.Errorf("missing or invalid type, expected '%s'", expectType)
	}

	id := gjson.GetBytes(data, "id")
	if !id.Exists() {
		return "", nil, fmt.Errorf("missing required field 'id'")
	}

	event := gjson.GetBytes(data, "event")
	if !event.Exists() {
		return "", nil, fmt.Errorf("missing required field 'event'")
	}

	return id.String(), []byte(event.Raw), nil
}

// requireType checks the type tag of a leaf event document.
func requireType(data []byte, expect string) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != expect {
		return fmt.Errorf("missing or invalid type, expected '%s'", expect)
	}

	return nil
}
