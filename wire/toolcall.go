package wire

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var toolCallJSON = []byte(`{"type":"tool_call"}`)

// ToolCallEvent is the closed union of events a ToolCallEnvelope can carry.
type ToolCallEvent interface {
	toolCallEvent()
}

// ToolCallEnvelope addresses one tool call. Inside a MessageEnvelope it
// addresses a call scoped to that message; at the frame level it addresses a
// call scoped to the whole session.
type ToolCallEnvelope struct {
	ID    string        `json:"id"`
	Event ToolCallEvent `json:"-"`
}

func (ToolCallEnvelope) frameBody()    {}
func (ToolCallEnvelope) messageEvent() {}

// MarshalJSON implements custom JSON marshaling for ToolCallEnvelope
func (t ToolCallEnvelope) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(toolCallJSON, t.ID, t.Event)
}

// UnmarshalJSON implements custom JSON unmarshaling for ToolCallEnvelope
func (t *ToolCallEnvelope) UnmarshalJSON(data []byte) error {
	id, eventRaw, err := unmarshalEnvelope(data, "tool_call")
	if err != nil {
		return err
	}
	t.ID = id

	event, err := toolCallEventFromJSON(eventRaw)
	if err != nil {
		return err
	}
	t.Event = event

	return nil
}

// ToolCallStart announces a tool invocation. The engine only books the call;
// executing the tool is the caller's business.
type ToolCallStart struct {
	Name  string       `json:"name"`
	Input gjson.Result `json:"input,omitempty"`
}

func (ToolCallStart) toolCallEvent() {}

// MarshalJSON implements custom JSON marshaling for ToolCallStart
func (t ToolCallStart) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(startJSON, "name", t.Name)
	if err != nil {
		return nil, err
	}

	if t.Input.Exists() {
		result, err = sjson.SetRawBytes(result, "input", []byte(t.Input.Raw))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for ToolCallStart
func (t *ToolCallStart) UnmarshalJSON(data []byte) error {
	if err := requireType(data, "start"); err != nil {
		return err
	}

	name := gjson.GetBytes(data, "name")
	if !name.Exists() {
		return fmt.Errorf("missing required field 'name'")
	}
	t.Name = name.String()

	if input := gjson.GetBytes(data, "input"); input.Exists() {
		t.Input = input
	}

	return nil
}

// ToolCallEnd reports the outcome of a tool invocation.
type ToolCallEnd struct {
	Cancelled bool         `json:"cancelled,omitempty"`
	IsError   bool         `json:"is_error,omitempty"`
	Output    gjson.Result `json:"output,omitempty"`
}

func (ToolCallEnd) toolCallEvent() {}

// MarshalJSON implements custom JSON marshaling for ToolCallEnd
func (t ToolCallEnd) MarshalJSON() ([]byte, error) {
	result := endJSON

	var err error
	if t.Cancelled {
		result, err = sjson.SetBytes(result, "cancelled", true)
		if err != nil {
			return nil, err
		}
	}

	if t.IsError {
		result, err = sjson.SetBytes(result, "is_error", true)
		if err != nil {
			return nil, err
		}
	}

	if t.Output.Exists() {
		result, err = sjson.SetRawBytes(result, "output", []byte(t.Output.Raw))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for ToolCallEnd
func (t *ToolCallEnd) UnmarshalJSON(data []byte) error {
	if err := requireType(data, "end"); err != nil {
		return err
	}

	t.Cancelled = gjson.GetBytes(data, "cancelled").Bool()
	t.IsError = gjson.GetBytes(data, "is_error").Bool()

	if output := gjson.GetBytes(data, "output"); output.Exists() {
		t.Output = output
	}

	return nil
}
