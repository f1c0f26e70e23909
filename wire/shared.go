package wire

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	metaJSON     = []byte(`{"type":"meta"}`)
	errorJSON    = []byte(`{"type":"error"}`)
	errorEndJSON = []byte(`{"type":"error_end"}`)
)

// Meta is an opaque service document scoped to whichever node the enclosing
// envelope addresses. The engine never interprets it, it only routes it.
type Meta struct {
	Data gjson.Result `json:"meta"`
}

func (Meta) frameBody()        {}
func (Meta) exchangeEvent()    {}
func (Meta) messageEvent()     {}
func (Meta) contentPartEvent() {}
func (Meta) toolCallEvent()    {}
func (Meta) streamEvent()      {}

// MarshalJSON implements custom JSON marshaling for Meta
func (m Meta) MarshalJSON() ([]byte, error) {
	raw := m.Data.Raw
	if raw == "" {
		raw = "null"
	}
	return sjson.SetRawBytes(metaJSON, "meta", []byte(raw))
}

// UnmarshalJSON implements custom JSON unmarshaling for Meta
func (m *Meta) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != "meta" {
		return fmt.Errorf("missing or invalid type, expected 'meta'")
	}

	meta := gjson.GetBytes(data, "meta")
	if !meta.Exists() {
		return fmt.Errorf("missing required field 'meta'")
	}
	m.Data = meta

	return nil
}

// ErrorStart opens an error condition on the node the enclosing envelope
// addresses. The condition stays active until a matching ErrorEnd with the
// same id arrives. Errors are protocol data, not Go errors: they flow through
// handlers like any other event.
type ErrorStart struct {
	ID      string       `json:"id"`
	Message string       `json:"message"`
	Detail  gjson.Result `json:"detail,omitempty"`
}

func (ErrorStart) frameBody()        {}
func (ErrorStart) exchangeEvent()    {}
func (ErrorStart) messageEvent()     {}
func (ErrorStart) contentPartEvent() {}
func (ErrorStart) toolCallEvent()    {}
func (ErrorStart) streamEvent()      {}

// MarshalJSON implements custom JSON marshaling for ErrorStart
func (e ErrorStart) MarshalJSON() ([]byte, error) {
	inner, err := sjson.SetBytes([]byte(`{}`), "id", e.ID)
	if err != nil {
		return nil, err
	}

	inner, err = sjson.SetBytes(inner, "message", e.Message)
	if err != nil {
		return nil, err
	}

	if e.Detail.Exists() {
		inner, err = sjson.SetRawBytes(inner, "detail", []byte(e.Detail.Raw))
		if err != nil {
			return nil, err
		}
	}

	return sjson.SetRawBytes(errorJSON, "error", inner)
}

// UnmarshalJSON implements custom JSON unmarshaling for ErrorStart
func (e *ErrorStart) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != "error" {
		return fmt.Errorf("missing or invalid type, expected 'error'")
	}

	errObj := gjson.GetBytes(data, "error")
	if !errObj.Exists() {
		return fmt.Errorf("missing required field 'error'")
	}

	id := errObj.Get("id")
	if !id.Exists() {
		return fmt.Errorf("missing required field 'error.id'")
	}
	e.ID = id.String()

	message := errObj.Get("message")
	if !message.Exists() {
		return fmt.Errorf("missing required field 'error.message'")
	}
	e.Message = message.String()

	if detail := errObj.Get("detail"); detail.Exists() {
		e.Detail = detail
	}

	return nil
}

// ErrorEnd clears the error condition opened by the ErrorStart with the
// same id.
type ErrorEnd struct {
	ID string `json:"id"`
}

func (ErrorEnd) frameBody()        {}
func (ErrorEnd) exchangeEvent()    {}
func (ErrorEnd) messageEvent()     {}
func (ErrorEnd) contentPartEvent() {}
func (ErrorEnd) toolCallEvent()    {}
func (ErrorEnd) streamEvent()      {}

// MarshalJSON implements custom JSON marshaling for ErrorEnd
func (e ErrorEnd) MarshalJSON() ([]byte, error) {
	inner, err := sjson.SetBytes([]byte(`{}`), "id", e.ID)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(errorEndJSON, "error", inner)
}

// UnmarshalJSON implements custom JSON unmarshaling for ErrorEnd
func (e *ErrorEnd) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != "error_end" {
		return fmt.Errorf("missing or invalid type, expected 'error_end'")
	}

	errObj := gjson.GetBytes(data, "error")
	if !errObj.Exists() {
		return fmt.Errorf("missing required field 'error'")
	}

	id := errObj.Get("id")
	if !id.Exists() {
		return fmt.Errorf("missing required field 'error.id'")
	}
	e.ID = id.String()

	return nil
}
