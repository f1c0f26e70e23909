package wire

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// ToJSON serializes a frame for the connection.
func ToJSON(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// FromJSON parses one frame received from the connection.
func FromJSON(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func frameBodyFromJSON(data []byte) (FrameBody, error) {
	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() {
		return nil, fmt.Errorf("missing required field 'type'")
	}

	switch msgType.String() {
	case "session_start":
		var v SessionStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "session_started":
		var v SessionStarted
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "session_ending":
		var v SessionEnding
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "session_end":
		var v SessionEnd
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "label_updated":
		var v LabelUpdated
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "exchange":
		var v ExchangeEnvelope
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "tool_call":
		var v ToolCallEnvelope
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "input_stream":
		var v InputStreamEnvelope
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "meta":
		var v Meta
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "error":
		var v ErrorStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "error_end":
		var v ErrorEnd
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown frame type: %s", msgType.String())
	}
}

func exchangeEventFromJSON(data []byte) (ExchangeEvent, error) {
	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() {
		return nil, fmt.Errorf("missing required field 'type'")
	}

	switch msgType.String() {
	case "start":
		var v ExchangeStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "end":
		var v ExchangeEnd
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "message":
		var v MessageEnvelope
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "meta":
		var v Meta
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "error":
		var v ErrorStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "error_end":
		var v ErrorEnd
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown exchange event type: %s", msgType.String())
	}
}

func messageEventFromJSON(data []byte) (MessageEvent, error) {
	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() {
		return nil, fmt.Errorf("missing required field 'type'")
	}

	switch msgType.String() {
	case "start":
		var v MessageStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "end":
		var v MessageEnd
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "content_part":
		var v ContentPartEnvelope
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "tool_call":
		var v ToolCallEnvelope
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "meta":
		var v Meta
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "error":
		var v ErrorStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "error_end":
		var v ErrorEnd
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown message event type: %s", msgType.String())
	}
}

func contentPartEventFromJSON(data []byte) (ContentPartEvent, error) {
	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() {
		return nil, fmt.Errorf("missing required field 'type'")
	}

	switch msgType.String() {
	case "start":
		var v ContentPartStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "chunk":
		var v Chunk
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "end":
		var v ContentPartEnd
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "meta":
		var v Meta
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "error":
		var v ErrorStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "error_end":
		var v ErrorEnd
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown content part event type: %s", msgType.String())
	}
}

func toolCallEventFromJSON(data []byte) (ToolCallEvent, error) {
	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() {
		return nil, fmt.Errorf("missing required field 'type'")
	}

	switch msgType.String() {
	case "start":
		var v ToolCallStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "end":
		var v ToolCallEnd
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "meta":
		var v Meta
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "error":
		var v ErrorStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "error_end":
		var v ErrorEnd
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown tool call event type: %s", msgType.String())
	}
}

func streamEventFromJSON(data []byte) (StreamEvent, error) {
	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() {
		return nil, fmt.Errorf("missing required field 'type'")
	}

	switch msgType.String() {
	case "start":
		var v StreamStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "chunk":
		var v StreamChunk
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "end":
		var v StreamEnd
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "meta":
		var v Meta
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "error":
		var v ErrorStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "error_end":
		var v ErrorEnd
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown input stream event type: %s", msgType.String())
	}
}
