package wire

import (
	"fmt"

	"github.com/go-openapi/swag"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	contentPartJSON = []byte(`{"type":"content_part"}`)
	chunkJSON       = []byte(`{"type":"chunk"}`)
)

// ContentPartEvent is the closed union of events a ContentPartEnvelope can
// carry.
type ContentPartEvent interface {
	contentPartEvent()
}

// ContentType tags what a content part's data means.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentMarkdown   ContentType = "markdown"
	ContentHTML       ContentType = "html"
	ContentAudio      ContentType = "audio"
	ContentImage      ContentType = "image"
	ContentTranscript ContentType = "transcript"
)

// ContentPartEnvelope addresses one content part within a message.
type ContentPartEnvelope struct {
	ID    string           `json:"id"`
	Event ContentPartEvent `json:"-"`
}

func (ContentPartEnvelope) messageEvent() {}

// MarshalJSON implements custom JSON marshaling for ContentPartEnvelope
func (c ContentPartEnvelope) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(contentPartJSON, c.ID, c.Event)
}

// UnmarshalJSON implements custom JSON unmarshaling for ContentPartEnvelope
func (c *ContentPartEnvelope) UnmarshalJSON(data []byte) error {
	id, eventRaw, err := unmarshalEnvelope(data, "content_part")
	if err != nil {
		return err
	}
	c.ID = id

	event, err := contentPartEventFromJSON(eventRaw)
	if err != nil {
		return err
	}
	c.Event = event

	return nil
}

// ContentPartStart opens a content part. Inline parts stream their payload
// as chunks; out of band parts carry a ref to an attachment instead and
// stream nothing.
type ContentPartStart struct {
	Type     ContentType  `json:"content_type,omitempty"`
	MimeType string       `json:"mime_type,omitempty"`
	Ref      string       `json:"ref,omitempty"`
	Size     *int64       `json:"size,omitempty"`
	Extra    gjson.Result `json:"extra,omitempty"`
}

func (ContentPartStart) contentPartEvent() {}

// MarshalJSON implements custom JSON marshaling for ContentPartStart
func (c ContentPartStart) MarshalJSON() ([]byte, error) {
	result := startJSON

	var err error
	if c.Type != "" {
		result, err = sjson.SetBytes(result, "content_type", string(c.Type))
		if err != nil {
			return nil, err
		}
	}

	if c.MimeType != "" {
		result, err = sjson.SetBytes(result, "mime_type", c.MimeType)
		if err != nil {
			return nil, err
		}
	}

	if c.Ref != "" {
		result, err = sjson.SetBytes(result, "ref", c.Ref)
		if err != nil {
			return nil, err
		}
	}

	if c.Size != nil {
		result, err = sjson.SetBytes(result, "size", swag.Int64Value(c.Size))
		if err != nil {
			return nil, err
		}
	}

	if c.Extra.Exists() {
		result, err = sjson.SetRawBytes(result, "extra", []byte(c.Extra.Raw))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for ContentPartStart
func (c *ContentPartStart) UnmarshalJSON(data []byte) error {
	if err := requireType(data, "start"); err != nil {
		return err
	}

	if contentType := gjson.GetBytes(data, "content_type"); contentType.Exists() {
		c.Type = ContentType(contentType.String())
	}

	if mimeType := gjson.GetBytes(data, "mime_type"); mimeType.Exists() {
		c.MimeType = mimeType.String()
	}

	if ref := gjson.GetBytes(data, "ref"); ref.Exists() {
		c.Ref = ref.String()
	}

	if size := gjson.GetBytes(data, "size"); size.Exists() {
		c.Size = swag.Int64(size.Int())
	}

	if extra := gjson.GetBytes(data, "extra"); extra.Exists() {
		c.Extra = extra
	}

	return nil
}

// Chunk appends a slice of data to a content part. The optional citation
// marker opens and/or closes an attribution window around the data; offsets
// are derived by the receiver, never transmitted.
type Chunk struct {
	Data     string    `json:"data,omitempty"`
	Sequence *int64    `json:"sequence,omitempty"`
	Citation *Citation `json:"citation,omitempty"`
}

func (Chunk) contentPartEvent() {}

// MarshalJSON implements custom JSON marshaling for Chunk
func (c Chunk) MarshalJSON() ([]byte, error) {
	result := chunkJSON

	var err error
	if c.Data != "" {
		result, err = sjson.SetBytes(result, "data", c.Data)
		if err != nil {
			return nil, err
		}
	}

	if c.Sequence != nil {
		result, err = sjson.SetBytes(result, "sequence", swag.Int64Value(c.Sequence))
		if err != nil {
			return nil, err
		}
	}

	if c.Citation != nil {
		citationBytes, err := json.Marshal(c.Citation)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal citation: %w", err)
		}
		result, err = sjson.SetRawBytes(result, "citation", citationBytes)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for Chunk
func (c *Chunk) UnmarshalJSON(data []byte) error {
	if err := requireType(data, "chunk"); err != nil {
		return err
	}

	if d := gjson.GetBytes(data, "data"); d.Exists() {
		c.Data = d.String()
	}

	if sequence := gjson.GetBytes(data, "sequence"); sequence.Exists() {
		c.Sequence = swag.Int64(sequence.Int())
	}

	if citation := gjson.GetBytes(data, "citation"); citation.Exists() {
		c.Citation = &Citation{}
		if err := json.Unmarshal([]byte(citation.Raw), c.Citation); err != nil {
			return fmt.Errorf("invalid citation: %w", err)
		}
	}

	return nil
}

// Citation marks the chunk it rides on as the boundary of an attribution
// window. Open records the window start before the chunk's data is appended;
// Close seals it after the data is appended and names the sources. A single
// chunk may both open and close a window.
type Citation struct {
	ID      string   `json:"id"`
	Open    bool     `json:"open,omitempty"`
	Close   bool     `json:"close,omitempty"`
	Sources []Source `json:"sources,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for Citation
func (c Citation) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes([]byte(`{}`), "id", c.ID)
	if err != nil {
		return nil, err
	}

	if c.Open {
		result, err = sjson.SetBytes(result, "open", true)
		if err != nil {
			return nil, err
		}
	}

	if c.Close {
		result, err = sjson.SetBytes(result, "close", true)
		if err != nil {
			return nil, err
		}
	}

	if len(c.Sources) > 0 {
		sourceBytes, err := json.Marshal(c.Sources)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sources: %w", err)
		}
		result, err = sjson.SetRawBytes(result, "sources", sourceBytes)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for Citation
func (c *Citation) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	id := gjson.GetBytes(data, "id")
	if !id.Exists() {
		return fmt.Errorf("missing required field 'id'")
	}
	c.ID = id.String()

	c.Open = gjson.GetBytes(data, "open").Bool()
	c.Close = gjson.GetBytes(data, "close").Bool()

	if sources := gjson.GetBytes(data, "sources"); sources.Exists() {
		if err := json.Unmarshal([]byte(sources.Raw), &c.Sources); err != nil {
			return fmt.Errorf("invalid sources: %w", err)
		}
	}

	return nil
}

// Source names one document backing a citation.
type Source struct {
	Title string       `json:"title,omitempty"`
	URI   string       `json:"uri,omitempty"`
	Extra gjson.Result `json:"extra,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for Source
func (s Source) MarshalJSON() ([]byte, error) {
	result := []byte(`{}`)

	var err error
	if s.Title != "" {
		result, err = sjson.SetBytes(result, "title", s.Title)
		if err != nil {
			return nil, err
		}
	}

	if s.URI != "" {
		result, err = sjson.SetBytes(result, "uri", s.URI)
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

// UnmarshalJSON implements custom JSON unmarshaling for Source
func (s *Source) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	if title := gjson.GetBytes(data, "title"); title.Exists() {
		s.Title = title.String()
	}

	if uri := gjson.GetBytes(data, "uri"); uri.Exists() {
		s.URI = uri.String()
	}

	if extra := gjson.GetBytes(data, "extra"); extra.Exists() {
		s.Extra = extra
	}

	return nil
}

// ContentPartEnd closes a content part. Interrupted marks a part whose
// stream was cut short rather than completed.
type ContentPartEnd struct {
	Interrupted bool         `json:"interrupted,omitempty"`
	Extra       gjson.Result `json:"extra,omitempty"`
}

func (ContentPartEnd) contentPartEvent() {}

// MarshalJSON implements custom JSON marshaling for ContentPartEnd
func (c ContentPartEnd) MarshalJSON() ([]byte, error) {
	result := endJSON

	var err error
	if c.Interrupted {
		result, err = sjson.SetBytes(result, "interrupted", true)
		if err != nil {
			return nil, err
		}
	}

	if c.Extra.Exists() {
		result, err = sjson.SetRawBytes(result, "extra", []byte(c.Extra.Raw))
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for ContentPartEnd
func (c *ContentPartEnd) UnmarshalJSON(data []byte) error {
	if err := requireType(data, "end"); err != nil {
		return err
	}

	c.Interrupted = gjson.GetBytes(data, "interrupted").Bool()

	if extra := gjson.GetBytes(data, "extra"); extra.Exists() {
		c.Extra = extra
	}

	return nil
}
