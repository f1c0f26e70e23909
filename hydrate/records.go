package hydrate

import (
	"context"

	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"

	"github.com/casualjim/strix"
	"github.com/casualjim/strix/wire"
)

// Exchange is the persisted form of one conversation turn: which messages
// it produced and whether it ran to completion. Message bodies are fetched
// separately by id, so listings stay light.
type Exchange struct {
	ID         string          `json:"id"`
	CreatedAt  strfmt.DateTime `json:"created_at,omitempty"`
	Completed  bool            `json:"completed,omitempty"`
	MessageIDs []string        `json:"message_ids,omitempty"`
}

// Message is the persisted form of one message with its content parts and
// tool calls inline. Completed is false for a message whose end frame
// never arrived; replaying it leaves the live message open.
type Message struct {
	ID        string           `json:"id"`
	Role      wire.MessageRole `json:"role,omitempty"`
	CreatedAt strfmt.DateTime  `json:"created_at,omitempty"`
	Completed bool             `json:"completed,omitempty"`
	Parts     []ContentPart    `json:"content_parts,omitempty"`
	ToolCalls []ToolCall       `json:"tool_calls,omitempty"`
}

// ContentPart is the persisted form of one streamed content unit. Inline
// payloads carry their full text plus the citations resolved over it;
// out-of-band payloads carry a ref (an attachment id or URI) and size
// instead, with no text and no citations to replay.
type ContentPart struct {
	ID          string           `json:"id"`
	Type        wire.ContentType `json:"content_type,omitempty"`
	MimeType    string           `json:"mime_type,omitempty"`
	Text        string           `json:"text,omitempty"`
	Ref         string           `json:"ref,omitempty"`
	Size        *int64           `json:"size,omitempty"`
	Citations   []strix.Citation `json:"citations,omitempty"`
	Interrupted bool             `json:"interrupted,omitempty"`
}

// ToolCall is the persisted form of one tool invocation. A call without
// Completed replays as a start with no end, mirroring an invocation that
// was still running when the record was cut.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input,omitempty"`
	Completed bool            `json:"completed,omitempty"`
	Cancelled bool            `json:"cancelled,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
}

// HistoryService is the persistence boundary. Implementations live with
// whatever backend stores conversations; this package only consumes the
// listing and lookup halves. CreateConversation and CreateAttachment serve
// callers directly: opening a server-side conversation before its first
// frame, and uploading payloads that content parts then reference by id.
type HistoryService interface {
	CreateConversation(ctx context.Context) (string, error)
	ListExchanges(ctx context.Context, conversationID string) ([]Exchange, error)
	GetMessage(ctx context.Context, conversationID, messageID string) (Message, error)
	CreateAttachment(ctx context.Context, conversationID, mimeType string, data []byte) (string, error)
}
