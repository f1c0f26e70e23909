package strix

import "github.com/casualjim/strix/wire"

// CitationDefectKind classifies a citation bookkeeping anomaly observed
// while a content part streamed.
type CitationDefectKind string

const (
	// CitationNotStarted marks a close for a citation id that was never
	// opened on this content part.
	CitationNotStarted CitationDefectKind = "citation_not_started"
	// CitationNotEnded marks a citation still open when the content part
	// ended.
	CitationNotEnded CitationDefectKind = "citation_not_ended"
)

// CitationDefect records a citation anomaly. Defects are data: they ride
// along in the completion aggregate and are never raised as errors.
type CitationDefect struct {
	Kind CitationDefectKind
	ID   string
}

// Citation is a resolved source reference over a byte range of a content
// part's accumulated text. Offset is the byte position at which the cited
// span begins, Length the number of bytes it covers. Both are computed
// from the running text length as chunks arrive, so multi-byte runes are
// counted in bytes, not runes.
type Citation struct {
	ID      string        `json:"id"`
	Offset  int           `json:"offset"`
	Length  int           `json:"length"`
	Sources []wire.Source `json:"sources,omitempty"`
}

// ContentPartCompletion aggregates everything a content part produced by
// the time its end event arrived. Start is the zero value when the part
// was materialized without a start event.
type ContentPartCompletion struct {
	ID        string
	Start     wire.ContentPartStart
	End       wire.ContentPartEnd
	Text      string
	Citations []Citation
	Defects   []CitationDefect
}

// ToolCallCompletion pairs a tool call's start with its end.
type ToolCallCompletion struct {
	ID    string
	Start wire.ToolCallStart
	End   wire.ToolCallEnd
}

// MessageCompletion aggregates a finished message: its own start and end
// plus the completions of every content part and tool call that finished
// under it, in the order they completed.
type MessageCompletion struct {
	ID           string
	Start        wire.MessageStart
	End          wire.MessageEnd
	ContentParts []ContentPartCompletion
	ToolCalls    []ToolCallCompletion
}

// Text concatenates the accumulated text of all content parts, in
// completion order.
func (m MessageCompletion) Text() string {
	var out string
	for _, part := range m.ContentParts {
		out += part.Text
	}
	return out
}

// ErrorEvent is what any-error and unhandled-error handlers receive. NodeID
// identifies the node whose scope the error start arrived in; for an error
// scoped to the session itself it equals the conversation id.
type ErrorEvent struct {
	ConversationID string
	NodeID         string
	Err            wire.ErrorStart
}
