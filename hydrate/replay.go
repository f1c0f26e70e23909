package hydrate

import (
	"errors"
	"fmt"
	"slices"

	"github.com/tidwall/gjson"

	"github.com/casualjim/strix"
	"github.com/casualjim/strix/wire"
)

var (
	// ErrOverlappingCitations is returned when two persisted citations
	// cover intersecting byte ranges. Live streams tolerate citation
	// anomalies as defect data; a persisted record claiming overlapping
	// spans is corrupt and replay refuses it outright.
	ErrOverlappingCitations = errors.New("citations overlap")

	// ErrCitationOutOfBounds is returned when a persisted citation extends
	// past the end of its part's text, or claims a span on a part that
	// stores no inline text at all.
	ErrCitationOutOfBounds = errors.New("citation exceeds content bounds")
)

// ReplayContentPart projects a persisted part back into the event sequence
// a live stream would have produced: a start, alternating plain and
// citation-bearing chunks walking the text left to right, and an end.
// Feeding the result through a live part reproduces the persisted
// citations exactly, with zero defects.
//
// Out-of-band payloads (Ref set) replay as the start and end only; the
// start carries the ref and size for the consumer to fetch separately.
func ReplayContentPart(rec ContentPart) ([]wire.ContentPartEvent, error) {
	spans, err := orderedSpans(rec)
	if err != nil {
		return nil, err
	}

	events := []wire.ContentPartEvent{wire.ContentPartStart{
		Type:     rec.Type,
		MimeType: rec.MimeType,
		Ref:      rec.Ref,
		Size:     rec.Size,
	}}

	if rec.Ref == "" {
		cursor := 0
		for _, span := range spans {
			if span.Offset > cursor {
				events = append(events, wire.Chunk{Data: rec.Text[cursor:span.Offset]})
			}
			events = append(events, wire.Chunk{
				Data: rec.Text[span.Offset : span.Offset+span.Length],
				Citation: &wire.Citation{
					ID:      span.ID,
					Open:    true,
					Close:   true,
					Sources: span.Sources,
				},
			})
			cursor = span.Offset + span.Length
		}
		if cursor < len(rec.Text) {
			events = append(events, wire.Chunk{Data: rec.Text[cursor:]})
		}
	}

	events = append(events, wire.ContentPartEnd{Interrupted: rec.Interrupted})
	return events, nil
}

// orderedSpans sorts the record's citations by offset and validates them:
// every span must fit the inline text and no two spans may intersect.
func orderedSpans(rec ContentPart) ([]strix.Citation, error) {
	spans := slices.Clone(rec.Citations)
	slices.SortStableFunc(spans, func(a, b strix.Citation) int { return a.Offset - b.Offset })

	limit := len(rec.Text)
	if rec.Ref != "" {
		limit = 0
	}
	for i, span := range spans {
		if span.Offset < 0 || span.Length < 0 || span.Offset+span.Length > limit {
			return nil, fmt.Errorf("%w: %s [%d,%d) over %d bytes",
				ErrCitationOutOfBounds, span.ID, span.Offset, span.Offset+span.Length, limit)
		}
		if i == 0 {
			continue
		}
		prev := spans[i-1]
		if prev.Offset+prev.Length > span.Offset {
			return nil, fmt.Errorf("%w: %s [%d,%d) and %s [%d,%d)",
				ErrOverlappingCitations,
				prev.ID, prev.Offset, prev.Offset+prev.Length,
				span.ID, span.Offset, span.Offset+span.Length)
		}
	}
	return spans, nil
}

// ReplayMessage projects a persisted message: its start, every content
// part's replay wrapped in the part's envelope, every tool call's start
// (and end, when the call finished), and the message end. A message whose
// record is not Completed replays without an end, leaving the live message
// open exactly as it was when persisted.
func ReplayMessage(rec Message) ([]wire.MessageEvent, error) {
	events := []wire.MessageEvent{wire.MessageStart{Role: rec.Role}}

	for _, part := range rec.Parts {
		partEvents, err := ReplayContentPart(part)
		if err != nil {
			return nil, fmt.Errorf("content part %s: %w", part.ID, err)
		}
		for _, ev := range partEvents {
			events = append(events, wire.ContentPartEnvelope{ID: part.ID, Event: ev})
		}
	}

	for _, call := range rec.ToolCalls {
		events = append(events, wire.ToolCallEnvelope{
			ID:    call.ID,
			Event: wire.ToolCallStart{Name: call.Name, Input: gjson.ParseBytes(call.Input)},
		})
		if call.Completed {
			events = append(events, wire.ToolCallEnvelope{
				ID: call.ID,
				Event: wire.ToolCallEnd{
					Cancelled: call.Cancelled,
					IsError:   call.IsError,
					Output:    gjson.ParseBytes(call.Output),
				},
			})
		}
	}

	if rec.Completed {
		events = append(events, wire.MessageEnd{})
	}
	return events, nil
}

// ReplayExchange projects a persisted exchange over its resolved messages.
// msgs must hold the records for rec.MessageIDs in order; the Hydrator
// does that resolution against a HistoryService.
func ReplayExchange(rec Exchange, msgs []Message) ([]wire.ExchangeEvent, error) {
	events := []wire.ExchangeEvent{wire.ExchangeStart{}}

	for _, msg := range msgs {
		msgEvents, err := ReplayMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		for _, ev := range msgEvents {
			events = append(events, wire.MessageEnvelope{ID: msg.ID, Event: ev})
		}
	}

	if rec.Completed {
		events = append(events, wire.ExchangeEnd{})
	}
	return events, nil
}
