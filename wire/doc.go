// Package wire defines the frame grammar spoken between the engine and the
// conversation service, together with its JSON codecs.
//
// Every unit that crosses the connection is a Frame: a conversation id, an
// optional timestamp, and exactly one body. Bodies are a closed union: the
// session life-cycle events (SessionStart, SessionStarted, SessionEnding,
// SessionEnd, LabelUpdated), the conversation-scoped Meta, ErrorStart and
// ErrorEnd events, and the envelopes that carry sub-protocols for the nodes
// below the session (ExchangeEnvelope, ToolCallEnvelope,
// InputStreamEnvelope).
//
// Envelopes recurse. Each one names the node it addresses and carries one
// event for it, and that event may itself be another envelope:
//
//	Frame
//	└── ExchangeEnvelope{id}
//	    └── MessageEnvelope{id}
//	        └── ContentPartEnvelope{id}
//	            └── Chunk{data, citation}
//
// The same five event kinds recur at every level: a start, an end, an opaque
// Meta, and the ErrorStart/ErrorEnd pair. Meta, ErrorStart and ErrorEnd are
// shared types that satisfy every envelope union, so a single error shape
// travels uniformly from the session down to a single content part.
//
// # Encoding
//
// Frames encode as type-tagged JSON objects. Marshaling is hand rolled on
// top of sjson starting from pre-allocated type markers, and unmarshaling
// reads fields through gjson, so no intermediate maps are allocated on the
// hot path. Optional scalar fields are pointers (see the swag helpers for
// building them); opaque payloads such as extras, meta documents, tool
// inputs and outputs stay gjson.Result values and are re-emitted verbatim.
//
// A nested frame looks like this on the wire:
//
//	{
//	  "type": "exchange",
//	  "conversation_id": "conv_1",
//	  "id": "ex_1",
//	  "event": {
//	    "type": "message",
//	    "id": "msg_1",
//	    "event": {
//	      "type": "content_part",
//	      "id": "part_1",
//	      "event": {"type": "chunk", "data": "hello"}
//	    }
//	  }
//	}
//
// Chunks of a textual content part may carry a Citation marker that opens
// and/or closes an attribution window. Offsets are never transmitted; the
// receiver derives them from the running byte length of the chunk data it
// has observed.
package wire
