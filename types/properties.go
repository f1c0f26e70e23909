// Package types provides core type definitions used throughout the Strix engine.
package types

import "encoding/json"

// Properties is the caller-owned property bag attached to every event node.
// It maps string keys to values of any type. The engine never reads,
// interprets, or transmits properties; they exist so application code can
// hang its own state off the nodes it observes.
//
// Common use cases include:
//   - Correlating engine nodes with UI widgets
//   - Stashing per-exchange request context
//   - Tagging sessions with tenant or user identifiers
//
// Example usage:
//
//	session.SetProperties(types.Properties{
//	    "tenant":  "acme",
//	    "surface": "mobile",
//	})
//
// Thread Safety:
// Properties is a map type and is not safe for concurrent modification.
// Nodes copy on write: SetProperties merges into the node's bag under the
// session lock and Properties() hands back a snapshot, so callers never
// share the live map.
type Properties map[string]any

// String returns a JSON string representation of the Properties.
// If marshaling fails, it returns an empty string.
func (p Properties) String() string {
	jsonData, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(jsonData)
}

// Clone returns a shallow copy of the bag. Nested values are shared.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
