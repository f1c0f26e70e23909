// Package hydrate replays persisted conversation history through a live
// manager, so handlers observe a restored conversation exactly the way
// they observe one happening right now. It bridges a storage layer to
// the engine without either side knowing about the other.
//
// Design decisions:
//   - Replay over restore: history re-enters as ordinary frames instead
//     of pre-built node state, so one code path serves both live and
//     replayed traffic
//   - Strict validation: citation defects that streaming tolerates are
//     hard errors on the way back in, and replay stops before the bad
//     exchange plays
//   - Storage-agnostic: HistoryService is the only contract; records
//     keep tool payloads as raw JSON so any document store can hold them
//   - Finished history arrives finished: completed exchanges and
//     messages replay their end events and retire, interrupted ones stay
//     open so the conversation can pick up where it stopped
//
// Replay hierarchy:
//   - Hydrator: loads one conversation and dispatches its frames
//     └── ReplayExchange: one exchange as enveloped events
//     └── ReplayMessage: a message's parts and tool calls
//     └── ReplayContentPart: text split into plain and cited chunks
//
// Example usage:
//
//	h := hydrate.New(store, manager.Dispatch)
//	if err := h.HydrateSession(ctx, "conv_123"); err != nil {
//	    return err
//	}
//	// handlers registered on the manager have now seen the whole
//	// conversation; exchanges that never completed are live again
//
// The replay functions are exported separately from the Hydrator so a
// service that stores history elsewhere can still turn its records into
// frames and feed them wherever it likes.
package hydrate
