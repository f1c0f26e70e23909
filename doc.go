/*
Package strix implements a realtime conversation event engine: a live tree of
sessions, exchanges, messages, content parts, tool calls and input streams,
kept in sync over a frame transport.

The package models a conversation as nested nodes that mirror the frames
flowing between peers:

  - Manager: routes inbound frames to sessions and binds transport channels
  - Session: one conversation, holding exchanges, async tool calls and input streams
  - Exchange: one request/response turn, holding messages
  - Message: a single utterance, holding content parts and tool calls
  - ContentPart: streamed content with byte-accurate citations
  - Frames: the wire representation, nested envelopes down to the leaf event

# Basic Usage

The emitting side builds the tree top down; every local operation both
mutates the tree and sends the matching frame:

	m := strix.New(strix.WithProvider(provider))

	s, err := m.StartSession(ctx, conversationID, wire.SessionStart{})
	if err != nil {
		// Handle error
	}

	x, _ := s.StartExchange(wire.ExchangeStart{})
	err = x.Message(wire.MessageStart{Role: wire.RoleAssistant}, func(msg *strix.Message) wire.MessageEnd {
		part, _ := msg.StartContentPart(wire.ContentPartStart{Type: wire.ContentText})
		_ = part.SendText("Hello!")
		_ = part.SendEnd(wire.ContentPartEnd{})
		return wire.MessageEnd{}
	})

The consuming side registers handlers and lets inbound frames materialize
the same tree reactively:

	s.OnExchangeStart(func(x *strix.Exchange) {
		x.OnMessageStart(func(msg *strix.Message) {
			msg.OnCompleted(func(c strix.MessageCompletion) {
				fmt.Println(c.Text())
			})
		})
	})

# Architecture

The package is built around a few core pieces:

1. Manager (manager.go)
  - Routes every inbound frame to its session by conversation id
  - Binds conversations to transport channels through the pool
  - Turns channel loss and send failures into synthetic error frames

2. Nodes (node.go)
  - Shared behavior of every tree level: handlers, pause/resume, properties
  - Error scopes with escalation to session and manager listeners
  - Idempotent end and delete cascades

3. Completions (completion.go)
  - Aggregates finished messages: text, citations, tool call results
  - Records citation defects as data instead of failing the stream

4. Wire (wire package)
  - Frame and event types with their JSON codecs
  - Envelopes nest events down to the node they address

5. Transport (transport package)
  - Channel, Provider and Pipe primitives
  - WebSocket and NATS implementations

6. Hydrate (hydrate package)
  - Replays persisted conversations into live sessions as ordinary frames

# Integration

Strix speaks to backends through small interfaces:

  - transport.Provider obtains channels (WebSocket, NATS, in-process pipes)
  - hydrate.HistoryService loads persisted exchanges for replay

# Thread Safety

The engine is safe for concurrent use:
  - All node operations lock at the session level
  - Handlers run on the dispatching goroutine without external locks held
  - Completion waits are context-aware and safe across goroutines

For more information about specific components, see their respective documentation:
  - wire.Frame for the wire format
  - transport.Channel for implementing transports
  - hydrate.Hydrator for history replay
*/
package strix
