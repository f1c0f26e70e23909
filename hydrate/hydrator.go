package hydrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"

	"github.com/casualjim/strix/pkg/slogx"
	"github.com/casualjim/strix/wire"
)

// WithLogger overrides the hydrator's logger.
var WithLogger = opts.ForName[Hydrator, *slog.Logger]("log")

// Hydrator replays a conversation's persisted history into a frame sink,
// usually a Manager's Dispatch. The sink sees the same frames a live peer
// would have produced, so handler code needs no hydration-specific path.
//
// The hydrator does not create the session: callers start one (or register
// a session-start listener) before hydrating, then let live traffic
// resume.
type Hydrator struct {
	svc      HistoryService
	dispatch func(wire.Frame)
	log      *slog.Logger
}

// New builds a hydrator that reads history from svc and feeds frames to
// dispatch.
func New(svc HistoryService, dispatch func(wire.Frame), options ...opts.Option[Hydrator]) *Hydrator {
	h := &Hydrator{
		svc:      svc,
		dispatch: dispatch,
		log:      slog.Default(),
	}
	if err := opts.Apply(h, options); err != nil {
		panic(err)
	}
	return h
}

// HydrateSession fetches every persisted exchange for the conversation and
// dispatches its replay in order. Replay stops at the first fetch or
// validation failure; frames already dispatched stay dispatched.
func (h *Hydrator) HydrateSession(ctx context.Context, conversationID string) error {
	exchanges, err := h.svc.ListExchanges(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("list exchanges: %w", err)
	}

	for _, rec := range exchanges {
		msgs := make([]Message, 0, len(rec.MessageIDs))
		for _, id := range rec.MessageIDs {
			msg, err := h.svc.GetMessage(ctx, conversationID, id)
			if err != nil {
				return fmt.Errorf("get message %s: %w", id, err)
			}
			msgs = append(msgs, msg)
		}

		events, err := ReplayExchange(rec, msgs)
		if err != nil {
			return fmt.Errorf("exchange %s: %w", rec.ID, err)
		}

		ts := rec.CreatedAt
		if time.Time(ts).IsZero() {
			ts = strfmt.DateTime(time.Now().UTC())
		}
		for _, ev := range events {
			h.dispatch(wire.Frame{
				ConversationID: conversationID,
				Timestamp:      ts,
				Body:           wire.ExchangeEnvelope{ID: rec.ID, Event: ev},
			})
		}
		h.log.Debug("replayed exchange",
			slogx.Conversation(conversationID),
			slog.String("exchange_id", rec.ID),
			slog.Int("messages", len(msgs)),
		)
	}
	return nil
}
