package strix

import "errors"

var (
	// ErrEnded is returned by every mutating or emitting operation invoked
	// on a node after its end event. Ending is monotonic: once a node has
	// ended it never produces again.
	ErrEnded = errors.New("node has already ended")

	// ErrDeleted is returned by operations invoked on a node that has been
	// deleted, either explicitly or by a cascading ancestor deletion.
	ErrDeleted = errors.New("node has been deleted")

	// ErrNoStartEvent is returned when reading the start payload of a node
	// that was materialized reactively by a non-start event and never
	// received its start.
	ErrNoStartEvent = errors.New("node was materialized without a start event")

	// ErrNoSuchError is returned by SendErrorEnd when the given id does not
	// match a pending error start on the node.
	ErrNoSuchError = errors.New("no active error with this id")

	// ErrDuplicateID is returned when starting a child with an explicit id
	// that a live sibling already uses. Ids become reusable only after the
	// previous holder is deleted.
	ErrDuplicateID = errors.New("a live sibling already uses this id")
)
