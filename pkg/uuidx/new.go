package uuidx

import "github.com/google/uuid"

// New generates a new UUID using the version 7 format and returns it.
// It panics if the UUID generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString generates a new UUID using the version 7 format and returns it as a string.
// It utilizes the New function to create the UUID and then converts it to a string.
func NewString() string {
	return New().String()
}

// Prefixed generates a new version 7 UUID and returns it as a string with
// the given prefix and an underscore in front, e.g. Prefixed("msg") yields
// "msg_018f...". Node identifiers minted by the engine use this form so a
// bare id in a log line still says what kind of node it names.
func Prefixed(prefix string) string {
	return prefix + "_" + NewString()
}
