package natsx

import (
	"os"

	"github.com/nats-io/nats.go"
)

// Connect dials the NATS server at url, falling back to the NATS_URL
// environment variable when url is empty. Without explicit options the
// connection is named "strix" and uses compression.
func Connect(url string, options ...nats.Option) (*nats.Conn, error) {
	if url == "" {
		url = os.Getenv("NATS_URL")
	}
	if len(options) == 0 {
		options = append(options, nats.Name("strix"), nats.Compression(true))
	}
	return nats.Connect(url, options...)
}
