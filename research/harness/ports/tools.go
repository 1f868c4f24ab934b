package harnessports

import (
	"context"
	"encoding/json"
)

// Tool is a deterministic research capability. Invoke receives the validated
// arguments, including the ticker, and returns a JSON-serialisable payload.
// Data unavailability is reported in-band as {"error", "ticker", "reason"}
// rather than through the error return.
type Tool interface {
	Name() string
	Schema() []byte       // JSON schema for arguments
	OutputSchema() []byte // JSON schema for the payload, including the error shape
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}
