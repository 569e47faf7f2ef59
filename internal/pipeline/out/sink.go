// Package out publishes window snapshots to downstream systems.
package out

import (
	"context"
	"encoding/json"
)

// Sink accepts typed payloads for downstream consumers.
type Sink interface {
	Emit(ctx context.Context, typ string, v any) error
	Close() error
}

// Envelope wraps every emitted payload with its type and emission time so
// consumers can route without decoding the body.
type Envelope struct {
	Type string          `json:"type"` // e.g. "window_snapshot"
	TS   int64           `json:"ts"`   // unix milli
	Data json.RawMessage `json:"data"`
}

// SnapshotType is the envelope type for window accumulation snapshots.
const SnapshotType = "window_snapshot"
