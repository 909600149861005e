// Package producer declares the upstream event producer contract (§6,
// "Producer interface (consumed)") the supervisor drives every iteration.
package producer

import (
	"context"

	"github.com/synchdb-go/synchdb/src/domain"
)

// Producer is the external event source a supervisor task owns for the
// lifetime of its connector. Implementations wrap whatever actually talks
// to the upstream capture runner (a Kafka consumer group reading the
// runner's output topic, an embedded subprocess, ...).
type Producer interface {
	// Start performs the blocking init §6 describes.
	Start(ctx context.Context, cfg domain.ConnectorConfig) error

	// FetchEvents performs one non-blocking pull, returning 0..N raw JSON
	// event strings. An empty slice with a nil error is a normal result.
	FetchEvents(ctx context.Context) ([]string, error)

	// GetOffset returns the producer's opaque offset descriptor for db.
	GetOffset(ctx context.Context, db string) (string, error)

	// SetOffset seeks the producer to a previously persisted offset.
	SetOffset(ctx context.Context, db string, offset string, file string) error

	// Stop is idempotent; repeated calls after the first are no-ops.
	Stop(ctx context.Context) error
}
