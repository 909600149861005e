package domain

import "time"

// Stats holds the counters and latency timestamps reported per connector.
type Stats struct {
	DDLOps    int64
	DMLOps    int64
	Reads     int64
	Inserts   int64
	Updates   int64
	Deletes   int64
	BadEvents int64
	Total     int64
	Batches   int64

	AvgBatchSize float64

	// Latency timestamps for the last processed batch.
	SourceFirst      time.Time
	DBZFirst         time.Time
	DestinationFirst time.Time
	SourceLast       time.Time
	DBZLast          time.Time
	DestinationLast  time.Time
}

// RecordBatch folds one batch's size into the running average and bumps
// the batch counter, matching the teacher's running-counter idiom used
// throughout src/repositories for incrementally maintained aggregates.
func (s *Stats) RecordBatch(size int) {
	s.Batches++
	s.Total += int64(size)
	if s.Batches == 0 {
		s.AvgBatchSize = float64(size)
		return
	}
	s.AvgBatchSize = s.AvgBatchSize + (float64(size)-s.AvgBatchSize)/float64(s.Batches)
}

// SharedStatus is the per-connector record kept in the Shared Status
// Surface (§4.H), mutated only under its owning table's exclusive lock.
type SharedStatus struct {
	PID              int
	Name             string
	SourceFlavor     SourceFlavor
	State            ConnectorState
	Stage            ConnectorStage
	LastErrorMsg     string
	LastOffsetString string
	SnapshotMode     SnapshotMode
	SourceDatabase   string
	DestDatabase     string
	Stats            Stats

	// Request is the single-slot control mailbox for this connector.
	Request Request
}

// MaxErrorMsgLen caps the stored error text, mirroring the fixed 256-byte
// shared-memory buffer the original implementation uses.
const MaxErrorMsgLen = 256

// TruncateError caps msg to MaxErrorMsgLen, matching the fixed-size error
// buffer the shared status surface is grounded on.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorMsgLen {
		return msg
	}
	return msg[:MaxErrorMsgLen]
}
