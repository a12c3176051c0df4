package sink

import (
	"context"

	"github.com/edgecomet/harvester/pkg/types"
)

// Sink is the append-only destination for finished records.
// The harvester never reads a sink back.
type Sink interface {
	// Emit appends one batch. An error is fatal to the run.
	Emit(ctx context.Context, batch []types.ProductRecord) error

	// Close flushes and releases the sink
	Close() error
}

// NoopSink discards records
type NoopSink struct{}

// Emit does nothing.
func (NoopSink) Emit(context.Context, []types.ProductRecord) error { return nil }

// Close returns nil.
func (NoopSink) Close() error { return nil }

// Batches splits records into consecutive slices of at most size records
func Batches(records []types.ProductRecord, size int) [][]types.ProductRecord {
	if len(records) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(records)
	}

	batches := make([][]types.ProductRecord, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, records[start:end])
	}
	return batches
}
