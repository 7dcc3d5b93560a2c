package domain

import "context"

// ReadingBackend is an append-only store of reading sequences. Rows are only
// ever inserted; the current value of a sequence is the row with the highest
// identifier.
//
// Implementations need not be safe for concurrent use; callers serialize
// access through core.ReadingLog.
type ReadingBackend interface {
	// Latest returns the row with the highest id, or ErrNoReadings.
	Latest(ctx context.Context, q Quantity) (Reading, error)
	// Append inserts a new row and returns it with its assigned id.
	Append(ctx context.Context, q Quantity, value any) (Reading, error)
	// Count returns the number of rows in the sequence.
	Count(ctx context.Context, q Quantity) (int64, error)
	// History returns rows with id greater than afterID in ascending id
	// order, at most limit rows when limit > 0.
	History(ctx context.Context, q Quantity, afterID int64, limit int) ([]Reading, error)
	// Close releases the underlying connection.
	Close() error
}
