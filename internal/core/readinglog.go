package core

import (
	"context"
	"sync"

	"plcserver/pkg/domain"
)

// ReadingLog serializes every access to a reading backend behind a single
// mutex. No two queries or inserts run at the same time, whatever the number
// of concurrent callers.
type ReadingLog struct {
	mu      sync.Mutex
	backend domain.ReadingBackend
}

// NewReadingLog wraps backend.
func NewReadingLog(backend domain.ReadingBackend) *ReadingLog {
	return &ReadingLog{backend: backend}
}

// Exclusive runs fn while holding the log lock. fn must not retain the
// backend after it returns.
func (l *ReadingLog) Exclusive(fn func(b domain.ReadingBackend) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(l.backend)
}

// Latest returns the current row of q.
func (l *ReadingLog) Latest(ctx context.Context, q domain.Quantity) (domain.Reading, error) {
	var r domain.Reading
	err := l.Exclusive(func(b domain.ReadingBackend) error {
		var err error
		r, err = b.Latest(ctx, q)
		return err
	})
	return r, err
}

// Append inserts a row into q.
func (l *ReadingLog) Append(ctx context.Context, q domain.Quantity, value any) (domain.Reading, error) {
	var r domain.Reading
	err := l.Exclusive(func(b domain.ReadingBackend) error {
		var err error
		r, err = b.Append(ctx, q, value)
		return err
	})
	return r, err
}

// Count returns the number of rows in q.
func (l *ReadingLog) Count(ctx context.Context, q domain.Quantity) (int64, error) {
	var n int64
	err := l.Exclusive(func(b domain.ReadingBackend) error {
		var err error
		n, err = b.Count(ctx, q)
		return err
	})
	return n, err
}

// History pages through q in id order.
func (l *ReadingLog) History(ctx context.Context, q domain.Quantity, afterID int64, limit int) ([]domain.Reading, error) {
	var rows []domain.Reading
	err := l.Exclusive(func(b domain.ReadingBackend) error {
		var err error
		rows, err = b.History(ctx, q, afterID, limit)
		return err
	})
	return rows, err
}

// Close closes the backend.
func (l *ReadingLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backend.Close()
}
