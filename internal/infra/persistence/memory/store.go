// Package memory provides an in-memory reading log used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"plcserver/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.ReadingBackend = (*Store)(nil)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory store closed")

// Store keeps each sequence as a slice ordered by id.
type Store struct {
	mu     sync.RWMutex
	rows   map[domain.Quantity][]domain.Reading
	nextID map[domain.Quantity]int64
	closed bool
	now    func() time.Time
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		rows:   make(map[domain.Quantity][]domain.Reading, len(domain.Quantities)),
		nextID: make(map[domain.Quantity]int64, len(domain.Quantities)),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Latest implements domain.ReadingBackend.
func (s *Store) Latest(_ context.Context, q domain.Quantity) (domain.Reading, error) {
	if !q.Valid() {
		return domain.Reading{}, fmt.Errorf("%w: %q", domain.ErrUnknownQuantity, string(q))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.Reading{}, ErrClosed
	}
	rows := s.rows[q]
	if len(rows) == 0 {
		return domain.Reading{}, fmt.Errorf("%s: %w", q.Table(), domain.ErrNoReadings)
	}
	return rows[len(rows)-1], nil
}

// Append implements domain.ReadingBackend.
func (s *Store) Append(_ context.Context, q domain.Quantity, value any) (domain.Reading, error) {
	v, err := q.Normalize(value)
	if err != nil {
		return domain.Reading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Reading{}, ErrClosed
	}
	s.nextID[q]++
	r := domain.Reading{ID: s.nextID[q], Quantity: q, Value: v, RecordedAt: s.now()}
	s.rows[q] = append(s.rows[q], r)
	return r, nil
}

// Count implements domain.ReadingBackend.
func (s *Store) Count(_ context.Context, q domain.Quantity) (int64, error) {
	if !q.Valid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownQuantity, string(q))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return int64(len(s.rows[q])), nil
}

// History implements domain.ReadingBackend.
func (s *Store) History(_ context.Context, q domain.Quantity, afterID int64, limit int) ([]domain.Reading, error) {
	if !q.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownQuantity, string(q))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []domain.Reading
	for _, r := range s.rows[q] {
		if r.ID <= afterID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close implements domain.ReadingBackend.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
