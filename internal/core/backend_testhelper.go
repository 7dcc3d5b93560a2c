package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"plcserver/pkg/domain"
)

// FaultBackendForTests wraps a backend with an artificial per-call delay,
// injectable failures and overlap tracking. It is exported for cross-package
// tests; production wiring never constructs one.
type FaultBackendForTests struct {
	domain.ReadingBackend

	Delay time.Duration

	mu          sync.Mutex
	latestErr   map[domain.Quantity]error
	appendErr   error
	inFlight    atomic.Int32
	peak        atomic.Int32
	calls       atomic.Int32
	appendCalls atomic.Int32
}

// NewFaultBackendForTests wraps inner.
func NewFaultBackendForTests(inner domain.ReadingBackend, delay time.Duration) *FaultBackendForTests {
	return &FaultBackendForTests{ReadingBackend: inner, Delay: delay, latestErr: make(map[domain.Quantity]error)}
}

// FailLatest makes Latest(q) return err. A nil err clears the fault.
func (b *FaultBackendForTests) FailLatest(q domain.Quantity, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.latestErr, q)
		return
	}
	b.latestErr[q] = err
}

// FailAppend makes every Append return err. A nil err clears the fault.
func (b *FaultBackendForTests) FailAppend(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendErr = err
}

// Peak returns the highest number of calls observed in flight at once.
func (b *FaultBackendForTests) Peak() int { return int(b.peak.Load()) }

// Calls returns the number of Latest and Append calls.
func (b *FaultBackendForTests) Calls() int { return int(b.calls.Load()) }

// AppendCalls returns the number of Append calls, failed ones included.
func (b *FaultBackendForTests) AppendCalls() int { return int(b.appendCalls.Load()) }

func (b *FaultBackendForTests) enter() func() {
	n := b.inFlight.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	b.calls.Add(1)
	if b.Delay > 0 {
		time.Sleep(b.Delay)
	}
	return func() { b.inFlight.Add(-1) }
}

// Latest implements domain.ReadingBackend.
func (b *FaultBackendForTests) Latest(ctx context.Context, q domain.Quantity) (domain.Reading, error) {
	defer b.enter()()
	b.mu.Lock()
	err := b.latestErr[q]
	b.mu.Unlock()
	if err != nil {
		return domain.Reading{}, err
	}
	return b.ReadingBackend.Latest(ctx, q)
}

// Append implements domain.ReadingBackend.
func (b *FaultBackendForTests) Append(ctx context.Context, q domain.Quantity, v any) (domain.Reading, error) {
	defer b.enter()()
	b.appendCalls.Add(1)
	b.mu.Lock()
	err := b.appendErr
	b.mu.Unlock()
	if err != nil {
		return domain.Reading{}, err
	}
	return b.ReadingBackend.Append(ctx, q, v)
}
