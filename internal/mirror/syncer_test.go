package mirror

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"plcserver/internal/addressspace"
	"plcserver/internal/core"
	"plcserver/internal/tanksystem"
	"plcserver/pkg/domain"
)

type recordingMetrics struct {
	mu      sync.Mutex
	results []string
	dropped int
}

func (m *recordingMetrics) QueueDepth(int) {}

func (m *recordingMetrics) Applied(result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
}

func (m *recordingMetrics) Dropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func (m *recordingMetrics) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newModel(t *testing.T) (*addressspace.AddressSpace, tanksystem.Instance) {
	t.Helper()
	space := addressspace.New()
	m, err := tanksystem.Build(space, "urn:mirror:test", []string{tanksystem.DefaultInstanceName})
	if err != nil {
		t.Fatalf("build model: %v", err)
	}
	return space, m.Instances[0]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stopSyncer(t *testing.T, s *Syncer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSyncerAppliesTask(t *testing.T) {
	space, inst := newModel(t)
	s := NewSyncer(space, WithLogger(quietLogger()))
	s.Start()
	defer stopSyncer(t, s)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	err := s.Schedule(Task{Origin: "test", Timestamp: at, Updates: []Update{
		{Node: inst.FillPercentage, Value: addressspace.Double(42.5), RowID: 1},
		{Node: inst.ValvePosition, Value: addressspace.Boolean(true), RowID: 1},
		{Node: inst.Threshold, Value: addressspace.Int32(7), RowID: 1},
	}})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, "threshold mirror", func() bool {
		dv, _ := space.ReadValue(inst.Threshold)
		return dv.Value.Int() == 7
	})
	level, _ := space.ReadValue(inst.FillPercentage)
	valve, _ := space.ReadValue(inst.ValvePosition)
	if level.Value.Float() != 42.5 || !valve.Value.Bool() {
		t.Fatalf("unexpected mirrored values %v %v", level.Value, valve.Value)
	}
	if !level.SourceTimestamp.Equal(at) || !valve.SourceTimestamp.Equal(at) {
		t.Fatalf("updates of one task must share the source timestamp")
	}
}

func TestSyncerNeverRegressesRowOrder(t *testing.T) {
	space, inst := newModel(t)
	metrics := &recordingMetrics{}
	s := NewSyncer(space, WithLogger(quietLogger()), WithMetrics(metrics))
	// Queue both before the consumer runs so the older row is applied last.
	if err := s.Schedule(Task{Origin: "newer", Updates: []Update{{Node: inst.Threshold, Value: addressspace.Int32(9), RowID: 5}}}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Schedule(Task{Origin: "older", Updates: []Update{{Node: inst.Threshold, Value: addressspace.Int32(3), RowID: 4}}}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.Start()
	defer stopSyncer(t, s)

	waitFor(t, "both tasks", func() bool { return metrics.count() == 2 })
	dv, _ := space.ReadValue(inst.Threshold)
	if dv.Value.Int() != 9 {
		t.Fatalf("older row overwrote newer: got %v", dv.Value)
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.results[1] != ResultSuperseded {
		t.Fatalf("expected second task superseded, got %v", metrics.results)
	}
}

func TestSyncerQueueFullMarksStale(t *testing.T) {
	space, inst := newModel(t)
	metrics := &recordingMetrics{}
	s := NewSyncer(space, WithQueueSize(1), WithLogger(quietLogger()), WithMetrics(metrics))
	if err := s.Schedule(Task{Origin: "first", Updates: []Update{{Node: inst.FillPercentage, Value: addressspace.Double(1), RowID: 1}}}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	err := s.Schedule(Task{Origin: "second", Updates: []Update{{Node: inst.Threshold, Value: addressspace.Int32(7), RowID: 2}}})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	s.Start()
	defer stopSyncer(t, s)

	waitFor(t, "stale threshold", func() bool {
		dv, _ := space.ReadValue(inst.Threshold)
		return dv.Status == addressspace.StatusUncertainLastUsableValue
	})
	if dv, _ := space.ReadValue(inst.FillPercentage); dv.Status != addressspace.StatusGood {
		t.Fatalf("applied variable must stay good, got %s", dv.Status)
	}
	metrics.mu.Lock()
	dropped := metrics.dropped
	metrics.mu.Unlock()
	if dropped != 1 {
		t.Fatalf("expected one dropped task, got %d", dropped)
	}

	if err := s.Schedule(Task{Origin: "third", Updates: []Update{{Node: inst.Threshold, Value: addressspace.Int32(8), RowID: 3}}}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, "recovered threshold", func() bool {
		dv, _ := space.ReadValue(inst.Threshold)
		return dv.Status == addressspace.StatusGood && dv.Value.Int() == 8
	})
}

func TestSyncerFailedUpdateMarksStale(t *testing.T) {
	space, inst := newModel(t)
	metrics := &recordingMetrics{}
	s := NewSyncer(space, WithLogger(quietLogger()), WithMetrics(metrics))
	s.Start()
	defer stopSyncer(t, s)

	if err := s.Schedule(Task{Origin: "bad", Updates: []Update{{Node: inst.Threshold, Value: addressspace.Double(1.5)}}}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, "failed task", func() bool { return metrics.count() == 1 })
	metrics.mu.Lock()
	result := metrics.results[0]
	metrics.mu.Unlock()
	if result != ResultFailed {
		t.Fatalf("expected failed result, got %s", result)
	}
	if dv, _ := space.ReadValue(inst.Threshold); dv.Status != addressspace.StatusUncertainLastUsableValue {
		t.Fatalf("expected stale threshold, got %s", dv.Status)
	}
}

func TestSyncerScheduleAfterStop(t *testing.T) {
	space, inst := newModel(t)
	s := NewSyncer(space, WithLogger(quietLogger()))
	s.Start()
	stopSyncer(t, s)
	err := s.Schedule(Task{Updates: []Update{{Node: inst.Threshold, Value: addressspace.Int32(1)}}})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := s.Schedule(Task{}); err != nil {
		t.Fatalf("empty task must be a no-op, got %v", err)
	}
}

func TestRefresherMirrorsLatestRows(t *testing.T) {
	space, inst := newModel(t)
	backend := core.NewMemoryBackend()
	ctx := context.Background()
	if _, err := backend.Append(ctx, domain.QuantityLevel, 42.5); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := backend.Append(ctx, domain.QuantityLevel, 10.0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := backend.Append(ctx, domain.QuantityThreshold, int32(12)); err != nil {
		t.Fatalf("append: %v", err)
	}

	s := NewSyncer(space, WithLogger(quietLogger()))
	s.Start()
	defer stopSyncer(t, s)

	r := NewRefresher(backend, s, []tanksystem.Instance{inst}, time.Hour, quietLogger())
	if err := r.RefreshOnce(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	waitFor(t, "refreshed values", func() bool {
		level, _ := space.ReadValue(inst.FillPercentage)
		threshold, _ := space.ReadValue(inst.Threshold)
		return level.Value.Float() == 10.0 && threshold.Value.Int() == 12
	})
	if valve, _ := space.ReadValue(inst.ValvePosition); valve.Value.Bool() {
		t.Fatalf("valve has no history and must keep its initial value")
	}
}

func TestRefresherRunStopsWithContext(t *testing.T) {
	space, inst := newModel(t)
	s := NewSyncer(space, WithLogger(quietLogger()))
	r := NewRefresher(core.NewMemoryBackend(), s, []tanksystem.Instance{inst}, time.Millisecond, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("refresher did not stop")
	}
	if err := NewRefresher(core.NewMemoryBackend(), s, nil, 0, nil).Run(context.Background()); err != nil {
		t.Fatalf("disabled refresher: %v", err)
	}
}

func TestVariantOf(t *testing.T) {
	v, err := VariantOf(domain.Reading{Quantity: domain.QuantityThreshold, Value: int32(4)})
	if err != nil || v != addressspace.Int32(4) {
		t.Fatalf("got %v, %v", v, err)
	}
	if _, err := VariantOf(domain.Reading{Quantity: "pressure"}); !errors.Is(err, domain.ErrUnknownQuantity) {
		t.Fatalf("expected ErrUnknownQuantity, got %v", err)
	}
}
