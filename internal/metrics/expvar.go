package metrics

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"plcserver/internal/addressspace"
	"plcserver/internal/core"
	"plcserver/internal/mirror"
)

// Severity buckets of a method status.
const (
	SeverityGood      = "good"
	SeverityUncertain = "uncertain"
	SeverityBad       = "bad"
)

var expvarSeq atomic.Uint64

// MethodStats aggregates the calls of one method.
type MethodStats struct {
	Calls      int64            `json:"calls"`
	Severity   map[string]int64 `json:"severity"`
	Statuses   map[string]int64 `json:"statuses"`
	DurationMS float64          `json:"duration_ms_total"`
}

// MirrorStats aggregates mirror queue activity.
type MirrorStats struct {
	QueueDepth     int64            `json:"queue_depth"`
	Tasks          map[string]int64 `json:"tasks"`
	ApplyLatencyMS float64          `json:"apply_latency_ms_total"`
	Dropped        int64            `json:"dropped_total"`
}

// ExpvarSnapshot is the published value.
type ExpvarSnapshot struct {
	Methods    map[string]MethodStats `json:"methods"`
	Mirror     MirrorStats            `json:"mirror"`
	RecordedAt time.Time              `json:"recorded_at"`
}

// Expvar is the expvar counterpart of Recorder. Method outcomes are kept
// per status name and per severity of the status code.
type Expvar struct {
	name string

	mu      sync.Mutex
	methods map[string]*MethodStats
	mirror  MirrorStats
}

// NewExpvar publishes a recorder under name, or under a generated unique
// name when name is empty. Publishing the same name twice panics, as with
// expvar.Publish.
func NewExpvar(name string) *Expvar {
	if name == "" {
		name = fmt.Sprintf("plcserver_metrics_%d", expvarSeq.Add(1))
	}
	e := &Expvar{
		name:    name,
		methods: make(map[string]*MethodStats),
		mirror:  MirrorStats{Tasks: make(map[string]int64)},
	}
	expvar.Publish(name, expvar.Func(func() any { return e.Snapshot() }))
	return e
}

// Name returns the expvar name.
func (e *Expvar) Name() string { return e.name }

// Severity classifies a status name. Unknown names count as bad.
func Severity(status string) string {
	var code addressspace.StatusCode
	if err := code.UnmarshalText([]byte(status)); err != nil {
		return SeverityBad
	}
	switch {
	case code.IsBad():
		return SeverityBad
	case code.IsUncertain():
		return SeverityUncertain
	default:
		return SeverityGood
	}
}

// Observe implements core.MetricsRecorder.
func (e *Expvar) Observe(_ context.Context, operation, status string, duration time.Duration) {
	if operation == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.methods[operation]
	if !ok {
		st = &MethodStats{Severity: make(map[string]int64, 3), Statuses: make(map[string]int64, 4)}
		e.methods[operation] = st
	}
	st.Calls++
	st.Severity[Severity(status)]++
	st.Statuses[status]++
	st.DurationMS += float64(duration) / float64(time.Millisecond)
}

// QueueDepth implements mirror.Metrics.
func (e *Expvar) QueueDepth(depth int) {
	e.mu.Lock()
	e.mirror.QueueDepth = int64(depth)
	e.mu.Unlock()
}

// Applied implements mirror.Metrics.
func (e *Expvar) Applied(result string, latency time.Duration) {
	e.mu.Lock()
	e.mirror.Tasks[result]++
	e.mirror.ApplyLatencyMS += float64(latency) / float64(time.Millisecond)
	e.mu.Unlock()
}

// Dropped implements mirror.Metrics.
func (e *Expvar) Dropped() {
	e.mu.Lock()
	e.mirror.Dropped++
	e.mu.Unlock()
}

// Snapshot returns a copy of the aggregates.
func (e *Expvar) Snapshot() ExpvarSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := ExpvarSnapshot{
		Methods:    make(map[string]MethodStats, len(e.methods)),
		Mirror:     e.mirror,
		RecordedAt: time.Now().UTC(),
	}
	out.Mirror.Tasks = cloneCounts(e.mirror.Tasks)
	for op, st := range e.methods {
		cp := *st
		cp.Severity = cloneCounts(st.Severity)
		cp.Statuses = cloneCounts(st.Statuses)
		out.Methods[op] = cp
	}
	return out
}

func cloneCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var (
	_ core.MetricsRecorder = (*Expvar)(nil)
	_ mirror.Metrics       = (*Expvar)(nil)
)
