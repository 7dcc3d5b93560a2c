package metrics

import (
	"context"
	"encoding/json"
	"expvar"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcserver/internal/mirror"
)

func TestSeverity(t *testing.T) {
	cases := map[string]string{
		"Good":                     SeverityGood,
		"UncertainLastUsableValue": SeverityUncertain,
		"BadOutOfRange":            SeverityBad,
		"BadInternalError":         SeverityBad,
		"NotAStatus":               SeverityBad,
	}
	for status, want := range cases {
		assert.Equal(t, want, Severity(status), status)
	}
}

func TestExpvarMethodBuckets(t *testing.T) {
	e := NewExpvar("")
	ctx := context.Background()
	e.Observe(ctx, "setThreshold", "Good", 2*time.Millisecond)
	e.Observe(ctx, "setThreshold", "BadOutOfRange", time.Millisecond)
	e.Observe(ctx, "setThreshold", "BadInvalidArgument", time.Millisecond)
	e.Observe(ctx, "getTankSystemParams", "UncertainLastUsableValue", time.Millisecond)
	e.Observe(ctx, "", "Good", time.Millisecond)

	snap := e.Snapshot()
	require.Len(t, snap.Methods, 2)
	set := snap.Methods["setThreshold"]
	assert.Equal(t, int64(3), set.Calls)
	assert.Equal(t, int64(1), set.Severity[SeverityGood])
	assert.Equal(t, int64(2), set.Severity[SeverityBad])
	assert.Equal(t, int64(1), set.Statuses["BadOutOfRange"])
	assert.InDelta(t, 4.0, set.DurationMS, 0.001)
	assert.Equal(t, int64(1), snap.Methods["getTankSystemParams"].Severity[SeverityUncertain])

	// snapshots are copies
	set.Statuses["BadOutOfRange"] = 99
	assert.Equal(t, int64(1), e.Snapshot().Methods["setThreshold"].Statuses["BadOutOfRange"])
}

func TestExpvarMirrorCounters(t *testing.T) {
	e := NewExpvar("plcserver_expvar_mirror_test")
	assert.Equal(t, "plcserver_expvar_mirror_test", e.Name())
	e.QueueDepth(3)
	e.Applied(mirror.ResultApplied, time.Millisecond)
	e.Applied(mirror.ResultApplied, time.Millisecond)
	e.Applied(mirror.ResultSuperseded, 0)
	e.Dropped()

	published := expvar.Get(e.Name())
	require.NotNil(t, published)
	var snap ExpvarSnapshot
	require.NoError(t, json.Unmarshal([]byte(published.String()), &snap))
	assert.Equal(t, int64(3), snap.Mirror.QueueDepth)
	assert.Equal(t, int64(2), snap.Mirror.Tasks[mirror.ResultApplied])
	assert.Equal(t, int64(1), snap.Mirror.Tasks[mirror.ResultSuperseded])
	assert.Equal(t, int64(1), snap.Mirror.Dropped)
	assert.InDelta(t, 2.0, snap.Mirror.ApplyLatencyMS, 0.001)
}

func TestNewExpvarGeneratesDistinctNames(t *testing.T) {
	a, b := NewExpvar(""), NewExpvar("")
	assert.NotEqual(t, a.Name(), b.Name())
}
