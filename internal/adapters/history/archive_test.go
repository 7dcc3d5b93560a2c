package history

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcserver/internal/blob"
	"plcserver/internal/core"
	"plcserver/internal/logging"
	"plcserver/pkg/domain"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func seededLog(t *testing.T) *core.ReadingLog {
	t.Helper()
	log := core.NewReadingLog(core.NewMemoryBackend())
	ctx := context.Background()
	for _, v := range []float64{10, 20.5, 30.25, 40, 55.5} {
		_, err := log.Append(ctx, domain.QuantityLevel, v)
		require.NoError(t, err)
	}
	_, err := log.Append(ctx, domain.QuantityThreshold, int32(7))
	require.NoError(t, err)
	return log
}

func readCSV(t *testing.T, store blob.Store, key string) [][]string {
	t.Helper()
	_, rc, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	records, err := csv.NewReader(rc).ReadAll()
	require.NoError(t, err)
	return records
}

func TestArchiveWritesOneObjectPerTable(t *testing.T) {
	store := blob.NewMemory()
	a := NewArchiver(seededLog(t), store, WithClock(func() time.Time { return fixedNow }), WithPageSize(2), WithLogger(logging.Discard()))

	res, err := a.Archive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixedNow, res.At)
	require.Len(t, res.Artifacts, len(domain.Quantities))

	level := res.Artifacts[0]
	assert.Equal(t, "history/waterlevel/20240301T123000Z.csv", level.Object.Key)
	assert.Equal(t, 5, level.Rows)
	assert.Equal(t, "5", level.Object.Metadata["rows"])
	assert.Equal(t, "text/csv", level.Object.ContentType)

	records := readCSV(t, store, level.Object.Key)
	require.Len(t, records, 6)
	assert.Equal(t, []string{"id", "level", "recorded_at"}, records[0])
	assert.Equal(t, "20.5", records[2][1])
	assert.Equal(t, "55.5", records[5][1])

	valve := res.Artifacts[1]
	assert.Zero(t, valve.Rows)
	assert.Equal(t, [][]string{{"id", "position", "recorded_at"}}, readCSV(t, store, valve.Object.Key))

	threshold := res.Artifacts[2]
	assert.Equal(t, "history/triggerthreshold/20240301T123000Z.csv", threshold.Object.Key)
	assert.Equal(t, "7", readCSV(t, store, threshold.Object.Key)[1][1])

	listed, err := a.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestArchiveSameInstantConflicts(t *testing.T) {
	a := NewArchiver(seededLog(t), blob.NewMemory(), WithClock(func() time.Time { return fixedNow }), WithLogger(logging.Discard()))
	_, err := a.Archive(context.Background())
	require.NoError(t, err)
	_, err = a.Archive(context.Background())
	assert.ErrorIs(t, err, blob.ErrExists)

	// the first run's objects are untouched
	listed, err := a.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, listed, len(domain.Quantities))
}

func TestArchivePartialFailureRemovesWrittenObjects(t *testing.T) {
	store := blob.NewMemory()
	ctx := context.Background()
	taken := Key(domain.QuantityValvePosition, fixedNow)
	_, err := store.Put(ctx, taken, strings.NewReader("id,position,recorded_at\n"), blob.PutOptions{})
	require.NoError(t, err)

	a := NewArchiver(seededLog(t), store, WithClock(func() time.Time { return fixedNow }), WithLogger(logging.Discard()))
	res, err := a.Archive(ctx)
	require.ErrorIs(t, err, blob.ErrExists)
	assert.Empty(t, res.Artifacts)

	_, err = store.Head(ctx, Key(domain.QuantityLevel, fixedNow))
	assert.ErrorIs(t, err, blob.ErrNotFound)
	listed, err := store.List(ctx, KeyPrefix)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, taken, listed[0].Key)
}

type staticReader map[domain.Quantity][]domain.Reading

func (s staticReader) History(_ context.Context, q domain.Quantity, afterID int64, _ int) ([]domain.Reading, error) {
	if afterID > 0 {
		return nil, nil
	}
	return s[q], nil
}

func TestArchiveLeavesMissingTimestampEmpty(t *testing.T) {
	store := blob.NewMemory()
	stamped := time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC)
	reader := staticReader{domain.QuantityLevel: {
		{ID: 1, Quantity: domain.QuantityLevel, Value: 12.5},
		{ID: 2, Quantity: domain.QuantityLevel, Value: 13.0, RecordedAt: stamped},
	}}
	res, err := NewArchiver(reader, store, WithClock(func() time.Time { return fixedNow }), WithLogger(logging.Discard())).Archive(context.Background())
	require.NoError(t, err)

	records := readCSV(t, store, res.Artifacts[0].Object.Key)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"1", "12.5", ""}, records[1])
	assert.Equal(t, []string{"2", "13", "2024-02-29T08:00:00Z"}, records[2])
}

func TestArchiveToS3(t *testing.T) {
	store := blob.NewMockS3ForTests()
	a := NewArchiver(seededLog(t), store, WithClock(func() time.Time { return fixedNow }), WithLogger(logging.Discard()))
	res, err := a.Archive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5", res.Artifacts[0].Object.Metadata["rows"])
	assert.Len(t, readCSV(t, store, res.Artifacts[0].Object.Key), 6)
}

type failingReader struct{ err error }

func (f failingReader) History(context.Context, domain.Quantity, int64, int) ([]domain.Reading, error) {
	return nil, f.err
}

func TestArchiveReaderFailure(t *testing.T) {
	boom := errors.New("disk gone")
	store := blob.NewMemory()
	_, err := NewArchiver(failingReader{err: boom}, store, WithLogger(logging.Discard())).Archive(context.Background())
	assert.ErrorIs(t, err, boom)
	listed, _ := store.List(context.Background(), KeyPrefix)
	assert.Empty(t, listed)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "42.5", FormatValue(domain.Reading{Value: 42.5}))
	assert.Equal(t, "true", FormatValue(domain.Reading{Value: true}))
	assert.Equal(t, "-3", FormatValue(domain.Reading{Value: int32(-3)}))
	assert.Equal(t, "", FormatValue(domain.Reading{}))
}
