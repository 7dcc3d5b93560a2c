// Package history copies the reading sequences into an object store as one
// CSV file per table.
package history

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"plcserver/internal/blob"
	"plcserver/pkg/domain"
)

const (
	// KeyPrefix is the root of every archive object key.
	KeyPrefix = "history/"
	// TimestampLayout names archive objects; it sorts lexically.
	TimestampLayout = "20060102T150405Z"

	defaultPageSize = 500
	contentType     = "text/csv"
)

// Reader pages through a sequence in id order. *core.ReadingLog satisfies it.
type Reader interface {
	History(ctx context.Context, q domain.Quantity, afterID int64, limit int) ([]domain.Reading, error)
}

// Artifact describes one written table.
type Artifact struct {
	Quantity domain.Quantity `json:"quantity"`
	Table    string          `json:"table"`
	Rows     int             `json:"rows"`
	LastID   int64           `json:"last_id"`
	Object   blob.Info       `json:"object"`
}

// Result is the outcome of one Archive run.
type Result struct {
	At        time.Time  `json:"at"`
	Artifacts []Artifact `json:"artifacts"`
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

// WithPageSize bounds the rows read per History call.
func WithPageSize(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// Archiver writes CSV snapshots of every sequence.
type Archiver struct {
	reader   Reader
	store    blob.Store
	logger   *slog.Logger
	now      func() time.Time
	pageSize int
}

// NewArchiver returns an archiver reading from r and writing to store.
func NewArchiver(r Reader, store blob.Store, opts ...Option) *Archiver {
	a := &Archiver{
		reader:   r,
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key returns the object key for q archived at at.
func Key(q domain.Quantity, at time.Time) string {
	return KeyPrefix + q.Table() + "/" + at.UTC().Format(TimestampLayout) + ".csv"
}

// Archive writes one object per sequence. Empty sequences produce a file
// holding only the header row. An existing key fails with blob.ErrExists.
// A run either writes every table or, on failure, removes the objects it
// already wrote and returns an empty Artifacts list.
func (a *Archiver) Archive(ctx context.Context) (Result, error) {
	res := Result{At: a.now().UTC()}
	for _, q := range domain.Quantities {
		art, err := a.archive(ctx, q, res.At)
		if err != nil {
			err = fmt.Errorf("archive %s: %w", q.Table(), err)
			if rbErr := a.rollback(ctx, res.Artifacts); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			res.Artifacts = nil
			return res, err
		}
		res.Artifacts = append(res.Artifacts, art)
	}
	return res, nil
}

func (a *Archiver) rollback(ctx context.Context, written []Artifact) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, art := range written {
		if _, err := a.store.Delete(ctx, art.Object.Key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", art.Object.Key, err))
			continue
		}
		a.logger.Warn("history archive rolled back", "table", art.Table, "key", art.Object.Key)
	}
	return errors.Join(errs...)
}

func (a *Archiver) archive(ctx context.Context, q domain.Quantity, at time.Time) (Artifact, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", q.Column(), "recorded_at"}); err != nil {
		return Artifact{}, err
	}
	art := Artifact{Quantity: q, Table: q.Table()}
	for {
		page, err := a.reader.History(ctx, q, art.LastID, a.pageSize)
		if err != nil {
			return Artifact{}, err
		}
		for _, r := range page {
			if err := w.Write([]string{strconv.FormatInt(r.ID, 10), FormatValue(r), formatTime(r.RecordedAt)}); err != nil {
				return Artifact{}, err
			}
			art.LastID = r.ID
		}
		art.Rows += len(page)
		if len(page) < a.pageSize {
			break
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Artifact{}, err
	}

	info, err := a.store.Put(ctx, Key(q, at), bytes.NewReader(buf.Bytes()), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"table":   q.Table(),
			"rows":    strconv.Itoa(art.Rows),
			"last_id": strconv.FormatInt(art.LastID, 10),
		},
	})
	if err != nil {
		return Artifact{}, err
	}
	art.Object = info
	a.logger.Info("history archived", "table", art.Table, "rows", art.Rows, "key", info.Key, "driver", string(a.store.Driver()))
	return art, nil
}

// List returns the archive objects already written, oldest first per table.
func (a *Archiver) List(ctx context.Context) ([]blob.Info, error) {
	return a.store.List(ctx, KeyPrefix)
}

// formatTime leaves the cell empty for readings without a timestamp.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// FormatValue renders a reading value the way it is stored.
func FormatValue(r domain.Reading) string {
	switch v := r.Value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
