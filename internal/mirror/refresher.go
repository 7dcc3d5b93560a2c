package mirror

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"plcserver/internal/core"
	"plcserver/internal/tanksystem"
	"plcserver/pkg/domain"
)

// LatestReader returns the newest row of a sequence.
type LatestReader interface {
	Latest(ctx context.Context, q domain.Quantity) (domain.Reading, error)
}

// Refresher periodically mirrors the newest rows of every sequence into all
// instances, so readings recorded outside method calls reach the address
// space without a client call.
type Refresher struct {
	reader    LatestReader
	syncer    *Syncer
	instances []tanksystem.Instance
	interval  time.Duration
	logger    *slog.Logger
}

// NewRefresher constructs a refresher. A nil logger writes text to stderr.
func NewRefresher(reader LatestReader, syncer *Syncer, instances []tanksystem.Instance, interval time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Refresher{
		reader:    reader,
		syncer:    syncer,
		instances: append([]tanksystem.Instance(nil), instances...),
		interval:  interval,
		logger:    logger,
	}
}

// Run refreshes every interval until ctx is done. A non-positive interval
// returns immediately.
func (r *Refresher) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil {
				r.logger.Error("mirror refresh failed", "error", err)
			}
		}
	}
}

// RefreshOnce schedules one task per instance carrying the newest row of each
// sequence. Sequences without history are skipped.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	var readings []domain.Reading
	for _, q := range domain.Quantities {
		reading, err := r.reader.Latest(ctx, q)
		if errors.Is(err, domain.ErrNoReadings) {
			continue
		}
		if err != nil {
			return err
		}
		readings = append(readings, reading)
	}
	if len(readings) == 0 {
		return nil
	}
	now := time.Now()
	var errs []error
	for _, inst := range r.instances {
		task, err := InstanceTask("refresh", inst, readings, now)
		if err != nil {
			return err
		}
		if err := r.syncer.Schedule(task); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InstanceTask builds a task writing readings into the matching variables of
// inst with one shared timestamp.
func InstanceTask(origin string, inst tanksystem.Instance, readings []domain.Reading, at time.Time) (Task, error) {
	task := Task{Origin: origin, Timestamp: at}
	for _, reading := range readings {
		node, ok := inst.Variable(reading.Quantity)
		if !ok {
			return Task{}, domain.ErrUnknownQuantity
		}
		v, err := VariantOf(reading)
		if err != nil {
			return Task{}, err
		}
		task.Updates = append(task.Updates, Update{Node: node, Value: v, RowID: reading.ID})
	}
	return task, nil
}

var _ LatestReader = (*core.ReadingLog)(nil)
