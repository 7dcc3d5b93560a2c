// Package methods implements the remotely callable operations of a tank
// system instance.
//
// Handlers form a closed set selected by Kind. Each carries only the node
// ids it mirrors; the store, the mirror queue and the observability sinks are
// shared through Deps.
package methods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"plcserver/internal/addressspace"
	"plcserver/internal/core"
	"plcserver/internal/mirror"
	"plcserver/internal/tanksystem"
	"plcserver/pkg/domain"
)

// Kind selects a handler variant.
type Kind uint8

const (
	KindGetTankSystemParams Kind = iota + 1
	KindSetThreshold
)

func (k Kind) String() string {
	switch k {
	case KindGetTankSystemParams:
		return tanksystem.GetParamsMethodName
	case KindSetThreshold:
		return tanksystem.SetThresholdName
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Session identifies the caller.
type Session struct {
	ID     string
	Client string
}

// CallRequest is one method invocation.
type CallRequest struct {
	ObjectID       addressspace.NodeID
	MethodID       addressspace.NodeID
	InputArguments []addressspace.Variant
}

// CallResult is the outcome of a successful call.
type CallResult struct {
	Status               addressspace.StatusCode   `json:"status"`
	InputArgumentResults []addressspace.StatusCode `json:"input_argument_results,omitempty"`
	OutputArguments      []addressspace.Variant    `json:"output_arguments,omitempty"`
}

// Scheduler queues mirror tasks without blocking.
type Scheduler interface {
	Schedule(task mirror.Task) error
}

// Deps are shared by every handler.
type Deps struct {
	Store   *core.ReadingLog
	Mirror  Scheduler
	Logger  *slog.Logger
	Metrics core.MetricsRecorder
	Clock   func() time.Time
	// Instances lists every instance backed by Store. Mirror tasks update
	// all of them; when empty only the called instance is mirrored.
	Instances []tanksystem.Instance
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if d.Metrics == nil {
		d.Metrics = core.NoopMetrics{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

// Handler is one method variant bound to one instance.
type Handler struct {
	kind     Kind
	instance string
	// instances whose variables the handler mirrors into, the called one first
	targets []tanksystem.Instance
	deps    Deps
}

func newHandler(kind Kind, deps Deps, inst tanksystem.Instance) Handler {
	targets := []tanksystem.Instance{inst}
	for _, other := range deps.Instances {
		if other.ID != inst.ID {
			targets = append(targets, other)
		}
	}
	return Handler{kind: kind, instance: inst.Name, targets: targets, deps: deps.withDefaults()}
}

// GetTankSystemParams returns the handler reading all three sequences of inst.
func GetTankSystemParams(deps Deps, inst tanksystem.Instance) Handler {
	return newHandler(KindGetTankSystemParams, deps, inst)
}

// SetThreshold returns the handler appending thresholds for inst.
func SetThreshold(deps Deps, inst tanksystem.Instance) Handler {
	return newHandler(KindSetThreshold, deps, inst)
}

// Kind returns the variant.
func (h Handler) Kind() Kind { return h.kind }

// Nodes lists the variables the handler mirrors into.
func (h Handler) Nodes() []addressspace.NodeID {
	var out []addressspace.NodeID
	for _, t := range h.targets {
		if h.kind == KindSetThreshold {
			out = append(out, t.Threshold)
			continue
		}
		out = append(out, t.FillPercentage, t.ValvePosition, t.Threshold)
	}
	return out
}

// Call runs the handler. Failures are *addressspace.StatusError values
// carrying BadInvalidArgument, BadOutOfRange or BadInternalError.
func (h Handler) Call(ctx context.Context, sess Session, req CallRequest) (CallResult, error) {
	start := h.deps.Clock()
	var (
		res CallResult
		err error
	)
	switch h.kind {
	case KindGetTankSystemParams:
		res, err = h.getTankSystemParams(ctx, req)
	case KindSetThreshold:
		res, err = h.setThreshold(ctx, req)
	default:
		err = addressspace.NewStatusError(addressspace.StatusBadMethodInvalid, fmt.Errorf("unknown handler kind %d", h.kind))
	}
	status := addressspace.StatusOf(err)
	h.deps.Metrics.Observe(ctx, h.kind.String(), status.String(), h.deps.Clock().Sub(start))
	if err != nil {
		h.logFailure(sess, status, err)
	}
	return res, err
}

func (h Handler) getTankSystemParams(ctx context.Context, req CallRequest) (CallResult, error) {
	if len(req.InputArguments) != 0 {
		return CallResult{}, addressspace.NewStatusError(addressspace.StatusBadInvalidArgument,
			fmt.Errorf("%s takes no arguments, got %d", h.kind, len(req.InputArguments)))
	}
	readings := make([]domain.Reading, 0, len(domain.Quantities))
	err := h.deps.Store.Exclusive(func(b domain.ReadingBackend) error {
		for _, q := range domain.Quantities {
			r, err := b.Latest(ctx, q)
			if err != nil {
				return readError(q, err)
			}
			readings = append(readings, r)
		}
		return nil
	})
	if err != nil {
		return CallResult{}, err
	}

	level, valve, threshold := readings[0], readings[1], readings[2]
	updates := make([]mirror.Update, 0, 3*len(h.targets))
	for _, t := range h.targets {
		updates = append(updates,
			mirror.Update{Node: t.FillPercentage, Value: addressspace.Double(level.Float()), RowID: level.ID},
			mirror.Update{Node: t.ValvePosition, Value: addressspace.Boolean(valve.Bool()), RowID: valve.ID},
			mirror.Update{Node: t.Threshold, Value: addressspace.Int32(threshold.Int32()), RowID: threshold.ID},
		)
	}
	h.schedule(mirror.Task{Origin: h.kind.String(), Timestamp: h.deps.Clock(), Updates: updates})
	return CallResult{
		Status: addressspace.StatusGood,
		OutputArguments: []addressspace.Variant{
			addressspace.Double(level.Float()),
			addressspace.Boolean(valve.Bool()),
			addressspace.Int32(threshold.Int32()),
		},
	}, nil
}

func (h Handler) setThreshold(ctx context.Context, req CallRequest) (CallResult, error) {
	if len(req.InputArguments) != 1 {
		return CallResult{}, addressspace.NewStatusError(addressspace.StatusBadInvalidArgument,
			fmt.Errorf("%s takes exactly one argument, got %d", h.kind, len(req.InputArguments)))
	}
	arg := req.InputArguments[0]
	if arg.Type != addressspace.TypeInt32 {
		return CallResult{}, addressspace.NewStatusError(addressspace.StatusBadInvalidArgument,
			fmt.Errorf("%s: %s must be Int32, got %s", h.kind, tanksystem.NewThresholdArgument, arg.Type))
	}

	var row domain.Reading
	err := h.deps.Store.Exclusive(func(b domain.ReadingBackend) error {
		var err error
		row, err = b.Append(ctx, domain.QuantityThreshold, arg.Int())
		return err
	})
	if err != nil {
		return CallResult{}, addressspace.NewStatusError(addressspace.StatusBadInternalError,
			fmt.Errorf("append %s: %w", domain.QuantityThreshold.Table(), err))
	}

	updates := make([]mirror.Update, 0, len(h.targets))
	for _, t := range h.targets {
		updates = append(updates, mirror.Update{Node: t.Threshold, Value: addressspace.Int32(row.Int32()), RowID: row.ID})
	}
	h.schedule(mirror.Task{Origin: h.kind.String(), Timestamp: h.deps.Clock(), Updates: updates})
	return CallResult{
		Status:               addressspace.StatusGood,
		InputArgumentResults: []addressspace.StatusCode{addressspace.StatusGood},
	}, nil
}

func (h Handler) schedule(task mirror.Task) {
	if h.deps.Mirror == nil {
		return
	}
	// full queues are logged and counted by the syncer
	if err := h.deps.Mirror.Schedule(task); err != nil && !errors.Is(err, mirror.ErrQueueFull) {
		h.deps.Logger.Debug("mirror task not scheduled", "method", h.kind.String(), "instance", h.instance, "error", err)
	}
}

func (h Handler) logFailure(sess Session, status addressspace.StatusCode, err error) {
	attrs := []any{"method", h.kind.String(), "instance", h.instance, "session", sess.ID, "status", status.String(), "error", err}
	switch status {
	case addressspace.StatusBadInternalError:
		h.deps.Logger.Error("method call failed", attrs...)
	case addressspace.StatusBadOutOfRange:
		h.deps.Logger.Warn("method call on empty sequence", attrs...)
	default:
		h.deps.Logger.Info("method call rejected", attrs...)
	}
}

func readError(q domain.Quantity, err error) error {
	if errors.Is(err, domain.ErrNoReadings) {
		return addressspace.NewStatusError(addressspace.StatusBadOutOfRange, fmt.Errorf("quantity %s: %w", q, err))
	}
	return addressspace.NewStatusError(addressspace.StatusBadInternalError, fmt.Errorf("latest %s: %w", q.Table(), err))
}
