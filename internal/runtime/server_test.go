package runtime

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcserver/internal/addressspace"
	"plcserver/internal/core"
	"plcserver/internal/methods"
	"plcserver/internal/mirror"
	"plcserver/internal/tanksystem"
	"plcserver/pkg/domain"
)

type harness struct {
	server *Server
	model  tanksystem.Model
	store  *core.ReadingLog
	deps   methods.Deps
}

func newHarness(t *testing.T, instances ...string) *harness {
	t.Helper()
	if len(instances) == 0 {
		instances = []string{tanksystem.DefaultInstanceName}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	space := addressspace.New()
	model, err := tanksystem.Build(space, "urn:runtime:test", instances)
	require.NoError(t, err)

	store := core.NewReadingLog(core.NewMemoryBackend())
	syncer := mirror.NewSyncer(space, mirror.WithLogger(logger))
	syncer.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = syncer.Stop(ctx)
	})
	deps := methods.Deps{Store: store, Mirror: syncer, Logger: logger}
	srv := New(space, WithLogger(logger), WithEndpoint("opc.tcp://localhost:4840"))
	for _, inst := range model.Instances {
		require.NoError(t, srv.RegisterInstance(deps, inst))
	}
	return &harness{server: srv, model: model, store: store, deps: deps}
}

func (h *harness) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := h.store.Append(ctx, domain.QuantityLevel, 42.5)
	require.NoError(t, err)
	_, err = h.store.Append(ctx, domain.QuantityValvePosition, true)
	require.NoError(t, err)
	_, err = h.store.Append(ctx, domain.QuantityThreshold, int32(2))
	require.NoError(t, err)
}

func TestCallRequiresSession(t *testing.T) {
	h := newHarness(t)
	inst := h.model.Instances[0]
	res := h.server.Call(context.Background(), "not-a-session", methods.CallRequest{ObjectID: inst.ID, MethodID: inst.GetParams})
	assert.Equal(t, addressspace.StatusBadSessionIDInvalid, res.Status)

	sess := h.server.OpenSession("test")
	require.True(t, h.server.CloseSession(sess.ID))
	assert.False(t, h.server.CloseSession(sess.ID))
	res = h.server.Call(context.Background(), sess.ID, methods.CallRequest{ObjectID: inst.ID, MethodID: inst.GetParams})
	assert.Equal(t, addressspace.StatusBadSessionIDInvalid, res.Status)
}

func TestCallDispatches(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	inst := h.model.Instances[0]
	sess := h.server.OpenSession("test")

	res := h.server.Call(context.Background(), sess.ID, methods.CallRequest{ObjectID: inst.ID, MethodID: inst.GetParams})
	require.Equal(t, addressspace.StatusGood, res.Status)
	assert.Equal(t, []addressspace.Variant{addressspace.Double(42.5), addressspace.Boolean(true), addressspace.Int32(2)}, res.OutputArguments)

	res = h.server.Call(context.Background(), sess.ID, methods.CallRequest{
		ObjectID: inst.ID, MethodID: inst.SetThreshold, InputArguments: []addressspace.Variant{addressspace.Int32(11)},
	})
	require.Equal(t, addressspace.StatusGood, res.Status)
	require.Eventually(t, func() bool {
		dv, err := h.server.Space().ReadValue(inst.Threshold)
		return err == nil && dv.Value.Int() == 11
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCallErrorStatuses(t *testing.T) {
	h := newHarness(t)
	inst := h.model.Instances[0]
	sess := h.server.OpenSession("test")
	ctx := context.Background()

	res := h.server.Call(ctx, sess.ID, methods.CallRequest{ObjectID: inst.ID, MethodID: inst.GetParams})
	assert.Equal(t, addressspace.StatusBadOutOfRange, res.Status)

	res = h.server.Call(ctx, sess.ID, methods.CallRequest{
		ObjectID: inst.ID, MethodID: inst.SetThreshold, InputArguments: []addressspace.Variant{addressspace.String("abc")},
	})
	assert.Equal(t, addressspace.StatusBadInvalidArgument, res.Status)
	assert.Equal(t, []addressspace.StatusCode{addressspace.StatusBadInvalidArgument}, res.InputArgumentResults)

	res = h.server.Call(ctx, sess.ID, methods.CallRequest{ObjectID: inst.ID, MethodID: inst.Threshold})
	assert.Equal(t, addressspace.StatusBadMethodInvalid, res.Status)

	res = h.server.Call(ctx, sess.ID, methods.CallRequest{MethodID: addressspace.NumericID(1, 9999)})
	assert.Equal(t, addressspace.StatusBadNodeIDUnknown, res.Status)

	res = h.server.Call(ctx, sess.ID, methods.CallRequest{ObjectID: addressspace.ObjectsFolderID, MethodID: inst.GetParams})
	assert.Equal(t, addressspace.StatusBadMethodInvalid, res.Status)
}

func TestRegisterMethodValidatesNodes(t *testing.T) {
	h := newHarness(t)
	inst := h.model.Instances[0]
	handler := methods.SetThreshold(h.deps, inst)

	err := h.server.RegisterMethod(inst.ID, addressspace.NumericID(1, 9999), handler)
	assert.ErrorIs(t, err, addressspace.ErrNodeNotFound)

	err = h.server.RegisterMethod(inst.ID, inst.Threshold, handler)
	assert.ErrorIs(t, err, addressspace.ErrWrongNodeClass)

	err = h.server.RegisterMethod(addressspace.ObjectsFolderID, inst.SetThreshold, handler)
	assert.Error(t, err)

	err = h.server.RegisterMethod(inst.ID, inst.SetThreshold, handler)
	assert.Error(t, err, "duplicate registration")

	bogus := inst
	bogus.Threshold = addressspace.NumericID(1, 9999)
	err = h.server.RegisterMethod(inst.ID, inst.SetThreshold, methods.SetThreshold(h.deps, bogus))
	assert.ErrorIs(t, err, addressspace.ErrNodeNotFound)
}

func TestMultipleInstancesShareStore(t *testing.T) {
	h := newHarness(t, "tankA", "tankB")
	h.seed(t)
	sess := h.server.OpenSession("test")
	a, b := h.model.Instances[0], h.model.Instances[1]
	assert.Len(t, h.server.Methods(), 4)

	res := h.server.Call(context.Background(), sess.ID, methods.CallRequest{
		ObjectID: a.ID, MethodID: a.SetThreshold, InputArguments: []addressspace.Variant{addressspace.Int32(5)},
	})
	require.Equal(t, addressspace.StatusGood, res.Status)

	res = h.server.Call(context.Background(), sess.ID, methods.CallRequest{ObjectID: b.ID, MethodID: b.GetParams})
	require.Equal(t, addressspace.StatusGood, res.Status)
	assert.Equal(t, addressspace.Int32(5), res.OutputArguments[2])
}

func TestSessionsListed(t *testing.T) {
	h := newHarness(t)
	first := h.server.OpenSession("a")
	second := h.server.OpenSession("b")
	assert.NotEqual(t, first.ID, second.ID)
	got, ok := h.server.Session(second.ID)
	require.True(t, ok)
	assert.Equal(t, "b", got.Client)
	assert.Len(t, h.server.Sessions(), 2)
	assert.Equal(t, "opc.tcp://localhost:4840", h.server.Endpoint())
}
