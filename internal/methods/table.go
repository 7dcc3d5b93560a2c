package methods

import (
	"fmt"
	"sort"
	"sync"

	"plcserver/internal/addressspace"
	"plcserver/internal/tanksystem"
)

// Table dispatches calls by method node id.
type Table struct {
	mu       sync.RWMutex
	handlers map[addressspace.NodeID]entry
}

type entry struct {
	object  addressspace.NodeID
	handler Handler
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{handlers: make(map[addressspace.NodeID]entry)}
}

// Register binds method, a component of object, to h.
func (t *Table) Register(object, method addressspace.NodeID, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.handlers[method]; exists {
		return fmt.Errorf("method %s already registered", method)
	}
	t.handlers[method] = entry{object: object, handler: h}
	return nil
}

// Lookup returns the handler of method and the object it belongs to.
func (t *Table) Lookup(method addressspace.NodeID) (Handler, addressspace.NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.handlers[method]
	return e.handler, e.object, ok
}

// Methods returns the registered method ids in a stable order.
func (t *Table) Methods() []addressspace.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]addressspace.NodeID, 0, len(t.handlers))
	for id := range t.handlers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		if out[i].Numeric != out[j].Numeric {
			return out[i].Numeric < out[j].Numeric
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Binding pairs a method node with its handler.
type Binding struct {
	Object  addressspace.NodeID
	Method  addressspace.NodeID
	Handler Handler
}

// InstanceBindings returns both handlers of inst.
func InstanceBindings(deps Deps, inst tanksystem.Instance) []Binding {
	return []Binding{
		{Object: inst.ID, Method: inst.GetParams, Handler: GetTankSystemParams(deps, inst)},
		{Object: inst.ID, Method: inst.SetThreshold, Handler: SetThreshold(deps, inst)},
	}
}
