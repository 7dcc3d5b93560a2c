// Package addressspace holds the in-memory node graph served to clients.
//
// Nodes live in an arena keyed by NodeID behind a single reader/writer lock.
// Callers never get pointers into the arena: every accessor takes an id and
// returns a copy.
package addressspace

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var (
	ErrNodeExists         = errors.New("node id already exists")
	ErrNodeNotFound       = errors.New("node not found")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrWrongNodeClass     = errors.New("wrong node class")
	ErrNamespaceTableFull = errors.New("namespace table full")
	ErrUnknownNamespace   = errors.New("unknown namespace")
)

const maxNamespaces = math.MaxUint16 + 1

// Option configures an AddressSpace.
type Option func(*AddressSpace)

// WithNamespaceLimit caps the namespace table, namespace 0 included.
func WithNamespaceLimit(n int) Option {
	return func(s *AddressSpace) {
		if n >= 1 && n <= maxNamespaces {
			s.namespaceLimit = n
		}
	}
}

// WithClock overrides the time source used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *AddressSpace) {
		if now != nil {
			s.now = now
		}
	}
}

// AddressSpace is the shared node graph.
type AddressSpace struct {
	mu             sync.RWMutex
	nodes          map[NodeID]*Node
	namespaces     []string
	namespaceLimit int
	nextNumeric    map[uint16]uint32
	subs           map[NodeID]map[uint64]*Subscription
	nextSub        uint64
	now            func() time.Time
}

// New returns an address space populated with the standard namespace 0
// nodes (folders, base types, data types, reference types, modelling rules).
func New(opts ...Option) *AddressSpace {
	s := &AddressSpace{
		nodes:          make(map[NodeID]*Node),
		namespaces:     []string{StandardNamespaceURI},
		namespaceLimit: maxNamespaces,
		nextNumeric:    make(map[uint16]uint32),
		subs:           make(map[NodeID]map[uint64]*Subscription),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bootstrap()
	return s
}

// RegisterNamespace returns the index of uri, adding it to the table on first
// use.
func (s *AddressSpace) RegisterNamespace(uri string) (uint16, error) {
	if uri == "" {
		return 0, fmt.Errorf("register namespace: empty uri")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.namespaces {
		if existing == uri {
			return uint16(i), nil
		}
	}
	if len(s.namespaces) >= s.namespaceLimit {
		return 0, fmt.Errorf("register namespace %s: %w", uri, ErrNamespaceTableFull)
	}
	s.namespaces = append(s.namespaces, uri)
	return uint16(len(s.namespaces) - 1), nil
}

// NamespaceIndex looks up a registered uri.
func (s *AddressSpace) NamespaceIndex(uri string) (uint16, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, existing := range s.namespaces {
		if existing == uri {
			return uint16(i), true
		}
	}
	return 0, false
}

// Namespaces returns a copy of the namespace table.
func (s *AddressSpace) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.namespaces...)
}

// NewNodeID reserves the next free numeric id in namespace ns. The id is not
// taken until a node is added under it.
func (s *AddressSpace) NewNodeID(ns uint16) (NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(ns) >= len(s.namespaces) {
		return NodeID{}, fmt.Errorf("namespace %d: %w", ns, ErrUnknownNamespace)
	}
	next := s.nextNumeric[ns]
	for {
		next++
		id := NumericID(ns, next)
		if _, taken := s.nodes[id]; !taken {
			s.nextNumeric[ns] = next
			return id, nil
		}
	}
}

// Node returns a copy of the node.
func (s *AddressSpace) Node(id NodeID) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	return n.clone(), nil
}

// ReadValue returns the current value of a variable node.
func (s *AddressSpace) ReadValue(id NodeID) (DataValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.lookup(id, ClassVariable)
	if err != nil {
		return DataValue{}, err
	}
	return n.Value, nil
}

// Browse returns every reference of the node, forward and inverse.
func (s *AddressSpace) Browse(id NodeID) ([]Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	return append([]Reference(nil), n.References...), nil
}

// FindChild follows the forward hierarchical references of parent and
// returns the target carrying name.
func (s *AddressSpace) FindChild(parent NodeID, name QualifiedName) (NodeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findChild(parent, name)
}

// TranslateBrowsePath resolves a path of browse names starting at start.
func (s *AddressSpace) TranslateBrowsePath(start NodeID, path ...QualifiedName) (NodeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[start]; !ok {
		return NodeID{}, fmt.Errorf("%s: %w", start, ErrNodeNotFound)
	}
	cur := start
	for _, name := range path {
		next, err := s.findChild(cur, name)
		if err != nil {
			return NodeID{}, err
		}
		cur = next
	}
	return cur, nil
}

// IsReachable reports whether to can be reached from "from" by following
// forward hierarchical references.
func (s *AddressSpace) IsReachable(from, to NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[NodeID]bool{from: true}
	queue := []NodeID{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		n, ok := s.nodes[cur]
		if !ok {
			continue
		}
		for _, ref := range n.References {
			if ref.Forward && isHierarchical(ref.Type) && !seen[ref.Target] {
				seen[ref.Target] = true
				queue = append(queue, ref.Target)
			}
		}
	}
	return false
}

// SetVariableValue overwrites a variable's value and timestamps. The status
// is reset to Good.
func (s *AddressSpace) SetVariableValue(id NodeID, v Variant, source, server time.Time) error {
	return s.Batch(func(w *Writer) error {
		return w.SetVariableValue(id, v, source, server)
	})
}

// MarkStale flags the variables as UncertainLastUsableValue, keeping their
// last value.
func (s *AddressSpace) MarkStale(ids ...NodeID) error {
	return s.Batch(func(w *Writer) error {
		var errs []error
		for _, id := range ids {
			errs = append(errs, w.MarkStale(id))
		}
		return errors.Join(errs...)
	})
}

// Batch runs fn under a single write-lock acquisition. fn must not call back
// into the AddressSpace.
func (s *AddressSpace) Batch(fn func(w *Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Writer{s: s})
}

// Writer mutates variable values while the write lock is held.
type Writer struct {
	s *AddressSpace
}

// SetVariableValue is AddressSpace.SetVariableValue inside a batch.
func (w *Writer) SetVariableValue(id NodeID, v Variant, source, server time.Time) error {
	n, err := w.s.lookup(id, ClassVariable)
	if err != nil {
		return err
	}
	if !valueMatches(n.DataType, v) {
		return fmt.Errorf("%s: %w: %s value for data type %s", id, ErrTypeMismatch, v.Type, n.DataType)
	}
	n.Value = DataValue{Value: v, Status: StatusGood, SourceTimestamp: source, ServerTimestamp: server}
	w.s.notify(id, n.Value)
	return nil
}

// MarkStale is AddressSpace.MarkStale inside a batch.
func (w *Writer) MarkStale(id NodeID) error {
	n, err := w.s.lookup(id, ClassVariable)
	if err != nil {
		return err
	}
	if n.Value.Status == StatusUncertainLastUsableValue {
		return nil
	}
	n.Value.Status = StatusUncertainLastUsableValue
	n.Value.ServerTimestamp = w.s.now()
	w.s.notify(id, n.Value)
	return nil
}

func (s *AddressSpace) lookup(id NodeID, class NodeClass) (*Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	if n.Class != class {
		return nil, fmt.Errorf("%s is a %s, want %s: %w", id, n.Class, class, ErrWrongNodeClass)
	}
	return n, nil
}

func (s *AddressSpace) findChild(parent NodeID, name QualifiedName) (NodeID, error) {
	n, ok := s.nodes[parent]
	if !ok {
		return NodeID{}, fmt.Errorf("%s: %w", parent, ErrNodeNotFound)
	}
	for _, ref := range n.References {
		if !ref.Forward || !isHierarchical(ref.Type) {
			continue
		}
		if child, ok := s.nodes[ref.Target]; ok && child.BrowseName == name {
			return child.ID, nil
		}
	}
	return NodeID{}, fmt.Errorf("%s/%s: %w", parent, name, ErrNodeNotFound)
}

func valueMatches(dataType NodeID, v Variant) bool {
	if v.IsNull() {
		return false
	}
	return dataType == BaseDataTypeID || dataType == v.Type.DataTypeID()
}

// insert adds n and no references. Callers hold the write lock.
func (s *AddressSpace) insert(n *Node) {
	if n.DisplayName == "" {
		n.DisplayName = n.BrowseName.Name
	}
	s.nodes[n.ID] = n
}

// link adds a forward reference on src and its inverse on dst. Callers hold
// the write lock and have checked both nodes exist.
func (s *AddressSpace) link(src, refType, dst NodeID) {
	s.nodes[src].References = append(s.nodes[src].References, Reference{Type: refType, Target: dst, Forward: true})
	s.nodes[dst].References = append(s.nodes[dst].References, Reference{Type: refType, Target: src, Forward: false})
}

func (s *AddressSpace) bootstrap() {
	folder := func(id NodeID, name string) *Node {
		return &Node{ID: id, Class: ClassObject, BrowseName: QN(0, name)}
	}
	s.insert(folder(RootFolderID, "Root"))
	s.insert(folder(ObjectsFolderID, "Objects"))
	s.insert(folder(TypesFolderID, "Types"))
	s.insert(folder(ObjectTypesFolderID, "ObjectTypes"))
	s.insert(folder(VariableTypesFolderID, "VariableTypes"))
	s.insert(folder(DataTypesFolderID, "DataTypes"))
	s.insert(folder(ReferenceTypesFolderID, "ReferenceTypes"))

	for _, rt := range []struct {
		id       NodeID
		name     string
		abstract bool
	}{
		{ReferencesID, "References", true},
		{OrganizesID, "Organizes", false},
		{HasModellingRuleID, "HasModellingRule", false},
		{HasTypeDefinitionID, "HasTypeDefinition", false},
		{HasSubtypeID, "HasSubtype", false},
		{HasPropertyID, "HasProperty", false},
		{HasComponentID, "HasComponent", false},
	} {
		s.insert(&Node{ID: rt.id, Class: ClassReferenceType, BrowseName: QN(0, rt.name), IsAbstract: rt.abstract})
	}

	s.insert(&Node{ID: BaseObjectTypeID, Class: ClassObjectType, BrowseName: QN(0, "BaseObjectType")})
	s.insert(&Node{ID: FolderTypeID, Class: ClassObjectType, BrowseName: QN(0, "FolderType")})
	s.insert(&Node{ID: ModellingRuleTypeID, Class: ClassObjectType, BrowseName: QN(0, "ModellingRuleType")})
	s.insert(&Node{ID: BaseVariableTypeID, Class: ClassVariableType, BrowseName: QN(0, "BaseVariableType"), IsAbstract: true})
	s.insert(&Node{ID: BaseDataVariableTypeID, Class: ClassVariableType, BrowseName: QN(0, "BaseDataVariableType")})
	s.insert(&Node{ID: PropertyTypeID, Class: ClassVariableType, BrowseName: QN(0, "PropertyType")})

	s.insert(&Node{ID: BaseDataTypeID, Class: ClassDataType, BrowseName: QN(0, "BaseDataType"), IsAbstract: true})
	for _, t := range []VariantType{TypeBoolean, TypeInt32, TypeDouble, TypeString} {
		s.insert(&Node{ID: t.DataTypeID(), Class: ClassDataType, BrowseName: QN(0, t.String())})
		s.link(BaseDataTypeID, HasSubtypeID, t.DataTypeID())
	}

	s.insert(&Node{ID: ModellingRuleMandatory, Class: ClassObject, BrowseName: QN(0, "Mandatory")})
	s.insert(&Node{ID: ModellingRuleOptional, Class: ClassObject, BrowseName: QN(0, "Optional")})

	for _, id := range []NodeID{RootFolderID, ObjectsFolderID, TypesFolderID, ObjectTypesFolderID,
		VariableTypesFolderID, DataTypesFolderID, ReferenceTypesFolderID} {
		s.link(id, HasTypeDefinitionID, FolderTypeID)
	}
	s.link(RootFolderID, OrganizesID, ObjectsFolderID)
	s.link(RootFolderID, OrganizesID, TypesFolderID)
	s.link(TypesFolderID, OrganizesID, ObjectTypesFolderID)
	s.link(TypesFolderID, OrganizesID, VariableTypesFolderID)
	s.link(TypesFolderID, OrganizesID, DataTypesFolderID)
	s.link(TypesFolderID, OrganizesID, ReferenceTypesFolderID)

	s.link(ObjectTypesFolderID, OrganizesID, BaseObjectTypeID)
	s.link(BaseObjectTypeID, HasSubtypeID, FolderTypeID)
	s.link(BaseObjectTypeID, HasSubtypeID, ModellingRuleTypeID)
	s.link(VariableTypesFolderID, OrganizesID, BaseVariableTypeID)
	s.link(BaseVariableTypeID, HasSubtypeID, BaseDataVariableTypeID)
	s.link(BaseDataVariableTypeID, HasSubtypeID, PropertyTypeID)
	s.link(DataTypesFolderID, OrganizesID, BaseDataTypeID)
	s.link(ReferenceTypesFolderID, OrganizesID, ReferencesID)
	for _, id := range []NodeID{OrganizesID, HasModellingRuleID, HasTypeDefinitionID, HasSubtypeID, HasPropertyID, HasComponentID} {
		s.link(ReferencesID, HasSubtypeID, id)
	}
	s.link(ModellingRuleMandatory, HasTypeDefinitionID, ModellingRuleTypeID)
	s.link(ModellingRuleOptional, HasTypeDefinitionID, ModellingRuleTypeID)
}
