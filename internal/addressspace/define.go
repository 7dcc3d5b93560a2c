package addressspace

import (
	"fmt"
	"time"
)

// ObjectTypeAttributes describes a new object type.
type ObjectTypeAttributes struct {
	BrowseName  QualifiedName
	DisplayName string
	IsAbstract  bool
	// SuperType defaults to BaseObjectType.
	SuperType NodeID
}

// ObjectAttributes describes a new object.
type ObjectAttributes struct {
	BrowseName  QualifiedName
	DisplayName string
	Parent      NodeID
	// ReferenceType from Parent; defaults to Organizes.
	ReferenceType NodeID
	// TypeDefinition defaults to BaseObjectType.
	TypeDefinition NodeID
	ModellingRule  NodeID
}

// VariableAttributes describes a new variable.
type VariableAttributes struct {
	BrowseName  QualifiedName
	DisplayName string
	Parent      NodeID
	// ReferenceType from Parent; defaults to HasProperty.
	ReferenceType NodeID
	// TypeDefinition defaults to PropertyType for properties and
	// BaseDataVariableType otherwise.
	TypeDefinition NodeID
	DataType       NodeID
	ModellingRule  NodeID
	// Value is optional; when set it must match DataType.
	Value Variant
}

// MethodAttributes describes a new method.
type MethodAttributes struct {
	BrowseName      QualifiedName
	DisplayName     string
	Parent          NodeID
	ModellingRule   NodeID
	InputArguments  []Argument
	OutputArguments []Argument
}

// AddObjectType inserts an object type below its super type.
func (s *AddressSpace) AddObjectType(id NodeID, attrs ObjectTypeAttributes) error {
	super := attrs.SuperType
	if super.IsNull() {
		super = BaseObjectTypeID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkNew(id, attrs.BrowseName); err != nil {
		return fmt.Errorf("add object type: %w", err)
	}
	if _, err := s.lookup(super, ClassObjectType); err != nil {
		return fmt.Errorf("add object type %s: super type: %w", id, err)
	}
	s.insert(&Node{
		ID:          id,
		Class:       ClassObjectType,
		BrowseName:  attrs.BrowseName,
		DisplayName: attrs.DisplayName,
		IsAbstract:  attrs.IsAbstract,
	})
	s.link(super, HasSubtypeID, id)
	return nil
}

// AddObject inserts an object below Parent.
func (s *AddressSpace) AddObject(id NodeID, attrs ObjectAttributes) error {
	refType := attrs.ReferenceType
	if refType.IsNull() {
		refType = OrganizesID
	}
	typeDef := attrs.TypeDefinition
	if typeDef.IsNull() {
		typeDef = BaseObjectTypeID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkNew(id, attrs.BrowseName); err != nil {
		return fmt.Errorf("add object: %w", err)
	}
	if err := s.checkParent(attrs.Parent, refType); err != nil {
		return fmt.Errorf("add object %s: %w", id, err)
	}
	t, err := s.lookup(typeDef, ClassObjectType)
	if err != nil {
		return fmt.Errorf("add object %s: type definition: %w", id, err)
	}
	if t.IsAbstract {
		return fmt.Errorf("add object %s: type definition %s is abstract: %w", id, typeDef, ErrWrongNodeClass)
	}
	if err := s.checkModellingRule(attrs.ModellingRule); err != nil {
		return fmt.Errorf("add object %s: %w", id, err)
	}
	s.insert(&Node{ID: id, Class: ClassObject, BrowseName: attrs.BrowseName, DisplayName: attrs.DisplayName})
	s.link(attrs.Parent, refType, id)
	s.link(id, HasTypeDefinitionID, typeDef)
	if !attrs.ModellingRule.IsNull() {
		s.link(id, HasModellingRuleID, attrs.ModellingRule)
	}
	return nil
}

// AddVariable inserts a variable below Parent. A variable added without a
// value holds a Null variant until its first SetVariableValue.
func (s *AddressSpace) AddVariable(id NodeID, attrs VariableAttributes) error {
	refType := attrs.ReferenceType
	if refType.IsNull() {
		refType = HasPropertyID
	}
	typeDef := attrs.TypeDefinition
	if typeDef.IsNull() {
		typeDef = BaseDataVariableTypeID
		if refType == HasPropertyID {
			typeDef = PropertyTypeID
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkNew(id, attrs.BrowseName); err != nil {
		return fmt.Errorf("add variable: %w", err)
	}
	if err := s.checkParent(attrs.Parent, refType); err != nil {
		return fmt.Errorf("add variable %s: %w", id, err)
	}
	if _, err := s.lookup(typeDef, ClassVariableType); err != nil {
		return fmt.Errorf("add variable %s: type definition: %w", id, err)
	}
	if _, err := s.lookup(attrs.DataType, ClassDataType); err != nil {
		return fmt.Errorf("add variable %s: data type: %w", id, err)
	}
	if err := s.checkModellingRule(attrs.ModellingRule); err != nil {
		return fmt.Errorf("add variable %s: %w", id, err)
	}
	n := &Node{
		ID:          id,
		Class:       ClassVariable,
		BrowseName:  attrs.BrowseName,
		DisplayName: attrs.DisplayName,
		DataType:    attrs.DataType,
		ValueRank:   ValueRankScalar,
	}
	if !attrs.Value.IsNull() {
		if !valueMatches(attrs.DataType, attrs.Value) {
			return fmt.Errorf("add variable %s: %w: %s value for data type %s", id, ErrTypeMismatch, attrs.Value.Type, attrs.DataType)
		}
		now := s.now()
		n.Value = DataValue{Value: attrs.Value, Status: StatusGood, SourceTimestamp: now, ServerTimestamp: now}
	}
	s.insert(n)
	s.link(attrs.Parent, refType, id)
	s.link(id, HasTypeDefinitionID, typeDef)
	if !attrs.ModellingRule.IsNull() {
		s.link(id, HasModellingRuleID, attrs.ModellingRule)
	}
	return nil
}

// AddMethod inserts a method as a component of Parent.
func (s *AddressSpace) AddMethod(id NodeID, attrs MethodAttributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkNew(id, attrs.BrowseName); err != nil {
		return fmt.Errorf("add method: %w", err)
	}
	if err := s.checkParent(attrs.Parent, HasComponentID); err != nil {
		return fmt.Errorf("add method %s: %w", id, err)
	}
	if err := s.checkModellingRule(attrs.ModellingRule); err != nil {
		return fmt.Errorf("add method %s: %w", id, err)
	}
	for _, arg := range append(append([]Argument(nil), attrs.InputArguments...), attrs.OutputArguments...) {
		if _, err := s.lookup(arg.DataType, ClassDataType); err != nil {
			return fmt.Errorf("add method %s: argument %s: %w", id, arg.Name, err)
		}
	}
	s.insert(&Node{
		ID:              id,
		Class:           ClassMethod,
		BrowseName:      attrs.BrowseName,
		DisplayName:     attrs.DisplayName,
		Executable:      true,
		InputArguments:  append([]Argument(nil), attrs.InputArguments...),
		OutputArguments: append([]Argument(nil), attrs.OutputArguments...),
	})
	s.link(attrs.Parent, HasComponentID, id)
	if !attrs.ModellingRule.IsNull() {
		s.link(id, HasModellingRuleID, attrs.ModellingRule)
	}
	return nil
}

// ScalarArgument is shorthand for a scalar argument of type t.
func ScalarArgument(name string, t VariantType, description string) Argument {
	return Argument{Name: name, DataType: t.DataTypeID(), ValueRank: ValueRankScalar, Description: description}
}

func (s *AddressSpace) checkNew(id NodeID, name QualifiedName) error {
	if id.IsNull() {
		return fmt.Errorf("null node id")
	}
	if int(id.Namespace) >= len(s.namespaces) {
		return fmt.Errorf("%s: namespace %d: %w", id, id.Namespace, ErrUnknownNamespace)
	}
	if name.Name == "" {
		return fmt.Errorf("%s: empty browse name", id)
	}
	if _, exists := s.nodes[id]; exists {
		return fmt.Errorf("%s: %w", id, ErrNodeExists)
	}
	return nil
}

func (s *AddressSpace) checkParent(parent, refType NodeID) error {
	if _, ok := s.nodes[parent]; !ok {
		return fmt.Errorf("parent %s: %w", parent, ErrNodeNotFound)
	}
	if _, err := s.lookup(refType, ClassReferenceType); err != nil {
		return fmt.Errorf("reference type: %w", err)
	}
	return nil
}

func (s *AddressSpace) checkModellingRule(rule NodeID) error {
	if rule.IsNull() {
		return nil
	}
	if _, err := s.lookup(rule, ClassObject); err != nil {
		return fmt.Errorf("modelling rule: %w", err)
	}
	return nil
}

// Now returns the address space clock reading.
func (s *AddressSpace) Now() time.Time { return s.now() }
