// Package tanksystem builds the tank system object type and its instances in
// an address space.
package tanksystem

import (
	"fmt"

	"plcserver/internal/addressspace"
	"plcserver/pkg/domain"
)

// Browse names of the model.
const (
	TypeName             = "tankSystemType"
	FillPercentageName   = "FillPercentage"
	ValvePositionName    = "ValvePosition"
	ThresholdName        = "Threshold"
	GetParamsMethodName  = "getTankSystemParams"
	SetThresholdName     = "setThreshold"
	NewThresholdArgument = "newThreshold"
	DefaultInstanceName  = "tankSystem1"
)

// Type holds the node ids of tankSystemType and its mandatory slots.
type Type struct {
	ID             addressspace.NodeID
	FillPercentage addressspace.NodeID
	ValvePosition  addressspace.NodeID
	Threshold      addressspace.NodeID
}

// Instance holds the node ids of one tank system object.
type Instance struct {
	Name           string
	ID             addressspace.NodeID
	FillPercentage addressspace.NodeID
	ValvePosition  addressspace.NodeID
	Threshold      addressspace.NodeID
	GetParams      addressspace.NodeID
	SetThreshold   addressspace.NodeID
}

// Variable returns the variable mirroring q.
func (i Instance) Variable(q domain.Quantity) (addressspace.NodeID, bool) {
	switch q {
	case domain.QuantityLevel:
		return i.FillPercentage, true
	case domain.QuantityValvePosition:
		return i.ValvePosition, true
	case domain.QuantityThreshold:
		return i.Threshold, true
	default:
		return addressspace.NodeID{}, false
	}
}

// Model is the result of Build.
type Model struct {
	Namespace uint16
	Type      Type
	Instances []Instance
}

// Instance looks up an instance by browse name.
func (m Model) Instance(name string) (Instance, bool) {
	for _, inst := range m.Instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return Instance{}, false
}

type slot struct {
	name     string
	dataType addressspace.VariantType
	initial  addressspace.Variant
}

var slots = []slot{
	{FillPercentageName, addressspace.TypeDouble, addressspace.Double(0)},
	{ValvePositionName, addressspace.TypeBoolean, addressspace.Boolean(false)},
	{ThresholdName, addressspace.TypeInt32, addressspace.Int32(0)},
}

// GetParamsOutputs is the output signature of getTankSystemParams.
func GetParamsOutputs() []addressspace.Argument {
	return []addressspace.Argument{
		addressspace.ScalarArgument(FillPercentageName, addressspace.TypeDouble, "current fill level in percent"),
		addressspace.ScalarArgument(ValvePositionName, addressspace.TypeBoolean, "true when the valve is open"),
		addressspace.ScalarArgument(ThresholdName, addressspace.TypeInt32, "current trigger threshold"),
	}
}

// SetThresholdInputs is the input signature of setThreshold.
func SetThresholdInputs() []addressspace.Argument {
	return []addressspace.Argument{
		addressspace.ScalarArgument(NewThresholdArgument, addressspace.TypeInt32, "new trigger threshold"),
	}
}

// Build registers namespaceURI, defines tankSystemType and adds one instance
// per name below the Objects folder.
func Build(space *addressspace.AddressSpace, namespaceURI string, names []string) (Model, error) {
	if len(names) == 0 {
		return Model{}, fmt.Errorf("build tank system model: no instances")
	}
	ns, err := space.RegisterNamespace(namespaceURI)
	if err != nil {
		return Model{}, fmt.Errorf("build tank system model: %w", err)
	}
	typ, err := DefineType(space, ns)
	if err != nil {
		return Model{}, err
	}
	m := Model{Namespace: ns, Type: typ}
	for _, name := range names {
		inst, err := AddInstance(space, typ, ns, name)
		if err != nil {
			return Model{}, err
		}
		m.Instances = append(m.Instances, inst)
	}
	return m, nil
}

// DefineType adds tankSystemType and its mandatory property slots.
func DefineType(space *addressspace.AddressSpace, ns uint16) (Type, error) {
	var t Type
	var err error
	if t.ID, err = space.NewNodeID(ns); err != nil {
		return Type{}, fmt.Errorf("define %s: %w", TypeName, err)
	}
	if err := space.AddObjectType(t.ID, addressspace.ObjectTypeAttributes{
		BrowseName: addressspace.QN(ns, TypeName),
		SuperType:  addressspace.BaseObjectTypeID,
	}); err != nil {
		return Type{}, fmt.Errorf("define %s: %w", TypeName, err)
	}
	ids := []*addressspace.NodeID{&t.FillPercentage, &t.ValvePosition, &t.Threshold}
	for i, s := range slots {
		id, err := space.NewNodeID(ns)
		if err != nil {
			return Type{}, fmt.Errorf("define %s.%s: %w", TypeName, s.name, err)
		}
		if err := space.AddVariable(id, addressspace.VariableAttributes{
			BrowseName:    addressspace.QN(ns, s.name),
			Parent:        t.ID,
			ReferenceType: addressspace.HasPropertyID,
			DataType:      s.dataType.DataTypeID(),
			ModellingRule: addressspace.ModellingRuleMandatory,
		}); err != nil {
			return Type{}, fmt.Errorf("define %s.%s: %w", TypeName, s.name, err)
		}
		*ids[i] = id
	}
	return t, nil
}

// AddInstance adds one tank system object organized under Objects, with
// its property variables at their initial values and both methods.
func AddInstance(space *addressspace.AddressSpace, typ Type, ns uint16, name string) (Instance, error) {
	inst := Instance{Name: name}
	var err error
	if inst.ID, err = space.NewNodeID(ns); err != nil {
		return Instance{}, fmt.Errorf("add instance %s: %w", name, err)
	}
	if err := space.AddObject(inst.ID, addressspace.ObjectAttributes{
		BrowseName:     addressspace.QN(ns, name),
		Parent:         addressspace.ObjectsFolderID,
		ReferenceType:  addressspace.OrganizesID,
		TypeDefinition: typ.ID,
	}); err != nil {
		return Instance{}, fmt.Errorf("add instance %s: %w", name, err)
	}

	ids := []*addressspace.NodeID{&inst.FillPercentage, &inst.ValvePosition, &inst.Threshold}
	for i, s := range slots {
		id, err := space.NewNodeID(ns)
		if err != nil {
			return Instance{}, fmt.Errorf("add instance %s.%s: %w", name, s.name, err)
		}
		if err := space.AddVariable(id, addressspace.VariableAttributes{
			BrowseName:    addressspace.QN(ns, s.name),
			Parent:        inst.ID,
			ReferenceType: addressspace.HasPropertyID,
			DataType:      s.dataType.DataTypeID(),
			Value:         s.initial,
		}); err != nil {
			return Instance{}, fmt.Errorf("add instance %s.%s: %w", name, s.name, err)
		}
		*ids[i] = id
	}

	if inst.GetParams, err = addMethod(space, ns, inst.ID, GetParamsMethodName, nil, GetParamsOutputs()); err != nil {
		return Instance{}, fmt.Errorf("add instance %s: %w", name, err)
	}
	if inst.SetThreshold, err = addMethod(space, ns, inst.ID, SetThresholdName, SetThresholdInputs(), nil); err != nil {
		return Instance{}, fmt.Errorf("add instance %s: %w", name, err)
	}
	return inst, nil
}

func addMethod(space *addressspace.AddressSpace, ns uint16, parent addressspace.NodeID, name string, in, out []addressspace.Argument) (addressspace.NodeID, error) {
	id, err := space.NewNodeID(ns)
	if err != nil {
		return addressspace.NodeID{}, fmt.Errorf("method %s: %w", name, err)
	}
	if err := space.AddMethod(id, addressspace.MethodAttributes{
		BrowseName:      addressspace.QN(ns, name),
		Parent:          parent,
		InputArguments:  in,
		OutputArguments: out,
	}); err != nil {
		return addressspace.NodeID{}, fmt.Errorf("method %s: %w", name, err)
	}
	return id, nil
}
