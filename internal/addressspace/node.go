package addressspace

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeClass is the kind of a node. Values follow the protocol bit mask.
type NodeClass uint8

const (
	ClassObject        NodeClass = 1
	ClassVariable      NodeClass = 2
	ClassMethod        NodeClass = 4
	ClassObjectType    NodeClass = 8
	ClassVariableType  NodeClass = 16
	ClassReferenceType NodeClass = 32
	ClassDataType      NodeClass = 64
)

func (c NodeClass) String() string {
	switch c {
	case ClassObject:
		return "Object"
	case ClassVariable:
		return "Variable"
	case ClassMethod:
		return "Method"
	case ClassObjectType:
		return "ObjectType"
	case ClassVariableType:
		return "VariableType"
	case ClassReferenceType:
		return "ReferenceType"
	case ClassDataType:
		return "DataType"
	default:
		return "NodeClass(" + strconv.Itoa(int(c)) + ")"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c NodeClass) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText accepts the names produced by String.
func (c *NodeClass) UnmarshalText(b []byte) error {
	for class := ClassObject; class <= ClassDataType; class <<= 1 {
		if class.String() == string(b) {
			*c = class
			return nil
		}
	}
	return fmt.Errorf("unknown node class %q", b)
}

// QualifiedName is a browse name scoped to a namespace.
type QualifiedName struct {
	NamespaceIndex uint16 `json:"namespace_index"`
	Name           string `json:"name"`
}

// QN is shorthand for a QualifiedName.
func QN(ns uint16, name string) QualifiedName {
	return QualifiedName{NamespaceIndex: ns, Name: name}
}

func (q QualifiedName) String() string {
	if q.NamespaceIndex == 0 {
		return q.Name
	}
	return fmt.Sprintf("%d:%s", q.NamespaceIndex, q.Name)
}

// ParseQualifiedName parses "ns:name"; a bare name is in namespace 0.
func ParseQualifiedName(s string) (QualifiedName, error) {
	if i := strings.IndexByte(s, ':'); i > 0 {
		ns, err := strconv.ParseUint(s[:i], 10, 16)
		if err == nil {
			if s[i+1:] == "" {
				return QualifiedName{}, fmt.Errorf("empty browse name in %q", s)
			}
			return QN(uint16(ns), s[i+1:]), nil
		}
	}
	if s == "" {
		return QualifiedName{}, fmt.Errorf("empty browse name")
	}
	return QN(0, s), nil
}

// Reference is a typed edge leaving a node. Forward is false for the
// inverse side that is stored on the target.
type Reference struct {
	Type    NodeID `json:"type"`
	Target  NodeID `json:"target"`
	Forward bool   `json:"forward"`
}

// Argument describes one method argument.
type Argument struct {
	Name        string `json:"name"`
	DataType    NodeID `json:"data_type"`
	ValueRank   int32  `json:"value_rank"`
	Description string `json:"description,omitempty"`
}

// ValueRankScalar marks a scalar variable or argument.
const ValueRankScalar int32 = -1

// Node is a copy of a node's attributes and references.
type Node struct {
	ID          NodeID        `json:"id"`
	Class       NodeClass     `json:"class"`
	BrowseName  QualifiedName `json:"browse_name"`
	DisplayName string        `json:"display_name"`

	// ObjectType / VariableType / DataType / ReferenceType
	IsAbstract bool `json:"is_abstract,omitempty"`

	// Variable
	DataType  NodeID    `json:"data_type,omitempty"`
	ValueRank int32     `json:"value_rank,omitempty"`
	Value     DataValue `json:"value,omitempty"`

	// Method
	Executable      bool       `json:"executable,omitempty"`
	InputArguments  []Argument `json:"input_arguments,omitempty"`
	OutputArguments []Argument `json:"output_arguments,omitempty"`

	References []Reference `json:"references"`
}

func (n Node) clone() Node {
	n.References = append([]Reference(nil), n.References...)
	n.InputArguments = append([]Argument(nil), n.InputArguments...)
	n.OutputArguments = append([]Argument(nil), n.OutputArguments...)
	return n
}

// isHierarchical reports the reference types that form the browse tree.
func isHierarchical(refType NodeID) bool {
	switch refType {
	case OrganizesID, HasComponentID, HasPropertyID, HasSubtypeID:
		return true
	}
	return false
}
