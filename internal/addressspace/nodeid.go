package addressspace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gopcua/opcua/ua"
)

// NodeID identifies a node: a namespace index plus either a numeric or a
// string identifier. A non-empty Name takes precedence over Numeric.
type NodeID struct {
	Namespace uint16
	Numeric   uint32
	Name      string
}

// NumericID builds a numeric node id.
func NumericID(ns uint16, id uint32) NodeID { return NodeID{Namespace: ns, Numeric: id} }

// StringID builds a string node id.
func StringID(ns uint16, name string) NodeID { return NodeID{Namespace: ns, Name: name} }

// IsNull reports whether id is the zero node id.
func (id NodeID) IsNull() bool { return id == NodeID{} }

// UA returns the gopcua form of id.
func (id NodeID) UA() *ua.NodeID {
	if id.Name != "" {
		return ua.NewStringNodeID(id.Namespace, id.Name)
	}
	return ua.NewNumericNodeID(id.Namespace, id.Numeric)
}

// NodeIDFromUA converts numeric and string node ids. GUID and opaque ids
// never name nodes of this address space.
func NodeIDFromUA(n *ua.NodeID) (NodeID, error) {
	if n == nil {
		return NodeID{}, nil
	}
	switch n.Type() {
	case ua.NodeIDTypeTwoByte, ua.NodeIDTypeFourByte, ua.NodeIDTypeNumeric:
		return NumericID(n.Namespace(), n.IntID()), nil
	case ua.NodeIDTypeString:
		if n.StringID() == "" {
			return NodeID{}, errors.New("empty string identifier")
		}
		return StringID(n.Namespace(), n.StringID()), nil
	default:
		return NodeID{}, fmt.Errorf("unsupported identifier type %v", n.Type())
	}
}

// String renders the id in the usual "ns=1;i=42" / "ns=1;s=name" notation.
// Namespace 0 omits the prefix.
func (id NodeID) String() string { return id.UA().String() }

// ParseNodeID parses the notation produced by String. Only numeric (i=) and
// string (s=) identifiers are accepted.
func ParseNodeID(s string) (NodeID, error) {
	text := strings.TrimSpace(s)
	ident := text
	if strings.HasPrefix(text, "ns=") {
		_, rest, ok := strings.Cut(text, ";")
		if !ok {
			return NodeID{}, fmt.Errorf("invalid node id %q: missing ';'", s)
		}
		ident = rest
	}
	switch {
	case strings.HasPrefix(ident, "i=") && len(ident) > 2:
		if strings.TrimLeft(ident[2:], "0123456789") != "" {
			return NodeID{}, fmt.Errorf("invalid node id %q: identifier is not a number", s)
		}
	case strings.HasPrefix(ident, "s=") && len(ident) > 2:
	default:
		return NodeID{}, fmt.Errorf("invalid node id %q", s)
	}
	n, err := ua.ParseNodeID(text)
	if err != nil {
		return NodeID{}, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	id, err := NodeIDFromUA(n)
	if err != nil {
		return NodeID{}, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return id, nil
}

// MarshalText implements encoding.TextMarshaler.
func (id NodeID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(b []byte) error {
	parsed, err := ParseNodeID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Well-known nodes of namespace 0.
var (
	RootFolderID           = NumericID(0, 84)
	ObjectsFolderID        = NumericID(0, 85)
	TypesFolderID          = NumericID(0, 86)
	ObjectTypesFolderID    = NumericID(0, 88)
	VariableTypesFolderID  = NumericID(0, 89)
	DataTypesFolderID      = NumericID(0, 90)
	ReferenceTypesFolderID = NumericID(0, 91)

	BaseObjectTypeID       = NumericID(0, 58)
	FolderTypeID           = NumericID(0, 61)
	BaseVariableTypeID     = NumericID(0, 62)
	BaseDataVariableTypeID = NumericID(0, 63)
	PropertyTypeID         = NumericID(0, 68)
	ModellingRuleTypeID    = NumericID(0, 77)
	ModellingRuleMandatory = NumericID(0, 78)
	ModellingRuleOptional  = NumericID(0, 80)

	BaseDataTypeID = NumericID(0, 24)
	BooleanID      = NumericID(0, 1)
	Int32ID        = NumericID(0, 6)
	DoubleID       = NumericID(0, 11)
	StringTypeID   = NumericID(0, 12)

	ReferencesID        = NumericID(0, 31)
	OrganizesID         = NumericID(0, 35)
	HasModellingRuleID  = NumericID(0, 37)
	HasTypeDefinitionID = NumericID(0, 40)
	HasSubtypeID        = NumericID(0, 45)
	HasPropertyID       = NumericID(0, 46)
	HasComponentID      = NumericID(0, 47)
)

// StandardNamespaceURI is the URI of namespace 0.
const StandardNamespaceURI = "http://opcfoundation.org/UA/"
