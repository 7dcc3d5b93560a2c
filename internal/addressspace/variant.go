package addressspace

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gopcua/opcua/ua"
)

// VariantType is the built-in type held by a Variant. Values are gopcua
// type ids, which match the namespace 0 data type nodes.
type VariantType uint8

const (
	TypeNull    = VariantType(ua.TypeIDNull)
	TypeBoolean = VariantType(ua.TypeIDBoolean)
	TypeInt32   = VariantType(ua.TypeIDInt32)
	TypeDouble  = VariantType(ua.TypeIDDouble)
	TypeString  = VariantType(ua.TypeIDString)
)

var variantTypeNames = map[VariantType]string{
	TypeNull:    "Null",
	TypeBoolean: "Boolean",
	TypeInt32:   "Int32",
	TypeDouble:  "Double",
	TypeString:  "String",
}

func (t VariantType) String() string {
	if name, ok := variantTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("VariantType(%d)", uint8(t))
}

// DataTypeID returns the namespace 0 data type node for t.
func (t VariantType) DataTypeID() NodeID {
	switch t {
	case TypeBoolean:
		return BooleanID
	case TypeInt32:
		return Int32ID
	case TypeDouble:
		return DoubleID
	case TypeString:
		return StringTypeID
	default:
		return BaseDataTypeID
	}
}

// ParseVariantType is the inverse of VariantType.String.
func ParseVariantType(s string) (VariantType, error) {
	for t, name := range variantTypeNames {
		if name == s {
			return t, nil
		}
	}
	return TypeNull, fmt.Errorf("unknown variant type %q", s)
}

// Variant is a typed scalar value.
type Variant struct {
	Type  VariantType
	Value any
}

func Boolean(b bool) Variant   { return Variant{Type: TypeBoolean, Value: b} }
func Int32(i int32) Variant    { return Variant{Type: TypeInt32, Value: i} }
func Double(f float64) Variant { return Variant{Type: TypeDouble, Value: f} }
func String(s string) Variant  { return Variant{Type: TypeString, Value: s} }

// IsNull reports an empty variant.
func (v Variant) IsNull() bool { return v.Type == TypeNull }

func (v Variant) String() string { return fmt.Sprintf("%s(%v)", v.Type, v.Value) }

// Bool returns the value of a Boolean variant, false otherwise.
func (v Variant) Bool() bool {
	b, _ := v.Value.(bool)
	return b
}

// Float returns the value of a Double variant, 0 otherwise.
func (v Variant) Float() float64 {
	f, _ := v.Value.(float64)
	return f
}

// Int returns the value of an Int32 variant, 0 otherwise.
func (v Variant) Int() int32 {
	i, _ := v.Value.(int32)
	return i
}

// NewVariant infers the variant type from a Go value. Only the four scalar
// types of the tank model are accepted.
func NewVariant(v any) (Variant, error) {
	switch x := v.(type) {
	case nil:
		return Variant{}, nil
	case Variant:
		return x, nil
	}
	uv, err := ua.NewVariant(v)
	if err != nil {
		return Variant{}, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	return VariantFromUA(uv)
}

// UA returns the gopcua form of v.
func (v Variant) UA() (*ua.Variant, error) {
	if v.IsNull() {
		return &ua.Variant{}, nil
	}
	return ua.NewVariant(v.Value)
}

// VariantFromUA converts a gopcua variant holding a Null, Boolean, Int32,
// Double or String scalar.
func VariantFromUA(uv *ua.Variant) (Variant, error) {
	if uv == nil {
		return Variant{}, nil
	}
	switch uv.Type() {
	case ua.TypeIDNull:
		return Variant{}, nil
	case ua.TypeIDBoolean:
		if b, ok := uv.Value().(bool); ok {
			return Boolean(b), nil
		}
	case ua.TypeIDInt32:
		if i, ok := uv.Value().(int32); ok {
			return Int32(i), nil
		}
	case ua.TypeIDDouble:
		if f, ok := uv.Value().(float64); ok {
			return Double(f), nil
		}
	case ua.TypeIDString:
		if s, ok := uv.Value().(string); ok {
			return String(s), nil
		}
	}
	return Variant{}, fmt.Errorf("%w: unsupported variant %T", ErrTypeMismatch, uv.Value())
}

type variantJSON struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON renders {"type": "...", "value": ...}.
func (v Variant) MarshalJSON() ([]byte, error) {
	out := variantJSON{Type: v.Type.String()}
	if v.Type != TypeNull {
		raw, err := json.Marshal(v.Value)
		if err != nil {
			return nil, err
		}
		out.Value = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the MarshalJSON encoding. The JSON value must be
// representable in the declared type.
func (v *Variant) UnmarshalJSON(b []byte) error {
	var in variantJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	t, err := ParseVariantType(in.Type)
	if err != nil {
		return err
	}
	switch t {
	case TypeNull:
		*v = Variant{}
	case TypeBoolean:
		var x bool
		if err := json.Unmarshal(in.Value, &x); err != nil {
			return fmt.Errorf("boolean variant: %w", err)
		}
		*v = Boolean(x)
	case TypeInt32:
		var x float64
		if err := json.Unmarshal(in.Value, &x); err != nil {
			return fmt.Errorf("int32 variant: %w", err)
		}
		if x != math.Trunc(x) || x > math.MaxInt32 || x < math.MinInt32 {
			return fmt.Errorf("int32 variant: %v out of range", x)
		}
		*v = Int32(int32(x))
	case TypeDouble:
		var x float64
		if err := json.Unmarshal(in.Value, &x); err != nil {
			return fmt.Errorf("double variant: %w", err)
		}
		*v = Double(x)
	case TypeString:
		var x string
		if err := json.Unmarshal(in.Value, &x); err != nil {
			return fmt.Errorf("string variant: %w", err)
		}
		*v = String(x)
	}
	return nil
}

// DataValue is a variable's value together with its quality and timestamps.
type DataValue struct {
	Value           Variant    `json:"value"`
	Status          StatusCode `json:"status"`
	SourceTimestamp time.Time  `json:"source_timestamp"`
	ServerTimestamp time.Time  `json:"server_timestamp"`
}
