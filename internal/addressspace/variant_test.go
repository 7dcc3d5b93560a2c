package addressspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/gopcua/opcua/ua"
)

func TestNodeIDStringAndParse(t *testing.T) {
	cases := []struct {
		id   NodeID
		text string
	}{
		{ObjectsFolderID, "i=85"},
		{NumericID(2, 1001), "ns=2;i=1001"},
		{StringID(1, "tankSystem1.Threshold"), "ns=1;s=tankSystem1.Threshold"},
	}
	for _, tc := range cases {
		if got := tc.id.String(); got != tc.text {
			t.Fatalf("String(%#v) = %q, want %q", tc.id, got, tc.text)
		}
		parsed, err := ParseNodeID(tc.text)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.text, err)
		}
		if parsed != tc.id {
			t.Fatalf("parse %q = %#v, want %#v", tc.text, parsed, tc.id)
		}
	}
	for _, bad := range []string{"", "ns=1", "ns=x;i=1", "i=-1", "s=", "x=3"} {
		if _, err := ParseNodeID(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseQualifiedName(t *testing.T) {
	q, err := ParseQualifiedName("1:tankSystem1")
	if err != nil || q != QN(1, "tankSystem1") {
		t.Fatalf("got %v, %v", q, err)
	}
	q, err = ParseQualifiedName("Objects")
	if err != nil || q != QN(0, "Objects") {
		t.Fatalf("got %v, %v", q, err)
	}
	if _, err := ParseQualifiedName("2:"); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestVariantJSON(t *testing.T) {
	for _, v := range []Variant{Double(10.5), Boolean(true), Int32(-7), String("x"), {}} {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %v: %v", v, err)
		}
		var back Variant
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if back != v {
			t.Fatalf("round trip %v -> %s -> %v", v, raw, back)
		}
	}
}

func TestVariantJSONRejectsNonInteger(t *testing.T) {
	for _, raw := range []string{
		`{"type":"Int32","value":"abc"}`,
		`{"type":"Int32","value":1.5}`,
		`{"type":"Int32","value":3000000000}`,
		`{"type":"Float","value":1}`,
	} {
		var v Variant
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			t.Fatalf("expected error for %s, got %v", raw, v)
		}
	}
}

func TestNewVariant(t *testing.T) {
	v, err := NewVariant(int32(7))
	if err != nil || v != Int32(7) {
		t.Fatalf("got %v, %v", v, err)
	}
	if _, err := NewVariant(int64(7)); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want StatusCode
	}{
		{nil, StatusGood},
		{NewStatusError(StatusBadOutOfRange, errors.New("empty")), StatusBadOutOfRange},
		{ErrNodeNotFound, StatusBadNodeIDUnknown},
		{ErrWrongNodeClass, StatusBadNodeClassInvalid},
		{fmt.Errorf("decode: %w", ua.StatusBadInvalidArgument), StatusBadInvalidArgument},
		{errors.New("boom"), StatusBadInternalError},
	}
	for _, tc := range cases {
		if got := StatusOf(tc.err); got != tc.want {
			t.Fatalf("StatusOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
	if !StatusUncertainLastUsableValue.IsUncertain() || !StatusBadInvalidArgument.IsBad() || !StatusGood.IsGood() {
		t.Fatalf("severity bits misclassified")
	}
	var c StatusCode
	if err := c.UnmarshalText([]byte("BadOutOfRange")); err != nil || c != StatusBadOutOfRange {
		t.Fatalf("unmarshal text: %v %s", err, c)
	}
}

func TestNodeJSONRoundTrip(t *testing.T) {
	s := New()
	root, err := s.Node(ObjectsFolderID)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	raw, err := json.Marshal(root)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Node
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ID != root.ID || back.Class != ClassObject || back.BrowseName != root.BrowseName || len(back.References) != len(root.References) {
		t.Fatalf("round trip mismatch: %+v", back)
	}
	var c NodeClass
	if err := c.UnmarshalText([]byte("Table")); err == nil {
		t.Fatalf("expected unknown class error")
	}
}

func TestStatusCodeValues(t *testing.T) {
	cases := map[StatusCode]uint32{
		StatusGood:                     0x00000000,
		StatusUncertainLastUsableValue: 0x40900000,
		StatusBadInternalError:         0x80020000,
		StatusBadSessionIDInvalid:      0x80250000,
		StatusBadNodeIDUnknown:         0x80340000,
		StatusBadOutOfRange:            0x803C0000,
		StatusBadNodeIDExists:          0x805E0000,
		StatusBadNodeClassInvalid:      0x805F0000,
		StatusBadTypeMismatch:          0x80740000,
		StatusBadMethodInvalid:         0x80750000,
		StatusBadInvalidArgument:       0x80AB0000,
	}
	for code, want := range cases {
		if uint32(code) != want {
			t.Fatalf("%s = 0x%08X, want 0x%08X", code, uint32(code), want)
		}
		if code.UA() != ua.StatusCode(want) {
			t.Fatalf("%s does not round trip through ua", code)
		}
	}
	if StatusBadInvalidArgument.Description() == "" {
		t.Fatalf("missing description")
	}
}

func TestNodeIDGopcuaRoundTrip(t *testing.T) {
	for _, id := range []NodeID{ObjectsFolderID, NumericID(3, 70000), StringID(2, "tank.Level")} {
		back, err := NodeIDFromUA(id.UA())
		if err != nil || back != id {
			t.Fatalf("round trip %s = %#v, %v", id, back, err)
		}
	}
	if _, err := NodeIDFromUA(ua.NewByteStringNodeID(1, []byte{1, 2})); err == nil {
		t.Fatalf("opaque ids must be rejected")
	}
	if id, err := NodeIDFromUA(nil); err != nil || !id.IsNull() {
		t.Fatalf("nil = %v, %v", id, err)
	}
}

func TestVariantGopcuaRoundTrip(t *testing.T) {
	for _, v := range []Variant{{}, Boolean(true), Int32(-9), Double(2.5), String("tank")} {
		uv, err := v.UA()
		if err != nil {
			t.Fatalf("UA(%s): %v", v, err)
		}
		back, err := VariantFromUA(uv)
		if err != nil || back != v {
			t.Fatalf("round trip %s = %s, %v", v, back, err)
		}
	}
	uv, err := ua.NewVariant(uint16(4))
	if err != nil {
		t.Fatalf("ua variant: %v", err)
	}
	if _, err := VariantFromUA(uv); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("UInt16 must be rejected, got %v", err)
	}
	if TypeInt32.DataTypeID() != Int32ID || TypeDouble.String() != "Double" {
		t.Fatalf("type metadata mismatch")
	}
}
