package domain

import (
	"errors"
	"math"
	"testing"
)

func TestQuantityTablesAndColumns(t *testing.T) {
	cases := map[Quantity][2]string{
		QuantityLevel:         {"waterlevel", "level"},
		QuantityValvePosition: {"valveposition", "position"},
		QuantityThreshold:     {"triggerthreshold", "threshold"},
	}
	for q, want := range cases {
		if q.Table() != want[0] || q.Column() != want[1] {
			t.Fatalf("%s: got %s.%s", q, q.Table(), q.Column())
		}
		if !q.Valid() {
			t.Fatalf("%s should be valid", q)
		}
	}
	if Quantity("pressure").Valid() {
		t.Fatalf("unexpected valid quantity")
	}
}

func TestParseQuantityAcceptsAliases(t *testing.T) {
	for _, in := range []string{"level", "waterlevel", "valveposition", "position", "threshold", "triggerthreshold"} {
		if _, err := ParseQuantity(in); err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
	}
	if _, err := ParseQuantity("pressure"); !errors.Is(err, ErrUnknownQuantity) {
		t.Fatalf("expected ErrUnknownQuantity, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		q       Quantity
		in      any
		want    any
		wantErr error
	}{
		{"level float64", QuantityLevel, 42.5, 42.5, nil},
		{"level float32", QuantityLevel, float32(1.5), 1.5, nil},
		{"level rejects string", QuantityLevel, "42", nil, ErrValueType},
		{"valve bool", QuantityValvePosition, true, true, nil},
		{"valve rejects int", QuantityValvePosition, 1, nil, ErrValueType},
		{"threshold int32", QuantityThreshold, int32(7), int32(7), nil},
		{"threshold int", QuantityThreshold, 7, int32(7), nil},
		{"threshold int64 overflow", QuantityThreshold, int64(math.MaxInt32) + 1, nil, ErrValueType},
		{"threshold rejects float", QuantityThreshold, 7.0, nil, ErrValueType},
		{"unknown", Quantity("x"), 1, nil, ErrUnknownQuantity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.q.Normalize(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %#v want %#v", got, tc.want)
			}
		})
	}
}
