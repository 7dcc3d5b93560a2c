// Package domain defines the persisted reading sequences of a tank system and
// the contract every reading-log backend satisfies.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Quantity identifies one append-only reading sequence.
type Quantity string

const (
	// QuantityLevel is the tank fill percentage (REAL).
	QuantityLevel Quantity = "level"
	// QuantityValvePosition is the inflow valve state (BOOLEAN).
	QuantityValvePosition Quantity = "valveposition"
	// QuantityThreshold is the trigger threshold set by operators (INTEGER).
	QuantityThreshold Quantity = "threshold"
)

// Quantities lists every sequence in table-creation order.
var Quantities = []Quantity{QuantityLevel, QuantityValvePosition, QuantityThreshold}

var (
	// ErrNoReadings reports a sequence that has never been written.
	ErrNoReadings = errors.New("no readings recorded")
	// ErrUnknownQuantity reports a quantity outside Quantities.
	ErrUnknownQuantity = errors.New("unknown quantity")
	// ErrValueType reports a value whose Go type does not fit the quantity.
	ErrValueType = errors.New("value type does not match quantity")
)

// Table returns the relational table backing the sequence.
func (q Quantity) Table() string {
	switch q {
	case QuantityLevel:
		return "waterlevel"
	case QuantityValvePosition:
		return "valveposition"
	case QuantityThreshold:
		return "triggerthreshold"
	default:
		return ""
	}
}

// Column returns the value column of the backing table.
func (q Quantity) Column() string {
	switch q {
	case QuantityLevel:
		return "level"
	case QuantityValvePosition:
		return "position"
	case QuantityThreshold:
		return "threshold"
	default:
		return ""
	}
}

// Valid reports whether q names a known sequence.
func (q Quantity) Valid() bool { return q.Table() != "" }

// ParseQuantity accepts a quantity name or its table name.
func ParseQuantity(s string) (Quantity, error) {
	for _, q := range Quantities {
		if s == string(q) || s == q.Table() || s == q.Column() {
			return q, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownQuantity, s)
}

// Normalize checks that v fits the quantity and returns it in canonical form:
// float64 for level, bool for valve position and int32 for threshold.
func (q Quantity) Normalize(v any) (any, error) {
	switch q {
	case QuantityLevel:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		}
	case QuantityValvePosition:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case QuantityThreshold:
		switch x := v.(type) {
		case int32:
			return x, nil
		case int:
			if int(int32(x)) == x {
				return int32(x), nil
			}
		case int64:
			if int64(int32(x)) == x {
				return int32(x), nil
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownQuantity, string(q))
	}
	return nil, fmt.Errorf("%w: %s got %T", ErrValueType, q, v)
}

// Reading is one persisted row of a sequence.
type Reading struct {
	ID         int64     `json:"id"`
	Quantity   Quantity  `json:"quantity"`
	Value      any       `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Float returns the value of a level reading.
func (r Reading) Float() float64 {
	f, _ := r.Value.(float64)
	return f
}

// Bool returns the value of a valve position reading.
func (r Reading) Bool() bool {
	b, _ := r.Value.(bool)
	return b
}

// Int32 returns the value of a threshold reading.
func (r Reading) Int32() int32 {
	i, _ := r.Value.(int32)
	return i
}
