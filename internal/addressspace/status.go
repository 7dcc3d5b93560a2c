package addressspace

import (
	"errors"
	"fmt"

	"github.com/gopcua/opcua/ua"
)

// StatusCode is a protocol status code. The top two bits carry severity.
// Values are the ones gopcua's ua package defines.
type StatusCode uint32

var (
	StatusGood                     = StatusCode(ua.StatusOK)
	StatusUncertainLastUsableValue = StatusCode(ua.StatusUncertainLastUsableValue)
	StatusBadInternalError         = StatusCode(ua.StatusBadInternalError)
	StatusBadSessionIDInvalid      = StatusCode(ua.StatusBadSessionIDInvalid)
	StatusBadNodeIDUnknown         = StatusCode(ua.StatusBadNodeIDUnknown)
	StatusBadOutOfRange            = StatusCode(ua.StatusBadOutOfRange)
	StatusBadNodeClassInvalid      = StatusCode(ua.StatusBadNodeClassInvalid)
	StatusBadNodeIDExists          = StatusCode(ua.StatusBadNodeIDExists)
	StatusBadTypeMismatch          = StatusCode(ua.StatusBadTypeMismatch)
	StatusBadMethodInvalid         = StatusCode(ua.StatusBadMethodInvalid)
	StatusBadInvalidArgument       = StatusCode(ua.StatusBadInvalidArgument)
)

var statusNames = map[StatusCode]string{
	StatusGood:                     "Good",
	StatusUncertainLastUsableValue: "UncertainLastUsableValue",
	StatusBadInternalError:         "BadInternalError",
	StatusBadSessionIDInvalid:      "BadSessionIdInvalid",
	StatusBadNodeIDUnknown:         "BadNodeIdUnknown",
	StatusBadOutOfRange:            "BadOutOfRange",
	StatusBadNodeClassInvalid:      "BadNodeClassInvalid",
	StatusBadNodeIDExists:          "BadNodeIdExists",
	StatusBadTypeMismatch:          "BadTypeMismatch",
	StatusBadMethodInvalid:         "BadMethodInvalid",
	StatusBadInvalidArgument:       "BadInvalidArgument",
}

func (c StatusCode) String() string {
	if name, ok := statusNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(c))
}

// UA returns the gopcua form of c.
func (c StatusCode) UA() ua.StatusCode { return ua.StatusCode(c) }

// Description is the human readable text of c.
func (c StatusCode) Description() string { return ua.StatusCode(c).Error() }

// IsGood reports a Good severity.
func (c StatusCode) IsGood() bool { return c&0xC0000000 == 0 }

// IsUncertain reports an Uncertain severity.
func (c StatusCode) IsUncertain() bool { return c&0xC0000000 == 0x40000000 }

// IsBad reports a Bad severity.
func (c StatusCode) IsBad() bool { return c&0x80000000 != 0 }

// MarshalText implements encoding.TextMarshaler.
func (c StatusCode) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *StatusCode) UnmarshalText(b []byte) error {
	for code, name := range statusNames {
		if name == string(b) {
			*c = code
			return nil
		}
	}
	var raw uint32
	if _, err := fmt.Sscanf(string(b), "0x%08X", &raw); err != nil {
		return fmt.Errorf("unknown status code %q", string(b))
	}
	*c = StatusCode(raw)
	return nil
}

// StatusError carries a status code alongside the error that produced it.
type StatusError struct {
	Code StatusCode
	Err  error
}

// NewStatusError wraps err with code.
func NewStatusError(code StatusCode, err error) *StatusError {
	return &StatusError{Code: code, Err: err}
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusOf maps err to the status code a client should see.
func StatusOf(err error) StatusCode {
	if err == nil {
		return StatusGood
	}
	var (
		se   *StatusError
		code ua.StatusCode
	)
	switch {
	case errors.As(err, &se):
		return se.Code
	case errors.As(err, &code):
		return StatusCode(code)
	case errors.Is(err, ErrNodeNotFound):
		return StatusBadNodeIDUnknown
	case errors.Is(err, ErrTypeMismatch):
		return StatusBadTypeMismatch
	case errors.Is(err, ErrWrongNodeClass):
		return StatusBadNodeClassInvalid
	case errors.Is(err, ErrNodeExists):
		return StatusBadNodeIDExists
	default:
		return StatusBadInternalError
	}
}
