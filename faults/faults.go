// Package faults defines the coded errors shared across the agent. Every
// failure that crosses a component boundary carries one of these codes so the
// scheduler, the status server, and the audit trail can classify it without
// string matching.
package faults

import (
	"errors"
	"fmt"
)

// Code identifies a failure class.
type Code string

const (
	CodeConfig             Code = "CONFIG_ERROR"
	CodePolicyBlocked      Code = "POLICY_BLOCKED"
	CodeSimulationFailed   Code = "SIMULATION_FAILED"
	CodeSendFailed         Code = "SEND_FAILED"
	CodeAdapterUnavailable Code = "ADAPTER_UNAVAILABLE"
	CodePriceUnavailable   Code = "PRICE_UNAVAILABLE"
	CodeScanEmpty          Code = "SCAN_EMPTY"
)

// Fault is a coded error with an optional wrapped cause and free-form details.
type Fault struct {
	Code    Code
	Message string
	Details map[string]string
	cause   error
}

// New constructs a fault with a formatted message.
func New(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, err error, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// WithDetail returns the fault with an extra key/value attached.
func (f *Fault) WithDetail(key, value string) *Fault {
	if f.Details == nil {
		f.Details = make(map[string]string)
	}
	f.Details[key] = value
	return f
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// Is matches any fault carrying the same code, so callers can test against a
// bare New(code, "") sentinel.
func (f *Fault) Is(target error) bool {
	var other *Fault
	if !errors.As(target, &other) {
		return false
	}
	return f.Code == other.Code
}

// CodeOf extracts the fault code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
