package errorsx

import (
	"errors"
	"fmt"
)

// ReasonedError carries a stable reason code alongside the cause so
// callers can branch on failure class without parsing messages.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Err)
}

func (e ReasonedError) Unwrap() error {
	return e.Err
}

// Wrap attaches a reason code to an error. The first reason wins so the
// innermost failure class survives re-wrapping at higher layers.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason extracts a reason code from an error, if present.
func Reason(err error) ReasonCode {
	var re ReasonedError
	if err != nil && errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason returns true if err contains the given reason code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

// IsConfig reports whether err was raised because required
// configuration or credentials are absent. Callers use this to decide
// between graceful degradation and abort.
func IsConfig(err error) bool {
	return HasReason(err, ReasonConfigMissing)
}
