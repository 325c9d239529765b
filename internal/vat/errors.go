package vat

import (
	"github.com/cockroachdb/errors"
)

// Error classes. Callers match with errors.Is; concrete errors are marked
// with one of these so the original message and hints survive.
var (
	// ErrValidation marks malformed input. Nothing was persisted.
	ErrValidation = errors.New("validation error")

	// ErrInvariantViolation marks an arithmetic result that must never be
	// stored (gross != net + vat, negative amounts, overflow).
	ErrInvariantViolation = errors.New("vat invariant violation")

	// ErrRateUnavailable is only returned when ZeroVATWhenRateMissing is off.
	ErrRateUnavailable = errors.New("vat rate unavailable")

	// ErrUnknownJurisdiction is only returned when FailOpenUnknownCountry is off.
	ErrUnknownJurisdiction = errors.New("unknown tax jurisdiction")

	ErrNotFound = errors.New("not found")
)

// IsValidation reports whether err was rejected as bad input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvariantViolation reports whether err is a fatal arithmetic failure.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func validationErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

func invariantErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvariantViolation)
}
