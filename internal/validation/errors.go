// Package validation checks a treatment against a drug model before an adjustment is requested.
package validation

import (
	"errors"
	"fmt"
)

// ErrorKind classifies request-fatal failures.
type ErrorKind string

const (
	KindPreflight      ErrorKind = "preflight"
	KindValidation     ErrorKind = "validation"
	KindInfrastructure ErrorKind = "infrastructure"
	KindComputation    ErrorKind = "computation"
)

// Error is a request-fatal failure. Message is the text reported for the request.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Errorf builds an Error of kind wrapping cause.
func Errorf(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of err, or KindValidation when err is not an Error.
func KindOf(err error) ErrorKind {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return KindValidation
}

var (
	ErrNoTreatment = &Error{Kind: KindPreflight, Message: "No treatment set."}
	ErrNoDrugModel = &Error{Kind: KindPreflight, Message: "No drug model set."}
)

// Translator resolves localized texts.
type Translator interface {
	Translate(key string) string
}

// Translation keys used in warnings.
const (
	KeyBelowMinimum          = "below_minimum"
	KeyAboveMaximum          = "above_maximum"
	KeySampleBeforeTreatment = "sample_before_treatment"
	KeyCovariateOutOfRange   = "covariate_out_of_range"
)
