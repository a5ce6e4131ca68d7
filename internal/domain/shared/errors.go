// Package shared holds the domain vocabulary every other domain
// package builds on: error kinds, domain events, and validated value
// objects. It imports nothing outside the standard library.
package shared

import "errors"

// Error kinds. Domain code wraps these into a DomainError; callers
// branch with errors.Is against the kind.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrConfiguration is fatal at startup: the process must not
	// serve traffic with invalid model parameters.
	ErrConfiguration = errors.New("invalid configuration")

	ErrInsufficientHistory = errors.New("insufficient attempt history")
	ErrNoEligibleItem      = errors.New("no eligible item")
	ErrNotCalibrated       = errors.New("item not calibrated")

	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrDuplicateAttempt = errors.New("duplicate attempt")
	ErrAttemptRejected  = errors.New("attempt rejected")

	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrStaleTimestamp         = errors.New("stale timestamp")

	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError attaches domain and operation context to an error kind.
// errors.Is matches both the kind and any wrapped cause, so callers
// branch on the sentinel without caring which operation produced it.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	s := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *DomainError) Unwrap() error {
	if e.Err == nil {
		return e.Kind
	}
	return e.Err
}

func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

// NewDomainError builds a DomainError with no underlying cause.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return WrapError(domain, op, kind, message, nil)
}

// WrapError builds a DomainError around an underlying cause.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Well-known domain errors, one block per aggregate.
var (
	ErrProfileNotFound  = NewDomainError("profile", "Find", ErrNotFound, "mastery profile not found")
	ErrInvalidStudentID = NewDomainError("profile", "Validate", ErrInvalidID, "invalid student ID")
	ErrInvalidMastery   = NewDomainError("profile", "Validate", ErrValueOutOfRange, "mastery must be in [0,1]")
	ErrTimestampOrder   = NewDomainError("profile", "Update", ErrStaleTimestamp, "update timestamp not after stored timestamp")

	ErrSkillNotFound  = NewDomainError("skill", "Find", ErrNotFound, "skill not found")
	ErrInvalidSkillID = NewDomainError("skill", "Validate", ErrInvalidID, "invalid skill ID")

	ErrItemNotFound   = NewDomainError("item", "Find", ErrNotFound, "item not found")
	ErrInvalidItemID  = NewDomainError("item", "Validate", ErrInvalidID, "invalid item ID")
	ErrItemDeprecated = NewDomainError("item", "Check", ErrInvalidState, "item is deprecated")

	ErrAttemptNotFound    = NewDomainError("attempt", "Find", ErrNotFound, "attempt not found")
	ErrInvalidCorrectness = NewDomainError("attempt", "Validate", ErrValueOutOfRange, "correctness must be in [0,1]")
	ErrEmptyIdempotency   = NewDomainError("attempt", "Validate", ErrEmptyValue, "idempotency key cannot be empty")

	ErrEmptyHistory     = NewDomainError("tracer", "Infer", ErrInsufficientHistory, "attempt history is empty")
	ErrInferenceTimeout = NewDomainError("tracer", "Infer", ErrTimeout, "sequence inference timed out")

	ErrTooFewResponses = NewDomainError("calibration", "Fit", ErrInsufficientHistory, "too few responses to calibrate")
	ErrNonConvergence  = NewDomainError("calibration", "Fit", ErrNotCalibrated, "fit did not converge within iteration budget")
)

// validationKinds are the sentinels IsValidation groups together.
var validationKinds = []error{ErrInvalidID, ErrInvalidInput, ErrEmptyValue, ErrValueOutOfRange}

// IsNotFound reports whether err is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation reports whether err is any kind of input validation
// failure. Handlers map these to 400 rather than 500.
func IsValidation(err error) bool {
	for _, kind := range validationKinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsInsufficientHistory reports whether an estimator lacked
// observations. Callers fall back to the prior rather than failing
// the request.
func IsInsufficientHistory(err error) bool {
	return errors.Is(err, ErrInsufficientHistory)
}
