package jobs

import "errors"

// Common errors returned by the scheduling core.
var (
	// ErrJobNotFound is returned by store lookups for unknown job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrMalformedJob marks a claimed row missing required type/payload
	// fields. Never retried.
	ErrMalformedJob = errors.New("malformed job row")

	// ErrNoProcessor marks a job whose type has no registered processor.
	// Never retried.
	ErrNoProcessor = errors.New("no processor registered for job type")

	// ErrInvalidPayload marks a payload a processor could not interpret.
	// Never retried.
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrTerminalStatus is returned when an update would overwrite a
	// terminal status.
	ErrTerminalStatus = errors.New("job is in a terminal status")
)

// IsRetryable reports whether a dispatch failure may be retried. Validation
// and not-found class failures are permanent; everything else is assumed
// transient.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrMalformedJob),
		errors.Is(err, ErrNoProcessor),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrJobNotFound):
		return false
	}
	return true
}
