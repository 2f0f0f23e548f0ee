package delivery

import "errors"

// Permanent input defects. Deliveries failing with these bypass the retry
// budget entirely, because retrying cannot succeed.
var (
	// ErrNoRecipient means the event has no deliverable address.
	ErrNoRecipient = errors.New("delivery: no deliverable recipient")

	// ErrEmptyPayload means a required payload field is missing.
	ErrEmptyPayload = errors.New("delivery: payload incomplete")

	// ErrUnknownPlatform means no sender is registered for the platform.
	ErrUnknownPlatform = errors.New("delivery: unknown platform")
)

// PermanentError marks a sender-reported failure that no retry can fix,
// such as a rejected recipient or a malformed request.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return "delivery: permanent: " + e.Reason + ": " + e.Err.Error()
	}
	return "delivery: permanent: " + e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Classification decides whether a delivery failure consumes retry budget.
type Classification int

const (
	// Transient failures are retried with exponential backoff until the
	// retry budget is spent.
	Transient Classification = iota

	// Permanent failures fail the event immediately.
	Permanent
)

// Classify maps a delivery error onto the retry policy. The default is
// Transient: timeouts, 5xx responses, and transport errors all consume
// budget; only recognized input defects short-circuit.
func Classify(err error) Classification {
	var perm *PermanentError
	switch {
	case errors.As(err, &perm),
		errors.Is(err, ErrNoRecipient),
		errors.Is(err, ErrEmptyPayload),
		errors.Is(err, ErrUnknownPlatform):
		return Permanent
	default:
		return Transient
	}
}
