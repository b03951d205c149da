package admission

import "fmt"

// Kind is the boundary classification of an admission failure.
type Kind string

const (
	KindNotFound    Kind = "NotFound"
	KindForbidden   Kind = "Forbidden"
	KindRateLimited Kind = "RateLimited"
	KindBusy        Kind = "Busy"
	KindPreparing   Kind = "Preparing"
	KindBadRequest  Kind = "BadRequest"
	KindInternal    Kind = "Internal"
)

// Error carries the kind plus whatever the client needs to retry.
// Busy and Preparing are retryable with the supplied delay; Forbidden and
// NotFound are not.
type Error struct {
	Kind         Kind
	Reason       string
	JobID        string
	RetryAfterMs int
	Cause        error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("admission %s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("admission %s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }
