package classifier

import "errors"

// RequestError describes a failed classifier call. Transient errors
// (connection failures, timeouts, 5xx, rate limits) are retried;
// everything else propagates immediately.
type RequestError struct {
	Status    int // HTTP status, 0 when the request never completed
	Transient bool
	Err       error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error is worth retrying.
func IsTransient(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Transient
	}
	return false
}
