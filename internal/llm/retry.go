package llm

import "errors"

// retryableError wraps an error to indicate the request can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError reports whether an error anywhere in the chain was
// marked retryable. Network failures, 429s, and 5xx responses qualify;
// auth and validation errors do not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var rerr *retryableError
	return errors.As(err, &rerr)
}
