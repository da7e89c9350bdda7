package types

import "errors"

// Error kinds classify failures for the batch retry policy. Transport,
// rate-limit, invalid-response and timeout errors are retryable; the rest
// terminate the attempt chain.
var (
	ErrTransport       = errors.New("transport error")
	ErrRateLimited     = errors.New("rate limited")
	ErrInvalidResponse = errors.New("invalid response")
	ErrTimeout         = errors.New("timeout")
	ErrCancelled       = errors.New("cancelled")
	ErrBadRequest      = errors.New("bad request")
	ErrStorePersist    = errors.New("store persist failed")
	ErrCompileCheck    = errors.New("compile check failed")
	ErrConfig          = errors.New("invalid configuration")
)

// Retryable reports whether a batch attempt failing with err may be
// retried.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrTransport),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrInvalidResponse),
		errors.Is(err, ErrTimeout):
		return true
	}
	return false
}

// RateLimited reports whether err calls for backoff before the next
// attempt.
func RateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }
