package transport

import (
	"context"
	"errors"
)

var (
	// ErrNoAuth is returned before any network call when no credential is
	// available for the request.
	ErrNoAuth = errors.New("no auth token available")
)

// Response is the raw outcome of one authenticated exchange. Non-2xx
// statuses are not errors at this layer; callers decide how to classify
// them.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// Client performs one authenticated network call. Implementations must honor
// ctx cancellation and let context.Canceled surface through errors.Is so
// callers can distinguish a user-initiated stop from a transport failure.
type Client interface {
	Do(ctx context.Context, method string, path string, body interface{}) (*Response, error)
}

// IsCancellation reports whether err stems from an explicitly cancelled
// context. Deadline expiries are not cancellations: a timed-out exchange is
// a transport failure and stays eligible for retry, only a user-initiated
// stop cancels.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
