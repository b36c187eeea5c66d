package orchestrator

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidResponseFormat marks a response that parsed but does not match
// the success envelope contract (code 0 plus non-null data).
var ErrInvalidResponseFormat = errors.New("invalid response format")

// TransientError is a retryable server failure (502/503/504) that survived
// the whole retry budget.
type TransientError struct {
	StatusCode int
	Status     string
	Attempts   int
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("server unavailable after %d attempts: %s", e.Attempts, e.Status)
}

// ClientError is a non-retryable failure: a 4xx status or a semantically
// negative envelope. Message carries the server-provided error text when the
// backend sent one.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return e.Message
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
