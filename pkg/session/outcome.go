package session

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/go-go-golems/grillo/pkg/attachments"
	"github.com/go-go-golems/grillo/pkg/orchestrator"
	"github.com/go-go-golems/grillo/pkg/transport"
)

// Status is the terminal state of one generation.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ErrorKind is the distinct failure signal surfaced to callers. Each kind
// can be rendered differently; cancellation in particular is not an error.
type ErrorKind string

const (
	ErrorKindNone                    ErrorKind = ""
	ErrorKindNoAuth                  ErrorKind = "no-auth"
	ErrorKindAttachmentUploadFailed  ErrorKind = "attachment-upload-failed"
	ErrorKindAttachmentUploadTimeout ErrorKind = "attachment-upload-timeout"
	ErrorKindConversationCreate      ErrorKind = "conversation-create-failed"
	ErrorKindTransientServer         ErrorKind = "transient-server-error"
	ErrorKindInvalidResponse         ErrorKind = "invalid-response-format"
	ErrorKindClient                  ErrorKind = "client-error"
	ErrorKindTransport               ErrorKind = "transport-error"
	ErrorKindCancelled               ErrorKind = "cancelled"
	ErrorKindInternal                ErrorKind = "internal"
)

// Outcome is the terminal result of one generation. Exactly one of Text or
// Err is meaningful: completed generations carry the response text and the
// slot it was recorded under, failed ones carry the error and its kind, and
// cancelled ones carry neither.
type Outcome struct {
	Status Status
	Kind   ErrorKind
	Text   string
	Slot   int
	Err    error
}

// AttachmentError describes one attachment that kept a send from reaching
// the network.
type AttachmentError struct {
	Name   string
	Reason attachments.WaitReason
	Cause  error
}

func (e *AttachmentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("attachment %q: %s: %s", e.Name, e.Reason, e.Cause)
	}
	return fmt.Sprintf("attachment %q: %s", e.Name, e.Reason)
}

func (e *AttachmentError) Unwrap() error {
	return e.Cause
}

// classify maps an error from any pipeline stage onto the outcome taxonomy.
func classify(err error) (Status, ErrorKind) {
	if transport.IsCancellation(err) {
		return StatusCancelled, ErrorKindCancelled
	}

	var ae *AttachmentError
	if errors.As(err, &ae) {
		if ae.Reason == attachments.ReasonUploadTimeout {
			return StatusFailed, ErrorKindAttachmentUploadTimeout
		}
		return StatusFailed, ErrorKindAttachmentUploadFailed
	}

	if errors.Is(err, transport.ErrNoAuth) {
		return StatusFailed, ErrorKindNoAuth
	}
	if orchestrator.IsTransient(err) {
		return StatusFailed, ErrorKindTransientServer
	}
	if errors.Is(err, orchestrator.ErrInvalidResponseFormat) {
		return StatusFailed, ErrorKindInvalidResponse
	}

	var ce *orchestrator.ClientError
	if errors.As(err, &ce) {
		return StatusFailed, ErrorKindClient
	}

	return StatusFailed, ErrorKindTransport
}
