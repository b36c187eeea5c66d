package attachments

import (
	"sync"

	"github.com/google/uuid"
)

// Kind describes what an attachment refers to.
type Kind string

const (
	KindImage Kind = "image"
	KindFile  Kind = "file"
	KindURL   Kind = "url"
)

// Status is the upload lifecycle state of an attachment. Transitions are
// monotonic: a terminal status (uploaded, failed) never regresses back to
// uploading for the same attachment instance.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusUploaded  Status = "uploaded"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusUploaded || s == StatusFailed
}

// Attachment is one piece of content the user attached to a message. It is
// created when the user attaches content and discarded once the message is
// sent or the user removes it.
type Attachment struct {
	ID        uuid.UUID
	Kind      Kind
	Name      string
	MimeType  string
	Content   []byte
	SourceURL string

	mu        sync.Mutex
	status    Status
	remoteID  string
	remoteURL string
	uploadErr error
}

func NewAttachment(kind Kind, name string, mimeType string, content []byte) *Attachment {
	return &Attachment{
		ID:       uuid.New(),
		Kind:     kind,
		Name:     name,
		MimeType: mimeType,
		Content:  content,
		status:   StatusPending,
	}
}

func NewURLAttachment(sourceURL string) *Attachment {
	return &Attachment{
		ID:        uuid.New(),
		Kind:      KindURL,
		Name:      sourceURL,
		SourceURL: sourceURL,
		status:    StatusPending,
	}
}

func (a *Attachment) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Remote returns the server-assigned id and URL. Both are only populated
// once the attachment reached StatusUploaded.
func (a *Attachment) Remote() (id string, url string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remoteID, a.remoteURL
}

// UploadError returns the error that moved the attachment to StatusFailed.
func (a *Attachment) UploadError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uploadErr
}

// transition moves the attachment to the given status, refusing to leave a
// terminal state.
func (a *Attachment) transition(status Status) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status.Terminal() {
		return false
	}
	a.status = status
	return true
}

func (a *Attachment) markUploaded(remoteID, remoteURL string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status.Terminal() {
		return false
	}
	a.status = StatusUploaded
	a.remoteID = remoteID
	a.remoteURL = remoteURL
	return true
}

func (a *Attachment) markFailed(err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status.Terminal() {
		return false
	}
	a.status = StatusFailed
	a.uploadErr = err
	return true
}
