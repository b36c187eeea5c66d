package api

import "encoding/json"

// Default endpoint paths on the assistant backend.
const (
	PathCompletion      = "/api/chat/completion"
	PathImageCompletion = "/api/chat/image-completion"
	PathConversations   = "/api/conversations"
	PathUpload          = "/api/files/upload"
)

// ContentPartType discriminates the entries of a multi-content completion request.
type ContentPartType string

const (
	ContentPartText ContentPartType = "text"
	ContentPartFile ContentPartType = "file"
)

// ContentPart is one element of a multi-content completion request body.
// Text parts carry the user prompt, file parts reference already-uploaded
// attachment ids.
type ContentPart struct {
	Type    ContentPartType `json:"type"`
	Text    string          `json:"text,omitempty"`
	FileID  string          `json:"file_id,omitempty"`
	FileURL string          `json:"file_url,omitempty"`
}

// CompletionRequest is the plain/multi-content completion payload.
type CompletionRequest struct {
	ConversationID string        `json:"conversation_id"`
	Model          string        `json:"model"`
	Content        []ContentPart `json:"content"`
}

// ImageCompletionRequest is the image completion payload. It uses a distinct
// endpoint and shape from CompletionRequest.
type ImageCompletionRequest struct {
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model"`
	Text           string `json:"text"`
	ImageURL       string `json:"image_url"`
}

// CompletionReply is the payload carried by a successful completion envelope.
type CompletionReply struct {
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
}

// CreateConversationRequest creates a new server-side conversation.
type CreateConversationRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

// CreateConversationReply is the payload of a successful conversation
// creation envelope.
type CreateConversationReply struct {
	ID string `json:"id"`
}

// Envelope is the generic response wrapper used by the backend. A zero Code
// together with non-null Data signals success; anything else is an error,
// with Msg carrying the server-provided message when present.
type Envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// IsSuccess reports whether the envelope matches the success contract.
func (e *Envelope) IsSuccess() bool {
	return e.Code == 0 && len(e.Data) > 0 && string(e.Data) != "null"
}

// ParseEnvelope decodes body into an Envelope. The returned bool is false if
// the body is not a JSON envelope at all (HTML error pages, truncated
// bodies), in which case callers should synthesize an error from the HTTP
// status instead.
func ParseEnvelope(body []byte) (*Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false
	}
	return &env, true
}

// UploadRequest is the metadata sent alongside an attachment upload.
type UploadRequest struct {
	ConversationID string   `json:"conversation_id"`
	Name           string   `json:"name"`
	MimeType       string   `json:"mime_type"`
	Sha256         string   `json:"sha256"`
	SourceURL      string   `json:"source_url,omitempty"`
	Content        []byte   `json:"content,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// UploadReply mirrors the upload backend response. The backend is
// inconsistent about field names and answers with either snake_case or
// camelCase variants; both are captured here and normalized via FileID/URL.
type UploadReply struct {
	FileIDSnake string `json:"file_id"`
	FileIDCamel string `json:"fileID"`
	URLSnake    string `json:"file_url"`
	URLCamel    string `json:"cdnURL"`
}

// FileID returns the remote file id regardless of which naming convention
// the backend used.
func (r *UploadReply) FileID() string {
	if r.FileIDSnake != "" {
		return r.FileIDSnake
	}
	return r.FileIDCamel
}

// FileURL returns the remote file URL regardless of which naming convention
// the backend used.
func (r *UploadReply) FileURL() string {
	if r.URLSnake != "" {
		return r.URLSnake
	}
	return r.URLCamel
}
