package attachments

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/grillo/pkg/api"
	"github.com/go-go-golems/grillo/pkg/transport"
)

const (
	DefaultWaitTimeout  = 10 * time.Second
	DefaultPollInterval = 200 * time.Millisecond
)

// WaitReason explains why WaitUntilReady returned without a ready
// attachment.
type WaitReason string

const (
	ReasonUploadTimeout WaitReason = "uploading-timeout"
	ReasonUploadFailed  WaitReason = "upload-failed"
)

// WaitResult is the tri-state outcome of WaitUntilReady. Callers use the
// reason to distinguish "try again later" from "permanently failed".
type WaitResult struct {
	Ready  bool
	Reason WaitReason
}

// Coordinator tracks attachment uploads from pending to uploaded or failed.
// Enqueue starts an asynchronous upload; WaitUntilReady polls until the
// attachment settles or a deadline passes. Failed uploads are not retried:
// the caller surfaces the error and aborts the send.
type Coordinator struct {
	client       transport.Client
	uploadPath   string
	waitTimeout  time.Duration
	pollInterval time.Duration
	logger       zerolog.Logger
}

type CoordinatorOption func(*Coordinator)

func WithUploadPath(path string) CoordinatorOption {
	return func(c *Coordinator) { c.uploadPath = path }
}

func WithWaitTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.waitTimeout = d }
}

func WithPollInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.pollInterval = d }
}

func NewCoordinator(client transport.Client, options ...CoordinatorOption) *Coordinator {
	ret := &Coordinator{
		client:       client,
		uploadPath:   api.PathUpload,
		waitTimeout:  DefaultWaitTimeout,
		pollInterval: DefaultPollInterval,
		logger:       log.With().Str("component", "upload-coordinator").Logger(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Enqueue registers the attachment and starts its upload in the background.
// It returns immediately; progress is observed through WaitUntilReady.
func (c *Coordinator) Enqueue(ctx context.Context, conversationID string, att *Attachment) {
	if !att.transition(StatusUploading) {
		c.logger.Debug().
			Str("attachment_id", att.ID.String()).
			Str("status", string(att.Status())).
			Msg("attachment already settled, not enqueueing")
		return
	}

	go c.upload(ctx, conversationID, att)
}

func (c *Coordinator) upload(ctx context.Context, conversationID string, att *Attachment) {
	req := &api.UploadRequest{
		ConversationID: conversationID,
		Name:           att.Name,
		MimeType:       att.MimeType,
		SourceURL:      att.SourceURL,
		Content:        att.Content,
		Tags:           []string{"chat", string(att.Kind)},
	}
	if len(att.Content) > 0 {
		sum := sha256.Sum256(att.Content)
		req.Sha256 = fmt.Sprintf("%x", sum[:])
	}

	resp, err := c.client.Do(ctx, http.MethodPost, c.uploadPath, req)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("attachment_id", att.ID.String()).
			Msg("attachment upload failed")
		att.markFailed(err)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		att.markFailed(errors.Errorf("upload rejected with status %s", resp.Status))
		return
	}

	var reply api.UploadReply
	if err := json.Unmarshal(resp.Body, &reply); err != nil {
		att.markFailed(errors.Wrap(err, "could not parse upload response"))
		return
	}
	if reply.FileID() == "" {
		att.markFailed(errors.New("upload response carries no file id"))
		return
	}

	att.markUploaded(reply.FileID(), reply.FileURL())
	c.logger.Debug().
		Str("attachment_id", att.ID.String()).
		Str("remote_id", reply.FileID()).
		Msg("attachment uploaded")
}

// WaitUntilReady polls the attachment status until it settles or the wait
// window elapses. Cancellation of ctx is checked at every poll tick and
// reported as the context error.
func (c *Coordinator) WaitUntilReady(ctx context.Context, att *Attachment) (WaitResult, error) {
	deadline := time.Now().Add(c.waitTimeout)

	for {
		switch att.Status() {
		case StatusUploaded:
			return WaitResult{Ready: true}, nil
		case StatusFailed:
			return WaitResult{Ready: false, Reason: ReasonUploadFailed}, nil
		case StatusPending, StatusUploading:
			// keep polling
		}

		if time.Now().After(deadline) {
			c.logger.Warn().
				Str("attachment_id", att.ID.String()).
				Dur("wait_timeout", c.waitTimeout).
				Msg("attachment still uploading after wait window")
			return WaitResult{Ready: false, Reason: ReasonUploadTimeout}, nil
		}

		select {
		case <-ctx.Done():
			return WaitResult{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}
