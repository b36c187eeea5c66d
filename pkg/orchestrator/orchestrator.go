package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/grillo/pkg/api"
	"github.com/go-go-golems/grillo/pkg/transport"
)

const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 1 * time.Second
)

// Orchestrator executes one logical completion exchange against the backend.
// Plain and multi-content completions run inside a retry envelope; image
// completions and conversation creation are single-shot.
type Orchestrator struct {
	client         transport.Client
	maxAttempts    int
	initialBackoff time.Duration

	completionPath      string
	imageCompletionPath string
	conversationsPath   string

	logger zerolog.Logger
}

type Option func(*Orchestrator)

func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) { o.maxAttempts = n }
}

func WithInitialBackoff(d time.Duration) Option {
	return func(o *Orchestrator) { o.initialBackoff = d }
}

func WithCompletionPath(path string) Option {
	return func(o *Orchestrator) { o.completionPath = path }
}

func WithImageCompletionPath(path string) Option {
	return func(o *Orchestrator) { o.imageCompletionPath = path }
}

func WithConversationsPath(path string) Option {
	return func(o *Orchestrator) { o.conversationsPath = path }
}

func New(client transport.Client, options ...Option) *Orchestrator {
	ret := &Orchestrator{
		client:              client,
		maxAttempts:         DefaultMaxAttempts,
		initialBackoff:      DefaultInitialBackoff,
		completionPath:      api.PathCompletion,
		imageCompletionPath: api.PathImageCompletion,
		conversationsPath:   api.PathConversations,
		logger:              log.With().Str("component", "orchestrator").Logger(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Complete executes a plain or multi-content completion with retries.
//
// An attempt is retried only on a transient server status (502/503/504) or a
// transport failure that is not a cancellation. The backoff between attempts
// doubles from the initial interval. The context is checked before every
// attempt and during every backoff wait; cancellation is returned as the
// context error, never converted into a failure.
func (o *Orchestrator) Complete(ctx context.Context, req *api.CompletionRequest) (*api.CompletionReply, error) {
	var reply api.CompletionReply
	if err := o.exchangeWithRetry(ctx, o.completionPath, req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// CompleteImage executes an image completion. Unlike Complete it performs a
// single attempt: transient server errors are surfaced immediately.
func (o *Orchestrator) CompleteImage(ctx context.Context, req *api.ImageCompletionRequest) (*api.CompletionReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var reply api.CompletionReply
	if err := o.exchange(ctx, o.imageCompletionPath, req, &reply, 1); err != nil {
		return nil, err
	}
	return &reply, nil
}

// CreateConversation creates a server-side conversation and returns its id.
// Single attempt: a failure here aborts the send that needed it.
func (o *Orchestrator) CreateConversation(ctx context.Context, title string, model string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	req := &api.CreateConversationRequest{Title: title, Model: model}
	var reply api.CreateConversationReply
	if err := o.exchange(ctx, o.conversationsPath, req, &reply, 1); err != nil {
		return "", err
	}
	if reply.ID == "" {
		return "", errors.Wrap(ErrInvalidResponseFormat, "conversation reply carries no id")
	}
	return reply.ID, nil
}

func (o *Orchestrator) exchangeWithRetry(ctx context.Context, path string, req interface{}, out interface{}) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.initialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Hour
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := o.exchange(ctx, path, req, out, attempt)
		if err == nil {
			if attempt > 1 {
				o.logger.Info().
					Str("path", path).
					Int("attempt", attempt).
					Msg("completion succeeded after retry")
			}
			return nil
		}
		if transport.IsCancellation(err) {
			return err
		}
		if !retryable(err) {
			return err
		}
		lastErr = err

		if attempt == o.maxAttempts {
			break
		}

		delay := bo.NextBackOff()
		o.logger.Warn().
			Err(err).
			Str("path", path).
			Int("attempt", attempt).
			Int("max_attempts", o.maxAttempts).
			Dur("retry_delay", delay).
			Msg("retrying completion after transient failure")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	var te *TransientError
	if errors.As(lastErr, &te) {
		te.Attempts = o.maxAttempts
		return te
	}
	return errors.Wrapf(lastErr, "completion failed after %d attempts", o.maxAttempts)
}

// exchange performs exactly one network attempt and classifies its outcome.
func (o *Orchestrator) exchange(ctx context.Context, path string, req interface{}, out interface{}, attempt int) error {
	resp, err := o.client.Do(ctx, http.MethodPost, path, req)
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &TransientError{StatusCode: resp.StatusCode, Status: resp.Status, Attempts: attempt}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ClientError{StatusCode: resp.StatusCode, Message: serverMessage(resp)}
	}

	env, ok := api.ParseEnvelope(resp.Body)
	if !ok {
		return errors.Wrapf(ErrInvalidResponseFormat, "unparseable body with status %s", resp.Status)
	}
	if !env.IsSuccess() {
		if env.Msg != "" {
			return &ClientError{StatusCode: resp.StatusCode, Message: env.Msg}
		}
		return errors.Wrapf(ErrInvalidResponseFormat, "envelope code %d with empty payload", env.Code)
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Wrap(ErrInvalidResponseFormat, err.Error())
	}
	return nil
}

func retryable(err error) bool {
	if IsTransient(err) {
		return true
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return false
	}
	if errors.Is(err, ErrInvalidResponseFormat) {
		return false
	}
	if errors.Is(err, transport.ErrNoAuth) {
		return false
	}
	// network errors, malformed bodies at the transport level
	return true
}

// serverMessage extracts the server-provided error message from an error
// response, falling back to a message synthesized from the HTTP status when
// the body is an HTML or plain-text error page.
func serverMessage(resp *transport.Response) string {
	if env, ok := api.ParseEnvelope(resp.Body); ok && env.Msg != "" {
		return env.Msg
	}
	return fmt.Sprintf("request failed: %s", resp.Status)
}
