package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// TokenProvider supplies the bearer token for outgoing requests. Returning
// an empty token aborts the request with ErrNoAuth.
type TokenProvider func() (string, error)

// StaticToken returns a TokenProvider that always yields token.
func StaticToken(token string) TokenProvider {
	return func() (string, error) { return token, nil }
}

// HTTPClient is the default Client implementation: JSON over HTTP with a
// bearer Authorization header and optional circuit breaking.
type HTTPClient struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.httpClient = c }
}

func WithTokenProvider(p TokenProvider) HTTPOption {
	return func(h *HTTPClient) { h.tokens = p }
}

// WithCircuitBreaker wraps every exchange in a gobreaker circuit breaker.
// An open breaker surfaces as a transport failure.
func WithCircuitBreaker(settings gobreaker.Settings) HTTPOption {
	return func(h *HTTPClient) { h.breaker = gobreaker.NewCircuitBreaker(settings) }
}

func NewHTTPClient(baseURL string, options ...HTTPOption) *HTTPClient {
	ret := &HTTPClient{
		baseURL: baseURL,
		tokens:  StaticToken(""),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

var _ Client = (*HTTPClient)(nil)

func (h *HTTPClient) Do(ctx context.Context, method string, path string, body interface{}) (*Response, error) {
	if h.breaker == nil {
		return h.do(ctx, method, path, body)
	}
	resp, err := h.breaker.Execute(func() (interface{}, error) {
		return h.do(ctx, method, path, body)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*Response), nil
}

func (h *HTTPClient) do(ctx context.Context, method string, path string, body interface{}) (*Response, error) {
	token, err := h.tokens()
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve auth token")
	}
	if token == "" {
		return nil, ErrNoAuth
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "could not marshal request body")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "could not create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := h.httpClient.Do(req)
	if err != nil {
		if IsCancellation(err) || ctx.Err() != nil {
			// surface the context error unwrapped so errors.Is keeps working
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		return nil, errors.Wrapf(err, "request to %s failed", path)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(err, "could not read response from %s", path)
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("exchange completed")

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       respBody,
	}, nil
}
