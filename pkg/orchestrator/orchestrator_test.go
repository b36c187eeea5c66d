package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/grillo/pkg/api"
	"github.com/go-go-golems/grillo/pkg/transport"
)

type scriptedClient struct {
	mu        sync.Mutex
	responses []func() (*transport.Response, error)
	callTimes []time.Time
}

func (c *scriptedClient) Do(ctx context.Context, method string, path string, body interface{}) (*transport.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callTimes = append(c.callTimes, time.Now())
	idx := len(c.callTimes) - 1
	if idx >= len(c.responses) {
		return nil, errors.New("unexpected extra call")
	}
	return c.responses[idx]()
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.callTimes)
}

func (c *scriptedClient) gaps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []time.Duration{}
	for i := 1; i < len(c.callTimes); i++ {
		out = append(out, c.callTimes[i].Sub(c.callTimes[i-1]))
	}
	return out
}

func envelopeResponse(t *testing.T, code int, msg string, data interface{}) func() (*transport.Response, error) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = b
	}
	b, err := json.Marshal(api.Envelope{Code: code, Msg: msg, Data: raw})
	require.NoError(t, err)
	return func() (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Status: "200 OK", Body: b}, nil
	}
}

func statusResponse(status int, statusText string, body string) func() (*transport.Response, error) {
	return func() (*transport.Response, error) {
		return &transport.Response{StatusCode: status, Status: statusText, Body: []byte(body)}, nil
	}
}

func testRequest() *api.CompletionRequest {
	return &api.CompletionRequest{
		ConversationID: "conv-1",
		Model:          "m1",
		Content:        []api.ContentPart{{Type: api.ContentPartText, Text: "hello"}},
	}
}

func TestComplete_SucceedsAfterTransientErrors(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		statusResponse(503, "503 Service Unavailable", ""),
		statusResponse(503, "503 Service Unavailable", ""),
		envelopeResponse(t, 0, "", api.CompletionReply{Text: "hi there"}),
	}}

	initial := 20 * time.Millisecond
	o := New(client, WithInitialBackoff(initial))

	reply, err := o.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "hi there", reply.Text)
	require.Equal(t, 3, client.calls())

	gaps := client.gaps()
	require.Len(t, gaps, 2)
	// first delay is the initial interval, second one doubles it
	require.GreaterOrEqual(t, gaps[0], initial)
	require.GreaterOrEqual(t, gaps[1], 2*initial)
}

func TestComplete_ExhaustsRetryBudget(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		statusResponse(503, "503 Service Unavailable", ""),
		statusResponse(503, "503 Service Unavailable", ""),
		statusResponse(503, "503 Service Unavailable", ""),
	}}

	o := New(client, WithInitialBackoff(time.Millisecond))

	_, err := o.Complete(context.Background(), testRequest())
	require.Error(t, err)
	require.True(t, IsTransient(err))

	var te *TransientError
	require.ErrorAs(t, err, &te)
	require.Equal(t, 503, te.StatusCode)
	require.Equal(t, 3, te.Attempts)
	// no fourth attempt
	require.Equal(t, 3, client.calls())
}

func TestComplete_TransportFailureIsRetried(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		func() (*transport.Response, error) { return nil, errors.New("connection reset") },
		envelopeResponse(t, 0, "", api.CompletionReply{Text: "recovered"}),
	}}

	o := New(client, WithInitialBackoff(time.Millisecond))

	reply, err := o.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "recovered", reply.Text)
	require.Equal(t, 2, client.calls())
}

func TestComplete_ClientErrorIsNotRetried(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		envelopeResponse(t, 0, "", nil), // placeholder, replaced below
	}}
	client.responses[0] = func() (*transport.Response, error) {
		body, _ := json.Marshal(api.Envelope{Code: 42, Msg: "model not available"})
		return &transport.Response{StatusCode: 400, Status: "400 Bad Request", Body: body}, nil
	}

	o := New(client, WithInitialBackoff(time.Millisecond))

	_, err := o.Complete(context.Background(), testRequest())
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "model not available", ce.Message)
	require.Equal(t, 1, client.calls())
}

func TestComplete_HTMLErrorPageSynthesizesMessage(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		statusResponse(500, "500 Internal Server Error", "<html><body>boom</body></html>"),
	}}

	o := New(client, WithInitialBackoff(time.Millisecond))

	_, err := o.Complete(context.Background(), testRequest())
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "request failed: 500 Internal Server Error", ce.Message)
	require.Equal(t, 1, client.calls())
}

func TestComplete_NegativeEnvelopeWithoutMessage(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		envelopeResponse(t, 7, "", nil),
	}}

	o := New(client, WithInitialBackoff(time.Millisecond))

	_, err := o.Complete(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrInvalidResponseFormat)
	require.Equal(t, 1, client.calls())
}

func TestComplete_UnparseableSuccessBody(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		statusResponse(200, "200 OK", "<html>proxy interfered</html>"),
	}}

	o := New(client, WithInitialBackoff(time.Millisecond))

	_, err := o.Complete(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrInvalidResponseFormat)
}

func TestComplete_CancellationShortCircuitsBackoff(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		statusResponse(503, "503 Service Unavailable", ""),
		envelopeResponse(t, 0, "", api.CompletionReply{Text: "should never arrive"}),
	}}

	o := New(client, WithInitialBackoff(10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := o.Complete(ctx, testRequest())
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 5*time.Second)
	// the pending retry never executed
	require.Equal(t, 1, client.calls())
}

func TestComplete_AlreadyCancelledDoesNotCallTransport(t *testing.T) {
	client := &scriptedClient{}

	o := New(client, WithInitialBackoff(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Complete(ctx, testRequest())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, client.calls())
}

func TestComplete_CancellationFromTransportIsNotRetried(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		func() (*transport.Response, error) { return nil, context.Canceled },
	}}

	o := New(client, WithInitialBackoff(time.Millisecond))

	_, err := o.Complete(context.Background(), testRequest())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, client.calls())
}

func TestComplete_DeadlineExceededFromTransportIsRetried(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		func() (*transport.Response, error) {
			return nil, errors.Wrap(context.DeadlineExceeded, "request to /api/chat/completion failed")
		},
		envelopeResponse(t, 0, "", api.CompletionReply{Text: "recovered"}),
	}}

	o := New(client, WithInitialBackoff(time.Millisecond))

	reply, err := o.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "recovered", reply.Text)
	require.Equal(t, 2, client.calls())
}

func TestCompleteImage_DoesNotRetryTransientErrors(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		statusResponse(503, "503 Service Unavailable", ""),
	}}

	o := New(client, WithInitialBackoff(time.Millisecond))

	_, err := o.CompleteImage(context.Background(), &api.ImageCompletionRequest{
		ConversationID: "conv-1",
		Model:          "m1",
		Text:           "what is this",
		ImageURL:       "https://cdn.example.com/cat.png",
	})
	require.True(t, IsTransient(err))
	require.Equal(t, 1, client.calls())
}

func TestCompleteImage_Success(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		envelopeResponse(t, 0, "", api.CompletionReply{Text: "a cat"}),
	}}

	o := New(client)

	reply, err := o.CompleteImage(context.Background(), &api.ImageCompletionRequest{
		ConversationID: "conv-1",
		Model:          "m1",
		Text:           "what is this",
		ImageURL:       "https://cdn.example.com/cat.png",
	})
	require.NoError(t, err)
	require.Equal(t, "a cat", reply.Text)
}

func TestCreateConversation(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		envelopeResponse(t, 0, "", api.CreateConversationReply{ID: "conv-42"}),
	}}

	o := New(client)

	id, err := o.CreateConversation(context.Background(), "Hello", "m1")
	require.NoError(t, err)
	require.Equal(t, "conv-42", id)
}

func TestCreateConversation_EmptyID(t *testing.T) {
	client := &scriptedClient{responses: []func() (*transport.Response, error){
		envelopeResponse(t, 0, "", api.CreateConversationReply{}),
	}}

	o := New(client)

	_, err := o.CreateConversation(context.Background(), "Hello", "m1")
	require.ErrorIs(t, err, ErrInvalidResponseFormat)
}
