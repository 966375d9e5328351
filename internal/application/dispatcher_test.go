package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/bnema/antigravity-pool/internal/domain"
	"github.com/bnema/antigravity-pool/internal/signature"
)

const upstreamOK = `{"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}}`

func testCall() ChatCall {
	return ChatCall{
		Model:   "gemini-3-pro-preview",
		Action:  "generateContent",
		Payload: []byte(`{"contents":[{"role":"user","parts":[{"text":"hello"}]}]}`),
	}
}

func newTestDispatcher(t *testing.T, transport *scriptedTransport, emails ...string) (*Dispatcher, *memStore, *fakeCredentials, *recordingNotifier) {
	t.Helper()

	accounts := make([]*domain.Account, 0, len(emails))
	for _, email := range emails {
		accounts = append(accounts, &domain.Account{Email: email, RefreshToken: "1//" + email, ProjectID: "proj-" + email})
	}
	store := &memStore{pool: &domain.AccountPool{Accounts: accounts}}
	pool := NewPoolManager(store, newFakeClock(), nil)
	require.NoError(t, pool.Load(context.Background(), ""))

	creds := &fakeCredentials{}
	notifier := &recordingNotifier{}
	d := NewDispatcher(pool, &fakeTokens{}, transport, creds, signature.NewCache(), nil)
	d.Notifier = notifier
	return d, store, creds, notifier
}

func TestSendSuccessOnFirstEndpoint(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{responses: []scriptedResponse{
		{status: http.StatusOK, body: upstreamOK},
	}}
	d, _, _, _ := newTestDispatcher(t, transport, "a")

	result, err := d.Send(context.Background(), testCall())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, "a", result.Account)
	assert.Equal(t, DefaultEndpoints[0], result.Endpoint)
	assert.Equal(t, "hi", gjson.GetBytes(result.Body, "candidates.0.content.parts.0.text").String())

	urls := transport.requestURLs()
	require.Len(t, urls, 1)
	assert.Equal(t, DefaultEndpoints[0]+"/v1internal:generateContent", urls[0])

	req := transport.requests[0]
	assert.Equal(t, "Bearer ya29.1//a", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "proj-a", gjson.GetBytes(body, "project").String())
	assert.Equal(t, "gemini-3-pro-preview", gjson.GetBytes(body, "model").String())
	assert.Equal(t, "hello", gjson.GetBytes(body, "request.contents.0.parts.0.text").String())
}

func TestSendFallsBackAcrossEndpoints(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{responses: []scriptedResponse{
		{status: http.StatusInternalServerError, body: `{"error":{"code":500}}`},
		{status: http.StatusOK, body: upstreamOK},
	}}
	d, _, _, _ := newTestDispatcher(t, transport, "a")

	result, err := d.Send(context.Background(), testCall())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, DefaultEndpoints[1], result.Endpoint)

	urls := transport.requestURLs()
	require.Len(t, urls, 2)
	assert.True(t, strings.HasPrefix(urls[0], DefaultEndpoints[0]))
	assert.True(t, strings.HasPrefix(urls[1], DefaultEndpoints[1]))
}

func TestSendTransportErrorFallsBack(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{responses: []scriptedResponse{
		{err: errors.New("connection refused")},
		{status: http.StatusOK, body: upstreamOK},
	}}
	d, _, _, _ := newTestDispatcher(t, transport, "a")

	result, err := d.Send(context.Background(), testCall())
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoints[1], result.Endpoint)
}

func TestSendRateLimitSwitchesAccount(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{responses: []scriptedResponse{
		{status: http.StatusTooManyRequests, body: `{"error":{"code":429}}`, header: http.Header{
			"Content-Type":   []string{"application/json"},
			"Retry-After-Ms": []string{"60000"},
		}},
		{status: http.StatusOK, body: upstreamOK},
	}}
	d, _, _, notifier := newTestDispatcher(t, transport, "a", "b")

	result, err := d.Send(context.Background(), testCall())
	require.NoError(t, err)

	assert.Equal(t, "b", result.Account)
	assert.Equal(t, 1, notifier.rateLimited)
	assert.Equal(t, 1, notifier.switches)

	require.Len(t, transport.requestURLs(), 2, "429 switches immediately, no endpoint fallback")

	first, ok := d.Pool.PickNext(context.Background(), domain.FamilyGemini)
	require.True(t, ok)
	assert.Equal(t, "b", first.Email, "rate limited account stays excluded")
}

func TestSendSingleAccountRateLimitSleepsAndRetries(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{responses: []scriptedResponse{
		{status: http.StatusTooManyRequests, body: `{"error":{"code":429}}`, header: http.Header{
			"Content-Type":   []string{"application/json"},
			"Retry-After-Ms": []string{"5"},
		}},
		{status: http.StatusOK, body: upstreamOK},
	}}
	d, _, _, notifier := newTestDispatcher(t, transport, "a")

	start := time.Now()
	result, err := d.Send(context.Background(), testCall())
	require.NoError(t, err)

	assert.Equal(t, "a", result.Account, "single account retries itself")
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond, "hinted backoff observed")
	assert.Equal(t, 1, notifier.rateLimited)
	assert.Zero(t, notifier.switches)
	require.Len(t, transport.requestURLs(), 2)
}

func TestSendRateLimitHintFromBody(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{responses: []scriptedResponse{
		{status: http.StatusTooManyRequests, body: `{"error":{"code":429,"details":[{"retryDelay":"0.005s"}]}}`},
		{status: http.StatusOK, body: upstreamOK},
	}}
	d, _, _, _ := newTestDispatcher(t, transport, "a")

	_, err := d.Send(context.Background(), testCall())
	require.NoError(t, err)
	require.Len(t, transport.requestURLs(), 2)
}

func TestSendRevokedAccountIsEvicted(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{responses: []scriptedResponse{
		{status: http.StatusOK, body: upstreamOK},
	}}
	d, store, creds, _ := newTestDispatcher(t, transport, "a", "b")

	tokens := d.Tokens.(*fakeTokens)
	tokens.refresh = func(refreshToken string) (domain.AuthRecord, error) {
		if refreshToken == "1//a" {
			return domain.AuthRecord{}, fmt.Errorf("revoked: %w", domain.ErrCredentialRevoked)
		}
		return domain.AuthRecord{Access: "ya29.b", Refresh: refreshToken, Expiry: time.Now().Add(time.Hour)}, nil
	}

	result, err := d.Send(context.Background(), testCall())
	require.NoError(t, err)

	assert.Equal(t, "b", result.Account)
	assert.Equal(t, 1, d.Pool.Len(), "revoked account evicted")
	assert.Equal(t, 1, store.savedLen(), "eviction persisted")
	assert.Zero(t, creds.clearCount())
}

func TestSendLastAccountRevokedClearsHostCredential(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{}
	d, _, creds, _ := newTestDispatcher(t, transport, "a")

	tokens := d.Tokens.(*fakeTokens)
	tokens.refresh = func(string) (domain.AuthRecord, error) {
		return domain.AuthRecord{}, domain.ErrCredentialRevoked
	}

	_, err := d.Send(context.Background(), testCall())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.Equal(t, 1, creds.clearCount())
	assert.Zero(t, d.Pool.Len())
}

func TestSendEmptyPoolFailsWithRemediation(t *testing.T) {
	t.Parallel()

	d, _, creds, _ := newTestDispatcher(t, &scriptedTransport{})

	_, err := d.Send(context.Background(), testCall())
	assert.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.ErrorContains(t, err, "agp login")
	assert.Equal(t, 1, creds.clearCount())
}

func TestSendTransientRefreshFailureGivesUpEventually(t *testing.T) {
	t.Parallel()

	d, _, _, _ := newTestDispatcher(t, &scriptedTransport{}, "a")

	tokens := d.Tokens.(*fakeTokens)
	tokens.refresh = func(string) (domain.AuthRecord, error) {
		return domain.AuthRecord{}, &domain.StatusError{Code: http.StatusServiceUnavailable, Message: "oauth down"}
	}

	_, err := d.Send(context.Background(), testCall())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
}

func TestSendNonRetryableStatusReturnsTranslated(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{responses: []scriptedResponse{
		{status: http.StatusBadRequest, body: `{"error":{"code":400,"message":"bad request"}}`},
	}}
	d, _, _, _ := newTestDispatcher(t, transport, "a")

	result, err := d.Send(context.Background(), testCall())
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, result.Status)
	assert.Equal(t, "bad request", gjson.GetBytes(result.Body, "error.message").String())
	require.Len(t, transport.requestURLs(), 1, "client errors do not walk the fallback list")
}

func TestSendExhaustedEndpointsReturnsLastResponse(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{responses: []scriptedResponse{
		{status: http.StatusInternalServerError, body: `{"error":{"code":500}}`},
		{status: http.StatusInternalServerError, body: `{"error":{"code":500}}`},
		{status: http.StatusServiceUnavailable, body: `{"error":{"code":503,"message":"down"}}`},
	}}
	d, _, _, _ := newTestDispatcher(t, transport, "a")

	result, err := d.Send(context.Background(), testCall())
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, result.Status, "final endpoint's response surfaces as-is")
	require.Len(t, transport.requestURLs(), 3)
}

func TestSendUnreachableUpstreamGivesUpEventually(t *testing.T) {
	t.Parallel()

	responses := make([]scriptedResponse, 0, 10)
	for i := 0; i < 10; i++ {
		responses = append(responses, scriptedResponse{err: errors.New("connection refused")})
	}
	transport := &scriptedTransport{responses: responses}
	d, _, _, _ := newTestDispatcher(t, transport, "a")
	d.Endpoints = d.Endpoints[:1]

	_, err := d.Send(context.Background(), testCall())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestSendCancellationPropagates(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, _, _, _ := newTestDispatcher(t, &scriptedTransport{}, "a")

	_, err := d.Send(ctx, testCall())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendStreamingResponse(t *testing.T) {
	t.Parallel()

	sse := "data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"chunk\"}]}}]}}\n\n"
	transport := &scriptedTransport{responses: []scriptedResponse{
		{status: http.StatusOK, body: sse, header: http.Header{"Content-Type": []string{"text/event-stream"}}},
	}}
	d, _, _, _ := newTestDispatcher(t, transport, "a")

	call := testCall()
	call.Action = "streamGenerateContent"

	result, err := d.Send(context.Background(), call)
	require.NoError(t, err)
	require.NotNil(t, result.Stream)
	defer func() { _ = result.Stream.Close() }()

	out, err := io.ReadAll(result.Stream)
	require.NoError(t, err)

	first := strings.SplitN(string(out), "\n", 2)[0]
	payload := strings.TrimPrefix(first, "data: ")
	assert.Equal(t, "chunk", gjson.Get(payload, "candidates.0.content.parts.0.text").String())
	assert.False(t, gjson.Get(payload, "response").Exists(), "stream lines unwrapped on the fly")

	url := transport.requestURLs()[0]
	assert.Contains(t, url, "streamGenerateContent?alt=sse")
	assert.Equal(t, "text/event-stream", transport.requests[0].Header.Get("Accept"))
}

func TestSendMalformedPayloadFailsFast(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{}
	d, _, _, _ := newTestDispatcher(t, transport, "a")

	call := testCall()
	call.Payload = []byte(`{"contents":`)

	_, err := d.Send(context.Background(), call)
	require.Error(t, err)
	assert.Empty(t, transport.requestURLs(), "nothing sent upstream")
}
