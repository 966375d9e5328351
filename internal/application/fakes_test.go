package application

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bnema/antigravity-pool/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is the in-memory AccountStore double.
type memStore struct {
	mu      sync.Mutex
	pool    *domain.AccountPool
	saves   int
	clears  int
	saveErr error
}

func (s *memStore) Load(_ context.Context) (*domain.AccountPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool, nil
}

func (s *memStore) Save(_ context.Context, pool *domain.AccountPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	copied := &domain.AccountPool{Cursor: pool.Cursor}
	for _, account := range pool.Accounts {
		clone := *account
		copied.Accounts = append(copied.Accounts, &clone)
	}
	s.pool = copied
	s.saves++
	return nil
}

func (s *memStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = nil
	s.clears++
	return nil
}

func (s *memStore) savedLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return 0
	}
	return s.pool.Len()
}

type fakeTokens struct {
	mu       sync.Mutex
	refresh  func(refreshToken string) (domain.AuthRecord, error)
	refreshN int
}

func (f *fakeTokens) AuthorizationURL(_, _, _ string) (string, error) {
	return "https://example.com/auth", nil
}

func (f *fakeTokens) Exchange(_ context.Context, _, _, _ string) (domain.Account, error) {
	return domain.Account{}, nil
}

func (f *fakeTokens) Refresh(_ context.Context, refreshToken string) (domain.AuthRecord, error) {
	f.mu.Lock()
	f.refreshN++
	fn := f.refresh
	f.mu.Unlock()
	if fn != nil {
		return fn(refreshToken)
	}
	return domain.AuthRecord{Access: "ya29." + refreshToken, Refresh: refreshToken, Expiry: time.Now().Add(time.Hour)}, nil
}

// scriptedTransport replays canned responses in order and records every
// request it saw.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []scriptedResponse
	requests  []*http.Request
}

type scriptedResponse struct {
	status int
	body   string
	header http.Header
	err    error
}

func (t *scriptedTransport) Send(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, req)

	if len(t.responses) == 0 {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(bytes.NewReader([]byte(`{}`))),
		}, nil
	}

	next := t.responses[0]
	t.responses = t.responses[1:]
	if next.err != nil {
		return nil, next.err
	}

	header := next.header
	if header == nil {
		header = http.Header{"Content-Type": []string{"application/json"}}
	}
	return &http.Response{
		StatusCode: next.status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader([]byte(next.body))),
	}, nil
}

func (t *scriptedTransport) requestURLs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	urls := make([]string, 0, len(t.requests))
	for _, req := range t.requests {
		urls = append(urls, req.URL.String())
	}
	return urls
}

type fakeCredentials struct {
	mu     sync.Mutex
	token  string
	clears int
}

func (f *fakeCredentials) ActiveRefreshToken(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeCredentials) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	f.clears++
	return nil
}

func (f *fakeCredentials) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

type recordingNotifier struct {
	mu          sync.Mutex
	switches    int
	rateLimited int
}

func (n *recordingNotifier) AccountSwitched(_, _ *domain.Account) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.switches++
}

func (n *recordingNotifier) AccountRateLimited(_ *domain.Account, _ time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rateLimited++
}
