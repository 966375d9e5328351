package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bnema/antigravity-pool/internal/domain"
	"github.com/bnema/antigravity-pool/internal/ports"
	"github.com/bnema/antigravity-pool/internal/signature"
	"github.com/bnema/antigravity-pool/internal/translate"
)

// Default upstream endpoint fallback order: regional dailies first, prod
// last.
var DefaultEndpoints = []string{
	"https://daily-cloudcode-pa.googleapis.com",
	"https://daily-cloudcode-pa.sandbox.googleapis.com",
	"https://cloudcode-pa.googleapis.com",
}

const (
	defaultRetryAfter   = 60 * time.Second
	tokenSafetyMargin   = 5 * time.Minute
	minExhaustedBackoff = time.Second
	upstreamUserAgent   = "antigravity/1.11.5"
)

// ChatCall is one inbound host chat turn.
type ChatCall struct {
	Model    string
	Action   string
	Payload  []byte
	Thinking *translate.ThinkingOption
	Alt      string
}

// ChatResult is the host-format response. Exactly one of Body and Stream is
// set: Stream carries a live SSE translation, Body a buffered payload.
type ChatResult struct {
	Status   int
	Header   http.Header
	Body     []byte
	Stream   io.ReadCloser
	Account  string
	Endpoint string
}

// Dispatcher is the control core: per inbound call it picks accounts,
// refreshes tokens, resolves project context, walks the endpoint fallback
// list and translates both wire directions. Exactly one attempt is in flight
// at a time; accounts and endpoints are tried strictly in sequence.
type Dispatcher struct {
	Pool        *PoolManager
	Tokens      ports.TokenService
	Transport   ports.Transport
	Credentials ports.HostCredentials
	Notifier    ports.Notifier
	Clock       ports.Clock
	Projects    ports.ProjectResolver
	Signatures  *signature.Cache
	Endpoints   []string
	Log         *logrus.Entry

	authMu sync.Mutex
	auths  map[*domain.Account]domain.AuthRecord
}

func NewDispatcher(pool *PoolManager, tokens ports.TokenService, transport ports.Transport, creds ports.HostCredentials, cache *signature.Cache, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		Pool:        pool,
		Tokens:      tokens,
		Transport:   transport,
		Credentials: creds,
		Notifier:    ports.NopNotifier{},
		Clock:       ports.SystemClock{},
		Signatures:  cache,
		Endpoints:   DefaultEndpoints,
		Log:         logger.WithField("component", "dispatch"),
		auths:       map[*domain.Account]domain.AuthRecord{},
	}
}

// dispatchState is the explicit retry machine:
// selectAccount → ensureAuth → ensureProject → tryEndpoints →
// {done, selectAccount, waitAndRetry, retrySameAccount, fatal}.
type dispatchState int

const (
	stateSelectAccount dispatchState = iota
	stateWaitAndRetry
	stateEnsureAuth
	stateEnsureProject
	stateTryEndpoints
)

// attemptVerdict is the outcome of one endpoint walk.
type attemptVerdict int

const (
	verdictDone attemptVerdict = iota
	verdictSwitchAccount
	verdictRetrySameAccount
)

// Send runs the single-threaded cooperative retry loop for one inbound call.
// It returns on success, a fatal condition, or cancellation.
func (d *Dispatcher) Send(ctx context.Context, call ChatCall) (*ChatResult, error) {
	family := domain.FamilyForModel(call.Model)

	var (
		state       = stateSelectAccount
		account     *domain.Account
		auth        domain.AuthRecord
		projectID   string
		lastFailure error
		failures    int
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// A transient failure on every account in several consecutive
		// passes means the upstream, not the pool, is the problem.
		if limit := 3 * (d.Pool.Len() + 1); failures > limit && lastFailure != nil {
			return nil, lastFailure
		}

		switch state {
		case stateSelectAccount:
			if d.Pool.Len() == 0 {
				return nil, d.poolExhausted(ctx, lastFailure)
			}
			next, ok := d.Pool.PickNext(ctx, family)
			if !ok {
				state = stateWaitAndRetry
				continue
			}
			if account != nil && next != account {
				d.Notifier.AccountSwitched(account, next)
			}
			account = next
			state = stateEnsureAuth

		case stateWaitAndRetry:
			wait := d.Pool.MinWait(family)
			if wait < minExhaustedBackoff {
				wait = minExhaustedBackoff
			}
			d.Log.WithField("wait", wait).Debug("all accounts cooling down")
			if err := sleepContext(ctx, wait); err != nil {
				return nil, err
			}
			state = stateSelectAccount

		case stateEnsureAuth:
			record, ok := d.cachedAuth(account)
			if ok && !record.Expired(d.Clock.Now(), tokenSafetyMargin) {
				auth = record
				state = stateEnsureProject
				continue
			}
			fresh, err := d.Tokens.Refresh(ctx, account.RefreshToken)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if errors.Is(err, domain.ErrCredentialRevoked) {
					d.Log.WithField("account", account.Email).Warn("refresh token revoked, evicting account")
					d.dropAuth(account)
					if remaining := d.Pool.Remove(ctx, account); remaining == 0 {
						return nil, d.poolExhausted(ctx, err)
					}
					state = stateSelectAccount
					continue
				}
				lastFailure = fmt.Errorf("%w: %w", domain.ErrAuthExpired, err)
				failures++
				state = stateSelectAccount
				continue
			}
			d.storeAuth(account, fresh)
			d.Pool.UpdateFromAuth(ctx, account, fresh)
			auth = fresh
			state = stateEnsureProject

		case stateEnsureProject:
			projectID = account.ProjectID
			if projectID == "" {
				projectID = account.ManagedProjectID
			}
			if d.Projects != nil {
				priorProject, priorManaged := account.ProjectID, account.ManagedProjectID
				resolved, updated, err := d.Projects.Resolve(ctx, account, auth)
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					lastFailure = err
					failures++
					state = stateSelectAccount
					continue
				}
				if updated != nil {
					d.storeAuth(account, *updated)
					auth = *updated
				}
				if updated != nil || account.ProjectID != priorProject || account.ManagedProjectID != priorManaged {
					d.Pool.UpdateFromAuth(ctx, account, auth)
				}
				if resolved != "" {
					projectID = resolved
				}
			}
			state = stateTryEndpoints

		case stateTryEndpoints:
			result, verdict, err := d.tryEndpoints(ctx, call, family, account, auth, projectID)
			switch verdict {
			case verdictDone:
				return result, err
			case verdictRetrySameAccount:
				// Single-account 429: the backoff already happened inside.
				failures++
				lastFailure = err
			case verdictSwitchAccount:
				if err != nil {
					lastFailure = err
				}
				failures++
				state = stateSelectAccount
			}
		}
	}
}

// tryEndpoints walks the fixed endpoint fallback list for one account.
func (d *Dispatcher) tryEndpoints(ctx context.Context, call ChatCall, family domain.Family, account *domain.Account, auth domain.AuthRecord, projectID string) (*ChatResult, attemptVerdict, error) {
	translated, err := translate.TranslateRequest(d.Signatures, call.Payload, translate.RequestOptions{
		Model:     call.Model,
		Action:    call.Action,
		ProjectID: projectID,
		Thinking:  call.Thinking,
	})
	if err != nil {
		return nil, verdictDone, err
	}
	collector := signature.NewCollector(d.Signatures, translated.SessionKey)
	path := translate.ActionPath(call.Action, call.Alt)

	var walkErr error
	for i, endpoint := range d.Endpoints {
		lastEndpoint := i == len(d.Endpoints)-1

		resp, sendErr := d.sendOnce(ctx, endpoint+path, auth.Access, translated.Body, translated.Stream)
		if sendErr != nil {
			if ctx.Err() != nil {
				return nil, verdictDone, ctx.Err()
			}
			d.Log.WithError(sendErr).WithField("endpoint", endpoint).Debug("transport error")
			if lastEndpoint {
				return nil, verdictSwitchAccount, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, sendErr)
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := retryHint(resp.Header, readAndClose(resp.Body))
			d.Pool.MarkRateLimited(ctx, account, family, retryAfter)
			d.Notifier.AccountRateLimited(account, retryAfter)
			rateErr := fmt.Errorf("%w for %s", domain.ErrRateLimited, retryAfter)

			if d.Pool.Len() > 1 {
				return nil, verdictSwitchAccount, rateErr
			}
			if err := sleepContext(ctx, retryAfter); err != nil {
				return nil, verdictDone, err
			}
			return nil, verdictRetrySameAccount, rateErr
		}

		if retryableStatus(resp.StatusCode) && !lastEndpoint {
			body := readAndClose(resp.Body)
			d.Log.WithFields(logrus.Fields{"endpoint": endpoint, "status": resp.StatusCode}).Debug("endpoint failed, falling back")
			walkErr = &domain.StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
			continue
		}

		// Success, non-retryable error, or endpoints exhausted: translate
		// and hand the response back as-is.
		return d.finishAttempt(call, translated, collector, account, endpoint, resp), verdictDone, nil
	}

	if walkErr == nil {
		walkErr = &domain.StatusError{Code: http.StatusServiceUnavailable, Message: "no endpoint available"}
	}
	return nil, verdictSwitchAccount, walkErr
}

func (d *Dispatcher) finishAttempt(call ChatCall, translated translate.RequestResult, collector *signature.Collector, account *domain.Account, endpoint string, resp *http.Response) *ChatResult {
	result := &ChatResult{
		Status:   resp.StatusCode,
		Account:  account.Email,
		Endpoint: endpoint,
	}
	contentType := resp.Header.Get("Content-Type")

	if translated.Stream && resp.StatusCode == http.StatusOK && strings.Contains(contentType, "text/event-stream") {
		result.Header = http.Header{}
		result.Header.Set("Content-Type", contentType)
		result.Stream = translate.TranslateStream(collector, resp.Body)
		return result
	}

	body := readAndClose(resp.Body)
	out := translate.TranslateResponse(collector, resp.StatusCode, contentType, body, translated.Model)
	result.Header = out.Header
	result.Body = out.Body
	return result
}

func (d *Dispatcher) sendOnce(ctx context.Context, url, accessToken string, body []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", upstreamUserAgent)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	return d.Transport.Send(req)
}

// poolExhausted clears the host's stored credential so it re-prompts
// authentication, then fails the call with a remediation message.
func (d *Dispatcher) poolExhausted(ctx context.Context, cause error) error {
	if d.Credentials != nil {
		if err := d.Credentials.Clear(ctx); err != nil {
			d.Log.WithError(err).Warn("clear host credential")
		}
	}
	if cause != nil {
		return fmt.Errorf("%w (last failure: %v)", domain.ErrPoolExhausted, cause)
	}
	return domain.ErrPoolExhausted
}

func (d *Dispatcher) cachedAuth(account *domain.Account) (domain.AuthRecord, bool) {
	d.authMu.Lock()
	defer d.authMu.Unlock()
	record, ok := d.auths[account]
	return record, ok
}

func (d *Dispatcher) storeAuth(account *domain.Account, record domain.AuthRecord) {
	d.authMu.Lock()
	defer d.authMu.Unlock()
	d.auths[account] = record
}

func (d *Dispatcher) dropAuth(account *domain.Account) {
	d.authMu.Lock()
	defer d.authMu.Unlock()
	delete(d.auths, account)
}

// retryHint sizes a 429 cooldown: a millisecond header wins, then a seconds
// header, then a structured retry delay in the body, then a 60 s default.
func retryHint(header http.Header, body []byte) time.Duration {
	if raw := header.Get("Retry-After-Ms"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	if raw := header.Get("Retry-After"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	if d := translate.RetryDelayFromBody(body); d > 0 {
		return d
	}
	return defaultRetryAfter
}

func retryableStatus(status int) bool {
	return status == http.StatusForbidden || status == http.StatusNotFound || status >= http.StatusInternalServerError
}

func readAndClose(body io.ReadCloser) []byte {
	data, _ := io.ReadAll(body)
	_ = body.Close()
	return data
}

func sleepContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
