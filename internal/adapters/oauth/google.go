// Package oauth implements the Google OAuth collaborator: authorization URL
// construction, authorization-code exchange, and refresh-token exchange with
// permanent-vs-transient failure classification.
package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/antigravity-pool/internal/domain"
	"github.com/bnema/antigravity-pool/internal/ports"
)

const (
	defaultAuthEndpoint  = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenEndpoint = "https://oauth2.googleapis.com/token"

	clientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	clientSecret = "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"

	maxTokenResponseBytes = 1 << 20
)

var scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// Service talks to the Google OAuth endpoints. Endpoints are overridable for
// tests.
type Service struct {
	AuthEndpoint  string
	TokenEndpoint string
	Transport     ports.Transport
	Clock         ports.Clock
}

var _ ports.TokenService = (*Service)(nil)

func NewService(transport ports.Transport, clock ports.Clock) *Service {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Service{
		AuthEndpoint:  defaultAuthEndpoint,
		TokenEndpoint: defaultTokenEndpoint,
		Transport:     transport,
		Clock:         clock,
	}
}

func (s *Service) AuthorizationURL(state, codeChallenge, redirectURI string) (string, error) {
	if state == "" {
		return "", errors.New("state is required")
	}
	if codeChallenge == "" {
		return "", errors.New("code challenge is required")
	}
	if redirectURI == "" {
		return "", errors.New("redirect uri is required")
	}

	parsed, err := url.Parse(s.AuthEndpoint)
	if err != nil {
		return "", fmt.Errorf("parse auth endpoint: %w", err)
	}

	q := parsed.Query()
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", state)
	q.Set("code_challenge", codeChallenge)
	q.Set("code_challenge_method", PKCEChallengeMethodS256)
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}

// Exchange trades an authorization code for tokens and builds the Account
// record, decoding the email claim from the id token when present.
func (s *Service) Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (domain.Account, error) {
	if code == "" {
		return domain.Account{}, errors.New("authorization code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("code_verifier", codeVerifier)

	var tokens tokenResponse
	if err := s.postForm(ctx, form, &tokens); err != nil {
		return domain.Account{}, fmt.Errorf("exchange code for tokens: %w", err)
	}
	if tokens.RefreshToken == "" {
		return domain.Account{}, errors.New("token response missing refresh token")
	}

	now := s.Clock.Now()
	return domain.Account{
		Email:        emailFromIDToken(tokens.IDToken),
		RefreshToken: tokens.RefreshToken,
		AddedAt:      now,
		LastUsed:     now,
	}, nil
}

// Refresh exchanges a stored refresh token for a fresh access token.
// invalid_grant means the token was revoked and maps to
// domain.ErrCredentialRevoked; everything else is transient.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (domain.AuthRecord, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return domain.AuthRecord{}, domain.ErrCredentialRevoked
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	var tokens tokenResponse
	if err := s.postForm(ctx, form, &tokens); err != nil {
		return domain.AuthRecord{}, err
	}

	record := domain.AuthRecord{
		Access:  tokens.AccessToken,
		Refresh: refreshToken,
		Expiry:  s.Clock.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second),
	}
	if tokens.RefreshToken != "" {
		record.Refresh = tokens.RefreshToken
	}
	return record, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type tokenError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (s *Service) postForm(ctx context.Context, form url.Values, out *tokenResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.Transport.Send(req)
	if err != nil {
		return fmt.Errorf("call token endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var oauthErr tokenError
		if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Code == "invalid_grant" {
			return fmt.Errorf("%s: %w", oauthErr.Description, domain.ErrCredentialRevoked)
		}
		return &domain.StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	return nil
}

// emailFromIDToken pulls the email claim out of a JWT without verifying it;
// the token just came over TLS from the issuer.
func emailFromIDToken(idToken string) string {
	segments := strings.Split(idToken, ".")
	if len(segments) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Email
}
