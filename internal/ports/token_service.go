package ports

import (
	"context"

	"github.com/bnema/antigravity-pool/internal/domain"
)

// TokenService is the OAuth collaborator. Refresh classifies permanent
// revocation as domain.ErrCredentialRevoked; everything else is transient.
type TokenService interface {
	AuthorizationURL(state, codeChallenge, redirectURI string) (string, error)
	Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (domain.Account, error)
	Refresh(ctx context.Context, refreshToken string) (domain.AuthRecord, error)
}
