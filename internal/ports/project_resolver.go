package ports

import (
	"context"

	"github.com/bnema/antigravity-pool/internal/domain"
)

// ProjectResolver supplies the upstream project context for an account. When
// resolution refreshed credentials as a side effect it returns the updated
// auth record so the caller can persist it.
type ProjectResolver interface {
	Resolve(ctx context.Context, account *domain.Account, auth domain.AuthRecord) (projectID string, updated *domain.AuthRecord, err error)
}
