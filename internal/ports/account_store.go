package ports

import (
	"context"

	"github.com/bnema/antigravity-pool/internal/domain"
)

// AccountStore persists the account pool between processes. Load returns nil
// when nothing has been stored yet. Implementations transparently upgrade
// older on-disk schema versions before returning.
type AccountStore interface {
	Load(ctx context.Context) (*domain.AccountPool, error)
	Save(ctx context.Context, pool *domain.AccountPool) error
	Clear(ctx context.Context) error
}
