package ports

import (
	"time"

	"github.com/bnema/antigravity-pool/internal/domain"
)

// Notifier receives advisory side-channel events. Implementations must be
// best-effort and must never block the response path.
type Notifier interface {
	AccountSwitched(from, to *domain.Account)
	AccountRateLimited(account *domain.Account, retryAfter time.Duration)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) AccountSwitched(_, _ *domain.Account)                       {}
func (NopNotifier) AccountRateLimited(_ *domain.Account, _ time.Duration)      {}
