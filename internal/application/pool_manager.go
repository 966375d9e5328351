package application

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bnema/antigravity-pool/internal/domain"
	"github.com/bnema/antigravity-pool/internal/ports"
)

// MergeMode controls what happens to the previously loaded pool when a newly
// authenticated account arrives.
type MergeMode int

const (
	// MergeModePreserve merges into the loaded pool and keeps the rotation
	// cursor where it was.
	MergeModePreserve MergeMode = iota
	// MergeModeFresh discards the loaded pool and resets the cursor to 0.
	MergeModeFresh
)

// PoolManager owns the in-memory account pool, its rotation cursor and
// per-account cooldowns, and mirrors every mutation to the persistent store.
// Persistence is best-effort: failures are logged, never fatal to the
// in-flight call.
type PoolManager struct {
	mu    sync.Mutex
	pool  *domain.AccountPool
	store ports.AccountStore
	clock ports.Clock
	log   *logrus.Entry
}

func NewPoolManager(store ports.AccountStore, clock ports.Clock, logger *logrus.Logger) *PoolManager {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PoolManager{
		pool:  &domain.AccountPool{},
		store: store,
		clock: clock,
		log:   logger.WithField("component", "pool"),
	}
}

// Load reads the persisted pool once at startup. activeRefreshToken is the
// host's currently active credential: when it matches none of the persisted
// accounts the stored pool is stale (the host re-authenticated elsewhere) and
// gets cleared rather than silently used.
func (m *PoolManager) Load(ctx context.Context, activeRefreshToken string) error {
	pool, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	if pool == nil {
		pool = &domain.AccountPool{}
	}

	pool.DeduplicateByEmail()

	if activeRefreshToken != "" && pool.Len() > 0 && pool.IndexOfRefreshToken(activeRefreshToken) == -1 {
		m.log.Warn("persisted pool does not contain the active credential, discarding stale pool")
		pool = &domain.AccountPool{}
		if err := m.store.Clear(ctx); err != nil {
			m.log.WithError(err).Warn("clear stale pool")
		}
	}

	m.mu.Lock()
	m.pool = pool
	m.mu.Unlock()
	return nil
}

// PickNext selects the next eligible account round-robin, starting at the
// cursor and skipping accounts whose cooldown has not elapsed. The cursor
// advances past the returned index. Returns false when every account is
// cooling down.
func (m *PoolManager) PickNext(ctx context.Context, family domain.Family) (*domain.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.pool.Len()
	if n == 0 {
		return nil, false
	}

	now := m.clock.Now()
	for offset := 0; offset < n; offset++ {
		idx := (m.pool.Cursor + offset) % n
		account := m.pool.Accounts[idx]
		account.DropExpiredCooldowns(now)
		if account.CoolingDown(family, now) {
			continue
		}
		m.pool.Cursor = (idx + 1) % n
		account.LastUsed = now
		m.persistLocked(ctx)
		return account, true
	}
	return nil, false
}

// MarkRateLimited puts the account on cooldown for retryAfter.
func (m *PoolManager) MarkRateLimited(ctx context.Context, account *domain.Account, family domain.Family, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account.MarkRateLimited(family, retryAfter, m.clock.Now())
	m.persistLocked(ctx)
}

// MinWait is the smallest remaining cooldown across the pool; it sizes the
// backoff when every account is exhausted.
func (m *PoolManager) MinWait(family domain.Family) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var min time.Duration
	for _, account := range m.pool.Accounts {
		remaining := account.CooldownRemaining(family, now)
		if remaining <= 0 {
			continue
		}
		if min == 0 || remaining < min {
			min = remaining
		}
	}
	return min
}

// Remove evicts the account by identity after permanent revocation, persists
// and re-clamps the cursor. Returns the remaining pool size. The persist here
// is synchronous: a revocation must hit disk before the error surfaces.
func (m *PoolManager) Remove(ctx context.Context, account *domain.Account) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pool.Remove(account) {
		if err := m.store.Save(ctx, m.pool); err != nil {
			m.log.WithError(err).Warn("persist pool after eviction")
		}
	}
	return m.pool.Len()
}

// UpdateFromAuth merges a refreshed token back into the account record.
func (m *PoolManager) UpdateFromAuth(ctx context.Context, account *domain.Account, auth domain.AuthRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if auth.Refresh != "" && auth.Refresh != account.RefreshToken {
		account.RefreshToken = auth.Refresh
	}
	account.LastUsed = m.clock.Now()
	m.persistLocked(ctx)
}

// Merge folds a newly authenticated account into the pool. Email match wins
// over refresh-token match so a repeat login survives refresh-token rotation;
// this can in principle merge two distinct identities behind one email
// placeholder, an assumption inherited from the host's account model.
func (m *PoolManager) Merge(ctx context.Context, incoming domain.Account, mode MergeMode) *domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if incoming.AddedAt.IsZero() {
		incoming.AddedAt = now
	}
	incoming.LastUsed = now

	if mode == MergeModeFresh {
		account := incoming
		m.pool = &domain.AccountPool{Accounts: []*domain.Account{&account}}
		m.persistLocked(ctx)
		return &account
	}

	idx := m.pool.IndexOfEmail(incoming.Email)
	if idx == -1 {
		idx = m.pool.IndexOfRefreshToken(incoming.RefreshToken)
	}
	if idx == -1 {
		account := incoming
		m.pool.Accounts = append(m.pool.Accounts, &account)
		m.pool.ClampCursor()
		m.persistLocked(ctx)
		return &account
	}

	existing := m.pool.Accounts[idx]
	existing.RefreshToken = incoming.RefreshToken
	if incoming.Email != "" {
		existing.Email = incoming.Email
	}
	if incoming.ProjectID != "" {
		existing.ProjectID = incoming.ProjectID
	}
	if incoming.ManagedProjectID != "" {
		existing.ManagedProjectID = incoming.ManagedProjectID
	}
	existing.ClearRateLimits()
	existing.LastUsed = now
	m.persistLocked(ctx)
	return existing
}

// Len reports the current pool size.
func (m *PoolManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.Len()
}

// Cursor reports the rotation position the next request will start from.
func (m *PoolManager) Cursor() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.Cursor
}

// Snapshot copies the accounts for read-only rendering.
func (m *PoolManager) Snapshot() []domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Account, 0, m.pool.Len())
	for _, account := range m.pool.Accounts {
		out = append(out, *account)
	}
	return out
}

// RemoveByEmail evicts an account through the CLI surface.
func (m *PoolManager) RemoveByEmail(ctx context.Context, email string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.pool.IndexOfEmail(email)
	if idx == -1 {
		return false
	}
	m.pool.Remove(m.pool.Accounts[idx])
	m.persistLocked(ctx)
	return true
}

func (m *PoolManager) persistLocked(ctx context.Context) {
	if err := m.store.Save(ctx, m.pool); err != nil {
		m.log.WithError(err).Warn("persist pool")
	}
}
