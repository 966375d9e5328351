package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/antigravity-pool/internal/domain"
)

func newTestManager(t *testing.T, accounts ...*domain.Account) (*PoolManager, *memStore, *fakeClock) {
	t.Helper()
	store := &memStore{pool: &domain.AccountPool{Accounts: accounts}}
	clock := newFakeClock()
	manager := NewPoolManager(store, clock, nil)
	require.NoError(t, manager.Load(context.Background(), ""))
	return manager, store, clock
}

func poolAccounts(emails ...string) []*domain.Account {
	accounts := make([]*domain.Account, 0, len(emails))
	for _, email := range emails {
		accounts = append(accounts, &domain.Account{Email: email, RefreshToken: "1//" + email})
	}
	return accounts
}

func TestPickNextRoundRobinFairness(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t, poolAccounts("a", "b", "c")...)
	ctx := context.Background()

	seen := map[string]int{}
	var order []string
	for i := 0; i < 3; i++ {
		account, ok := manager.PickNext(ctx, domain.FamilyGemini)
		require.True(t, ok)
		seen[account.Email]++
		order = append(order, account.Email)
	}

	assert.Len(t, seen, 3, "each account selected exactly once per cycle")
	for email, count := range seen {
		assert.Equal(t, 1, count, "account %s", email)
	}

	account, ok := manager.PickNext(ctx, domain.FamilyGemini)
	require.True(t, ok)
	assert.Equal(t, order[0], account.Email, "fourth pick wraps to the first")
}

func TestPickNextSkipsCoolingAccountsAndReadmits(t *testing.T) {
	t.Parallel()

	manager, _, clock := newTestManager(t, poolAccounts("a", "b")...)
	ctx := context.Background()

	first, ok := manager.PickNext(ctx, domain.FamilyGemini)
	require.True(t, ok)
	manager.MarkRateLimited(ctx, first, domain.FamilyGemini, time.Minute)

	for i := 0; i < 3; i++ {
		account, ok := manager.PickNext(ctx, domain.FamilyGemini)
		require.True(t, ok)
		assert.NotEqual(t, first.Email, account.Email, "cooling account must be skipped")
	}

	clock.Advance(2 * time.Minute)

	picked := map[string]bool{}
	for i := 0; i < 2; i++ {
		account, ok := manager.PickNext(ctx, domain.FamilyGemini)
		require.True(t, ok)
		picked[account.Email] = true
	}
	assert.True(t, picked[first.Email], "expired cooldown re-admits the account")
	assert.False(t, first.RateLimited, "flag lowered once cooldowns expire")
}

func TestPickNextFamilyScopedCooldown(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t, poolAccounts("a")...)
	ctx := context.Background()

	account, ok := manager.PickNext(ctx, domain.FamilyClaude)
	require.True(t, ok)
	manager.MarkRateLimited(ctx, account, domain.FamilyClaude, time.Hour)

	_, ok = manager.PickNext(ctx, domain.FamilyClaude)
	assert.False(t, ok, "claude exhausted")

	got, ok := manager.PickNext(ctx, domain.FamilyGemini)
	require.True(t, ok, "gemini unaffected by claude cooldown")
	assert.Equal(t, "a", got.Email)
}

func TestMinWait(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t, poolAccounts("a", "b")...)
	ctx := context.Background()

	a, _ := manager.PickNext(ctx, domain.FamilyGemini)
	b, _ := manager.PickNext(ctx, domain.FamilyGemini)
	manager.MarkRateLimited(ctx, a, domain.FamilyGemini, 3*time.Minute)
	manager.MarkRateLimited(ctx, b, domain.FamilyGemini, time.Minute)

	assert.Equal(t, time.Minute, manager.MinWait(domain.FamilyGemini))
	assert.Zero(t, manager.MinWait(domain.FamilyClaude))
}

func TestMergeSameAccountTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	incoming := domain.Account{Email: "a@example.com", RefreshToken: "1//a"}
	manager.Merge(ctx, incoming, MergeModePreserve)
	manager.Merge(ctx, incoming, MergeModePreserve)

	assert.Equal(t, 1, manager.Len())
}

func TestMergeByEmailSurvivesTokenRotation(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t, &domain.Account{
		Email:        "a@example.com",
		RefreshToken: "1//old",
		ProjectID:    "proj-a",
		RateLimited:  true,
		CooldownUntil: map[domain.Family]time.Time{
			domain.FamilyGemini: time.Now().Add(time.Hour),
		},
	})
	ctx := context.Background()

	merged := manager.Merge(ctx, domain.Account{Email: "a@example.com", RefreshToken: "1//rotated"}, MergeModePreserve)

	assert.Equal(t, 1, manager.Len())
	assert.Equal(t, "1//rotated", merged.RefreshToken)
	assert.Equal(t, "proj-a", merged.ProjectID, "existing project survives the re-login")
	assert.False(t, merged.RateLimited, "fresh auth clears cooldowns")
	assert.Nil(t, merged.CooldownUntil)
}

func TestMergeFreshReplacesPool(t *testing.T) {
	t.Parallel()

	manager, store, _ := newTestManager(t, poolAccounts("a", "b", "c")...)
	ctx := context.Background()

	manager.Merge(ctx, domain.Account{Email: "d@example.com", RefreshToken: "1//d"}, MergeModeFresh)

	assert.Equal(t, 1, manager.Len())
	assert.Equal(t, 0, manager.Cursor())
	assert.Equal(t, 1, store.savedLen())
}

func TestLoadDiscardsStalePoolWhenActiveCredentialUnknown(t *testing.T) {
	t.Parallel()

	store := &memStore{pool: &domain.AccountPool{Accounts: poolAccounts("a", "b")}}
	manager := NewPoolManager(store, newFakeClock(), nil)

	require.NoError(t, manager.Load(context.Background(), "1//elsewhere"))

	assert.Equal(t, 0, manager.Len(), "stale pool discarded")
	assert.Equal(t, 1, store.clears)
}

func TestLoadKeepsPoolWhenActiveCredentialMatches(t *testing.T) {
	t.Parallel()

	store := &memStore{pool: &domain.AccountPool{Accounts: poolAccounts("a", "b")}}
	manager := NewPoolManager(store, newFakeClock(), nil)

	require.NoError(t, manager.Load(context.Background(), "1//b"))

	assert.Equal(t, 2, manager.Len())
	assert.Zero(t, store.clears)
}

func TestLoadDeduplicatesByEmail(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{pool: &domain.AccountPool{Accounts: []*domain.Account{
		{Email: "a@example.com", RefreshToken: "1//old", LastUsed: base},
		{Email: "a@example.com", RefreshToken: "1//new", LastUsed: base.Add(time.Hour)},
	}}}
	manager := NewPoolManager(store, newFakeClock(), nil)

	require.NoError(t, manager.Load(context.Background(), "1//new"))

	assert.Equal(t, 1, manager.Len())
	snapshot := manager.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "1//new", snapshot[0].RefreshToken)
}

func TestRemovePersistsSynchronously(t *testing.T) {
	t.Parallel()

	manager, store, _ := newTestManager(t, poolAccounts("a", "b")...)
	ctx := context.Background()

	account, ok := manager.PickNext(ctx, domain.FamilyGemini)
	require.True(t, ok)

	remaining := manager.Remove(ctx, account)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, 1, store.savedLen())
}

func TestUpdateFromAuthRotatesRefreshToken(t *testing.T) {
	t.Parallel()

	manager, store, _ := newTestManager(t, poolAccounts("a")...)
	ctx := context.Background()

	account, ok := manager.PickNext(ctx, domain.FamilyGemini)
	require.True(t, ok)

	manager.UpdateFromAuth(ctx, account, domain.AuthRecord{Access: "ya29.x", Refresh: "1//rotated"})

	assert.Equal(t, "1//rotated", account.RefreshToken)
	require.NotNil(t, store.pool)
	assert.Equal(t, "1//rotated", store.pool.Accounts[0].RefreshToken)
}

func TestRemoveByEmail(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t, poolAccounts("a", "b")...)
	ctx := context.Background()

	assert.True(t, manager.RemoveByEmail(ctx, "a"))
	assert.False(t, manager.RemoveByEmail(ctx, "missing"))
	assert.Equal(t, 1, manager.Len())
}
