package domain

import (
	"strings"
	"time"
)

// CooldownAllFamilies marks a cooldown that applies regardless of model family.
const CooldownAllFamilies Family = ""

// Account is one OAuth-authenticated identity usable against the upstream API.
// RefreshToken is the durable credential; access tokens live only in an
// AuthRecord and are never persisted.
type Account struct {
	Email            string
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
	AddedAt          time.Time
	LastUsed         time.Time
	RateLimited      bool
	CooldownUntil    map[Family]time.Time
}

func (a *Account) Validate() error {
	if strings.TrimSpace(a.RefreshToken) == "" {
		return ErrMissingRefreshToken
	}
	return nil
}

// CooldownRemaining reports how long the account stays excluded from selection
// for the given family. The all-families key and the family key both apply;
// the longer one wins.
func (a *Account) CooldownRemaining(family Family, now time.Time) time.Duration {
	var remaining time.Duration
	for _, key := range []Family{CooldownAllFamilies, family} {
		until, ok := a.CooldownUntil[key]
		if !ok {
			continue
		}
		if d := until.Sub(now); d > remaining {
			remaining = d
		}
	}
	return remaining
}

func (a *Account) CoolingDown(family Family, now time.Time) bool {
	return a.CooldownRemaining(family, now) > 0
}

// MarkRateLimited puts the account on cooldown until now+retryAfter.
func (a *Account) MarkRateLimited(family Family, retryAfter time.Duration, now time.Time) {
	if a.CooldownUntil == nil {
		a.CooldownUntil = map[Family]time.Time{}
	}
	a.RateLimited = true
	a.CooldownUntil[family] = now.Add(retryAfter)
}

// ClearRateLimits drops every cooldown, typically after a fresh authentication.
func (a *Account) ClearRateLimits() {
	a.RateLimited = false
	a.CooldownUntil = nil
}

// DropExpiredCooldowns removes cooldown entries that have already elapsed and
// lowers the RateLimited flag once none remain.
func (a *Account) DropExpiredCooldowns(now time.Time) {
	for key, until := range a.CooldownUntil {
		if !until.After(now) {
			delete(a.CooldownUntil, key)
		}
	}
	if len(a.CooldownUntil) == 0 {
		a.RateLimited = false
		a.CooldownUntil = nil
	}
}
