package domain

import "time"

// AuthRecord is the ephemeral product of a token refresh. It is derived from
// an Account and discarded with the process.
type AuthRecord struct {
	Access  string
	Refresh string
	Expiry  time.Time
}

// Expired reports whether the access token is missing or within safetyMargin
// of its expiry.
func (r AuthRecord) Expired(now time.Time, safetyMargin time.Duration) bool {
	if r.Access == "" {
		return true
	}
	return !now.Before(r.Expiry.Add(-safetyMargin))
}
