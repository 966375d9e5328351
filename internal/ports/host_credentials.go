package ports

import "context"

// HostCredentials exposes the host application's currently active stored
// credential. ActiveRefreshToken returns "" when the host has none. Clear
// removes it so the host re-prompts authentication on its next start.
type HostCredentials interface {
	ActiveRefreshToken(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}
