package domain

// AccountPool is the ordered account sequence plus the round-robin rotation
// cursor. The cursor is always within [0, len-1] while the pool is non-empty.
type AccountPool struct {
	Accounts []*Account
	Cursor   int
}

func (p *AccountPool) Len() int { return len(p.Accounts) }

// ClampCursor re-establishes the cursor invariant after structural mutation.
func (p *AccountPool) ClampCursor() {
	if len(p.Accounts) == 0 {
		p.Cursor = 0
		return
	}
	if p.Cursor < 0 || p.Cursor >= len(p.Accounts) {
		p.Cursor = 0
	}
}

// Remove drops the account by identity and re-clamps the cursor. It reports
// whether the account was present.
func (p *AccountPool) Remove(account *Account) bool {
	for i, candidate := range p.Accounts {
		if candidate == account {
			p.Accounts = append(p.Accounts[:i], p.Accounts[i+1:]...)
			if p.Cursor > i {
				p.Cursor--
			}
			p.ClampCursor()
			return true
		}
	}
	return false
}

// IndexOfRefreshToken finds an account by its refresh token, -1 when absent.
func (p *AccountPool) IndexOfRefreshToken(token string) int {
	for i, account := range p.Accounts {
		if account.RefreshToken == token {
			return i
		}
	}
	return -1
}

// IndexOfEmail finds an account by email, -1 when absent or email unknown.
func (p *AccountPool) IndexOfEmail(email string) int {
	if email == "" {
		return -1
	}
	for i, account := range p.Accounts {
		if account.Email == email {
			return i
		}
	}
	return -1
}

// DeduplicateByEmail keeps, per known email, the record with the greatest
// LastUsed (tie-break AddedAt). Records without an email are always kept.
func (p *AccountPool) DeduplicateByEmail() {
	keep := make([]*Account, 0, len(p.Accounts))
	best := make(map[string]*Account, len(p.Accounts))
	for _, account := range p.Accounts {
		if account.Email == "" {
			keep = append(keep, account)
			continue
		}
		current, ok := best[account.Email]
		if !ok || newerAccount(account, current) {
			best[account.Email] = account
		}
	}
	for _, account := range p.Accounts {
		if account.Email == "" {
			continue
		}
		if best[account.Email] == account {
			keep = append(keep, account)
		}
	}
	p.Accounts = keep
	p.ClampCursor()
}

func newerAccount(a, b *Account) bool {
	if !a.LastUsed.Equal(b.LastUsed) {
		return a.LastUsed.After(b.LastUsed)
	}
	return a.AddedAt.After(b.AddedAt)
}
