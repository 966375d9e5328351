package status

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/antigravity-pool/internal/domain"
)

type RenderOptions struct {
	Now time.Time
}

// Render produces the one-shot pool status view. cursor marks the account
// the next request will be offered to.
func Render(accounts []domain.Account, cursor int, opts RenderOptions) string {
	s := newStyles()
	lines := []string{
		s.title.Render("Antigravity Account Pool"),
		s.header.Render(fmt.Sprintf("accounts: %d", len(accounts))),
	}

	if len(accounts) == 0 {
		lines = append(lines, s.empty.Render("No accounts in pool. Run `agp login` to add one."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for i := range accounts {
		lines = append(lines, s.section.Render(renderAccount(&accounts[i], i == cursor, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderAccount(account *domain.Account, isNext bool, opts RenderOptions, s styles) string {
	title := account.Email
	if title == "" {
		title = "(unknown email)"
	}
	titleStyle := s.account
	if isNext {
		title += "  [next]"
		titleStyle = s.active
	}

	parts := []string{
		titleStyle.Render(title),
		s.detail.Render("project: " + projectLabel(account)),
		s.detail.Render("last used: " + relativeLabel(account.LastUsed, opts.Now)),
	}

	if line := cooldownLine(account, opts.Now, s); line != "" {
		parts = append(parts, line)
	} else {
		parts = append(parts, s.ready.Render("ready"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func projectLabel(account *domain.Account) string {
	switch {
	case account.ProjectID != "":
		return account.ProjectID
	case account.ManagedProjectID != "":
		return account.ManagedProjectID + " (managed)"
	default:
		return "n/a"
	}
}

func relativeLabel(at, now time.Time) string {
	if at.IsZero() {
		return "never"
	}
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}
	elapsed := now.Sub(at)
	if elapsed < time.Minute {
		return "just now"
	}
	return fmt.Sprintf("%s ago", elapsed.Round(time.Minute))
}

func cooldownLine(account *domain.Account, now time.Time, s styles) string {
	if now.IsZero() {
		now = time.Now()
	}

	families := make([]string, 0, len(account.CooldownUntil))
	for family := range account.CooldownUntil {
		families = append(families, string(family))
	}
	sort.Strings(families)

	entries := make([]string, 0, len(families))
	for _, family := range families {
		remaining := account.CooldownRemaining(domain.Family(family), now)
		if remaining <= 0 {
			continue
		}
		label := family
		if label == "" {
			label = "all"
		}
		entries = append(entries, fmt.Sprintf("%s %s", label, remaining.Round(time.Second)))
	}

	if len(entries) == 0 {
		if account.RateLimited {
			return s.warning.Render("rate limited")
		}
		return ""
	}

	return s.cooldown.Render("cooling down: " + strings.Join(entries, ", "))
}
