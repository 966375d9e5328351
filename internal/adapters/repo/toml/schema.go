package toml

import (
	"fmt"
	"time"

	"github.com/bnema/antigravity-pool/internal/domain"
)

// Schema v1 keyed cooldowns by full model name; v2 keys them by model family.
// Loading a v1 file transparently remaps the keys and drops entries that have
// already elapsed.
const currentSchemaVersion = 2

type fileSchema struct {
	Version  int             `toml:"version"`
	Cursor   int             `toml:"cursor"`
	Accounts []accountSchema `toml:"accounts"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported accounts schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type accountSchema struct {
	Email            string            `toml:"email,omitempty"`
	RefreshToken     string            `toml:"refresh_token"`
	ProjectID        string            `toml:"project_id,omitempty"`
	ManagedProjectID string            `toml:"managed_project_id,omitempty"`
	AddedAt          string            `toml:"added_at"`
	LastUsed         string            `toml:"last_used"`
	RateLimited      bool              `toml:"rate_limited,omitempty"`
	CooldownUntil    map[string]string `toml:"cooldown_until,omitempty"`
}

// upgrade brings an older file to the current schema in memory. The caller
// persists it back on the next save.
func (s *fileSchema) upgrade(now time.Time) {
	if s.Version >= currentSchemaVersion {
		return
	}
	for i := range s.Accounts {
		s.Accounts[i].CooldownUntil = remapCooldownKeys(s.Accounts[i].CooldownUntil, now)
		if len(s.Accounts[i].CooldownUntil) == 0 {
			s.Accounts[i].RateLimited = false
		}
	}
	s.Version = currentSchemaVersion
}

func remapCooldownKeys(cooldowns map[string]string, now time.Time) map[string]string {
	if len(cooldowns) == 0 {
		return nil
	}
	remapped := make(map[string]string, len(cooldowns))
	for key, raw := range cooldowns {
		until := parseTime(raw)
		if until.IsZero() || !until.After(now) {
			continue
		}
		family := string(domain.FamilyForModel(key))
		if key == "" {
			family = string(domain.CooldownAllFamilies)
		}
		if existing, ok := remapped[family]; ok && parseTime(existing).After(until) {
			continue
		}
		remapped[family] = formatTime(until)
	}
	if len(remapped) == 0 {
		return nil
	}
	return remapped
}
