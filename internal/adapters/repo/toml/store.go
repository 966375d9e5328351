// Package toml persists the account pool as a versioned TOML file with
// atomic replace-on-write semantics.
package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/bnema/antigravity-pool/internal/domain"
	"github.com/bnema/antigravity-pool/internal/ports"
)

const (
	configName       = "config"
	configType       = "toml"
	accountsPathKey  = "accounts.path"
	accountsFileMode = 0o600
	accountsDirMode  = 0o700
	configDir        = ".antigravity"
	accountsFile     = "accounts.toml"
	tempFilePattern  = ".accounts-*.toml.tmp"
)

type Store struct {
	accountsPath string
	clock        ports.Clock
	mu           *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.AccountStore = (*Store)(nil)

func NewStore(cfg *viper.Viper, clock ports.Clock) (*Store, error) {
	if cfg == nil {
		cfg = viper.New()
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	defaultPath := filepath.Join(homeDir, configDir, accountsFile)

	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	cfg.AddConfigPath(filepath.Join(homeDir, configDir))
	cfg.SetDefault(accountsPathKey, defaultPath)

	if err := cfg.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	accountsPath := cfg.GetString(accountsPathKey)
	if accountsPath == "" {
		return nil, errors.New("accounts path is empty")
	}
	accountsPath, err = normalizeAccountsPath(accountsPath)
	if err != nil {
		return nil, err
	}

	return &Store{accountsPath: accountsPath, clock: clock, mu: lockForPath(accountsPath)}, nil
}

// NewStoreAtPath is the test-friendly constructor.
func NewStoreAtPath(path string, clock ports.Clock) (*Store, error) {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	path, err := normalizeAccountsPath(path)
	if err != nil {
		return nil, err
	}
	return &Store{accountsPath: path, clock: clock, mu: lockForPath(path)}, nil
}

func (s *Store) Load(ctx context.Context) (*domain.AccountPool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.accountsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode accounts file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return nil, err
	}
	file.applyDefaults()
	file.upgrade(s.clock.Now())

	pool := &domain.AccountPool{Cursor: file.Cursor}
	for _, entry := range file.Accounts {
		account := fromSchema(entry)
		pool.Accounts = append(pool.Accounts, &account)
	}
	pool.ClampCursor()
	return pool, nil
}

func (s *Store) Save(ctx context.Context, pool *domain.AccountPool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file := fileSchema{Version: currentSchemaVersion, Cursor: pool.Cursor}
	for _, account := range pool.Accounts {
		file.Accounts = append(file.Accounts, toSchema(account))
	}

	return s.writeSchema(file)
}

func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.accountsPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove accounts file: %w", err)
	}
	return nil
}

func (s *Store) writeSchema(file fileSchema) error {
	if err := os.MkdirAll(filepath.Dir(s.accountsPath), accountsDirMode); err != nil {
		return fmt.Errorf("create accounts directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode accounts file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.accountsPath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp accounts file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp accounts file: %w", err)
	}

	if err := tempFile.Chmod(accountsFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp accounts file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp accounts file: %w", err)
	}

	if err := os.Rename(tempName, s.accountsPath); err != nil {
		return fmt.Errorf("replace accounts file: %w", err)
	}

	cleanup = false

	if err := os.Chmod(s.accountsPath, accountsFileMode); err != nil {
		return fmt.Errorf("chmod accounts file: %w", err)
	}

	return nil
}

func toSchema(account *domain.Account) accountSchema {
	entry := accountSchema{
		Email:            account.Email,
		RefreshToken:     account.RefreshToken,
		ProjectID:        account.ProjectID,
		ManagedProjectID: account.ManagedProjectID,
		AddedAt:          formatTime(account.AddedAt),
		LastUsed:         formatTime(account.LastUsed),
		RateLimited:      account.RateLimited,
	}
	for family, until := range account.CooldownUntil {
		if entry.CooldownUntil == nil {
			entry.CooldownUntil = map[string]string{}
		}
		entry.CooldownUntil[string(family)] = formatTime(until)
	}
	return entry
}

func fromSchema(entry accountSchema) domain.Account {
	account := domain.Account{
		Email:            entry.Email,
		RefreshToken:     entry.RefreshToken,
		ProjectID:        entry.ProjectID,
		ManagedProjectID: entry.ManagedProjectID,
		AddedAt:          parseTime(entry.AddedAt),
		LastUsed:         parseTime(entry.LastUsed),
		RateLimited:      entry.RateLimited,
	}
	for family, raw := range entry.CooldownUntil {
		if account.CooldownUntil == nil {
			account.CooldownUntil = map[domain.Family]time.Time{}
		}
		account.CooldownUntil[domain.Family(family)] = parseTime(raw)
	}
	return account
}

func normalizeAccountsPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve accounts path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.Format(time.RFC3339)
}
