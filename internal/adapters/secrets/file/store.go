// Package file stores the host application's active credential as a single
// JSON blob on disk. The dispatcher clears it when the last account is
// revoked so the host re-prompts authentication.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/antigravity-pool/internal/ports"
)

const (
	storeDirMode   = 0o700
	secretFileMode = 0o600
	credentialFile = "credential.json"
)

type Store struct {
	root string
	mu   sync.RWMutex
}

var _ ports.HostCredentials = (*Store)(nil)

func NewStore(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

type credentialSchema struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Store) ActiveRefreshToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read host credential: %w", err)
	}

	var cred credentialSchema
	if err := json.Unmarshal(data, &cred); err != nil {
		return "", fmt.Errorf("decode host credential: %w", err)
	}
	return cred.RefreshToken, nil
}

// SetActiveRefreshToken records the credential the host is currently using.
func (s *Store) SetActiveRefreshToken(ctx context.Context, refreshToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.root, storeDirMode); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}

	data, err := json.Marshal(credentialSchema{RefreshToken: refreshToken})
	if err != nil {
		return fmt.Errorf("encode host credential: %w", err)
	}

	if err := os.WriteFile(s.path(), data, secretFileMode); err != nil {
		return fmt.Errorf("write host credential: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete host credential: %w", err)
	}
	return nil
}

func (s *Store) path() string {
	return filepath.Join(s.root, credentialFile)
}
