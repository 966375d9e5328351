package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/bnema/antigravity-pool/internal/adapters/antigravity"
	oauthadapter "github.com/bnema/antigravity-pool/internal/adapters/oauth"
	tomlrepo "github.com/bnema/antigravity-pool/internal/adapters/repo/toml"
	filesecrets "github.com/bnema/antigravity-pool/internal/adapters/secrets/file"
	"github.com/bnema/antigravity-pool/internal/application"
	"github.com/bnema/antigravity-pool/internal/ports"
	"github.com/bnema/antigravity-pool/internal/signature"
)

const callbackListenAddr = "127.0.0.1:8085"

type app struct {
	pool       *application.PoolManager
	dispatcher *application.Dispatcher
	tokens     *oauthadapter.Service
	secrets    *filesecrets.Store
	logger     *logrus.Logger
	now        func() time.Time

	loadOnce sync.Once
	loadErr  error
}

func wireApp() (*app, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	store, err := tomlrepo.NewStore(viper.New(), ports.SystemClock{})
	if err != nil {
		return nil, fmt.Errorf("wire account store: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	secrets := filesecrets.NewStore(filepath.Join(homeDir, ".antigravity"))

	transport := ports.HTTPTransport{Client: http.DefaultClient}
	tokens := oauthadapter.NewService(transport, ports.SystemClock{})
	pool := application.NewPoolManager(store, ports.SystemClock{}, logger)
	cache := signature.NewCache()

	dispatcher := application.NewDispatcher(pool, tokens, transport, secrets, cache, logger)
	dispatcher.Projects = antigravity.NewProjectService(transport, application.DefaultEndpoints, logger)

	return &app{
		pool:       pool,
		dispatcher: dispatcher,
		tokens:     tokens,
		secrets:    secrets,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (a *app) setVerbose(verbose bool) {
	if verbose {
		a.logger.SetLevel(logrus.DebugLevel)
	}
}

// loadPool reads the persisted pool once per process, cross-checking it
// against the host's active credential.
func (a *app) loadPool(ctx context.Context) error {
	a.loadOnce.Do(func() {
		active, err := a.secrets.ActiveRefreshToken(ctx)
		if err != nil {
			a.loadErr = fmt.Errorf("read active credential: %w", err)
			return
		}
		if err := a.pool.Load(ctx, active); err != nil {
			a.loadErr = fmt.Errorf("load account pool: %w", err)
		}
	})
	return a.loadErr
}
