// Package auth manages the credential lifecycle for the Aula platform. The
// Manager decides, per request, whether the persisted credentials are still
// usable, whether a silent refresh will do, or whether a full interactive
// login through the identity federation is needed.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/nickknissen/aula-sub000/internal/auth/autherr"
	"github.com/nickknissen/aula-sub000/internal/tokenstore"
	"github.com/nickknissen/aula-sub000/internal/watcher"
)

// watchDebounce collapses bursts of token-file events into one reload.
const watchDebounce = 500 * time.Millisecond

// Orchestrator runs one login attempt against the identity federation. A new
// instance is created per attempt; implementations are not reused.
type Orchestrator interface {
	// Authenticate runs the full interactive login and returns the raw
	// provider token object.
	Authenticate(ctx context.Context) (json.RawMessage, error)
	// RefreshAccessToken silently exchanges a refresh token for fresh
	// tokens.
	RefreshAccessToken(ctx context.Context, refreshToken string) (json.RawMessage, error)
	// Cookies snapshots the session cookies accumulated during the login.
	Cookies() map[string]string
	// Close releases resources held by the attempt.
	Close()
}

// OrchestratorFactory builds a fresh Orchestrator for one attempt.
type OrchestratorFactory func() (Orchestrator, error)

// Manager owns the credential decision tree. Safe for concurrent use;
// concurrent credential requests collapse into a single attempt.
type Manager struct {
	username        string
	store           tokenstore.Storage
	newOrchestrator OrchestratorFactory
	onLoginRequired func()

	group singleflight.Group
	now   func() time.Time
}

// NewManager creates a Manager for username backed by store. The factory is
// invoked whenever an attempt needs to talk to the federation.
func NewManager(username string, store tokenstore.Storage, factory OrchestratorFactory) *Manager {
	return &Manager{
		username:        username,
		store:           store,
		newOrchestrator: factory,
		now:             time.Now,
	}
}

// OnLoginRequired registers a callback fired right before a full interactive
// login starts, so a UI can tell the user to ready their identity app.
func (m *Manager) OnLoginRequired(fn func()) {
	m.onLoginRequired = fn
}

// Credentials returns a usable credential record: the cached one when still
// valid, a silently refreshed one when possible, and the result of a full
// interactive login otherwise. forceLogin skips the cache and refresh paths
// entirely. Concurrent callers with the same forceLogin share one attempt.
func (m *Manager) Credentials(ctx context.Context, forceLogin bool) (*tokenstore.Record, error) {
	key := "credentials"
	if forceLogin {
		key = "credentials-forced"
	}
	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.credentials(ctx, forceLogin)
	})
	if err != nil {
		return nil, err
	}
	return v.(*tokenstore.Record), nil
}

func (m *Manager) credentials(ctx context.Context, forceLogin bool) (*tokenstore.Record, error) {
	var cached *tokenstore.Record
	if !forceLogin {
		rec, err := m.store.Load(ctx)
		switch {
		case err == nil:
			cached = rec
		case errors.As(err, new(*autherr.StorageError)):
			// A broken cache file is a cache miss, not a failure.
			log.Warnf("ignoring unreadable token cache: %v", err)
		default:
			return nil, err
		}

		if m.usable(cached) {
			log.Debug("using cached credentials")
			return cached, nil
		}
	}

	if !forceLogin && cached.RefreshToken() != "" {
		rec, err := m.refresh(ctx, cached)
		if err == nil {
			return rec, nil
		}
		if !errors.As(err, new(*autherr.IdentityError)) && !errors.As(err, new(*autherr.FederationError)) {
			return nil, err
		}
		log.Warnf("token refresh failed, falling back to full login: %v", err)
	}

	return m.login(ctx)
}

// usable reports whether rec carries an unexpired access token. A token
// object without an expiry counts as non-expiring; expiry is compared
// against the wall clock with no grace skew.
func (m *Manager) usable(rec *tokenstore.Record) bool {
	if rec == nil || rec.AccessToken() == "" {
		return false
	}
	expiresAt, ok := rec.ExpiresAt()
	if !ok {
		return true
	}
	return float64(m.now().Unix()) < expiresAt
}

func (m *Manager) refresh(ctx context.Context, cached *tokenstore.Record) (*tokenstore.Record, error) {
	orch, err := m.newOrchestrator()
	if err != nil {
		return nil, err
	}
	defer orch.Close()

	tokens, err := orch.RefreshAccessToken(ctx, cached.RefreshToken())
	if err != nil {
		return nil, err
	}
	// The refresh grant issues no new session cookies; the cached ones
	// stay valid alongside the new tokens.
	rec := tokenstore.NewRecord(m.username, tokens, cached.Cookies, m.now())
	m.persist(ctx, rec)
	return rec, nil
}

func (m *Manager) login(ctx context.Context) (*tokenstore.Record, error) {
	if m.onLoginRequired != nil {
		m.onLoginRequired()
	}

	orch, err := m.newOrchestrator()
	if err != nil {
		return nil, err
	}
	defer orch.Close()

	tokens, err := orch.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	rec := tokenstore.NewRecord(m.username, tokens, orch.Cookies(), m.now())
	m.persist(ctx, rec)
	return rec, nil
}

// persist saves best-effort. Freshly won credentials are not discarded over
// a disk error; the next run simply logs in again.
func (m *Manager) persist(ctx context.Context, rec *tokenstore.Record) {
	if err := m.store.Save(ctx, rec); err != nil {
		log.Warnf("could not persist credentials: %v", err)
	}
}

// Watch blocks, invoking onChange with the re-loaded record whenever the
// backing token file changes on disk. Requires a file-backed store.
func (m *Manager) Watch(ctx context.Context, onChange func(*tokenstore.Record)) error {
	fileStore, ok := m.store.(*tokenstore.FileStore)
	if !ok {
		return errors.New("credential watching requires a file-backed token store")
	}
	w := watcher.New(fileStore.Path(), watchDebounce, func() {
		rec, err := m.store.Load(ctx)
		if err != nil {
			log.Warnf("could not reload changed token file: %v", err)
			return
		}
		onChange(rec)
	})
	return w.Run(ctx)
}
