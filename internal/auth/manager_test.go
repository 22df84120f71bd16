package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nickknissen/aula-sub000/internal/auth/autherr"
	"github.com/nickknissen/aula-sub000/internal/tokenstore"
)

type fakeOrchestrator struct {
	authCalls    *int
	refreshCalls *int

	authTokens    json.RawMessage
	authErr       error
	refreshTokens json.RawMessage
	refreshErr    error
	cookies       map[string]string
}

func (f *fakeOrchestrator) Authenticate(ctx context.Context) (json.RawMessage, error) {
	*f.authCalls++
	return f.authTokens, f.authErr
}

func (f *fakeOrchestrator) RefreshAccessToken(ctx context.Context, refreshToken string) (json.RawMessage, error) {
	*f.refreshCalls++
	return f.refreshTokens, f.refreshErr
}

func (f *fakeOrchestrator) Cookies() map[string]string { return f.cookies }

func (f *fakeOrchestrator) Close() {}

type managerFixture struct {
	manager      *Manager
	store        *tokenstore.FileStore
	authCalls    int
	refreshCalls int
}

func newManagerFixture(t *testing.T, orch *fakeOrchestrator) *managerFixture {
	t.Helper()
	fix := &managerFixture{
		store: tokenstore.NewFileStore(filepath.Join(t.TempDir(), "tokens.json")),
	}
	orch.authCalls = &fix.authCalls
	orch.refreshCalls = &fix.refreshCalls
	fix.manager = NewManager("testuser", fix.store, func() (Orchestrator, error) {
		return orch, nil
	})
	return fix
}

func (fix *managerFixture) seed(t *testing.T, tokens string, cookies map[string]string) {
	t.Helper()
	rec := tokenstore.NewRecord("testuser", json.RawMessage(tokens), cookies, time.Now())
	if err := fix.store.Save(context.Background(), rec); err != nil {
		t.Fatalf("seed Save() error = %v", err)
	}
}

func futureTokens(refresh string) string {
	expiresAt := float64(time.Now().Add(time.Hour).Unix())
	return fmt.Sprintf(`{"access_token":"cached-at","refresh_token":"%s","expires_at":%f}`, refresh, expiresAt)
}

func expiredTokens(refresh string) string {
	expiresAt := float64(time.Now().Add(-time.Hour).Unix())
	return fmt.Sprintf(`{"access_token":"stale-at","refresh_token":"%s","expires_at":%f}`, refresh, expiresAt)
}

func writeRawTokenFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o600)
}

func TestCredentialsUsesValidCacheWithoutNetwork(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{}
	fix := newManagerFixture(t, orch)
	fix.seed(t, futureTokens("cached-rt"), map[string]string{"session": "s1"})

	rec, err := fix.manager.Credentials(context.Background(), false)
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if rec.AccessToken() != "cached-at" {
		t.Errorf("access token = %q, want the cached one", rec.AccessToken())
	}
	if fix.authCalls != 0 || fix.refreshCalls != 0 {
		t.Errorf("network calls = %d logins, %d refreshes, want none", fix.authCalls, fix.refreshCalls)
	}
}

func TestCredentialsTreatsMissingExpiryAsNonExpiring(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{}
	fix := newManagerFixture(t, orch)
	fix.seed(t, `{"access_token":"cached-at"}`, nil)

	rec, err := fix.manager.Credentials(context.Background(), false)
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if rec.AccessToken() != "cached-at" {
		t.Errorf("access token = %q, want the cached one", rec.AccessToken())
	}
	if fix.authCalls != 0 || fix.refreshCalls != 0 {
		t.Errorf("network calls = %d logins, %d refreshes, want none", fix.authCalls, fix.refreshCalls)
	}
}

func TestCredentialsRefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{
		refreshTokens: json.RawMessage(`{"access_token":"fresh-at","refresh_token":"fresh-rt","expires_at":99999999999}`),
	}
	fix := newManagerFixture(t, orch)
	fix.seed(t, expiredTokens("cached-rt"), map[string]string{"session": "s1"})

	rec, err := fix.manager.Credentials(context.Background(), false)
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if rec.AccessToken() != "fresh-at" {
		t.Errorf("access token = %q, want the refreshed one", rec.AccessToken())
	}
	if fix.refreshCalls != 1 || fix.authCalls != 0 {
		t.Errorf("network calls = %d refreshes, %d logins, want 1 refresh only", fix.refreshCalls, fix.authCalls)
	}
	if rec.Cookies["session"] != "s1" {
		t.Error("refresh dropped the cached session cookies")
	}

	// The refreshed record must be persisted.
	reloaded, err := fix.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() after refresh error = %v", err)
	}
	if reloaded.AccessToken() != "fresh-at" {
		t.Errorf("persisted access token = %q, want the refreshed one", reloaded.AccessToken())
	}
}

func TestCredentialsFallsBackToLoginWhenRefreshRejected(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{
		refreshErr: autherr.Federation("token-refresh", "token refresh failed: HTTP 400"),
		authTokens: json.RawMessage(`{"access_token":"login-at","expires_at":99999999999}`),
		cookies:    map[string]string{"Csrfp-Token": "csrf-1"},
	}
	fix := newManagerFixture(t, orch)
	fix.seed(t, expiredTokens("revoked-rt"), nil)

	var notified bool
	fix.manager.OnLoginRequired(func() { notified = true })

	rec, err := fix.manager.Credentials(context.Background(), false)
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if rec.AccessToken() != "login-at" {
		t.Errorf("access token = %q, want the freshly logged-in one", rec.AccessToken())
	}
	if fix.refreshCalls != 1 || fix.authCalls != 1 {
		t.Errorf("network calls = %d refreshes, %d logins, want 1 and 1", fix.refreshCalls, fix.authCalls)
	}
	if rec.Cookies["Csrfp-Token"] != "csrf-1" {
		t.Error("login cookies were not captured into the record")
	}
	if !notified {
		t.Error("OnLoginRequired hook did not fire before the full login")
	}
}

func TestCredentialsPropagatesNetworkErrorsFromRefresh(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{
		refreshErr: autherr.Network("token refresh", errors.New("connection reset")),
	}
	fix := newManagerFixture(t, orch)
	fix.seed(t, expiredTokens("cached-rt"), nil)

	_, err := fix.manager.Credentials(context.Background(), false)
	var netErr *autherr.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Credentials() error = %v, want NetworkError", err)
	}
	if fix.authCalls != 0 {
		t.Errorf("logins = %d, want 0 (network failures must not trigger a login)", fix.authCalls)
	}
}

func TestCredentialsForceLoginSkipsCacheAndRefresh(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{
		authTokens: json.RawMessage(`{"access_token":"login-at","expires_at":99999999999}`),
	}
	fix := newManagerFixture(t, orch)
	fix.seed(t, futureTokens("cached-rt"), nil)

	rec, err := fix.manager.Credentials(context.Background(), true)
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if rec.AccessToken() != "login-at" {
		t.Errorf("access token = %q, want the freshly logged-in one", rec.AccessToken())
	}
	if fix.authCalls != 1 || fix.refreshCalls != 0 {
		t.Errorf("network calls = %d logins, %d refreshes, want exactly 1 login", fix.authCalls, fix.refreshCalls)
	}
}

func TestCredentialsTreatsMalformedCacheAsMiss(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{
		authTokens: json.RawMessage(`{"access_token":"login-at","expires_at":99999999999}`),
	}
	fix := newManagerFixture(t, orch)
	if err := writeRawTokenFile(fix.store.Path(), "{ this is not json"); err != nil {
		t.Fatalf("writeRawTokenFile() error = %v", err)
	}

	rec, err := fix.manager.Credentials(context.Background(), false)
	if err != nil {
		t.Fatalf("Credentials() error = %v, want malformed cache to be non-fatal", err)
	}
	if rec.AccessToken() != "login-at" {
		t.Errorf("access token = %q, want a fresh login", rec.AccessToken())
	}
	if fix.authCalls != 1 {
		t.Errorf("logins = %d, want 1", fix.authCalls)
	}
}

func TestWatchReloadsExternallyRefreshedTokens(t *testing.T) {
	t.Parallel()

	orch := &fakeOrchestrator{}
	fix := newManagerFixture(t, orch)
	fix.seed(t, futureTokens("rt-1"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records := make(chan *tokenstore.Record, 1)
	done := make(chan error, 1)
	go func() {
		done <- fix.manager.Watch(ctx, func(rec *tokenstore.Record) {
			select {
			case records <- rec:
			default:
			}
		})
	}()

	// Give the watcher time to register before replacing the file.
	time.Sleep(100 * time.Millisecond)
	external := tokenstore.NewRecord("testuser", json.RawMessage(`{"access_token":"external-at"}`), nil, time.Now())
	if err := fix.store.Save(context.Background(), external); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	select {
	case rec := <-records:
		if rec.AccessToken() != "external-at" {
			t.Errorf("reloaded access token = %q, want the externally written one", rec.AccessToken())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch callback not invoked after external write")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Watch() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop after cancellation")
	}
}

func TestWatchRequiresFileBackedStore(t *testing.T) {
	t.Parallel()

	m := NewManager("testuser", memoryStore{}, func() (Orchestrator, error) {
		return &fakeOrchestrator{}, nil
	})
	if err := m.Watch(context.Background(), func(*tokenstore.Record) {}); err == nil {
		t.Fatal("Watch() with a non-file store should fail")
	}
}

type memoryStore struct{}

func (memoryStore) Load(context.Context) (*tokenstore.Record, error) {
	return nil, &autherr.StorageError{Path: "memory", Err: errors.New("empty")}
}

func (memoryStore) Save(context.Context, *tokenstore.Record) error { return nil }
