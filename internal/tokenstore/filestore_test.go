package tokenstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	store := NewFileStore(path)
	ctx := context.Background()

	record := NewRecord("user-1",
		json.RawMessage(`{"access_token":"tok","refresh_token":"ref","expires_at":123.5,"id_token":"opaque"}`),
		map[string]string{"Csrfp-Token": "csrf-1"},
		time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC))

	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("file permissions = %o, want 600", perm)
		}
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded == nil {
		t.Fatal("Load() returned nil record")
	}
	if loaded.AccessToken() != "tok" || loaded.RefreshToken() != "ref" {
		t.Errorf("tokens = %q/%q, want tok/ref", loaded.AccessToken(), loaded.RefreshToken())
	}
	if expires, ok := loaded.ExpiresAt(); !ok || expires != 123.5 {
		t.Errorf("ExpiresAt() = %v, %v, want 123.5, true", expires, ok)
	}
	if loaded.Username != "user-1" || loaded.Cookies["Csrfp-Token"] != "csrf-1" {
		t.Errorf("metadata mismatch: %+v", loaded)
	}
	// Provider-specific fields pass through untouched.
	var raw map[string]any
	if err = json.Unmarshal(loaded.Tokens, &raw); err != nil {
		t.Fatalf("Unmarshal tokens: %v", err)
	}
	if raw["id_token"] != "opaque" {
		t.Errorf("id_token = %v, want opaque passthrough", raw["id_token"])
	}
}

func TestFileStoreLoadMissingAndMalformed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	missing := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	record, err := missing.Load(ctx)
	if record != nil || err != nil {
		t.Fatalf("Load() missing file = %v, %v, want nil, nil", record, err)
	}

	tests := []struct {
		name    string
		content string
	}{
		{"not json", "not-json{"},
		{"missing tokens key", `{"cookies":{}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "tokens.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			record, err := NewFileStore(path).Load(ctx)
			if record != nil {
				t.Errorf("Load() = %+v, want nil record", record)
			}
			if err == nil {
				t.Error("Load() malformed file returned nil error")
			}
		})
	}
}

func TestStampExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	stamped := StampExpiry(json.RawMessage(`{"access_token":"x","expires_in":3600,"scope":"openid"}`), now)
	record := &Record{Tokens: stamped}
	expires, ok := record.ExpiresAt()
	if !ok {
		t.Fatal("ExpiresAt() absent after StampExpiry")
	}
	want := float64(now.Unix()) + 3600
	if expires != want {
		t.Errorf("expires_at = %v, want %v", expires, want)
	}

	// Token objects without expires_in pass through unchanged.
	raw := json.RawMessage(`{"access_token":"x"}`)
	if got := StampExpiry(raw, now); string(got) != string(raw) {
		t.Errorf("StampExpiry() without expires_in = %s, want unchanged", got)
	}
}
