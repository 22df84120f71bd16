// Package tokenstore persists the credential document produced by a login:
// the provider token object (kept opaque apart from the few fields the
// lifecycle manager reads), the session cookie map and some metadata.
package tokenstore

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Record is the persisted credential document. Tokens is the raw provider
// token object; fields this library does not understand are carried through
// unmodified.
type Record struct {
	Timestamp float64           `json:"timestamp"`
	CreatedAt string            `json:"created_at"`
	Username  string            `json:"username"`
	Tokens    json.RawMessage   `json:"tokens"`
	Cookies   map[string]string `json:"cookies"`
}

// NewRecord stamps a credential document for persistence.
func NewRecord(username string, tokens json.RawMessage, cookies map[string]string, now time.Time) *Record {
	return &Record{
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
		CreatedAt: now.Format("2006-01-02 15:04:05"),
		Username:  username,
		Tokens:    tokens,
		Cookies:   cookies,
	}
}

// AccessToken returns the access token, or "" when absent.
func (r *Record) AccessToken() string {
	if r == nil {
		return ""
	}
	return gjson.GetBytes(r.Tokens, "access_token").String()
}

// RefreshToken returns the refresh token, or "" when absent.
func (r *Record) RefreshToken() string {
	if r == nil {
		return ""
	}
	return gjson.GetBytes(r.Tokens, "refresh_token").String()
}

// ExpiresAt returns the absolute expiry in epoch seconds. The second return
// is false when the token object carries no expiry, which callers must treat
// as non-expiring.
func (r *Record) ExpiresAt() (float64, bool) {
	if r == nil {
		return 0, false
	}
	v := gjson.GetBytes(r.Tokens, "expires_at")
	if !v.Exists() {
		return 0, false
	}
	return v.Float(), true
}

// StampExpiry injects an absolute expires_at into a raw token object based on
// its relative expires_in, leaving every other provider field untouched.
// Token objects without expires_in pass through unchanged.
func StampExpiry(tokens json.RawMessage, now time.Time) json.RawMessage {
	expiresIn := gjson.GetBytes(tokens, "expires_in")
	if !expiresIn.Exists() {
		return tokens
	}
	expiresAt := float64(now.UnixNano())/float64(time.Second) + expiresIn.Float()
	stamped, err := sjson.SetBytes(tokens, "expires_at", expiresAt)
	if err != nil {
		return tokens
	}
	return stamped
}
