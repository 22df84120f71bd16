package federation

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// pkceCodes is a PKCE (Proof Key for Code Exchange) verifier/challenge pair
// as specified in RFC 7636. The challenge is sent with the authorization
// request, the verifier with the token exchange.
type pkceCodes struct {
	Verifier  string
	Challenge string
}

// generatePKCECodes creates a cryptographically random code verifier and its
// S256 code challenge.
func generatePKCECodes() (*pkceCodes, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	hash := sha256.Sum256([]byte(verifier))
	return &pkceCodes{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(hash[:]),
	}, nil
}

// generateState creates the OAuth state parameter used to bind the callback
// to this authorization request.
func generateState() (string, error) {
	state, err := randomToken(16)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return state, nil
}

// randomToken returns n random bytes as URL-safe base64 without padding.
func randomToken(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
