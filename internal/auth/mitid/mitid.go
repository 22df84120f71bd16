// Package mitid drives the MitID code-app authentication protocol: session
// initialization, identity claim, authenticator selection, the out-of-band
// approval poll and the SRP proof exchange that converts an approved app
// login into an authorization code.
//
// The client talks to two broker backends: the core client backend, which
// owns the authentication session, and the code-app backend, which owns the
// per-authenticator SRP endpoints. Any unexpected HTTP status or malformed
// JSON aborts the whole session; restarting the outer federation flow is the
// caller's retry policy.
package mitid

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/nickknissen/aula-sub000/internal/auth/autherr"
)

// DefaultBaseURL is the MitID frontend host serving both broker backends.
const DefaultBaseURL = "https://www.mitid.dk"

const (
	coreClientPath = "/mitid-core-client-backend"
	codeAppPath    = "/mitid-code-app-auth"
)

// State tracks the progress of one authentication session.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateIdentified
	StateAuthenticatorSelected
	StateAwaitingApproval
	StateProven
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateIdentified:
		return "identified"
	case StateAuthenticatorSelected:
		return "authenticator_selected"
	case StateAwaitingApproval:
		return "awaiting_approval"
	case StateProven:
		return "proven"
	case StateFinalized:
		return "finalized"
	}
	return "unknown"
}

// Authenticator names understood by this client. Several legacy combination
// ids all map to the logical APP authenticator.
const (
	AuthenticatorApp   = "APP"
	AuthenticatorToken = "TOKEN"
)

var combinationIDToName = map[string]string{
	"S4": AuthenticatorApp, // app + MitID chip
	"S3": AuthenticatorApp,
	"L2": AuthenticatorApp,
	"S1": AuthenticatorToken,
}

var nameToCombinationID = map[string]string{
	AuthenticatorApp:   "S3",
	AuthenticatorToken: "S1",
}

// Hooks are optional observer callbacks fired while waiting for the
// out-of-band app approval.
type Hooks struct {
	// OnQRCodes receives the two scannable channel-binding payloads as
	// compact JSON strings during QR-based approval.
	OnQRCodes func(first, second string)
	// OnOTPCode receives the one-time code the user must type into the
	// identity app during OTP-based approval.
	OnOTPCode func(code string)
}

// authenticatorSelection is the broker's descriptor for the currently
// selected authenticator.
type authenticatorSelection struct {
	Type           string
	SessionFlowKey string
	EafeHash       string
	SessionID      string
}

// Client drives one MitID authentication session. One instance serves one
// login attempt; selections are mutated when a different authenticator is
// chosen and the instance is discarded after finalization.
type Client struct {
	httpClient *http.Client
	baseURL    string

	clientHash    string
	authSessionID string
	hooks         Hooks
	pollDelay     time.Duration

	state State

	brokerSecurityContext string
	serviceProviderName   string
	referenceTextHeader   string
	referenceTextBody     string

	userID                string
	current               authenticatorSelection
	finalizationSessionID string

	attemptID string
}

// NewClient creates a broker session driver for one authentication session.
// clientHash is the hex checksum of the core client delivered in the
// initialization auxiliary payload; authenticationSessionID identifies the
// broker-side session. The HTTP client is caller-owned.
func NewClient(clientHash, authenticationSessionID string, httpClient *http.Client, hooks Hooks) *Client {
	return &Client{
		httpClient:    httpClient,
		baseURL:       DefaultBaseURL,
		clientHash:    clientHash,
		authSessionID: authenticationSessionID,
		hooks:         hooks,
		pollDelay:     500 * time.Millisecond,
		attemptID:     uuid.NewString()[:8],
	}
}

// State returns the current protocol state.
func (c *Client) State() State { return c.state }

// SetBaseURL points the client at a different broker frontend. Useful only
// before Initialize.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimSuffix(baseURL, "/")
}

// Initialize fetches the session metadata the flow-value proof is later
// bound to: broker security context, service provider name and the reference
// texts shown to the user.
func (c *Client) Initialize(ctx context.Context) error {
	status, body, err := c.doJSON(ctx, http.MethodGet, c.coreURL("/v1/authentication-sessions/"+c.authSessionID), nil, "fetch authentication session")
	if err != nil {
		return err
	}
	if !is2xx(status) {
		return autherr.Identity("failed to get authentication session: HTTP %d", status)
	}

	c.brokerSecurityContext = gjson.GetBytes(body, "brokerSecurityContext").String()
	c.serviceProviderName = gjson.GetBytes(body, "serviceProviderName").String()
	c.referenceTextHeader = gjson.GetBytes(body, "referenceTextHeader").String()
	c.referenceTextBody = gjson.GetBytes(body, "referenceTextBody").String()
	c.state = StateInitialized

	c.logf().Infof("beginning login session for %s", c.serviceProviderName)
	c.logf().Debug(c.referenceTextHeader)
	c.logf().Debug(c.referenceTextBody)
	return nil
}

// Identify submits the identity claim and requests the broker's first "next"
// authenticator. It returns the available authenticator names mapped to their
// display labels. A bad username and an expired session fail with distinct
// broker codes so callers can decide whether restarting the outer flow helps.
func (c *Client) Identify(ctx context.Context, userID string) (map[string]string, error) {
	if c.state < StateInitialized {
		return nil, autherr.Identity("identify called before session initialization")
	}
	c.userID = userID

	status, body, err := c.doJSON(ctx, http.MethodPut, c.coreURL("/v1/authentication-sessions/"+c.authSessionID),
		map[string]any{"identityClaim": userID}, "submit identity claim")
	if err != nil {
		return nil, err
	}
	if !is2xx(status) {
		code := gjson.GetBytes(body, "errorCode").String()
		switch {
		case status >= 400 && status < 500 && code == "control.identity_not_found":
			return nil, autherr.IdentityCode(code, "user %q does not exist", userID)
		case status >= 400 && status < 500 && code == "control.authentication_session_not_found":
			return nil, autherr.IdentityCode(code, "authentication session not found")
		default:
			return nil, autherr.Identity("failed to identify as user (%s): HTTP %d", userID, status)
		}
	}

	body, err = c.requestNext(ctx, "")
	if err != nil {
		return nil, err
	}
	c.state = StateIdentified

	available := map[string]string{}
	gjson.GetBytes(body, "combinations").ForEach(func(_, combo gjson.Result) bool {
		if name := combinationIDToName[combo.Get("id").String()]; name != "" {
			available[name] = combo.Get("combinationItems.0.name").String()
		}
		return true
	})
	return available, nil
}

// SelectAuthenticator requests a transition to the named authenticator. It
// is a no-op when that authenticator is already selected, and fails when the
// broker refuses the transition or answers with a different authenticator.
func (c *Client) SelectAuthenticator(ctx context.Context, name string) error {
	if c.state < StateIdentified {
		return autherr.Identity("authenticator selection requires an identified session")
	}
	if c.current.Type == name {
		c.state = StateAuthenticatorSelected
		return nil
	}

	combinationID, ok := nameToCombinationID[name]
	if !ok {
		return autherr.Identity("no such authenticator name (%s)", name)
	}
	if _, err := c.requestNext(ctx, combinationID); err != nil {
		return err
	}
	if c.current.Type != name {
		return autherr.Identity("could not select authenticator (%s), got (%s) instead", name, c.current.Type)
	}
	c.state = StateAuthenticatorSelected
	return nil
}

// Finalize exchanges the finalization session id for an authorization code.
// It fails unless a successful app authentication preceded it.
func (c *Client) Finalize(ctx context.Context) (string, error) {
	if c.state != StateProven || c.finalizationSessionID == "" {
		return "", autherr.Identity("no finalization session id set, complete an authentication flow first")
	}

	status, body, err := c.doJSON(ctx, http.MethodPut, c.coreURL("/v1/authentication-sessions/"+c.finalizationSessionID+"/finalization"), nil, "finalize authentication")
	if err != nil {
		return "", err
	}
	if !is2xx(status) {
		return "", autherr.Identity("failed to retrieve authorization code: HTTP %d", status)
	}
	c.state = StateFinalized
	return gjson.GetBytes(body, "authorizationCode").String(), nil
}

// requestNext posts to the core "next" endpoint and records the returned
// authenticator selection descriptor.
func (c *Client) requestNext(ctx context.Context, combinationID string) ([]byte, error) {
	status, body, err := c.doJSON(ctx, http.MethodPost, c.coreURL("/v2/authentication-sessions/"+c.authSessionID+"/next"),
		map[string]any{"combinationId": combinationID}, "request next authenticator")
	if err != nil {
		return nil, err
	}
	if !is2xx(status) {
		return nil, autherr.Identity("failed to get authenticators for user (%s): HTTP %d", c.userID, status)
	}

	firstError := gjson.GetBytes(body, "errors.0")
	if firstError.Exists() && firstError.Get("errorCode").String() == "control.authenticator_cannot_be_started" {
		return nil, autherr.IdentityCode("control.authenticator_cannot_be_started",
			"authenticator cannot be started: %s", firstError.Get("userMessage.text.text").String())
	}

	next := gjson.GetBytes(body, "nextAuthenticator")
	c.current = authenticatorSelection{
		Type:           next.Get("authenticatorType").String(),
		SessionFlowKey: next.Get("authenticatorSessionFlowKey").String(),
		EafeHash:       next.Get("eafeHash").String(),
		SessionID:      next.Get("authenticatorSessionId").String(),
	}
	return body, nil
}

// flowValueMessage concatenates the values the cryptographic proof is bound
// to, so a proof cannot be replayed against a different login context.
func (c *Client) flowValueMessage() []byte {
	contextHash := sha256.Sum256([]byte(c.brokerSecurityContext))
	parts := []string{
		c.current.SessionID,
		c.current.SessionFlowKey,
		c.clientHash,
		c.current.EafeHash,
		hex.EncodeToString(contextHash[:]),
		base64.StdEncoding.EncodeToString([]byte(c.referenceTextHeader)),
		base64.StdEncoding.EncodeToString([]byte(c.referenceTextBody)),
		base64.StdEncoding.EncodeToString([]byte(c.serviceProviderName)),
	}
	return []byte(strings.Join(parts, ","))
}

func (c *Client) coreURL(path string) string {
	return c.baseURL + coreClientPath + path
}

func (c *Client) codeAppURL(path string) string {
	return c.baseURL + codeAppPath + path
}

// doJSON performs one JSON request/response pair. Transport failures become
// NetworkErrors tagged with op; HTTP status handling is left to the caller.
func (c *Client) doJSON(ctx context.Context, method, url string, payload any, op string) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("create %s request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, autherr.Network(op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, autherr.Network(op, err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) logf() *log.Entry {
	return log.WithField("attempt_id", c.attemptID)
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}
