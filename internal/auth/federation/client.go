// Package federation orchestrates the complete login handshake for the Aula
// school platform: the OAuth2 authorization request with PKCE, the SAML hop
// through the national identity broker, the MitID app authentication in the
// middle, and the final authorization-code exchange for tokens.
//
// The flow is strictly sequential and single-use: one Client serves one
// login attempt. Redirects are never followed automatically; every hop of
// the chain is inspected so the orchestrator knows which leg of the
// federation it is on.
package federation

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/nickknissen/aula-sub000/internal/auth/autherr"
	"github.com/nickknissen/aula-sub000/internal/auth/mitid"
	"github.com/nickknissen/aula-sub000/internal/htmlform"
	"github.com/nickknissen/aula-sub000/internal/tokenstore"
)

const (
	oauthClientID      = "aula-app"
	oauthScope         = "openid profile"
	oauthAuthorizePath = "/auth/authorize"
	oauthTokenPath     = "/auth/token"

	samlACSPath        = "/simplesaml/module.php/saml/sp/saml2-acs.php/uni-sp"
	brokerEndpointPath = "/auth/realms/broker/broker/nemlogin3/endpoint"

	// The identity provider rejects obviously non-browser user agents.
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:109.0) Gecko/20100101 Firefox/112.0"

	maxFederationRedirects = 15
	maxCallbackRedirects   = 10

	defaultTimeout = 30 * time.Second
)

// Endpoints are the base URLs of the parties in the federation.
type Endpoints struct {
	// AuthBase hosts the OAuth endpoints and the service provider's SAML
	// assertion consumer.
	AuthBase string
	// BrokerBase hosts the identity broker that bridges SAML to MitID.
	BrokerBase string
	// MitIDBase hosts the national IdP's login pages.
	MitIDBase string
	// MitIDCoreBase hosts the MitID core client and code-app backends.
	MitIDCoreBase string
	// RedirectURI is the registered OAuth callback.
	RedirectURI string
}

// DefaultEndpoints returns the production federation endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthBase:      "https://login.aula.dk",
		BrokerBase:    "https://broker.unilogin.dk",
		MitIDBase:     "https://nemlog-in.mitid.dk",
		MitIDCoreBase: mitid.DefaultBaseURL,
		RedirectURI:   "https://www.aula.dk/auth/callback",
	}
}

// Options configure a federation Client.
type Options struct {
	// Username is the identity claimed at the MitID broker.
	Username string
	// HTTPClient optionally injects a caller-owned client, which then must
	// not follow redirects and should carry a cookie jar. When nil the
	// Client builds and owns a browser-like client.
	HTTPClient *http.Client
	// Hooks observe the out-of-band app approval.
	Hooks mitid.Hooks
	// ProxyURL routes the owned client through a proxy.
	ProxyURL string
	// Timeout bounds each request of the owned client.
	Timeout time.Duration
	// Endpoints overrides the production federation endpoints.
	Endpoints *Endpoints
}

// Client drives one complete login attempt. Not safe for concurrent use;
// run one attempt at a time and discard the Client afterwards.
type Client struct {
	httpClient *http.Client
	ownsClient bool

	username  string
	hooks     mitid.Hooks
	endpoints Endpoints

	verifier string
	state    string

	broker *mitid.Client

	attemptID string
}

// NewClient creates a federation client for one login attempt.
func NewClient(opts Options) (*Client, error) {
	if opts.Username == "" {
		return nil, autherr.Identity("a MitID username is required")
	}

	endpoints := DefaultEndpoints()
	if opts.Endpoints != nil {
		endpoints = *opts.Endpoints
	}

	c := &Client{
		httpClient: opts.HTTPClient,
		username:   opts.Username,
		hooks:      opts.Hooks,
		endpoints:  endpoints,
		attemptID:  uuid.NewString()[:8],
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.httpClient = newBrowserHTTPClient(opts.ProxyURL, timeout)
		c.ownsClient = true
	}
	return c, nil
}

// Authenticate runs the whole login flow and returns the raw provider token
// object with an absolute expires_at stamped in. It blocks until the user
// approves the login in the identity app, the flow fails, or ctx is
// cancelled.
func (c *Client) Authenticate(ctx context.Context) (json.RawMessage, error) {
	c.logf().Info("step 1/7: starting OAuth authorization flow")
	startURL, err := c.startAuthorization(ctx)
	if err != nil {
		return nil, err
	}

	c.logf().Info("step 2/7: following redirect chain to MitID")
	page, err := c.followToMitID(ctx, startURL)
	if err != nil {
		return nil, err
	}

	c.logf().Info("step 3/7: authenticating with the MitID app")
	authCode, err := c.runMitIDAuthentication(ctx, page.verificationToken)
	if err != nil {
		return nil, err
	}

	c.logf().Info("step 4/7: completing MitID flow")
	handoff, err := c.completeMitID(ctx, page.verificationToken, authCode)
	if err != nil {
		return nil, err
	}

	c.logf().Info("step 5/7: processing SAML broker flow")
	service, err := c.brokerFlow(ctx, handoff)
	if err != nil {
		return nil, err
	}

	c.logf().Info("step 6/7: completing service provider login")
	callbackURL, err := c.completeServiceLogin(ctx, service)
	if err != nil {
		return nil, err
	}

	c.logf().Info("step 7/7: exchanging authorization code for tokens")
	return c.exchangeCode(ctx, callbackURL)
}

// RefreshAccessToken exchanges a refresh token for a fresh token object,
// with expires_at stamped in. A rejected refresh token surfaces as a
// FederationError so the caller can fall back to a full login.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (json.RawMessage, error) {
	c.logf().Info("refreshing access token")

	resp, body, err := c.postForm(ctx, c.endpoints.AuthBase+oauthTokenPath, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {oauthClientID},
		"refresh_token": {refreshToken},
	}, "token refresh")
	if err != nil {
		return nil, err
	}
	if !is2xx(resp.StatusCode) {
		return nil, autherr.Federation("token-refresh", "token refresh failed: HTTP %d", resp.StatusCode)
	}
	if !gjson.Valid(body) {
		return nil, autherr.Federation("token-refresh", "invalid token refresh response format")
	}
	return tokenstore.StampExpiry(json.RawMessage(body), time.Now()), nil
}

// Cookies snapshots the session cookies accumulated during the flow, keyed
// by name. The service provider session rides on these after login.
func (c *Client) Cookies() map[string]string {
	cookies := map[string]string{}
	if c.httpClient.Jar == nil {
		return cookies
	}
	bases := []string{
		c.endpoints.RedirectURI,
		c.endpoints.AuthBase,
		c.endpoints.BrokerBase,
		c.endpoints.MitIDBase,
	}
	for _, base := range bases {
		u, err := url.Parse(base)
		if err != nil {
			continue
		}
		for _, cookie := range c.httpClient.Jar.Cookies(u) {
			cookies[cookie.Name] = cookie.Value
		}
	}
	return cookies
}

// Close releases the HTTP client when the Client owns it. An injected client
// stays with its caller.
func (c *Client) Close() {
	if c.ownsClient {
		c.httpClient.CloseIdleConnections()
	}
}

// startAuthorization issues the OAuth authorization request and returns the
// first URL of the federation redirect chain.
func (c *Client) startAuthorization(ctx context.Context) (string, error) {
	pkce, err := generatePKCECodes()
	if err != nil {
		return "", autherr.FederationWrap("authorize", err, "could not prepare PKCE parameters")
	}
	state, err := generateState()
	if err != nil {
		return "", autherr.FederationWrap("authorize", err, "could not prepare state parameter")
	}
	c.verifier = pkce.Verifier
	c.state = state

	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {oauthClientID},
		"scope":                 {oauthScope},
		"redirect_uri":          {c.endpoints.RedirectURI},
		"state":                 {state},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {"S256"},
	}
	authorizeURL := c.endpoints.AuthBase + oauthAuthorizePath + "?" + params.Encode()

	resp, body, err := c.get(ctx, authorizeURL, "OAuth authorization")
	if err != nil {
		return "", err
	}
	switch {
	case isRedirect(resp.StatusCode):
		location := resp.Header.Get("Location")
		if location == "" {
			return "", autherr.Federation("authorize", "redirect response missing Location header")
		}
		return resolveURL(authorizeURL, location), nil
	case is2xx(resp.StatusCode):
		// Some deployments render an auto-submitting SAML form instead
		// of redirecting.
		form, err := htmlform.FirstForm(body)
		if err != nil {
			return "", autherr.FederationWrap("authorize", err, "authorization returned 200 but no redirect found")
		}
		return resolveURL(authorizeURL, form.Action), nil
	default:
		return "", autherr.Federation("authorize", "unexpected authorization response: HTTP %d", resp.StatusCode)
	}
}

// mitidPage is the IdP login page at the end of the federation redirect
// chain.
type mitidPage struct {
	verificationToken string
	url               string
}

// followToMitID chases the redirect chain from the authorization endpoint
// until it lands on the MitID login page, submitting the broker's IdP
// selection form along the way.
func (c *Client) followToMitID(ctx context.Context, startURL string) (*mitidPage, error) {
	current := startURL
	for hop := 1; hop <= maxFederationRedirects; hop++ {
		resp, body, err := c.get(ctx, current, "federation redirect chain")
		if err != nil {
			return nil, err
		}
		c.logf().Debugf("redirect %d: HTTP %d at %s", hop, resp.StatusCode, current)

		switch {
		case isRedirect(resp.StatusCode):
			location := resp.Header.Get("Location")
			if location == "" {
				return nil, autherr.Federation("redirect-chain", "redirect response missing Location header")
			}
			current = resolveURL(current, location)

		case is2xx(resp.StatusCode) && strings.HasPrefix(current, c.endpoints.BrokerBase):
			// The broker asks which IdP to continue with.
			next, err := c.selectBrokerIdP(ctx, current, body)
			if err != nil {
				return nil, err
			}
			current = next

		case is2xx(resp.StatusCode) && strings.HasPrefix(current, c.endpoints.MitIDBase):
			token, err := htmlform.InputValue(body, "__RequestVerificationToken")
			if err != nil {
				return nil, autherr.FederationWrap("redirect-chain", err, "could not find request verification token on MitID page")
			}
			return &mitidPage{verificationToken: token, url: current}, nil

		case is2xx(resp.StatusCode):
			return nil, autherr.Federation("redirect-chain", "unexpected page reached: %s", current)

		default:
			return nil, autherr.Federation("redirect-chain", "unexpected status code: HTTP %d", resp.StatusCode)
		}
	}
	return nil, autherr.Federation("redirect-chain", "too many redirects (%d)", maxFederationRedirects)
}

// selectBrokerIdP submits the broker's IdP selection form, choosing the
// MitID path, and returns the next URL of the chain.
func (c *Client) selectBrokerIdP(ctx context.Context, pageURL, body string) (string, error) {
	form, err := htmlform.FirstForm(body)
	if err != nil {
		return "", autherr.FederationWrap("broker-select", err, "broker page had no usable IdP selection form")
	}
	form.Fields["selectedIdp"] = "nemlogin3"

	resp, _, err := c.postForm(ctx, resolveURL(pageURL, form.Action), valuesFrom(form.Fields), "broker IdP selection")
	if err != nil {
		return "", err
	}
	location := resp.Header.Get("Location")
	if !isRedirect(resp.StatusCode) || location == "" {
		return "", autherr.Federation("broker-select", "IdP selection did not redirect (HTTP %d)", resp.StatusCode)
	}
	return resolveURL(pageURL, location), nil
}

// runMitIDAuthentication initializes the embedded MitID core client and runs
// the app authentication against it, returning the MitID authorization code.
func (c *Client) runMitIDAuthentication(ctx context.Context, verificationToken string) (string, error) {
	resp, body, err := c.do(ctx, http.MethodPost, c.endpoints.MitIDBase+"/login/mitid/initialize",
		url.Values{"__RequestVerificationToken": {verificationToken}},
		map[string]string{
			"Accept":           "*/*",
			"Origin":           c.endpoints.MitIDBase,
			"Referer":          c.endpoints.MitIDBase + "/login/mitid",
			"X-Requested-With": "XMLHttpRequest",
		}, "MitID initialization")
	if err != nil {
		return "", err
	}
	if !is2xx(resp.StatusCode) {
		return "", autherr.Federation("mitid-initialize", "initialization failed: HTTP %d", resp.StatusCode)
	}

	// The endpoint sometimes double-encodes: a JSON string containing the
	// JSON document.
	doc := gjson.Parse(body)
	if doc.Type == gjson.String {
		doc = gjson.Parse(doc.String())
	}
	auxRaw := doc.Get("Aux").String()
	if auxRaw == "" {
		return "", autherr.Federation("mitid-initialize", "no Aux value in initialization response")
	}
	auxBytes, err := base64.StdEncoding.DecodeString(auxRaw)
	if err != nil {
		return "", autherr.FederationWrap("mitid-initialize", err, "Aux value is not valid base64")
	}
	aux := gjson.ParseBytes(auxBytes)

	checksum, err := base64.StdEncoding.DecodeString(aux.Get("coreClient.checksum").String())
	if err != nil {
		return "", autherr.FederationWrap("mitid-initialize", err, "core client checksum is not valid base64")
	}
	sessionID := aux.Get("parameters.authenticationSessionId").String()
	if sessionID == "" {
		return "", autherr.Federation("mitid-initialize", "no authentication session id in Aux payload")
	}

	broker := mitid.NewClient(hex.EncodeToString(checksum), sessionID, c.httpClient, c.hooks)
	broker.SetBaseURL(c.endpoints.MitIDCoreBase)
	c.broker = broker

	if err = broker.Initialize(ctx); err != nil {
		return "", err
	}
	available, err := broker.Identify(ctx, c.username)
	if err != nil {
		return "", err
	}
	if _, ok := available[mitid.AuthenticatorApp]; !ok {
		return "", autherr.Identity("app authentication is not available for this user")
	}
	if err = broker.AuthenticateWithApp(ctx); err != nil {
		return "", err
	}
	return broker.Finalize(ctx)
}

// samlHandoff is the SAML assertion the IdP hands to the broker.
type samlHandoff struct {
	relayState   string
	samlResponse string
}

// completeMitID posts the MitID authorization code back to the IdP login
// page and scrapes the SAML assertion destined for the broker.
func (c *Client) completeMitID(ctx context.Context, verificationToken, authCode string) (*samlHandoff, error) {
	form := url.Values{
		"__RequestVerificationToken":      {verificationToken},
		"NewCulture":                      {""},
		"MitIDUseConfirmed":               {"True"},
		"MitIDAuthCode":                   {authCode},
		"MitIDAuthenticationCancelled":    {""},
		"MitIDCoreClientError":            {""},
		"SessionStorageActiveSessionUuid": {c.cookieValue(c.endpoints.MitIDBase, "SessionUuid")},
		"SessionStorageActiveChallenge":   {c.cookieValue(c.endpoints.MitIDBase, "Challenge")},
	}

	_, body, err := c.postForm(ctx, c.endpoints.MitIDBase+"/login/mitid", form, "MitID completion")
	if err != nil {
		return nil, err
	}

	samlResponse, err := htmlform.InputValue(body, "SAMLResponse")
	if err != nil {
		return nil, autherr.FederationWrap("mitid-complete", err, "could not find SAML data in MitID completion response")
	}
	relayState, err := htmlform.InputValue(body, "RelayState")
	if err != nil {
		return nil, autherr.FederationWrap("mitid-complete", err, "could not find SAML data in MitID completion response")
	}
	return &samlHandoff{relayState: relayState, samlResponse: samlResponse}, nil
}

// serviceHandoff is the final SAML assertion destined for the service
// provider's assertion consumer.
type serviceHandoff struct {
	samlResponse string
	relayState   string
	action       string
}

// brokerFlow plays the IdP's assertion through the broker and extracts the
// service-provider-bound assertion from the broker's response pages.
func (c *Client) brokerFlow(ctx context.Context, handoff *samlHandoff) (*serviceHandoff, error) {
	endpoint := c.endpoints.BrokerBase + brokerEndpointPath
	resp, _, err := c.postForm(ctx, endpoint, url.Values{
		"RelayState":   {handoff.relayState},
		"SAMLResponse": {handoff.samlResponse},
	}, "SAML broker endpoint")
	if err != nil {
		return nil, err
	}
	location := resp.Header.Get("Location")
	if !isRedirect(resp.StatusCode) || location == "" {
		return nil, autherr.Federation("broker", "no redirect from broker endpoint (HTTP %d)", resp.StatusCode)
	}

	loginURL := resolveURL(endpoint, location)
	_, body, err := c.get(ctx, loginURL, "broker login page")
	if err != nil {
		return nil, err
	}
	form, err := htmlform.FirstForm(body)
	if err != nil {
		return nil, autherr.FederationWrap("broker", err, "broker login page had no form")
	}

	resp, _, err = c.postForm(ctx, resolveURL(loginURL, form.Action), valuesFrom(form.Fields), "broker login")
	if err != nil {
		return nil, err
	}
	location = resp.Header.Get("Location")
	if !isRedirect(resp.StatusCode) || location == "" {
		return nil, autherr.Federation("broker", "no redirect from post-broker login (HTTP %d)", resp.StatusCode)
	}

	afterURL := resolveURL(loginURL, location)
	_, body, err = c.get(ctx, afterURL, "broker assertion page")
	if err != nil {
		return nil, err
	}
	samlForm, err := htmlform.FirstForm(body)
	if err != nil {
		return nil, autherr.FederationWrap("broker", err, "no SAML form found in broker response")
	}
	samlResponse := samlForm.Fields["SAMLResponse"]
	if samlResponse == "" {
		return nil, autherr.Federation("broker", "could not find SAMLResponse in broker response")
	}
	return &serviceHandoff{
		samlResponse: samlResponse,
		relayState:   samlForm.Fields["RelayState"],
		action:       resolveURL(afterURL, samlForm.Action),
	}, nil
}

// completeServiceLogin delivers the final SAML assertion to the service
// provider and chases the callback redirects down to the OAuth callback URL.
func (c *Client) completeServiceLogin(ctx context.Context, handoff *serviceHandoff) (string, error) {
	action := handoff.action
	if action == "" {
		action = c.endpoints.AuthBase + samlACSPath
	}

	resp, _, err := c.postForm(ctx, action, url.Values{
		"SAMLResponse": {handoff.samlResponse},
		"RelayState":   {handoff.relayState},
	}, "service provider SAML login")
	if err != nil {
		return "", err
	}
	location := resp.Header.Get("Location")
	if !isRedirect(resp.StatusCode) || location == "" {
		return "", autherr.Federation("service-login", "no redirect from SAML assertion endpoint (HTTP %d)", resp.StatusCode)
	}
	return c.followCallback(ctx, resolveURL(action, location))
}

// followCallback chases redirects until one lands on the registered OAuth
// callback carrying an authorization code.
func (c *Client) followCallback(ctx context.Context, startURL string) (string, error) {
	current := startURL
	for hop := 0; hop < maxCallbackRedirects; hop++ {
		if c.isCallback(current) {
			return current, nil
		}

		resp, _, err := c.get(ctx, current, "OAuth callback chain")
		if err != nil {
			return "", err
		}
		switch {
		case isRedirect(resp.StatusCode):
			location := resp.Header.Get("Location")
			if location == "" {
				return "", autherr.Federation("callback", "redirect response missing Location header")
			}
			current = resolveURL(current, location)
		case is2xx(resp.StatusCode):
			return "", autherr.Federation("callback", "did not receive OAuth callback URL, last page was %s", current)
		default:
			return "", autherr.Federation("callback", "unexpected status: HTTP %d", resp.StatusCode)
		}
	}
	return "", autherr.Federation("callback", "too many redirects without finding OAuth callback")
}

func (c *Client) isCallback(rawURL string) bool {
	return strings.HasPrefix(rawURL, c.endpoints.RedirectURI) && strings.Contains(rawURL, "code=")
}

// exchangeCode trades the authorization code for tokens. The state parameter
// is validated before anything is sent to the token endpoint.
func (c *Client) exchangeCode(ctx context.Context, callbackURL string) (json.RawMessage, error) {
	parsed, err := url.Parse(callbackURL)
	if err != nil {
		return nil, autherr.FederationWrap("token-exchange", err, "unparsable callback URL")
	}
	query := parsed.Query()

	code := query.Get("code")
	if code == "" {
		return nil, autherr.Federation("token-exchange", "no authorization code in callback URL")
	}
	if returned := query.Get("state"); returned != "" && returned != c.state {
		return nil, autherr.Federation("token-exchange", "state parameter mismatch")
	}

	resp, body, err := c.postForm(ctx, c.endpoints.AuthBase+oauthTokenPath, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {oauthClientID},
		"redirect_uri":  {c.endpoints.RedirectURI},
		"code_verifier": {c.verifier},
	}, "token exchange")
	if err != nil {
		return nil, err
	}
	if !is2xx(resp.StatusCode) {
		return nil, autherr.Federation("token-exchange", "token exchange failed: HTTP %d", resp.StatusCode)
	}
	if !gjson.Valid(body) {
		return nil, autherr.Federation("token-exchange", "invalid token response format")
	}

	tokens := tokenstore.StampExpiry(json.RawMessage(body), time.Now())
	if expiresIn := gjson.GetBytes(tokens, "expires_in").Int(); expiresIn > 0 {
		c.logf().Infof("authentication complete, token lifetime: %dh %dm", expiresIn/3600, expiresIn%3600/60)
	}
	return tokens, nil
}

// cookieValue reads a named cookie for base from the jar, or "".
func (c *Client) cookieValue(base, name string) string {
	if c.httpClient.Jar == nil {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	for _, cookie := range c.httpClient.Jar.Cookies(u) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) get(ctx context.Context, rawURL, op string) (*http.Response, string, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, nil, op)
}

func (c *Client) postForm(ctx context.Context, rawURL string, form url.Values, op string) (*http.Response, string, error) {
	return c.do(ctx, http.MethodPost, rawURL, form, nil, op)
}

// do performs one request, draining the body. Transport failures become
// NetworkErrors tagged with op; status handling stays with the caller.
func (c *Client) do(ctx context.Context, method, rawURL string, form url.Values, header map[string]string, op string) (*http.Response, string, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, "", autherr.FederationWrap(op, err, "could not build request")
	}
	req.Header.Set("User-Agent", userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", autherr.Network(op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", autherr.Network(op, err)
	}
	return resp, string(body), nil
}

func (c *Client) logf() *log.Entry {
	return log.WithField("attempt_id", c.attemptID)
}

// resolveURL resolves ref against base the way a browser would.
func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func valuesFrom(fields map[string]string) url.Values {
	values := url.Values{}
	for name, value := range fields {
		values.Set(name, value)
	}
	return values
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}

func isRedirect(status int) bool {
	return status >= 300 && status < 400
}
