package mitid

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nickknissen/aula-sub000/internal/auth/autherr"
	"github.com/nickknissen/aula-sub000/internal/auth/srp"
)

// qrPayload is one of the two scannable halves of the channel binding value.
// Field order matters: the app expects v,p,t,h,uc.
type qrPayload struct {
	V  int    `json:"v"`
	P  int    `json:"p"`
	T  int    `json:"t"`
	H  string `json:"h"`
	UC int64  `json:"uc"`
}

// AuthenticateWithApp runs the app-based authenticator: it opens an
// authenticator session, polls the approval channel until the user confirms
// the login in the identity app, then proves possession of the app-issued
// signature through the three SRP round trips. The poll loop has no hard
// attempt cap; cancelling ctx is the caller's abort mechanism.
func (c *Client) AuthenticateWithApp(ctx context.Context) error {
	if err := c.SelectAuthenticator(ctx, AuthenticatorApp); err != nil {
		return err
	}

	status, body, err := c.doJSON(ctx, http.MethodPost,
		c.codeAppURL("/v1/authenticator-sessions/web/"+c.current.SessionID+"/init-auth"),
		map[string]any{}, "request app login")
	if err != nil {
		return err
	}
	if !is2xx(status) {
		return autherr.Identity("failed to request app login: HTTP %d", status)
	}
	if gjson.GetBytes(body, "errorCode").String() == "auth.codeapp.authentication.parallel_sessions_detected" {
		return autherr.IdentityCode("auth.codeapp.authentication.parallel_sessions_detected",
			"parallel app sessions detected, wait a few minutes before trying again")
	}

	pollURL := gjson.GetBytes(body, "pollUrl").String()
	ticket := gjson.GetBytes(body, "ticket").String()
	c.state = StateAwaitingApproval
	c.logf().Info("login request has been made, open your MitID app now")

	approval, err := c.pollForApproval(ctx, pollURL, ticket)
	if err != nil {
		return err
	}

	return c.proveAppResponse(ctx, approval)
}

// appApproval is the confirmed poll payload: the app response used to derive
// the SRP password and the server signature sealed back after verification.
type appApproval struct {
	response          string
	responseSignature string
}

// pollForApproval repeatedly polls the approval channel, surfacing OTP codes
// and QR payloads through the hooks, until the user confirms or the channel
// reports a terminal condition.
func (c *Client) pollForApproval(ctx context.Context, pollURL, ticket string) (*appApproval, error) {
	var lastOTP, lastBinding string

	for {
		status, body, err := c.doJSON(ctx, http.MethodPost, pollURL, map[string]any{"ticket": ticket}, "poll app approval")
		if err != nil {
			return nil, err
		}
		if !is2xx(status) {
			return nil, autherr.Identity("login request was not accepted")
		}

		switch pollStatus := gjson.GetBytes(body, "status").String(); pollStatus {
		case "OK":
			if !gjson.GetBytes(body, "confirmation").Bool() {
				return nil, autherr.Identity("login request was not accepted")
			}
			return &appApproval{
				response:          gjson.GetBytes(body, "payload.response").String(),
				responseSignature: gjson.GetBytes(body, "payload.responseSignature").String(),
			}, nil

		case "timeout":
			// Transient long-poll expiry, not a failure.
			if err = c.pollSleep(ctx, c.pollDelay); err != nil {
				return nil, err
			}

		case "channel_validation_otp":
			if code := gjson.GetBytes(body, "channelBindingValue").String(); code != lastOTP {
				lastOTP = code
				c.logf().Infof("enter the following one-time code in the app: %s", code)
				if c.hooks.OnOTPCode != nil {
					c.hooks.OnOTPCode(code)
				}
			}
			if err = c.pollSleep(ctx, c.pollDelay); err != nil {
				return nil, err
			}

		case "channel_validation_tqr":
			binding := gjson.GetBytes(body, "channelBindingValue").String()
			if binding != lastBinding {
				lastBinding = binding
				if err = c.emitQRCodes(binding, gjson.GetBytes(body, "updateCount").Int()); err != nil {
					return nil, err
				}
			}
			if err = c.pollSleep(ctx, 2*c.pollDelay); err != nil {
				return nil, err
			}

		case "channel_verified":
			c.logf().Info("channel verified, waiting for the user to approve the login")
			if err = c.pollSleep(ctx, c.pollDelay); err != nil {
				return nil, err
			}

		default:
			return nil, autherr.Identity("login request was not accepted (status %q)", pollStatus)
		}
	}
}

// emitQRCodes splits the channel binding value in half and hands both
// scannable payloads to the hook.
func (c *Client) emitQRCodes(binding string, updateCount int64) error {
	half := len(binding) / 2
	first, err := json.Marshal(qrPayload{V: 1, P: 1, T: 2, H: binding[:half], UC: updateCount})
	if err != nil {
		return autherr.Identity("encode qr payload: %v", err)
	}
	second, err := json.Marshal(qrPayload{V: 1, P: 2, T: 2, H: binding[half:], UC: updateCount})
	if err != nil {
		return autherr.Identity("encode qr payload: %v", err)
	}
	c.logf().Info("scan the QR codes with the MitID app")
	if c.hooks.OnQRCodes != nil {
		c.hooks.OnQRCodes(string(first), string(second))
	}
	return nil
}

// proveAppResponse runs the three SRP round trips (init, prove, verify)
// against the authenticator session, binding the flow-value proof into the
// submission, and finally advances the core session past the authenticator.
func (c *Client) proveAppResponse(ctx context.Context, approval *appApproval) error {
	started := time.Now()
	exchange := srp.NewExchange()
	publicA, err := exchange.Stage1()
	if err != nil {
		return autherr.Identity("srp stage 1 failed: %v", err)
	}

	status, body, err := c.doJSON(ctx, http.MethodPost,
		c.codeAppURL("/v1/authenticator-sessions/web/"+c.current.SessionID+"/init"),
		map[string]any{"randomA": map[string]any{"value": publicA}}, "init app protocol")
	if err != nil {
		return err
	}
	if !is2xx(status) {
		return autherr.Identity("failed to init app protocol: HTTP %d", status)
	}
	srpSalt := gjson.GetBytes(body, "srpSalt.value").String()
	randomB := gjson.GetBytes(body, "randomB.value").String()

	responseBytes, err := decodeBase64(approval.response)
	if err != nil {
		return autherr.Identity("malformed app response payload: %v", err)
	}
	passwordSum := sha256.Sum256(append(responseBytes, []byte(c.current.SessionFlowKey)...))
	password := hex.EncodeToString(passwordSum[:])

	m1, err := exchange.Stage3(srpSalt, randomB, password, c.current.SessionID)
	if err != nil {
		return autherr.Identity("srp stage 3 failed: %v", err)
	}
	flowValueProof := exchange.FlowValueProof(c.flowValueMessage())

	status, body, err = c.doJSON(ctx, http.MethodPost,
		c.codeAppURL("/v1/authenticator-sessions/web/"+c.current.SessionID+"/prove"),
		map[string]any{
			"m1":             map[string]any{"value": m1},
			"flowValueProof": map[string]any{"value": flowValueProof},
		}, "submit app response proof")
	if err != nil {
		return err
	}
	if !is2xx(status) {
		return autherr.Identity("failed to submit app response proof: HTTP %d", status)
	}

	if !exchange.Stage5(gjson.GetBytes(body, "m2.value").String()) {
		return autherr.Identity("server proof could not be validated during proving of app response")
	}

	signature, err := decodeBase64(approval.responseSignature)
	if err != nil {
		return autherr.Identity("malformed app response signature: %v", err)
	}
	sealed, err := exchange.Seal(signature)
	if err != nil {
		return autherr.Identity("seal app response signature: %v", err)
	}

	status, _, err = c.doJSON(ctx, http.MethodPost,
		c.codeAppURL("/v1/authenticator-sessions/web/"+c.current.SessionID+"/verify"),
		map[string]any{
			"encAuth":                base64.StdEncoding.EncodeToString(sealed),
			"frontEndProcessingTime": time.Since(started).Milliseconds(),
		}, "verify app response signature")
	if err != nil {
		return err
	}
	if !is2xx(status) {
		return autherr.Identity("failed to verify app response signature: HTTP %d", status)
	}

	body, err = c.requestNextAfterProof(ctx)
	if err != nil {
		return err
	}
	c.finalizationSessionID = gjson.GetBytes(body, "nextSessionId").String()
	c.state = StateProven
	c.logf().Info("app login was accepted, finalizing authentication")
	return nil
}

// requestNextAfterProof advances the core session once the authenticator has
// accepted the proof. Any reported error means the proof was not accepted.
func (c *Client) requestNextAfterProof(ctx context.Context) ([]byte, error) {
	status, body, err := c.doJSON(ctx, http.MethodPost, c.coreURL("/v2/authentication-sessions/"+c.authSessionID+"/next"),
		map[string]any{"combinationId": ""}, "prove app login")
	if err != nil {
		return nil, err
	}
	if !is2xx(status) {
		return nil, autherr.Identity("failed to prove app login: HTTP %d", status)
	}
	if errs := gjson.GetBytes(body, "errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return nil, autherr.Identity("could not prove the app login, please try again")
	}
	return body, nil
}

// pollSleep waits for the fixed poll delay or the caller's cancellation,
// whichever comes first.
func (c *Client) pollSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return autherr.Network("poll app approval", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// decodeBase64 decodes standard base64, tolerating embedded whitespace the
// broker occasionally wraps long values with.
func decodeBase64(value string) ([]byte, error) {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, value)
	return base64.StdEncoding.DecodeString(compact)
}
