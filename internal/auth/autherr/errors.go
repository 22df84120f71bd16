// Package autherr defines the error taxonomy shared by the authentication
// stack. Callers distinguish the four kinds with errors.As to decide on
// remediation: retry the network, correct the identity claim, report an
// upstream contract change, or treat the token cache as absent.
package autherr

import "fmt"

// NetworkError wraps a transport-level failure. These are potentially
// transient; retrying the whole flow may succeed.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Network wraps err as a NetworkError for the named operation.
func Network(op string, err error) error {
	return &NetworkError{Op: op, Err: err}
}

// IdentityError reports a broker-side rejection of the identity claim, an
// unavailable authenticator, or a failed proof. These are user-actionable:
// a wrong username and a denied app approval both land here, with distinct
// codes.
type IdentityError struct {
	// Code carries the broker error code when one was supplied
	// (e.g. "control.identity_not_found").
	Code    string
	Message string
}

func (e *IdentityError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity error (%s): %s", e.Code, e.Message)
	}
	return "identity error: " + e.Message
}

// Identity builds an IdentityError without a broker code.
func Identity(format string, args ...any) error {
	return &IdentityError{Message: fmt.Sprintf(format, args...)}
}

// IdentityCode builds an IdentityError carrying the broker error code.
func IdentityCode(code, format string, args ...any) error {
	return &IdentityError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FederationError reports an OAuth or SAML protocol violation: a missing form
// field, a state mismatch, an unexpected redirect target. These indicate an
// upstream contract change rather than a transient fault.
type FederationError struct {
	// Step names the federation step that failed (e.g. "token-exchange").
	Step    string
	Message string
	Err     error
}

func (e *FederationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("federation error at %s: %s: %v", e.Step, e.Message, e.Err)
	}
	return fmt.Sprintf("federation error at %s: %s", e.Step, e.Message)
}

func (e *FederationError) Unwrap() error { return e.Err }

// Federation builds a FederationError for the named step.
func Federation(step, format string, args ...any) error {
	return &FederationError{Step: step, Message: fmt.Sprintf(format, args...)}
}

// FederationWrap builds a FederationError wrapping an underlying cause.
func FederationWrap(step string, err error, format string, args ...any) error {
	return &FederationError{Step: step, Message: fmt.Sprintf(format, args...), Err: err}
}

// StorageError reports an unreadable or malformed persisted token document.
// The lifecycle manager treats it as a cache miss, never as fatal.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("token storage error (%s): %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
