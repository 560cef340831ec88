// Package openid3 holds the error taxonomy shared by the OpenID3 account
// toolkit packages.
//
// Every builder, decoder and the attestation aggregator report failures as
// one of the typed errors below so callers can branch with errors.As instead
// of matching message strings:
//
//	var mismatch *openid3.PayloadMismatchError
//	if errors.As(err, &mismatch) {
//		// payload mismatch.Index did not match its proven commitment
//	}
package openid3

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// EncodingError reports malformed or oversized input to the canonical
// encoder or to one of the decoders built on it. It is always raised locally,
// before any network or verifier interaction.
type EncodingError struct {
	Field  string
	Reason string
	Err    error
}

func (e *EncodingError) Error() string {
	msg := "encoding error"
	if e.Field != "" {
		msg += " in " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EncodingError) Unwrap() error { return e.Err }

// NewEncodingError returns an EncodingError for field with a formatted reason.
func NewEncodingError(field, format string, args ...interface{}) *EncodingError {
	return &EncodingError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InvalidKeyError reports key material outside its valid domain, such as a
// zero private key or a public point that is not on the curve. A signing
// attempt that fails with it must not be retried with the same key.
type InvalidKeyError struct {
	Curve  string
	Reason string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid %s key: %s", e.Curve, e.Reason)
}

// PayloadMismatchError reports that the plaintext payload at Index does not
// hash to the payload commitment bound in the proven batch input.
type PayloadMismatchError struct {
	Index int
	Want  common.Hash
	Got   common.Hash
}

func (e *PayloadMismatchError) Error() string {
	if e.Want == (common.Hash{}) && e.Got == (common.Hash{}) {
		return fmt.Sprintf("payload %d does not match its statement", e.Index)
	}
	return fmt.Sprintf("payload %d hash mismatch: statement commits to %s, payload hashes to %s",
		e.Index, e.Want.Hex(), e.Got.Hex())
}

// ProofInvalidError reports that the external verifier rejected a proof or
// signature. It is surfaced unchanged and never retried automatically.
type ProofInvalidError struct {
	Err error
}

func (e *ProofInvalidError) Error() string {
	if e.Err == nil {
		return "proof rejected by verifier"
	}
	return "proof rejected by verifier: " + e.Err.Error()
}

func (e *ProofInvalidError) Unwrap() error { return e.Err }

// AuthorizationError is a pass-through verifier rejection: a signature
// recovered to a key that is not authorized for the target account or
// admin, or an attester key that is unknown or expired.
type AuthorizationError struct {
	Subject string
	Err     error
}

func (e *AuthorizationError) Error() string {
	msg := "not authorized"
	if e.Subject != "" {
		msg = e.Subject + " " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthorizationError) Unwrap() error { return e.Err }
