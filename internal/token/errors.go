package token

import "errors"

// Validation failures. Every one of them maps to 401 at the gateway.
var (
	ErrMalformedCredential = errors.New("malformed credential")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrExpired             = errors.New("credential expired")
	ErrIssuerMismatch      = errors.New("issuer mismatch")
	ErrAudienceMismatch    = errors.New("audience mismatch")
)

// Code returns a stable machine-readable name for a validation error, or ""
// if err is not one of them.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrMalformedCredential):
		return "malformed_credential"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrIssuerMismatch):
		return "issuer_mismatch"
	case errors.Is(err, ErrAudienceMismatch):
		return "audience_mismatch"
	default:
		return ""
	}
}
