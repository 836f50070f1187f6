// Package auth holds the gateway's single authentication primitive: a
// constant-time bearer-token comparison, used to check the registration
// API's bearer token (GATEWAY_REGISTRATION_TOKEN). The discovery token
// (GATEWAY_REGISTRY_AUTH_TOKEN) is only sent upstream, never compared. There is no
// credential store or identity model here — per-caller identity is entirely
// a hook concern (see internal/domain/hook).
package auth

import "crypto/subtle"

// minTokenLength is the length below which a configured token is flagged as
// weak at startup; it is advisory only, never enforced.
const minTokenLength = 16

// ConstantTimeEquals reports whether presented equals expected, in time
// independent of where the two strings first differ. expected must be
// non-empty; an empty expected token never matches, closing the door on a
// misconfigured "require a bearer token" check silently becoming a no-op.
func ConstantTimeEquals(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// IsWeakToken reports whether token is shorter than the recommended minimum
// length for a bearer token, for a startup warning log line.
func IsWeakToken(token string) bool {
	return len(token) < minTokenLength
}
