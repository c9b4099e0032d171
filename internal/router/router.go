// Package router resolves how one incoming request should pick a
// credential: a fixed pin, a sticky identity, or the global pool.
package router

import "net/http"

// Decision is a closed tagged variant: exactly one of its constructors below
// produces a value.
type Decision struct {
	kind         string
	credentialID string
	apiKey       string
	sessionID    string
}

const (
	kindFixed  = "fixed"
	kindSticky = "sticky"
	kindGlobal = "global"
)

// Fixed pins the request to one specific credential.
func Fixed(credentialID string) Decision {
	return Decision{kind: kindFixed, credentialID: credentialID}
}

// Sticky requests the Sticky Tracker's bound-or-assigned credential for the
// given composite identity.
func Sticky(apiKey, sessionID string) Decision {
	return Decision{kind: kindSticky, apiKey: apiKey, sessionID: sessionID}
}

// Global requests any credential from the shared pool.
func Global() Decision {
	return Decision{kind: kindGlobal}
}

func (d Decision) IsFixed() bool  { return d.kind == kindFixed }
func (d Decision) IsSticky() bool { return d.kind == kindSticky }
func (d Decision) IsGlobal() bool { return d.kind == kindGlobal }

// CredentialID is valid only when IsFixed.
func (d Decision) CredentialID() string { return d.credentialID }

// StickyIdentity is valid only when IsSticky: apiKey is the composite
// "<api_key_id>:<x_user_id>" identity, sessionID is the raw X-User-Id header
// value. The request body's metadata.user_id is not consulted.
func (d Decision) StickyIdentity() (apiKey, sessionID string) { return d.apiKey, d.sessionID }

// Resolve implements the router resolution rule: a fixed routing_mode with a
// pinned credential always wins; otherwise a sticky-enabled key with a
// non-empty X-User-Id header gets a sticky identity; otherwise the request
// falls through to the global pool.
func Resolve(apiKeyID, routingMode, pinnedCredentialID string, stickyEnabled bool, headers http.Header) Decision {
	if routingMode == "fixed" && pinnedCredentialID != "" {
		return Fixed(pinnedCredentialID)
	}

	userID := headers.Get("X-User-Id")
	if stickyEnabled && userID != "" {
		return Sticky(apiKeyID+":"+userID, userID)
	}

	return Global()
}
