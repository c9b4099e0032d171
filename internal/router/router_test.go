package router

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveFixedWins(t *testing.T) {
	h := http.Header{}
	h.Set("X-User-Id", "u1")
	d := Resolve("key1", "fixed", "cred-9", true, h)
	assert.True(t, d.IsFixed())
	assert.Equal(t, "cred-9", d.CredentialID())
}

func TestResolveStickyWhenEnabledAndHeaderPresent(t *testing.T) {
	h := http.Header{}
	h.Set("X-User-Id", "u1")
	d := Resolve("key1", "auto", "", true, h)
	assert.True(t, d.IsSticky())
	apiKey, sessionID := d.StickyIdentity()
	assert.Equal(t, "key1:u1", apiKey)
	assert.Equal(t, "u1", sessionID)
}

func TestResolveGlobalWhenStickyDisabled(t *testing.T) {
	h := http.Header{}
	h.Set("X-User-Id", "u1")
	d := Resolve("key1", "auto", "", false, h)
	assert.True(t, d.IsGlobal())
}

func TestResolveGlobalWhenNoUserHeader(t *testing.T) {
	d := Resolve("key1", "auto", "", true, http.Header{})
	assert.True(t, d.IsGlobal())
}

func TestResolveFixedRequiresPinnedCredential(t *testing.T) {
	d := Resolve("key1", "fixed", "", true, http.Header{})
	assert.True(t, d.IsGlobal())
}
