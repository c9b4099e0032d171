// Package credential maintains the registry of upstream OAuth credentials
// and the token manager that keeps their access tokens fresh and picks one
// for each outgoing request.
package credential

import (
	"sort"
	"sync"
	"time"
)

// ProxySettings overrides the gateway's global outbound proxy for calls made
// with one specific credential.
type ProxySettings struct {
	URL      string
	Username string
	Password string
}

// Credential is one upstream OAuth identity available to the gateway.
type Credential struct {
	ID           string
	AuthMethod   string // e.g. "social", "idc"
	RefreshToken string
	ClientID     string
	ClientSecret string
	AuthRegion   string
	APIRegion    string
	ProfileARN   string
	Email        string
	Proxy        *ProxySettings

	Priority int
	Disabled bool

	FailureCount int
	SuccessCount int64
	LastUsedAt   time.Time

	AccessToken string
	ExpiresAt   time.Time

	mu sync.RWMutex
}

// Clone returns a value copy safe to hand to callers without leaking the
// credential's own lock.
func (c *Credential) Clone() Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}

// Registry holds every known credential and serializes all mutation through
// a single RWMutex: structural changes (add/remove) take the write lock;
// per-credential field mutation happens through mutateCredential, which
// locks only that credential's own mutex once its existence is confirmed
// under a read lock.
type Registry struct {
	mu          sync.RWMutex
	credentials []*Credential
	byID        map[string]*Credential

	onDelete func(credID string)
}

// NewRegistry builds an empty registry. onDelete, if non-nil, is invoked
// after a credential is removed so the API key store can reset any key
// pinned to it back to (auto, null).
func NewRegistry(onDelete func(credID string)) *Registry {
	return &Registry{byID: map[string]*Credential{}, onDelete: onDelete}
}

func sortCredentials(creds []*Credential) {
	sort.Slice(creds, func(i, j int) bool {
		if creds[i].Priority != creds[j].Priority {
			return creds[i].Priority < creds[j].Priority
		}
		return creds[i].ID < creds[j].ID
	})
}

// Load replaces the registry contents, sorted by priority then id to match
// startup ordering from the credentials file.
func (r *Registry) Load(creds []*Credential) {
	sortCredentials(creds)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.credentials = creds
	r.byID = make(map[string]*Credential, len(creds))
	for _, c := range creds {
		r.byID[c.ID] = c
	}
}

// Add inserts a new credential, keeping priority/id order.
func (r *Registry) Add(c *Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credentials = append(r.credentials, c)
	r.byID[c.ID] = c
	sortCredentials(r.credentials)
}

// Delete removes a credential and notifies onDelete.
func (r *Registry) Delete(credID string) bool {
	r.mu.Lock()
	idx := -1
	for i, c := range r.credentials {
		if c.ID == credID {
			idx = i
			break
		}
	}
	if idx == -1 {
		r.mu.Unlock()
		return false
	}
	r.credentials = append(r.credentials[:idx], r.credentials[idx+1:]...)
	delete(r.byID, credID)
	r.mu.Unlock()

	if r.onDelete != nil {
		r.onDelete(credID)
	}
	return true
}

// GetByID returns the live credential (not a clone) or nil.
func (r *Registry) GetByID(credID string) *Credential {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[credID]
}

// List returns clones of every credential, in priority/id order.
func (r *Registry) List() []Credential {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Credential, 0, len(r.credentials))
	for _, c := range r.credentials {
		out = append(out, c.Clone())
	}
	return out
}

// EligibleIDs returns the ids of every non-disabled credential, in registry
// order (priority then id), for use as the Sticky Tracker's
// available_credentials list.
func (r *Registry) EligibleIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.credentials))
	for _, c := range r.credentials {
		if !c.Clone().Disabled {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// mutateCredential locks exactly one credential's own mutex after confirming
// its existence under the registry's read lock. This keeps the lock-ordering
// discipline: never take the registry write lock to mutate a single
// credential's operational fields.
func (r *Registry) mutateCredential(credID string, mutate func(*Credential)) bool {
	r.mu.RLock()
	c := r.byID[credID]
	r.mu.RUnlock()
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	mutate(c)
	return true
}

// SetDisabled toggles a credential's disabled flag directly (admin action).
func (r *Registry) SetDisabled(credID string, disabled bool) bool {
	return r.mutateCredential(credID, func(c *Credential) { c.Disabled = disabled })
}

// SetPriority updates a credential's priority and re-sorts the registry.
func (r *Registry) SetPriority(credID string, priority int) bool {
	ok := r.mutateCredential(credID, func(c *Credential) { c.Priority = priority })
	if !ok {
		return false
	}
	r.mu.Lock()
	sortCredentials(r.credentials)
	r.mu.Unlock()
	return true
}

// ResetAndEnable clears the failure count and re-enables a credential, the
// admin-facing recovery action for a credential that was auto-disabled.
func (r *Registry) ResetAndEnable(credID string) bool {
	return r.mutateCredential(credID, func(c *Credential) {
		c.FailureCount = 0
		c.Disabled = false
	})
}
