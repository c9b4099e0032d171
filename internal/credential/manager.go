package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrCredentialNotFound is returned by SelectFixed for an unknown or
// disabled credential id.
var ErrCredentialNotFound = errors.New("credential not found")

// ErrNoEligibleCredentials is returned by SelectGlobal when every
// credential is disabled.
var ErrNoEligibleCredentials = errors.New("no eligible credentials")

// Manager is the token manager: it selects a credential per the
// configured load-balancing policy, keeps access tokens fresh with
// single-flight refresh, and tracks per-credential failure counts toward
// auto-disable.
type Manager struct {
	registry *Registry
	coord    *refreshCoordinator

	refreshAhead         time.Duration
	consecutiveFailLimit int

	httpClient *http.Client

	roundRobinCursor uint64

	persist func(Credential) error
}

// NewManager builds a Token Manager over registry. persist, if non-nil, is
// invoked after every refresh so the new access/refresh token survives a
// restart; it is typically the credential file store's Save.
func NewManager(registry *Registry, refreshAhead time.Duration, consecutiveFailLimit int, httpClient *http.Client, persist func(Credential) error) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{
		registry:             registry,
		coord:                newRefreshCoordinator(),
		refreshAhead:         refreshAhead,
		consecutiveFailLimit: consecutiveFailLimit,
		httpClient:           httpClient,
		persist:              persist,
	}
}

// SelectGlobal picks a credential id per the given policy ("priority" or
// "balanced"), without reserving any concurrency slot.
func (m *Manager) SelectGlobal(policy string) (string, error) {
	eligible := m.registry.EligibleIDs()
	if len(eligible) == 0 {
		return "", ErrNoEligibleCredentials
	}

	if policy == "balanced" {
		idx := atomic.AddUint64(&m.roundRobinCursor, 1) - 1
		return eligible[idx%uint64(len(eligible))], nil
	}

	// priority: EligibleIDs is already priority/id ordered.
	return eligible[0], nil
}

// SelectFixed validates that credID exists and is enabled.
func (m *Manager) SelectFixed(credID string) (string, error) {
	c := m.registry.GetByID(credID)
	if c == nil {
		return "", ErrCredentialNotFound
	}
	if c.Clone().Disabled {
		return "", ErrCredentialNotFound
	}
	return credID, nil
}

// EnsureFresh guarantees credID's access token is valid for at least
// refresh_ahead_seconds, refreshing it (single-flight) against the auth
// region if not. Returns the now-valid access token.
func (m *Manager) EnsureFresh(ctx context.Context, credID string) (string, error) {
	c := m.registry.GetByID(credID)
	if c == nil {
		return "", ErrCredentialNotFound
	}

	if tok, fresh := m.currentTokenIfFresh(c); fresh {
		return tok, nil
	}

	err := m.coord.Do(ctx, credID, func(ctx context.Context) error {
		// Re-check under the coordinator: another goroutine may have
		// already refreshed while we waited for the lock.
		if _, fresh := m.currentTokenIfFresh(c); fresh {
			return nil
		}
		return m.refreshOne(ctx, c)
	})
	if err != nil {
		return "", err
	}

	tok, _ := m.currentTokenIfFresh(c)
	return tok, nil
}

func (m *Manager) currentTokenIfFresh(c *Credential) (string, bool) {
	cp := c.Clone()
	if cp.AccessToken == "" {
		return "", false
	}
	if time.Now().Add(m.refreshAhead).Before(cp.ExpiresAt) {
		return cp.AccessToken, true
	}
	return "", false
}

func (m *Manager) refreshOne(ctx context.Context, c *Credential) error {
	cp := c.Clone()
	src := &oidcTokenSource{
		httpClient:   m.httpClient,
		authRegion:   cp.AuthRegion,
		clientID:     cp.ClientID,
		clientSecret: cp.ClientSecret,
		refreshToken: cp.RefreshToken,
	}

	tok, err := src.Token()
	if err != nil {
		m.RecordFailure(cp.ID)
		log.WithError(err).WithField("credential_id", cp.ID).Warn("credential refresh failed")
		return fmt.Errorf("refresh credential %s: %w", cp.ID, err)
	}

	m.registry.mutateCredential(cp.ID, func(cred *Credential) {
		cred.AccessToken = tok.AccessToken
		if tok.RefreshToken != "" {
			cred.RefreshToken = tok.RefreshToken
		}
		cred.ExpiresAt = tok.Expiry
		cred.FailureCount = 0
	})
	log.WithField("credential_id", cp.ID).Info("credential refreshed")

	if m.persist != nil {
		if c := m.registry.GetByID(cp.ID); c != nil {
			if err := m.persist(c.Clone()); err != nil {
				log.WithError(err).WithField("credential_id", cp.ID).Warn("failed to persist refreshed credential")
			}
		}
	}
	return nil
}

// RecordSuccess bumps a credential's usage bookkeeping after a successful
// upstream call.
func (m *Manager) RecordSuccess(credID string) {
	m.registry.mutateCredential(credID, func(c *Credential) {
		c.SuccessCount++
		c.LastUsedAt = time.Now()
		c.FailureCount = 0
	})
}

// RecordFailure increments a credential's consecutive failure count and
// auto-disables it once the count reaches the configured limit.
func (m *Manager) RecordFailure(credID string) {
	disabledNow := false
	m.registry.mutateCredential(credID, func(c *Credential) {
		c.FailureCount++
		if c.FailureCount >= m.consecutiveFailLimit {
			c.Disabled = true
			disabledNow = true
		}
	})
	if disabledNow {
		log.WithField("credential_id", credID).Warn("credential auto-disabled after consecutive failures")
	}
}

// NextEligibleAfter returns the eligible credential ids in selection order
// with excludeID removed, for the upstream executor's failover loop.
func (m *Manager) NextEligibleAfter(excludeID string) []string {
	eligible := m.registry.EligibleIDs()
	out := make([]string, 0, len(eligible))
	for _, id := range eligible {
		if id != excludeID {
			out = append(out, id)
		}
	}
	return out
}

// Registry exposes the underlying credential registry for admin/read paths.
func (m *Manager) Registry() *Registry { return m.registry }
