// Package httpclient builds the *http.Client used for upstream Kiro calls
// and OAuth token refreshes, honoring the configured proxy and (for
// interface parity only) tls_backend.
package httpclient

import (
	"net/http"
	"net/url"
	"time"

	"kiro-gateway/internal/config"
	"kiro-gateway/internal/credential"
)

// New builds the base client from the global proxy configuration. No
// client-wide timeout is set: per §5, upstream HTTP has no global timeout,
// since Timeout would also cut off long-lived SSE body reads. Callers rely
// on the request context (and, for streams, the zombie-reclaim backstop)
// for cancellation instead. tls_backend is validated in config.Validate but
// does not change behavior: Go has one TLS stack regardless of the
// configured value.
func New(cfg *config.Config) (*http.Client, error) {
	return build(cfg.Proxy.URL, cfg.Proxy.Username, cfg.Proxy.Password)
}

// ForCredential builds a client that uses cred's own proxy override when
// present, otherwise falls back to the global proxy configuration.
func ForCredential(cfg *config.Config, cred *credential.Credential) (*http.Client, error) {
	proxyURL, user, pass := cfg.Proxy.URL, cfg.Proxy.Username, cfg.Proxy.Password
	if cred != nil {
		cp := cred.Clone()
		if cp.Proxy != nil && cp.Proxy.URL != "" {
			proxyURL, user, pass = cp.Proxy.URL, cp.Proxy.Username, cp.Proxy.Password
		}
	}
	return build(proxyURL, user, pass)
}

func build(proxyURL, user, pass string) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		if user != "" {
			u.User = url.UserPassword(user, pass)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	return &http.Client{Transport: transport}, nil
}
