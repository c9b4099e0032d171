package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kiro-gateway/internal/config"
	"kiro-gateway/internal/credential"
	"kiro-gateway/internal/errs"
	"kiro-gateway/internal/httpclient"
	"kiro-gateway/internal/monitoring"

	log "github.com/sirupsen/logrus"
)

// nonRetryableMarkers are upstream error substrings that must propagate
// immediately as 400 regardless of HTTP status, never triggering failover to
// another credential.
var nonRetryableMarkers = []string{"CONTENT_LENGTH_EXCEEDS_THRESHOLD", "Input is too long"}

func containsNonRetryableMarker(body []byte) bool {
	s := string(body)
	for _, m := range nonRetryableMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// transientStatus reports whether an upstream HTTP status should trigger
// failover to the next eligible credential rather than propagating
// immediately.
func transientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return status >= 500
}

// Result is a successful dispatch: the still-open response body (the
// caller owns closing it) and the origin actually used.
type Result struct {
	Body       io.ReadCloser
	StatusCode int
	Origin     string
}

// Executor dispatches Anthropic-shaped requests to Kiro, retrying across
// eligible credentials on transient failures and refreshing tokens as
// needed via the Token Manager.
type Executor struct {
	cfg     *config.Config
	tokens  *credential.Manager
	timeout time.Duration
}

func NewExecutor(cfg *config.Config, tokens *credential.Manager) *Executor {
	return &Executor{cfg: cfg, tokens: tokens}
}

// DispatchBody sends anthropicBody using credID, retrying the origin
// (AI_EDITOR then CLI) against a 429 and refreshing the token first, per
// the reference executor's retry shape. It does not fail over to a
// different credential; that is DispatchWithFailover's job.
func (e *Executor) DispatchBody(ctx context.Context, credID string, anthropicBody []byte) (*Result, error) {
	cred := e.tokens.Registry().GetByID(credID)
	if cred == nil {
		return nil, credential.ErrCredentialNotFound
	}
	return e.dispatchOne(ctx, cred, anthropicBody)
}

func (e *Executor) dispatchOne(ctx context.Context, cred *credential.Credential, anthropicBody []byte) (*Result, error) {
	token, err := e.tokens.EnsureFresh(ctx, cred.ID)
	if err != nil {
		return nil, errs.New(errs.APIError, fmt.Sprintf("credential %s: refresh failed: %v", cred.ID, err))
	}

	client, err := httpclient.ForCredential(e.cfg, cred)
	if err != nil {
		return nil, errs.New(errs.Internal, "failed to build http client")
	}

	origins := []string{"AI_EDITOR", "CLI"}
	var lastStatus int
	var lastBody []byte

	for _, origin := range origins {
		payload, err := BuildPayload(anthropicBody, cred, origin)
		if err != nil {
			return nil, errs.New(errs.Internal, fmt.Sprintf("build upstream payload: %v", err))
		}

		cp := cred.Clone()
		req, err := newRequest(ctx, cp.APIRegion, payload, token)
		if err != nil {
			return nil, errs.New(errs.Internal, fmt.Sprintf("build upstream request: %v", err))
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			e.tokens.RecordFailure(cred.ID)
			return nil, errs.New(errs.APIError, fmt.Sprintf("upstream request failed: %v", err))
		}
		monitoring.UpstreamLatency.Observe(time.Since(start).Seconds())

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			e.tokens.RecordSuccess(cred.ID)
			return &Result{Body: resp.Body, StatusCode: resp.StatusCode, Origin: origin}, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastStatus, lastBody = resp.StatusCode, body

		if resp.StatusCode == http.StatusTooManyRequests && origin == "AI_EDITOR" {
			log.WithField("credential_id", cred.ID).Debug("AI_EDITOR origin exhausted, retrying with CLI origin")
			continue
		}
		break
	}

	e.tokens.RecordFailure(cred.ID)
	if containsNonRetryableMarker(lastBody) {
		return nil, errs.New(errs.InvalidRequest, fmt.Sprintf("upstream rejected request: %s", string(lastBody)))
	}
	if !transientStatus(lastStatus) {
		return nil, errs.New(errs.InvalidRequest, fmt.Sprintf("upstream rejected request: status %d: %s", lastStatus, string(lastBody)))
	}
	return nil, errs.New(errs.APIError, fmt.Sprintf("upstream transient failure: status %d: %s", lastStatus, string(lastBody)))
}

// DispatchWithFailover tries credID first, then every other eligible
// credential in selection order, up to the number of eligible credentials,
// until one succeeds or a non-retryable error is hit.
func (e *Executor) DispatchWithFailover(ctx context.Context, credID string, anthropicBody []byte) (*Result, string, error) {
	tried := map[string]bool{}
	order := append([]string{credID}, e.tokens.NextEligibleAfter(credID)...)

	var lastErr error
	for _, id := range order {
		if tried[id] {
			continue
		}
		tried[id] = true

		res, err := e.DispatchBody(ctx, id, anthropicBody)
		if err == nil {
			return res, id, nil
		}
		lastErr = err

		var gwErr *errs.Error
		if ok := asGatewayError(err, &gwErr); ok && !gwErr.Retryable() {
			return nil, id, err
		}
	}
	return nil, "", lastErr
}

func asGatewayError(err error, target **errs.Error) bool {
	e, ok := err.(*errs.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

func newRequest(ctx context.Context, apiRegion string, payload []byte, accessToken string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, Endpoint(apiRegion), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-amz-target", amzTarget)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return req, nil
}
