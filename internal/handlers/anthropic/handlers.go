// Package anthropic implements the client-facing Messages API: POST
// /v1/messages (incremental streaming), POST /cc/v1/messages (buffered
// streaming), POST /v1/messages/count_tokens, and GET /v1/models.
package anthropic

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kiro-gateway/internal/apikeys"
	"kiro-gateway/internal/catalog"
	"kiro-gateway/internal/config"
	"kiro-gateway/internal/credential"
	"kiro-gateway/internal/errs"
	"kiro-gateway/internal/middleware"
	"kiro-gateway/internal/monitoring"
	"kiro-gateway/internal/requestlog"
	"kiro-gateway/internal/router"
	"kiro-gateway/internal/sse"
	"kiro-gateway/internal/sticky"
	"kiro-gateway/internal/tokencount"
	"kiro-gateway/internal/upstream"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Deps bundles the collaborators every handler in this package needs.
type Deps struct {
	Config   *config.Config
	Tokens   *credential.Manager
	Sticky   *sticky.Tracker
	APIKeys  *apikeys.Store
	Executor *upstream.Executor
	Requests *requestlog.Buffer
}

// Register mounts the client API routes under r.
func Register(r gin.IRouter, d Deps) {
	r.POST("/v1/messages", d.handleMessages(false))
	r.POST("/cc/v1/messages", d.handleMessages(true))
	r.POST("/v1/messages/count_tokens", d.handleCountTokens)
	r.GET("/v1/models", d.handleModels)
}

func (d Deps) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": catalog.Models})
}

func (d Deps) handleCountTokens(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeErr(c, errs.New(errs.InvalidRequest, "failed to read request body"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"input_tokens": estimateInputTokens(body)})
}

// noopGuard satisfies sse.StreamGuard for the Fixed/Global routing paths,
// which never engage the Sticky Tracker and so have no reservation to
// activate or touch.
type noopGuard struct{}

func (noopGuard) Activate() {}
func (noopGuard) Touch()    {}

func (d Deps) handleMessages(buffered bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, _ := middleware.APIKeyFromContext(c)
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeErr(c, errs.New(errs.InvalidRequest, "failed to read request body"))
			return
		}

		model := gjson.GetBytes(body, "model").String()
		if _, ok := catalog.ByID(model); model == "" || !ok {
			writeErr(c, errs.New(errs.InvalidRequest, "unsupported model: "+model))
			return
		}
		if !gjson.GetBytes(body, "messages").IsArray() || len(gjson.GetBytes(body, "messages").Array()) == 0 {
			writeErr(c, errs.New(errs.InvalidRequest, "messages must be a non-empty array"))
			return
		}

		wantsStream := gjson.GetBytes(body, "stream").Bool()
		estimate := estimateInputTokens(body)

		stickyEnabled := d.Sticky != nil && d.Config.RoutingMode() == "sticky"
		decision := router.Resolve(key.ID, key.RoutingMode, derefStr(key.CredentialID), stickyEnabled, c.Request.Header)

		credID, guard, gwErr := d.resolveCredential(decision)
		if gwErr != nil {
			writeErr(c, gwErr)
			return
		}
		if guard != nil {
			defer guard.Release()
		}

		var result *upstream.Result
		var usedCred string
		var dispatchErr error
		if decision.IsGlobal() {
			result, usedCred, dispatchErr = d.Executor.DispatchWithFailover(c.Request.Context(), credID, body)
		} else {
			result, dispatchErr = d.Executor.DispatchBody(c.Request.Context(), credID, body)
			usedCred = credID
		}
		if dispatchErr != nil {
			writeErr(c, dispatchErr)
			return
		}
		defer result.Body.Close()

		messageID := "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		start := time.Now()

		var guardIface sse.StreamGuard = noopGuard{}
		if guard != nil {
			guardIface = guard
		}

		if wantsStream {
			c.Header("Content-Type", "text/event-stream; charset=utf-8")
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			c.Status(http.StatusOK)
			flusher, ok := c.Writer.(http.Flusher)
			if !ok {
				writeErr(c, errs.New(errs.Internal, "streaming unsupported by response writer"))
				return
			}

			tr := sse.NewTranslator(messageID, model, estimate)
			onFinal := func(u sse.FinalUsage) {
				d.recordUsage(c, key, usedCred, start, u)
			}

			if buffered {
				_ = sse.RunBuffered(c.Request.Context(), c.Writer, flusher, result.Body, guardIface, tr, onFinal)
			} else {
				_ = sse.RunIncremental(c.Request.Context(), c.Writer, flusher, result.Body, guardIface, tr, onFinal)
			}
			return
		}

		guardIface.Activate()
		upstreamBody, readErr := io.ReadAll(result.Body)
		if readErr != nil {
			writeErr(c, errs.New(errs.APIError, "failed to read upstream response"))
			return
		}
		resp, usage := sse.Assemble(messageID, model, upstreamBody, estimate)
		d.recordUsage(c, key, usedCred, start, usage)
		c.JSON(http.StatusOK, resp)
	}
}

// resolveCredential turns a router Decision into a concrete credential id
// to dispatch against, engaging the Sticky Tracker only for Sticky
// decisions. The returned Guard (nil for Fixed/Global) must be Released by
// the caller on every exit path.
func (d Deps) resolveCredential(decision router.Decision) (string, *sticky.Guard, error) {
	switch {
	case decision.IsFixed():
		credID := decision.CredentialID()
		if _, err := d.Tokens.SelectFixed(credID); err != nil {
			return "", nil, errs.New(errs.ServiceUnavailable, "pinned credential unavailable")
		}
		return credID, nil, nil

	case decision.IsSticky():
		apiKey, sessionID := decision.StickyIdentity()
		eligible := d.Tokens.Registry().EligibleIDs()
		result := d.Sticky.TryAcquire(sticky.Identity{APIKey: apiKey, SessionID: sessionID}, eligible)
		if !result.Acquired {
			monitoring.StickyRejections429.Inc()
			return "", nil, errs.Overloaded429(result.RetryAfterSecs)
		}
		guard := sticky.NewGuard(d.Sticky, result.StreamID)
		return result.CredentialID, guard, nil

	default:
		credID, err := d.Tokens.SelectGlobal(d.Config.RoutingMode())
		if err != nil {
			return "", nil, errs.New(errs.ServiceUnavailable, "no credentials configured")
		}
		return credID, nil, nil
	}
}

func (d Deps) recordUsage(c *gin.Context, key apikeys.Key, credID string, start time.Time, u sse.FinalUsage) {
	_ = d.APIKeys.RecordUsage(key.ID, u.InputTokens, u.OutputTokens)

	errMsg := ""
	if u.Err != nil {
		errMsg = u.Err.Error()
	}

	d.Requests.Push(requestlog.Entry{
		Timestamp:    time.Now(),
		Method:       c.Request.Method,
		Path:         c.FullPath(),
		APIKeyID:     key.ID,
		CredentialID: credID,
		Status:       http.StatusOK,
		DurationMS:   time.Since(start).Milliseconds(),
		Error:        errMsg,
	})
}

func estimateInputTokens(body []byte) int {
	var texts []string
	if s := gjson.GetBytes(body, "system"); s.Type == gjson.String {
		texts = append(texts, s.String())
	} else if s.IsArray() {
		s.ForEach(func(_, v gjson.Result) bool {
			texts = append(texts, v.Get("text").String())
			return true
		})
	}

	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if content.Type == gjson.String {
			texts = append(texts, content.String())
			return true
		}
		content.ForEach(func(_, block gjson.Result) bool {
			texts = append(texts, block.Get("text").String())
			return true
		})
		return true
	})
	return tokencount.EstimateTokensMulti(texts...)
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func writeErr(c *gin.Context, err error) {
	ge, ok := err.(*errs.Error)
	if !ok {
		ge = errs.New(errs.Internal, err.Error())
	}
	if ge.Kind == errs.Overloaded && ge.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(ge.RetryAfterSeconds)))
	}
	c.JSON(ge.Status(), ge.ToEnvelope())
}

func retryAfterSeconds(seconds float64) int {
	s := int(seconds + 0.5)
	if s < 1 {
		s = 1
	}
	return s
}
