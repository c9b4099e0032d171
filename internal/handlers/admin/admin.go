// Package admin implements the operator-facing management API: credential
// and API key CRUD, load-balancing-mode control, sticky tracker
// introspection, usage balance rollup, and request log tailing.
package admin

import (
	"net/http"
	"strconv"
	"time"

	"kiro-gateway/internal/adminauth"
	"kiro-gateway/internal/apikeys"
	"kiro-gateway/internal/config"
	"kiro-gateway/internal/credential"
	"kiro-gateway/internal/errs"
	mw "kiro-gateway/internal/middleware"
	"kiro-gateway/internal/requestlog"
	"kiro-gateway/internal/sticky"

	"github.com/gin-gonic/gin"
)

// loginRateLimitRPS/loginRateLimitBurst throttle unauthenticated login
// attempts per client IP against credential-stuffing.
const loginRateLimitRPS = 1
const loginRateLimitBurst = 5

// Deps bundles the collaborators the admin API reads and mutates.
type Deps struct {
	Config    *config.Config
	Registry  *credential.Registry
	Tokens    *credential.Manager
	Store     *credential.FileStore
	APIKeys   *apikeys.Store
	Sticky    *sticky.Tracker
	Requests  *requestlog.Buffer
	AdminCfg  *adminauth.Config
	Sessions  *adminauth.Sessions
	StartedAt time.Time
}

// Register mounts the admin API under group, with auth required on every
// route except /auth/login itself.
func Register(group *gin.RouterGroup, d Deps) {
	group.POST("/auth/login", mw.RateLimiter(loginRateLimitRPS, loginRateLimitBurst), d.handleLogin)

	authed := group.Group("")
	authed.Use(adminauth.Require(d.AdminCfg, d.Sessions))

	authed.GET("/system", d.handleSystem)

	authed.GET("/credentials", d.handleListCredentials)
	authed.POST("/credentials", d.handleAddCredential)
	authed.GET("/credentials/:id", d.handleGetCredential)
	authed.POST("/credentials/:id/disable", d.handleDisableCredential)
	authed.POST("/credentials/:id/enable", d.handleEnableCredential)
	authed.POST("/credentials/:id/priority", d.handleSetPriority)
	authed.DELETE("/credentials/:id", d.handleDeleteCredential)
	authed.POST("/credentials/reload", d.handleReloadCredentials)

	authed.GET("/routing-mode", d.handleGetRoutingMode)
	authed.PUT("/routing-mode", d.handleSetRoutingMode)

	authed.GET("/keys", d.handleListKeys)
	authed.POST("/keys", d.handleCreateKey)
	authed.POST("/keys/:id/enable", d.handleSetKeyEnabled(true))
	authed.POST("/keys/:id/disable", d.handleSetKeyEnabled(false))
	authed.POST("/keys/:id/routing", d.handleSetKeyRouting)
	authed.DELETE("/keys/:id", d.handleDeleteKey)

	authed.GET("/sticky/status", d.handleStickyStatus)
	authed.GET("/sticky/streams", d.handleStickyStreams)
	authed.GET("/sticky/stats", d.handleStickyStats)
	authed.GET("/balance", d.handleBalance)
	authed.GET("/logs", d.handleLogs)
}

func (d Deps) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	token, ok := d.Sessions.Login(d.AdminCfg, req.Username, req.Password)
	if !ok {
		respondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (d Deps) handleSystem(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds":      time.Since(d.StartedAt).Seconds(),
		"load_balancing_mode": d.Config.RoutingMode(),
	})
}

func sanitizeCredential(c credential.Credential) gin.H {
	return gin.H{
		"id":              c.ID,
		"auth_method":     c.AuthMethod,
		"email":           c.Email,
		"auth_region":     c.AuthRegion,
		"api_region":      c.APIRegion,
		"priority":        c.Priority,
		"disabled":        c.Disabled,
		"failure_count":   c.FailureCount,
		"success_count":   c.SuccessCount,
		"last_used_at":    c.LastUsedAt,
		"token_expires":   c.ExpiresAt,
		"has_profile_arn": c.ProfileARN != "",
	}
}

func (d Deps) handleListCredentials(c *gin.Context) {
	creds := d.Registry.List()
	out := make([]gin.H, len(creds))
	for i, cr := range creds {
		out[i] = sanitizeCredential(cr)
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

func (d Deps) handleAddCredential(c *gin.Context) {
	var req struct {
		ID           string `json:"id"`
		AuthMethod   string `json:"auth_method"`
		RefreshToken string `json:"refresh_token"`
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		AuthRegion   string `json:"auth_region"`
		APIRegion    string `json:"api_region"`
		ProfileARN   string `json:"profile_arn"`
		Email        string `json:"email"`
		Priority     int    `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" || req.RefreshToken == "" {
		respondError(c, http.StatusBadRequest, "id and refresh_token are required")
		return
	}
	if d.Registry.GetByID(req.ID) != nil {
		respondError(c, http.StatusBadRequest, "credential id already exists")
		return
	}

	cred := &credential.Credential{
		ID:           req.ID,
		AuthMethod:   req.AuthMethod,
		RefreshToken: req.RefreshToken,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		AuthRegion:   req.AuthRegion,
		APIRegion:    req.APIRegion,
		ProfileARN:   req.ProfileARN,
		Email:        req.Email,
		Priority:     req.Priority,
	}
	d.Registry.Add(cred)
	if err := d.Store.SaveAll(d.Registry.List()); err != nil {
		respondError(c, http.StatusInternalServerError, "added but failed to persist: "+err.Error())
		return
	}
	c.JSON(http.StatusCreated, sanitizeCredential(cred.Clone()))
}

func (d Deps) handleGetCredential(c *gin.Context) {
	id := c.Param("id")
	cr := d.Registry.GetByID(id)
	if cr == nil {
		respondError(c, http.StatusNotFound, "credential not found")
		return
	}
	c.JSON(http.StatusOK, sanitizeCredential(cr.Clone()))
}

func (d Deps) handleDisableCredential(c *gin.Context) {
	id := c.Param("id")
	if !d.Registry.SetDisabled(id, true) {
		respondError(c, http.StatusNotFound, "credential not found")
		return
	}
	d.persistCredential(id)
	c.JSON(http.StatusOK, gin.H{"message": "credential disabled"})
}

func (d Deps) handleEnableCredential(c *gin.Context) {
	id := c.Param("id")
	if !d.Registry.ResetAndEnable(id) {
		respondError(c, http.StatusNotFound, "credential not found")
		return
	}
	d.persistCredential(id)
	c.JSON(http.StatusOK, gin.H{"message": "credential enabled"})
}

func (d Deps) handleSetPriority(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		Priority int `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if !d.Registry.SetPriority(id, req.Priority) {
		respondError(c, http.StatusNotFound, "credential not found")
		return
	}
	d.persistCredential(id)
	c.JSON(http.StatusOK, gin.H{"message": "priority updated"})
}

func (d Deps) handleDeleteCredential(c *gin.Context) {
	id := c.Param("id")
	if !d.Registry.Delete(id) {
		respondError(c, http.StatusNotFound, "credential not found")
		return
	}
	// Keys pinned to the deleted credential fall back to auto routing.
	_, _ = d.APIKeys.ResetRoutingForCredential(id)
	if err := d.Store.SaveAll(d.Registry.List()); err != nil {
		respondError(c, http.StatusInternalServerError, "deleted but failed to persist: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "credential deleted"})
}

func (d Deps) handleReloadCredentials(c *gin.Context) {
	creds, err := d.Store.Load()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	d.Registry.Load(creds)
	c.JSON(http.StatusOK, gin.H{"message": "credentials reloaded", "count": len(creds)})
}

func (d Deps) persistCredential(id string) {
	if c := d.Registry.GetByID(id); c != nil {
		_ = d.Store.Save(d.Registry)(c.Clone())
	}
}

func (d Deps) handleGetRoutingMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"load_balancing_mode": d.Config.RoutingMode()})
}

func (d Deps) handleSetRoutingMode(c *gin.Context) {
	var req struct {
		LoadBalancingMode string `json:"load_balancing_mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.LoadBalancingMode {
	case "priority", "balanced", "sticky":
	default:
		respondError(c, http.StatusBadRequest, "load_balancing_mode must be priority, balanced, or sticky")
		return
	}
	d.Config.SetRoutingMode(req.LoadBalancingMode)
	c.JSON(http.StatusOK, gin.H{"load_balancing_mode": d.Config.RoutingMode()})
}

func (d Deps) handleListKeys(c *gin.Context) {
	keys, err := d.APIKeys.List()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]gin.H, len(keys))
	for i, k := range keys {
		out[i] = sanitizeKey(k)
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

func sanitizeKey(k apikeys.Key) gin.H {
	return gin.H{
		"id":            k.ID,
		"name":          k.Name,
		"key_preview":   apikeys.PreviewKey(k.Key),
		"enabled":       k.Enabled,
		"created_at":    k.CreatedAt,
		"last_used_at":  k.LastUsedAt,
		"request_count": k.RequestCount,
		"input_tokens":  k.InputTokens,
		"output_tokens": k.OutputTokens,
		"routing_mode":  k.RoutingMode,
		"credential_id": k.CredentialID,
	}
}

func (d Deps) handleCreateKey(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "key-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}

	k, err := d.APIKeys.Create(req.Name)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	// The raw secret is only ever returned once, at creation.
	c.JSON(http.StatusCreated, gin.H{
		"id":   k.ID,
		"name": k.Name,
		"key":  k.Key,
	})
}

func (d Deps) handleSetKeyEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := d.APIKeys.SetEnabled(id, enabled); err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "updated"})
	}
}

func (d Deps) handleSetKeyRouting(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		Mode         string  `json:"routing_mode"`
		CredentialID *string `json:"credential_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode != "auto" && req.Mode != "fixed" {
		respondError(c, http.StatusBadRequest, "routing_mode must be auto or fixed")
		return
	}
	if req.Mode == "fixed" && (req.CredentialID == nil || d.Registry.GetByID(*req.CredentialID) == nil) {
		respondError(c, http.StatusBadRequest, "fixed routing requires a valid credential_id")
		return
	}
	if err := d.APIKeys.SetRouting(id, req.Mode, req.CredentialID); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "routing updated"})
}

func (d Deps) handleDeleteKey(c *gin.Context) {
	id := c.Param("id")
	if err := d.APIKeys.Delete(id); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "key deleted"})
}

func (d Deps) handleStickyStatus(c *gin.Context) {
	snap := d.Sticky.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"bindings":       snap.Bindings,
		"active_streams": snap.ActiveStreams,
		"stats": gin.H{
			"hits":           snap.Stats.Hits,
			"assignments":    snap.Stats.Assignments,
			"unbinds":        snap.Stats.Unbinds,
			"queue_jumps":    snap.Stats.QueueJumps,
			"rejections_429": snap.Stats.Rejections429,
		},
	})
}

func (d Deps) handleStickyStreams(c *gin.Context) {
	streams := d.Sticky.ActiveStreamsList()
	out := make([]gin.H, len(streams))
	for i, s := range streams {
		out[i] = gin.H{
			"stream_id":     s.StreamID,
			"credential_id": s.CredentialID,
			"api_key":       s.APIKey,
			"activated":     s.Activated,
			"last_touch_at": s.LastTouchAt,
			"session_id":    s.SessionID,
		}
	}
	c.JSON(http.StatusOK, gin.H{"streams": out})
}

func (d Deps) handleStickyStats(c *gin.Context) {
	snap := d.Sticky.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"hits":           snap.Stats.Hits,
		"assignments":    snap.Stats.Assignments,
		"unbinds":        snap.Stats.Unbinds,
		"queue_jumps":    snap.Stats.QueueJumps,
		"rejections_429": snap.Stats.Rejections429,
	})
}

func (d Deps) handleBalance(c *gin.Context) {
	keys, err := d.APIKeys.List()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	var totalRequests, totalInput, totalOutput int64
	for _, k := range keys {
		totalRequests += k.RequestCount
		totalInput += k.InputTokens
		totalOutput += k.OutputTokens
	}

	creds := d.Registry.List()
	perCredential := make([]gin.H, len(creds))
	for i, cr := range creds {
		perCredential[i] = gin.H{
			"credential_id": cr.ID,
			"success_count": cr.SuccessCount,
			"failure_count": cr.FailureCount,
			"disabled":      cr.Disabled,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total_requests":      totalRequests,
		"total_input_tokens":  totalInput,
		"total_output_tokens": totalOutput,
		"per_credential":      perCredential,
	})
}

func (d Deps) handleLogs(c *gin.Context) {
	if !d.Requests.Enabled() {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "entries": []requestlog.Entry{}})
		return
	}
	n := 100
	if raw := c.Query("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "entries": d.Requests.Tail(n)})
}

func respondError(c *gin.Context, status int, message string) {
	kind := errs.Internal
	switch status {
	case http.StatusBadRequest:
		kind = errs.InvalidRequest
	case http.StatusUnauthorized:
		kind = errs.Authentication
	case http.StatusNotFound:
		kind = errs.InvalidRequest
	}
	e := errs.New(kind, message)
	c.JSON(status, e.ToEnvelope())
}
