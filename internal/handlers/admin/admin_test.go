package admin

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kiro-gateway/internal/adminauth"
	"kiro-gateway/internal/apikeys"
	"kiro-gateway/internal/config"
	"kiro-gateway/internal/credential"
	"kiro-gateway/internal/requestlog"
	"kiro-gateway/internal/sticky"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeps(t *testing.T) (Deps, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	apiKeys, err := apikeys.Open(filepath.Join(dir, "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { apiKeys.Close() })

	store := credential.NewFileStore(filepath.Join(dir, "credentials.json"))
	registry := credential.NewRegistry(nil)
	registry.Load([]*credential.Credential{
		{ID: "cred-1", Priority: 1, APIRegion: "us-east-1"},
		{ID: "cred-2", Priority: 2, APIRegion: "us-east-1"},
	})

	adminCfg, err := adminauth.NewConfig("test-admin-key", "admin", "hunter2")
	require.NoError(t, err)

	d := Deps{
		Config:    config.Defaults(),
		Registry:  registry,
		Tokens:    credential.NewManager(registry, time.Minute, 3, http.DefaultClient, store.Save(registry)),
		Store:     store,
		APIKeys:   apiKeys,
		Sticky:    sticky.New(sticky.Params{MaxConcurrentPerCredential: 1, MaxConcurrentPerKey: 1, StickyExpiry: time.Minute, ZombieStreamTimeout: time.Minute}),
		Requests:  requestlog.New(true),
		AdminCfg:  adminCfg,
		Sessions:  adminauth.NewSessions(),
		StartedAt: time.Now(),
	}

	r := gin.New()
	group := r.Group("/admin")
	Register(group, d)
	return d, r
}

func TestHandleLoginRejectsBadCredentials(t *testing.T) {
	_, r := newTestDeps(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/auth/login", strings.NewReader(`{"username":"admin","password":"wrong"}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleLoginAcceptsGoodCredentials(t *testing.T) {
	_, r := newTestDeps(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/auth/login", strings.NewReader(`{"username":"admin","password":"hunter2"}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "token")
}

func TestAuthedRoutesRejectMissingAuth(t *testing.T) {
	_, r := newTestDeps(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/credentials", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListCredentialsWithAdminKey(t *testing.T) {
	_, r := newTestDeps(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/credentials", nil)
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cred-1")
	assert.Contains(t, w.Body.String(), "cred-2")
}

func TestDisableAndEnableCredential(t *testing.T) {
	d, r := newTestDeps(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/credentials/cred-1/disable", nil)
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, d.Registry.GetByID("cred-1").Clone().Disabled)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/credentials/cred-1/enable", nil)
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, d.Registry.GetByID("cred-1").Clone().Disabled)
}

func TestDisableUnknownCredentialReturnsNotFound(t *testing.T) {
	_, r := newTestDeps(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/credentials/nope/disable", nil)
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAndListKeys(t *testing.T) {
	_, r := newTestDeps(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/keys", strings.NewReader(`{"name":"my-key"}`))
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "sk-kiro-")

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/keys", nil)
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "my-key")
	assert.NotContains(t, w.Body.String(), "\"key\":\"sk-kiro-")
}

func TestSetKeyRoutingRequiresValidCredentialForFixedMode(t *testing.T) {
	d, r := newTestDeps(t)
	k, err := d.APIKeys.Create("routed-key")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/keys/"+k.ID+"/routing", strings.NewReader(`{"routing_mode":"fixed","credential_id":"does-not-exist"}`))
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/keys/"+k.ID+"/routing", strings.NewReader(`{"routing_mode":"fixed","credential_id":"cred-1"}`))
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStickyStatusReportsSnapshot(t *testing.T) {
	_, r := newTestDeps(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/sticky/status", nil)
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "active_streams")
}

func TestAddCredentialPersistsAndAppearsInList(t *testing.T) {
	d, r := newTestDeps(t)

	w := httptest.NewRecorder()
	body := `{"id":"cred-3","refresh_token":"rt-3","auth_method":"social","priority":3}`
	req := httptest.NewRequest(http.MethodPost, "/admin/credentials", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "cred-3")
	assert.NotNil(t, d.Registry.GetByID("cred-3"))
}

func TestAddCredentialRejectsDuplicateID(t *testing.T) {
	_, r := newTestDeps(t)

	w := httptest.NewRecorder()
	body := `{"id":"cred-1","refresh_token":"rt-1"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/credentials", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddCredentialRequiresIDAndRefreshToken(t *testing.T) {
	_, r := newTestDeps(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/credentials", strings.NewReader(`{"id":"cred-4"}`))
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutingModeGetAndSet(t *testing.T) {
	d, r := newTestDeps(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/routing-mode", nil)
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), d.Config.RoutingMode())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/admin/routing-mode", strings.NewReader(`{"load_balancing_mode":"sticky"}`))
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sticky", d.Config.RoutingMode())
}

func TestSetRoutingModeRejectsUnknownValue(t *testing.T) {
	_, r := newTestDeps(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/admin/routing-mode", strings.NewReader(`{"load_balancing_mode":"bogus"}`))
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStickyStreamsReportsActiveStream(t *testing.T) {
	d, r := newTestDeps(t)

	result := d.Sticky.TryAcquire(sticky.Identity{APIKey: "key-1", SessionID: "sess-1"}, []string{"cred-1", "cred-2"})
	require.True(t, result.Acquired)
	d.Sticky.ActivateStream(result.StreamID)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/sticky/streams", nil)
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "key-1")
	assert.Contains(t, w.Body.String(), result.CredentialID)
}

func TestStickyStatsReflectsAcquireCounts(t *testing.T) {
	d, r := newTestDeps(t)

	result := d.Sticky.TryAcquire(sticky.Identity{APIKey: "key-2", SessionID: "sess-2"}, []string{"cred-1", "cred-2"})
	require.True(t, result.Acquired)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/sticky/stats", nil)
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "\"assignments\":1")
}

func TestBalanceRollsUpUsageAcrossKeysAndCredentials(t *testing.T) {
	d, r := newTestDeps(t)

	k, err := d.APIKeys.Create("billed-key")
	require.NoError(t, err)
	require.NoError(t, d.APIKeys.RecordUsage(k.ID, 100, 50))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/balance", nil)
	req.Header.Set("Authorization", "Bearer test-admin-key")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "\"total_input_tokens\":100")
	assert.Contains(t, w.Body.String(), "\"total_output_tokens\":50")
	assert.Contains(t, w.Body.String(), "cred-1")
	assert.Contains(t, w.Body.String(), "cred-2")
}

func TestLoginRateLimitEventuallyRejects(t *testing.T) {
	_, r := newTestDeps(t)

	var lastCode int
	for i := 0; i < loginRateLimitBurst+3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin/auth/login", strings.NewReader(`{"username":"admin","password":"wrong"}`))
		r.ServeHTTP(w, req)
		lastCode = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}
