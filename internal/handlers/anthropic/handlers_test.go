package anthropic

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kiro-gateway/internal/apikeys"
	"kiro-gateway/internal/config"
	"kiro-gateway/internal/middleware"
	"kiro-gateway/internal/requestlog"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*gin.Engine, Deps) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Defaults()
	d := Deps{
		Config:   cfg,
		Requests: requestlog.New(false),
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.APIKeyContextKey, apikeys.Key{ID: "key-1", RoutingMode: "auto"})
		c.Next()
	})
	Register(r, d)
	return r, d
}

func TestHandleModelsListsCatalog(t *testing.T) {
	r, _ := newTestEngine(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "claude-opus-4-6")
}

func TestHandleCountTokensEstimatesFromMessages(t *testing.T) {
	r, _ := newTestEngine(t)

	body := `{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hello there"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "input_tokens")
}

func TestHandleMessagesRejectsUnknownModel(t *testing.T) {
	r, _ := newTestEngine(t)

	body := `{"model":"not-a-real-model","messages":[{"role":"user","content":"hi"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported model")
}

func TestHandleMessagesRejectsEmptyMessages(t *testing.T) {
	r, _ := newTestEngine(t)

	body := `{"model":"claude-sonnet-4-5","messages":[]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "messages must be a non-empty array")
}

func TestEstimateInputTokensCoversSystemAndBlockContent(t *testing.T) {
	body := []byte(`{
		"system":"be helpful",
		"messages":[
			{"role":"user","content":"plain text"},
			{"role":"assistant","content":[{"type":"text","text":"block text"}]}
		]
	}`)
	n := estimateInputTokens(body)
	require.Greater(t, n, 0)
}

func TestDerefStr(t *testing.T) {
	assert.Equal(t, "", derefStr(nil))
	s := "abc"
	assert.Equal(t, "abc", derefStr(&s))
}
