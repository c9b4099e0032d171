package middleware

import (
	"net/http"
	"strings"

	"kiro-gateway/internal/apikeys"
	"kiro-gateway/internal/errs"

	"github.com/gin-gonic/gin"
)

// APIKeyContextKey is the gin context key the authenticated Key is stored
// under, for handlers to read routing pins and record usage against.
const APIKeyContextKey = "kiro.apiKey"

// RequireAPIKey authenticates client requests against the API key store,
// accepting either "Authorization: Bearer <key>" or "x-api-key: <key>".
// Lookup itself is constant-time per-candidate (apikeys.Store.Authenticate).
func RequireAPIKey(store *apikeys.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractAPIKey(c.Request)
		if raw == "" {
			writeAuthError(c, "missing API key")
			return
		}

		key, ok, err := store.Authenticate(raw)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errs.New(errs.Internal, "key lookup failed").ToEnvelope())
			c.Abort()
			return
		}
		if !ok {
			writeAuthError(c, "invalid API key")
			return
		}

		c.Set(APIKeyContextKey, key)
		c.Next()
	}
}

func extractAPIKey(r *http.Request) string {
	if v := r.Header.Get("x-api-key"); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return rest
		}
	}
	return ""
}

func writeAuthError(c *gin.Context, message string) {
	e := errs.New(errs.Authentication, message)
	c.JSON(e.Status(), e.ToEnvelope())
	c.Abort()
}

// APIKeyFromContext retrieves the authenticated key set by RequireAPIKey.
func APIKeyFromContext(c *gin.Context) (apikeys.Key, bool) {
	v, ok := c.Get(APIKeyContextKey)
	if !ok {
		return apikeys.Key{}, false
	}
	k, ok := v.(apikeys.Key)
	return k, ok
}
