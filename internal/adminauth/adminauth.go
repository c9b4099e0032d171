// Package adminauth gates the admin API: a 24h in-memory session token
// issued by username/password login, or a standing static admin_api_key
// bearer, both compared in constant time. Session tokens are opaque,
// random 32-byte values, base64-encoded.
package adminauth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"

	"kiro-gateway/internal/errs"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const sessionTTL = 24 * time.Hour

// Config holds the admin credential material.
type Config struct {
	APIKey       string
	Username     string
	PasswordHash []byte // bcrypt hash of the configured admin_password
}

// NewConfig bcrypt-hashes the plaintext admin_password from configuration
// once at startup so it's never compared or held in plaintext thereafter.
func NewConfig(apiKey, username, password string) (*Config, error) {
	cfg := &Config{APIKey: apiKey, Username: username}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		cfg.PasswordHash = hash
	}
	return cfg, nil
}

type session struct {
	expiresAt time.Time
}

// Sessions is an in-memory store of issued admin session tokens.
type Sessions struct {
	mu   sync.Mutex
	byID map[string]session
}

func NewSessions() *Sessions {
	return &Sessions{byID: make(map[string]session)}
}

// Login verifies username/password in constant time and issues a session
// token on success.
func (s *Sessions) Login(cfg *Config, username, password string) (string, bool) {
	if cfg.Username == "" || len(cfg.PasswordHash) == 0 {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(cfg.Username), []byte(username)) != 1 {
		// Still run the bcrypt compare so the response time doesn't leak
		// whether the username matched.
		_ = bcrypt.CompareHashAndPassword(cfg.PasswordHash, []byte(password))
		return "", false
	}
	if bcrypt.CompareHashAndPassword(cfg.PasswordHash, []byte(password)) != nil {
		return "", false
	}

	token := newToken()
	s.mu.Lock()
	s.byID[token] = session{expiresAt: time.Now().Add(sessionTTL)}
	s.mu.Unlock()
	return token, true
}

// Valid reports whether token is an unexpired session, sweeping it out if
// it has expired.
func (s *Sessions) Valid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[token]
	if !ok {
		return false
	}
	if time.Now().After(sess.expiresAt) {
		delete(s.byID, token)
		return false
	}
	return true
}

func newToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Require authenticates admin requests against either the static
// admin_api_key or a live session token, both presented as a bearer token.
func Require(cfg *Config, sessions *Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.Request)
		if token == "" {
			deny(c)
			return
		}

		if cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(cfg.APIKey), []byte(token)) == 1 {
			c.Next()
			return
		}
		if sessions.Valid(token) {
			c.Next()
			return
		}

		deny(c)
	}
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return rest
	}
	return ""
}

func deny(c *gin.Context) {
	e := errs.New(errs.Authentication, "admin authentication required")
	c.JSON(e.Status(), e.ToEnvelope())
	c.Abort()
}
