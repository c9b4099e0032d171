package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// oidcTokenResponse is the AWS SSO OIDC CreateToken response shape.
type oidcTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

type oidcErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// oidcTokenSource implements oauth2.TokenSource against the AWS SSO OIDC
// CreateToken endpoint, which speaks JSON bodies rather than the
// RFC 6749 form-encoded grant the stdlib oauth2.Config expects. It still
// returns *oauth2.Token so the rest of the manager can use ordinary
// token-source semantics (Valid/Expiry) regardless of wire shape.
type oidcTokenSource struct {
	httpClient   *http.Client
	authRegion   string
	clientID     string
	clientSecret string
	refreshToken string
}

func (s *oidcTokenSource) Token() (*oauth2.Token, error) {
	endpoint := fmt.Sprintf("https://oidc.%s.amazonaws.com/token", s.authRegion)
	body, err := json.Marshal(map[string]string{
		"clientId":     s.clientID,
		"clientSecret": s.clientSecret,
		"refreshToken": s.refreshToken,
		"grantType":    "refresh_token",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "kiro-gateway")

	client := s.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oidc token request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var oe oidcErrorResponse
		if json.Unmarshal(raw, &oe) == nil && oe.Error != "" {
			if oe.ErrorDescription != "" {
				return nil, fmt.Errorf("oidc refresh failed: %s: %s", oe.Error, oe.ErrorDescription)
			}
			return nil, fmt.Errorf("oidc refresh failed: %s", oe.Error)
		}
		return nil, fmt.Errorf("oidc refresh failed: status %d", resp.StatusCode)
	}

	var tr oidcTokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("parse oidc token response: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}
