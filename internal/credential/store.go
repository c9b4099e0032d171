package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const timeLayout = time.RFC3339

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

// fileRecord is the on-disk shape of one credential, matching the
// credentials.json array the admin API and startup loader both read.
type fileRecord struct {
	ID           string `json:"id"`
	AuthMethod   string `json:"auth_method"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	AuthRegion   string `json:"auth_region"`
	APIRegion    string `json:"api_region"`
	ProfileARN   string `json:"profile_arn,omitempty"`
	Email        string `json:"email,omitempty"`
	ProxyURL     string `json:"proxy_url,omitempty"`
	ProxyUser    string `json:"proxy_username,omitempty"`
	ProxyPass    string `json:"proxy_password,omitempty"`

	Priority int  `json:"priority"`
	Disabled bool `json:"disabled"`

	AccessToken string `json:"access_token,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// FileStore persists the full credential set to a single JSON file, the
// shape described by the gateway's credentials_file configuration field.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

// Load reads every credential from disk. A missing file is not an error:
// it yields an empty registry so a fresh deployment can add credentials
// via the admin API.
func (s *FileStore) Load() ([]*Credential, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var records []fileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}

	creds := make([]*Credential, 0, len(records))
	for _, r := range records {
		creds = append(creds, recordToCredential(r))
	}
	return creds, nil
}

// SaveAll overwrites the credentials file with the full current registry
// state, used after any admin mutation or token refresh.
func (s *FileStore) SaveAll(creds []Credential) error {
	records := make([]fileRecord, 0, len(creds))
	for _, c := range creds {
		records = append(records, credentialToRecord(c))
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("prepare credentials directory: %w", err)
		}
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Save returns a persist callback for one credential. The callback ignores
// its argument and rewrites the whole file from registry.List(), since the
// credentials file has no per-record append semantics.
func (s *FileStore) Save(registry *Registry) func(Credential) error {
	return func(_ Credential) error {
		return s.SaveAll(registry.List())
	}
}

func recordToCredential(r fileRecord) *Credential {
	c := &Credential{
		ID:           r.ID,
		AuthMethod:   r.AuthMethod,
		RefreshToken: r.RefreshToken,
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		AuthRegion:   r.AuthRegion,
		APIRegion:    r.APIRegion,
		ProfileARN:   r.ProfileARN,
		Email:        r.Email,
		Priority:     r.Priority,
		Disabled:     r.Disabled,
		AccessToken:  r.AccessToken,
	}
	if r.ProxyURL != "" {
		c.Proxy = &ProxySettings{URL: r.ProxyURL, Username: r.ProxyUser, Password: r.ProxyPass}
	}
	if r.ExpiresAt != "" {
		if t, err := parseTime(r.ExpiresAt); err == nil {
			c.ExpiresAt = t
		}
	}
	return c
}

func credentialToRecord(c Credential) fileRecord {
	r := fileRecord{
		ID:           c.ID,
		AuthMethod:   c.AuthMethod,
		RefreshToken: c.RefreshToken,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		AuthRegion:   c.AuthRegion,
		APIRegion:    c.APIRegion,
		ProfileARN:   c.ProfileARN,
		Email:        c.Email,
		Priority:     c.Priority,
		Disabled:     c.Disabled,
		AccessToken:  c.AccessToken,
	}
	if c.Proxy != nil {
		r.ProxyURL = c.Proxy.URL
		r.ProxyUser = c.Proxy.Username
		r.ProxyPass = c.Proxy.Password
	}
	if !c.ExpiresAt.IsZero() {
		r.ExpiresAt = c.ExpiresAt.Format(timeLayout)
	}
	return r
}
