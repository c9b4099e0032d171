// Package apikeys persists gateway API keys in a local SQLite database:
// creation, lookup/auth, usage accounting, and per-credential routing pins.
package apikeys

import (
	"crypto/subtle"
	"database/sql"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Key is one persisted API key row.
type Key struct {
	ID           string
	Name         string
	Key          string
	Enabled      bool
	CreatedAt    time.Time
	LastUsedAt   *time.Time
	RequestCount int64
	InputTokens  int64
	OutputTokens int64
	RoutingMode  string // "auto" or "fixed"
	CredentialID *string
}

// Store is a SQLite-backed key store. One process owns one Store.
type Store struct {
	db *sql.DB
}

// Open creates/migrates the database at path and returns a ready Store.
// Journal mode is set to WAL with a 5s busy timeout so concurrent admin
// reads don't collide with request-path writes.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			key TEXT NOT NULL UNIQUE,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			request_count INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			routing_mode TEXT NOT NULL DEFAULT 'auto',
			credential_id TEXT
		)`)
	if err != nil {
		return err
	}

	// Idempotent column additions for databases created by earlier
	// versions of this schema: inspect actual columns before altering,
	// since SQLite has no "ADD COLUMN IF NOT EXISTS".
	existing, err := s.tableColumns("api_keys")
	if err != nil {
		return err
	}
	wanted := []struct{ name, ddl string }{
		{"routing_mode", "ALTER TABLE api_keys ADD COLUMN routing_mode TEXT NOT NULL DEFAULT 'auto'"},
		{"credential_id", "ALTER TABLE api_keys ADD COLUMN credential_id TEXT"},
	}
	for _, w := range wanted {
		if !existing[w.name] {
			if _, err := s.db.Exec(w.ddl); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) tableColumns(table string) (map[string]bool, error) {
	rows, err := s.db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// MigrateLegacyJSONFile imports keys from a one-time legacy JSON file if it
// is still present, then renames it to "<path>.migrated" so the import never
// runs twice.
func (s *Store) MigrateLegacyJSONFile(path string, parse func([]byte) ([]Key, error)) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	keys, err := parse(data)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.insert(k); err != nil {
			return err
		}
	}
	return os.Rename(path, path+".migrated")
}

func (s *Store) insert(k Key) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO api_keys
			(id, name, key, enabled, created_at, last_used_at, request_count, input_tokens, output_tokens, routing_mode, credential_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Name, k.Key, boolToInt(k.Enabled), k.CreatedAt.Format(time.RFC3339),
		nullableTime(k.LastUsedAt), k.RequestCount, k.InputTokens, k.OutputTokens, k.RoutingMode, k.CredentialID)
	return err
}

// Create generates a new key with the given name and the secret
// "sk-kiro-<uuid without dashes>", and persists it.
func (s *Store) Create(name string) (Key, error) {
	k := Key{
		ID:          uuid.NewString(),
		Name:        name,
		Key:         "sk-kiro-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Enabled:     true,
		CreatedAt:   time.Now().UTC(),
		RoutingMode: "auto",
	}
	if err := s.insert(k); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Authenticate looks up a key by its raw secret using a constant-time
// comparison against each candidate, and returns it only if enabled.
func (s *Store) Authenticate(raw string) (Key, bool, error) {
	rows, err := s.db.Query(`SELECT id, name, key, enabled, created_at, last_used_at, request_count, input_tokens, output_tokens, routing_mode, credential_id FROM api_keys WHERE enabled = 1`)
	if err != nil {
		return Key{}, false, err
	}
	defer rows.Close()

	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return Key{}, false, err
		}
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(raw)) == 1 {
			return k, true, nil
		}
	}
	return Key{}, false, rows.Err()
}

func scanKey(rows *sql.Rows) (Key, error) {
	var k Key
	var enabled int
	var createdAt string
	var lastUsedAt sql.NullString
	var credentialID sql.NullString
	if err := rows.Scan(&k.ID, &k.Name, &k.Key, &enabled, &createdAt, &lastUsedAt,
		&k.RequestCount, &k.InputTokens, &k.OutputTokens, &k.RoutingMode, &credentialID); err != nil {
		return Key{}, err
	}
	k.Enabled = enabled != 0
	k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastUsedAt.Valid {
		t, _ := time.Parse(time.RFC3339, lastUsedAt.String)
		k.LastUsedAt = &t
	}
	if credentialID.Valid {
		k.CredentialID = &credentialID.String
	}
	return k, nil
}

// RecordUsage increments request/token counters and bumps last_used_at.
func (s *Store) RecordUsage(keyID string, inputTokens, outputTokens int) error {
	_, err := s.db.Exec(`
		UPDATE api_keys
		SET request_count = request_count + 1,
		    input_tokens = input_tokens + ?,
		    output_tokens = output_tokens + ?,
		    last_used_at = ?
		WHERE id = ?`,
		inputTokens, outputTokens, time.Now().UTC().Format(time.RFC3339), keyID)
	return err
}

// SetRouting pins or clears a key's fixed credential.
func (s *Store) SetRouting(keyID, mode string, credentialID *string) error {
	_, err := s.db.Exec(`UPDATE api_keys SET routing_mode = ?, credential_id = ? WHERE id = ?`, mode, credentialID, keyID)
	return err
}

// ResetRoutingForCredential resets every key pinned to a deleted credential
// back to (auto, null) so requests don't silently 404 against a dead pin.
func (s *Store) ResetRoutingForCredential(credentialID string) (int64, error) {
	res, err := s.db.Exec(`UPDATE api_keys SET routing_mode = 'auto', credential_id = NULL WHERE credential_id = ?`, credentialID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetEnabled toggles a key's enabled flag.
func (s *Store) SetEnabled(keyID string, enabled bool) error {
	_, err := s.db.Exec(`UPDATE api_keys SET enabled = ? WHERE id = ?`, boolToInt(enabled), keyID)
	return err
}

// Delete removes a key entirely.
func (s *Store) Delete(keyID string) error {
	_, err := s.db.Exec(`DELETE FROM api_keys WHERE id = ?`, keyID)
	return err
}

// List returns every key ordered by creation time.
func (s *Store) List() ([]Key, error) {
	rows, err := s.db.Query(`SELECT id, name, key, enabled, created_at, last_used_at, request_count, input_tokens, output_tokens, routing_mode, credential_id FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// PreviewKey masks a secret for display: "abcd****wxyz", or all stars when
// the key is 8 characters or shorter.
func PreviewKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
