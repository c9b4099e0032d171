package main

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"kiro-gateway/internal/apikeys"
	"kiro-gateway/internal/config"
	"kiro-gateway/internal/monitoring"
	"kiro-gateway/internal/sticky"

	log "github.com/sirupsen/logrus"
)

const zombieSweepInterval = time.Minute

// runZombieSweep reclaims zombie streams and expired sticky bindings once a
// minute. It runs until ctx is canceled.
func runZombieSweep(ctx context.Context, tracker *sticky.Tracker) {
	ticker := time.NewTicker(zombieSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := tracker.CleanupZombies(); reaped > 0 {
				monitoring.StickyZombiesReaped.Add(float64(reaped))
				log.WithField("count", reaped).Info("zombie streams reclaimed")
			}
			if expired := tracker.CleanupExpiredBindings(); expired > 0 {
				log.WithField("count", expired).Info("expired sticky bindings cleared")
			}
		}
	}
}

func portString(port int) string {
	if port <= 0 {
		return "8080"
	}
	return strconv.Itoa(port)
}

// legacyKeysPath is the pre-SQLite JSON file this gateway migrates once on
// startup; a legacy file if present is migrated and renamed to
// .json.migrated.
func legacyKeysPath(cfg *config.Config) string {
	return cfg.Storage.ConfigDir + "/api_keys.json"
}

// legacyKeyRecord is the on-disk shape of the pre-SQLite key file.
type legacyKeyRecord struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Key          string  `json:"key"`
	Enabled      bool    `json:"enabled"`
	CreatedAt    string  `json:"created_at"`
	LastUsedAt   *string `json:"last_used_at"`
	RequestCount int64   `json:"request_count"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	RoutingMode  string  `json:"routing_mode"`
	CredentialID *string `json:"credential_id"`
}

func migrateLegacyKeysFile(store *apikeys.Store, path string) error {
	return store.MigrateLegacyJSONFile(path, parseLegacyKeys)
}

func parseLegacyKeys(data []byte) ([]apikeys.Key, error) {
	var records []legacyKeyRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	keys := make([]apikeys.Key, 0, len(records))
	for _, r := range records {
		k := apikeys.Key{
			ID:           r.ID,
			Name:         r.Name,
			Key:          r.Key,
			Enabled:      r.Enabled,
			RequestCount: r.RequestCount,
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			RoutingMode:  r.RoutingMode,
			CredentialID: r.CredentialID,
		}
		if t, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
			k.CreatedAt = t
		} else {
			k.CreatedAt = time.Now().UTC()
		}
		if r.LastUsedAt != nil {
			if t, err := time.Parse(time.RFC3339, *r.LastUsedAt); err == nil {
				k.LastUsedAt = &t
			}
		}
		if k.RoutingMode == "" {
			k.RoutingMode = "auto"
		}
		keys = append(keys, k)
	}
	return keys, nil
}
