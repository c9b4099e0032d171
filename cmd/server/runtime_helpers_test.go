package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kiro-gateway/internal/apikeys"
	"kiro-gateway/internal/config"
	"kiro-gateway/internal/sticky"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyKeysPath(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.ConfigDir = "/data"
	assert.Equal(t, "/data/api_keys.json", legacyKeysPath(cfg))
}

func TestParseLegacyKeys(t *testing.T) {
	raw := []byte(`[
		{"id":"k1","name":"one","key":"sk-kiro-aaa","enabled":true,"created_at":"2024-01-01T00:00:00Z","request_count":3,"input_tokens":10,"output_tokens":20,"routing_mode":"auto"},
		{"id":"k2","name":"two","key":"sk-kiro-bbb","enabled":false,"created_at":"not-a-time","routing_mode":""}
	]`)

	keys, err := parseLegacyKeys(raw)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	assert.Equal(t, "k1", keys[0].ID)
	assert.Equal(t, int64(3), keys[0].RequestCount)
	assert.Equal(t, "auto", keys[0].RoutingMode)

	// Unparseable created_at falls back to now(); routing_mode defaults to auto.
	assert.False(t, keys[1].CreatedAt.IsZero())
	assert.Equal(t, "auto", keys[1].RoutingMode)
}

func TestMigrateLegacyKeysFileRenamesOnSuccess(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "api_keys.json")
	require.NoError(t, os.WriteFile(legacyPath, []byte(`[{"id":"k1","name":"one","key":"sk-kiro-aaa","enabled":true,"created_at":"2024-01-01T00:00:00Z","routing_mode":"auto"}]`), 0o600))

	store, err := apikeys.Open(filepath.Join(dir, "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, migrateLegacyKeysFile(store, legacyPath))

	_, err = os.Stat(legacyPath)
	assert.True(t, os.IsNotExist(err), "legacy file should be renamed away")
	_, err = os.Stat(legacyPath + ".migrated")
	assert.NoError(t, err)

	keys, err := store.List()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "k1", keys[0].ID)
}

func TestMigrateLegacyKeysFileMissingIsNoop(t *testing.T) {
	dir := t.TempDir()
	store, err := apikeys.Open(filepath.Join(dir, "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, migrateLegacyKeysFile(store, filepath.Join(dir, "nonexistent.json")))
}

func TestRunZombieSweepStopsOnCancel(t *testing.T) {
	tracker := sticky.New(sticky.Params{
		MaxConcurrentPerCredential: 1,
		MaxConcurrentPerKey:        1,
		StickyExpiry:               time.Minute,
		ZombieStreamTimeout:        time.Minute,
	})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		runZombieSweep(ctx, tracker)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runZombieSweep did not stop after context cancellation")
	}
}
