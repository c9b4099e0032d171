package apikeys

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndAuthenticate(t *testing.T) {
	s := openTestStore(t)

	k, err := s.Create("test-key")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(k.Key, "sk-kiro-"))

	found, ok, err := s.Authenticate(k.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, k.ID, found.ID)

	_, ok, err = s.Authenticate("sk-kiro-nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisabledKeyFailsAuth(t *testing.T) {
	s := openTestStore(t)
	k, err := s.Create("disabled-key")
	require.NoError(t, err)
	require.NoError(t, s.SetEnabled(k.ID, false))

	_, ok, err := s.Authenticate(k.Key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordUsageAccumulates(t *testing.T) {
	s := openTestStore(t)
	k, err := s.Create("usage-key")
	require.NoError(t, err)

	require.NoError(t, s.RecordUsage(k.ID, 10, 20))
	require.NoError(t, s.RecordUsage(k.ID, 5, 5))

	keys, err := s.List()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, int64(2), keys[0].RequestCount)
	assert.Equal(t, int64(15), keys[0].InputTokens)
	assert.Equal(t, int64(25), keys[0].OutputTokens)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func TestResetRoutingForCredential(t *testing.T) {
	s := openTestStore(t)
	k, err := s.Create("pinned-key")
	require.NoError(t, err)

	cred := "cred-1"
	require.NoError(t, s.SetRouting(k.ID, "fixed", &cred))

	n, err := s.ResetRoutingForCredential(cred)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	keys, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, "auto", keys[0].RoutingMode)
	assert.Nil(t, keys[0].CredentialID)
}

func TestPreviewKeyMasking(t *testing.T) {
	assert.Equal(t, "********", PreviewKey("short123"))
	assert.Equal(t, "abcd****wxyz", PreviewKey("abcdEFGHwxyz"))
}
