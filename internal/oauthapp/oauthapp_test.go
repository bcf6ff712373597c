package oauthapp_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shibaleo/mcpist/internal/crypto"
	"github.com/shibaleo/mcpist/internal/oauthapp"
	"github.com/shibaleo/mcpist/internal/store"
)

func newStore(t *testing.T) (*oauthapp.Store, *store.Memory) {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	sealer, err := crypto.NewSealer(base64.StdEncoding.EncodeToString(key), 1)
	require.NoError(t, err)
	mem := store.NewMemory()
	return oauthapp.New(mem, crypto.NewKeyring(sealer)), mem
}

func TestUpsertGetDecryptsSecret(t *testing.T) {
	s, mem := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "github", "client-1", "super-secret", "https://x/cb", true))

	cfg, err := s.Get(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, "client-1", cfg.ClientID)
	assert.Equal(t, "super-secret", cfg.ClientSecret)

	// At rest the secret is sealed.
	row, err := mem.GetOAuthApp(ctx, "github")
	require.NoError(t, err)
	assert.NotContains(t, row.EncryptedClientSecret, "super-secret")
}

func TestGetMissingProvider(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "notion", "cid", "sec", "", true))
	require.NoError(t, s.Delete(ctx, "notion"))
	_, err := s.Get(ctx, "notion")
	assert.Error(t, err)
}
