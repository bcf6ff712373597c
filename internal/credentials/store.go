// Package credentials implements the Credential Store: AEAD-encrypted
// per-user, per-module credential blobs, decrypted only on authorized
// reads and never logged in plaintext.
//
// Grounded on the spec's §4.2 Credential Store semantics layered over
// internal/store.CredentialStore and internal/crypto.Keyring.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/shibaleo/mcpist/internal/crypto"
	"github.com/shibaleo/mcpist/internal/store"
	"github.com/shibaleo/mcpist/pkg/models"
)

// Store wraps a backing store.Store with encryption, never exposing the
// raw store's encrypted-blob field to callers.
type Store struct {
	db      store.CredentialStore
	keyring *crypto.Keyring
}

// New builds a credential Store over db using keyring for AEAD sealing.
func New(db store.CredentialStore, keyring *crypto.Keyring) *Store {
	return &Store{db: db, keyring: keyring}
}

// Get decrypts and returns the plaintext credential for (userID, module).
// Never logs the decrypted value.
func (s *Store) Get(ctx context.Context, userID, module string) (*models.CredentialPlaintext, error) {
	cred, err := s.db.GetCredential(ctx, userID, module)
	if err != nil {
		return nil, err
	}
	raw, err := s.keyring.Open(cred.EncryptedBlob)
	if err != nil {
		return nil, fmt.Errorf("credentials: decrypt %s/%s: %w", userID, module, err)
	}
	var plain models.CredentialPlaintext
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("credentials: decode plaintext: %w", err)
	}
	return &plain, nil
}

// Upsert encrypts plaintext and writes it, seeding default ToolSettings
// on first link: seed carries one row per tool the module declares,
// enabled for read-only tools and disabled for the rest. Rows the user
// already has are left untouched.
func (s *Store) Upsert(ctx context.Context, userID, module string, plain models.CredentialPlaintext, keyVersion int, seed []models.ToolSetting) error {
	raw, err := json.Marshal(plain)
	if err != nil {
		return fmt.Errorf("credentials: encode plaintext: %w", err)
	}
	blob, err := s.keyring.Seal(raw)
	if err != nil {
		return fmt.Errorf("credentials: encrypt: %w", err)
	}
	cred := &models.Credential{
		UserID:        userID,
		ModuleName:    module,
		EncryptedBlob: blob,
		KeyVersion:    keyVersion,
	}
	if err := s.db.UpsertCredential(ctx, cred, seed); err != nil {
		return err
	}
	log.Info().Str("user_id", userID).Str("module", module).Msg("credential upserted")
	return nil
}

// UpdateTokens rewrites access_token/expires_at atomically after a token
// refresh, preserving every other field of the stored plaintext.
func (s *Store) UpdateTokens(ctx context.Context, userID, module, accessToken string, expiresAt *int64, refreshToken string) error {
	plain, err := s.Get(ctx, userID, module)
	if err != nil {
		return err
	}
	plain.AccessToken = accessToken
	plain.ExpiresAt = expiresAt
	if refreshToken != "" {
		plain.RefreshToken = refreshToken
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return fmt.Errorf("credentials: encode plaintext: %w", err)
	}
	blob, err := s.keyring.Seal(raw)
	if err != nil {
		return fmt.Errorf("credentials: encrypt: %w", err)
	}
	cred := &models.Credential{UserID: userID, ModuleName: module, EncryptedBlob: blob}
	return s.db.UpsertCredential(ctx, cred, nil)
}

// Delete unconditionally removes the credential within the user's scope.
func (s *Store) Delete(ctx context.Context, userID, module string) error {
	return s.db.DeleteCredential(ctx, userID, module)
}

// List returns metadata (no plaintext) for every credential the user holds.
func (s *Store) List(ctx context.Context, userID string) ([]models.Credential, error) {
	return s.db.ListCredentials(ctx, userID)
}
