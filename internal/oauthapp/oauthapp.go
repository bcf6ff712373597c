// Package oauthapp manages per-provider OAuth2 client configuration: the
// client_id / encrypted client_secret / redirect_uri the Token Broker
// needs to refresh expiring access tokens.
package oauthapp

import (
	"context"
	"fmt"

	"github.com/shibaleo/mcpist/internal/crypto"
	"github.com/shibaleo/mcpist/internal/store"
	"github.com/shibaleo/mcpist/pkg/models"
)

// Config is a provider's OAuth2 app configuration with the secret already
// decrypted — never persisted or logged in this form.
type Config struct {
	Provider     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Store resolves OAuthApp rows and decrypts client secrets on demand.
type Store struct {
	db      store.OAuthAppStore
	keyring *crypto.Keyring
}

// New builds an oauthapp.Store over db.
func New(db store.OAuthAppStore, keyring *crypto.Keyring) *Store {
	return &Store{db: db, keyring: keyring}
}

// Get returns the decrypted config for provider, or an error if disabled
// or missing.
func (s *Store) Get(ctx context.Context, provider string) (*Config, error) {
	app, err := s.db.GetOAuthApp(ctx, provider)
	if err != nil {
		return nil, err
	}
	if !app.Enabled {
		return nil, fmt.Errorf("oauthapp: provider %s disabled", provider)
	}
	secret, err := s.keyring.Open(app.EncryptedClientSecret)
	if err != nil {
		return nil, fmt.Errorf("oauthapp: decrypt secret for %s: %w", provider, err)
	}
	return &Config{
		Provider:     app.Provider,
		ClientID:     app.ClientID,
		ClientSecret: string(secret),
		RedirectURI:  app.RedirectURI,
	}, nil
}

// Upsert encrypts secret and writes the app config.
func (s *Store) Upsert(ctx context.Context, provider, clientID, secret, redirectURI string, enabled bool) error {
	blob, err := s.keyring.Seal([]byte(secret))
	if err != nil {
		return fmt.Errorf("oauthapp: encrypt secret: %w", err)
	}
	return s.db.UpsertOAuthApp(ctx, &models.OAuthApp{
		Provider:              provider,
		ClientID:              clientID,
		EncryptedClientSecret: blob,
		RedirectURI:           redirectURI,
		Enabled:               enabled,
	})
}

// List returns all configured apps (secrets not decrypted).
func (s *Store) List(ctx context.Context) ([]models.OAuthApp, error) {
	return s.db.ListOAuthApps(ctx)
}

// Delete removes a provider's app config.
func (s *Store) Delete(ctx context.Context, provider string) error {
	return s.db.DeleteOAuthApp(ctx, provider)
}
