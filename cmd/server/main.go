// mcpist Protocol Server — the central MCP process.
//
// Speaks JSON-RPC 2.0 over inline POST and SSE, dispatches the three
// meta-tools against the Module Registry, enforces per-user
// authorization and quota on every call, and serves the /v1/me and
// /v1/admin management API. Trusts only Gateway Tokens minted by the
// edge Gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shibaleo/mcpist/internal/api"
	"github.com/shibaleo/mcpist/internal/apikeys"
	"github.com/shibaleo/mcpist/internal/authz"
	"github.com/shibaleo/mcpist/internal/config"
	"github.com/shibaleo/mcpist/internal/credentials"
	"github.com/shibaleo/mcpist/internal/crypto"
	"github.com/shibaleo/mcpist/internal/keys"
	"github.com/shibaleo/mcpist/internal/mcp"
	"github.com/shibaleo/mcpist/internal/modules"
	"github.com/shibaleo/mcpist/internal/oauthapp"
	"github.com/shibaleo/mcpist/internal/prompts"
	"github.com/shibaleo/mcpist/internal/ratelimit"
	"github.com/shibaleo/mcpist/internal/registry"
	"github.com/shibaleo/mcpist/internal/store"
	"github.com/shibaleo/mcpist/internal/telemetry"
	"github.com/shibaleo/mcpist/internal/tokenbroker"
	"github.com/shibaleo/mcpist/internal/usage"
)

// credentialKeyVersion is the active AEAD key version stamped onto new
// credential blobs. Bump alongside key rotation.
const credentialKeyVersion = 1

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.LoadServer()
	ctx := context.Background()

	if cfg.AEADKeyB64 == "" {
		log.Fatal().Msg("MCPIST_AEAD_KEY is required")
	}
	if cfg.Ed25519SeedB64 == "" {
		log.Fatal().Msg("MCPIST_SERVER_ED25519_SEED is required")
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(cfg.Telemetry)
		if err != nil {
			log.Fatal().Err(err).Msg("telemetry init failed")
		}
		defer shutdown(ctx)
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer db.Close()

	sealer, err := crypto.NewSealer(cfg.AEADKeyB64, credentialKeyVersion)
	if err != nil {
		log.Fatal().Err(err).Msg("AEAD key invalid")
	}
	keyring := crypto.NewKeyring(sealer)

	signer, err := keys.NewKeyPairFromSeed(cfg.Ed25519SeedB64)
	if err != nil {
		log.Fatal().Err(err).Msg("Ed25519 seed invalid")
	}

	credsStore := credentials.New(db, keyring)
	appsStore := oauthapp.New(db, keyring)
	broker := tokenbroker.New(credsStore, appsStore, nil, cfg.RefreshSkew)

	reg := registry.New(modules.All(broker, nil)...)
	if err := db.SyncModuleCatalog(ctx, reg.Modules()); err != nil {
		log.Fatal().Err(err).Msg("module catalog sync failed")
	}

	recorder := usage.New(db)
	gatewayJWKS := keys.NewRemoteJWKS(cfg.GatewayJWKSURL, keys.DefaultJWKSCacheTTL, nil)
	az := authz.New(gatewayJWKS, db, recorder, cfg.ConsoleURL)
	promptSvc := prompts.New(db)

	mcpServer := mcp.New(reg, az, recorder, promptSvc, cfg.Version)
	transport := mcp.NewTransport(mcpServer, cfg.SSEBufferSize)

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitIdleGC)
	stopEviction := make(chan struct{})
	defer close(stopEviction)
	go limiter.RunEvictionLoop(time.Minute, stopEviction)

	handlers := &api.Handlers{
		Store:       db,
		Credentials: credsStore,
		OAuthApps:   appsStore,
		APIKeys:     apikeys.New(signer, db),
		Prompts:     promptSvc,
		Usage:       recorder,
		Registry:    reg,
		KeyVersion:  credentialKeyVersion,
	}

	router := api.NewRouter(handlers, transport, az, limiter, signer, cfg.CORSOrigins)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", cfg.Port).Str("version", cfg.Version).Msg("protocol server listening")
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// openStore connects the configured backend: pgx for a postgres URL, or
// the in-memory store when DATABASE_URL=memory (local dev).
func openStore(ctx context.Context, cfg *config.ServerConfig) (store.Store, error) {
	if cfg.Database.URL == "memory" {
		log.Warn().Msg("using in-memory store; data will not survive restarts")
		return store.NewMemory(), nil
	}
	db, err := store.NewPostgres(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		return nil, err
	}
	return db, nil
}
