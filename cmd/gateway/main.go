// mcpist Gateway — the edge process.
//
// Terminates client credentials (IdP JWTs and mpt_ API keys), mints
// 30-second Gateway Tokens, and proxies every /v1 request to the
// Protocol Server. Also publishes the discovery documents MCP clients
// use to find the OAuth linking flow.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shibaleo/mcpist/internal/config"
	"github.com/shibaleo/mcpist/internal/gateway"
	"github.com/shibaleo/mcpist/internal/keys"
	"github.com/shibaleo/mcpist/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.LoadGateway()
	ctx := context.Background()

	if cfg.Ed25519SeedB64 == "" {
		log.Fatal().Msg("MCPIST_GATEWAY_ED25519_SEED is required")
	}

	signer, err := keys.NewKeyPairFromSeed(cfg.Ed25519SeedB64)
	if err != nil {
		log.Fatal().Err(err).Msg("Ed25519 seed invalid")
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer db.Close()

	var idp *gateway.IdPJWKSCache
	if cfg.IdPJWKSURL != "" {
		idp = gateway.NewIdPJWKSCache(cfg.IdPJWKSURL, cfg.JWKSCacheTTL)
	} else {
		log.Warn().Msg("no IdP JWKS configured; only API-key authentication will work")
	}

	serverJWKS := keys.NewRemoteJWKS(strings.TrimSuffix(cfg.ServerURL, "/")+"/.well-known/jwks.json", cfg.JWKSCacheTTL, nil)
	revocations := gateway.NewRevocationCache(db, cfg.RevocationTTL)
	apiKeyVerifier := gateway.NewAPIKeyVerifier(serverJWKS, revocations, db)

	auth := gateway.NewAuthenticator(idp, apiKeyVerifier)
	proxy := gateway.NewProxy(cfg.ServerURL, cfg.ServerTimeout)
	handler := gateway.NewHandler(auth, signer, proxy, cfg.ResourceMetaURL)

	idpMetadataURL := ""
	if cfg.IdPIssuer != "" {
		idpMetadataURL = strings.TrimSuffix(cfg.IdPIssuer, "/") + "/.well-known/oauth-authorization-server"
	}
	wk := gateway.NewWellKnown(signer, cfg.ResourceMetaURL, cfg.IdPIssuer, idpMetadataURL)

	router := gateway.NewRouter(handler, wk, cfg.CORSOrigins)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // proxied SSE streams stay open
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

	log.Info().Int("port", cfg.Port).Str("upstream", cfg.ServerURL).Msg("gateway listening")
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("gateway failed")
	}
}

func openStore(ctx context.Context, cfg *config.GatewayConfig) (store.Store, error) {
	if cfg.Database.URL == "memory" {
		log.Warn().Msg("using in-memory store; api-key revocation checks see no persisted keys")
		return store.NewMemory(), nil
	}
	return store.NewPostgres(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
}
