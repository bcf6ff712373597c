// Package tokenbroker implements the Token Broker: given (user, module),
// returns a valid access token, transparently refreshing expiring OAuth2
// tokens with single-flight concurrency control.
//
// Refresh uses golang.org/x/oauth2's token types,
// golang.org/x/sync/singleflight to collapse concurrent refreshes, and
// cenkalti/backoff/v4 for retrying the provider's token endpoint.
package tokenbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/shibaleo/mcpist/internal/credentials"
	"github.com/shibaleo/mcpist/internal/oauthapp"
	"github.com/shibaleo/mcpist/pkg/models"
)

// DefaultRefreshSkew is the default window before expiry at which a token is
// proactively refreshed.
const DefaultRefreshSkew = 60 * time.Second

// tokenEndpoints maps module/provider name to its OAuth2 token endpoint.
// Static, like the Module Registry itself — a new provider means a code
// change here alongside its module implementation.
var tokenEndpoints = map[string]string{
	"github":          "https://github.com/login/oauth/access_token",
	"google_calendar": "https://oauth2.googleapis.com/token",
	"notion":          "https://api.notion.com/v1/oauth/token",
	"jira":            "https://auth.atlassian.com/oauth/token",
}

// Broker hands out fresh access tokens, refreshing OAuth2 credentials
// in-band when they're within RefreshSkew of expiry.
type Broker struct {
	creds       *credentials.Store
	apps        *oauthapp.Store
	httpClient  *http.Client
	refreshSkew time.Duration

	group singleflight.Group
}

// New builds a Broker.
func New(creds *credentials.Store, apps *oauthapp.Store, httpClient *http.Client, refreshSkew time.Duration) *Broker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if refreshSkew <= 0 {
		refreshSkew = DefaultRefreshSkew
	}
	return &Broker{
		creds:       creds,
		apps:        apps,
		httpClient:  httpClient,
		refreshSkew: refreshSkew,
	}
}

// GetModuleToken returns a valid credential for (userID, module),
// refreshing it first if it's OAuth2 and within the skew window of expiry.
func (b *Broker) GetModuleToken(ctx context.Context, userID, module string) (*models.CredentialPlaintext, error) {
	cred, err := b.creds.Get(ctx, userID, module)
	if err != nil {
		return nil, fmt.Errorf("tokenbroker: load credential: %w", err)
	}

	if cred.AuthType != models.AuthOAuth2 {
		return cred, nil
	}
	if cred.ExpiresAt == nil {
		return cred, nil
	}
	if time.Unix(*cred.ExpiresAt, 0).After(time.Now().Add(b.refreshSkew)) {
		return cred, nil
	}

	return b.refreshSingleFlight(ctx, userID, module)
}

// refreshSingleFlight collapses concurrent refreshes for the same
// (user, module) onto one provider call; everyone gets the winner's
// result. The group key is cleared on completion so the next expiry
// triggers a fresh refresh.
func (b *Broker) refreshSingleFlight(ctx context.Context, userID, module string) (*models.CredentialPlaintext, error) {
	key := userID + "|" + module
	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		return b.doRefresh(ctx, userID, module)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.CredentialPlaintext), nil
}

func (b *Broker) doRefresh(ctx context.Context, userID, module string) (*models.CredentialPlaintext, error) {
	cred, err := b.creds.Get(ctx, userID, module)
	if err != nil {
		return nil, fmt.Errorf("tokenbroker: reload credential: %w", err)
	}
	// Another refresher may have already won the race before we took the
	// single-flight slot; re-check freshness against the latest value.
	if cred.ExpiresAt != nil && time.Unix(*cred.ExpiresAt, 0).After(time.Now().Add(b.refreshSkew)) {
		return cred, nil
	}

	app, err := b.apps.Get(ctx, module)
	if err != nil {
		return nil, fmt.Errorf("tokenbroker: oauth app config: %w", err)
	}
	tokenURL, ok := tokenEndpoints[module]
	if !ok {
		return nil, fmt.Errorf("tokenbroker: no token endpoint configured for %s", module)
	}

	var tok *oauth2.Token
	op := func() error {
		var opErr error
		tok, opErr = b.exchangeRefreshToken(ctx, tokenURL, app, cred.RefreshToken)
		return opErr
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("module", module).Msg("token refresh failed")
		return nil, fmt.Errorf("tokenbroker: refresh: %w", err)
	}

	expiresAt := time.Now().Add(tok.Expiry.Sub(time.Now())).Unix()
	if tok.Expiry.IsZero() {
		expiresAt = time.Now().Add(time.Hour).Unix()
	}
	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken // provider omitted it; keep the old one
	}

	if err := b.creds.UpdateTokens(ctx, userID, module, tok.AccessToken, &expiresAt, refreshToken); err != nil {
		return nil, fmt.Errorf("tokenbroker: writeback: %w", err)
	}

	cred.AccessToken = tok.AccessToken
	cred.ExpiresAt = &expiresAt
	cred.RefreshToken = refreshToken
	return cred, nil
}

func (b *Broker) exchangeRefreshToken(ctx context.Context, tokenURL string, app *oauthapp.Config, refreshToken string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {app.ClientID},
		"client_secret": {app.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tokenbroker: provider returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("tokenbroker: decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("tokenbroker: empty access_token in response")
	}

	expiry := time.Time{}
	if body.ExpiresIn > 0 {
		expiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	return &oauth2.Token{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		TokenType:    body.TokenType,
		Expiry:       expiry,
	}, nil
}
