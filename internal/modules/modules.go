// Package modules holds the concrete per-provider module implementations
// registered into the Module Registry at boot: notion, github,
// google_calendar, and jira. Each module declares its tool descriptors,
// runs tool calls against the provider's REST API with a token pulled
// from the Token Broker, and compacts raw provider JSON into terse text
// for LLM consumption.
//
// Grounded on the teacher's internal/integrations/* adapter shape (one
// package-level adapter struct per external system, holding its deps and
// base URL) and on mcpgw's tool invocation contract.
package modules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shibaleo/mcpist/internal/authz"
	"github.com/shibaleo/mcpist/internal/registry"
	"github.com/shibaleo/mcpist/pkg/models"
)

// TokenSource hands out a valid decrypted credential for (user, module).
// Satisfied by tokenbroker.Broker.
type TokenSource interface {
	GetModuleToken(ctx context.Context, userID, module string) (*models.CredentialPlaintext, error)
}

// Deps is the shared runtime dependency set for every module.
type Deps struct {
	Tokens TokenSource
	HTTP   *http.Client

	// BaseURL overrides the provider's real API origin; used by tests.
	BaseURL string
}

func (d Deps) client() *http.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	return http.DefaultClient
}

// All builds every shipped module implementation over the shared deps.
// BaseURL overrides apply per-module via their own constructors; this is
// the production wiring with real provider origins.
func All(tokens TokenSource, httpClient *http.Client) []registry.ModuleImpl {
	deps := Deps{Tokens: tokens, HTTP: httpClient}
	return []registry.ModuleImpl{
		NewNotion(deps),
		NewGitHub(deps),
		NewGoogleCalendar(deps),
		NewJira(deps),
	}
}

// bearerFor resolves the caller's token for module out of the request
// context. The MCP dispatcher attaches the UserContext before invoking
// any handler.
func bearerFor(ctx context.Context, tokens TokenSource, module string) (string, error) {
	uc, ok := authz.UserFrom(ctx)
	if !ok {
		return "", fmt.Errorf("%s: no authenticated user in context", module)
	}
	cred, err := tokens.GetModuleToken(ctx, uc.UserID, module)
	if err != nil {
		return "", err
	}
	switch cred.AuthType {
	case models.AuthAPIKey:
		return cred.APIKey, nil
	default:
		return cred.AccessToken, nil
	}
}

// doJSON performs one provider HTTP call and returns the raw response
// body. Non-2xx responses become errors carrying the provider's status
// and (truncated) body text; the MCP layer surfaces these as tool
// results with isError, never as protocol errors.
func doJSON(ctx context.Context, client *http.Client, method, url, bearer string, body interface{}, extraHeaders map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// compactRows renders header + rows as CSV-style lines, the stable terse
// projection the compact formatters emit.
func compactRows(header []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(strings.Join(header, ","))
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(strings.Join(row, ","))
	}
	return b.String()
}

// jsonStr digs a dotted path out of decoded JSON, returning "" on any
// missing step. Keeps the per-tool compacters free of type assertions.
func jsonStr(v interface{}, path ...string) string {
	cur := v
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = m[p]
	}
	switch t := cur.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func jsonArr(v interface{}, path ...string) []interface{} {
	cur := v
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[p]
	}
	arr, _ := cur.([]interface{})
	return arr
}

func boolPtr(b bool) *bool { return &b }

func toolID(module, name string) string { return module + ":" + name }

// unmarshalParams decodes handler params into dst, tolerating an absent
// params blob.
func unmarshalParams(paramsJSON []byte, dst interface{}) error {
	if len(paramsJSON) == 0 {
		return nil
	}
	return json.Unmarshal(paramsJSON, dst)
}
