package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Credentials selects how the exporter authenticates. A service account
// wins over an OAuth client when both are set.
type Credentials struct {
	ServiceAccountJSON string
	ServiceAccountFile string
	OAuthClientJSON    string
	OAuthClientFile    string
	OAuthTokenFile     string
}

func readInlineOrFile(inline, path, what string) ([]byte, error) {
	if s := strings.TrimSpace(inline); s != "" {
		return []byte(s), nil
	}
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s file: %w", what, err)
	}
	return b, nil
}

// clientOptions turns credentials into Sheets client options.
func (c Credentials) clientOptions(ctx context.Context) ([]goption.ClientOption, error) {
	sa, err := readInlineOrFile(c.ServiceAccountJSON, c.ServiceAccountFile, "service account")
	if err != nil {
		return nil, err
	}
	if sa != nil {
		return []goption.ClientOption{
			goption.WithCredentialsJSON(sa),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}, nil
	}

	client, err := readInlineOrFile(c.OAuthClientJSON, c.OAuthClientFile, "OAuth client")
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("missing Google credentials: set a service account or an OAuth client with a token file")
	}
	if c.OAuthTokenFile == "" {
		return nil, errors.New("OAuth client credentials need GOOGLE_OAUTH_TOKEN_FILE; run oauth-init first")
	}
	cfg, err := goauth.ConfigFromJSON(client, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	tok, err := LoadToken(c.OAuthTokenFile)
	if err != nil {
		return nil, err
	}
	return []goption.ClientOption{goption.WithTokenSource(cfg.TokenSource(ctx, tok))}, nil
}

// LoadToken reads an OAuth token written by SaveToken.
func LoadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	return &tok, nil
}

// SaveToken writes tok to path with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}
