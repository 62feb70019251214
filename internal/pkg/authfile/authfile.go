// Package authfile reads and writes the per-account credential blob
// (<accounts_root>/<label>/auth.json).
package authfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Name is the credential blob filename inside an account directory.
const Name = "auth.json"

// File is the bundled credential blob format. The token endpoint and client
// id embedded here are what the refresh operation talks to; the gateway
// carries no identity-provider configuration of its own.
type File struct {
	TokenEndpoint string `json:"token_endpoint"`
	ClientID      string `json:"client_id"`
	Tokens        Tokens `json:"tokens"`
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	AccountID    string `json:"account_id,omitempty"`
}

// ErrNotFound reports a missing credential blob.
var ErrNotFound = errors.New("auth file not found")

// Read loads and validates the blob at path.
func Read(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if f.Tokens.RefreshToken == "" {
		return nil, fmt.Errorf("%s: missing tokens.refresh_token", path)
	}
	if f.TokenEndpoint == "" {
		return nil, fmt.Errorf("%s: missing token_endpoint", path)
	}
	return &f, nil
}

// Write persists the blob atomically (tmp + rename) so concurrent readers
// never observe a partial file.
func Write(path string, f *File) error {
	out, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing %s: %w", path, err)
	}
	out = append(out, '\n')

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// AccessTokenExpiry extracts the exp claim from an access token without
// verifying the signature; the gateway only needs the expiry, the upstream
// verifies authenticity.
func AccessTokenExpiry(accessToken string) (time.Time, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing access token: %w", err)
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("access token has no exp claim")
	}
	return exp.Time, nil
}
