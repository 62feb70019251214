package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikewong23571/codex/internal/pkg/authfile"
	infraerrors "github.com/mikewong23571/codex/internal/pkg/errors"
	"github.com/mikewong23571/codex/internal/service"
)

func unsignedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{"exp": exp.Unix()})
	require.NoError(t, err)
	return fmt.Sprintf("%s.%s.sig",
		base64.RawURLEncoding.EncodeToString(header),
		base64.RawURLEncoding.EncodeToString(payload),
	)
}

func writeBlob(t *testing.T, dir, tokenEndpoint, accessToken string) string {
	t.Helper()
	path := filepath.Join(dir, authfile.Name)
	require.NoError(t, authfile.Write(path, &authfile.File{
		TokenEndpoint: tokenEndpoint,
		ClientID:      "app_1",
		Tokens: authfile.Tokens{
			AccessToken:  accessToken,
			RefreshToken: "rt-old",
			AccountID:    "acct-1",
		},
	}))
	return path
}

func TestLoadCapability(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	path := writeBlob(t, t.TempDir(), "https://identity.test/oauth/token", unsignedJWT(t, exp))

	source := NewCredentialSource(NewIdentityClient())
	capability, err := source.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://identity.test/oauth/token", capability.TokenEndpoint)
	assert.Equal(t, "app_1", capability.ClientID)
	assert.Equal(t, "rt-old", capability.RefreshToken)
	assert.Equal(t, "acct-1", capability.AccountID)
	assert.True(t, capability.ExpiresAt.Equal(exp))
}

func TestLoadCapabilityWithoutAccessToken(t *testing.T) {
	path := writeBlob(t, t.TempDir(), "https://identity.test/oauth/token", "")

	source := NewCredentialSource(NewIdentityClient())
	capability, err := source.Load(path)
	require.NoError(t, err)

	// Zero expiry forces an immediate refresh.
	assert.True(t, capability.ExpiresAt.IsZero())
}

func TestRefreshRotatesAndPersistsTokens(t *testing.T) {
	newExp := time.Now().Add(time.Hour).Truncate(time.Second)
	newAccess := unsignedJWT(t, newExp)

	identity := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh_token", body["grant_type"])
		assert.Equal(t, "rt-old", body["refresh_token"])
		assert.Equal(t, "app_1", body["client_id"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  newAccess,
			"refresh_token": "rt-new",
			"expires_in":    3600,
			"account_id":    "acct-rotated",
		})
	}))
	defer identity.Close()

	path := writeBlob(t, t.TempDir(), identity.URL, "")
	source := NewCredentialSource(NewIdentityClient())

	capability, err := source.Load(path)
	require.NoError(t, err)

	grant, err := source.Refresh(context.Background(), capability)
	require.NoError(t, err)
	assert.Equal(t, newAccess, grant.AccessToken)
	assert.Equal(t, "acct-rotated", grant.AccountID)
	assert.True(t, grant.ExpiresAt.Equal(newExp))

	// The rotated refresh token is persisted for the next process.
	persisted, err := authfile.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "rt-new", persisted.Tokens.RefreshToken)
	assert.Equal(t, newAccess, persisted.Tokens.AccessToken)
	assert.Equal(t, "acct-rotated", persisted.Tokens.AccountID)
}

func TestRefreshRejectedIsCredentialInvalid(t *testing.T) {
	identity := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer identity.Close()

	path := writeBlob(t, t.TempDir(), identity.URL, "")
	source := NewCredentialSource(NewIdentityClient())

	capability, err := source.Load(path)
	require.NoError(t, err)

	_, err = source.Refresh(context.Background(), capability)
	require.Error(t, err)
	assert.Equal(t, infraerrors.KindCredentialInvalid, infraerrors.KindOf(err))
}

func TestLoadMissingBlob(t *testing.T) {
	source := NewCredentialSource(NewIdentityClient())
	_, err := source.Load(filepath.Join(t.TempDir(), authfile.Name))
	require.Error(t, err)
}

var _ service.CredentialSource = (*credentialSource)(nil)
