package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/imroc/req/v3"

	infraerrors "github.com/mikewong23571/codex/internal/pkg/errors"
)

const identityRequestTimeout = 60 * time.Second

// TokenResponse is the identity endpoint's grant payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	AccountID    string `json:"account_id,omitempty"`
}

// IdentityClient exchanges refresh tokens at the identity endpoint embedded
// in an account's credential blob.
type IdentityClient struct {
	client *req.Client
}

func NewIdentityClient() *IdentityClient {
	return &IdentityClient{
		client: req.C().SetTimeout(identityRequestTimeout),
	}
}

// RefreshToken performs the refresh_token grant. A rejection by the
// endpoint is a CredentialInvalid; transport failures bubble up unwrapped.
func (c *IdentityClient) RefreshToken(ctx context.Context, tokenEndpoint, clientID, refreshToken string) (*TokenResponse, error) {
	reqBody := map[string]any{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     clientID,
	}

	var tokenResp TokenResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetSuccessResult(&tokenResp).
		Post(tokenEndpoint)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if !resp.IsSuccessState() {
		return nil, infraerrors.Newf(infraerrors.KindCredentialInvalid,
			"token refresh rejected: status %d", resp.StatusCode)
	}
	if tokenResp.AccessToken == "" {
		return nil, infraerrors.New(infraerrors.KindCredentialInvalid, "token refresh returned no access token")
	}
	return &tokenResp, nil
}
