package repository

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mikewong23571/codex/internal/pkg/authfile"
	"github.com/mikewong23571/codex/internal/pkg/logger"
	"github.com/mikewong23571/codex/internal/service"
)

// credentialSource is the bundled auth.json credential implementation.
type credentialSource struct {
	identity *IdentityClient
}

// NewCredentialSource returns the auth.json-backed CredentialSource.
func NewCredentialSource(identity *IdentityClient) service.CredentialSource {
	return &credentialSource{identity: identity}
}

func (s *credentialSource) Load(path string) (*service.RefreshCapability, error) {
	f, err := authfile.Read(path)
	if err != nil {
		return nil, err
	}

	// A blob without a parseable access token is still refreshable; the
	// zero expiry forces an immediate refresh.
	var expiresAt time.Time
	if f.Tokens.AccessToken != "" {
		if exp, err := authfile.AccessTokenExpiry(f.Tokens.AccessToken); err == nil {
			expiresAt = exp
		}
	}

	return &service.RefreshCapability{
		Path:          path,
		TokenEndpoint: f.TokenEndpoint,
		ClientID:      f.ClientID,
		AccessToken:   f.Tokens.AccessToken,
		RefreshToken:  f.Tokens.RefreshToken,
		AccountID:     f.Tokens.AccountID,
		ExpiresAt:     expiresAt,
	}, nil
}

func (s *credentialSource) Refresh(ctx context.Context, capability *service.RefreshCapability) (*service.TokenGrant, error) {
	grant, err := s.identity.RefreshToken(ctx, capability.TokenEndpoint, capability.ClientID, capability.RefreshToken)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	if exp, err := authfile.AccessTokenExpiry(grant.AccessToken); err == nil {
		expiresAt = exp
	}

	refreshToken := capability.RefreshToken
	if grant.RefreshToken != "" {
		refreshToken = grant.RefreshToken
	}
	accountID := capability.AccountID
	if grant.AccountID != "" {
		accountID = grant.AccountID
	}

	// Persist the rotated tokens so the next process start (or another
	// instance sharing the accounts tree) picks them up.
	updated := &authfile.File{
		TokenEndpoint: capability.TokenEndpoint,
		ClientID:      capability.ClientID,
		Tokens: authfile.Tokens{
			AccessToken:  grant.AccessToken,
			RefreshToken: refreshToken,
			AccountID:    accountID,
		},
	}
	if err := authfile.Write(capability.Path, updated); err != nil {
		logger.L().Warn("persisting refreshed credentials failed",
			zap.String("path", capability.Path), zap.Error(err))
	}

	return &service.TokenGrant{
		AccessToken: grant.AccessToken,
		AccountID:   accountID,
		ExpiresAt:   expiresAt,
	}, nil
}
