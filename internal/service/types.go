// Package service implements the gateway's coordination plane: session
// validation, routing, sticky binding, credential provisioning, and the
// streaming forwarder.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// GatewaySession is the record behind an opaque gateway token. Written by
// the account-management CLI; the gateway only reads it.
type GatewaySession struct {
	AccountPoolID string `json:"account_pool_id"`
	PolicyKey     string `json:"policy_key,omitempty"`
	Status        string `json:"status,omitempty"`
	IssuedAtMs    int64  `json:"issued_at_ms,omitempty"`
	ExpiresAtMs   int64  `json:"expires_at_ms,omitempty"`
	Note          string `json:"note,omitempty"`
}

const SessionStatusRevoked = "revoked"

// Active reports whether the session may route. A missing status field means
// active, for CLI writers that omit it.
func (s *GatewaySession) Active() bool {
	return s != nil && s.Status != SessionStatusRevoked
}

// AuthMaterial is the upstream authentication produced from an account's
// credential bundle. ExpiresAtMs already has the safety window subtracted.
type AuthMaterial struct {
	Authorization    string `json:"authorization"`
	ChatGPTAccountID string `json:"chatgpt_account_id,omitempty"`
	ExpiresAtMs      int64  `json:"expires_at_ms"`
}

func (m *AuthMaterial) ExpiresAt() time.Time {
	return time.UnixMilli(m.ExpiresAtMs)
}

// AccountRecord is one locally discovered account.
type AccountRecord struct {
	Label          string
	CredentialPath string
}

// RefreshCapability is everything needed to mint or refresh upstream bearer
// material for one account, loaded from its credential blob.
type RefreshCapability struct {
	Path          string
	TokenEndpoint string
	ClientID      string
	AccessToken   string
	RefreshToken  string
	AccountID     string
	ExpiresAt     time.Time
}

// TokenGrant is the result of a refresh against the identity endpoint.
type TokenGrant struct {
	AccessToken string
	AccountID   string
	ExpiresAt   time.Time
}

// SessionStore reads gateway sessions from the shared store. A nil session
// with nil error means "not present or revoked"; an error means the store
// itself is unreachable.
type SessionStore interface {
	GetSession(ctx context.Context, token string) (*GatewaySession, error)
}

// GatewayCache is the shared-store surface used by the sticky binder and the
// account token provider. All exclusive writes go through NX semantics or a
// compare-and-delete lock release; there is no single-writer assumption.
type GatewayCache interface {
	GetStickyAccount(ctx context.Context, poolID, conversationHash string) (string, error)
	ClaimStickyAccount(ctx context.Context, poolID, conversationHash, accountID string, ttl time.Duration) (bool, error)

	GetAuthMaterial(ctx context.Context, accountID string) (*AuthMaterial, error)
	PutAuthMaterial(ctx context.Context, accountID string, material *AuthMaterial, ttl time.Duration) error
	DeleteAuthMaterial(ctx context.Context, accountID string) error

	AcquireRefreshLock(ctx context.Context, accountID, holder string, ttl time.Duration) (bool, error)
	ReleaseRefreshLock(ctx context.Context, accountID, holder string) error
}

// CredentialSource loads and refreshes account credential bundles. The
// bundled auth.json implementation lives in repository; tests provide stubs.
type CredentialSource interface {
	Load(path string) (*RefreshCapability, error)
	Refresh(ctx context.Context, cap *RefreshCapability) (*TokenGrant, error)
}

// HashOpaqueID produces the fixed-length url-safe digest used wherever a
// client-supplied opaque id becomes a store key or a log field.
func HashOpaqueID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
