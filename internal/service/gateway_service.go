package service

import (
	"context"

	"github.com/mikewong23571/codex/internal/config"
	infraerrors "github.com/mikewong23571/codex/internal/pkg/errors"
)

// GatewayService ties routing, credential provisioning, and forwarding
// together for the ingress handler.
type GatewayService struct {
	cfg       *config.Store
	resolver  *PoolResolver
	binder    *StickyBinder
	tokens    *TokenProvider
	forwarder *Forwarder
}

func NewGatewayService(
	cfg *config.Store,
	resolver *PoolResolver,
	binder *StickyBinder,
	tokens *TokenProvider,
	forwarder *Forwarder,
) *GatewayService {
	return &GatewayService{
		cfg:       cfg,
		resolver:  resolver,
		binder:    binder,
		tokens:    tokens,
		forwarder: forwarder,
	}
}

// RouteAccount picks the account for one request: sticky per conversation
// when the client sent one, otherwise a deterministic per-request choice.
func (s *GatewayService) RouteAccount(ctx context.Context, session *GatewaySession, token, method, path, conversationID string) (string, error) {
	poolID := session.AccountPoolID

	candidates := s.resolver.Resolve(poolID)
	if len(candidates) == 0 {
		return "", infraerrors.Newf(infraerrors.KindNoEligibleAccount, "pool %q has no eligible accounts", poolID)
	}

	policyKey := session.PolicyKey
	if policyKey == "" {
		policyKey = s.resolver.PolicyKey(poolID)
	}

	if conversationID != "" {
		ttl := s.cfg.Current().Gateway.StickyTTL()
		return s.binder.Bind(ctx, poolID, policyKey, conversationID, candidates, ttl)
	}
	return SelectAccount(poolID, policyKey, NonStickyFingerprint(token, method, path), candidates)
}

// AuthMaterial resolves the upstream credentials for the chosen account.
func (s *GatewayService) AuthMaterial(ctx context.Context, accountID string) (*AuthMaterial, error) {
	return s.tokens.GetAuthMaterial(ctx, accountID)
}

// Forwarder exposes the streaming proxy.
func (s *GatewayService) Forwarder() *Forwarder {
	return s.forwarder
}
