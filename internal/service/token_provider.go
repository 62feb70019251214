package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mikewong23571/codex/internal/pkg/authfile"
	infraerrors "github.com/mikewong23571/codex/internal/pkg/errors"
	"github.com/mikewong23571/codex/internal/pkg/logger"
)

const (
	refreshLockTTL = 15 * time.Second
	lockWaitPoll   = 100 * time.Millisecond
	lockWaitSlack  = 2 * time.Second
	cacheReadGrace = 5 * time.Second
	minMaterialTTL = time.Second
)

// TokenProvider produces upstream AuthMaterial per account with a shared
// cache and single-flight refresh. The distributed refresh lock is
// authoritative across gateway instances; the in-process singleflight group
// only collapses concurrent local callers onto one lock attempt.
type TokenProvider struct {
	cache        GatewayCache
	source       CredentialSource
	discovery    *Discovery
	safetyWindow time.Duration

	lockTTL   time.Duration
	waitPoll  time.Duration
	waitSlack time.Duration

	group singleflight.Group
}

func NewTokenProvider(cache GatewayCache, source CredentialSource, discovery *Discovery, safetyWindow time.Duration) *TokenProvider {
	return &TokenProvider{
		cache:        cache,
		source:       source,
		discovery:    discovery,
		safetyWindow: safetyWindow,
		lockTTL:      refreshLockTTL,
		waitPoll:     lockWaitPoll,
		waitSlack:    lockWaitSlack,
	}
}

// GetAuthMaterial returns cached material when fresh, otherwise refreshes
// under the per-account lock.
func (p *TokenProvider) GetAuthMaterial(ctx context.Context, accountID string) (*AuthMaterial, error) {
	material, err := p.getCachedFresh(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if material != nil {
		return material, nil
	}

	result, err, _ := p.group.Do(accountID, func() (any, error) {
		return p.refreshWithLock(ctx, accountID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*AuthMaterial), nil
}

// Evict drops the cached material for an account. Called once by the
// forwarder when the upstream answers 401/403.
func (p *TokenProvider) Evict(ctx context.Context, accountID string) {
	if err := p.cache.DeleteAuthMaterial(ctx, accountID); err != nil {
		logger.FromContext(ctx).Warn("evicting cached auth material failed",
			zap.String("account", accountID), zap.Error(err))
	}
}

func (p *TokenProvider) getCachedFresh(ctx context.Context, accountID string) (*AuthMaterial, error) {
	material, err := p.cache.GetAuthMaterial(ctx, accountID)
	if err != nil {
		return nil, infraerrors.Wrap(infraerrors.KindBackendUnavailable, err, "reading cached auth material")
	}
	if material != nil && time.Now().Add(cacheReadGrace).Before(material.ExpiresAt()) {
		return material, nil
	}
	return nil, nil
}

func (p *TokenProvider) refreshWithLock(ctx context.Context, accountID string) (*AuthMaterial, error) {
	holder := uuid.NewString()
	acquired, err := p.cache.AcquireRefreshLock(ctx, accountID, holder, p.lockTTL)
	if err != nil {
		return nil, infraerrors.Wrap(infraerrors.KindBackendUnavailable, err, "acquiring refresh lock")
	}

	if !acquired {
		return p.awaitRefresh(ctx, accountID)
	}

	defer func() {
		// Compare-and-delete; an expired lock is released by TTL instead.
		if err := p.cache.ReleaseRefreshLock(ctx, accountID, holder); err != nil {
			logger.FromContext(ctx).Warn("releasing refresh lock failed",
				zap.String("account", accountID), zap.Error(err))
		}
	}()

	// Another process may have refreshed while we raced for the lock.
	material, err := p.getCachedFresh(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if material != nil {
		return material, nil
	}

	material, err = p.mintMaterial(ctx, accountID)
	if err != nil {
		return nil, err
	}

	ttl := time.Until(material.ExpiresAt())
	if ttl < minMaterialTTL {
		ttl = minMaterialTTL
	}
	if err := p.cache.PutAuthMaterial(ctx, accountID, material, ttl); err != nil {
		return nil, infraerrors.Wrap(infraerrors.KindBackendUnavailable, err, "caching auth material")
	}
	return material, nil
}

// awaitRefresh polls the cache while another holder refreshes. The wait is
// bounded by the lock TTL plus slack; there are no unbounded waits.
func (p *TokenProvider) awaitRefresh(ctx context.Context, accountID string) (*AuthMaterial, error) {
	deadline := time.Now().Add(p.lockTTL + p.waitSlack)
	ticker := time.NewTicker(p.waitPoll)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		material, err := p.getCachedFresh(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if material != nil {
			return material, nil
		}
	}

	material, err := p.getCachedFresh(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if material != nil {
		return material, nil
	}
	return nil, infraerrors.Newf(infraerrors.KindCredentialRefreshTimeout, "timed out waiting for refresh of account %q", accountID)
}

func (p *TokenProvider) mintMaterial(ctx context.Context, accountID string) (*AuthMaterial, error) {
	record, ok := p.discovery.Lookup(accountID)
	if !ok {
		return nil, infraerrors.Newf(infraerrors.KindCredentialMissing, "account %q is not discoverable", accountID)
	}

	capability, err := p.source.Load(record.CredentialPath)
	if err != nil {
		if errors.Is(err, authfile.ErrNotFound) {
			return nil, infraerrors.Wrap(infraerrors.KindCredentialMissing, err, "loading credential blob")
		}
		return nil, infraerrors.Wrap(infraerrors.KindCredentialInvalid, err, "loading credential blob")
	}

	accessToken := capability.AccessToken
	chatgptAccountID := capability.AccountID
	expiresAt := capability.ExpiresAt

	if time.Until(expiresAt) <= p.safetyWindow {
		grant, err := p.source.Refresh(ctx, capability)
		if err != nil {
			if infraerrors.KindOf(err) != infraerrors.KindInternal {
				return nil, err
			}
			return nil, infraerrors.Wrap(infraerrors.KindCredentialInvalid, err, "refreshing credential")
		}
		accessToken = grant.AccessToken
		if grant.AccountID != "" {
			chatgptAccountID = grant.AccountID
		}
		expiresAt = grant.ExpiresAt
	}

	material := &AuthMaterial{
		Authorization:    "Bearer " + accessToken,
		ChatGPTAccountID: chatgptAccountID,
		ExpiresAtMs:      expiresAt.Add(-p.safetyWindow).UnixMilli(),
	}
	if time.Until(material.ExpiresAt()) <= 0 {
		return nil, infraerrors.Newf(infraerrors.KindCredentialInvalid, "account %q produced an expired access token", accountID)
	}
	return material, nil
}
