package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	infraerrors "github.com/mikewong23571/codex/internal/pkg/errors"
	"github.com/mikewong23571/codex/internal/pkg/logger"
)

// StickyBinder assigns conversations to accounts with first-writer-wins
// semantics on the shared store.
type StickyBinder struct {
	cache GatewayCache
}

func NewStickyBinder(cache GatewayCache) *StickyBinder {
	return &StickyBinder{cache: cache}
}

// Bind returns the account for (pool, conversation), claiming a new binding
// atomically on a miss.
//
// A binding whose account left the candidate set is bypassed for this
// request but never deleted: the member may come back within TTL, and
// deleting would let concurrent requests re-claim divergent accounts.
func (b *StickyBinder) Bind(ctx context.Context, poolID, policyKey, conversationID string, candidates []string, ttl time.Duration) (string, error) {
	if len(candidates) == 0 {
		return "", infraerrors.Newf(infraerrors.KindNoEligibleAccount, "pool %q has no eligible accounts", poolID)
	}

	convHash := HashOpaqueID(conversationID)

	existing, err := b.cache.GetStickyAccount(ctx, poolID, convHash)
	if err != nil {
		return "", infraerrors.Wrap(infraerrors.KindBackendUnavailable, err, "reading sticky binding")
	}
	if existing != "" {
		if contains(candidates, existing) {
			return existing, nil
		}
		// Bound account is gone from the pool: route this request elsewhere
		// without touching the binding.
		logger.FromContext(ctx).Debug("sticky binding bypassed, bound account not eligible",
			zap.String("pool", poolID),
			zap.String("conversation", convHash))
		return SelectAccount(poolID, policyKey, conversationID, candidates)
	}

	selected, err := SelectAccount(poolID, policyKey, conversationID, candidates)
	if err != nil {
		return "", err
	}

	claimed, err := b.cache.ClaimStickyAccount(ctx, poolID, convHash, selected, ttl)
	if err != nil {
		return "", infraerrors.Wrap(infraerrors.KindBackendUnavailable, err, "claiming sticky binding")
	}
	if claimed {
		return selected, nil
	}

	// Another writer won the race; adopt its choice when usable.
	current, err := b.cache.GetStickyAccount(ctx, poolID, convHash)
	if err != nil {
		return "", infraerrors.Wrap(infraerrors.KindBackendUnavailable, err, "re-reading sticky binding")
	}
	if current != "" && contains(candidates, current) {
		return current, nil
	}
	return selected, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
