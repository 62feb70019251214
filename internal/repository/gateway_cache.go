package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mikewong23571/codex/internal/service"
)

const (
	stickyKeyPrefix      = "gw:sticky:"
	acctTokenKeyPrefix   = "gw:acct_token:"
	refreshLockKeyPrefix = "gw:lock:acct_token_refresh:"
)

// releaseLockScript deletes the lock only when the holder still owns it, so
// a slow refresher whose lock expired cannot release a successor's lock.
const releaseLockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

type gatewayCache struct {
	rdb *redis.Client
}

// NewGatewayCache returns the redis-backed sticky-binding, auth-material,
// and refresh-lock store.
func NewGatewayCache(rdb *redis.Client) service.GatewayCache {
	return &gatewayCache{rdb: rdb}
}

func stickyKey(poolID, conversationHash string) string {
	return fmt.Sprintf("%s%s:%s", stickyKeyPrefix, poolID, conversationHash)
}

func acctTokenKey(accountID string) string {
	return acctTokenKeyPrefix + accountID
}

func refreshLockKey(accountID string) string {
	return refreshLockKeyPrefix + accountID
}

func (c *gatewayCache) GetStickyAccount(ctx context.Context, poolID, conversationHash string) (string, error) {
	value, err := c.rdb.Get(ctx, stickyKey(poolID, conversationHash)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

// ClaimStickyAccount writes the binding only if none exists (SET NX). The
// first writer wins; the return value reports whether this caller won.
func (c *gatewayCache) ClaimStickyAccount(ctx context.Context, poolID, conversationHash, accountID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, stickyKey(poolID, conversationHash), accountID, ttl).Result()
}

func (c *gatewayCache) GetAuthMaterial(ctx context.Context, accountID string) (*service.AuthMaterial, error) {
	raw, err := c.rdb.Get(ctx, acctTokenKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var material service.AuthMaterial
	if err := json.Unmarshal([]byte(raw), &material); err != nil {
		return nil, fmt.Errorf("parsing cached auth material: %w", err)
	}
	return &material, nil
}

func (c *gatewayCache) PutAuthMaterial(ctx context.Context, accountID string, material *service.AuthMaterial, ttl time.Duration) error {
	raw, err := json.Marshal(material)
	if err != nil {
		return fmt.Errorf("serializing auth material: %w", err)
	}
	return c.rdb.Set(ctx, acctTokenKey(accountID), raw, ttl).Err()
}

func (c *gatewayCache) DeleteAuthMaterial(ctx context.Context, accountID string) error {
	return c.rdb.Del(ctx, acctTokenKey(accountID)).Err()
}

func (c *gatewayCache) AcquireRefreshLock(ctx context.Context, accountID, holder string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, refreshLockKey(accountID), holder, ttl).Result()
}

func (c *gatewayCache) ReleaseRefreshLock(ctx context.Context, accountID, holder string) error {
	return c.rdb.Eval(ctx, releaseLockScript, []string{refreshLockKey(accountID)}, holder).Err()
}
