// Package repository implements the shared-store and identity-endpoint
// surfaces consumed by the service layer.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mikewong23571/codex/internal/service"
)

const sessionKeyPrefix = "gw:session:"

type sessionStore struct {
	rdb *redis.Client
}

// NewSessionStore returns the redis-backed gateway session reader. The
// gateway never writes sessions; the companion CLI owns their lifecycle.
func NewSessionStore(rdb *redis.Client) service.SessionStore {
	return &sessionStore{rdb: rdb}
}

func sessionKey(token string) string {
	return sessionKeyPrefix + token
}

// GetSession fetches and decodes the session for a token. Absent and
// revoked sessions both come back as nil; the store's TTL is authoritative
// and is never refreshed on read.
func (s *sessionStore) GetSession(ctx context.Context, token string) (*service.GatewaySession, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading gateway session: %w", err)
	}

	var session service.GatewaySession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("parsing gateway session: %w", err)
	}
	if !session.Active() {
		return nil, nil
	}
	return &session, nil
}
