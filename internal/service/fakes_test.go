package service

import (
	"context"
	"sync"
	"time"
)

// fakeGatewayCache is an in-memory GatewayCache with the same NX and
// compare-and-delete semantics as the redis implementation.
type fakeGatewayCache struct {
	mu          sync.Mutex
	sticky      map[string]string
	material    map[string]*AuthMaterial
	materialExp map[string]time.Time
	locks       map[string]string

	err error
}

func newFakeGatewayCache() *fakeGatewayCache {
	return &fakeGatewayCache{
		sticky:      map[string]string{},
		material:    map[string]*AuthMaterial{},
		materialExp: map[string]time.Time{},
		locks:       map[string]string{},
	}
}

func (f *fakeGatewayCache) stickyCacheKey(poolID, conversationHash string) string {
	return poolID + ":" + conversationHash
}

func (f *fakeGatewayCache) GetStickyAccount(_ context.Context, poolID, conversationHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.sticky[f.stickyCacheKey(poolID, conversationHash)], nil
}

func (f *fakeGatewayCache) ClaimStickyAccount(_ context.Context, poolID, conversationHash, accountID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	key := f.stickyCacheKey(poolID, conversationHash)
	if _, exists := f.sticky[key]; exists {
		return false, nil
	}
	f.sticky[key] = accountID
	return true, nil
}

func (f *fakeGatewayCache) GetAuthMaterial(_ context.Context, accountID string) (*AuthMaterial, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if exp, ok := f.materialExp[accountID]; ok && time.Now().After(exp) {
		delete(f.material, accountID)
		delete(f.materialExp, accountID)
	}
	return f.material[accountID], nil
}

func (f *fakeGatewayCache) PutAuthMaterial(_ context.Context, accountID string, material *AuthMaterial, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.material[accountID] = material
	f.materialExp[accountID] = time.Now().Add(ttl)
	return nil
}

func (f *fakeGatewayCache) DeleteAuthMaterial(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.material, accountID)
	delete(f.materialExp, accountID)
	return nil
}

func (f *fakeGatewayCache) AcquireRefreshLock(_ context.Context, accountID, holder string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, held := f.locks[accountID]; held {
		return false, nil
	}
	f.locks[accountID] = holder
	return true, nil
}

func (f *fakeGatewayCache) ReleaseRefreshLock(_ context.Context, accountID, holder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[accountID] == holder {
		delete(f.locks, accountID)
	}
	return nil
}

// stubCredentialSource counts loads and refreshes and returns canned
// results.
type stubCredentialSource struct {
	mu         sync.Mutex
	loads      int
	refreshes  int
	capability RefreshCapability
	grant      TokenGrant
	loadErr    error
	refreshErr error
}

func (s *stubCredentialSource) Load(path string) (*RefreshCapability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	capability := s.capability
	capability.Path = path
	return &capability, nil
}

func (s *stubCredentialSource) Refresh(_ context.Context, _ *RefreshCapability) (*TokenGrant, error) {
	s.mu.Lock()
	s.refreshes++
	err := s.refreshErr
	grant := s.grant
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	// Emulate a round-trip so concurrent callers actually overlap.
	time.Sleep(20 * time.Millisecond)
	return &grant, nil
}

func (s *stubCredentialSource) counts() (loads, refreshes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads, s.refreshes
}
