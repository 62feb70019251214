package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mikewong23571/codex/internal/config"
)

func testConfigStore(pools map[string]config.PoolConfig) *config.Store {
	return config.NewStore(&config.Config{Pools: pools})
}

func TestResolveDefaultPoolIsDynamic(t *testing.T) {
	resolver := NewPoolResolver(
		testConfigStore(nil),
		newTestDiscovery(t, "u2", "u1"),
	)

	assert.Equal(t, []string{"u1", "u2"}, resolver.Resolve("default"))
}

func TestResolveDefaultShadowsStaticStanza(t *testing.T) {
	resolver := NewPoolResolver(
		testConfigStore(map[string]config.PoolConfig{
			"default": {Labels: []string{"ghost"}},
		}),
		newTestDiscovery(t, "u1"),
	)

	assert.Equal(t, []string{"u1"}, resolver.Resolve("default"))
}

func TestResolveStaticPoolIntersectsDiscovery(t *testing.T) {
	resolver := NewPoolResolver(
		testConfigStore(map[string]config.PoolConfig{
			"p1": {Labels: []string{"u3", "u1", "missing"}},
		}),
		newTestDiscovery(t, "u1", "u2", "u3"),
	)

	// Configured order is preserved; undiscovered members are filtered.
	assert.Equal(t, []string{"u3", "u1"}, resolver.Resolve("p1"))
}

func TestResolveUnknownPool(t *testing.T) {
	resolver := NewPoolResolver(testConfigStore(nil), newTestDiscovery(t, "u1"))
	assert.Empty(t, resolver.Resolve("nope"))
}

func TestResolveStaticPoolAllMembersMissing(t *testing.T) {
	resolver := NewPoolResolver(
		testConfigStore(map[string]config.PoolConfig{
			"p1": {Labels: []string{"gone"}},
		}),
		newTestDiscovery(t),
	)
	assert.Empty(t, resolver.Resolve("p1"))
}

func TestPolicyKey(t *testing.T) {
	resolver := NewPoolResolver(
		testConfigStore(map[string]config.PoolConfig{
			"p1": {Labels: []string{"u1"}, PolicyKey: "teamA"},
		}),
		newTestDiscovery(t, "u1"),
	)
	assert.Equal(t, "teamA", resolver.PolicyKey("p1"))
	assert.Empty(t, resolver.PolicyKey("default"))
}
