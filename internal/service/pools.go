package service

import (
	"github.com/mikewong23571/codex/internal/config"
)

// PoolResolver combines static config pools with the dynamic default pool.
type PoolResolver struct {
	cfg       *config.Store
	discovery *Discovery
}

func NewPoolResolver(cfg *config.Store, discovery *Discovery) *PoolResolver {
	return &PoolResolver{cfg: cfg, discovery: discovery}
}

// Resolve returns the routable members of a pool right now.
//
// The default pool means "every locally usable account"; its dynamic
// membership shadows any [pools.default] stanza so adding or removing an
// account takes effect without a config edit. Static pools are intersected
// with the discovery snapshot, preserving the configured order, so a
// configured-but-missing member is filtered out per request.
func (r *PoolResolver) Resolve(poolID string) []string {
	snapshot := r.discovery.Current()

	if poolID == config.DefaultPoolID {
		return snapshot.Labels
	}

	pool, ok := r.cfg.Current().Pools[poolID]
	if !ok {
		return nil
	}

	members := make([]string, 0, len(pool.Labels))
	for _, label := range pool.Labels {
		if _, ok := snapshot.Accounts[label]; ok {
			members = append(members, label)
		}
	}
	return members
}

// PolicyKey returns the configured policy key for a pool, if any.
func (r *PoolResolver) PolicyKey(poolID string) string {
	return r.cfg.Current().Pools[poolID].PolicyKey
}
