package service

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	infraerrors "github.com/mikewong23571/codex/internal/pkg/errors"
)

// SelectAccount deterministically picks one member for a selection key:
// a stable hash of (pool, policy key, key) modulo the sorted member list.
// Same inputs always produce the same member, so every gateway instance
// agrees without coordination.
func SelectAccount(poolID, policyKey, selectorKey string, members []string) (string, error) {
	if len(members) == 0 {
		return "", infraerrors.Newf(infraerrors.KindNoEligibleAccount, "pool %q has no eligible accounts", poolID)
	}

	sorted := make([]string, len(members))
	copy(sorted, members)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(poolID))
	h.Write([]byte{0})
	h.Write([]byte(policyKey))
	h.Write([]byte{0})
	h.Write([]byte(selectorKey))
	digest := h.Sum(nil)

	value := int64(binary.BigEndian.Uint64(digest[:8]))
	if value < 0 {
		value = -value
		if value < 0 { // math.MinInt64
			value = 0
		}
	}
	idx := value % int64(len(sorted))
	return sorted[idx], nil
}

// NonStickyFingerprint derives the selection key for requests without a
// conversation id. The token enters a hash only; the fingerprint never
// reveals it.
func NonStickyFingerprint(token, method, path string) string {
	h := sha256.New()
	h.Write([]byte(token))
	h.Write([]byte{0})
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	return HashOpaqueID(string(h.Sum(nil)))
}
