package service

import (
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/mikewong23571/codex/internal/config"
	"github.com/mikewong23571/codex/internal/pkg/authfile"
	"github.com/mikewong23571/codex/internal/pkg/logger"
)

// DiscoverySnapshot is one immutable view of the locally usable accounts.
type DiscoverySnapshot struct {
	// Labels is sorted; it is also the dynamic default pool membership.
	Labels   []string
	Accounts map[string]AccountRecord
}

// Discovery enumerates account directories under the accounts root on an
// interval and publishes immutable snapshots. It never deletes anything;
// callers reconcile by intersecting with the current snapshot.
type Discovery struct {
	accountsRoot string
	snapshot     atomic.Pointer[DiscoverySnapshot]
}

func NewDiscovery(accountsRoot string) *Discovery {
	d := &Discovery{accountsRoot: accountsRoot}
	d.snapshot.Store(&DiscoverySnapshot{Accounts: map[string]AccountRecord{}})
	return d
}

// Current returns the latest published snapshot.
func (d *Discovery) Current() *DiscoverySnapshot {
	return d.snapshot.Load()
}

// Lookup resolves one account in the current snapshot.
func (d *Discovery) Lookup(label string) (AccountRecord, bool) {
	record, ok := d.Current().Accounts[label]
	return record, ok
}

// Scan re-enumerates the accounts root and publishes a fresh snapshot.
// Invoked on the poll interval and once at startup.
func (d *Discovery) Scan() {
	log := logger.With(zap.String("component", "discovery"))

	entries, err := os.ReadDir(d.accountsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			// Accounts root gone means no routable accounts.
			d.snapshot.Store(&DiscoverySnapshot{Accounts: map[string]AccountRecord{}})
			return
		}
		// Transient failure: keep the previous snapshot rather than dropping
		// every account mid-flight.
		log.Warn("reading accounts root failed, keeping previous snapshot", zap.Error(err))
		return
	}

	accounts := make(map[string]AccountRecord)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		label := entry.Name()
		if err := config.ValidateLabel(label); err != nil {
			continue
		}
		credentialPath := filepath.Join(d.accountsRoot, label, authfile.Name)
		if !credentialUsable(credentialPath) {
			continue
		}
		accounts[label] = AccountRecord{Label: label, CredentialPath: credentialPath}
	}

	labels := make([]string, 0, len(accounts))
	for label := range accounts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	d.snapshot.Store(&DiscoverySnapshot{Labels: labels, Accounts: accounts})
}

// credentialUsable probes the blob cheaply: it must be readable JSON with a
// non-empty refresh token. Full parsing happens at refresh time.
func credentialUsable(path string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if !gjson.ValidBytes(raw) {
		return false
	}
	return gjson.GetBytes(raw, "tokens.refresh_token").String() != ""
}
