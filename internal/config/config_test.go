package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, stateRoot, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(stateRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stateRoot, "config.toml"), []byte(contents), 0o600))
}

func TestLoadDefaults(t *testing.T) {
	stateRoot := t.TempDir()
	writeConfig(t, stateRoot, "[gateway]\n")

	cfg, err := Load(stateRoot)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8787", cfg.Gateway.Listen)
	assert.Equal(t, "https://chatgpt.com/backend-api/codex", cfg.Gateway.UpstreamBaseURL)
	assert.Equal(t, "redis://127.0.0.1:6379", cfg.Gateway.RedisURL)
	assert.Equal(t, 7200, cfg.Gateway.StickyTTLSeconds)
	assert.Equal(t, 120, cfg.Gateway.TokenSafetyWindowSeconds)
	assert.Equal(t, 0, cfg.Gateway.UpstreamTimeoutSeconds)
	assert.Equal(t, 30, cfg.Gateway.UpstreamHeaderTimeoutSeconds)
	assert.Equal(t, 5, cfg.Gateway.PollIntervalSeconds)
	assert.Empty(t, cfg.Pools)
}

func TestLoadPools(t *testing.T) {
	stateRoot := t.TempDir()
	writeConfig(t, stateRoot, `
[gateway]
listen = "127.0.0.1:9000"
sticky_ttl_seconds = 60

[pools.p1]
labels = ["u2", "u1"]
policy_key = "teamA"

[pools.p2]
labels = ["u3"]
`)

	cfg, err := Load(stateRoot)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Gateway.Listen)
	assert.Equal(t, 60, cfg.Gateway.StickyTTLSeconds)
	require.Len(t, cfg.Pools, 2)
	assert.Equal(t, []string{"u2", "u1"}, cfg.Pools["p1"].Labels)
	assert.Equal(t, "teamA", cfg.Pools["p1"].PolicyKey)
	assert.Empty(t, cfg.Pools["p2"].PolicyKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestLoadInvalidTOML(t *testing.T) {
	stateRoot := t.TempDir()
	writeConfig(t, stateRoot, "[gateway\nlisten=")

	_, err := Load(stateRoot)
	require.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"zero sticky ttl", "[gateway]\nsticky_ttl_seconds = 0\n"},
		{"negative safety window", "[gateway]\ntoken_safety_window_seconds = -1\n"},
		{"empty listen", "[gateway]\nlisten = \" \"\n"},
		{"bad pool label", "[gateway]\n[pools.p1]\nlabels = [\"has space\"]\n"},
		{"bad pool id", "[gateway]\n[pools.\".dot\"]\nlabels = [\"u1\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stateRoot := t.TempDir()
			writeConfig(t, stateRoot, tt.contents)
			_, err := Load(stateRoot)
			require.Error(t, err)
		})
	}
}

func TestWatcherPublishesNewSnapshot(t *testing.T) {
	stateRoot := t.TempDir()
	writeConfig(t, stateRoot, "[gateway]\n")

	cfg, err := Load(stateRoot)
	require.NoError(t, err)
	store := NewStore(cfg)
	watcher := NewWatcher(stateRoot, store)

	writeConfig(t, stateRoot, "[gateway]\n[pools.p1]\nlabels = [\"u1\"]\n")
	watcher.Reload()

	assert.Equal(t, []string{"u1"}, store.Current().Pools["p1"].Labels)
}

func TestWatcherKeepsSnapshotOnParseError(t *testing.T) {
	stateRoot := t.TempDir()
	writeConfig(t, stateRoot, "[gateway]\n[pools.p1]\nlabels = [\"u1\"]\n")

	cfg, err := Load(stateRoot)
	require.NoError(t, err)
	store := NewStore(cfg)
	watcher := NewWatcher(stateRoot, store)

	writeConfig(t, stateRoot, "[gateway\nbroken")
	watcher.Reload()

	// The previous snapshot stays live.
	assert.Equal(t, []string{"u1"}, store.Current().Pools["p1"].Labels)
}

func TestValidateLabel(t *testing.T) {
	assert.NoError(t, ValidateLabel("u1"))
	assert.NoError(t, ValidateLabel("team-a_2.prod"))

	assert.Error(t, ValidateLabel(""))
	assert.Error(t, ValidateLabel(".hidden"))
	assert.Error(t, ValidateLabel("has space"))
	assert.Error(t, ValidateLabel("slash/label"))

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, ValidateLabel(string(long)))
}

func TestResolveStateRootEnvOverride(t *testing.T) {
	t.Setenv("CODEX_GW_STATE_ROOT", "/tmp/custom-root")
	assert.Equal(t, "/tmp/custom-root", ResolveStateRoot())
}
