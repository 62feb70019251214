package config

import (
	"go.uber.org/zap"

	"github.com/mikewong23571/codex/internal/pkg/logger"
)

// Watcher re-reads config.toml and republishes the snapshot. A parse error
// keeps the previous snapshot in place.
type Watcher struct {
	stateRoot string
	store     *Store
}

func NewWatcher(stateRoot string, store *Store) *Watcher {
	return &Watcher{stateRoot: stateRoot, store: store}
}

// Reload is invoked on the poll interval (and usable directly from tests).
func (w *Watcher) Reload() {
	cfg, err := Load(w.stateRoot)
	if err != nil {
		logger.With(zap.String("component", "config")).Warn("config reload failed, keeping previous snapshot", zap.Error(err))
		return
	}
	w.store.publish(cfg)
}
