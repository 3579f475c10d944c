package core

import (
	"log/slog"
	"sync"

	"github.com/jdelaire/teleflow/core/i18n"
)

// Reloader hot-reloads language files into a live Localization. Handlers
// pick up the new messages on their next update.
type Reloader struct {
	loc    *i18n.Localization
	logger *slog.Logger

	mu sync.Mutex
}

// NewReloader creates a reloader for loc.
func NewReloader(loc *i18n.Localization, logger *slog.Logger) *Reloader {
	return &Reloader{loc: loc, logger: logger}
}

// ReloadLanguages replaces every language with the files in dir. A bad file
// keeps the previously loaded languages.
func (r *Reloader) ReloadLanguages(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loc.LoadDir(dir); err != nil {
		r.logger.Error("reload languages failed", "dir", dir, "error", err)
		return
	}
	r.logger.Info("languages reloaded", "languages", r.loc.Languages())
}
