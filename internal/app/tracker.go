package app

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/corey/bakewatch/internal/ports"
)

// ChangeTracker is the watch listener for the site input directory. It only
// records that something changed; the rebuild loop decides when to build.
type ChangeTracker struct {
	siteConfig string
	logger     *slog.Logger

	mu        sync.Mutex
	dirty     bool
	reinit    bool
	manual    bool
	changes   int
	overflows int
}

var _ ports.Listener = (*ChangeTracker)(nil)

// NewChangeTracker returns a tracker that requests a reinit build when the
// file at relative path siteConfig changes.
func NewChangeTracker(siteConfig string, logger *slog.Logger) *ChangeTracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if siteConfig != "" {
		siteConfig = filepath.Clean(siteConfig)
	}
	return &ChangeTracker{siteConfig: siteConfig, logger: logger}
}

// PendingBuild is the accumulated state handed to one build.
type PendingBuild struct {
	Changes int
	Reinit  bool
	Manual  bool
}

// Request returns the build request for p.
func (p PendingBuild) Request() ports.BuildRequest {
	reason := ports.ReasonChange
	switch {
	case p.Manual:
		reason = ports.ReasonManual
	case p.Reinit:
		reason = ports.ReasonConfig
	}
	return ports.BuildRequest{Reason: reason, Reinit: p.Reinit, Changes: p.Changes}
}

func (c *ChangeTracker) OnOverflowQueued() {
	c.mu.Lock()
	c.overflows++
	c.mu.Unlock()
	c.logger.Debug("change burst, refresh queued")
}

func (c *ChangeTracker) OnRefresh() {
	c.mark("")
}

func (c *ChangeTracker) OnCreated(relPath string) {
	c.logger.Debug("created", "path", relPath)
	c.mark(relPath)
}

func (c *ChangeTracker) OnDeleted(relPath string) {
	c.logger.Debug("deleted", "path", relPath)
	c.mark(relPath)
}

func (c *ChangeTracker) OnModified(relPath string) {
	c.logger.Debug("modified", "path", relPath)
	c.mark(relPath)
}

func (c *ChangeTracker) mark(relPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
	c.changes++
	if c.siteConfig != "" && relPath != "" && filepath.Clean(relPath) == c.siteConfig {
		c.reinit = true
	}
}

// Request marks the tree dirty on behalf of a user.
func (c *ChangeTracker) Request(reinit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
	c.manual = true
	c.reinit = c.reinit || reinit
}

// Dirty reports whether a build is owed.
func (c *ChangeTracker) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Overflows returns how many change bursts were reported.
func (c *ChangeTracker) Overflows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflows
}

// Take returns and clears the pending state. ok is false when nothing changed.
func (c *ChangeTracker) Take() (p PendingBuild, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return PendingBuild{}, false
	}
	p = PendingBuild{Changes: c.changes, Reinit: c.reinit, Manual: c.manual}
	c.dirty, c.reinit, c.manual, c.changes = false, false, false, 0
	return p, true
}
