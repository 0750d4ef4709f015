// Package watch turns filesystem changes under the skill roots into
// OperationCompleted events, so installs made from a terminal outside
// skilldeck still trigger reconciliation.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skilldeck/pkg/events"
	"github.com/jingkaihe/skilldeck/pkg/logger"
	"github.com/jingkaihe/skilldeck/pkg/skills"
)

// DefaultDebounce is the quiet period after the last change before an event
// is published.
const DefaultDebounce = 500 * time.Millisecond

// Layout lists the directories to watch. *skills.Scanner implements it.
type Layout interface {
	GlobalRoots() []skills.Root
	ProjectRoots() []skills.Root
	LockPath() string
}

// Watcher publishes one external OperationCompleted per burst of changes.
type Watcher struct {
	layout   Layout
	bus      *events.Bus
	debounce time.Duration

	startOnce sync.Once
	started   chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a Watcher.
func New(layout Layout, bus *events.Bus, opts ...Option) *Watcher {
	w := &Watcher{
		layout:   layout,
		bus:      bus,
		debounce: DefaultDebounce,
		started:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Started is closed once Run has registered its initial directories.
func (w *Watcher) Started() <-chan struct{} {
	return w.started
}

// Paths returns the existing directories worth watching: every skill root
// plus the directory holding the lock file.
func (w *Watcher) Paths() []string {
	var candidates []string
	for _, root := range w.layout.GlobalRoots() {
		candidates = append(candidates, root.Path)
	}
	for _, root := range w.layout.ProjectRoots() {
		candidates = append(candidates, root.Path)
	}
	candidates = append(candidates, filepath.Dir(w.layout.LockPath()))

	seen := make(map[string]bool, len(candidates))
	var paths []string
	for _, p := range candidates {
		if seen[p] {
			continue
		}
		seen[p] = true
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			paths = append(paths, p)
		}
	}
	return paths
}

func (w *Watcher) addPaths(ctx context.Context, fw *fsnotify.Watcher) int {
	added := 0
	for _, p := range w.Paths() {
		if err := fw.Add(p); err != nil {
			logger.G(ctx).WithError(err).WithField("directory", p).Warn("failed to watch directory")
			continue
		}
		added++
	}
	return added
}

// Run watches until ctx is cancelled. Directories that appear later are
// picked up after the next change is flushed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer fw.Close()

	log := logger.G(ctx)
	count := w.addPaths(ctx, fw)
	log.WithField("directories_count", count).Info("skill watcher initialized")
	w.startOnce.Do(func() { close(w.started) })

	var (
		timer *time.Timer
		fire  <-chan time.Time
		last  string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			log.WithField("file", event.Name).WithField("operation", event.Op.String()).Debug("change detected")
			last = event.Name
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.addPaths(ctx, fw)
			if w.bus != nil {
				w.bus.OperationCompleted.Publish(ctx, events.OperationCompleted{
					Kind:   events.KindExternal,
					Target: last,
					At:     time.Now(),
				})
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Error("error watching skill directories")
		}
	}
}
