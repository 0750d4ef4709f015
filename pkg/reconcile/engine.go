// Package reconcile keeps an in-memory snapshot of installed skills and, on
// every trigger, rescans the filesystem to detect installs and removals made
// by tools it does not control.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skilldeck/pkg/events"
	"github.com/jingkaihe/skilldeck/pkg/logger"
	"github.com/jingkaihe/skilldeck/pkg/skills"
	"github.com/jingkaihe/skilldeck/pkg/telemetry"
)

// ActionViewInstalled is offered with the "new skills installed" notice.
const ActionViewInstalled = "View Installed"

// Scanner produces the current installed skills.
type Scanner interface {
	Scan(ctx context.Context) (*skills.ScanResult, error)
}

// ManifestStore is the subset of the manifest store the engine uses.
type ManifestStore interface {
	IsInManifest(ctx context.Context, folderName string) bool
	AddSkill(ctx context.Context, source, folderName string) error
	RemoveSkill(ctx context.Context, folderName string) error
}

// UpdateCache holds pending updates from the last update check.
type UpdateCache interface {
	ClearUpdateForSkill(name string) bool
	UpdatableNames() map[string]struct{}
}

// Prompter surfaces notices and questions to the user. Notify returns the
// chosen action, or "" when dismissed.
type Prompter interface {
	Notify(ctx context.Context, message string, actions ...string) string
	Confirm(ctx context.Context, message string) bool
}

// UISync receives the installed state after every cycle.
type UISync interface {
	SetInstalledNames(names map[string]struct{})
	SetInstalledSkills(list []skills.InstalledSkill)
	SetUpdatableNames(names map[string]struct{})
}

// Recorder persists cycle reports.
type Recorder interface {
	Record(ctx context.Context, report Report) error
}

// Report describes one reconciliation cycle.
type Report struct {
	CycleID  string
	Baseline bool
	Added    []skills.InstalledSkill
	Removed  []skills.InstalledSkill
	Total    int
	At       time.Time
}

// Engine serializes reconciliation cycles over one owned snapshot.
type Engine struct {
	scanner         Scanner
	bus             *events.Bus
	manifest        ManifestStore
	manifestPrompt  bool
	updates         UpdateCache
	prompter        Prompter
	hooks           []UISync
	recorder        Recorder
	onViewInstalled func(ctx context.Context, list []skills.InstalledSkill)

	mu          sync.Mutex
	snapshot    Snapshot
	initialized bool

	trigger chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithManifest enables manifest prompts against store when prompt is set.
// A nil store disables them.
func WithManifest(store ManifestStore, prompt bool) Option {
	return func(e *Engine) {
		e.manifest = store
		e.manifestPrompt = prompt
	}
}

// WithUpdateCache sets the cache invalidated for newly installed skills.
func WithUpdateCache(cache UpdateCache) Option {
	return func(e *Engine) {
		e.updates = cache
	}
}

// WithPrompter sets how notices and questions reach the user.
func WithPrompter(p Prompter) Option {
	return func(e *Engine) {
		e.prompter = p
	}
}

// WithUISync adds hooks notified after every cycle.
func WithUISync(hooks ...UISync) Option {
	return func(e *Engine) {
		e.hooks = append(e.hooks, hooks...)
	}
}

// WithRecorder persists a report of every cycle.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithViewInstalled sets the handler for the "View Installed" action.
func WithViewInstalled(fn func(ctx context.Context, list []skills.InstalledSkill)) Option {
	return func(e *Engine) {
		e.onViewInstalled = fn
	}
}

// NewEngine creates an Engine. A nil bus gets a private one.
func NewEngine(scanner Scanner, bus *events.Bus, opts ...Option) *Engine {
	if bus == nil {
		bus = events.NewBus()
	}
	e := &Engine{
		scanner:  scanner,
		bus:      bus,
		prompter: NopPrompter{},
		snapshot: newSnapshot(nil),
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Snapshot returns a copy of the current snapshot.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot.clone()
}

// Trigger requests a cycle from Run. Requests made while one is pending are
// coalesced.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run reconciles whenever an operation completes or Trigger is called,
// until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	sub := e.bus.OperationCompleted.Subscribe(func(ctx context.Context, ev events.OperationCompleted) {
		logger.G(ctx).WithField("kind", ev.Kind).WithField("target", ev.Target).Debug("operation completed, scheduling reconciliation")
		e.Trigger()
	})
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.trigger:
			if _, err := e.Reconcile(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.G(ctx).WithError(err).Warn("reconciliation failed")
			}
		}
	}
}

// Refresh reconciles immediately on explicit user request.
func (e *Engine) Refresh(ctx context.Context) (*Report, error) {
	logger.G(ctx).Debug("manual refresh requested")
	return e.Reconcile(ctx)
}

// Reconcile runs one cycle: rescan, diff by folder name against the
// snapshot, notify, offer manifest changes, swap the snapshot and push the
// new state to UI hooks. The first cycle only establishes a baseline.
func (e *Engine) Reconcile(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := &Report{CycleID: uuid.NewString(), At: time.Now()}
	ctx = logger.WithLogger(ctx, logger.G(ctx).WithField("cycle", report.CycleID))

	err := telemetry.WithSpan(ctx, "reconcile.cycle", func(ctx context.Context) error {
		result, err := e.scanner.Scan(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to scan installed skills")
		}

		prev := e.snapshot
		current := newSnapshot(result.All())
		report.Baseline = !e.initialized
		report.Added = diff(current, prev)
		report.Removed = diff(prev, current)
		report.Total = current.Count()

		telemetry.SetAttributes(ctx,
			attribute.Bool("reconcile.baseline", report.Baseline),
			attribute.Int("reconcile.added", len(report.Added)),
			attribute.Int("reconcile.removed", len(report.Removed)),
			attribute.Int("reconcile.total", report.Total),
		)

		if !report.Baseline {
			// Installs onto an empty snapshot are not announced.
			if prev.Count() > 0 {
				e.announce(ctx, report, prev.Count(), current)
			}
			e.promptManifest(ctx, report)
		}

		e.snapshot = current
		e.initialized = true
		e.syncUI(current)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.bus.ReconcileCompleted.Publish(ctx, events.ReconcileCompleted{
		CycleID: report.CycleID,
		Added:   folderNames(report.Added),
		Removed: folderNames(report.Removed),
		Total:   report.Total,
		At:      report.At,
	})

	if e.recorder != nil {
		if err := e.recorder.Record(ctx, *report); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to record reconciliation")
		}
	}

	logger.G(ctx).
		WithField("added", len(report.Added)).
		WithField("removed", len(report.Removed)).
		WithField("total", report.Total).
		Debug("reconciliation complete")
	return report, nil
}

func (e *Engine) announce(ctx context.Context, report *Report, prevCount int, current Snapshot) {
	if len(report.Added) > 0 {
		for _, s := range report.Added {
			telemetry.AddEvent(ctx, "skill.installed",
				attribute.String("skill.folder", s.FolderName),
				attribute.String("skill.source", s.Source),
			)
			e.bus.InstallDetected.Publish(ctx, events.InstallDetected{
				Name:       s.Name,
				FolderName: s.FolderName,
				Source:     s.Source,
			})
			if e.updates != nil {
				e.updates.ClearUpdateForSkill(s.FolderName)
			}
		}

		if current.Count() > prevCount {
			msg := fmt.Sprintf("%d new skill(s) installed", len(report.Added))
			if e.prompter.Notify(ctx, msg, ActionViewInstalled) == ActionViewInstalled && e.onViewInstalled != nil {
				e.onViewInstalled(ctx, current.Skills())
			}
		}
	}

	for _, s := range report.Removed {
		telemetry.AddEvent(ctx, "skill.removed", attribute.String("skill.folder", s.FolderName))
	}
	if len(report.Removed) > 0 && current.Count() < prevCount {
		e.prompter.Notify(ctx, fmt.Sprintf("%d skill(s) removed", len(report.Removed)))
	}
}

func (e *Engine) promptManifest(ctx context.Context, report *Report) {
	if e.manifest == nil || !e.manifestPrompt {
		return
	}

	for _, s := range report.Added {
		if s.Source == "" || len(e.declaredAs(ctx, s)) > 0 {
			continue
		}
		if !e.prompter.Confirm(ctx, fmt.Sprintf("Add %q from %s to skills.json?", s.FolderName, s.Source)) {
			continue
		}
		if err := e.manifest.AddSkill(ctx, s.Source, s.FolderName); err != nil {
			logger.G(ctx).WithError(err).WithField("skill", s.FolderName).Warn("failed to add skill to manifest")
		}
	}

	for _, s := range report.Removed {
		declared := e.declaredAs(ctx, s)
		if len(declared) == 0 {
			continue
		}
		if !e.prompter.Confirm(ctx, fmt.Sprintf("Remove %q from skills.json?", s.FolderName)) {
			continue
		}
		for _, name := range declared {
			if err := e.manifest.RemoveSkill(ctx, name); err != nil {
				logger.G(ctx).WithError(err).WithField("skill", name).Warn("failed to remove skill from manifest")
			}
		}
	}
}

// declaredAs returns the names under which s is declared in the manifest.
// Entries may use either the folder name or the display name.
func (e *Engine) declaredAs(ctx context.Context, s skills.InstalledSkill) []string {
	var names []string
	if e.manifest.IsInManifest(ctx, s.FolderName) {
		names = append(names, s.FolderName)
	}
	if s.Name != "" && s.Name != s.FolderName && e.manifest.IsInManifest(ctx, s.Name) {
		names = append(names, s.Name)
	}
	return names
}

func (e *Engine) syncUI(current Snapshot) {
	updatable := map[string]struct{}{}
	if e.updates != nil {
		updatable = e.updates.UpdatableNames()
	}
	for _, h := range e.hooks {
		h.SetInstalledNames(current.NamesCopy())
		h.SetInstalledSkills(current.Skills())
		h.SetUpdatableNames(copySet(updatable))
	}
}

// NopPrompter dismisses every notice and declines every question.
type NopPrompter struct{}

func (NopPrompter) Notify(context.Context, string, ...string) string { return "" }

func (NopPrompter) Confirm(context.Context, string) bool { return false }
