package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jingkaihe/skilldeck/pkg/events"
	"github.com/jingkaihe/skilldeck/pkg/manifest"
	"github.com/jingkaihe/skilldeck/pkg/skills"
)

type fakeScanner struct {
	mu    sync.Mutex
	list  []skills.InstalledSkill
	err   error
	calls int
}

func (f *fakeScanner) set(list ...skills.InstalledSkill) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = list
}

func (f *fakeScanner) Scan(context.Context) (*skills.ScanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &skills.ScanResult{GlobalSkills: append([]skills.InstalledSkill(nil), f.list...)}, nil
}

type recordingPrompter struct {
	mu       sync.Mutex
	notices  []string
	asked    []string
	confirm  bool
	response string
}

func (p *recordingPrompter) Notify(_ context.Context, message string, _ ...string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, message)
	return p.response
}

func (p *recordingPrompter) Confirm(_ context.Context, message string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, message)
	return p.confirm
}

type fakeUpdates struct {
	cleared   []string
	updatable map[string]struct{}
}

func (f *fakeUpdates) ClearUpdateForSkill(name string) bool {
	f.cleared = append(f.cleared, name)
	_, ok := f.updatable[name]
	delete(f.updatable, name)
	return ok
}

func (f *fakeUpdates) UpdatableNames() map[string]struct{} {
	return copySet(f.updatable)
}

type memoryRecorder struct {
	reports []Report
}

func (r *memoryRecorder) Record(_ context.Context, report Report) error {
	r.reports = append(r.reports, report)
	return nil
}

var (
	pdf   = skills.InstalledSkill{Name: "PDF Tools", FolderName: "pdf", Source: "anthropics/skills", Hash: "h1"}
	react = skills.InstalledSkill{Name: "React Best Practices", FolderName: "react-best-practices", Source: "vercel-labs/agent-skills", Hash: "h2"}
	local = skills.InstalledSkill{Name: "local", FolderName: "local", IsCustom: true}
)

func TestReconcileAggregatePrompts(t *testing.T) {
	ctx := context.Background()
	scanner := &fakeScanner{}
	scanner.set(pdf)
	prompter := &recordingPrompter{}
	bus := events.NewBus()

	var detected []events.InstallDetected
	bus.InstallDetected.Subscribe(func(_ context.Context, ev events.InstallDetected) {
		detected = append(detected, ev)
	})

	engine := NewEngine(scanner, bus, WithPrompter(prompter))

	report, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.Baseline)
	assert.Empty(t, prompter.notices, "baseline cycle is silent")
	assert.Empty(t, detected)

	scanner.set(pdf, react)
	report, err = engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.Baseline)
	assert.Equal(t, []string{"1 new skill(s) installed"}, prompter.notices)
	require.Len(t, detected, 1)
	assert.Equal(t, "React Best Practices", detected[0].Name)
	assert.Equal(t, "react-best-practices", detected[0].FolderName)

	scanner.set(react)
	report, err = engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1 new skill(s) installed", "1 skill(s) removed"}, prompter.notices)
	assert.Len(t, report.Removed, 1)
	assert.Len(t, detected, 1)

	_, err = engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Len(t, prompter.notices, 2, "unchanged state produces no notices")
}

func TestReconcileFolderNameIsIdentity(t *testing.T) {
	ctx := context.Background()
	legacy := skills.InstalledSkill{Name: "pdf", FolderName: "pdf-legacy"}
	scanner := &fakeScanner{}
	scanner.set(legacy)
	prompter := &recordingPrompter{}
	engine := NewEngine(scanner, nil, WithPrompter(prompter))

	_, err := engine.Reconcile(ctx)
	require.NoError(t, err)

	scanner.set(legacy, pdf)
	report, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, report.Added, 1, "display name of one skill equal to another's folder must not hide an install")
	assert.Equal(t, "pdf", report.Added[0].FolderName)
	assert.Equal(t, []string{"1 new skill(s) installed"}, prompter.notices)

	renamed := pdf
	renamed.Name = "PDF Tools v2"
	scanner.set(legacy, renamed)
	report, err = engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Added, "display name changes are not installs")
	assert.Empty(t, report.Removed)
}

func TestReconcileSameFolderInBothScopesCountsOnce(t *testing.T) {
	ctx := context.Background()
	scanner := &fakeScanner{}
	scanner.set(local)
	prompter := &recordingPrompter{}
	engine := NewEngine(scanner, nil, WithPrompter(prompter))

	_, err := engine.Reconcile(ctx)
	require.NoError(t, err)

	project := pdf
	project.Scope = skills.ScopeProject
	scanner.set(local, pdf, project)
	report, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Added, 1)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, []string{"1 new skill(s) installed"}, prompter.notices)
}

func TestReconcileNoCountChangeNoAggregate(t *testing.T) {
	ctx := context.Background()
	scanner := &fakeScanner{}
	scanner.set(pdf)
	prompter := &recordingPrompter{}
	var detected int
	bus := events.NewBus()
	bus.InstallDetected.Subscribe(func(context.Context, events.InstallDetected) { detected++ })
	engine := NewEngine(scanner, bus, WithPrompter(prompter))

	_, err := engine.Reconcile(ctx)
	require.NoError(t, err)

	scanner.set(react)
	report, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Added, 1)
	assert.Len(t, report.Removed, 1)
	assert.Equal(t, 1, detected, "install detected fires for every added skill")
	assert.Empty(t, prompter.notices, "a swap that keeps the count raises no aggregate notice")
}

func TestReconcileViewInstalledAction(t *testing.T) {
	ctx := context.Background()
	scanner := &fakeScanner{}
	prompter := &recordingPrompter{response: ActionViewInstalled}

	var viewed []skills.InstalledSkill
	engine := NewEngine(scanner, nil, WithPrompter(prompter), WithViewInstalled(func(_ context.Context, list []skills.InstalledSkill) {
		viewed = list
	}))

	scanner.set(local)
	_, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	scanner.set(local, pdf, react)
	_, err = engine.Reconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"2 new skill(s) installed"}, prompter.notices)
	assert.Len(t, viewed, 3)
}

func TestReconcileEmptyBaselineStaysQuiet(t *testing.T) {
	ctx := context.Background()
	scanner := &fakeScanner{}
	prompter := &recordingPrompter{}
	updates := &fakeUpdates{updatable: map[string]struct{}{"pdf": {}}}
	bus := events.NewBus()
	var detected []string
	bus.InstallDetected.Subscribe(func(_ context.Context, ev events.InstallDetected) {
		detected = append(detected, ev.Name)
	})
	engine := NewEngine(scanner, bus, WithPrompter(prompter), WithUpdateCache(updates))

	_, err := engine.Reconcile(ctx)
	require.NoError(t, err)

	scanner.set(pdf)
	report, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.Baseline)
	assert.Len(t, report.Added, 1)
	assert.Empty(t, prompter.notices, "installs onto an empty snapshot are not announced")
	assert.Empty(t, detected)
	assert.Empty(t, updates.cleared)

	scanner.set(pdf, react)
	_, err = engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1 new skill(s) installed"}, prompter.notices)
	assert.Equal(t, []string{"React Best Practices"}, detected)
}

func TestReconcileClearsUpdatesAndSyncsUI(t *testing.T) {
	ctx := context.Background()
	scanner := &fakeScanner{}
	scanner.set(pdf)
	updates := &fakeUpdates{updatable: map[string]struct{}{"pdf": {}, "react-best-practices": {}}}
	view := NewStateView()
	engine := NewEngine(scanner, nil, WithUpdateCache(updates), WithUISync(view))

	_, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, updates.cleared)
	assert.True(t, view.IsInstalled("pdf"))
	assert.True(t, view.IsInstalled("PDF Tools"))
	assert.Equal(t, []string{"pdf", "react-best-practices"}, view.UpdatableNames())

	scanner.set(pdf, react)
	_, err = engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"react-best-practices"}, updates.cleared)
	assert.Equal(t, []string{"pdf"}, view.UpdatableNames())
	assert.True(t, view.HasUpdate("pdf"))
	assert.False(t, view.HasUpdate("react-best-practices"))
	assert.Len(t, view.Skills(), 2)
	assert.Equal(t, 2, view.Version())
}

func TestReconcileManifestPrompts(t *testing.T) {
	ctx := context.Background()

	t.Run("offers to add and remove", func(t *testing.T) {
		store := manifest.NewStore(t.TempDir())
		require.NoError(t, store.AddSkill(ctx, "anthropics/skills", "pdf"))

		scanner := &fakeScanner{}
		scanner.set(pdf)
		prompter := &recordingPrompter{confirm: true}
		engine := NewEngine(scanner, nil, WithPrompter(prompter), WithManifest(store, true))

		_, err := engine.Reconcile(ctx)
		require.NoError(t, err)

		scanner.set(pdf, react, local)
		_, err = engine.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{`Add "react-best-practices" from vercel-labs/agent-skills to skills.json?`}, prompter.asked,
			"custom skills without a source and already declared skills are not offered")
		assert.True(t, store.IsInManifest(ctx, "react-best-practices"))

		scanner.set(react, local)
		_, err = engine.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, `Remove "pdf" from skills.json?`, prompter.asked[1])
		assert.False(t, store.IsInManifest(ctx, "pdf"))
	})

	t.Run("matches entries declared by display name", func(t *testing.T) {
		store := manifest.NewStore(t.TempDir())
		require.NoError(t, store.AddSkill(ctx, "anthropics/skills", "PDF Tools"))

		scanner := &fakeScanner{}
		scanner.set(local)
		prompter := &recordingPrompter{confirm: true}
		engine := NewEngine(scanner, nil, WithPrompter(prompter), WithManifest(store, true))

		_, err := engine.Reconcile(ctx)
		require.NoError(t, err)

		scanner.set(local, pdf)
		_, err = engine.Reconcile(ctx)
		require.NoError(t, err)
		assert.Empty(t, prompter.asked, "a skill declared by display name is not offered again")

		scanner.set(local)
		_, err = engine.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{`Remove "pdf" from skills.json?`}, prompter.asked)
		assert.False(t, store.IsInManifest(ctx, "PDF Tools"))
	})

	t.Run("declined prompts leave the manifest alone", func(t *testing.T) {
		store := manifest.NewStore(t.TempDir())
		scanner := &fakeScanner{}
		prompter := &recordingPrompter{confirm: false}
		engine := NewEngine(scanner, nil, WithPrompter(prompter), WithManifest(store, true))

		_, err := engine.Reconcile(ctx)
		require.NoError(t, err)
		scanner.set(react)
		_, err = engine.Reconcile(ctx)
		require.NoError(t, err)

		assert.Len(t, prompter.asked, 1)
		assert.Nil(t, store.Read(ctx))
	})

	t.Run("disabled without workspace or setting", func(t *testing.T) {
		for _, opt := range []Option{WithManifest(manifest.NewStore(t.TempDir()), false), WithManifest(nil, true)} {
			scanner := &fakeScanner{}
			prompter := &recordingPrompter{confirm: true}
			engine := NewEngine(scanner, nil, WithPrompter(prompter), opt)

			_, err := engine.Reconcile(ctx)
			require.NoError(t, err)
			scanner.set(react)
			_, err = engine.Reconcile(ctx)
			require.NoError(t, err)
			assert.Empty(t, prompter.asked)
		}
	})
}

func TestReconcileScanError(t *testing.T) {
	scanner := &fakeScanner{err: errors.New("disk on fire")}
	engine := NewEngine(scanner, nil)

	_, err := engine.Reconcile(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Zero(t, engine.Snapshot().Count())

	scanner.err = nil
	scanner.set(pdf)
	report, err := engine.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Baseline, "a failed cycle does not establish the baseline")
}

func TestReconcileRecordsAndPublishes(t *testing.T) {
	ctx := context.Background()
	scanner := &fakeScanner{}
	recorder := &memoryRecorder{}
	bus := events.NewBus()
	var completed []events.ReconcileCompleted
	bus.ReconcileCompleted.Subscribe(func(_ context.Context, ev events.ReconcileCompleted) {
		completed = append(completed, ev)
	})
	engine := NewEngine(scanner, bus, WithRecorder(recorder))

	_, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	scanner.set(pdf)
	_, err = engine.Refresh(ctx)
	require.NoError(t, err)

	require.Len(t, recorder.reports, 2)
	assert.True(t, recorder.reports[0].Baseline)
	assert.NotEqual(t, recorder.reports[0].CycleID, recorder.reports[1].CycleID)

	require.Len(t, completed, 2)
	assert.Equal(t, []string{"pdf"}, completed[1].Added)
	assert.Equal(t, 1, completed[1].Total)
	assert.True(t, engine.Snapshot().Has("PDF Tools"))
}

func TestRunReconcilesOnOperationCompleted(t *testing.T) {
	scanner := &fakeScanner{}
	bus := events.NewBus()
	done := make(chan events.ReconcileCompleted, 4)
	bus.ReconcileCompleted.Subscribe(func(_ context.Context, ev events.ReconcileCompleted) {
		done <- ev
	})
	engine := NewEngine(scanner, bus)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- engine.Run(ctx) }()

	require.Eventually(t, func() bool { return bus.OperationCompleted.Len() == 1 }, time.Second, 5*time.Millisecond)

	bus.OperationCompleted.Publish(ctx, events.OperationCompleted{Kind: events.KindInstall, Target: "pdf"})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciliation did not run")
	}

	scanner.set(pdf)
	engine.Trigger()
	select {
	case ev := <-done:
		assert.Equal(t, []string{"pdf"}, ev.Added)
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not reconcile")
	}

	cancel()
	assert.NoError(t, <-stopped)
	assert.Zero(t, bus.OperationCompleted.Len())
}

func TestTriggerCoalesces(t *testing.T) {
	engine := NewEngine(&fakeScanner{}, nil)
	engine.Trigger()
	engine.Trigger()
	engine.Trigger()
	assert.Len(t, engine.trigger, 1)
}

func TestReconcileSerializesCycles(t *testing.T) {
	scanner := &fakeScanner{}
	scanner.set(pdf)
	engine := NewEngine(scanner, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Reconcile(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, scanner.calls)
	assert.Equal(t, 1, engine.Snapshot().Count())
}

func TestReconcileAddsSpanEvents(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	ctx := context.Background()
	scanner := &fakeScanner{}
	scanner.set(pdf)
	engine := NewEngine(scanner, nil)

	for _, list := range [][]skills.InstalledSkill{{pdf}, {pdf, react}, {react}} {
		scanner.set(list...)
		_, err := engine.Reconcile(ctx)
		require.NoError(t, err)
	}

	var names []string
	for _, span := range recorder.Ended() {
		if span.Name() != "reconcile.cycle" {
			continue
		}
		for _, ev := range span.Events() {
			names = append(names, ev.Name)
		}
	}
	assert.Equal(t, []string{"skill.installed", "skill.removed"}, names)
}
