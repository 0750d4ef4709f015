package main

import (
	"context"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/jingkaihe/skilldeck/pkg/db"
	"github.com/jingkaihe/skilldeck/pkg/events"
	"github.com/jingkaihe/skilldeck/pkg/github"
	"github.com/jingkaihe/skilldeck/pkg/history"
	"github.com/jingkaihe/skilldeck/pkg/installer"
	"github.com/jingkaihe/skilldeck/pkg/logger"
	"github.com/jingkaihe/skilldeck/pkg/manifest"
	"github.com/jingkaihe/skilldeck/pkg/presenter"
	"github.com/jingkaihe/skilldeck/pkg/reconcile"
	"github.com/jingkaihe/skilldeck/pkg/skills"
	"github.com/jingkaihe/skilldeck/pkg/uninstall"
	"github.com/jingkaihe/skilldeck/pkg/updates"
)

// app holds the collaborators shared by commands.
type app struct {
	cfg      *Config
	out      *presenter.TerminalPresenter
	bus      *events.Bus
	scanner  *skills.Scanner
	manifest *manifest.Store
	state    *reconcile.StateView
	updates  *updates.Comparator
	history  *history.Store
	engine   *reconcile.Engine
}

// newApp wires the scanner, manifest store, update comparator, history and
// reconciliation engine from cfg.
func newApp(ctx context.Context, cfg *Config) (*app, error) {
	opts := []skills.Option{skills.WithAgents(cfg.Agents...)}
	if cfg.Workspace != "" {
		opts = append(opts, skills.WithWorkspaceFolders(cfg.Workspace))
	}
	scanner, err := skills.NewScanner(opts...)
	if err != nil {
		return nil, err
	}

	client, err := github.NewClient(ctx, cfg.Updates.GithubToken,
		github.WithBaseURL(cfg.Updates.APIURL),
		github.WithBranches(cfg.Updates.Branches...),
	)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		out:      presenter.Default(),
		bus:      events.NewBus(),
		scanner:  scanner,
		manifest: manifest.NewStore(cfg.Workspace),
		state:    reconcile.NewStateView(),
		updates:  updates.NewComparator(client, cfg.Updates.Concurrency),
	}
	a.out.SetQuiet(cfg.Quiet)

	engineOpts := []reconcile.Option{
		reconcile.WithManifest(a.manifest, cfg.Manifest.Prompt),
		reconcile.WithUpdateCache(a.updates),
		reconcile.WithPrompter(a.prompter()),
		reconcile.WithUISync(a.state),
		reconcile.WithViewInstalled(func(_ context.Context, list []skills.InstalledSkill) {
			renderSkillTable(a.out, list)
		}),
	}

	if cfg.History.Enabled {
		if store, err := a.openHistory(ctx); err != nil {
			logger.G(ctx).WithError(err).Warn("history disabled for this run")
		} else {
			a.history = store
			engineOpts = append(engineOpts, reconcile.WithRecorder(store))
		}
	}

	a.engine = reconcile.NewEngine(scanner, a.bus, engineOpts...)
	return a, nil
}

func (a *app) openHistory(ctx context.Context) (*history.Store, error) {
	path := a.cfg.History.Path
	if path == "" {
		p, err := db.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return history.Open(ctx, path)
}

func (a *app) Close() {
	if a.history != nil {
		a.history.Close()
	}
}

func (a *app) interactive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (a *app) prompter() reconcile.Prompter {
	return &terminalPrompter{
		out:         a.out,
		interactive: a.interactive(),
		assumeYes:   a.cfg.AssumeYes,
	}
}

// confirm asks unless --yes was given. Without a terminal it answers no.
func (a *app) confirm(question string) bool {
	if a.cfg.AssumeYes {
		return true
	}
	if !a.interactive() {
		return false
	}
	return a.out.Confirm(question)
}

func (a *app) runner() (*installer.Runner, error) {
	opts := []installer.Option{installer.WithCommand(a.cfg.Installer.Command)}
	if a.cfg.Workspace != "" {
		opts = append(opts, installer.WithWorkDir(a.cfg.Workspace))
	}
	return installer.NewRunner(a.bus, opts...)
}

func (a *app) cleaner() *uninstall.Cleaner {
	return uninstall.NewCleaner(a.scanner, a.bus)
}

// terminalPrompter shows engine notices through the presenter.
type terminalPrompter struct {
	out         *presenter.TerminalPresenter
	interactive bool
	assumeYes   bool
}

func (p *terminalPrompter) Notify(_ context.Context, message string, actions ...string) string {
	if !p.interactive || len(actions) == 0 {
		p.out.Info(message)
		return ""
	}
	return p.out.Choose(message, actions...)
}

func (p *terminalPrompter) Confirm(_ context.Context, message string) bool {
	if p.assumeYes {
		return true
	}
	if !p.interactive {
		return false
	}
	return p.out.Confirm(message)
}

// withApp loads the configuration and runs fn with a wired app.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
