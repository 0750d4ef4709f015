package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/skilldeck/pkg/events"
	"github.com/jingkaihe/skilldeck/pkg/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconcile whenever skills change on disk",
	Long: `Watch every skill directory and the lock file. Installs, removals and
updates made from any terminal are detected, announced and offered for
addition to or removal from the workspace skills.json.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return withApp(ctx, runWatch)
	},
}

func runWatch(ctx context.Context, a *app) error {
	report, err := a.engine.Refresh(ctx)
	if err != nil {
		return err
	}

	installed := a.bus.InstallDetected.Subscribe(func(_ context.Context, e events.InstallDetected) {
		if e.Source != "" {
			a.out.Success(fmt.Sprintf("Installed %s from %s", e.Name, e.Source))
		} else {
			a.out.Success("Installed " + e.Name)
		}
	})
	defer installed.Unsubscribe()

	completed := a.bus.ReconcileCompleted.Subscribe(func(_ context.Context, e events.ReconcileCompleted) {
		if len(e.Removed) > 0 {
			a.out.Warning("Removed " + strings.Join(e.Removed, ", "))
		}
	})
	defer completed.Unsubscribe()

	w := watch.New(a.scanner, a.bus, watch.WithDebounce(a.cfg.Watch.Debounce))
	a.out.Info(fmt.Sprintf("Watching %d skill(s) in %d director(ies)... Press Ctrl+C to stop", report.Total, len(w.Paths())))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.engine.Run(ctx) })
	g.Go(func() error { return w.Run(ctx) })
	return g.Wait()
}
