package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skilldeck/pkg/events"
	"github.com/jingkaihe/skilldeck/pkg/installer"
	"github.com/jingkaihe/skilldeck/pkg/logger"
	"github.com/jingkaihe/skilldeck/pkg/manifest"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rescan skills and check the workspace manifest",
	Long: `Rescan every skill directory and compare the result with the workspace
skills.json. Declared skills that are not installed are listed and, when
confirmed or with --install-missing, installed with the skills CLI.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		installMissing, _ := cmd.Flags().GetBool("install-missing")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return runRefresh(ctx, a, installMissing)
		})
	},
}

func init() {
	refreshCmd.Flags().Bool("install-missing", false, "Install declared skills that are missing without asking")
}

func runRefresh(ctx context.Context, a *app, installMissing bool) error {
	report, err := a.engine.Refresh(ctx)
	if err != nil {
		return err
	}
	a.out.Success(fmt.Sprintf("%d skill(s) installed", report.Total))

	missing := manifest.DiffMissing(a.manifest.Read(ctx), a.state.Skills())
	if len(missing) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(missing))
	for _, m := range missing {
		rows = append(rows, []string{m.Source, m.SkillName})
	}
	a.out.Section("Declared in skills.json but not installed")
	a.out.Table([]string{"Source", "Skill"}, rows)

	if !installMissing && !a.confirm(fmt.Sprintf("Install %d missing skill(s)?", len(missing))) {
		return nil
	}
	return installAll(ctx, a, missing)
}

// installAll installs each missing skill, then reconciles once so the new
// skills are announced together.
func installAll(ctx context.Context, a *app, missing []manifest.Missing) error {
	runner, err := a.runner()
	if err != nil {
		return err
	}

	failed := 0
	for _, m := range missing {
		req := installer.Request{Kind: events.KindInstall, Source: m.Source, Skill: m.SkillName}
		if err := runner.Run(ctx, req); err != nil {
			failed++
			a.out.Error(err, "")
			logger.G(ctx).WithError(err).WithField("skill", m.SkillName).Warn("failed to install missing skill")
		}
	}

	if _, err := a.engine.Reconcile(ctx); err != nil {
		return err
	}
	if failed > 0 {
		return errors.Errorf("%d of %d missing skill(s) failed to install", failed, len(missing))
	}
	return nil
}
