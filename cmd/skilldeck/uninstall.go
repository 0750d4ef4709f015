package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skilldeck/pkg/events"
	"github.com/jingkaihe/skilldeck/pkg/installer"
	"github.com/jingkaihe/skilldeck/pkg/logger"
	"github.com/jingkaihe/skilldeck/pkg/skills"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall [skill]",
	Short: "Uninstall a skill",
	Long: `Uninstall a skill by folder or display name. Custom skills are deleted
directly. Managed skills are removed with the skills CLI, after which any
agent links, canonical copy and lock entry left behind are cleaned up.

Integrations may pass the skill as JSON, either the skill record itself or
an object with a "skill" field:

  skilldeck uninstall --json '{"skill":{"name":"PDF","folderName":"pdf"}}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("json")
		target, err := uninstallTarget(args, raw)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return runUninstall(ctx, a, target)
		})
	},
}

func init() {
	uninstallCmd.Flags().String("json", "", "Skill to uninstall as a JSON command argument")
}

// uninstallTarget normalizes the positional name or JSON argument into the
// folder name to look up.
func uninstallTarget(args []string, raw string) (string, error) {
	switch {
	case raw != "" && len(args) > 0:
		return "", errors.New("pass either a skill name or --json, not both")
	case raw != "":
		arg, err := skills.DecodeCommandArg([]byte(raw))
		if err != nil {
			return "", err
		}
		sk, err := skills.ResolveCommandArg(arg)
		if err != nil {
			return "", err
		}
		return sk.FolderName, nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", errors.New("a skill name or --json argument is required")
	}
}

func runUninstall(ctx context.Context, a *app, target string) error {
	if _, err := a.engine.Refresh(ctx); err != nil {
		return err
	}

	result := scanResultFrom(a.state.Skills())
	sk, ok := result.Find(target)
	if !ok {
		return errors.Errorf("skill %q is not installed", target)
	}

	kind := "managed"
	if sk.IsCustom {
		kind = "custom"
	}
	if !a.confirm(fmt.Sprintf("Uninstall %s skill %q (%s)?", kind, sk.Name, sk.Path)) {
		a.out.Info("Uninstall cancelled")
		return nil
	}

	if !sk.IsCustom {
		runner, err := a.runner()
		if err != nil {
			return err
		}
		req := installer.Request{
			Kind:   events.KindRemove,
			Skill:  sk.FolderName,
			Global: sk.Scope == skills.ScopeGlobal,
		}
		if err := runner.Run(ctx, req); err != nil {
			// Leftovers are still cleaned up below.
			logger.G(ctx).WithError(err).Warn("skills cli remove failed")
		}
	}

	removed, cleanupErr := a.cleaner().Uninstall(ctx, &sk)
	if _, err := a.engine.Reconcile(ctx); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to reconcile after uninstall")
	}
	if cleanupErr != nil {
		return cleanupErr
	}

	a.out.Success(fmt.Sprintf("Uninstalled %s", sk.Name))
	for _, p := range removed.Paths {
		a.out.Info("removed " + p)
	}
	if removed.LockRemoved {
		a.out.Info("removed lock entry")
	}
	return nil
}

func scanResultFrom(list []skills.InstalledSkill) *skills.ScanResult {
	result := &skills.ScanResult{}
	for _, s := range list {
		if s.Scope == skills.ScopeProject {
			result.ProjectSkills = append(result.ProjectSkills, s)
		} else {
			result.GlobalSkills = append(result.GlobalSkills, s)
		}
	}
	return result
}
