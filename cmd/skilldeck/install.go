package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skilldeck/pkg/events"
	"github.com/jingkaihe/skilldeck/pkg/installer"
)

type InstallConfig struct {
	Skill  string
	Global bool
	Agents []string
}

func NewInstallConfig() *InstallConfig {
	return &InstallConfig{
		Skill:  "",
		Global: false,
		Agents: nil,
	}
}

var installCmd = &cobra.Command{
	Use:   "install <owner/repo>",
	Short: "Install skills with the skills CLI",
	Long: `Install skills from a repository with the skills CLI, then reconcile. New
skills are announced and, if they are not declared yet, offered for
addition to the workspace skills.json.

Examples:
  skilldeck install acme/skills
  skilldeck install acme/skills --skill pdf
  skilldeck install acme/skills --skill pdf --global --agent claude`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := getInstallConfigFromFlags(cmd)
		req := installer.Request{
			Kind:   events.KindInstall,
			Source: args[0],
			Skill:  config.Skill,
			Global: config.Global,
			Agents: config.Agents,
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return runOperation(ctx, a, req)
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [skill]",
	Short: "Update installed skills with the skills CLI",
	Long:  `Update one skill, or every skill when none is named, then reconcile.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		global, _ := cmd.Flags().GetBool("global")
		req := installer.Request{Kind: events.KindUpdate, Global: global}
		if len(args) == 1 {
			req.Skill = args[0]
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return runOperation(ctx, a, req)
		})
	},
}

func init() {
	defaults := NewInstallConfig()
	installCmd.Flags().String("skill", defaults.Skill, "Install only this skill from the repository")
	installCmd.Flags().BoolP("global", "g", defaults.Global, "Install for the user instead of the workspace")
	installCmd.Flags().StringSlice("agent", defaults.Agents, "Agents to install for; all detected agents when empty")

	updateCmd.Flags().BoolP("global", "g", false, "Update user-level skills instead of workspace skills")
}

func getInstallConfigFromFlags(cmd *cobra.Command) *InstallConfig {
	config := NewInstallConfig()
	if skill, err := cmd.Flags().GetString("skill"); err == nil {
		config.Skill = skill
	}
	if global, err := cmd.Flags().GetBool("global"); err == nil {
		config.Global = global
	}
	if agents, err := cmd.Flags().GetStringSlice("agent"); err == nil {
		config.Agents = agents
	}
	return config
}

// runOperation takes a baseline, runs the skills CLI and reconciles against
// the baseline so the engine sees what the run changed.
func runOperation(ctx context.Context, a *app, req installer.Request) error {
	if _, err := installer.Args(req); err != nil {
		return err
	}
	runner, err := a.runner()
	if err != nil {
		return err
	}
	if _, err := a.engine.Refresh(ctx); err != nil {
		return err
	}

	runErr := runner.Run(ctx, req)
	if _, err := a.engine.Reconcile(ctx); err != nil {
		return err
	}
	return runErr
}
