package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skilldeck/pkg/manifest"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Manage the workspace skills.json",
	Long:  `Show and edit skills.json, the list of skills a workspace expects, grouped by source repository.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var manifestShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the normalized manifest",
	RunE: func(cmd *cobra.Command, _ []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output != outputJSON && output != outputYAML {
			return errors.Errorf("invalid output format %q, must be one of: json, yaml", output)
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			m, err := readManifest(ctx, a)
			if err != nil {
				return err
			}
			return printStructured(stdout(), output, manifest.Normalize(m))
		})
	},
}

var manifestAddCmd = &cobra.Command{
	Use:   "add <owner/repo> <skill>",
	Short: "Declare a skill in the manifest",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if _, err := requireWorkspace(a); err != nil {
				return err
			}
			next := manifest.WithSkill(a.manifest.Read(ctx), args[0], args[1])
			return writeManifest(ctx, a, next, dryRun)
		})
	},
}

var manifestRemoveCmd = &cobra.Command{
	Use:   "remove <skill>",
	Short: "Remove a skill from every source in the manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			m, err := readManifest(ctx, a)
			if err != nil {
				return err
			}
			return writeManifest(ctx, a, manifest.WithoutSkill(m, args[0]), dryRun)
		})
	},
}

var manifestMissingCmd = &cobra.Command{
	Use:   "missing",
	Short: "List declared skills that are not installed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		output, _ := cmd.Flags().GetString("output")
		if err := validateOutput(output); err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			m, err := readManifest(ctx, a)
			if err != nil {
				return err
			}
			result, err := a.scanner.Scan(ctx)
			if err != nil {
				return err
			}
			missing := manifest.DiffMissing(m, result.All())

			if output != outputTable {
				return printStructured(stdout(), output, missing)
			}
			if len(missing) == 0 {
				a.out.Success("Every declared skill is installed")
				return nil
			}
			rows := make([][]string, 0, len(missing))
			for _, mm := range missing {
				rows = append(rows, []string{mm.Source, mm.SkillName})
			}
			a.out.Table([]string{"Source", "Skill"}, rows)
			return nil
		})
	},
}

var manifestSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of skills.json",
	RunE: func(_ *cobra.Command, _ []string) error {
		data, err := manifest.Schema()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout(), string(data))
		return nil
	},
}

func init() {
	manifestShowCmd.Flags().StringP("output", "o", outputJSON, "Output format (json, yaml)")
	manifestAddCmd.Flags().Bool("dry-run", false, "Print the change instead of writing it")
	manifestRemoveCmd.Flags().Bool("dry-run", false, "Print the change instead of writing it")
	manifestMissingCmd.Flags().StringP("output", "o", outputTable, "Output format (table, json, yaml)")

	manifestCmd.AddCommand(manifestShowCmd)
	manifestCmd.AddCommand(manifestAddCmd)
	manifestCmd.AddCommand(manifestRemoveCmd)
	manifestCmd.AddCommand(manifestMissingCmd)
	manifestCmd.AddCommand(manifestSchemaCmd)
}

func requireWorkspace(a *app) (string, error) {
	path, ok := a.manifest.Path()
	if !ok {
		return "", errors.New("no workspace is open; run inside a project or pass --workspace")
	}
	return path, nil
}

func readManifest(ctx context.Context, a *app) (*manifest.Manifest, error) {
	path, err := requireWorkspace(a)
	if err != nil {
		return nil, err
	}
	m := a.manifest.Read(ctx)
	if m == nil {
		return nil, errors.Errorf("no valid manifest at %s", path)
	}
	return m, nil
}

func writeManifest(ctx context.Context, a *app, next *manifest.Manifest, dryRun bool) error {
	diff, err := a.manifest.Preview(ctx, next)
	if err != nil {
		return err
	}
	if diff == "" {
		a.out.Info("skills.json is already up to date")
		return nil
	}
	if dryRun {
		fmt.Fprint(stdout(), diff)
		return nil
	}
	if err := a.manifest.Write(ctx, next); err != nil {
		return err
	}
	path, _ := a.manifest.Path()
	a.out.Success("Updated " + path)
	return nil
}
