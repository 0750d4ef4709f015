package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skilldeck/pkg/skills"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Show where skills are looked for and what was found",
	Long:  `Inspect every skill directory, the lock file and the workspace manifest, and report anything that would keep skills from being discovered.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		output, _ := cmd.Flags().GetString("output")
		if err := validateOutput(output); err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return runDoctor(ctx, a, output)
		})
	},
}

func init() {
	doctorCmd.Flags().StringP("output", "o", outputTable, "Output format (table, json, yaml)")
}

type doctorReport struct {
	skills.Diagnostics `json:",inline" yaml:",inline"`

	ManifestPath  string `json:"manifestPath,omitempty" yaml:"manifestPath,omitempty"`
	ManifestFound bool   `json:"manifestFound" yaml:"manifestFound"`
}

func runDoctor(ctx context.Context, a *app, output string) error {
	report := doctorReport{Diagnostics: a.scanner.Diagnostics(ctx)}
	if path, ok := a.manifest.Path(); ok {
		report.ManifestPath = path
		report.ManifestFound = a.manifest.Read(ctx) != nil
	}

	if output != outputTable {
		return printStructured(stdout(), output, report)
	}

	rows := [][]string{}
	addRows := func(scope skills.Scope, dirs []skills.DirStatus) {
		for _, d := range dirs {
			found := "no"
			if d.Exists {
				found = "yes"
			}
			rows = append(rows, []string{string(scope), d.Agent, d.Path, found, fmt.Sprint(d.SkillCount)})
		}
	}
	addRows(skills.ScopeGlobal, report.GlobalDirs)
	addRows(skills.ScopeProject, report.ProjectDirs)

	a.out.Section("Skill directories")
	a.out.Table([]string{"Scope", "Agent", "Path", "Exists", "Skills"}, rows)

	a.out.Section("Files")
	if report.LockFound {
		a.out.Success("Lock file: " + report.LockPath)
	} else {
		a.out.Warning("Lock file not found: " + report.LockPath)
	}
	if report.ManifestPath != "" {
		if report.ManifestFound {
			a.out.Success("Manifest: " + report.ManifestPath)
		} else {
			a.out.Info("No valid manifest at " + report.ManifestPath)
		}
	}

	for _, issue := range report.Issues {
		a.out.Warning(issue)
	}
	return nil
}
