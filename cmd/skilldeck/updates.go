package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skilldeck/pkg/updates"
)

var updatesCmd = &cobra.Command{
	Use:   "updates",
	Short: "Check installed skills for newer versions",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var updatesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare installed skill hashes with their source repositories",
	Long: `Fetch the folder hashes of every source repository recorded in the lock
file, once per repository, and list the skills whose remote folder changed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		output, _ := cmd.Flags().GetString("output")
		if err := validateOutput(output); err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return runUpdatesCheck(ctx, a, output)
		})
	},
}

func init() {
	updatesCheckCmd.Flags().StringP("output", "o", outputTable, "Output format (table, json, yaml)")
	updatesCmd.AddCommand(updatesCheckCmd)
}

func runUpdatesCheck(ctx context.Context, a *app, output string) error {
	report, err := a.engine.Refresh(ctx)
	if err != nil {
		return err
	}

	candidates := updates.CandidatesFromSkills(a.state.Skills())
	result := a.updates.ComputeUpdates(ctx, candidates)

	if output != outputTable {
		return printStructured(stdout(), output, result)
	}

	if len(candidates) == 0 {
		a.out.Info(fmt.Sprintf("None of the %d installed skill(s) were installed from a repository", report.Total))
		return nil
	}

	for _, e := range result.Errors {
		a.out.Warning(e)
	}

	sources := map[string]bool{}
	for _, c := range candidates {
		sources[c.Source] = true
	}
	if len(result.Errors) > 0 && len(result.Errors) == len(sources) {
		return errors.New("failed to check for updates: no source repository could be reached")
	}

	if len(result.Updates) == 0 {
		a.out.Success("All skills are up to date")
		return nil
	}

	rows := make([][]string, 0, len(result.Updates))
	for _, u := range result.Updates {
		rows = append(rows, []string{u.Name, u.Source, shortHash(u.NewHash)})
	}
	a.out.Table([]string{"Skill", "Source", "New hash"}, rows)
	a.out.Info(fmt.Sprintf("%d update(s) available, run 'skilldeck update <skill>' to apply", len(result.Updates)))
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
