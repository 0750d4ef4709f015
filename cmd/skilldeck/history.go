package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skilldeck/pkg/history"
)

type HistoryConfig struct {
	Limit  int
	Skill  string
	Kind   string
	Since  time.Duration
	Output string
}

func NewHistoryConfig() *HistoryConfig {
	return &HistoryConfig{
		Limit:  50,
		Skill:  "",
		Kind:   "",
		Since:  0,
		Output: outputTable,
	}
}

func (c *HistoryConfig) Validate() error {
	switch c.Kind {
	case "", history.KindInstalled, history.KindRemoved:
	default:
		return errors.Errorf("invalid kind %q, must be one of: installed, removed", c.Kind)
	}
	if c.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", c.Limit)
	}
	return validateOutput(c.Output)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show detected skill installs and removals",
	Long: `Show the installs and removals detected by past reconciliations, newest
first. History is kept in ~/.skilldeck/history.db unless history.path is set.

Examples:
  skilldeck history --since 24h
  skilldeck history --skill pdf --kind removed`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		config := getHistoryConfigFromFlags(cmd)
		if err := config.Validate(); err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return runHistory(ctx, a, config)
		})
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete history older than a given age",
	RunE: func(cmd *cobra.Command, _ []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return errors.New("--older-than must be positive")
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if a.history == nil {
				return errors.New("history is disabled")
			}
			n, err := a.history.Prune(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			a.out.Success(fmt.Sprintf("Deleted %d reconciliation cycle(s)", n))
			return nil
		})
	},
}

var historyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all recorded history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if a.history == nil {
				return errors.New("history is disabled")
			}
			if !a.confirm("Delete all recorded history?") {
				a.out.Info("History left unchanged")
				return nil
			}
			if err := a.history.Reset(ctx); err != nil {
				return err
			}
			a.out.Success("History deleted")
			return nil
		})
	},
}

func init() {
	defaults := NewHistoryConfig()
	historyCmd.Flags().IntP("limit", "n", defaults.Limit, "Maximum number of events to show (0 for all)")
	historyCmd.Flags().String("skill", defaults.Skill, "Only show events for this folder or display name")
	historyCmd.Flags().String("kind", defaults.Kind, "Only show installed or removed events")
	historyCmd.Flags().Duration("since", defaults.Since, "Only show events newer than this age (e.g. 24h)")
	historyCmd.Flags().StringP("output", "o", defaults.Output, "Output format (table, json, yaml)")

	historyPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Delete cycles older than this age")
	historyCmd.AddCommand(historyPruneCmd)
	historyCmd.AddCommand(historyResetCmd)
}

func getHistoryConfigFromFlags(cmd *cobra.Command) *HistoryConfig {
	config := NewHistoryConfig()
	if limit, err := cmd.Flags().GetInt("limit"); err == nil {
		config.Limit = limit
	}
	if skill, err := cmd.Flags().GetString("skill"); err == nil {
		config.Skill = skill
	}
	if kind, err := cmd.Flags().GetString("kind"); err == nil {
		config.Kind = kind
	}
	if since, err := cmd.Flags().GetDuration("since"); err == nil {
		config.Since = since
	}
	if output, err := cmd.Flags().GetString("output"); err == nil {
		config.Output = output
	}
	return config
}

func runHistory(ctx context.Context, a *app, config *HistoryConfig) error {
	if a.history == nil {
		return errors.New("history is disabled")
	}

	q := history.Query{Kind: config.Kind, Skill: config.Skill, Limit: config.Limit}
	if config.Since > 0 {
		q.Since = time.Now().Add(-config.Since)
	}
	list, err := a.history.Events(ctx, q)
	if err != nil {
		return err
	}

	if config.Output != outputTable {
		return printStructured(stdout(), config.Output, list)
	}
	if len(list) == 0 {
		a.out.Info("No installs or removals recorded yet")
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, e := range list {
		rows = append(rows, []string{
			e.CreatedAt.Local().Format(time.DateTime),
			e.Kind,
			e.Name,
			e.FolderName,
			e.Scope,
			e.Source,
		})
	}
	a.out.Table([]string{"Time", "Event", "Name", "Folder", "Scope", "Source"}, rows)
	return nil
}
