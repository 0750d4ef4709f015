package main

import (
	"context"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skilldeck/pkg/skills"
)

type ListConfig struct {
	Scope  string
	Output string
	Filter string
}

func NewListConfig() *ListConfig {
	return &ListConfig{
		Scope:  "all",
		Output: outputTable,
		Filter: "",
	}
}

func (c *ListConfig) Validate() error {
	switch c.Scope {
	case "all", string(skills.ScopeGlobal), string(skills.ScopeProject):
	default:
		return errors.Errorf("invalid scope %q, must be one of: all, global, project", c.Scope)
	}
	return validateOutput(c.Output)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed skills",
	Long: `List the skills installed for every configured agent, globally and in the
current workspace. Skills reachable from several agent directories are
listed once.

Examples:
  skilldeck list
  skilldeck list --scope global --output json
  skilldeck list --filter 'react-*'`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		config := getListConfigFromFlags(cmd)
		if err := config.Validate(); err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return runList(ctx, a, config)
		})
	},
}

func init() {
	defaults := NewListConfig()
	listCmd.Flags().String("scope", defaults.Scope, "Scope to list (all, global, project)")
	listCmd.Flags().StringP("output", "o", defaults.Output, "Output format (table, json, yaml)")
	listCmd.Flags().StringP("filter", "f", defaults.Filter, "Glob matched against skill and folder names (e.g. 'react-*')")
}

func getListConfigFromFlags(cmd *cobra.Command) *ListConfig {
	config := NewListConfig()
	if scope, err := cmd.Flags().GetString("scope"); err == nil {
		config.Scope = scope
	}
	if output, err := cmd.Flags().GetString("output"); err == nil {
		config.Output = output
	}
	if filter, err := cmd.Flags().GetString("filter"); err == nil {
		config.Filter = filter
	}
	return config
}

// filterSkills keeps skills in scope whose name or folder matches pattern.
func filterSkills(result *skills.ScanResult, scope, pattern string) ([]skills.InstalledSkill, error) {
	var list []skills.InstalledSkill
	switch scope {
	case string(skills.ScopeGlobal):
		list = append(list, result.GlobalSkills...)
	case string(skills.ScopeProject):
		list = append(list, result.ProjectSkills...)
	default:
		list = result.All()
	}

	if pattern == "" {
		return list, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid filter %q", pattern)
	}
	filtered := make([]skills.InstalledSkill, 0, len(list))
	for _, s := range list {
		if g.Match(s.Name) || g.Match(s.FolderName) {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

func runList(ctx context.Context, a *app, config *ListConfig) error {
	result, err := a.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	list, err := filterSkills(result, config.Scope, config.Filter)
	if err != nil {
		return err
	}
	skills.SortByName(list)

	if config.Output != outputTable {
		if list == nil {
			list = []skills.InstalledSkill{}
		}
		return printStructured(stdout(), config.Output, list)
	}
	renderSkillTable(a.out, list)
	return nil
}
