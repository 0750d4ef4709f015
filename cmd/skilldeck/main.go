package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skilldeck/pkg/logger"
	"github.com/jingkaihe/skilldeck/pkg/presenter"
)

func init() {
	// Environment variables
	viper.SetEnvPrefix("SKILLDECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("updates.github_token", "SKILLDECK_UPDATES_GITHUB_TOKEN", "GITHUB_TOKEN")

	// Config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.skilldeck")
	viper.AddConfigPath(".")

	setDefaults()

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()
}

var rootCmd = &cobra.Command{
	Use:   "skilldeck",
	Short: "Keep agent skills in sync with what your projects declare",
	Long: `skilldeck discovers the skills installed for Claude, Cursor, Windsurf and Codex,
tracks them against the skills lock file and a project skills.json, and
reconciles the three whenever skills are installed, removed or updated.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := logger.Configure(viper.GetString("log_level"), viper.GetString("log_format")); err != nil {
			return err
		}
		return startTracing(cmd)
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().String("workspace", "", "Project directory to scan for project skills (defaults to the current directory)")
	rootCmd.PersistentFlags().Bool("no-workspace", false, "Only scan global skills")
	rootCmd.PersistentFlags().StringSlice("agents", nil, "Agents to scan (claude, cursor, windsurf, codex); all when empty")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (fmt, json)")
	rootCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to every confirmation")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Only print command results and errors")

	// Bind flags to viper
	viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	viper.BindPFlag("no_workspace", rootCmd.PersistentFlags().Lookup("no-workspace"))
	viper.BindPFlag("agents", rootCmd.PersistentFlags().Lookup("agents"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("assume_yes", rootCmd.PersistentFlags().Lookup("yes"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(updatesCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	stopTracing(context.Background())
	if err != nil {
		presenter.Error(err, "")
		os.Exit(1)
	}
}
