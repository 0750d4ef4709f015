package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skilldeck/pkg/github"
	"github.com/jingkaihe/skilldeck/pkg/installer"
	"github.com/jingkaihe/skilldeck/pkg/telemetry"
	"github.com/jingkaihe/skilldeck/pkg/watch"
)

// Config is the resolved configuration of one invocation.
type Config struct {
	Workspace   string            `mapstructure:"workspace"`
	NoWorkspace bool              `mapstructure:"no_workspace"`
	Agents      []string          `mapstructure:"agents"`
	AssumeYes   bool              `mapstructure:"assume_yes"`
	Quiet       bool              `mapstructure:"quiet"`
	Manifest    ManifestSettings  `mapstructure:"manifest"`
	Installer   InstallerSettings `mapstructure:"installer"`
	Updates     UpdatesSettings   `mapstructure:"updates"`
	Watch       WatchSettings     `mapstructure:"watch"`
	History     HistorySettings   `mapstructure:"history"`
	Tracing     telemetry.Config  `mapstructure:"tracing"`
	LogLevel    string            `mapstructure:"log_level"`
	LogFormat   string            `mapstructure:"log_format"`

	// Profiles override settings for a single workspace. Each entry has a
	// "path" key plus any of the keys above.
	Profiles []map[string]any `mapstructure:"profiles"`
}

type ManifestSettings struct {
	Prompt bool `mapstructure:"prompt"`
}

type InstallerSettings struct {
	Command string `mapstructure:"command"`
}

type UpdatesSettings struct {
	GithubToken string   `mapstructure:"github_token"`
	APIURL      string   `mapstructure:"api_url"`
	Branches    []string `mapstructure:"branches"`
	Concurrency int      `mapstructure:"concurrency"`
}

type WatchSettings struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

type HistorySettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults() {
	viper.SetDefault("manifest.prompt", true)
	viper.SetDefault("installer.command", installer.DefaultCommand)
	viper.SetDefault("updates.branches", github.DefaultBranches)
	viper.SetDefault("updates.concurrency", 4)
	viper.SetDefault("watch.debounce", watch.DefaultDebounce)
	viper.SetDefault("history.enabled", true)
	viper.SetDefault("tracing.sampler_type", "ratio")
	viper.SetDefault("tracing.sampler_ratio", 1.0)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "fmt")
}

// loadConfig decodes viper settings, resolves the workspace and applies the
// matching profile.
func loadConfig() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}

	if cfg.NoWorkspace {
		cfg.Workspace = ""
	} else {
		ws := cfg.Workspace
		if ws == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return nil, errors.Wrap(err, "failed to get current directory")
			}
			ws = cwd
		}
		abs, err := filepath.Abs(ws)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve workspace %q", ws)
		}
		cfg.Workspace = abs
	}

	if err := applyProfile(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyProfile overlays the first profile whose path is the workspace.
func applyProfile(cfg *Config) error {
	if cfg.Workspace == "" {
		return nil
	}
	for i, profile := range cfg.Profiles {
		path, _ := profile["path"].(string)
		if path == "" {
			continue
		}
		if abs, err := filepath.Abs(path); err != nil || abs != cfg.Workspace {
			continue
		}

		overlay := make(map[string]any, len(profile))
		for k, v := range profile {
			if k != "path" && k != "profiles" && k != "workspace" {
				overlay[k] = v
			}
		}

		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			WeaklyTypedInput: true,
			Result:           cfg,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create profile decoder")
		}
		if err := decoder.Decode(overlay); err != nil {
			return errors.Wrapf(err, "invalid profile %d for %s", i, path)
		}
		return nil
	}
	return nil
}
