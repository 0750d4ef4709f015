package skills

import (
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Environment variables that relocate skill roots.
const (
	EnvAgentsHome      = "AGENTS_HOME"
	EnvClaudeConfigDir = "CLAUDE_CONFIG_DIR"
	EnvCodexHome       = "CODEX_HOME"
)

const (
	descriptorFile = "SKILL.md"
	skillsDirName  = "skills"
	// CanonicalAgent labels the shared store in roots and diagnostics.
	CanonicalAgent = "agents"
)

// Agent is a supported coding agent and where it keeps skills.
type Agent struct {
	Name string
	// ProjectDir is the agent's skills directory relative to a workspace.
	ProjectDir string
	globalDir  func(home string, getenv func(string) string) string
}

// GlobalDir returns the agent's user-level skills directory.
func (a Agent) GlobalDir(home string, getenv func(string) string) string {
	return a.globalDir(home, getenv)
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

// agents are listed in root priority order.
var agents = []Agent{
	{
		Name:       "claude",
		ProjectDir: filepath.Join(".claude", skillsDirName),
		globalDir: func(home string, getenv func(string) string) string {
			return filepath.Join(envOr(getenv, EnvClaudeConfigDir, filepath.Join(home, ".claude")), skillsDirName)
		},
	},
	{
		Name:       "cursor",
		ProjectDir: filepath.Join(".cursor", skillsDirName),
		globalDir: func(home string, _ func(string) string) string {
			return filepath.Join(home, ".cursor", skillsDirName)
		},
	},
	{
		Name:       "windsurf",
		ProjectDir: filepath.Join(".windsurf", skillsDirName),
		globalDir: func(home string, _ func(string) string) string {
			return filepath.Join(home, ".codeium", "windsurf", skillsDirName)
		},
	},
	{
		Name:       "codex",
		ProjectDir: filepath.Join(".codex", skillsDirName),
		globalDir: func(home string, getenv func(string) string) string {
			return filepath.Join(envOr(getenv, EnvCodexHome, filepath.Join(home, ".codex")), skillsDirName)
		},
	},
}

// KnownAgents returns the names of supported agents in priority order.
func KnownAgents() []string {
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	return names
}

// selectAgents returns the named agents in priority order.
func selectAgents(names []string) ([]Agent, error) {
	if len(names) == 0 {
		return append([]Agent(nil), agents...), nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var selected []Agent
	for _, a := range agents {
		if want[a.Name] {
			selected = append(selected, a)
			delete(want, a.Name)
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for n := range want {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return nil, errors.Errorf("unknown agents %v, supported agents are %v", unknown, KnownAgents())
	}
	return selected, nil
}

// Root is one directory scanned for skills.
type Root struct {
	Path  string `json:"path" yaml:"path"`
	Agent string `json:"agent" yaml:"agent"`
	Scope Scope  `json:"scope" yaml:"scope"`
}
