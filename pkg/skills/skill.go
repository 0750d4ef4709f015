// Package skills discovers agent skills installed on this machine and in the
// open workspace. Skills are directories containing a SKILL.md descriptor;
// they live either in the canonical store shared by all agents
// (~/.agents/skills) or in per-agent directories, where marketplace-installed
// skills are usually symlinks into the canonical store.
package skills

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// Scope says whether a skill was found in user-level or workspace roots.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
)

// InstalledSkill is a skill found on disk. FolderName is its identity; Name is
// the display name from the descriptor and may differ.
type InstalledSkill struct {
	Name        string         `json:"name" yaml:"name"`
	FolderName  string         `json:"folderName" yaml:"folderName"`
	Description string         `json:"description" yaml:"description"`
	Path        string         `json:"path" yaml:"path"`
	Scope       Scope          `json:"scope" yaml:"scope"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Source      string         `json:"source,omitempty" yaml:"source,omitempty"`
	Hash        string         `json:"hash,omitempty" yaml:"hash,omitempty"`
	SkillPath   string         `json:"skillPath,omitempty" yaml:"skillPath,omitempty"`
	// IsCustom is set for real directories with no lock file entry.
	IsCustom bool `json:"isCustom" yaml:"isCustom"`
}

// ScanResult holds the skills found by one scan.
type ScanResult struct {
	GlobalSkills  []InstalledSkill `json:"globalSkills" yaml:"globalSkills"`
	ProjectSkills []InstalledSkill `json:"projectSkills" yaml:"projectSkills"`
}

// All returns global skills followed by project skills.
func (r *ScanResult) All() []InstalledSkill {
	if r == nil {
		return nil
	}
	all := make([]InstalledSkill, 0, len(r.GlobalSkills)+len(r.ProjectSkills))
	all = append(all, r.GlobalSkills...)
	return append(all, r.ProjectSkills...)
}

// Find looks a skill up by folder name, then by display name. Global skills
// are searched before project skills.
func (r *ScanResult) Find(name string) (InstalledSkill, bool) {
	all := r.All()
	for _, s := range all {
		if s.FolderName == name {
			return s, true
		}
	}
	for _, s := range all {
		if s.Name == name {
			return s, true
		}
	}
	return InstalledSkill{}, false
}

// SortByName orders skills by display name, then folder name.
func SortByName(list []InstalledSkill) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].FolderName < list[j].FolderName
	})
}

// ArgKind tags how a command argument carried its skill.
type ArgKind int

const (
	// ArgDirect is a bare skill record.
	ArgDirect ArgKind = iota
	// ArgWrapped is an object with the skill under a "skill" field, as sent
	// by tree-view style integrations.
	ArgWrapped
)

func (k ArgKind) String() string {
	if k == ArgWrapped {
		return "wrapped"
	}
	return "direct"
}

// CommandArg is a skill passed to a command by an integration.
type CommandArg struct {
	Kind  ArgKind
	Skill *InstalledSkill
}

// DecodeCommandArg decodes a JSON command argument in either shape.
func DecodeCommandArg(data []byte) (CommandArg, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return CommandArg{}, errors.Wrap(err, "failed to decode command argument")
	}

	if inner, ok := probe["skill"]; ok {
		var s InstalledSkill
		if err := json.Unmarshal(inner, &s); err != nil {
			return CommandArg{}, errors.Wrap(err, "failed to decode wrapped skill")
		}
		return CommandArg{Kind: ArgWrapped, Skill: &s}, nil
	}

	var s InstalledSkill
	if err := json.Unmarshal(data, &s); err != nil {
		return CommandArg{}, errors.Wrap(err, "failed to decode skill")
	}
	return CommandArg{Kind: ArgDirect, Skill: &s}, nil
}

// ResolveCommandArg returns the skill a command argument refers to.
func ResolveCommandArg(arg CommandArg) (*InstalledSkill, error) {
	switch arg.Kind {
	case ArgDirect, ArgWrapped:
	default:
		return nil, errors.Errorf("unknown command argument kind %d", arg.Kind)
	}
	if arg.Skill == nil {
		return nil, errors.Errorf("%s command argument carries no skill", arg.Kind)
	}
	if arg.Skill.FolderName == "" && arg.Skill.Name == "" {
		return nil, errors.Errorf("%s command argument has neither name nor folder name", arg.Kind)
	}
	s := *arg.Skill
	if s.FolderName == "" {
		s.FolderName = s.Name
	}
	return &s, nil
}
