package reconcile

import (
	"github.com/jingkaihe/skilldeck/pkg/skills"
)

// Snapshot is the installed state seen by the last completed cycle. Folder
// names identify skills; Names also carries display names for callers that
// refer to skills either way.
type Snapshot struct {
	names   map[string]struct{}
	folders map[string]struct{}
	list    []skills.InstalledSkill
}

func newSnapshot(list []skills.InstalledSkill) Snapshot {
	s := Snapshot{
		names:   make(map[string]struct{}, len(list)*2),
		folders: make(map[string]struct{}, len(list)),
		list:    append([]skills.InstalledSkill(nil), list...),
	}
	for _, sk := range list {
		s.names[sk.Name] = struct{}{}
		s.names[sk.FolderName] = struct{}{}
		s.folders[sk.FolderName] = struct{}{}
	}
	return s
}

func (s Snapshot) clone() Snapshot {
	return newSnapshot(s.list)
}

// Count is the number of distinct installed folders.
func (s Snapshot) Count() int {
	return len(s.folders)
}

// Has reports whether name is a known folder or display name.
func (s Snapshot) Has(name string) bool {
	_, ok := s.names[name]
	return ok
}

// NamesCopy returns display and folder names of every installed skill.
func (s Snapshot) NamesCopy() map[string]struct{} {
	return copySet(s.names)
}

// Skills returns a copy of the installed list.
func (s Snapshot) Skills() []skills.InstalledSkill {
	return append([]skills.InstalledSkill(nil), s.list...)
}

// diff returns the skills of a whose folder name is absent from b, one per
// folder.
func diff(a, b Snapshot) []skills.InstalledSkill {
	var out []skills.InstalledSkill
	seen := make(map[string]bool)
	for _, sk := range a.list {
		if _, ok := b.folders[sk.FolderName]; ok || seen[sk.FolderName] {
			continue
		}
		seen[sk.FolderName] = true
		out = append(out, sk)
	}
	return out
}

func folderNames(list []skills.InstalledSkill) []string {
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.FolderName
	}
	return names
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
