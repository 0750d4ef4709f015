package reconcile

import (
	"sort"
	"sync"

	"github.com/jingkaihe/skilldeck/pkg/skills"
)

// StateView is a UISync that keeps the latest state for rendering.
type StateView struct {
	mu        sync.RWMutex
	names     map[string]struct{}
	list      []skills.InstalledSkill
	updatable map[string]struct{}
	version   int
}

var _ UISync = (*StateView)(nil)

// NewStateView returns an empty view.
func NewStateView() *StateView {
	return &StateView{
		names:     map[string]struct{}{},
		updatable: map[string]struct{}{},
	}
}

func (v *StateView) SetInstalledNames(names map[string]struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.names = names
	v.version++
}

func (v *StateView) SetInstalledSkills(list []skills.InstalledSkill) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.list = list
}

func (v *StateView) SetUpdatableNames(names map[string]struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.updatable = names
}

// IsInstalled reports whether name matches an installed folder or display
// name.
func (v *StateView) IsInstalled(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.names[name]
	return ok
}

// HasUpdate reports whether name has a pending update.
func (v *StateView) HasUpdate(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.updatable[name]
	return ok
}

// Skills returns the installed skills.
func (v *StateView) Skills() []skills.InstalledSkill {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]skills.InstalledSkill(nil), v.list...)
}

// UpdatableNames returns the sorted names with pending updates.
func (v *StateView) UpdatableNames() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, 0, len(v.updatable))
	for n := range v.updatable {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Version counts how many times installed names were pushed.
func (v *StateView) Version() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}
