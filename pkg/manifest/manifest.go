// Package manifest maintains skills.json, the per-workspace declaration of
// which skills a project expects, grouped by source repository.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/aymanbagabas/go-udiff"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/jingkaihe/skilldeck/pkg/logger"
	"github.com/jingkaihe/skilldeck/pkg/skills"
)

// FileName is the manifest file at the workspace root.
const FileName = "skills.json"

// Entry declares the skills expected from one source.
type Entry struct {
	Source string   `json:"source" jsonschema:"description=Source repository the skills are installed from, e.g. owner/repo"`
	Skills []string `json:"skills" jsonschema:"description=Skill folder names expected from the source"`
}

// Manifest is the decoded skills.json.
type Manifest struct {
	Skills []Entry `json:"skills" jsonschema:"required"`
}

// Missing is a declared skill that is not installed.
type Missing struct {
	Source    string `json:"source" yaml:"source"`
	SkillName string `json:"skillName" yaml:"skillName"`
}

// Store reads and writes the manifest of one workspace. A Store without a
// project root reads nothing and ignores writes.
type Store struct {
	root string
	mu   sync.Mutex
}

// NewStore binds a Store to projectRoot, which may be empty.
func NewStore(projectRoot string) *Store {
	return &Store{root: projectRoot}
}

// Path returns the manifest location, if a project root is set.
func (s *Store) Path() (string, bool) {
	if s.root == "" {
		return "", false
	}
	return filepath.Join(s.root, FileName), true
}

// Read returns the manifest, or nil when it is absent, is not valid JSON or
// has no skills array.
func (s *Store) Read(ctx context.Context) *Manifest {
	path, ok := s.Path()
	if !ok {
		return nil
	}

	data, err := lockedfile.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.G(ctx).WithError(err).WithField("path", path).Debug("failed to read manifest")
		}
		return nil
	}

	m, err := Decode(data)
	if err != nil {
		logger.G(ctx).WithError(err).WithField("path", path).Debug("ignoring invalid manifest")
		return nil
	}
	return m
}

// Decode parses manifest JSON. The document must contain a skills array.
func Decode(data []byte) (*Manifest, error) {
	var probe struct {
		Skills json.RawMessage `json:"skills"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest")
	}
	trimmed := bytes.TrimSpace(probe.Skills)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("manifest has no skills array")
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest entries")
	}
	return &m, nil
}

// Encode renders m, normalized, as indented JSON with a trailing newline.
func Encode(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(Normalize(m), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal manifest")
	}
	return append(data, '\n'), nil
}

// Normalize returns a copy of m with entries of the same source merged,
// entries sorted by source, skill names sorted and deduplicated, and empty
// entries dropped.
func Normalize(m *Manifest) *Manifest {
	out := &Manifest{Skills: []Entry{}}
	if m == nil {
		return out
	}

	bySource := make(map[string]map[string]struct{})
	var sources []string
	for _, e := range m.Skills {
		names, ok := bySource[e.Source]
		if !ok {
			names = make(map[string]struct{})
			bySource[e.Source] = names
			sources = append(sources, e.Source)
		}
		for _, n := range e.Skills {
			if n != "" {
				names[n] = struct{}{}
			}
		}
	}

	sortSources(sources)
	for _, src := range sources {
		names := bySource[src]
		if len(names) == 0 {
			continue
		}
		list := make([]string, 0, len(names))
		for n := range names {
			list = append(list, n)
		}
		sort.Strings(list)
		out.Skills = append(out.Skills, Entry{Source: src, Skills: list})
	}
	return out
}

func sortSources(sources []string) {
	c := collate.New(language.Und)
	sort.SliceStable(sources, func(i, j int) bool {
		if r := c.CompareString(sources[i], sources[j]); r != 0 {
			return r < 0
		}
		return sources[i] < sources[j]
	})
}

// Write normalizes and saves m. It is a no-op without a project root.
func (s *Store) Write(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, m)
}

func (s *Store) write(ctx context.Context, m *Manifest) error {
	path, ok := s.Path()
	if !ok {
		logger.G(ctx).Debug("no workspace open, skipping manifest write")
		return nil
	}

	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := lockedfile.Write(path, bytes.NewReader(data), 0o644); err != nil {
		return errors.Wrap(err, "failed to write manifest")
	}
	return nil
}

// WithSkill returns a copy of m declaring folderName under source.
func WithSkill(m *Manifest, source, folderName string) *Manifest {
	next := &Manifest{}
	if m != nil {
		next.Skills = append(next.Skills, m.Skills...)
	}
	next.Skills = append(next.Skills, Entry{Source: source, Skills: []string{folderName}})
	return Normalize(next)
}

// WithoutSkill returns a copy of m with folderName removed from every
// source.
func WithoutSkill(m *Manifest, folderName string) *Manifest {
	next := &Manifest{}
	if m == nil {
		return Normalize(next)
	}
	for _, e := range m.Skills {
		kept := make([]string, 0, len(e.Skills))
		for _, n := range e.Skills {
			if n != folderName {
				kept = append(kept, n)
			}
		}
		next.Skills = append(next.Skills, Entry{Source: e.Source, Skills: kept})
	}
	return Normalize(next)
}

// AddSkill declares folderName under source, creating the manifest if
// needed.
func (s *Store) AddSkill(ctx context.Context, source, folderName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, WithSkill(s.Read(ctx), source, folderName))
}

// RemoveSkill drops folderName from every source. It does nothing when no
// manifest exists.
func (s *Store) RemoveSkill(ctx context.Context, folderName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.Read(ctx)
	if m == nil {
		return nil
	}
	return s.write(ctx, WithoutSkill(m, folderName))
}

// IsInManifest reports whether any source declares folderName.
func (s *Store) IsInManifest(ctx context.Context, folderName string) bool {
	_, ok := s.AllDeclaredNames(ctx)[folderName]
	return ok
}

// AllDeclaredNames returns every declared skill name.
func (s *Store) AllDeclaredNames(ctx context.Context) map[string]struct{} {
	names := make(map[string]struct{})
	m := s.Read(ctx)
	if m == nil {
		return names
	}
	for _, e := range m.Skills {
		for _, n := range e.Skills {
			names[n] = struct{}{}
		}
	}
	return names
}

// DiffMissing lists declared skills that are not installed, in declaration
// order. A declaration is satisfied by an installed skill whose display name
// or folder name matches it.
func DiffMissing(m *Manifest, installed []skills.InstalledSkill) []Missing {
	missing := []Missing{}
	if m == nil {
		return missing
	}

	present := make(map[string]struct{}, len(installed)*2)
	for _, s := range installed {
		present[s.Name] = struct{}{}
		present[s.FolderName] = struct{}{}
	}

	for _, e := range m.Skills {
		for _, n := range e.Skills {
			if _, ok := present[n]; !ok {
				missing = append(missing, Missing{Source: e.Source, SkillName: n})
			}
		}
	}
	return missing
}

// Preview renders the unified diff between the manifest on disk and next.
// It returns an empty string when nothing would change.
func (s *Store) Preview(ctx context.Context, next *Manifest) (string, error) {
	var current []byte
	if path, ok := s.Path(); ok {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return "", errors.Wrap(err, "failed to read manifest")
		}
		current = data
	}

	proposed, err := Encode(next)
	if err != nil {
		return "", err
	}
	if bytes.Equal(current, proposed) {
		return "", nil
	}
	logger.G(ctx).WithField("bytes", len(proposed)).Debug("rendering manifest preview")
	return udiff.Unified(FileName, FileName, string(current), string(proposed)), nil
}

// Schema returns the JSON schema of skills.json.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(&Manifest{})
	schema.Title = "skills.json"
	schema.Description = "Skills a workspace expects to have installed, grouped by source"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal manifest schema")
	}
	return data, nil
}
