package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/skilldeck/pkg/frontmatter"
	"github.com/jingkaihe/skilldeck/pkg/lockfile"
	"github.com/jingkaihe/skilldeck/pkg/logger"
	"github.com/jingkaihe/skilldeck/pkg/telemetry"
)

const defaultConcurrency = 16

// Scanner finds installed skills in global and workspace roots.
type Scanner struct {
	homeDir    string
	getenv     func(string) string
	workspaces []string
	agents     []Agent
	lockPath   string
	limit      int
}

// Option configures a Scanner.
type Option func(*Scanner) error

// WithHomeDir overrides the user home directory.
func WithHomeDir(dir string) Option {
	return func(s *Scanner) error {
		s.homeDir = dir
		return nil
	}
}

// WithEnv overrides environment lookups (AGENTS_HOME, CLAUDE_CONFIG_DIR,
// CODEX_HOME).
func WithEnv(getenv func(string) string) Option {
	return func(s *Scanner) error {
		s.getenv = getenv
		return nil
	}
}

// WithWorkspaceFolders sets the open workspace folders. Only the first is
// used as the project root.
func WithWorkspaceFolders(folders ...string) Option {
	return func(s *Scanner) error {
		s.workspaces = nil
		for _, f := range folders {
			if f == "" {
				continue
			}
			abs, err := filepath.Abs(f)
			if err != nil {
				return errors.Wrapf(err, "failed to resolve workspace folder %s", f)
			}
			s.workspaces = append(s.workspaces, abs)
		}
		return nil
	}
}

// WithAgents restricts the per-agent roots to the named agents.
func WithAgents(names ...string) Option {
	return func(s *Scanner) error {
		selected, err := selectAgents(names)
		if err != nil {
			return err
		}
		s.agents = selected
		return nil
	}
}

// WithLockPath overrides the lock file location.
func WithLockPath(path string) Option {
	return func(s *Scanner) error {
		s.lockPath = path
		return nil
	}
}

// WithConcurrency bounds how many entries are inspected at once.
func WithConcurrency(n int) Option {
	return func(s *Scanner) error {
		if n < 1 {
			return errors.Errorf("concurrency must be positive, got %d", n)
		}
		s.limit = n
		return nil
	}
}

// NewScanner creates a Scanner for the current user.
func NewScanner(opts ...Option) (*Scanner, error) {
	s := &Scanner{
		getenv: os.Getenv,
		agents: append([]Agent(nil), agents...),
		limit:  defaultConcurrency,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.homeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get user home directory")
		}
		s.homeDir = home
	}
	return s, nil
}

// AgentsHome is the directory holding the canonical store and the lock file.
func (s *Scanner) AgentsHome() string {
	return envOr(s.getenv, EnvAgentsHome, filepath.Join(s.homeDir, ".agents"))
}

// GlobalSkillsDir is the canonical skills store.
func (s *Scanner) GlobalSkillsDir() string {
	return filepath.Join(s.AgentsHome(), skillsDirName)
}

// LockPath is the lock file consulted for provenance.
func (s *Scanner) LockPath() string {
	if s.lockPath != "" {
		return s.lockPath
	}
	return lockfile.Path(s.AgentsHome())
}

// Workspace returns the project root, if a workspace is open.
func (s *Scanner) Workspace() (string, bool) {
	if len(s.workspaces) == 0 {
		return "", false
	}
	return s.workspaces[0], true
}

// ProjectSkillsDir is the canonical skills directory of the workspace.
func (s *Scanner) ProjectSkillsDir() (string, bool) {
	ws, ok := s.Workspace()
	if !ok {
		return "", false
	}
	return filepath.Join(ws, ".agents", skillsDirName), true
}

// GlobalRoots lists user-level roots in priority order.
func (s *Scanner) GlobalRoots() []Root {
	roots := []Root{{Path: s.GlobalSkillsDir(), Agent: CanonicalAgent, Scope: ScopeGlobal}}
	for _, a := range s.agents {
		roots = append(roots, Root{Path: a.GlobalDir(s.homeDir, s.getenv), Agent: a.Name, Scope: ScopeGlobal})
	}
	return roots
}

// ProjectRoots lists workspace roots in priority order. It is empty when no
// workspace is open.
func (s *Scanner) ProjectRoots() []Root {
	canonical, ok := s.ProjectSkillsDir()
	if !ok {
		return nil
	}
	ws, _ := s.Workspace()

	roots := []Root{{Path: canonical, Agent: CanonicalAgent, Scope: ScopeProject}}
	for _, a := range s.agents {
		roots = append(roots, Root{Path: filepath.Join(ws, a.ProjectDir), Agent: a.Name, Scope: ScopeProject})
	}
	return roots
}

// Scan lists installed skills. Unreadable roots and invalid entries are
// skipped; only context cancellation is returned as an error.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	result := &ScanResult{}

	err := telemetry.WithSpan(ctx, "skills.scan", func(ctx context.Context) error {
		lock := lockfile.Load(ctx, s.LockPath())

		global, err := s.scanRoots(ctx, s.GlobalRoots(), lock)
		if err != nil {
			return err
		}
		project, err := s.scanRoots(ctx, s.ProjectRoots(), lock)
		if err != nil {
			return err
		}

		result.GlobalSkills = global
		result.ProjectSkills = project
		telemetry.SetAttributes(ctx,
			attribute.Int("skills.global", len(global)),
			attribute.Int("skills.project", len(project)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.G(ctx).
		WithField("global", len(result.GlobalSkills)).
		WithField("project", len(result.ProjectSkills)).
		Debug("scanned installed skills")
	return result, nil
}

// scanRoots inspects every entry of every root concurrently and then keeps
// the first skill seen per folder name, in root priority then entry order.
func (s *Scanner) scanRoots(ctx context.Context, roots []Root, lock *lockfile.File) ([]InstalledSkill, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "skill scan interrupted")
	}
	found := make([][]*InstalledSkill, len(roots))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)

	for i, root := range roots {
		names := listEntries(ctx, root.Path)
		found[i] = make([]*InstalledSkill, len(names))

		for j, name := range names {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				found[i][j] = inspectEntry(root, name, lock)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "skill scan interrupted")
	}

	seen := make(map[string]bool)
	var out []InstalledSkill
	for _, entries := range found {
		for _, skill := range entries {
			if skill == nil || seen[skill.FolderName] {
				continue
			}
			seen[skill.FolderName] = true
			out = append(out, *skill)
		}
	}
	return out, nil
}

// listEntries returns the sorted entry names of dir, or nil if it cannot be
// read.
func listEntries(ctx context.Context, dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.G(ctx).WithError(err).WithField("dir", dir).Debug("failed to read skills directory")
		}
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// inspectEntry classifies an entry with Lstat before resolving it, so a
// symlink is recognised as marketplace-managed regardless of its target path.
func inspectEntry(root Root, name string, lock *lockfile.File) *InstalledSkill {
	entryPath := filepath.Join(root.Path, name)

	info, err := os.Lstat(entryPath)
	if err != nil {
		return nil
	}
	isSymlink := info.Mode()&os.ModeSymlink != 0
	if !isSymlink && !info.IsDir() {
		return nil
	}

	dir, err := filepath.EvalSymlinks(entryPath)
	if err != nil {
		return nil
	}
	if isSymlink {
		target, err := os.Stat(dir)
		if err != nil || !target.IsDir() {
			return nil
		}
	}

	desc, ok := frontmatter.ParseFile(filepath.Join(dir, descriptorFile))
	if !ok {
		return nil
	}

	skill := &InstalledSkill{
		Name:        desc.Name,
		FolderName:  name,
		Description: desc.Description,
		Path:        dir,
		Scope:       root.Scope,
		Metadata:    desc.Metadata,
	}

	_, entry, matched := lock.Lookup(name)
	if matched {
		skill.Source = entry.Source
		skill.Hash = entry.SkillFolderHash
		skill.SkillPath = entry.SkillPath
	}
	skill.IsCustom = !isSymlink && !matched
	return skill
}

// DirStatus reports on one skill root.
type DirStatus struct {
	Path       string `json:"path" yaml:"path"`
	Agent      string `json:"agent" yaml:"agent"`
	Exists     bool   `json:"exists" yaml:"exists"`
	SkillCount int    `json:"skillCount" yaml:"skillCount"`
}

// Diagnostics summarizes the state of every root for troubleshooting.
type Diagnostics struct {
	GlobalDirs  []DirStatus `json:"globalDirs" yaml:"globalDirs"`
	ProjectDirs []DirStatus `json:"projectDirs,omitempty" yaml:"projectDirs,omitempty"`
	LockPath    string      `json:"lockPath" yaml:"lockPath"`
	LockFound   bool        `json:"lockFound" yaml:"lockFound"`
	Issues      []string    `json:"issues" yaml:"issues"`
}

// Diagnostics inspects every root. It never fails.
func (s *Scanner) Diagnostics(ctx context.Context) Diagnostics {
	d := Diagnostics{
		LockPath: s.LockPath(),
		Issues:   []string{},
	}

	anyExists := false
	for _, root := range s.GlobalRoots() {
		status := dirStatus(ctx, root)
		anyExists = anyExists || status.Exists
		d.GlobalDirs = append(d.GlobalDirs, status)
	}
	for _, root := range s.ProjectRoots() {
		status := dirStatus(ctx, root)
		anyExists = anyExists || status.Exists
		d.ProjectDirs = append(d.ProjectDirs, status)
	}

	if _, err := os.Stat(d.LockPath); err == nil {
		d.LockFound = true
	}

	if !anyExists {
		d.Issues = append(d.Issues, fmt.Sprintf("No skill directories found. Skills installed with the skills CLI are stored in %s.", s.GlobalSkillsDir()))
	}
	if _, ok := s.Workspace(); !ok {
		d.Issues = append(d.Issues, "No workspace folder is open, so project skills are not scanned.")
	}
	return d
}

func dirStatus(ctx context.Context, root Root) DirStatus {
	status := DirStatus{Path: root.Path, Agent: root.Agent}
	info, err := os.Stat(root.Path)
	if err != nil || !info.IsDir() {
		return status
	}
	status.Exists = true

	for _, name := range listEntries(ctx, root.Path) {
		if inspectEntry(root, name, nil) != nil {
			status.SkillCount++
		}
	}
	return status
}
