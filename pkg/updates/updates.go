// Package updates compares the folder hashes recorded at install time with
// the current hashes in each skill's source repository.
package updates

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/skilldeck/pkg/logger"
	"github.com/jingkaihe/skilldeck/pkg/skills"
	"github.com/jingkaihe/skilldeck/pkg/telemetry"
)

const descriptorSuffix = "/SKILL.md"

// RemoteClient fetches folder path to hash maps for a source repository.
type RemoteClient interface {
	FetchFolderHashes(ctx context.Context, source string) (map[string]string, error)
}

// Candidate is an installed skill eligible for an update check.
type Candidate struct {
	Name            string
	Source          string
	SkillFolderHash string
	SkillPath       string
}

// Update is a skill whose remote folder hash differs from the local one.
type Update struct {
	Name    string `json:"name" yaml:"name"`
	Source  string `json:"source" yaml:"source"`
	NewHash string `json:"newHash" yaml:"newHash"`
}

// Result is the outcome of one update check.
type Result struct {
	Updates   []Update  `json:"updates" yaml:"updates"`
	Errors    []string  `json:"errors" yaml:"errors"`
	CheckedAt time.Time `json:"checkedAt" yaml:"checkedAt"`
}

// Comparator computes available updates and remembers the last result.
type Comparator struct {
	client RemoteClient
	limit  int

	mu   sync.RWMutex
	last *Result
}

// NewComparator creates a Comparator fetching through client with at most
// concurrency sources in flight.
func NewComparator(client RemoteClient, concurrency int) *Comparator {
	if concurrency < 1 {
		concurrency = 4
	}
	return &Comparator{client: client, limit: concurrency}
}

// CandidatesFromSkills selects skills with lock provenance, one per folder
// name, and uses the folder name as the candidate name.
func CandidatesFromSkills(list []skills.InstalledSkill) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate
	for _, s := range list {
		if s.Source == "" || s.Hash == "" || seen[s.FolderName] {
			continue
		}
		seen[s.FolderName] = true
		out = append(out, Candidate{
			Name:            s.FolderName,
			Source:          s.Source,
			SkillFolderHash: s.Hash,
			SkillPath:       s.SkillPath,
		})
	}
	return out
}

// FolderKey is the repository path a candidate's hash is looked up under.
func FolderKey(c Candidate) string {
	if c.SkillPath != "" {
		p := strings.TrimPrefix(c.SkillPath, "/")
		if strings.HasSuffix(p, descriptorSuffix) {
			return strings.TrimSuffix(p, descriptorSuffix)
		}
		if p == strings.TrimPrefix(descriptorSuffix, "/") {
			return ""
		}
		return p
	}
	return "skills/" + c.Name
}

// ComputeUpdates fetches each distinct source once and reports candidates
// whose remote folder hash differs. A failed source contributes an error
// string and no updates. The result is also kept as the last result.
func (c *Comparator) ComputeUpdates(ctx context.Context, candidates []Candidate) Result {
	result := Result{Updates: []Update{}, Errors: []string{}, CheckedAt: time.Now()}
	if len(candidates) == 0 {
		c.store(result)
		return result
	}

	var sources []string
	index := make(map[string]int)
	for _, cand := range candidates {
		if _, ok := index[cand.Source]; !ok {
			index[cand.Source] = len(sources)
			sources = append(sources, cand.Source)
		}
	}

	hashes := make([]map[string]string, len(sources))
	errs := make([]error, len(sources))

	_ = telemetry.WithSpan(ctx, "updates.compute", func(ctx context.Context) error {
		telemetry.SetAttributes(ctx,
			attribute.Int("updates.candidates", len(candidates)),
			attribute.Int("updates.sources", len(sources)),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.limit)
		for i, src := range sources {
			g.Go(func() error {
				h, err := c.client.FetchFolderHashes(gctx, src)
				hashes[i], errs[i] = h, err
				return nil
			})
		}
		return g.Wait()
	})

	for i, src := range sources {
		if errs[i] != nil {
			logger.G(ctx).WithError(errs[i]).WithField("source", src).Warn("failed to check source for updates")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", src, errs[i]))
		}
	}

	for _, cand := range candidates {
		i := index[cand.Source]
		if errs[i] != nil {
			continue
		}
		remote, ok := hashes[i][FolderKey(cand)]
		if !ok || remote == cand.SkillFolderHash {
			continue
		}
		result.Updates = append(result.Updates, Update{Name: cand.Name, Source: cand.Source, NewHash: remote})
	}

	c.store(result)
	return result
}

func (c *Comparator) store(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = &r
}

// LastResult returns a copy of the most recent result.
func (c *Comparator) LastResult() (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return Result{}, false
	}
	r := *c.last
	r.Updates = append([]Update(nil), c.last.Updates...)
	r.Errors = append([]string(nil), c.last.Errors...)
	return r, true
}

// UpdatableNames returns the names with a pending update in the last result.
func (c *Comparator) UpdatableNames() map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make(map[string]struct{})
	if c.last == nil {
		return names
	}
	for _, u := range c.last.Updates {
		names[u.Name] = struct{}{}
	}
	return names
}

// ClearUpdateForSkill drops name from the cached result. It reports whether
// an update was removed.
func (c *Comparator) ClearUpdateForSkill(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return false
	}

	kept := c.last.Updates[:0:0]
	for _, u := range c.last.Updates {
		if u.Name != name {
			kept = append(kept, u)
		}
	}
	removed := len(kept) != len(c.last.Updates)
	c.last.Updates = kept
	return removed
}
