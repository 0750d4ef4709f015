// Package uninstall removes skill files from disk. Custom skills are plain
// directories and are deleted outright; managed skills also leave agent
// symlinks, a canonical copy and a lock entry behind, which are cleaned up
// here after the skills CLI has run.
package uninstall

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skilldeck/pkg/events"
	"github.com/jingkaihe/skilldeck/pkg/lockfile"
	"github.com/jingkaihe/skilldeck/pkg/logger"
	"github.com/jingkaihe/skilldeck/pkg/skills"
	"github.com/jingkaihe/skilldeck/pkg/telemetry"
)

// Layout tells the cleaner where skills live. *skills.Scanner implements it.
type Layout interface {
	GlobalRoots() []skills.Root
	ProjectRoots() []skills.Root
	LockPath() string
}

// Result lists what was removed.
type Result struct {
	Paths       []string
	LockRemoved bool
}

// Cleaner deletes skills.
type Cleaner struct {
	layout Layout
	bus    *events.Bus
}

// NewCleaner creates a Cleaner. bus may be nil.
func NewCleaner(layout Layout, bus *events.Bus) *Cleaner {
	return &Cleaner{layout: layout, bus: bus}
}

// Uninstall removes sk. Every removal is attempted; the returned error
// joins all failures and carries their messages.
func (c *Cleaner) Uninstall(ctx context.Context, sk *skills.InstalledSkill) (*Result, error) {
	if sk == nil || sk.FolderName == "" {
		return nil, errors.New("no skill to uninstall")
	}

	result := &Result{}
	err := telemetry.WithSpan(ctx, "uninstall", func(ctx context.Context) error {
		if sk.IsCustom {
			return c.removeCustom(ctx, sk, result)
		}
		return c.removeManaged(ctx, sk, result)
	}, attribute.String("skill.folder", sk.FolderName), attribute.Bool("skill.custom", sk.IsCustom))

	log := logger.G(ctx).WithFields(logrus.Fields{
		"skill":   sk.FolderName,
		"scope":   sk.Scope,
		"removed": len(result.Paths),
	})
	if err != nil {
		err = errors.Wrapf(err, "failed to uninstall %s", sk.Name)
		log.WithError(err).Error("uninstall incomplete")
	} else {
		log.Info("skill uninstalled")
	}

	if c.bus != nil {
		c.bus.OperationCompleted.Publish(ctx, events.OperationCompleted{
			Kind:   events.KindRemove,
			Target: sk.FolderName,
			Err:    err,
			At:     time.Now(),
		})
	}
	return result, err
}

func (c *Cleaner) removeCustom(ctx context.Context, sk *skills.InstalledSkill, result *Result) error {
	if _, err := os.Lstat(sk.Path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(sk.Path); err != nil {
		return errors.Wrapf(err, "failed to remove %s", sk.Path)
	}
	logger.G(ctx).WithField("path", sk.Path).Debug("removed custom skill directory")
	result.Paths = append(result.Paths, sk.Path)
	return nil
}

func (c *Cleaner) roots(scope skills.Scope) []skills.Root {
	if scope == skills.ScopeProject {
		return c.layout.ProjectRoots()
	}
	return c.layout.GlobalRoots()
}

// removeManaged deletes the canonical entry and every agent symlink named
// after the folder. Real directories under agent roots are left alone unless
// they are the skill's own content, since they may be unrelated custom skills.
func (c *Cleaner) removeManaged(ctx context.Context, sk *skills.InstalledSkill, result *Result) error {
	var merr *multierror.Error

	for _, root := range c.roots(sk.Scope) {
		entry := filepath.Join(root.Path, sk.FolderName)
		info, err := os.Lstat(entry)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "failed to inspect %s", entry))
			continue
		}

		isLink := info.Mode()&os.ModeSymlink != 0
		canonical := root.Agent == skills.CanonicalAgent
		if !isLink && !canonical && entry != sk.Path {
			logger.G(ctx).WithField("path", entry).Debug("leaving unrelated directory in place")
			continue
		}

		if isLink {
			err = os.Remove(entry)
		} else {
			err = os.RemoveAll(entry)
		}
		if err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "failed to remove %s", entry))
			continue
		}
		result.Paths = append(result.Paths, entry)
	}

	if sk.Scope != skills.ScopeProject {
		removed, err := lockfile.RemoveFolder(c.layout.LockPath(), sk.FolderName)
		if err != nil {
			merr = multierror.Append(merr, err)
		}
		result.LockRemoved = removed
	}

	return merr.ErrorOrNil()
}
