// Package lockfile reads and maintains the skills lock file written by the
// external skills CLI (~/.agents/.skill-lock.json).
package lockfile

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/jingkaihe/skilldeck/pkg/logger"
)

// FileName is the name of the lock file inside the agents home directory.
const FileName = ".skill-lock.json"

const descriptorName = "SKILL.md"

// Entry records where an installed skill came from.
type Entry struct {
	Source          string `json:"source"`
	SourceType      string `json:"sourceType,omitempty"`
	SourceURL       string `json:"sourceUrl,omitempty"`
	SkillPath       string `json:"skillPath,omitempty"`
	SkillFolderHash string `json:"skillFolderHash"`
	InstalledAt     string `json:"installedAt,omitempty"`
	UpdatedAt       string `json:"updatedAt,omitempty"`
}

// File is the decoded lock file. Keys of Skills are not guaranteed to match
// on-disk folder names.
type File struct {
	Version int              `json:"version"`
	Skills  map[string]Entry `json:"skills"`
}

// Path returns the lock file location inside agentsHome.
func Path(agentsHome string) string {
	return filepath.Join(agentsHome, FileName)
}

// Load reads the lock file at path. A missing or malformed file yields nil.
func Load(ctx context.Context, path string) *File {
	data, err := lockedfile.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.G(ctx).WithError(err).WithField("path", path).Debug("failed to read lock file")
		}
		return nil
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		logger.G(ctx).WithError(err).WithField("path", path).Debug("ignoring malformed lock file")
		return nil
	}
	if f.Skills == nil {
		f.Skills = map[string]Entry{}
	}
	return &f
}

// Lookup finds the entry for an installed folder. A key equal to the folder
// name wins; otherwise the first entry, in key order, whose skillPath ends in
// <folderName>/SKILL.md is used.
func (f *File) Lookup(folderName string) (string, Entry, bool) {
	if f == nil || folderName == "" {
		return "", Entry{}, false
	}
	if e, ok := f.Skills[folderName]; ok {
		return folderName, e, true
	}

	keys := make([]string, 0, len(f.Skills))
	for k := range f.Skills {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if matchesFolder(f.Skills[k].SkillPath, folderName) {
			return k, f.Skills[k], true
		}
	}
	return "", Entry{}, false
}

func matchesFolder(skillPath, folderName string) bool {
	if skillPath == "" {
		return false
	}
	sp := filepath.ToSlash(skillPath)
	suffix := folderName + "/" + descriptorName
	return sp == suffix || strings.HasSuffix(sp, "/"+suffix)
}

// Save writes f to path as indented JSON.
func Save(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create lock file directory")
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal lock file")
	}
	data = append(data, '\n')

	if err := lockedfile.Write(path, bytes.NewReader(data), 0o644); err != nil {
		return errors.Wrap(err, "failed to write lock file")
	}
	return nil
}

// RemoveFolder deletes the entry Lookup would return for folderName. Fields
// this package does not model are preserved. It reports whether an entry was
// removed; a missing lock file is not an error.
func RemoveFolder(path, folderName string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}

	removed := false
	err := lockedfile.Transform(path, func(data []byte) ([]byte, error) {
		var typed File
		if err := json.Unmarshal(data, &typed); err != nil {
			return nil, errors.Wrap(err, "failed to parse lock file")
		}
		key, _, ok := typed.Lookup(folderName)
		if !ok {
			return data, nil
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, "failed to parse lock file")
		}
		var skills map[string]json.RawMessage
		if err := json.Unmarshal(raw["skills"], &skills); err != nil {
			return nil, errors.Wrap(err, "failed to parse lock file skills")
		}
		delete(skills, key)

		encoded, err := json.Marshal(skills)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode lock file skills")
		}
		raw["skills"] = encoded

		out, err := json.MarshalIndent(raw, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode lock file")
		}
		removed = true
		return append(out, '\n'), nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to remove %s from lock file", folderName)
	}
	return removed, nil
}
