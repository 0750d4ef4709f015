package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skilldeck/pkg/manifest"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AGENTS_HOME", "")
	t.Setenv("CLAUDE_CONFIG_DIR", "")
	t.Setenv("CODEX_HOME", "")
	t.Setenv("SKILLDECK_HISTORY_ENABLED", "false")
	return home
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	prev := cmdOutput
	cmdOutput = &buf
	t.Cleanup(func() { cmdOutput = prev })

	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return buf.String()
}

func writeSkill(t *testing.T, dir, name, description string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "---\nname: " + name + "\ndescription: " + description + "\n---\n\n# " + name + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644))
}

func TestListCommandJSON(t *testing.T) {
	home := isolateHome(t)
	writeSkill(t, filepath.Join(home, ".claude", "skills", "pdf"), "pdf", "Work with PDF files")

	out := execute(t, "list", "--no-workspace", "--output", "json")

	var listed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "pdf", listed[0]["name"])
	assert.Equal(t, "pdf", listed[0]["folderName"])
	assert.Equal(t, "global", listed[0]["scope"])
}

func TestManifestAddAndMissing(t *testing.T) {
	isolateHome(t)
	workspace := t.TempDir()

	execute(t, "manifest", "add", "acme/skills", "pdf", "--workspace", workspace, "--no-workspace=false")

	data, err := os.ReadFile(filepath.Join(workspace, "skills.json"))
	require.NoError(t, err)
	var m manifest.Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	require.Len(t, m.Skills, 1)
	assert.Equal(t, "acme/skills", m.Skills[0].Source)
	assert.Equal(t, []string{"pdf"}, m.Skills[0].Skills)

	out := execute(t, "manifest", "missing", "-o", "json", "--workspace", workspace, "--no-workspace=false")

	var missing []manifest.Missing
	require.NoError(t, json.Unmarshal([]byte(out), &missing))
	assert.Equal(t, []manifest.Missing{{Source: "acme/skills", SkillName: "pdf"}}, missing)
}
