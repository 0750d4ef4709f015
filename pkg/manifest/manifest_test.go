package manifest

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skilldeck/pkg/skills"
)

func writeManifest(t *testing.T, root, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(content), 0o644))
}

func TestRead(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
		want    *Manifest
	}{
		{
			name:    "valid",
			content: `{"skills":[{"source":"o/r","skills":["a","b"]}]}`,
			want:    &Manifest{Skills: []Entry{{Source: "o/r", Skills: []string{"a", "b"}}}},
		},
		{name: "empty array", content: `{"skills":[]}`, want: &Manifest{Skills: []Entry{}}},
		{name: "malformed json", content: `{"skills":`},
		{name: "missing skills", content: `{"version":1}`},
		{name: "skills not an array", content: `{"skills":{"o/r":["a"]}}`},
		{name: "null skills", content: `{"skills":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeManifest(t, root, tt.content)
			assert.Equal(t, tt.want, NewStore(root).Read(ctx))
		})
	}

	t.Run("absent file", func(t *testing.T) {
		assert.Nil(t, NewStore(t.TempDir()).Read(ctx))
	})

	t.Run("no workspace", func(t *testing.T) {
		assert.Nil(t, NewStore("").Read(ctx))
	})
}

func TestWriteNormalizes(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewStore(root)

	err := store.Write(ctx, &Manifest{Skills: []Entry{
		{Source: "zeta/skills", Skills: []string{"b", "a", "b"}},
		{Source: "Alpha/skills", Skills: []string{"x"}},
		{Source: "empty/skills", Skills: []string{}},
		{Source: "zeta/skills", Skills: []string{"c"}},
	}})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, FileName))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "}\n"))
	assert.Contains(t, string(data), "\n  \"skills\": [")

	assert.Equal(t, &Manifest{Skills: []Entry{
		{Source: "Alpha/skills", Skills: []string{"x"}},
		{Source: "zeta/skills", Skills: []string{"a", "b", "c"}},
	}}, store.Read(ctx))
}

func TestWriteWithoutWorkspace(t *testing.T) {
	store := NewStore("")
	assert.NoError(t, store.Write(context.Background(), &Manifest{Skills: []Entry{{Source: "o/r", Skills: []string{"a"}}}}))
	assert.NoError(t, store.AddSkill(context.Background(), "o/r", "a"))
	assert.NoError(t, store.RemoveSkill(context.Background(), "a"))
	assert.False(t, store.IsInManifest(context.Background(), "a"))
	assert.Empty(t, store.AllDeclaredNames(context.Background()))
}

func TestAddAndRemoveSkill(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewStore(root)

	require.NoError(t, store.RemoveSkill(ctx, "nothing"))
	_, err := os.Stat(filepath.Join(root, FileName))
	assert.True(t, os.IsNotExist(err), "removing from a missing manifest must not create it")

	require.NoError(t, store.AddSkill(ctx, "vercel-labs/agent-skills", "react-best-practices"))
	require.NoError(t, store.AddSkill(ctx, "anthropics/skills", "pdf"))
	require.NoError(t, store.AddSkill(ctx, "anthropics/skills", "docx"))
	require.NoError(t, store.AddSkill(ctx, "anthropics/skills", "pdf"))

	assert.Equal(t, &Manifest{Skills: []Entry{
		{Source: "anthropics/skills", Skills: []string{"docx", "pdf"}},
		{Source: "vercel-labs/agent-skills", Skills: []string{"react-best-practices"}},
	}}, store.Read(ctx))
	assert.True(t, store.IsInManifest(ctx, "pdf"))
	assert.False(t, store.IsInManifest(ctx, "xlsx"))

	require.NoError(t, store.RemoveSkill(ctx, "react-best-practices"))
	assert.Equal(t, &Manifest{Skills: []Entry{
		{Source: "anthropics/skills", Skills: []string{"docx", "pdf"}},
	}}, store.Read(ctx))

	assert.Equal(t, map[string]struct{}{"docx": {}, "pdf": {}}, store.AllDeclaredNames(ctx))
}

func TestRemoveSkillFromEverySource(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeManifest(t, root, `{"skills":[{"source":"a/a","skills":["shared","x"]},{"source":"b/b","skills":["shared"]}]}`)

	store := NewStore(root)
	require.NoError(t, store.RemoveSkill(ctx, "shared"))
	assert.Equal(t, &Manifest{Skills: []Entry{{Source: "a/a", Skills: []string{"x"}}}}, store.Read(ctx))
}

func TestInvariantsHoldAfterRandomOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore(t.TempDir())
	rng := rand.New(rand.NewSource(42))

	sources := []string{"zeta/z", "alpha/a", "Mid/m", "beta/b"}
	names := []string{"pdf", "docx", "xlsx", "react", "go"}

	for i := 0; i < 60; i++ {
		name := names[rng.Intn(len(names))]
		if rng.Intn(3) == 0 {
			require.NoError(t, store.RemoveSkill(ctx, name))
		} else {
			require.NoError(t, store.AddSkill(ctx, sources[rng.Intn(len(sources))], name))
		}

		m := store.Read(ctx)
		require.NotNil(t, m)

		var got []string
		for _, e := range m.Skills {
			got = append(got, e.Source)
			require.NotEmpty(t, e.Skills)
			assert.True(t, sort.StringsAreSorted(e.Skills))
			seen := map[string]bool{}
			for _, n := range e.Skills {
				assert.False(t, seen[n], "duplicate %s in %s", n, e.Source)
				seen[n] = true
			}
		}
		want := append([]string(nil), got...)
		sortSources(want)
		assert.Equal(t, want, got)
	}
}

func TestSortSourcesUsesCollation(t *testing.T) {
	sources := []string{"zeta/z", "Beta/b", "alpha/a", "Éclair/e"}
	sortSources(sources)
	assert.Equal(t, []string{"alpha/a", "Beta/b", "Éclair/e", "zeta/z"}, sources)
}

func TestDiffMissing(t *testing.T) {
	m := &Manifest{Skills: []Entry{{Source: "o/r", Skills: []string{"a", "b"}}}}

	t.Run("matches folder name", func(t *testing.T) {
		installed := []skills.InstalledSkill{{Name: "Skill A", FolderName: "a"}}
		assert.Equal(t, []Missing{{Source: "o/r", SkillName: "b"}}, DiffMissing(m, installed))
	})

	t.Run("matches display name", func(t *testing.T) {
		installed := []skills.InstalledSkill{{Name: "b", FolderName: "b-folder"}, {Name: "A", FolderName: "a"}}
		assert.Empty(t, DiffMissing(m, installed))
	})

	t.Run("declaration order", func(t *testing.T) {
		multi := &Manifest{Skills: []Entry{
			{Source: "x/x", Skills: []string{"z", "y"}},
			{Source: "o/r", Skills: []string{"b"}},
		}}
		assert.Equal(t, []Missing{
			{Source: "x/x", SkillName: "z"},
			{Source: "x/x", SkillName: "y"},
			{Source: "o/r", SkillName: "b"},
		}, DiffMissing(multi, nil))
	})

	t.Run("nil manifest", func(t *testing.T) {
		assert.Empty(t, DiffMissing(nil, nil))
	})
}

func TestPreview(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewStore(root)
	require.NoError(t, store.AddSkill(ctx, "o/r", "a"))

	current := store.Read(ctx)
	same, err := store.Preview(ctx, current)
	require.NoError(t, err)
	assert.Empty(t, same)

	diff, err := store.Preview(ctx, WithSkill(current, "o/r", "b"))
	require.NoError(t, err)
	assert.Contains(t, diff, "--- skills.json")
	assert.Contains(t, diff, "+        \"b\"")

	assert.Equal(t, &Manifest{Skills: []Entry{{Source: "o/r", Skills: []string{"a"}}}}, store.Read(ctx), "preview must not write")
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "skills.json", schema["title"])
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "skills")
}
