package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const treeJSON = `{
  "sha": "root",
  "truncated": false,
  "tree": [
    {"path": "skills", "type": "tree", "sha": "t-skills"},
    {"path": "skills/react-best-practices", "type": "tree", "sha": "abc123def456"},
    {"path": "skills/react-best-practices/SKILL.md", "type": "blob", "sha": "b1"},
    {"path": "skills/pdf", "type": "tree", "sha": "p1"}
  ]
}`

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base := []Option{WithBaseURL(srv.URL), WithRetry(3, time.Millisecond)}
	c, err := NewClient(context.Background(), "", append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestFetchFolderHashesFallsBackToMaster(t *testing.T) {
	var paths []string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/skills/git/trees/", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		if r.URL.Path == "/repos/acme/skills/git/trees/main" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Not Found"}`)
			return
		}
		fmt.Fprint(w, treeJSON)
	})

	c := newTestClient(t, mux)
	hashes, err := c.FetchFolderHashes(context.Background(), "acme/skills")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"skills":                      "t-skills",
		"skills/react-best-practices": "abc123def456",
		"skills/pdf":                  "p1",
	}, hashes)
	assert.Equal(t, []string{
		"/repos/acme/skills/git/trees/main",
		"/repos/acme/skills/git/trees/master",
	}, paths)
}

func TestFetchFolderHashesNoBranch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	}), WithBranches("trunk"))

	_, err := c.FetchFolderHashes(context.Background(), "acme/skills")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tree found for acme/skills")
}

func TestFetchFolderHashesRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"message":"bad gateway"}`)
			return
		}
		fmt.Fprint(w, treeJSON)
	}))

	hashes, err := c.FetchFolderHashes(context.Background(), "https://github.com/acme/skills.git")
	require.NoError(t, err)
	assert.Equal(t, "p1", hashes["skills/pdf"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchFolderHashesDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Bad credentials"}`)
	}))

	_, err := c.FetchFolderHashes(context.Background(), "acme/skills")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acme/skills@main")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchFolderHashesInvalidSource(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.FetchFolderHashes(context.Background(), "not-a-repo")
	assert.Error(t, err)
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		source  string
		owner   string
		repo    string
		wantErr bool
	}{
		{source: "vercel-labs/agent-skills", owner: "vercel-labs", repo: "agent-skills"},
		{source: "github:anthropics/skills", owner: "anthropics", repo: "skills"},
		{source: "https://github.com/anthropics/skills", owner: "anthropics", repo: "skills"},
		{source: "https://github.com/anthropics/skills.git", owner: "anthropics", repo: "skills"},
		{source: "https://github.com/anthropics/skills/tree/main/skills/pdf", owner: "anthropics", repo: "skills"},
		{source: "https://gitlab.com/acme/skills", wantErr: true},
		{source: "lonely", wantErr: true},
		{source: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			owner, repo, err := ParseSource(tt.source)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}

func TestNewClientOptions(t *testing.T) {
	_, err := NewClient(context.Background(), "token", WithRetry(0, time.Second))
	assert.Error(t, err)

	c, err := NewClient(context.Background(), "token", WithBranches("develop"), WithBaseURL("https://ghe.example.com/api/v3"))
	require.NoError(t, err)
	assert.Equal(t, []string{"develop"}, c.branches)
	assert.Equal(t, "https://ghe.example.com/api/v3/", c.client.BaseURL.String())
}
