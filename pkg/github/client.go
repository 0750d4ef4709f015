// Package github reads skill folder hashes from GitHub repositories using
// the git trees API.
package github

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/go-github/v57/github"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/jingkaihe/skilldeck/pkg/logger"
)

// DefaultBranches are tried in order when fetching a repository tree.
var DefaultBranches = []string{"main", "master"}

// Client wraps the GitHub API client.
type Client struct {
	client   *github.Client
	branches []string
	attempts uint
	delay    time.Duration
}

// Option configures a Client.
type Option func(*Client) error

// WithBaseURL points the client at another API endpoint, such as a GitHub
// Enterprise server or a test server.
func WithBaseURL(raw string) Option {
	return func(c *Client) error {
		if raw == "" {
			return nil
		}
		u, err := url.Parse(raw)
		if err != nil {
			return errors.Wrapf(err, "invalid GitHub API URL %q", raw)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		c.client.BaseURL = u
		return nil
	}
}

// WithBranches sets the branches tried when fetching trees.
func WithBranches(branches ...string) Option {
	return func(c *Client) error {
		if len(branches) > 0 {
			c.branches = branches
		}
		return nil
	}
}

// WithRetry sets the attempts per request and the initial backoff delay.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) error {
		if attempts == 0 {
			return errors.New("retry attempts must be at least 1")
		}
		c.attempts = attempts
		c.delay = delay
		return nil
	}
}

// NewClient creates a GitHub client. An empty token uses anonymous access.
func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	log := logger.G(ctx)

	var httpClient *http.Client
	if token == "" {
		log.Debug("no GitHub token provided, API rate limits will be restricted")
	} else {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}

	c := &Client{
		client:   github.NewClient(httpClient),
		branches: DefaultBranches,
		attempts: 3,
		delay:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ParseSource extracts owner and repository from a skill source. Accepted
// forms are "owner/repo", "github:owner/repo" and GitHub URLs.
func ParseSource(source string) (owner, repo string, err error) {
	s := strings.TrimSpace(source)
	s = strings.TrimPrefix(s, "github:")
	if strings.Contains(s, "://") {
		u, perr := url.Parse(s)
		if perr != nil {
			return "", "", errors.Wrapf(perr, "invalid source %q", source)
		}
		if u.Host != "github.com" && u.Host != "www.github.com" {
			return "", "", errors.Errorf("source %q is not hosted on GitHub", source)
		}
		s = u.Path
	}
	s = strings.Trim(strings.TrimSuffix(strings.Trim(s, "/"), ".git"), "/")

	parts := strings.Split(s, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("source %q is not of the form owner/repo", source)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// FetchFolderHashes returns the tree SHA of every directory in the source
// repository, keyed by its path. Branches are tried in order; a missing
// branch falls through to the next one.
func (c *Client) FetchFolderHashes(ctx context.Context, source string) (map[string]string, error) {
	owner, repo, err := ParseSource(source)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, branch := range c.branches {
		tree, err := c.getTree(ctx, owner, repo, branch)
		if err != nil {
			if isNotFound(err) {
				lastErr = err
				logger.G(ctx).WithField("source", source).WithField("branch", branch).Debug("branch not found, trying next")
				continue
			}
			return nil, errors.Wrapf(err, "failed to fetch tree for %s@%s", source, branch)
		}

		if tree.GetTruncated() {
			logger.G(ctx).WithField("source", source).Warn("repository tree was truncated, some skills may not be checked")
		}

		hashes := make(map[string]string)
		for _, entry := range tree.Entries {
			if entry.GetType() == "tree" {
				hashes[entry.GetPath()] = entry.GetSHA()
			}
		}
		return hashes, nil
	}
	return nil, errors.Wrapf(lastErr, "no tree found for %s on branches %v", source, c.branches)
}

func (c *Client) getTree(ctx context.Context, owner, repo, branch string) (*github.Tree, error) {
	var tree *github.Tree
	err := retry.Do(
		func() error {
			t, _, err := c.client.Git.GetTree(ctx, owner, repo, branch, true)
			if err != nil {
				return err
			}
			tree = t
			return nil
		},
		retry.RetryIf(isRetryable),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(5*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).WithField("repo", owner+"/"+repo).Warn("retrying GitHub tree request")
		}),
	)
	return tree, err
}

func statusCode(err error) int {
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response.StatusCode
	}
	return 0
}

func isNotFound(err error) bool {
	code := statusCode(err)
	return code == http.StatusNotFound || code == http.StatusUnprocessableEntity || code == http.StatusConflict
}

func isRetryable(err error) bool {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return false
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return false
	}
	code := statusCode(err)
	if code == 0 {
		return true
	}
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
