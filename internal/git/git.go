package git

import (
	"bytes"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
)

type Client struct {
	worktree string
}

func NewClient() (*Client, error) {
	return NewClientAt("")
}

// NewClientAt opens the repository containing dir, or the working directory
// when dir is empty.
func NewClientAt(dir string) (*Client, error) {
	out, err := runInDir(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("not in git repository: %w", err)
	}
	return &Client{worktree: strings.TrimSpace(out)}, nil
}

func (c *Client) CurrentBranch() (string, error) {
	out, err := runInDir(c.worktree, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return "", fmt.Errorf("detached HEAD state")
	}
	return branch, nil
}

// RemoteURL returns the fetch URL of the named remote.
func (c *Client) RemoteURL(remote string) (string, error) {
	out, err := runInDir(c.worktree, "remote", "get-url", remote)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Repository resolves owner and repo from the origin remote.
func (c *Client) Repository() (owner, repo string, err error) {
	remote, err := c.RemoteURL("origin")
	if err != nil {
		return "", "", err
	}
	return ParseRemote(remote)
}

func (c *Client) Root() string {
	return c.worktree
}

// ParseRemote splits a GitHub style remote URL into owner and repo. It
// accepts https, ssh:// and scp-like "git@host:owner/repo.git" forms.
func ParseRemote(remote string) (owner, repo string, err error) {
	remote = strings.TrimSpace(remote)
	var path string
	switch {
	case strings.Contains(remote, "://"):
		u, perr := url.Parse(remote)
		if perr != nil {
			return "", "", fmt.Errorf("invalid remote url %q: %w", remote, perr)
		}
		path = u.Path
	case strings.Contains(remote, ":"):
		path = remote[strings.Index(remote, ":")+1:]
	default:
		return "", "", fmt.Errorf("unsupported remote url: %s", remote)
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", "", fmt.Errorf("remote url has no owner/repo: %s", remote)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

func runInDir(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return "", fmt.Errorf("%s", strings.TrimSpace(stderr.String()))
		}
		return "", err
	}
	return stdout.String(), nil
}
