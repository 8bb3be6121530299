package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/harekrishnarai/pinwalk/pkg/pin"
)

// GitFetcher shallow-fetches a single ref with the git command line
type GitFetcher struct {
	// BaseURL is prepended to owner/repo; defaults to https://github.com
	BaseURL string
	Token   string
	GitPath string
	Logger  logr.Logger
}

// NewGitFetcher creates a git based fetcher for github.com
func NewGitFetcher(token string, logger logr.Logger) *GitFetcher {
	return &GitFetcher{
		BaseURL: "https://github.com",
		Token:   token,
		GitPath: "git",
		Logger:  logger,
	}
}

// Fetch implements Fetcher
func (g *GitFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	if req.Dest == "" {
		return nil, newError(req, ReasonDisk, errors.New("no destination directory"))
	}
	// a leftover checkout from an earlier run would make `git init` a no-op
	if err := os.RemoveAll(req.Dest); err != nil {
		return nil, newError(req, ReasonDisk, err)
	}
	if err := os.MkdirAll(req.Dest, 0755); err != nil {
		return nil, newError(req, ReasonDisk, err)
	}

	g.Logger.V(1).Info("fetching with git", "repository", req.String(), "dest", req.Dest)

	commands := [][]string{
		{"init", "-q"},
		{"remote", "add", "origin", g.remoteURL(req)},
		{"fetch", "-q", "--depth", "1", "--no-tags", "origin", req.Ref},
		{"checkout", "-q", "FETCH_HEAD"},
	}
	for _, args := range commands {
		if _, err := g.run(ctx, req, args...); err != nil {
			return nil, err
		}
	}

	out, err := g.run(ctx, req, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	sha := strings.TrimSpace(out)
	if !pin.IsFullCommitSHA(sha) {
		return nil, newError(req, ReasonUnknown, fmt.Errorf("unexpected rev-parse output %q", sha))
	}

	return &Result{CanonicalID: sha, Content: os.DirFS(req.Dest)}, nil
}

func (g *GitFetcher) remoteURL(req Request) string {
	base := g.BaseURL
	if base == "" {
		base = "https://github.com"
	}
	return fmt.Sprintf("%s/%s/%s.git", strings.TrimSuffix(base, "/"), req.Owner, req.Repo)
}

func (g *GitFetcher) run(ctx context.Context, req Request, args ...string) (string, error) {
	gitPath := g.GitPath
	if gitPath == "" {
		gitPath = "git"
	}

	g.Logger.V(2).Info("git", "args", strings.Join(args, " "), "dir", req.Dest)

	cmd := exec.CommandContext(ctx, gitPath, args...)
	cmd.Dir = req.Dest
	cmd.Env = append(os.Environ(), g.env()...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", newError(req, ReasonCancelled, ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", newError(req, ReasonUnknown, fmt.Errorf("git %s: %w", args[0], err))
		}
		return "", newError(req, classifyGitError(msg), fmt.Errorf("git %s: %s", args[0], msg))
	}
	return stdout.String(), nil
}

func (g *GitFetcher) env() []string {
	return GitEnv(g.BaseURL, g.Token)
}

// GitEnv returns environment entries that keep git non-interactive and pass
// token as an HTTP header for baseURL, so it never lands in .git/config or
// the process list
func GitEnv(baseURL, token string) []string {
	env := []string{"GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=", "GIT_CONFIG_NOSYSTEM=1"}
	if token == "" || !strings.HasPrefix(baseURL, "https://") {
		return env
	}
	creds := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
	return append(env,
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=http."+strings.TrimSuffix(baseURL, "/")+"/.extraheader",
		"GIT_CONFIG_VALUE_0=AUTHORIZATION: basic "+creds,
	)
}

// classifyGitError maps git's stderr to a failure reason
func classifyGitError(stderr string) Reason {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "couldn't find remote ref"),
		strings.Contains(s, "not our ref"),
		strings.Contains(s, "unknown revision"),
		strings.Contains(s, "invalid refspec"):
		return ReasonRefNotFound
	case strings.Contains(s, "repository not found"),
		strings.Contains(s, "does not appear to be a git repository"),
		strings.Contains(s, "could not read username"),
		strings.Contains(s, "authentication failed"):
		return ReasonRepoNotFound
	case strings.Contains(s, "rate limit"),
		strings.Contains(s, "429"):
		return ReasonRateLimited
	case strings.Contains(s, "no space left"),
		strings.Contains(s, "disk quota"),
		strings.Contains(s, "read-only file system"),
		strings.Contains(s, "permission denied"):
		return ReasonDisk
	case strings.Contains(s, "could not resolve host"),
		strings.Contains(s, "unable to access"),
		strings.Contains(s, "connection"),
		strings.Contains(s, "timed out"),
		strings.Contains(s, "early eof"),
		strings.Contains(s, "rpc failed"):
		return ReasonTransport
	default:
		return ReasonUnknown
	}
}

// DestFor returns the checkout directory for an (owner, repo, ref) triple
// below workDir. Distinct triples never share a directory.
func DestFor(workDir string, req Request) string {
	sum := sha256.Sum256([]byte(req.String()))
	return filepath.Join(workDir, fmt.Sprintf("%s_%s_%s", sanitize(req.Owner), sanitize(req.Repo), hex.EncodeToString(sum[:])[:12]))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
