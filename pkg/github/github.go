package github

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/go-github/v53/github"
	"github.com/harekrishnarai/pinwalk/pkg/constants"
	"github.com/harekrishnarai/pinwalk/pkg/fetch"
	"golang.org/x/oauth2"
)

// Client represents a GitHub API client
type Client struct {
	client *github.Client
	token  string
	// CloneBaseURL is where repositories are cloned from
	CloneBaseURL string
	Logger       logr.Logger
}

// NewClient creates a new GitHub API client. An empty token yields an
// unauthenticated, heavily rate limited client.
func NewClient(token string, logger logr.Logger) *Client {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	return &Client{
		client:       github.NewClient(httpClient),
		token:        token,
		CloneBaseURL: "https://" + constants.GitHubHost,
		Logger:       logger,
	}
}

// TokenFromEnv returns the GitHub token from the environment
func TokenFromEnv() string {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token
	}
	return os.Getenv("GH_TOKEN")
}

// API returns the underlying go-github client
func (c *Client) API() *github.Client {
	return c.client
}

// Authenticated reports whether requests carry a token
func (c *Client) Authenticated() bool {
	return c.token != ""
}

var shorthandRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// ParseRepositoryURL parses a GitHub repository URL. Accepted forms are
// https://github.com/owner/repo[.git][/...], github.com/owner/repo,
// git@github.com:owner/repo.git and owner/repo.
func ParseRepositoryURL(repoURL string) (owner, repo string, err error) {
	s := strings.TrimSpace(repoURL)
	s = strings.TrimSuffix(s, "/")

	var rest string
	switch {
	case strings.HasPrefix(s, "https://github.com/"):
		rest = strings.TrimPrefix(s, "https://github.com/")
	case strings.HasPrefix(s, "http://github.com/"):
		rest = strings.TrimPrefix(s, "http://github.com/")
	case strings.HasPrefix(s, "github.com/"):
		rest = strings.TrimPrefix(s, "github.com/")
	case strings.HasPrefix(s, "git@github.com:"):
		rest = strings.TrimPrefix(s, "git@github.com:")
	case shorthandRegex.MatchString(s):
		rest = s
	default:
		return "", "", fmt.Errorf("invalid GitHub repository URL: %s", repoURL)
	}

	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GitHub repository URL: %s", repoURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// CloneRepository shallow-clones the default branch of a GitHub repository
// into destDir, creating a temporary directory when destDir is empty. It
// returns the checkout path.
func (c *Client) CloneRepository(ctx context.Context, repoURL, destDir string) (string, error) {
	owner, repo, err := ParseRepositoryURL(repoURL)
	if err != nil {
		return "", err
	}

	if destDir == "" {
		tempDir, err := os.MkdirTemp("", fmt.Sprintf("%s%s-%s-", constants.DefaultWorkDirPrefix, owner, repo))
		if err != nil {
			return "", fmt.Errorf("failed to create temporary directory: %w", err)
		}
		destDir = tempDir
	} else if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	cloneURL := fmt.Sprintf("%s/%s/%s.git", strings.TrimSuffix(c.CloneBaseURL, "/"), owner, repo)
	c.Logger.V(1).Info("cloning repository", "url", cloneURL, "dest", destDir)

	cmd := exec.CommandContext(ctx, "git", "clone", "-q", "--depth", "1", cloneURL, destDir)
	cmd.Env = append(os.Environ(), fetch.GitEnv(c.CloneBaseURL, c.token)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("git clone cancelled: %w", ctxErr)
		}
		return "", fmt.Errorf("git clone failed: %w, output: %s", err, strings.TrimSpace(stderr.String()))
	}

	return destDir, nil
}
