package fetch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
)

func TestClassifyGitError(t *testing.T) {
	tests := []struct {
		stderr   string
		expected Reason
	}{
		{"fatal: couldn't find remote ref v9", ReasonRefNotFound},
		{"error: Server does not allow request for unadvertised object abc: not our ref", ReasonRefNotFound},
		{"remote: Repository not found.\nfatal: repository 'https://github.com/a/b.git/' not found", ReasonRepoNotFound},
		{"fatal: could not read Username for 'https://github.com': terminal prompts disabled", ReasonRepoNotFound},
		{"fatal: '/tmp/x/a/b.git' does not appear to be a git repository", ReasonRepoNotFound},
		{"fatal: unable to access 'https://github.com/a/b.git/': Could not resolve host: github.com", ReasonTransport},
		{"error: RPC failed; curl 56 GnuTLS recv error", ReasonTransport},
		{"fatal: write error: No space left on device", ReasonDisk},
		{"remote: API rate limit exceeded", ReasonRateLimited},
		{"something unexpected", ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.expected), func(t *testing.T) {
			if got := classifyGitError(tt.stderr); got != tt.expected {
				t.Errorf("classifyGitError(%q) = %s, want %s", tt.stderr, got, tt.expected)
			}
		})
	}
}

func TestDestForIsUniquePerTriple(t *testing.T) {
	work := "/work"
	seen := make(map[string]Request)
	requests := []Request{
		{Owner: "a", Repo: "b", Ref: "v1"},
		{Owner: "a", Repo: "b", Ref: "v2"},
		{Owner: "a", Repo: "b", Ref: "feature/x"},
		{Owner: "a", Repo: "c", Ref: "v1"},
		{Owner: "a_b", Repo: "c", Ref: "v1"},
	}
	for _, req := range requests {
		dest := DestFor(work, req)
		if !strings.HasPrefix(dest, work+string(filepath.Separator)) {
			t.Errorf("Expected %s to be below %s", dest, work)
		}
		if other, ok := seen[dest]; ok {
			t.Errorf("Requests %v and %v share %s", other, req, dest)
		}
		seen[dest] = req
	}
	if DestFor(work, requests[0]) != DestFor(work, requests[0]) {
		t.Errorf("Expected DestFor to be deterministic")
	}
}

func TestGitFetcherRequiresDest(t *testing.T) {
	g := NewGitFetcher("", logr.Discard())
	_, err := g.Fetch(context.Background(), Request{Owner: "a", Repo: "b", Ref: "v1"})
	if ReasonOf(err) != ReasonDisk {
		t.Errorf("Expected disk reason, got %v", err)
	}
}

func gitOrSkip(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-c", "user.name=pinwalk", "-c", "user.email=pinwalk@example.com"}, args...)...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// newRemote creates <root>/<owner>/<repo>.git with one tagged commit
func newRemote(t *testing.T, root, owner, repo string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, owner, repo+".git")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create remote: %v", err)
	}
	runGit(t, dir, "init", "-q")
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-q", "-m", "initial")
	runGit(t, dir, "tag", "v1")
	return runGit(t, dir, "rev-parse", "HEAD")
}

func TestGitFetcherLocalRemote(t *testing.T) {
	gitOrSkip(t)

	remotes := t.TempDir()
	sha := newRemote(t, remotes, "octo", "setup", map[string]string{
		"action.yml":     "name: setup\nruns:\n  using: composite\n  steps: []\n",
		"sub/action.yml": "name: sub\nruns:\n  using: node20\n  main: index.js\n",
	})

	g := NewGitFetcher("", logr.Discard())
	g.BaseURL = "file://" + filepath.ToSlash(remotes)
	work := t.TempDir()

	req := Request{Owner: "octo", Repo: "setup", Ref: "v1"}
	req.Dest = DestFor(work, req)

	res, err := g.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if res.CanonicalID != sha {
		t.Errorf("Expected canonical id %s, got %s", sha, res.CanonicalID)
	}
	data, err := fs.ReadFile(res.Content, "sub/action.yml")
	if err != nil {
		t.Fatalf("Failed to read fetched content: %v", err)
	}
	if !strings.Contains(string(data), "node20") {
		t.Errorf("Unexpected content %q", data)
	}

	t.Run("missing ref", func(t *testing.T) {
		req := Request{Owner: "octo", Repo: "setup", Ref: "v9"}
		req.Dest = DestFor(work, req)
		_, err := g.Fetch(context.Background(), req)
		var fe *Error
		if !errors.As(err, &fe) || fe.Reason != ReasonRefNotFound {
			t.Errorf("Expected ref_not_found, got %v", err)
		}
	})

	t.Run("missing repository", func(t *testing.T) {
		req := Request{Owner: "octo", Repo: "nope", Ref: "v1"}
		req.Dest = DestFor(work, req)
		_, err := g.Fetch(context.Background(), req)
		if ReasonOf(err) != ReasonRepoNotFound {
			t.Errorf("Expected repo_not_found, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := Request{Owner: "octo", Repo: "setup", Ref: "v1"}
		req.Dest = filepath.Join(work, "cancelled")
		_, err := g.Fetch(ctx, req)
		if ReasonOf(err) != ReasonCancelled {
			t.Errorf("Expected cancelled, got %v", err)
		}
	})
}

func TestReasonOf(t *testing.T) {
	if ReasonOf(nil) != "" {
		t.Errorf("Expected empty reason for nil")
	}
	if ReasonOf(context.DeadlineExceeded) != ReasonCancelled {
		t.Errorf("Expected context errors to map to cancelled")
	}
	if ReasonOf(errors.New("boom")) != ReasonUnknown {
		t.Errorf("Expected unknown for foreign errors")
	}
	wrapped := &Error{Reason: ReasonTransport, Owner: "a", Repo: "b", Ref: "c", Err: errors.New("reset")}
	if ReasonOf(wrapped) != ReasonTransport {
		t.Errorf("Expected transport reason")
	}
	if !strings.Contains(wrapped.Error(), "a/b@c") {
		t.Errorf("Expected error to name the triple, got %q", wrapped.Error())
	}
}
