package resolver

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/harekrishnarai/pinwalk/pkg/errors"
	"github.com/harekrishnarai/pinwalk/pkg/fetch"
	"github.com/harekrishnarai/pinwalk/pkg/parser"
	"github.com/harekrishnarai/pinwalk/pkg/reference"
)

func sha(n int) string {
	return fmt.Sprintf("%040x", n)
}

type fakeRepo struct {
	sha   string
	files fstest.MapFS
}

// fakeFetcher serves repositories from memory and counts calls per owner/repo@ref
type fakeFetcher struct {
	mu    sync.Mutex
	repos map[string]fakeRepo
	calls map[string]int
	// hook runs before every fetch; a non-nil error is returned as is
	hook func(ctx context.Context, req fetch.Request) error
	// content replaces the files served for a repository
	content map[string]fs.FS
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{repos: make(map[string]fakeRepo), calls: make(map[string]int)}
}

func (f *fakeFetcher) add(repo string, commit string, files map[string]string) {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	f.repos[repo] = fakeRepo{sha: commit, files: fsys}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls[req.String()]++
	repo, ok := f.repos[req.String()]
	content, replaced := f.content[req.String()]
	hook := f.hook
	f.mu.Unlock()

	if req.Dest == "" {
		return nil, &fetch.Error{Reason: fetch.ReasonDisk, Owner: req.Owner, Repo: req.Repo, Ref: req.Ref}
	}
	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &fetch.Error{Reason: fetch.ReasonCancelled, Owner: req.Owner, Repo: req.Repo, Ref: req.Ref, Err: err}
	}
	if !ok {
		return nil, &fetch.Error{Reason: fetch.ReasonRepoNotFound, Owner: req.Owner, Repo: req.Repo, Ref: req.Ref}
	}
	if replaced {
		return &fetch.Result{CanonicalID: repo.sha, Content: content}, nil
	}
	return &fetch.Result{CanonicalID: repo.sha, Content: repo.files}, nil
}

func (f *fakeFetcher) callCount(repo string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[repo]
}

const nodeAction = "name: js\nruns:\n  using: node20\n  main: index.js\n"

func compositeAction(uses ...string) string {
	var sb strings.Builder
	sb.WriteString("name: composite\nruns:\n  using: composite\n  steps:\n")
	for _, u := range uses {
		sb.WriteString("    - uses: " + u + "\n")
	}
	return sb.String()
}

func workflow(uses ...string) string {
	var sb strings.Builder
	sb.WriteString("on: push\njobs:\n  build:\n    runs-on: ubuntu-latest\n    steps:\n")
	for _, u := range uses {
		sb.WriteString("      - uses: " + u + "\n")
	}
	return sb.String()
}

func wf(name, content string) parser.WorkflowFile {
	return parser.ParseWorkflow(name, []byte(content))
}

func resolveWithin(t *testing.T, r *Resolver, ctx context.Context, files ...parser.WorkflowFile) (*Graph, error) {
	t.Helper()
	type outcome struct {
		g   *Graph
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		g, err := r.Resolve(ctx, files)
		done <- outcome{g, err}
	}()
	select {
	case o := <-done:
		return o.g, o.err
	case <-time.After(10 * time.Second):
		t.Fatal("Resolve did not terminate")
		return nil, nil
	}
}

func TestMutableTagOnPlainAction(t *testing.T) {
	f := newFakeFetcher()
	f.add("actions/checkout@v4", sha(1), map[string]string{"action.yml": nodeAction})

	g, err := resolveWithin(t, New(f, Options{}), context.Background(),
		wf("ci.yml", workflow("actions/checkout@v4")))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(g.Roots) != 1 {
		t.Fatalf("Expected 1 root, got %d", len(g.Roots))
	}
	n := g.Roots[0].Node
	if n.ActionType != ActionJavaScript || n.Using != "node20" {
		t.Errorf("Expected javascript node20, got %s %q", n.ActionType, n.Using)
	}
	if n.Pinned {
		t.Error("A tag must never count as pinned, even after resolution")
	}
	if n.ResolvedID != sha(1) {
		t.Errorf("Expected resolved commit %s, got %s", sha(1), n.ResolvedID)
	}
	if !n.Terminal() || len(n.Children) != 0 {
		t.Error("Expected a terminal node")
	}
	if src := g.Roots[0].Source; src.File != "ci.yml" || src.Line != 6 || src.Location != "jobs.build.steps[0]" {
		t.Errorf("Unexpected source %+v", src)
	}
	if len(g.Warnings) != 0 || g.CycleDetected || g.Cancelled {
		t.Errorf("Expected a clean graph, got warnings %v", g.Warnings)
	}
}

func TestPinnedCompositeWithUnpinnedDockerChild(t *testing.T) {
	f := newFakeFetcher()
	f.add("octo/bundle@"+sha(7), sha(7), map[string]string{
		"action.yml": compositeAction("docker://alpine:3.19"),
	})

	g, err := resolveWithin(t, New(f, Options{}), context.Background(),
		wf("ci.yml", workflow("octo/bundle@"+sha(7))))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	root := g.Roots[0].Node
	if root.ActionType != ActionComposite || !root.Pinned {
		t.Fatalf("Expected pinned composite, got %s pinned=%v", root.ActionType, root.Pinned)
	}
	if len(root.Children) != 1 {
		t.Fatalf("Expected 1 child, got %d", len(root.Children))
	}
	child := root.Children[0]
	if child.ActionType != ActionDocker || child.Pinned || child.Key != "docker://alpine:3.19" {
		t.Errorf("Expected unpinned docker child, got %+v", child)
	}
	if f.callCount("alpine@3.19") != 0 {
		t.Error("Docker references must never be fetched")
	}

	unpinned := g.Unpinned()
	if len(unpinned) != 1 || unpinned[0] != child {
		t.Errorf("Expected only the docker child to be unpinned, got %d nodes", len(unpinned))
	}
}

func TestMissingRepositoryDoesNotFailScan(t *testing.T) {
	f := newFakeFetcher()
	f.add("actions/checkout@v4", sha(1), map[string]string{"action.yml": nodeAction})

	g, err := resolveWithin(t, New(f, Options{}), context.Background(),
		wf("ci.yml", workflow("ghost/missing@v1", "actions/checkout@v4")))
	if err != nil {
		t.Fatalf("A missing repository must not fail the scan: %v", err)
	}
	if len(g.Roots) != 2 {
		t.Fatalf("Expected 2 roots, got %d", len(g.Roots))
	}
	missing := g.Roots[0].Node
	if missing.ActionType != ActionUnresolved || missing.FetchReason != fetch.ReasonRepoNotFound || missing.FetchError == "" {
		t.Errorf("Expected unresolved repo_not_found node, got %+v", missing)
	}
	if g.Roots[1].Node.ActionType != ActionJavaScript {
		t.Errorf("Expected sibling to resolve, got %s", g.Roots[1].Node.ActionType)
	}
	if len(g.Warnings) != 1 || !strings.Contains(g.Warnings[0], "ghost/missing@v1") {
		t.Errorf("Expected one fetch warning, got %v", g.Warnings)
	}
}

func TestFullSHAIsPinnedRegardlessOfResolution(t *testing.T) {
	f := newFakeFetcher()
	// the fetcher reports a different commit than the literal one
	f.add("actions/setup-go@"+sha(3), sha(4), map[string]string{"action.yml": nodeAction})

	g, err := resolveWithin(t, New(f, Options{}), context.Background(),
		wf("ci.yml", workflow("actions/setup-go@"+sha(3))))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !g.Roots[0].Node.Pinned {
		t.Error("Expected full SHA reference to be pinned")
	}
}

func TestOneFetchPerRepositoryAndRef(t *testing.T) {
	f := newFakeFetcher()
	f.add("octo/tools@v1", sha(2), map[string]string{
		"lint/action.yml": nodeAction,
		"test/action.yml": compositeAction("octo/tools/lint@v1"),
	})

	g, err := resolveWithin(t, New(f, Options{Workers: 4}), context.Background(),
		wf("a.yml", workflow("octo/tools/lint@v1", "octo/tools/test@v1")),
		wf("b.yml", workflow("octo/tools/lint@v1")),
	)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := f.callCount("octo/tools@v1"); got != 1 {
		t.Errorf("Expected 1 fetch of octo/tools@v1, got %d", got)
	}
	if g.Repositories != 1 {
		t.Errorf("Expected 1 repository, got %d", g.Repositories)
	}

	lint := g.Roots[0].Node
	if g.Roots[2].Node != lint {
		t.Error("Expected the same node to be shared between root files")
	}
	if test := g.Roots[1].Node; len(test.Children) != 1 || test.Children[0] != lint {
		t.Error("Expected the composite child to reuse the memoized node")
	}
}

func TestCycleTerminatesWithSingleWarning(t *testing.T) {
	f := newFakeFetcher()
	f.add("octo/a@v1", sha(10), map[string]string{"action.yml": compositeAction("octo/b@v1")})
	f.add("octo/b@v1", sha(11), map[string]string{"action.yml": compositeAction("octo/a@v1")})

	g, err := resolveWithin(t, New(f, Options{}), context.Background(),
		wf("ci.yml", workflow("octo/a@v1", "octo/b@v1")))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !g.CycleDetected {
		t.Error("Expected cycleDetected")
	}

	var cycles []string
	for _, w := range g.Warnings {
		if strings.HasPrefix(w, "cycle detected") {
			cycles = append(cycles, w)
		}
	}
	if len(cycles) != 1 {
		t.Fatalf("Expected exactly one cycle warning, got %v", cycles)
	}
	if cycles[0] != "cycle detected: octo/a@v1 -> octo/b@v1 -> octo/a@v1" {
		t.Errorf("Unexpected cycle warning %q", cycles[0])
	}

	a := g.Roots[0].Node
	b := a.Children[0]
	marker := b.Children[0]
	if !marker.Cycle || marker.ActionType != ActionUnresolved || marker == a {
		t.Errorf("Expected a distinct cycle marker, got %+v", marker)
	}
	if g.Roots[1].Node != b {
		t.Error("Expected the second root to reuse the completed node")
	}
	if f.callCount("octo/a@v1") != 1 || f.callCount("octo/b@v1") != 1 {
		t.Error("Expected each repository to be fetched once")
	}
}

func chain(f *fakeFetcher, n int) {
	for i := 1; i <= n; i++ {
		content := nodeAction
		if i < n {
			content = compositeAction(fmt.Sprintf("octo/c%d@v1", i+1))
		}
		f.add(fmt.Sprintf("octo/c%d@v1", i), sha(100+i), map[string]string{"action.yml": content})
	}
}

func TestDepthBound(t *testing.T) {
	f := newFakeFetcher()
	chain(f, 6)

	g, err := resolveWithin(t, New(f, Options{MaxDepth: 3}), context.Background(),
		wf("ci.yml", workflow("octo/c1@v1")))
	if g == nil {
		t.Fatal("Expected the partial graph to be returned")
	}
	if !errors.IsType(err, errors.ErrorTypeDepthExceeded) {
		t.Fatalf("Expected depth exceeded error, got %v", err)
	}

	n := g.Roots[0].Node
	for depth := 1; depth < 3; depth++ {
		if n.ActionType != ActionComposite || len(n.Children) != 1 {
			t.Fatalf("Expected composite at depth %d, got %s", depth, n.ActionType)
		}
		n = n.Children[0]
	}
	marker := n.Children[0]
	if !marker.DepthExceeded || marker.Key != "octo/c4@v1" || marker.ActionType != ActionUnresolved {
		t.Errorf("Expected depth marker for octo/c4@v1, got %+v", marker)
	}
	if f.callCount("octo/c4@v1") != 0 {
		t.Error("Expected no fetch beyond the depth bound")
	}
}

func TestDepthBoundOnOneBranchIsNotFatal(t *testing.T) {
	f := newFakeFetcher()
	chain(f, 6)
	f.add("actions/checkout@v4", sha(1), map[string]string{"action.yml": nodeAction})

	g, err := resolveWithin(t, New(f, Options{MaxDepth: 3}), context.Background(),
		wf("ci.yml", workflow("octo/c1@v1", "actions/checkout@v4")))
	if err != nil {
		t.Fatalf("Expected no error when another branch completes, got %v", err)
	}
	var found bool
	for _, w := range g.Warnings {
		if strings.Contains(w, "maximum depth 3 exceeded") && strings.HasSuffix(w, "octo/c3@v1 -> octo/c4@v1") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected depth warning naming the chain, got %v", g.Warnings)
	}
}

func TestNoRootFiles(t *testing.T) {
	g, err := New(newFakeFetcher(), Options{}).Resolve(context.Background(), nil)
	if g != nil {
		t.Error("Expected no graph")
	}
	if !errors.IsType(err, errors.ErrorTypeNoRootFiles) {
		t.Errorf("Expected NoRootFiles, got %v", err)
	}
}

func TestCancellationReturnsPartialGraph(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFakeFetcher()
	f.add("octo/other@v1", sha(5), map[string]string{"action.yml": nodeAction})
	f.hook = func(hctx context.Context, req fetch.Request) error {
		if req.Repo != "slow" {
			return nil
		}
		cancel()
		<-hctx.Done()
		return &fetch.Error{Reason: fetch.ReasonCancelled, Owner: req.Owner, Repo: req.Repo, Ref: req.Ref, Err: hctx.Err()}
	}

	content := "on: push\njobs:\n  build:\n    runs-on: ubuntu-latest\n    container: alpine@sha256:" +
		strings.Repeat("a", 64) + "\n    steps:\n      - uses: octo/slow@v1\n      - uses: octo/other@v1\n"
	g, err := resolveWithin(t, New(f, Options{}), ctx, wf("ci.yml", content))
	if !errors.IsType(err, errors.ErrorTypeCancelled) {
		t.Fatalf("Expected cancellation error, got %v", err)
	}
	if g == nil || !g.Cancelled {
		t.Fatal("Expected a partial graph marked cancelled")
	}
	if len(g.Roots) != 3 {
		t.Fatalf("Expected 3 roots, got %d", len(g.Roots))
	}
	if img := g.Roots[0].Node; img.ActionType != ActionDocker || !img.Pinned {
		t.Errorf("Expected completed docker node to be retained, got %+v", img)
	}
	for _, r := range g.Roots[1:] {
		if r.Node.ActionType != ActionUnresolved || r.Node.FetchReason != fetch.ReasonCancelled {
			t.Errorf("Expected %s to be unresolved as cancelled, got %s/%s", r.Node.Key, r.Node.ActionType, r.Node.FetchReason)
		}
	}
}

func TestFetchTimeoutIsNotCancellation(t *testing.T) {
	f := newFakeFetcher()
	f.hook = func(ctx context.Context, req fetch.Request) error {
		<-ctx.Done()
		return &fetch.Error{Reason: fetch.ReasonCancelled, Owner: req.Owner, Repo: req.Repo, Ref: req.Ref, Err: ctx.Err()}
	}

	g, err := resolveWithin(t, New(f, Options{FetchTimeout: 20 * time.Millisecond}), context.Background(),
		wf("ci.yml", workflow("octo/hang@v1")))
	if err != nil {
		t.Fatalf("A slow repository must not fail the scan: %v", err)
	}
	n := g.Roots[0].Node
	if n.FetchReason != fetch.ReasonTransport || g.Cancelled {
		t.Errorf("Expected transport failure without cancellation, got %s cancelled=%v", n.FetchReason, g.Cancelled)
	}
}

func TestDeterministicOrder(t *testing.T) {
	build := func() *fakeFetcher {
		f := newFakeFetcher()
		f.add("octo/top@v1", sha(20), map[string]string{
			"action.yml": compositeAction("octo/x@v1", "octo/y@v1", "docker://redis:7", "octo/z@v1"),
		})
		for i, name := range []string{"x", "y", "z"} {
			f.add("octo/"+name+"@v1", sha(30+i), map[string]string{"action.yml": nodeAction})
		}
		f.hook = func(ctx context.Context, req fetch.Request) error {
			// later siblings finish first
			if req.Repo == "x" {
				time.Sleep(20 * time.Millisecond)
			}
			return nil
		}
		return f
	}

	keys := func(g *Graph) []string {
		var out []string
		g.Walk(func(n *Node) { out = append(out, n.Key) })
		return out
	}

	want := []string{"octo/top@v1", "octo/x@v1", "octo/y@v1", "docker://redis:7", "octo/z@v1", "actions/checkout@v4"}
	for i := 0; i < 3; i++ {
		f := build()
		f.add("actions/checkout@v4", sha(1), map[string]string{"action.yml": nodeAction})
		g, err := resolveWithin(t, New(f, Options{Workers: 4}), context.Background(),
			wf("ci.yml", workflow("octo/top@v1", "actions/checkout@v4")))
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if got := keys(g); strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("Run %d: expected order %v, got %v", i, want, got)
		}
	}
}

func TestParseErrorsBecomeWarnings(t *testing.T) {
	f := newFakeFetcher()
	f.add("actions/checkout@v4", sha(1), map[string]string{"action.yml": nodeAction})

	g, err := resolveWithin(t, New(f, Options{}), context.Background(),
		wf("ci.yml", workflow("${{ matrix.action }}", "actions/checkout@v4")))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(g.Roots) != 1 {
		t.Errorf("Expected the valid reference to be resolved, got %d roots", len(g.Roots))
	}
	if len(g.Warnings) != 1 || !strings.Contains(g.Warnings[0], "ci.yml:6: jobs.build.steps[0]") ||
		!strings.Contains(g.Warnings[0], "${{ matrix.action }}") {
		t.Errorf("Expected a parse warning naming the file, location and raw string, got %v", g.Warnings)
	}
}

func TestUnparsableWorkflowIsWarning(t *testing.T) {
	g, err := resolveWithin(t, New(newFakeFetcher(), Options{}), context.Background(),
		wf("broken.yml", "jobs: [unclosed\n"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(g.Files) != 1 || len(g.Roots) != 0 || len(g.Warnings) != 1 {
		t.Errorf("Expected one file, no roots and one warning, got %+v", g)
	}
}

func TestDockerActionImageWarnings(t *testing.T) {
	digest := "sha256:" + strings.Repeat("b", 64)
	f := newFakeFetcher()
	f.add("octo/built@v1", sha(40), map[string]string{
		"action.yml": "name: built\nruns:\n  using: docker\n  image: Dockerfile\n",
		"Dockerfile": "FROM golang:1.22 AS build\nRUN make\nFROM alpine@" + digest + "\nCOPY --from=build /app /app\n",
	})
	f.add("octo/prebuilt@v1", sha(41), map[string]string{
		"action.yml": "name: prebuilt\nruns:\n  using: docker\n  image: docker://ghcr.io/octo/tool:latest\n",
	})
	f.add("octo/nodockerfile@v1", sha(42), map[string]string{
		"action.yml": "name: broken\nruns:\n  using: docker\n  image: Dockerfile\n",
	})

	g, err := resolveWithin(t, New(f, Options{}), context.Background(),
		wf("ci.yml", workflow("octo/built@v1", "octo/prebuilt@v1", "octo/nodockerfile@v1")))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	built := g.Roots[0].Node
	if built.ActionType != ActionDocker || built.Using != "docker" {
		t.Errorf("Expected docker action, got %s", built.ActionType)
	}
	if len(built.ImageWarnings) != 1 || !strings.Contains(built.ImageWarnings[0], "Dockerfile:1: FROM golang:1.22") {
		t.Errorf("Expected one FROM warning, got %v", built.ImageWarnings)
	}

	prebuilt := g.Roots[1].Node
	if len(prebuilt.ImageWarnings) != 1 || !strings.Contains(prebuilt.ImageWarnings[0], "docker://ghcr.io/octo/tool:latest") {
		t.Errorf("Expected runs.image warning, got %v", prebuilt.ImageWarnings)
	}

	if len(g.Warnings) != 1 || !strings.Contains(g.Warnings[0], "octo/nodockerfile@v1") {
		t.Errorf("Expected a missing Dockerfile warning, got %v", g.Warnings)
	}
}

func TestMissingActionDefinitionIsJavaScript(t *testing.T) {
	f := newFakeFetcher()
	f.add("octo/empty@v1", sha(50), map[string]string{"README.md": "nothing here"})

	g, err := resolveWithin(t, New(f, Options{}), context.Background(),
		wf("ci.yml", workflow("octo/empty@v1")))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if n := g.Roots[0].Node; n.ActionType != ActionJavaScript || n.ResolvedID != sha(50) {
		t.Errorf("Expected resolved javascript node, got %+v", n)
	}
	if len(g.Warnings) != 1 || !strings.Contains(g.Warnings[0], "no recognizable action definition") {
		t.Errorf("Expected a warning, got %v", g.Warnings)
	}
}

func TestReusableWorkflowIsExpanded(t *testing.T) {
	f := newFakeFetcher()
	f.add("octo/shared@v2", sha(60), map[string]string{
		".github/workflows/build.yml": workflow("actions/checkout@v4"),
	})
	f.add("actions/checkout@v4", sha(1), map[string]string{"action.yml": nodeAction})

	content := "on: push\njobs:\n  call:\n    uses: octo/shared/.github/workflows/build.yml@v2\n"
	g, err := resolveWithin(t, New(f, Options{}), context.Background(), wf("ci.yml", content))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	n := g.Roots[0].Node
	if n.ActionType != ActionComposite || len(n.Children) != 1 || n.Children[0].Key != "actions/checkout@v4" {
		t.Errorf("Expected reusable workflow to be expanded, got %+v", n)
	}
	if g.Roots[0].Source.Location != "jobs.call" {
		t.Errorf("Unexpected location %q", g.Roots[0].Source.Location)
	}
}

func TestTrustedNodesAreNotReportedUnpinned(t *testing.T) {
	f := newFakeFetcher()
	f.add("actions/checkout@v4", sha(1), map[string]string{"action.yml": nodeAction})
	f.add("octo/tool@v1", sha(2), map[string]string{"action.yml": nodeAction})

	opts := Options{Trusted: func(ref reference.Reference) bool { return ref.Owner == "actions" }}
	g, err := resolveWithin(t, New(f, opts), context.Background(),
		wf("ci.yml", workflow("actions/checkout@v4", "octo/tool@v1")))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !g.Roots[0].Node.Trusted {
		t.Error("Expected actions/checkout to be trusted")
	}
	unpinned := g.Unpinned()
	if len(unpinned) != 1 || unpinned[0].Key != "octo/tool@v1" {
		t.Errorf("Expected only octo/tool to be reported, got %d nodes", len(unpinned))
	}
}

// failingFS fails every read with err
type failingFS struct {
	err error
}

func (f failingFS) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: f.err}
}

// blockingFS reads lazily; a read waits until the bound context is done
type blockingFS struct {
	ctx     context.Context
	reading chan struct{}
}

func (b *blockingFS) WithContext(ctx context.Context) fs.FS {
	return &blockingFS{ctx: ctx, reading: b.reading}
}

func (b *blockingFS) Open(name string) (fs.File, error) {
	if b.ctx == nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fmt.Errorf("read without a bound context")}
	}
	close(b.reading)
	<-b.ctx.Done()
	return nil, &fs.PathError{Op: "open", Path: name, Err: b.ctx.Err()}
}

func TestUnreadableDefinitionIsUnresolved(t *testing.T) {
	f := newFakeFetcher()
	f.add("octo/comp@v1", sha(7), nil)
	f.content = map[string]fs.FS{"octo/comp@v1": failingFS{err: fmt.Errorf("502 Bad Gateway")}}

	g, err := resolveWithin(t, New(f, Options{}), context.Background(), wf("ci.yml", workflow("octo/comp@v1")))
	if err != nil {
		t.Fatalf("A failed read must not fail the scan: %v", err)
	}
	n := g.Roots[0].Node
	if n.ActionType != ActionUnresolved || n.FetchReason != fetch.ReasonTransport {
		t.Errorf("Expected unresolved transport failure, got %s/%s", n.ActionType, n.FetchReason)
	}
	if !strings.Contains(n.FetchError, "502 Bad Gateway") {
		t.Errorf("Expected read error on the node, got %q", n.FetchError)
	}
	var found bool
	for _, w := range g.Warnings {
		if strings.Contains(w, "octo/comp@v1: fetch failed (transport)") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected fetch failure warning, got %v", g.Warnings)
	}
}

func TestUnreadableReusableWorkflowIsUnresolved(t *testing.T) {
	f := newFakeFetcher()
	f.add("octo/shared@v1", sha(8), nil)
	f.content = map[string]fs.FS{"octo/shared@v1": failingFS{err: fmt.Errorf("connection reset")}}

	content := "on: push\njobs:\n  call:\n    uses: octo/shared/.github/workflows/build.yml@v1\n"
	g, err := resolveWithin(t, New(f, Options{}), context.Background(), wf("ci.yml", content))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if n := g.Roots[0].Node; n.ActionType != ActionUnresolved || n.FetchReason != fetch.ReasonTransport {
		t.Errorf("Expected unresolved transport failure, got %s/%s", n.ActionType, n.FetchReason)
	}
}

func TestCancelledDuringDefinitionRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reading := make(chan struct{})
	f := newFakeFetcher()
	f.add("octo/comp@v1", sha(9), nil)
	f.content = map[string]fs.FS{"octo/comp@v1": &blockingFS{reading: reading}}
	go func() {
		<-reading
		cancel()
	}()

	g, err := resolveWithin(t, New(f, Options{}), ctx, wf("ci.yml", workflow("octo/comp@v1")))
	if !errors.IsType(err, errors.ErrorTypeCancelled) {
		t.Fatalf("Expected cancellation error, got %v", err)
	}
	if !g.Cancelled {
		t.Error("Expected graph marked cancelled")
	}
	if n := g.Roots[0].Node; n.ActionType != ActionUnresolved || n.FetchReason != fetch.ReasonCancelled {
		t.Errorf("Expected unresolved as cancelled, got %s/%s", n.ActionType, n.FetchReason)
	}
}

func TestTruncatedSubtreeIsExpandedWhenReachedShallower(t *testing.T) {
	tests := []struct {
		name string
		uses []string
	}{
		{name: "deep reference first", uses: []string{"octo/c1@v1", "octo/c2@v1"}},
		{name: "shallow reference first", uses: []string{"octo/c2@v1", "octo/c1@v1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher()
			chain(f, 6)

			g, err := resolveWithin(t, New(f, Options{MaxDepth: 3}), context.Background(),
				wf("ci.yml", workflow(tt.uses...)))
			if g == nil {
				t.Fatalf("Expected a graph, got error %v", err)
			}

			c4, ok := g.Nodes["octo/c4@v1"]
			if !ok || c4.DepthExceeded || c4.ActionType != ActionComposite {
				t.Fatalf("Expected octo/c4@v1 to be resolved within the bound, got %+v", c4)
			}
			if len(c4.Children) != 1 || !c4.Children[0].DepthExceeded || c4.Children[0].Key != "octo/c5@v1" {
				t.Errorf("Expected octo/c4@v1 to end in a depth marker for octo/c5@v1, got %+v", c4.Children)
			}

			var c2 *Node
			for _, r := range g.Roots {
				if r.Node.Key == "octo/c2@v1" {
					c2 = r.Node
				}
			}
			if c2 == nil || g.Nodes["octo/c2@v1"] != c2 {
				t.Errorf("Expected the top-level octo/c2@v1 to be the final node for its key")
			}
			if f.callCount("octo/c3@v1") != 1 {
				t.Errorf("Expected octo/c3@v1 to be fetched once, got %d", f.callCount("octo/c3@v1"))
			}
		})
	}
}
