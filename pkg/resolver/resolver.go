/*
Copyright 2025 Hare Krishna Rai

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package resolver walks the transitive action graph of a set of workflow
// files. The walk is a sequential depth-first traversal over an explicit
// stack; repository fetches run concurrently ahead of it.
package resolver

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/harekrishnarai/pinwalk/pkg/constants"
	"github.com/harekrishnarai/pinwalk/pkg/errors"
	"github.com/harekrishnarai/pinwalk/pkg/fetch"
	"github.com/harekrishnarai/pinwalk/pkg/metrics"
	"github.com/harekrishnarai/pinwalk/pkg/parser"
	"github.com/harekrishnarai/pinwalk/pkg/pin"
	"github.com/harekrishnarai/pinwalk/pkg/reference"
)

// Options configures a Resolver. Zero values select the defaults.
type Options struct {
	// MaxDepth bounds the reference chain below a root file. Top-level
	// references are at depth 1.
	MaxDepth int
	// Workers caps concurrent fetches
	Workers int
	// FetchTimeout limits a single fetch; zero means no limit
	FetchTimeout time.Duration
	// WorkDir receives checkouts. When empty a temporary directory is
	// created and removed after the scan.
	WorkDir string
	// Trusted marks references that are resolved but never reported as unpinned
	Trusted func(ref reference.Reference) bool

	Logger   logr.Logger
	Metrics  *metrics.Recorder
	Progress Progress
}

func (o *Options) setDefaults() {
	if o.MaxDepth <= 0 {
		o.MaxDepth = constants.DefaultMaxDepth
	}
	if o.Workers <= 0 {
		o.Workers = constants.DefaultWorkers
	}
	if o.Logger.GetSink() == nil {
		o.Logger = logr.Discard()
	}
}

// Resolver builds dependency graphs
type Resolver struct {
	fetcher fetch.Fetcher
	opts    Options
}

// New creates a Resolver that retrieves repositories with fetcher
func New(fetcher fetch.Fetcher, opts Options) *Resolver {
	opts.setDefaults()
	return &Resolver{fetcher: fetcher, opts: opts}
}

// Resolve builds the dependency graph of files. Unreachable or malformed
// references never abort the scan; they are recorded on their node or as
// warnings. The returned error is non-nil only for fatal conditions: no root
// files (nil graph), cancellation, or a root file whose every branch ran into
// the depth bound. The graph is returned alongside the last two.
func (r *Resolver) Resolve(ctx context.Context, files []parser.WorkflowFile) (*Graph, error) {
	if len(files) == 0 {
		return nil, errors.ErrNoRootFiles("")
	}

	opts := r.opts
	if opts.WorkDir == "" {
		dir, err := os.MkdirTemp("", constants.DefaultWorkDirPrefix)
		if err != nil {
			return nil, errors.NewConfigError("failed to create working directory", err)
		}
		defer os.RemoveAll(dir)
		opts.WorkDir = dir
	}

	s := &scan{
		opts:    opts,
		logger:  opts.Logger,
		fetches: newFetchTable(r.fetcher, opts),
		visited: newVisitedSet(),
		graph:   &Graph{},
	}
	defer s.fetches.wait()

	start := time.Now()
	s.logger.V(1).Info("resolving dependencies", "files", len(files), "maxDepth", opts.MaxDepth, "workers", opts.Workers)
	for _, wf := range files {
		s.resolveFile(ctx, wf)
	}
	s.graph.Repositories = s.fetches.count()
	s.graph.Nodes = s.visited.completed()
	s.logger.V(1).Info("resolved dependencies", "roots", len(s.graph.Roots), "repositories", s.graph.Repositories,
		"warnings", len(s.graph.Warnings), "duration", time.Since(start))

	if ctx.Err() != nil {
		s.graph.Cancelled = true
	}
	if s.graph.Cancelled {
		return s.graph, errors.ErrCancelled(ctx.Err())
	}
	if file := s.exhaustedFile(); file != "" {
		return s.graph, errors.ErrDepthExceeded(file, opts.MaxDepth)
	}
	return s.graph, nil
}

type scan struct {
	opts    Options
	logger  logr.Logger
	fetches *fetchTable
	visited *visitedSet
	graph   *Graph
	// path holds the keys of the composite nodes currently being expanded
	path []string
}

// frame is a composite node whose children are being resolved
type frame struct {
	node    *Node
	entries []reference.Entry
	next    int
	depth   int
}

func (s *scan) resolveFile(ctx context.Context, wf parser.WorkflowFile) {
	s.graph.Files = append(s.graph.Files, wf.Path)
	if wf.ParseError != nil {
		s.warn("%s: failed to parse workflow: %v", wf.Path, wf.ParseError)
		return
	}

	entries := reference.FromWorkflow(wf)
	s.prefetch(ctx, entries, 1)
	for _, e := range entries {
		if e.Failed() {
			s.warnEntry(wf.Path, e)
			continue
		}
		node := s.resolveTree(ctx, e.Reference)
		s.graph.Roots = append(s.graph.Roots, Root{
			Node:   node,
			Source: Source{File: wf.Path, Line: e.Line, Location: e.Location},
		})
	}
}

// resolveTree resolves a top-level reference and everything below it
func (s *scan) resolveTree(ctx context.Context, ref reference.Reference) *Node {
	root, fr := s.enter(ctx, ref, 1)
	if fr == nil {
		return root
	}

	stack := []*frame{fr}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next == len(top.entries) {
			s.leave(top)
			stack = stack[:len(stack)-1]
			continue
		}

		e := top.entries[top.next]
		top.next++
		if e.Failed() {
			s.warnEntry(top.node.Key, e)
			continue
		}

		child, childFrame := s.enter(ctx, e.Reference, top.depth+1)
		top.node.Children = append(top.node.Children, child)
		if childFrame != nil {
			stack = append(stack, childFrame)
		}
	}
	return root
}

// enter produces the node for ref at depth. A non-nil frame means the node
// is a composite whose children still have to be resolved.
func (s *scan) enter(ctx context.Context, ref reference.Reference, depth int) (*Node, *frame) {
	key := ref.Key()
	if v, ok := s.visited.lookup(key); ok {
		if v.state != complete {
			return s.cycleMarker(ref), nil
		}
		// a subtree cut by the depth bound is expanded again when the key
		// is reached with more depth left
		if !v.node.truncated || depth >= v.depth {
			return v.node, nil
		}
	}
	if depth > s.opts.MaxDepth {
		return s.depthMarker(ref), nil
	}

	verdict := pin.Classify(ref)
	n := &Node{
		Key:       key,
		Reference: ref,
		Pinned:    verdict.Pinned,
		PinReason: verdict.Reason,
		Trusted:   s.trusted(ref),
	}

	if ref.Kind == reference.KindDocker {
		n.ActionType = ActionDocker
		n.ResolvedID = ref.Digest
		s.complete(n)
		return n, nil
	}

	if err := ctx.Err(); err != nil {
		s.unresolved(ctx, n, &fetch.Error{Reason: fetch.ReasonCancelled, Owner: ref.Owner, Repo: ref.Repo, Ref: ref.Ref, Err: err})
		s.complete(n)
		return n, nil
	}

	s.visited.begin(n, depth)
	res, err := s.fetches.get(ctx, ref)
	if err != nil {
		s.unresolved(ctx, n, err)
		s.complete(n)
		return n, nil
	}
	n.ResolvedID = res.CanonicalID

	entries := s.inspect(ctx, n, fetch.BindContext(ctx, res.Content))
	if n.ActionType != ActionComposite {
		s.complete(n)
		return n, nil
	}

	s.prefetch(ctx, entries, depth+1)
	s.path = append(s.path, key)
	return n, &frame{node: n, entries: entries, depth: depth}
}

func (s *scan) leave(f *frame) {
	s.path = s.path[:len(s.path)-1]
	for _, c := range f.node.Children {
		if c.DepthExceeded || c.truncated {
			f.node.truncated = true
			break
		}
	}
	s.complete(f.node)
}

func (s *scan) complete(n *Node) {
	s.visited.finish(n)
	s.opts.Metrics.ObserveNode(string(n.ActionType), n.Pinned)
}

// prefetch starts the fetches of entries that will be visited at depth so
// that siblings download in parallel while the walk stays sequential
func (s *scan) prefetch(ctx context.Context, entries []reference.Entry, depth int) {
	if depth > s.opts.MaxDepth || ctx.Err() != nil {
		return
	}
	for _, e := range entries {
		if e.Failed() || e.Reference.Kind != reference.KindAction {
			continue
		}
		if _, ok := s.visited.lookup(e.Reference.Key()); ok {
			continue
		}
		s.fetches.start(ctx, e.Reference)
	}
}

// inspect classifies a fetched action and returns the entries of a
// composite action or reusable workflow. A definition that exists but
// cannot be read leaves the node unresolved.
func (s *scan) inspect(ctx context.Context, n *Node, content fs.FS) []reference.Entry {
	ref := n.Reference

	if ref.IsReusableWorkflow() {
		data, err := fs.ReadFile(content, ref.Subpath)
		if err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			s.unresolved(ctx, n, s.readError(ctx, ref, err))
			return nil
		}
		if err != nil {
			s.unrecognized(n, fmt.Errorf("reusable workflow not found: %w", err))
			return nil
		}
		wf := parser.ParseWorkflow(ref.Subpath, data)
		if wf.ParseError != nil {
			s.unrecognized(n, wf.ParseError)
			return nil
		}
		n.ActionType = ActionComposite
		return reference.FromWorkflow(wf)
	}

	_, data, err := parser.FindActionFile(content, ref.Subpath)
	if err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		s.unresolved(ctx, n, s.readError(ctx, ref, err))
		return nil
	}
	if err != nil {
		s.unrecognized(n, err)
		return nil
	}
	def, err := parser.ParseActionDefinition(data)
	if err != nil {
		s.unrecognized(n, err)
		return nil
	}

	n.Using = def.Runs.Using
	switch {
	case reference.IsComposite(*def):
		n.ActionType = ActionComposite
		return reference.FromAction(*def)
	case reference.IsDocker(*def):
		n.ActionType = ActionDocker
		s.inspectImage(n, content, def.Runs.Image)
	default:
		n.ActionType = ActionJavaScript
	}
	return nil
}

// inspectImage records pin warnings for the image a Docker action runs
func (s *scan) inspectImage(n *Node, content fs.FS, image string) {
	image = strings.TrimSpace(image)
	if strings.HasPrefix(image, "docker://") {
		if v := pin.ClassifyImage(strings.TrimPrefix(image, "docker://")); !v.Pinned {
			n.ImageWarnings = append(n.ImageWarnings, fmt.Sprintf("runs.image %s: %s", image, v.Reason))
		}
		return
	}

	data, err := parser.FindDockerfile(content, n.Reference.Subpath, image)
	if err != nil {
		s.warn("%s: cannot read Dockerfile %q: %v", n.Key, image, err)
		return
	}
	for _, base := range reference.DockerfileBaseImages(data) {
		if v := pin.ClassifyImage(base.Image); !v.Pinned {
			n.ImageWarnings = append(n.ImageWarnings,
				fmt.Sprintf("%s:%d: FROM %s: %s", image, base.Line, base.Image, v.Reason))
		}
	}
}

// readError classifies a failed read of fetched content
func (s *scan) readError(ctx context.Context, ref reference.Reference, err error) error {
	reason := fetch.ReasonTransport
	if ctx.Err() != nil {
		reason = fetch.ReasonCancelled
	}
	return &fetch.Error{Reason: reason, Owner: ref.Owner, Repo: ref.Repo, Ref: ref.Ref, Err: err}
}

func (s *scan) unrecognized(n *Node, err error) {
	n.ActionType = ActionJavaScript
	s.warn("%s: no recognizable action definition, treating as javascript: %v", n.Key, err)
}

func (s *scan) unresolved(ctx context.Context, n *Node, err error) {
	n.ActionType = ActionUnresolved
	n.FetchError = err.Error()
	n.FetchReason = fetch.ReasonOf(err)
	if n.FetchReason == fetch.ReasonCancelled && ctx.Err() != nil {
		s.graph.Cancelled = true
		return
	}
	s.warn("%s: fetch failed (%s): %v", n.Key, n.FetchReason, err)
}

func (s *scan) cycleMarker(ref reference.Reference) *Node {
	key := ref.Key()
	s.warn("cycle detected: %s", strings.Join(s.chain(key), " -> "))
	s.graph.CycleDetected = true
	s.opts.Metrics.ObserveCycle()

	verdict := pin.Classify(ref)
	return &Node{
		Key:        key,
		Reference:  ref,
		ActionType: ActionUnresolved,
		Pinned:     verdict.Pinned,
		PinReason:  verdict.Reason,
		Trusted:    s.trusted(ref),
		Cycle:      true,
	}
}

func (s *scan) depthMarker(ref reference.Reference) *Node {
	key := ref.Key()
	s.warn("maximum depth %d exceeded: %s", s.opts.MaxDepth, strings.Join(append(append([]string{}, s.path...), key), " -> "))
	s.opts.Metrics.ObserveDepthExceeded()

	verdict := pin.Classify(ref)
	return &Node{
		Key:           key,
		Reference:     ref,
		ActionType:    ActionUnresolved,
		Pinned:        verdict.Pinned,
		PinReason:     verdict.Reason,
		Trusted:       s.trusted(ref),
		DepthExceeded: true,
	}
}

// chain returns the current path from the first occurrence of key, closed
// by key itself
func (s *scan) chain(key string) []string {
	start := 0
	for i, k := range s.path {
		if k == key {
			start = i
			break
		}
	}
	out := append([]string{}, s.path[start:]...)
	return append(out, key)
}

func (s *scan) trusted(ref reference.Reference) bool {
	return s.opts.Trusted != nil && s.opts.Trusted(ref)
}

func (s *scan) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.graph.Warnings = append(s.graph.Warnings, msg)
	s.opts.Metrics.ObserveWarning()
	s.logger.V(1).Info("warning", "message", msg)
}

func (s *scan) warnEntry(source string, e reference.Entry) {
	s.warn("%s:%d: %s: %v", source, e.Line, e.Location, e.Err)
}

// exhaustedFile returns the first root file whose every top-level branch
// ends in a depth marker
func (s *scan) exhaustedFile() string {
	memo := make(map[*Node]bool)
	byFile := make(map[string][]*Node)
	for _, r := range s.graph.Roots {
		byFile[r.Source.File] = append(byFile[r.Source.File], r.Node)
	}
	for _, file := range s.graph.Files {
		nodes := byFile[file]
		if len(nodes) == 0 {
			continue
		}
		all := true
		for _, n := range nodes {
			if !exhausted(n, memo) {
				all = false
				break
			}
		}
		if all {
			return file
		}
	}
	return ""
}

func exhausted(n *Node, memo map[*Node]bool) bool {
	if v, ok := memo[n]; ok {
		return v
	}
	memo[n] = false
	result := n.DepthExceeded
	if !result && n.ActionType == ActionComposite && len(n.Children) > 0 {
		result = true
		for _, c := range n.Children {
			if !exhausted(c, memo) {
				result = false
				break
			}
		}
	}
	memo[n] = result
	return result
}
