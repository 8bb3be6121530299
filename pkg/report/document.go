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

package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/harekrishnarai/pinwalk/pkg/constants"
	"github.com/harekrishnarai/pinwalk/pkg/policy"
	"github.com/harekrishnarai/pinwalk/pkg/reference"
	"github.com/harekrishnarai/pinwalk/pkg/resolver"
)

// Document is the serializable scan result. Its JSON field names are
// consumed by other tools and must stay stable.
type Document struct {
	ScanID           string             `json:"scanId"`
	Tool             string             `json:"tool"`
	Version          string             `json:"version"`
	Repository       string             `json:"repository"`
	ScanTime         time.Time          `json:"scanTime"`
	Duration         time.Duration      `json:"duration"`
	Files            []string           `json:"files"`
	Root             []*NodeView        `json:"root"`
	Warnings         []string           `json:"warnings"`
	CycleDetected    bool               `json:"cycleDetected"`
	Cancelled        bool               `json:"cancelled"`
	Summary          Summary            `json:"summary"`
	PolicyViolations []policy.Violation `json:"policyViolations"`

	expanded map[string]*NodeView
}

// NodeView mirrors resolver.Node
type NodeView struct {
	Key      string `json:"key"`
	Kind     string `json:"kind"`
	Owner    string `json:"owner,omitempty"`
	Repo     string `json:"repo,omitempty"`
	Subpath  string `json:"subpath,omitempty"`
	Ref      string `json:"ref,omitempty"`
	Registry string `json:"registry,omitempty"`
	Image    string `json:"image,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Digest   string `json:"digest,omitempty"`

	ResolvedCommitOrDigest string `json:"resolvedCommitOrDigest"`
	ActionType             string `json:"actionType"`
	Using                  string `json:"using,omitempty"`

	Pinned        bool     `json:"pinned"`
	PinReason     string   `json:"pinReason,omitempty"`
	Trusted       bool     `json:"trusted"`
	FetchError    string   `json:"fetchError,omitempty"`
	FetchReason   string   `json:"fetchReason,omitempty"`
	Cycle         bool     `json:"cycle,omitempty"`
	DepthExceeded bool     `json:"depthExceeded,omitempty"`
	ImageWarnings []string `json:"imageWarnings,omitempty"`

	Children []*NodeView `json:"children"`
	// Shared marks a repeated occurrence of an identity expanded earlier in
	// the document; its children are listed there
	Shared bool `json:"shared,omitempty"`
	// Source is set on top-level nodes only
	Source *Source `json:"source,omitempty"`
}

// Source locates a top-level reference
type Source struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Location string `json:"location"`
}

// Summary holds counts over the distinct dependencies of a scan
type Summary struct {
	RootFiles        int            `json:"rootFiles"`
	TopLevel         int            `json:"topLevelReferences"`
	Dependencies     int            `json:"dependencies"`
	Repositories     int            `json:"repositories"`
	Pinned           int            `json:"pinned"`
	Unpinned         int            `json:"unpinned"`
	Trusted          int            `json:"trusted"`
	Unresolved       int            `json:"unresolved"`
	ImageWarnings    int            `json:"imageWarnings"`
	Warnings         int            `json:"warnings"`
	PolicyViolations int            `json:"policyViolations"`
	ByActionType     map[string]int `json:"byActionType"`
}

// Entry is a distinct dependency together with how it was first reached
type Entry struct {
	Node *NodeView
	// Parent is the key of the node that first referenced it, empty for
	// top-level references
	Parent string
	// Source is the top-level reference the dependency was reached through
	Source *Source
}

// NewDocument converts a resolved graph into a document
func NewDocument(g *resolver.Graph, repository string, scanTime time.Time, duration time.Duration) *Document {
	doc := &Document{
		ScanID:           uuid.NewString(),
		Tool:             constants.AppName,
		Version:          constants.AppVersion,
		Repository:       repository,
		ScanTime:         scanTime,
		Duration:         duration,
		Files:            append([]string{}, g.Files...),
		Root:             []*NodeView{},
		Warnings:         append([]string{}, g.Warnings...),
		CycleDetected:    g.CycleDetected,
		Cancelled:        g.Cancelled,
		PolicyViolations: []policy.Violation{},
	}

	expanded := make(map[string]bool)
	for _, r := range g.Roots {
		top := viewOf(g, r.Node, expanded)
		top.Source = &Source{File: r.Source.File, Line: r.Source.Line, Location: r.Source.Location}
		doc.Root = append(doc.Root, top)
	}

	doc.Summary = doc.summarize(g.Repositories)
	return doc
}

// viewOf converts n and everything below it in depth-first order. Each
// identity is expanded at its first occurrence in the document only; later
// occurrences are shared views without children, which keeps the document
// linear in the number of distinct dependencies.
func viewOf(g *resolver.Graph, n *resolver.Node, expanded map[string]bool) *NodeView {
	type item struct {
		node *resolver.Node
		view *NodeView
	}
	n = g.Canonical(n)
	rootView := newView(n)
	stack := []item{{n, rootView}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if it.view.Marker() {
			continue
		}
		if expanded[it.view.Key] {
			it.view.Shared = true
			continue
		}
		expanded[it.view.Key] = true

		children := make([]item, 0, len(it.node.Children))
		for _, c := range it.node.Children {
			c = g.Canonical(c)
			cv := newView(c)
			it.view.Children = append(it.view.Children, cv)
			children = append(children, item{c, cv})
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return rootView
}

func newView(n *resolver.Node) *NodeView {
	ref := n.Reference
	v := &NodeView{
		Key:                    n.Key,
		Kind:                   kindName(ref.Kind),
		ResolvedCommitOrDigest: n.ResolvedID,
		ActionType:             string(n.ActionType),
		Using:                  n.Using,
		Pinned:                 n.Pinned,
		PinReason:              n.PinReason,
		Trusted:                n.Trusted,
		FetchError:             n.FetchError,
		FetchReason:            string(n.FetchReason),
		Cycle:                  n.Cycle,
		DepthExceeded:          n.DepthExceeded,
		ImageWarnings:          append([]string(nil), n.ImageWarnings...),
		Children:               []*NodeView{},
	}
	switch ref.Kind {
	case reference.KindAction:
		v.Owner, v.Repo, v.Subpath, v.Ref = ref.Owner, ref.Repo, ref.Subpath, ref.Ref
	case reference.KindDocker:
		v.Registry, v.Image, v.Tag, v.Digest = ref.Registry, ref.Image, ref.Tag, ref.Digest
	}
	return v
}

func kindName(k reference.Kind) string {
	switch k {
	case reference.KindAction:
		return "action"
	case reference.KindDocker:
		return "docker"
	default:
		return "local"
	}
}

// Marker reports whether the view stands in for a node that was not expanded
func (v *NodeView) Marker() bool {
	return v.Cycle || v.DepthExceeded
}

// Unpinned reports whether the dependency must be reported as unpinned
func (v *NodeView) Unpinned() bool {
	return !v.Pinned && !v.Trusted
}

// Expanded returns the view that carries the children of v's identity.
// It is v itself unless v is shared.
func (d *Document) Expanded(v *NodeView) *NodeView {
	if !v.Shared {
		return v
	}
	if d.expanded == nil {
		d.expanded = make(map[string]*NodeView)
		var stack []*NodeView
		stack = append(stack, d.Root...)
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !n.Shared && !n.Marker() {
				if _, ok := d.expanded[n.Key]; !ok {
					d.expanded[n.Key] = n
				}
			}
			stack = append(stack, n.Children...)
		}
	}
	if e, ok := d.expanded[v.Key]; ok {
		return e
	}
	return v
}

// Entries returns every distinct dependency in depth-first order. A node
// that only appears as a cycle or depth marker is still listed; when the
// same key is also resolved, the resolved occurrence wins.
func (d *Document) Entries() []Entry {
	var entries []Entry
	index := make(map[string]int)
	seen := make(map[*NodeView]bool)

	type item struct {
		view   *NodeView
		parent string
		source *Source
	}
	var stack []item
	for i := len(d.Root) - 1; i >= 0; i-- {
		stack = append(stack, item{view: d.Root[i], source: d.Root[i].Source})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[it.view] {
			continue
		}
		seen[it.view] = true

		if i, ok := index[it.view.Key]; !ok {
			index[it.view.Key] = len(entries)
			entries = append(entries, Entry{Node: it.view, Parent: it.parent, Source: it.source})
		} else if entries[i].Node.Marker() && !it.view.Marker() {
			entries[i] = Entry{Node: it.view, Parent: it.parent, Source: it.source}
		}

		for i := len(it.view.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{view: it.view.Children[i], parent: it.view.Key, source: it.source})
		}
	}
	return entries
}

// Unpinned returns the distinct unpinned, untrusted dependencies
func (d *Document) Unpinned() []Entry {
	var out []Entry
	for _, e := range d.Entries() {
		if e.Node.Unpinned() {
			out = append(out, e)
		}
	}
	return out
}

func (d *Document) summarize(repositories int) Summary {
	s := Summary{
		RootFiles:        len(d.Files),
		TopLevel:         len(d.Root),
		Repositories:     repositories,
		Warnings:         len(d.Warnings),
		PolicyViolations: len(d.PolicyViolations),
		ByActionType:     make(map[string]int),
	}
	for _, e := range d.Entries() {
		n := e.Node
		s.Dependencies++
		s.ByActionType[n.ActionType]++
		s.ImageWarnings += len(n.ImageWarnings)
		switch {
		case n.Trusted:
			s.Trusted++
		case n.Pinned:
			s.Pinned++
		default:
			s.Unpinned++
		}
		if n.ActionType == string(resolver.ActionUnresolved) {
			s.Unresolved++
		}
	}
	return s
}

// SetPolicyViolations attaches policy results and updates the summary
func (d *Document) SetPolicyViolations(violations []policy.Violation) {
	if violations == nil {
		violations = []policy.Violation{}
	}
	d.PolicyViolations = violations
	d.Summary.PolicyViolations = len(violations)
}

// LoadDocument reads a JSON document written by the json format
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	if doc.Summary.ByActionType == nil {
		doc.Summary = doc.summarize(doc.Summary.Repositories)
	}
	return &doc, nil
}
