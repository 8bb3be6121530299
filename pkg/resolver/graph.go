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

package resolver

import (
	"github.com/harekrishnarai/pinwalk/pkg/fetch"
	"github.com/harekrishnarai/pinwalk/pkg/reference"
)

// ActionType classifies a resolved node
type ActionType string

const (
	ActionComposite  ActionType = "composite"
	ActionJavaScript ActionType = "javascript"
	ActionDocker     ActionType = "docker"
	ActionUnresolved ActionType = "unresolved"
)

// Node is one dependency in the graph. Nodes reached through several parents
// are shared, so the graph is a DAG whose back-edges are cycle markers.
type Node struct {
	Key        string
	Reference  reference.Reference
	ResolvedID string
	ActionType ActionType
	// Using is the raw runs.using value of the action definition
	Using     string
	Pinned    bool
	PinReason string
	Trusted   bool
	Children  []*Node

	FetchError  string
	FetchReason fetch.Reason

	Cycle         bool
	DepthExceeded bool

	ImageWarnings []string

	// truncated is set when a depth marker sits somewhere below the node
	truncated bool
}

// Terminal reports whether the node has no expandable children
func (n *Node) Terminal() bool {
	return n.ActionType != ActionComposite
}

// Source locates a top-level reference in a root workflow file
type Source struct {
	File     string
	Line     int
	Location string
}

// Root is a top-level node together with where it was referenced
type Root struct {
	Node   *Node
	Source Source
}

// Graph is the result of one scan
type Graph struct {
	// Files lists every root workflow file in scan order
	Files []string
	Roots []Root
	// Nodes maps each identity key to its final resolved node. A key whose
	// subtree was first cut by the depth bound and expanded again later maps
	// to the later node.
	Nodes map[string]*Node
	// Repositories counts distinct owner/repo@ref snapshots requested
	Repositories  int
	Warnings      []string
	CycleDetected bool
	Cancelled     bool
}

// Canonical returns the final node for the identity of n. Cycle and depth
// markers are returned as is.
func (g *Graph) Canonical(n *Node) *Node {
	if n.Cycle || n.DepthExceeded {
		return n
	}
	if c, ok := g.Nodes[n.Key]; ok {
		return c
	}
	return n
}

// Walk visits every distinct node once in depth-first order
func (g *Graph) Walk(fn func(n *Node)) {
	seen := make(map[*Node]bool)
	var stack []*Node
	for i := len(g.Roots) - 1; i >= 0; i-- {
		stack = append(stack, g.Roots[i].Node)
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		fn(n)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// Unpinned returns the distinct unpinned, untrusted nodes in walk order
func (g *Graph) Unpinned() []*Node {
	var out []*Node
	g.Walk(func(n *Node) {
		if !n.Pinned && !n.Trusted {
			out = append(out, n)
		}
	})
	return out
}
