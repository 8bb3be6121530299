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

// Package reference decodes the "uses:" and container image strings found in
// workflows and action definitions.
package reference

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind distinguishes the reference variants
type Kind int

const (
	// KindLocal is a path inside the calling repository (./, ../, /)
	KindLocal Kind = iota
	// KindAction is owner/repo[/subpath]@ref
	KindAction
	// KindDocker is a container image, from docker:// or an image field
	KindDocker
)

// String returns the name used in reports
func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindAction:
		return "action"
	case KindDocker:
		return "docker"
	default:
		return "unknown"
	}
}

// Origin names where a reference was found
type Origin string

const (
	OriginStep      Origin = "step"
	OriginJob       Origin = "job"
	OriginContainer Origin = "container"
	OriginService   Origin = "service"
	OriginRun       Origin = "run"
)

// Reference is one decoded dependency string
type Reference struct {
	Kind Kind
	Raw  string

	// Action fields
	Owner   string
	Repo    string
	Subpath string
	Ref     string

	// Docker fields
	Registry string
	Image    string
	Tag      string
	Digest   string

	Origin Origin
}

// ParseError describes a reference string that could not be decoded
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid reference %q: %s", e.Raw, e.Reason)
}

const dockerScheme = "docker://"

var (
	namePattern   = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	digestPattern = regexp.MustCompile(`^(sha256:[0-9a-f]{64}|sha512:[0-9a-f]{128})$`)
)

// ParseUses decodes the value of a "uses:" key
func ParseUses(raw string) (Reference, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Reference{}, &ParseError{Raw: raw, Reason: "empty reference"}
	}
	if isExpression(s) {
		return Reference{}, &ParseError{Raw: raw, Reason: "reference contains an expression and cannot be resolved statically"}
	}

	if strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || strings.HasPrefix(s, "/") {
		return Reference{Kind: KindLocal, Raw: raw}, nil
	}

	if strings.HasPrefix(s, dockerScheme) {
		return parseImage(strings.TrimPrefix(s, dockerScheme), raw)
	}

	target, ref, found := strings.Cut(s, "@")
	if !found {
		return Reference{}, &ParseError{Raw: raw, Reason: "missing @ref"}
	}
	if ref == "" {
		return Reference{}, &ParseError{Raw: raw, Reason: "empty ref after @"}
	}
	if strings.ContainsAny(ref, "@ \t") {
		return Reference{}, &ParseError{Raw: raw, Reason: "malformed ref"}
	}

	segments := strings.Split(strings.TrimSuffix(target, "/"), "/")
	if len(segments) < 2 {
		return Reference{}, &ParseError{Raw: raw, Reason: "expected owner/repo"}
	}
	for i, seg := range segments {
		if seg == "" || seg == "." || seg == ".." || (i < 2 && !namePattern.MatchString(seg)) {
			return Reference{}, &ParseError{Raw: raw, Reason: fmt.Sprintf("invalid path segment %q", seg)}
		}
	}

	return Reference{
		Kind:    KindAction,
		Raw:     raw,
		Owner:   segments[0],
		Repo:    segments[1],
		Subpath: strings.Join(segments[2:], "/"),
		Ref:     ref,
	}, nil
}

// ParseImage decodes [registry/]name[:tag][@algo:hex]
func ParseImage(raw string) (Reference, error) {
	return parseImage(strings.TrimSpace(raw), raw)
}

func parseImage(s, raw string) (Reference, error) {
	if s == "" {
		return Reference{}, &ParseError{Raw: raw, Reason: "empty image"}
	}
	if isExpression(s) {
		return Reference{}, &ParseError{Raw: raw, Reason: "image contains an expression and cannot be resolved statically"}
	}
	if strings.ContainsAny(s, " \t") {
		return Reference{}, &ParseError{Raw: raw, Reason: "image contains whitespace"}
	}

	ref := Reference{Kind: KindDocker, Raw: raw}

	name, digest, hasDigest := strings.Cut(s, "@")
	if hasDigest {
		if !digestPattern.MatchString(digest) {
			return Reference{}, &ParseError{Raw: raw, Reason: fmt.Sprintf("invalid digest %q", digest)}
		}
		ref.Digest = digest
	}

	if first, rest, ok := strings.Cut(name, "/"); ok && isRegistry(first) {
		ref.Registry = first
		name = rest
	}

	if i := strings.LastIndex(name, ":"); i > strings.LastIndex(name, "/") {
		ref.Tag = name[i+1:]
		name = name[:i]
		if ref.Tag == "" {
			return Reference{}, &ParseError{Raw: raw, Reason: "empty tag"}
		}
	}

	if name == "" {
		return Reference{}, &ParseError{Raw: raw, Reason: "missing image name"}
	}
	ref.Image = name
	return ref, nil
}

func isRegistry(component string) bool {
	return component == "localhost" || strings.ContainsAny(component, ".:")
}

func isExpression(s string) bool {
	return strings.Contains(s, "${{")
}

// Key returns the identity of the reference. Two references with the same
// key denote the same dependency.
func (r Reference) Key() string {
	switch r.Kind {
	case KindAction:
		return r.Target() + "@" + r.Ref
	case KindDocker:
		return dockerScheme + r.ImageName()
	default:
		return r.Raw
	}
}

// String implements fmt.Stringer
func (r Reference) String() string {
	return r.Key()
}

// Target returns owner/repo[/subpath] for actions
func (r Reference) Target() string {
	if r.Subpath == "" {
		return r.Owner + "/" + r.Repo
	}
	return r.Owner + "/" + r.Repo + "/" + r.Subpath
}

// ImageName returns [registry/]image[:tag][@digest] for images
func (r Reference) ImageName() string {
	var sb strings.Builder
	if r.Registry != "" {
		sb.WriteString(r.Registry)
		sb.WriteString("/")
	}
	sb.WriteString(r.Image)
	if r.Tag != "" {
		sb.WriteString(":")
		sb.WriteString(r.Tag)
	}
	if r.Digest != "" {
		sb.WriteString("@")
		sb.WriteString(r.Digest)
	}
	return sb.String()
}

// RepoKey identifies the repository snapshot an action reference needs.
// References that differ only in subpath share it.
func (r Reference) RepoKey() string {
	return r.Owner + "/" + r.Repo + "@" + r.Ref
}

// IsReusableWorkflow reports whether the reference points at a workflow file
// rather than an action directory
func (r Reference) IsReusableWorkflow() bool {
	return r.Kind == KindAction &&
		(strings.HasSuffix(r.Subpath, ".yml") || strings.HasSuffix(r.Subpath, ".yaml"))
}
