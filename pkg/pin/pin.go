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

package pin

import (
	"regexp"

	"github.com/harekrishnarai/pinwalk/pkg/reference"
)

// Verdict is the pin classification of a single reference
type Verdict struct {
	Pinned bool
	Reason string
}

// Reasons attached to verdicts
const (
	ReasonFullSHA     = "ref is a full commit SHA"
	ReasonMutableRef  = "ref is a branch, tag or abbreviated SHA and can be moved"
	ReasonDigest      = "image is pinned by content digest"
	ReasonNoDigest    = "image has no content digest"
	ReasonNotPinnable = "local references are versioned with the calling repository"
)

var commitSHARegex = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsFullCommitSHA reports whether s is a full 40 character lowercase hex commit SHA
func IsFullCommitSHA(s string) bool {
	return commitSHARegex.MatchString(s)
}

// Classify decides whether a reference is pinned to immutable content. Only
// the literal text counts: a tag that happens to resolve to a commit is still
// unpinned.
func Classify(ref reference.Reference) Verdict {
	switch ref.Kind {
	case reference.KindAction:
		if IsFullCommitSHA(ref.Ref) {
			return Verdict{Pinned: true, Reason: ReasonFullSHA}
		}
		return Verdict{Pinned: false, Reason: ReasonMutableRef}
	case reference.KindDocker:
		if ref.Digest != "" {
			return Verdict{Pinned: true, Reason: ReasonDigest}
		}
		return Verdict{Pinned: false, Reason: ReasonNoDigest}
	default:
		return Verdict{Pinned: false, Reason: ReasonNotPinnable}
	}
}

// ClassifyImage classifies a raw image string such as a Dockerfile FROM
// value. Strings that cannot be parsed are unpinned.
func ClassifyImage(image string) Verdict {
	ref, err := reference.ParseImage(image)
	if err != nil {
		return Verdict{Pinned: false, Reason: err.Error()}
	}
	return Classify(ref)
}
