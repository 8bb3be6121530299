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

// Package fetch retrieves a snapshot of a GitHub repository at a ref.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// Request names the snapshot to retrieve. Dest is a directory reserved for
// this request; backends that need local storage write only below it.
type Request struct {
	Owner string
	Repo  string
	Ref   string
	Dest  string
}

func (r Request) String() string {
	return fmt.Sprintf("%s/%s@%s", r.Owner, r.Repo, r.Ref)
}

// Result is a successfully retrieved snapshot
type Result struct {
	// CanonicalID is the full commit SHA the ref resolved to
	CanonicalID string
	// Content is the repository tree rooted at the repository root
	Content fs.FS
}

// ContextFS is content that reads lazily from a remote. WithContext returns
// a view of the same snapshot whose reads are bound to ctx.
type ContextFS interface {
	fs.FS
	WithContext(ctx context.Context) fs.FS
}

// BindContext ties the reads of fsys to ctx when fsys reads lazily and
// returns fsys unchanged otherwise
func BindContext(ctx context.Context, fsys fs.FS) fs.FS {
	if c, ok := fsys.(ContextFS); ok {
		return c.WithContext(ctx)
	}
	return fsys
}

// Fetcher retrieves repository snapshots. Implementations must be safe for
// concurrent use and must not panic on remote failures.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// Reason classifies a fetch failure
type Reason string

const (
	ReasonRepoNotFound Reason = "repo_not_found"
	ReasonRefNotFound  Reason = "ref_not_found"
	ReasonTransport    Reason = "transport"
	ReasonRateLimited  Reason = "rate_limited"
	ReasonDisk         Reason = "disk"
	ReasonCancelled    Reason = "cancelled"
	ReasonUnknown      Reason = "unknown"
)

// Error is returned by fetchers for every failure
type Error struct {
	Reason Reason
	Owner  string
	Repo   string
	Ref    string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("fetch %s/%s@%s: %s", e.Owner, e.Repo, e.Ref, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(req Request, reason Reason, err error) *Error {
	return &Error{Reason: reason, Owner: req.Owner, Repo: req.Repo, Ref: req.Ref, Err: err}
}

// ReasonOf extracts the failure reason from any error returned by a Fetcher
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonCancelled
	}
	return ReasonUnknown
}
