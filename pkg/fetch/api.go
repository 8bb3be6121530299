package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-github/v53/github"
	"github.com/harekrishnarai/pinwalk/pkg/pin"
)

// APIFetcher resolves refs through the GitHub REST API and reads files
// lazily through the contents API. It needs no local disk.
type APIFetcher struct {
	client *github.Client
	// ReadTimeout bounds each file download made after Fetch returned.
	// Downloads outlive the Fetch context; bind them to the scan with
	// BindContext.
	ReadTimeout time.Duration
	Logger      logr.Logger
}

// NewAPIFetcher creates an API based fetcher
func NewAPIFetcher(client *github.Client, logger logr.Logger) *APIFetcher {
	return &APIFetcher{client: client, ReadTimeout: time.Minute, Logger: logger}
}

// Fetch implements Fetcher
func (a *APIFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	a.Logger.V(1).Info("resolving with GitHub API", "repository", req.String())

	sha, _, err := a.client.Repositories.GetCommitSHA1(ctx, req.Owner, req.Repo, req.Ref, "")
	if err != nil {
		return nil, a.classify(ctx, req, err)
	}
	if !pin.IsFullCommitSHA(sha) {
		return nil, newError(req, ReasonUnknown, fmt.Errorf("unexpected commit id %q", sha))
	}

	return &Result{
		CanonicalID: sha,
		Content: &remoteFS{
			client:  a.client,
			ctx:     context.WithoutCancel(ctx),
			timeout: a.ReadTimeout,
			owner:   req.Owner,
			repo:    req.Repo,
			sha:     sha,
			cache:   &fileCache{files: make(map[string][]byte)},
		},
	}, nil
}

func (a *APIFetcher) classify(ctx context.Context, req Request, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newError(req, ReasonCancelled, ctxErr)
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return newError(req, ReasonRateLimited, err)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusUnprocessableEntity:
			// the commits endpoint answers 404/422 for both a missing
			// repository and a missing ref
			if _, _, repoErr := a.client.Repositories.Get(ctx, req.Owner, req.Repo); repoErr != nil {
				var repoResp *github.ErrorResponse
				if errors.As(repoErr, &repoResp) && repoResp.Response != nil && repoResp.Response.StatusCode == http.StatusNotFound {
					return newError(req, ReasonRepoNotFound, err)
				}
			}
			return newError(req, ReasonRefNotFound, err)
		case http.StatusTooManyRequests:
			return newError(req, ReasonRateLimited, err)
		}
		if respErr.Response.StatusCode >= 500 {
			return newError(req, ReasonTransport, err)
		}
		return newError(req, ReasonUnknown, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return newError(req, ReasonTransport, err)
	}
	return newError(req, ReasonUnknown, err)
}

// remoteFS is an fs.FS over one commit of a GitHub repository. Files are
// downloaded on first open and cached.
type remoteFS struct {
	client  *github.Client
	ctx     context.Context
	timeout time.Duration
	owner   string
	repo    string
	sha     string
	cache   *fileCache
}

// fileCache is shared by every context view of one snapshot
type fileCache struct {
	mu    sync.Mutex
	files map[string][]byte
}

// WithContext implements ContextFS
func (r *remoteFS) WithContext(ctx context.Context) fs.FS {
	view := *r
	view.ctx = ctx
	return &view
}

func (r *remoteFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	r.cache.mu.Lock()
	data, ok := r.cache.files[name]
	r.cache.mu.Unlock()
	if ok {
		return newMemFile(name, data), nil
	}

	ctx := r.ctx
	if err := ctx.Err(); err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	file, dir, _, err := r.client.Repositories.GetContents(ctx, r.owner, r.repo, name, &github.RepositoryContentGetOptions{Ref: r.sha})
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if file == nil || dir != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: errors.New("is a directory")}
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}

	data = []byte(content)
	r.cache.mu.Lock()
	r.cache.files[name] = data
	r.cache.mu.Unlock()
	return newMemFile(name, data), nil
}

type memFile struct {
	name string
	*bytes.Reader
	size int64
}

func newMemFile(name string, data []byte) *memFile {
	return &memFile{name: path.Base(name), Reader: bytes.NewReader(data), size: int64(len(data))}
}

func (f *memFile) Stat() (fs.FileInfo, error) { return f, nil }
func (f *memFile) Close() error               { return nil }
func (f *memFile) Name() string               { return f.name }
func (f *memFile) Size() int64                { return f.size }
func (f *memFile) Mode() fs.FileMode          { return 0444 }
func (f *memFile) ModTime() time.Time         { return time.Time{} }
func (f *memFile) IsDir() bool                { return false }
func (f *memFile) Sys() interface{}           { return nil }
