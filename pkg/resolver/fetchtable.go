package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/harekrishnarai/pinwalk/pkg/fetch"
	"github.com/harekrishnarai/pinwalk/pkg/metrics"
	"github.com/harekrishnarai/pinwalk/pkg/reference"
	"golang.org/x/sync/semaphore"
)

// Progress receives fetch lifecycle events. Calls may come from several
// goroutines at once.
type Progress interface {
	Started(repository string)
	Completed(repository string, err error)
}

// future is the published result of one fetch. res and err are written
// once before done is closed.
type future struct {
	done chan struct{}
	res  *fetch.Result
	err  error
}

// fetchTable runs at most one fetch per owner/repo@ref for the whole scan.
// A key is claimed under the mutex, fetched outside it and published by
// closing the future's channel.
type fetchTable struct {
	fetcher  fetch.Fetcher
	sem      *semaphore.Weighted
	workDir  string
	timeout  time.Duration
	logger   logr.Logger
	metrics  *metrics.Recorder
	progress Progress

	mu      sync.Mutex
	futures map[string]*future
	wg      sync.WaitGroup
}

func newFetchTable(fetcher fetch.Fetcher, opts Options) *fetchTable {
	return &fetchTable{
		fetcher:  fetcher,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		workDir:  opts.WorkDir,
		timeout:  opts.FetchTimeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		progress: opts.Progress,
		futures:  make(map[string]*future),
	}
}

// start claims the repository of ref and begins fetching it unless another
// caller already did
func (t *fetchTable) start(ctx context.Context, ref reference.Reference) *future {
	key := ref.RepoKey()

	t.mu.Lock()
	if f, ok := t.futures[key]; ok {
		t.mu.Unlock()
		return f
	}
	f := &future{done: make(chan struct{})}
	t.futures[key] = f
	t.mu.Unlock()

	req := fetch.Request{Owner: ref.Owner, Repo: ref.Repo, Ref: ref.Ref}
	req.Dest = fetch.DestFor(t.workDir, req)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(f.done)
		f.res, f.err = t.run(ctx, req)
	}()
	return f
}

// get waits for the fetch of ref, starting it if needed
func (t *fetchTable) get(ctx context.Context, ref reference.Reference) (*fetch.Result, error) {
	f := t.start(ctx, ref)
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return nil, &fetch.Error{
			Reason: fetch.ReasonCancelled,
			Owner:  ref.Owner,
			Repo:   ref.Repo,
			Ref:    ref.Ref,
			Err:    ctx.Err(),
		}
	}
}

// wait blocks until every started fetch has published its result
func (t *fetchTable) wait() {
	t.wg.Wait()
}

// count returns the number of distinct repositories claimed so far
func (t *fetchTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.futures)
}

func (t *fetchTable) run(ctx context.Context, req fetch.Request) (res *fetch.Result, err error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, &fetch.Error{Reason: fetch.ReasonCancelled, Owner: req.Owner, Repo: req.Repo, Ref: req.Ref, Err: err}
	}
	defer t.sem.Release(1)

	fetchCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	if t.progress != nil {
		t.progress.Started(req.String())
	}
	t.logger.V(1).Info("fetching repository", "repository", req.String())
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &fetch.Error{Reason: fetch.ReasonUnknown, Owner: req.Owner, Repo: req.Repo, Ref: req.Ref, Err: fmt.Errorf("fetcher panic: %v", r)}
		}
		elapsed := time.Since(start)
		t.metrics.ObserveFetch(elapsed.Seconds(), err)
		if t.progress != nil {
			t.progress.Completed(req.String(), err)
		}
		if err != nil {
			t.logger.V(1).Info("fetch failed", "repository", req.String(), "reason", fetch.ReasonOf(err), "duration", elapsed)
		} else {
			t.logger.V(1).Info("fetched repository", "repository", req.String(), "commit", res.CanonicalID, "duration", elapsed)
		}
	}()

	res, err = t.fetcher.Fetch(fetchCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
		// the scan is still running, only this fetch ran out of time
		err = &fetch.Error{Reason: fetch.ReasonTransport, Owner: req.Owner, Repo: req.Repo, Ref: req.Ref, Err: fmt.Errorf("timed out after %s: %w", t.timeout, err)}
	}
	if err == nil && res == nil {
		err = &fetch.Error{Reason: fetch.ReasonUnknown, Owner: req.Owner, Repo: req.Repo, Ref: req.Ref, Err: errors.New("fetcher returned no result")}
	}
	return res, err
}
