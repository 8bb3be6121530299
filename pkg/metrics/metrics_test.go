package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harekrishnarai/pinwalk/pkg/fetch"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.ObserveFetch(0.2, nil)
	r.ObserveFetch(0.1, &fetch.Error{Reason: fetch.ReasonRepoNotFound})
	r.ObserveFetch(0.1, context.Canceled)
	r.ObserveNode("composite", true)
	r.ObserveNode("javascript", false)
	r.ObserveNode("javascript", false)
	r.ObserveCycle()
	r.ObserveDepthExceeded()
	r.ObserveWarning()

	if got := testutil.ToFloat64(r.fetchTotal.WithLabelValues("success", "")); got != 1 {
		t.Errorf("Expected 1 successful fetch, got %v", got)
	}
	if got := testutil.ToFloat64(r.fetchTotal.WithLabelValues("failure", "repo_not_found")); got != 1 {
		t.Errorf("Expected 1 repo_not_found fetch, got %v", got)
	}
	if got := testutil.ToFloat64(r.fetchTotal.WithLabelValues("failure", "cancelled")); got != 1 {
		t.Errorf("Expected 1 cancelled fetch, got %v", got)
	}
	if got := testutil.ToFloat64(r.nodesTotal.WithLabelValues("javascript", "false")); got != 2 {
		t.Errorf("Expected 2 unpinned javascript nodes, got %v", got)
	}
	if got := testutil.ToFloat64(r.cyclesTotal); got != 1 {
		t.Errorf("Expected 1 cycle, got %v", got)
	}
	if count := testutil.CollectAndCount(r.fetchDuration); count != 1 {
		t.Errorf("Expected one histogram series, got %d", count)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveFetch(1, errors.New("x"))
	r.ObserveNode("docker", false)
	r.ObserveCycle()
	r.ObserveDepthExceeded()
	r.ObserveWarning()
	if err := r.WriteTextfile(filepath.Join(t.TempDir(), "none.prom")); err != nil {
		t.Errorf("Expected nil recorder to skip writing, got %v", err)
	}
	if r.Registry() != nil {
		t.Errorf("Expected nil registry")
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.ObserveNode("docker", true)

	path := filepath.Join(t.TempDir(), "pinwalk.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read textfile: %v", err)
	}
	if !strings.Contains(string(data), `pinwalk_nodes_total{action_type="docker",pinned="true"} 1`) {
		t.Errorf("Expected node counter in textfile, got:\n%s", data)
	}
}
