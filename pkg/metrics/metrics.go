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

// Package metrics records scan counters in a Prometheus registry that can be
// written as a node_exporter textfile.
package metrics

import (
	"strconv"

	"github.com/harekrishnarai/pinwalk/pkg/fetch"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pinwalk"

// Recorder holds the scan metrics. A nil *Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	fetchTotal         *prometheus.CounterVec
	fetchDuration      prometheus.Histogram
	nodesTotal         *prometheus.CounterVec
	cyclesTotal        prometheus.Counter
	depthExceededTotal prometheus.Counter
	warningsTotal      prometheus.Counter
}

// New creates a Recorder registered on its own registry
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_total",
				Help:      "Total number of repository fetches by result and failure reason",
			},
			[]string{"result", "reason"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of repository fetches in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		nodesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_total",
				Help:      "Total number of resolved dependency nodes by action type and pin state",
			},
			[]string{"action_type", "pinned"},
		),
		cyclesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Total number of dependency cycles detected",
			},
		),
		depthExceededTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "depth_exceeded_total",
				Help:      "Total number of branches cut at the maximum depth",
			},
		),
		warningsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "warnings_total",
				Help:      "Total number of scan warnings",
			},
		),
	}

	r.registry.MustRegister(
		r.fetchTotal,
		r.fetchDuration,
		r.nodesTotal,
		r.cyclesTotal,
		r.depthExceededTotal,
		r.warningsTotal,
	)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveFetch records one fetch attempt
func (r *Recorder) ObserveFetch(seconds float64, err error) {
	if r == nil {
		return
	}
	r.fetchDuration.Observe(seconds)
	if err != nil {
		r.fetchTotal.WithLabelValues("failure", string(fetch.ReasonOf(err))).Inc()
		return
	}
	r.fetchTotal.WithLabelValues("success", "").Inc()
}

// ObserveNode records one completed node
func (r *Recorder) ObserveNode(actionType string, pinned bool) {
	if r == nil {
		return
	}
	r.nodesTotal.WithLabelValues(actionType, strconv.FormatBool(pinned)).Inc()
}

// ObserveCycle records one detected cycle
func (r *Recorder) ObserveCycle() {
	if r == nil {
		return
	}
	r.cyclesTotal.Inc()
}

// ObserveDepthExceeded records one branch cut at the depth bound
func (r *Recorder) ObserveDepthExceeded() {
	if r == nil {
		return
	}
	r.depthExceededTotal.Inc()
}

// ObserveWarning records one scan warning
func (r *Recorder) ObserveWarning() {
	if r == nil {
		return
	}
	r.warningsTotal.Inc()
}

// WriteTextfile writes all metrics in the text exposition format
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
