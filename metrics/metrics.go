// Copyright 2026 The Swallow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exports Prometheus metrics about WPS requests and jobs.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cedadev/swallow"
)

const namespace = "swallow"

// Recorder implements swallow.Recorder.  All methods are safe on a nil
// Recorder, which records nothing.
type Recorder struct {
	reg      *prom.Registry
	requests *prom.CounterVec
	outcomes *prom.CounterVec
	duration *prom.HistogramVec
	current  *prom.GaugeVec
	http     *prom.CounterVec
	inflight prom.Gauge
}

// NewRecorder constructs and registers the metrics.  A nil registry gets a
// fresh one.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{reg: reg}
	r.requests = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "WPS requests by operation and outcome",
	}, []string{"operation", "outcome"})
	r.outcomes = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "job_outcomes_total",
		Help:      "Finished jobs by process and final status",
	}, []string{"process", "status"})
	r.duration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Run time of jobs that started",
		Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600, 4 * 3600},
	}, []string{"process"})
	r.current = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs",
		Help:      "Jobs currently accepted or started",
	}, []string{"status"})
	r.http = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "http_responses_total",
		Help:      "HTTP responses by code and method",
	}, []string{"code", "method"})
	r.inflight = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight",
		Help:      "HTTP requests being served",
	})
	reg.MustRegister(r.requests, r.outcomes, r.duration, r.current,
		r.http, r.inflight)
	return r
}

// IncRequest counts a WPS request.  Outcome is "ok" or an exception code.
func (r *Recorder) IncRequest(operation, outcome string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(operation, outcome).Inc()
}

func (r *Recorder) JobTransition(process string, from, to swallow.Status, d time.Duration) {
	if r == nil {
		return
	}
	if from != "" && !from.Finished() {
		r.current.WithLabelValues(string(from)).Dec()
	}
	if !to.Finished() {
		r.current.WithLabelValues(string(to)).Inc()
		return
	}
	r.outcomes.WithLabelValues(process, string(to)).Inc()
	if from == swallow.StatusStarted {
		r.duration.WithLabelValues(process).Observe(d.Seconds())
	}
}

// Handler serves the metrics of the registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Middleware counts the responses of next, and the requests in flight.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return promhttp.InstrumentHandlerInFlight(r.inflight,
		promhttp.InstrumentHandlerCounter(r.http, next))
}

// Registry returns the registry the metrics are registered with.
func (r *Recorder) Registry() *prom.Registry {
	return r.reg
}
