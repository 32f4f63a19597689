// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/extdirect/rpc"
)

const metricsNamespace = "extdirect_client"

// Request outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeException = "exception"
	OutcomeError     = "error"
)

// Collector is a prometheus.Collector that collects metrics about the
// requests made by one or more clients.
type Collector struct {
	requests       *prometheus.CounterVec
	requestTime    *prometheus.HistogramVec
	queued         prometheus.Gauge
	bootstrapState *prometheus.GaugeVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "The number of requests dispatched, by kind and outcome.",
			}, []string{"kind", "outcome"},
		),
		requestTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "The time taken by a single request exchange.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			}, []string{"kind"},
		),
		queued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "queued_requests",
				Help:      "The number of requests waiting for the API descriptor.",
			},
		),
		bootstrapState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "api_state",
				Help:      "The number of clients in each API readiness state.",
			}, []string{"state"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.requestTime.Describe(ch)
	c.queued.Describe(ch)
	c.bootstrapState.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.requestTime.Collect(ch)
	c.queued.Collect(ch)
	c.bootstrapState.Collect(ch)
}

// The methods below are safe to call on a nil Collector.

func (c *Collector) observe(kind rpc.Kind, res rpc.Result, d time.Duration) {
	if c == nil {
		return
	}
	outcome := OutcomeSuccess
	switch {
	case rpc.IsRequestError(res.Err):
		outcome = OutcomeException
	case res.Err != nil:
		outcome = OutcomeError
	}
	c.requests.WithLabelValues(kind.String(), outcome).Inc()
	c.requestTime.WithLabelValues(kind.String()).Observe(d.Seconds())
}

func (c *Collector) queueChanged(delta int) {
	if c == nil {
		return
	}
	c.queued.Add(float64(delta))
}

func (c *Collector) stateChanged(from, to apiState) {
	if c == nil {
		return
	}
	if from != to {
		c.bootstrapState.WithLabelValues(from.String()).Dec()
	}
	c.bootstrapState.WithLabelValues(to.String()).Inc()
}
