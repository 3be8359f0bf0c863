// Package metrics owns the Prometheus collectors of the bot and the
// optional HTTP server exposing them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "postbot"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	updates        *prometheus.CounterVec
	handleSeconds  prometheus.Histogram
	postsSubmitted prometheus.Counter
	postsDecided   *prometheus.CounterVec
	postsPublished prometheus.Counter
	deliveries     *prometheus.CounterVec
	broadcastSends *prometheus.CounterVec
	broadcastJobs  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "updates_total",
			Help: "Inbound updates by kind.",
		}, []string{"kind"}),
		handleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "update_handle_seconds",
			Help:    "Time spent handling one update.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		postsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "posts_submitted_total",
			Help: "Posts persisted as pending.",
		}),
		postsDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "posts_decided_total",
			Help: "Moderation decisions that took effect.",
		}, []string{"decision"}),
		postsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "posts_published_total",
			Help: "Approved posts handed to the channel.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Best-effort outbound sends by operation and result.",
		}, []string{"op", "result"}),
		broadcastSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_recipients_total",
			Help: "Broadcast recipients by result.",
		}, []string{"result"}),
		broadcastJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_jobs_total",
			Help: "Finished broadcast jobs.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.updates, m.handleSeconds, m.postsSubmitted, m.postsDecided, m.postsPublished,
		m.deliveries, m.broadcastSends, m.broadcastJobs,
	)
	return m
}

// Registry exposes the underlying registry for extra collectors and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Gauge registers a value read on every scrape.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: name, Help: help,
	}, fn))
}

func (m *Metrics) Update(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind).Inc()
	m.handleSeconds.Observe(seconds)
}

func (m *Metrics) PostSubmitted() {
	if m != nil {
		m.postsSubmitted.Inc()
	}
}

func (m *Metrics) PostDecided(decision string) {
	if m != nil {
		m.postsDecided.WithLabelValues(decision).Inc()
	}
}

func (m *Metrics) PostPublished() {
	if m != nil {
		m.postsPublished.Inc()
	}
}

func (m *Metrics) Delivery(op string, ok bool) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(op, result(ok)).Inc()
}

func (m *Metrics) BroadcastJob(success, failed int) {
	if m == nil {
		return
	}
	m.broadcastJobs.Inc()
	m.broadcastSends.WithLabelValues("ok").Add(float64(success))
	m.broadcastSends.WithLabelValues("failed").Add(float64(failed))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
