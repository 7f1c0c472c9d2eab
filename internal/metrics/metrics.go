// Package metrics exposes filter and HTTP counters in the Prometheus
// text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"festpage/internal/pastevent"
)

// Metrics owns a private registry so tests and multiple app instances do
// not collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	passes     *prometheus.CounterVec
	suppressed *prometheus.CounterVec
	expired    prometheus.Counter
	sections   prometheus.Counter
	skips      *prometheus.CounterVec
	lastPass   prometheus.Gauge
	upcoming   prometheus.Gauge
	contacts   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.passes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "festpage",
		Name:      "filter_passes_total",
		Help:      "Past-event filter passes by trigger",
	}, []string{"trigger"})
	m.suppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "festpage",
		Name:      "filter_passes_suppressed_total",
		Help:      "Passes skipped because the page was already checked today",
	}, []string{"trigger"})
	m.expired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "festpage",
		Name:      "events_expired_total",
		Help:      "Event entries retired by the filter",
	})
	m.sections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "festpage",
		Name:      "sections_expired_total",
		Help:      "Date sections retired by the filter",
	})
	m.skips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "festpage",
		Name:      "events_skipped_total",
		Help:      "Entries the filter could not date, by reason",
	}, []string{"reason"})
	m.lastPass = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "festpage",
		Name:      "last_pass_timestamp_seconds",
		Help:      "Unix timestamp of the last completed filter pass",
	})
	m.upcoming = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "festpage",
		Name:      "upcoming_events",
		Help:      "Visible events dated today or later",
	})
	m.contacts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "festpage",
		Name:      "contact_submissions_total",
		Help:      "Contact form submissions by outcome",
	}, []string{"outcome"})

	m.reg.MustRegister(
		m.passes, m.suppressed, m.expired, m.sections, m.skips,
		m.lastPass, m.upcoming, m.contacts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObservePass implements pastevent.Recorder.
func (m *Metrics) ObservePass(r pastevent.Report) {
	if r.Suppressed {
		m.suppressed.WithLabelValues(string(r.Trigger)).Inc()
		return
	}
	m.passes.WithLabelValues(string(r.Trigger)).Inc()
	m.expired.Add(float64(r.Expired))
	m.sections.Add(float64(r.SectionsExpired))
	m.lastPass.SetToCurrentTime()
}

// ObserveSkip implements pastevent.Recorder.
func (m *Metrics) ObserveSkip(reason pastevent.SkipReason) {
	m.skips.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) SetUpcoming(n int) { m.upcoming.Set(float64(n)) }

// ObserveContact counts a contact submission; outcome is "accepted" or
// "invalid".
func (m *Metrics) ObserveContact(outcome string) {
	m.contacts.WithLabelValues(outcome).Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
