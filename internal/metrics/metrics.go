// Package metrics exposes Prometheus counters for gift wrap and relay
// operations. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxundiary/nostrdiary-go/internal/giftwrap"
	"github.com/luxundiary/nostrdiary-go/internal/relay"
)

const namespace = "nostrdiary"

// Metrics holds the collectors registered by New.
type Metrics struct {
	gatherer prometheus.Gatherer

	Wraps         *prometheus.CounterVec
	Unwraps       *prometheus.CounterVec
	Publishes     *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	InboxEvents   prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry. Collectors already registered by an earlier New on the same
// registry are reused, so several clients can report into one registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		Wraps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "giftwrap_wraps_total",
			Help:      "Gift wraps built, by failing step (ok on success).",
		}, []string{"result"}),
		Unwraps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "giftwrap_unwraps_total",
			Help:      "Gift wraps opened, by failing stage (ok on success).",
		}, []string{"result"}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_publishes_total",
			Help:      "Events sent to relays, by outcome.",
		}, []string{"outcome"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_query_duration_seconds",
			Help:      "Time to collect stored events from relays.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		InboxEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_events_total",
			Help:      "New gift wraps seen by the inbox watcher.",
		}),
	}

	var err error
	if m.Wraps, err = register(reg, m.Wraps); err != nil {
		return nil, err
	}
	if m.Unwraps, err = register(reg, m.Unwraps); err != nil {
		return nil, err
	}
	if m.Publishes, err = register(reg, m.Publishes); err != nil {
		return nil, err
	}
	if m.QueryDuration, err = register(reg, m.QueryDuration); err != nil {
		return nil, err
	}
	if m.InboxEvents, err = register(reg, m.InboxEvents); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the collector already registered under
// the same descriptor if there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register metrics: %w", err)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveWrap records one Wrap call.
func (m *Metrics) ObserveWrap(err error) {
	if m == nil {
		return
	}
	m.Wraps.WithLabelValues(wrapResult(err)).Inc()
}

// ObserveUnwrap records one Unwrap call.
func (m *Metrics) ObserveUnwrap(err error) {
	if m == nil {
		return
	}
	m.Unwraps.WithLabelValues(unwrapResult(err)).Inc()
}

// ObservePublish records one publish attempt.
func (m *Metrics) ObservePublish(res *relay.PublishResult, err error) {
	if m == nil {
		return
	}
	outcome := "error"
	switch {
	case res != nil:
		outcome = string(res.Outcome)
	case errors.Is(err, relay.ErrOutcomeUnknown):
		outcome = string(relay.OutcomeUnknown)
	}
	m.Publishes.WithLabelValues(outcome).Inc()
}

// ObserveQuery records how long a query took.
func (m *Metrics) ObserveQuery(start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.QueryDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

// AddInbox counts gift wraps delivered by the inbox watcher.
func (m *Metrics) AddInbox(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.InboxEvents.Add(float64(n))
}

func wrapResult(err error) string {
	if err == nil {
		return "ok"
	}
	var wErr *giftwrap.WrapError
	if errors.As(err, &wErr) {
		return string(wErr.Step)
	}
	return "error"
}

func unwrapResult(err error) string {
	if err == nil {
		return "ok"
	}
	var uErr *giftwrap.UnwrapError
	if errors.As(err, &uErr) {
		return string(uErr.Stage)
	}
	return "error"
}
