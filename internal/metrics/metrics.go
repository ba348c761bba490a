// Package metrics backs the session core's ENABLE_METRICS/METRIC events
// (spec §6) with real Prometheus collectors, in the same package-level
// promauto-against-the-default-registerer style the retrieved pack uses
// for its own streaming metrics. A host that never calls Observe simply
// never populates these series; the session emits METRIC only when its
// own Config.EnableMetrics is set.
package metrics

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clspio/clsp-go/internal/clsp/eventbus"
	"github.com/clspio/clsp-go/internal/clsp/session"
	"github.com/clspio/clsp-go/internal/logger"
)

var (
	changeSrcTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clsp_changesrc_total",
		Help: "Total changeSrc invocations, by session id",
	}, []string{"session_id"})

	changeSrcFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clsp_changesrc_failed_total",
		Help: "Total changeSrc invocations that failed before a first frame, by session id",
	}, []string{"session_id"})

	firstFrameLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clsp_first_frame_latency_seconds",
		Help:    "Time from changeSrc to FIRST_FRAME_SHOWN, by session id",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
	}, []string{"session_id"})

	stopTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clsp_stop_total",
		Help: "Total stop invocations, by session id",
	}, []string{"session_id"})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clsp_retry_exhausted_total",
		Help: "Total retry chains that ran out of budget and were not replaced",
	})
)

// Handler serves the default Prometheus registry, the same
// promhttp.Handler() wiring the pack's own daemons expose on /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// Observable is the subset of session.Session metrics needs: a bus to
// subscribe to. registry.Session satisfies it too, so registries created
// under a custom Factory can still be observed.
type Observable interface {
	On(name eventbus.Name, handler eventbus.Handler) error
}

// Observe subscribes to one session's METRIC events and records each
// MetricPayload against the package's collectors. The returned error is
// only non-nil if EventMetric isn't in s's whitelist, which never happens
// for a *session.Session.
func Observe(s Observable, log *slog.Logger) error {
	if log == nil {
		log = logger.Logger()
	}
	return s.On(session.EventMetric, func(payload any) {
		p, ok := payload.(session.MetricPayload)
		if !ok {
			log.Warn("metrics: unexpected METRIC payload type", "payload", payload)
			return
		}
		record(p, log)
	})
}

func record(p session.MetricPayload, log *slog.Logger) {
	sid := strconv.FormatUint(p.SessionID, 10)
	switch p.Name {
	case session.MetricChangeSrcTotal:
		changeSrcTotal.WithLabelValues(sid).Add(p.Value)
	case session.MetricChangeSrcFailedTotal:
		changeSrcFailedTotal.WithLabelValues(sid).Add(p.Value)
	case session.MetricFirstFrameLatency:
		firstFrameLatency.WithLabelValues(sid).Observe(p.Value)
	case session.MetricStopTotal:
		stopTotal.WithLabelValues(sid).Add(p.Value)
	default:
		log.Warn("metrics: unknown metric name", "name", p.Name)
	}
}

// RetryObservable is the subset of registry.Registry metrics needs.
type RetryObservable interface {
	On(name eventbus.Name, handler eventbus.Handler) error
}

// ObserveRetryExhaustion subscribes to a registry's RETRY_EXHAUSTED event.
func ObserveRetryExhaustion(r RetryObservable, eventName eventbus.Name) error {
	return r.On(eventName, func(any) { retryExhaustedTotal.Inc() })
}
