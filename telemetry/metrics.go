// Package telemetry turns runtime signals into prometheus metrics and log
// lines. Both observers subscribe to every signal and pick what they know.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/aschepis/backscratcher/switchboard/cache"
	"github.com/aschepis/backscratcher/switchboard/pipeline"
	"github.com/aschepis/backscratcher/switchboard/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zoobzio/capitan"
)

// Metrics records runtime signals on its own registry. It is safe for
// concurrent use.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	plugFailures    *prometheus.CounterVec
	streamChunks    *prometheus.CounterVec

	retriesTotal     prometheus.Counter
	retriesExhausted prometheus.Counter

	breakerState      *prometheus.GaugeVec
	breakerRejections *prometheus.CounterVec

	cacheEvents       *prometheus.CounterVec
	writeBehindDrops  prometheus.Counter
	writeBehindErrors prometheus.Counter

	registry *prometheus.Registry
	stop     func()
}

// NewMetrics creates the collectors on a fresh registry. Call Start to
// begin observing.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_requests_total",
				Help: "Total number of pipeline runs by final state",
			},
			[]string{"provider", "state"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_request_duration_seconds",
				Help:    "Duration of pipeline runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		plugFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_plug_failures_total",
				Help: "Total number of plug failures",
			},
			[]string{"plug", "reason"},
		),
		streamChunks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_stream_chunks_total",
				Help: "Total number of streamed events delivered",
			},
			[]string{"provider"},
		),
		retriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_retries_total",
			Help: "Total number of scheduled retries",
		}),
		retriesExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_retries_exhausted_total",
			Help: "Total number of calls that used up their attempts",
		}),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "switchboard_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		breakerRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_circuit_breaker_rejections_total",
				Help: "Total number of calls rejected by an open breaker",
			},
			[]string{"name"},
		),
		cacheEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_cache_events_total",
				Help: "Total number of cache lookups and writes by result",
			},
			[]string{"cache", "result"},
		),
		writeBehindDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_write_behind_dropped_total",
			Help: "Total number of records dropped because the queue was full",
		}),
		writeBehindErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_write_behind_errors_total",
			Help: "Total number of records the recorder failed to store",
		}),
		registry: registry,
	}
}

// Start subscribes to all signals. Stop undoes it.
func (m *Metrics) Start() {
	observer := capitan.Observe(m.observe)
	m.stop = func() { observer.Close() }
}

// Stop unsubscribes.
func (m *Metrics) Stop() {
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func breakerStateValue(state string) float64 {
	switch resilience.State(state) {
	case resilience.StateOpen:
		return 1
	case resilience.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func (m *Metrics) observe(_ context.Context, e *capitan.Event) {
	switch e.Signal() {
	case pipeline.PipelineStopped:
		provider, _ := pipeline.ProviderKey.From(e)
		state, _ := pipeline.StateKey.From(e)
		m.requestsTotal.WithLabelValues(provider, state).Inc()
		if ms, ok := pipeline.DurationMsKey.From(e); ok {
			m.requestDuration.WithLabelValues(provider).Observe((time.Duration(ms) * time.Millisecond).Seconds())
		}

	case pipeline.PlugFailed:
		plug, _ := pipeline.PlugKey.From(e)
		reason, _ := pipeline.ReasonKey.From(e)
		m.plugFailures.WithLabelValues(plug, reason).Inc()

	case pipeline.StreamChunk:
		provider, _ := pipeline.ProviderKey.From(e)
		m.streamChunks.WithLabelValues(provider).Inc()

	case resilience.RetryScheduled:
		m.retriesTotal.Inc()

	case resilience.RetryExhausted:
		m.retriesExhausted.Inc()

	case resilience.BreakerStateChanged:
		name, _ := resilience.BreakerKey.From(e)
		to, _ := resilience.ToStateKey.From(e)
		m.breakerState.WithLabelValues(name).Set(breakerStateValue(to))

	case resilience.BreakerRejected:
		name, _ := resilience.BreakerKey.From(e)
		m.breakerRejections.WithLabelValues(name).Inc()

	case cache.CacheHit:
		m.cacheEvent(e, "hit")
	case cache.CacheMiss:
		m.cacheEvent(e, "miss")
	case cache.CacheStored:
		m.cacheEvent(e, "stored")
	case cache.CacheEvicted:
		m.cacheEvent(e, "evicted")
	case cache.CacheError:
		m.cacheEvent(e, "error")

	case cache.WriteBehindDrop:
		m.writeBehindDrops.Inc()
	case cache.WriteBehindError:
		m.writeBehindErrors.Inc()
	}
}

func (m *Metrics) cacheEvent(e *capitan.Event, result string) {
	name, _ := cache.NameKey.From(e)
	n := 1
	if count, ok := cache.CountKey.From(e); ok && count > 0 {
		n = count
	}
	m.cacheEvents.WithLabelValues(name, result).Add(float64(n))
}
