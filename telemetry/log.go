package telemetry

import (
	"context"

	"github.com/aschepis/backscratcher/switchboard/cache"
	"github.com/aschepis/backscratcher/switchboard/pipeline"
	"github.com/aschepis/backscratcher/switchboard/resilience"
	"github.com/rs/zerolog"
	"github.com/zoobzio/capitan"
)

// LogObserver writes the signals operators care about to a zerolog logger.
type LogObserver struct {
	logger zerolog.Logger
	stop   func()
}

// NewLogObserver creates an observer logging to logger.
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With().Str("component", "telemetry").Logger()}
}

// Start subscribes to all signals.
func (o *LogObserver) Start() {
	observer := capitan.Observe(o.observe)
	o.stop = func() { observer.Close() }
}

// Stop unsubscribes.
func (o *LogObserver) Stop() {
	if o.stop != nil {
		o.stop()
		o.stop = nil
	}
}

func (o *LogObserver) observe(_ context.Context, e *capitan.Event) {
	switch e.Signal() {
	case pipeline.PipelineStopped:
		requestID, _ := pipeline.RequestIDKey.From(e)
		provider, _ := pipeline.ProviderKey.From(e)
		state, _ := pipeline.StateKey.From(e)
		ms, _ := pipeline.DurationMsKey.From(e)
		o.logger.Debug().
			Str("request_id", requestID).
			Str("provider", provider).
			Str("state", state).
			Int("duration_ms", ms).
			Msg("Request finished")

	case resilience.BreakerStateChanged:
		name, _ := resilience.BreakerKey.From(e)
		from, _ := resilience.FromStateKey.From(e)
		to, _ := resilience.ToStateKey.From(e)
		failures, _ := resilience.FailuresKey.From(e)
		ev := o.logger.Info()
		if to == string(resilience.StateOpen) {
			ev = o.logger.Warn()
		}
		ev.Str("breaker", name).
			Str("from", from).
			Str("to", to).
			Int("failures", failures).
			Msg("Circuit breaker changed state")

	case resilience.RetryExhausted:
		attempts, _ := resilience.AttemptKey.From(e)
		errMsg, _ := resilience.ErrorKey.From(e)
		o.logger.Warn().Int("attempts", attempts).Str("error", errMsg).Msg("Retries exhausted")

	case cache.WriteBehindDrop:
		key, _ := cache.KeyKey.From(e)
		o.logger.Warn().Str("cache_key", key).Msg("Recording dropped")
	}
}
