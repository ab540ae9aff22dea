package resilience

import "github.com/zoobzio/capitan"

var (
	RetryScheduled      = capitan.NewSignal("resilience.retry.scheduled", "Retry scheduled")
	RetryExhausted      = capitan.NewSignal("resilience.retry.exhausted", "Retry attempts exhausted")
	BreakerStateChanged = capitan.NewSignal("resilience.breaker.state_changed", "Circuit breaker changed state")
	BreakerRejected     = capitan.NewSignal("resilience.breaker.rejected", "Circuit breaker rejected a call")
)

var (
	AttemptKey   = capitan.NewIntKey("attempt")
	DelayMsKey   = capitan.NewIntKey("delay_ms")
	ErrorKey     = capitan.NewStringKey("error")
	BreakerKey   = capitan.NewStringKey("breaker")
	FromStateKey = capitan.NewStringKey("from_state")
	ToStateKey   = capitan.NewStringKey("to_state")
	FailuresKey  = capitan.NewIntKey("failure_count")
)
