// Package resilience provides the retry loop and circuit breaker that wrap
// remote provider calls.
//
// A Retrier runs a function under a RetryPolicy: exponential backoff capped
// at MaxDelay, optional jitter, and server retry-after hints taking priority
// over the computed delay. A CircuitBreaker isolates a failing
// provider/endpoint pair across calls. Guard composes the two so that each
// retry attempt consults the breaker, and an open circuit ends the retry loop.
package resilience
