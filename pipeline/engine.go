package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Engine executes pipelines. It holds no per-request state and may be shared.
type Engine struct {
	logger zerolog.Logger
	clock  clockz.Clock
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the clock used for timing metadata.
func WithClock(clock clockz.Clock) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates an Engine.
func NewEngine(logger zerolog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		logger: logger.With().Str("component", "pipeline").Logger(),
		clock:  clockz.RealClock,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run threads req through p in order and returns the resulting request.
// Execution stops at the first terminal request. Plug panics and returned
// errors are recorded on the request; they never reach the caller.
func (e *Engine) Run(ctx context.Context, req *Request, p Pipeline) *Request {
	return e.execute(ctx, req, p, false)
}

func (e *Engine) execute(ctx context.Context, req *Request, p Pipeline, stopOnStream bool) *Request {
	start := e.clock.Now()
	req.now = e.clock.Now
	req.PutMetadata(MetaStartedAt, start)
	capitan.Info(ctx, PipelineStarted, requestFields(req)...)

	for _, step := range p.steps {
		if req.Terminal() || (stopOnStream && req.Streaming()) {
			break
		}
		if err := ctx.Err(); err != nil {
			// no plug: the next one never ran
			req.record(ErrorRecord{
				Reason:    ReasonCanceled,
				Message:   err.Error(),
				Err:       err,
				Timestamp: e.clock.Now(),
			})
			break
		}
		req = e.call(ctx, req, step)
	}

	elapsed := e.clock.Now().Sub(start)
	req.PutMetadata(MetaDuration, elapsed)

	fields := append(requestFields(req),
		StateKey.Field(string(req.State)),
		DurationMsKey.Field(int(elapsed.Milliseconds())),
	)
	if last := req.LastError(); last != nil && req.State == StateError {
		fields = append(fields, ErrorKey.Field(last.Message), ReasonKey.Field(string(last.Reason)))
		capitan.Error(ctx, PipelineStopped, fields...)
	} else {
		capitan.Info(ctx, PipelineStopped, fields...)
	}
	return req
}

// call invokes one plug inside a recover boundary.
func (e *Engine) call(ctx context.Context, req *Request, step initialized) (out *Request) {
	name := step.plug.Name()
	start := e.clock.Now()
	capitan.Info(ctx, PlugStarted, append(requestFields(req), PlugKey.Field(name))...)

	defer func() {
		if r := recover(); r != nil {
			req.record(ErrorRecord{
				Plug:      name,
				Reason:    ReasonPlugFault,
				Message:   fmt.Sprint(r),
				Err:       fmt.Errorf("plug %s panicked: %v", name, r),
				Stack:     debug.Stack(),
				Timestamp: e.clock.Now(),
			})
			e.finishPlug(ctx, req, name, start)
			out = req
		}
	}()

	next, err := step.plug.Call(ctx, req, step.opts)
	switch {
	case err != nil:
		if next != nil {
			req = next
		}
		req.record(ErrorRecord{
			Plug:      name,
			Reason:    ReasonPlugError,
			Message:   err.Error(),
			Err:       err,
			Timestamp: e.clock.Now(),
		})
	case next == nil:
		req.record(ErrorRecord{
			Plug:      name,
			Reason:    ReasonPlugFault,
			Message:   "plug returned nil request",
			Err:       fmt.Errorf("plug %s returned nil request", name),
			Timestamp: e.clock.Now(),
		})
	default:
		req = next
	}

	e.finishPlug(ctx, req, name, start)
	return req
}

func (e *Engine) finishPlug(ctx context.Context, req *Request, name string, start time.Time) {
	elapsed := e.clock.Now().Sub(start)
	req.PutMetadata("plug."+name+".duration", elapsed)

	fields := append(requestFields(req),
		PlugKey.Field(name),
		DurationMsKey.Field(int(elapsed.Milliseconds())),
	)

	last := req.LastError()
	if req.State == StateError && last != nil && last.Plug == name {
		fields = append(fields, ErrorKey.Field(last.Message), ReasonKey.Field(string(last.Reason)))
		capitan.Error(ctx, PlugFailed, fields...)

		ev := e.logger.Error()
		if last.Reason == ReasonPlugError {
			ev = e.logger.Warn()
		}
		ev.Str("request_id", req.ID).
			Str("provider", req.Provider).
			Str("plug", name).
			Str("reason", string(last.Reason)).
			Err(last.Err).
			Msg("Plug failed")
		return
	}

	capitan.Info(ctx, PlugStopped, append(fields, StateKey.Field(string(req.State)))...)
	e.logger.Debug().
		Str("request_id", req.ID).
		Str("plug", name).
		Dur("elapsed", elapsed).
		Msg("Plug finished")
}
