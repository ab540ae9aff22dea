package pipeline

import (
	"time"

	"github.com/aschepis/backscratcher/switchboard/llm"
	"github.com/google/uuid"
)

// State is the lifecycle state of a Request.
type State string

const (
	StatePending   State = "pending"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// Well-known assign keys.
const (
	AssignStream   = "stream"
	AssignCacheKey = "cache_key"
	AssignCacheHit = "cache_hit"
)

// Engine-owned metadata keys.
const (
	MetaStartedAt = "started_at"
	MetaDuration  = "duration"
)

// Options are the per-call options that travel with a request's payload.
type Options struct {
	Stream           bool
	Cache            *bool // explicit per-call cache flag
	NoCache          bool  // explicit disable, always wins
	StructuredOutput bool
	CacheTTL         time.Duration
	Params           map[string]any
}

// Request is threaded through a pipeline. A plug receives it, may mutate it,
// and returns it (or a replacement) to the engine.
type Request struct {
	ID       string
	Provider string
	Payload  llm.Request
	Options  Options

	State  State
	Halted bool

	// Assigns is for plug-to-plug communication.
	Assigns map[string]any
	// Metadata is written by the engine only.
	Metadata map[string]any

	Errors []ErrorRecord
	Result *llm.Response

	now func() time.Time
}

// NewRequest creates a pending request with a fresh id.
func NewRequest(provider string, payload llm.Request, opts Options) *Request {
	return &Request{
		ID:       uuid.NewString(),
		Provider: provider,
		Payload:  payload,
		Options:  opts,
		State:    StatePending,
		Assigns:  make(map[string]any),
		Metadata: make(map[string]any),
	}
}

// Assign stores a value for later plugs.
func (r *Request) Assign(key string, value any) *Request {
	if r.Assigns == nil {
		r.Assigns = make(map[string]any)
	}
	r.Assigns[key] = value
	return r
}

// Assigned returns a value stored by Assign.
func (r *Request) Assigned(key string) (any, bool) {
	v, ok := r.Assigns[key]
	return v, ok
}

// PutMetadata records engine bookkeeping.
func (r *Request) PutMetadata(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// Halt stops the pipeline after the current plug.
func (r *Request) Halt() *Request {
	r.Halted = true
	return r
}

// Complete stores the final result.
func (r *Request) Complete(result *llm.Response) *Request {
	r.Result = result
	r.State = StateCompleted
	return r
}

// Fail records an error on behalf of plug, marks the request as failed and
// halts it.
func (r *Request) Fail(plug string, reason Reason, err error) *Request {
	r.record(ErrorRecord{
		Plug:      plug,
		Reason:    reason,
		Message:   errMessage(err),
		Err:       err,
		Timestamp: r.clock(),
	})
	return r
}

// clock is the engine's clock once the request has entered a pipeline.
func (r *Request) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

func (r *Request) record(rec ErrorRecord) {
	r.Errors = append(r.Errors, rec)
	r.State = StateError
	r.Halted = true
}

// StartStream switches the request into streaming mode with handle as the
// source of events.
func (r *Request) StartStream(handle llm.Stream) *Request {
	r.Assign(AssignStream, handle)
	r.State = StateStreaming
	return r
}

// Stream returns the stream handle stored by StartStream.
func (r *Request) Stream() llm.Stream {
	handle, _ := r.Assigns[AssignStream].(llm.Stream)
	return handle
}

// Streaming reports whether a stream has been started and its handle stored.
func (r *Request) Streaming() bool {
	return r.State == StateStreaming && r.Stream() != nil
}

// Terminal reports whether the engine must stop executing plugs.
func (r *Request) Terminal() bool {
	return r.Halted || r.State == StateCompleted || r.State == StateError
}

// LastError returns the most recent error record, or nil.
func (r *Request) LastError() *ErrorRecord {
	if len(r.Errors) == 0 {
		return nil
	}
	return &r.Errors[len(r.Errors)-1]
}

// Err returns a *Failure if the request ended in the error state.
func (r *Request) Err() error {
	if r.State != StateError {
		return nil
	}
	return &Failure{Request: r}
}
