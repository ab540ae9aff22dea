package pipeline

import (
	"context"
	"fmt"

	"github.com/samber/lo"
)

// Opts are a plug's static options.
type Opts map[string]any

// Plug is a single processing unit in a pipeline. Init validates and
// normalizes static options once, when the pipeline is built. Call runs for
// every request; a returned error fails and halts the request.
type Plug interface {
	Name() string
	Init(opts Opts) (Opts, error)
	Call(ctx context.Context, req *Request, opts Opts) (*Request, error)
}

// Step pairs a plug with its static options.
type Step struct {
	Plug Plug
	Opts Opts
}

// Use is shorthand for a Step without options.
func Use(plug Plug) Step {
	return Step{Plug: plug}
}

// With is shorthand for a Step with options.
func With(plug Plug, opts Opts) Step {
	return Step{Plug: plug, Opts: opts}
}

type initialized struct {
	plug Plug
	opts Opts
}

// Pipeline is an ordered, initialized list of plugs. It is immutable and safe
// to share between goroutines.
type Pipeline struct {
	steps []initialized
}

// New initializes every step in order.
func New(steps ...Step) (Pipeline, error) {
	out := make([]initialized, 0, len(steps))
	for i, step := range steps {
		if step.Plug == nil {
			return Pipeline{}, fmt.Errorf("step %d: nil plug", i)
		}
		opts, err := step.Plug.Init(step.Opts)
		if err != nil {
			return Pipeline{}, fmt.Errorf("init plug %s: %w", step.Plug.Name(), err)
		}
		out = append(out, initialized{plug: step.Plug, opts: opts})
	}
	return Pipeline{steps: out}, nil
}

// MustNew is New that panics on error. For static pipeline tables.
func MustNew(steps ...Step) Pipeline {
	p, err := New(steps...)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of plugs.
func (p Pipeline) Len() int {
	return len(p.steps)
}

// Names returns the plug names in execution order.
func (p Pipeline) Names() []string {
	return lo.Map(p.steps, func(s initialized, _ int) string { return s.plug.Name() })
}

type funcPlug struct {
	name string
	fn   func(ctx context.Context, req *Request) (*Request, error)
}

// Func adapts a function into a Plug without options.
func Func(name string, fn func(ctx context.Context, req *Request) (*Request, error)) Plug {
	return &funcPlug{name: name, fn: fn}
}

func (f *funcPlug) Name() string { return f.name }

func (f *funcPlug) Init(opts Opts) (Opts, error) { return opts, nil }

func (f *funcPlug) Call(ctx context.Context, req *Request, _ Opts) (*Request, error) {
	return f.fn(ctx, req)
}
