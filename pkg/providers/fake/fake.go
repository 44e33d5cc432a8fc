// Package fake provides a scripted ServiceAdapter for tests and dry runs.
package fake

import (
	"context"
	"sync"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

// Response is one scripted reply.
type Response struct {
	Output map[string]interface{}
	Err    error

	// Block waits for the context to end before replying, to simulate a
	// hung call.
	Block bool
}

// Call records one invocation.
type Call struct {
	Kind   string
	Params map[string]string
}

// Adapter replays scripted responses per action kind, in order. Once a
// kind's script is exhausted it succeeds with the kind's default output.
type Adapter struct {
	mu       sync.Mutex
	scripts  map[string][]Response
	defaults map[string]map[string]interface{}
	calls    []Call
}

// New creates an empty fake adapter.
func New() *Adapter {
	return &Adapter{
		scripts:  make(map[string][]Response),
		defaults: make(map[string]map[string]interface{}),
	}
}

// Script appends responses for kind.
func (a *Adapter) Script(kind string, responses ...Response) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts[kind] = append(a.scripts[kind], responses...)
	return a
}

// Fail scripts n consecutive failures for kind.
func (a *Adapter) Fail(kind string, err error, n int) *Adapter {
	for i := 0; i < n; i++ {
		a.Script(kind, Response{Err: err})
	}
	return a
}

// Default sets the output returned for kind when nothing is scripted.
func (a *Adapter) Default(kind string, output map[string]interface{}) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.defaults[kind] = output
	return a
}

// Invoke implements engine.ServiceAdapter.
func (a *Adapter) Invoke(ctx context.Context, action engine.Action) (*engine.Outcome, error) {
	a.mu.Lock()
	params := make(map[string]string, len(action.Params))
	for k, v := range action.Params {
		params[k] = v
	}
	a.calls = append(a.calls, Call{Kind: action.Kind, Params: params})

	var resp Response
	if queue := a.scripts[action.Kind]; len(queue) > 0 {
		resp = queue[0]
		a.scripts[action.Kind] = queue[1:]
	} else {
		resp = Response{Output: a.defaults[action.Kind]}
	}
	a.mu.Unlock()

	if resp.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return &engine.Outcome{Output: resp.Output}, nil
}

// Calls returns a copy of every recorded call.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// Count returns how many times kind was invoked.
func (a *Adapter) Count(kind string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Kinds returns the invoked kinds in call order.
func (a *Adapter) Kinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	kinds := make([]string, len(a.calls))
	for i, c := range a.calls {
		kinds[i] = c.Kind
	}
	return kinds
}
