// Package remotetest provides an in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/util"
)

// Handler answers one call.
type Handler func(params remote.Params) (*remote.Response, error)

// Call records one invocation.
type Call struct {
	Op     remote.Op
	Params remote.Params
}

type result struct {
	resp *remote.Response
	err  error
}

// Fake is a scriptable remote.Client. Queued results are consumed first,
// then the registered handler answers. Task states registered with SetTask
// answer task.get_task_by_id.
type Fake struct {
	mu       sync.Mutex
	handlers map[remote.Op]Handler
	queues   map[remote.Op][]result
	tasks    map[string][]map[string]any
	calls    []Call
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		handlers: make(map[remote.Op]Handler),
		queues:   make(map[remote.Op][]result),
		tasks:    make(map[string][]map[string]any),
	}
}

// On registers a handler for op.
func (f *Fake) On(op remote.Op, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[op] = h
	return f
}

// Respond registers a static JSON response for op. The value is wrapped in
// the controller's {"response": ...} envelope.
func (f *Fake) Respond(op remote.Op, v any) *Fake {
	resp := remote.NewResponse(map[string]any{"response": v})
	return f.On(op, func(remote.Params) (*remote.Response, error) { return resp, nil })
}

// Fail registers a remote error for op.
func (f *Fake) Fail(op remote.Op, status int, message string) *Fake {
	return f.On(op, func(remote.Params) (*remote.Response, error) {
		return nil, &util.RemoteError{Family: op.Family, Operation: op.Operation, Status: status, Message: message}
	})
}

// Queue appends a one-shot result for op.
func (f *Fake) Queue(op remote.Op, resp *remote.Response, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[op] = append(f.queues[op], result{resp, err})
	return f
}

// QueueTask queues a response carrying task handle id for op.
func (f *Fake) QueueTask(op remote.Op, id string) *Fake {
	return f.Queue(op, TaskResponse(id), nil)
}

// RespondTask registers op to always answer with task handle id.
func (f *Fake) RespondTask(op remote.Op, id string) *Fake {
	resp := TaskResponse(id)
	return f.On(op, func(remote.Params) (*remote.Response, error) { return resp, nil })
}

// SetTask scripts the states task.get_task_by_id reports for id. Each poll
// consumes one state; the last one repeats.
func (f *Fake) SetTask(id string, states ...map[string]any) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[id] = states
	return f
}

// TaskResponse builds the handle response of a mutating call.
func TaskResponse(id string) *remote.Response {
	return remote.NewResponse(map[string]any{
		"response": map[string]any{"taskId": id, "url": "/api/v1/task/" + id},
	})
}

// Invoke implements remote.Client.
func (f *Fake) Invoke(_ context.Context, op remote.Op, params remote.Params) (*remote.Response, error) {
	if !remote.Known(op) {
		return nil, &util.RemoteError{Family: op.Family, Operation: op.Operation, Message: "unknown operation"}
	}
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: op, Params: params})

	if q := f.queues[op]; len(q) > 0 {
		f.queues[op] = q[1:]
		f.mu.Unlock()
		return q[0].resp, q[0].err
	}

	if op == remote.GetTaskByID {
		id := fmt.Sprint(params["task_id"])
		if states, ok := f.tasks[id]; ok && len(states) > 0 {
			state := states[0]
			if len(states) > 1 {
				f.tasks[id] = states[1:]
			}
			f.mu.Unlock()
			return remote.NewResponse(map[string]any{"response": state}), nil
		}
	}

	h, ok := f.handlers[op]
	f.mu.Unlock()
	if !ok {
		return nil, &util.RemoteError{Family: op.Family, Operation: op.Operation, Status: 404, Message: "no fake response registered"}
	}
	return h(params)
}

// Calls returns every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the recorded calls of op in order.
func (f *Fake) CallsTo(op remote.Op) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how often op was invoked.
func (f *Fake) Count(op remote.Op) int {
	return len(f.CallsTo(op))
}

// Ops returns the sequence of invoked operations, excluding task polls.
func (f *Fake) Ops() []remote.Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remote.Op
	for _, c := range f.calls {
		if c.Op != remote.GetTaskByID {
			out = append(out, c.Op)
		}
	}
	return out
}

// Mutations returns the invoked operations that change controller state.
func (f *Fake) Mutations() []remote.Op {
	var out []remote.Op
	for _, op := range f.Ops() {
		if remote.Mutating(op) {
			out = append(out, op)
		}
	}
	return out
}
