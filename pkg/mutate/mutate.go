// Package mutate executes planned changes against the controller.
//
// Each mutation kind has one mutator. A mutator issues the controller calls
// for its changes, waits on the returned task handles and records a verdict
// for every target in the outcome log. Mutators never return errors: a
// failed call fails the targets it covered and the mutator moves on.
package mutate

import (
	"context"
	"fmt"

	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/observe"
	"github.com/ccinv/ccinv/pkg/outcome"
	"github.com/ccinv/ccinv/pkg/plan"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/task"
	"github.com/ccinv/ccinv/pkg/util"
)

// Run is the context shared by the mutators of one reconciliation pass.
type Run struct {
	Declared *intent.Declared
	State    *observe.State
	Log      *outcome.Log
}

// Mutator dispatches changes to the per-kind mutators.
type Mutator struct {
	client   remote.Client
	poller   *task.Poller
	observer *observe.Observer

	// ExportDir receives export artifacts when the request names no
	// directory.
	ExportDir string
}

type applyFunc func(ctx context.Context, changes []plan.Change, r *Run)

// New creates a mutator.
func New(client remote.Client, poller *task.Poller, observer *observe.Observer) *Mutator {
	return &Mutator{
		client:    client,
		poller:    poller,
		observer:  observer,
		ExportDir: ".",
	}
}

func (m *Mutator) handler(kind outcome.Kind) (applyFunc, bool) {
	switch kind {
	case outcome.KindAdd:
		return m.add, true
	case outcome.KindRole:
		return m.role, true
	case outcome.KindCredential:
		return m.credentials, true
	case outcome.KindMgmtIP:
		return m.mgmtIP, true
	case outcome.KindInterface:
		return m.interfaces, true
	case outcome.KindUDF:
		return m.createUDFs, true
	case outcome.KindUDFAssign:
		return m.assignUDFs, true
	case outcome.KindProvision:
		return m.provision, true
	case outcome.KindResync:
		return m.resync, true
	case outcome.KindReboot:
		return m.reboot, true
	case outcome.KindExport:
		return m.export, true
	case outcome.KindMaintenance:
		return m.createSchedules, true
	case outcome.KindMaintenanceUpdate:
		return m.updateSchedules, true
	case outcome.KindDelete:
		return m.deleteDevices, true
	case outcome.KindUDFDelete:
		return m.deleteUDFs, true
	case outcome.KindMaintenanceDelete:
		return m.deleteSchedules, true
	}
	return nil, false
}

// Apply runs the changes of one kind. Every change's target ends up with a
// verdict in r.Log.
func (m *Mutator) Apply(ctx context.Context, kind outcome.Kind, changes []plan.Change, r *Run) {
	if len(changes) == 0 {
		return
	}
	fn, ok := m.handler(kind)
	if !ok {
		for _, c := range changes {
			r.Log.Fail(kind, c.Target, fmt.Errorf("no mutator for kind %q", kind))
		}
		return
	}
	util.WithKind(string(kind)).Infof("Applying %d change(s)", len(changes))
	fn(ctx, changes, r)
}

// ack invokes op and, when the response carries a task handle, waits for
// the task to finish.
func (m *Mutator) ack(ctx context.Context, op remote.Op, params remote.Params) error {
	resp, err := remote.Call(ctx, m.client, op, params)
	if err != nil {
		return err
	}
	h, err := resp.Handle()
	if err != nil {
		// Synchronous acknowledgement.
		return nil
	}
	_, err = m.poller.Wait(ctx, h.TaskID, task.Generic())
	return err
}

// submit invokes op and waits on its task with done.
func (m *Mutator) submit(ctx context.Context, op remote.Op, params remote.Params, done task.Predicate) error {
	_, err := m.poller.Submit(ctx, op, params, done)
	return err
}

// record stores the verdict of one target.
func record(log *outcome.Log, kind outcome.Kind, target string, err error) {
	if err != nil {
		util.WithDevice(target).WithField("kind", kind).Warnf("%s failed: %v", kind, err)
		log.Fail(kind, target, err)
		return
	}
	util.WithDevice(target).WithField("kind", kind).Infof("%s applied", kind)
	log.Applied(kind, target, "")
}

// recordAll stores the same verdict for every change.
func recordAll(log *outcome.Log, kind outcome.Kind, changes []plan.Change, err error) {
	for _, c := range changes {
		record(log, kind, c.Target, err)
	}
}

func targets(changes []plan.Change) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Target
	}
	return out
}

func deviceIDs(changes []plan.Change) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.DeviceID
	}
	return out
}

// chunkChanges splits changes into batches of at most size.
func chunkChanges(changes []plan.Change, size int) [][]plan.Change {
	if size <= 0 {
		size = len(changes)
	}
	var out [][]plan.Change
	for start := 0; start < len(changes); start += size {
		end := start + size
		if end > len(changes) {
			end = len(changes)
		}
		out = append(out, changes[start:end])
	}
	return out
}
