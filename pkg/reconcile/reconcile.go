// Package reconcile drives one invocation: it observes each configuration
// entry, plans the changes, hands them to the mutators in a fixed order and
// optionally verifies convergence afterwards.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/lock"
	"github.com/ccinv/ccinv/pkg/metrics"
	"github.com/ccinv/ccinv/pkg/mutate"
	"github.com/ccinv/ccinv/pkg/observe"
	"github.com/ccinv/ccinv/pkg/outcome"
	"github.com/ccinv/ccinv/pkg/plan"
	"github.com/ccinv/ccinv/pkg/util"
)

// Locker serializes invocations over overlapping device sets.
type Locker interface {
	Acquire(ctx context.Context, names []string) (func(), error)
}

// Reconciler runs documents against the controller.
type Reconciler struct {
	observer *observe.Observer
	mutator  *mutate.Mutator
	locker   Locker

	// DryRun plans every entry without mutating anything.
	DryRun bool
}

// Report is the result of one invocation.
type Report struct {
	Intent intent.Intent
	Log    *outcome.Log
	// Plans holds the initial plan of each entry in document order.
	Plans []*plan.Plan
	// Targets are the resolved management IPs over all entries.
	Targets []string
	// Verified is set when every entry was re-observed after the run.
	Verified bool
	Duration time.Duration

	// issued is set once a mutation has been handed to the controller.
	issued bool
}

// Result is the invocation-level record.
func (r *Report) Result() outcome.Result {
	return r.Log.Result()
}

// New creates a reconciler that does not lock.
func New(observer *observe.Observer, mutator *mutate.Mutator) *Reconciler {
	return &Reconciler{observer: observer, mutator: mutator, locker: lock.Noop{}}
}

// SetLocker installs the lock used to claim the document's devices.
func (r *Reconciler) SetLocker(l Locker) {
	r.locker = l
}

// LockKeys returns every device identifier the document names.
func LockKeys(doc *intent.Document) []string {
	var keys []string
	for i := range doc.Config {
		d := &doc.Config[i]
		keys = append(keys, d.IPAddressList...)
		keys = append(keys, d.HostnameList...)
		keys = append(keys, d.SerialNumberList...)
		keys = append(keys, d.MACAddressList...)
		if d.MgmtIPUpdate != nil {
			keys = append(keys, d.MgmtIPUpdate.ExistingIP, d.MgmtIPUpdate.NewIP)
		}
		for _, p := range d.Provision {
			keys = append(keys, p.DeviceIP)
		}
		for _, m := range d.Maintenance {
			keys = append(keys, m.DeviceIPs...)
		}
	}
	var out []string
	for _, k := range util.Dedup(keys) {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Run reconciles every entry of doc. Per-target failures land in the
// report's log. An error with a nil report means nothing was mutated (lock
// contention or an unreadable inventory before the first mutation). Once
// a mutation has been issued, a later systemic failure stops the run but
// the report of what was done is returned alongside the error.
func (r *Reconciler) Run(ctx context.Context, doc *intent.Document) (*Report, error) {
	start := time.Now()
	rep := &Report{Intent: doc.State, Log: outcome.NewLog()}

	if !r.DryRun {
		release, err := r.locker.Acquire(ctx, LockKeys(doc))
		if err != nil {
			return nil, err
		}
		defer release()
	}

	for i := range doc.Config {
		d := &doc.Config[i]
		log := util.WithField("entry", i)
		p, targets, err := r.entry(ctx, doc, d, rep)
		if err != nil {
			err = fmt.Errorf("entry %d: %w", i, err)
			if !rep.issued {
				return nil, err
			}
			log.Warnf("Stopping after partial run: %v", err)
			rep.Log.Warn("", "", fmt.Sprintf("entries from %d on not reconciled: %v", i, err))
			return r.finish(rep, start), err
		}
		log.Debugf("Entry planned %d change(s) over %d target(s)", len(p.Changes), len(targets))
		rep.Plans = append(rep.Plans, p)
		rep.Targets = append(rep.Targets, targets...)
	}
	util.Infof("Reconciled %d entries over %d target(s), dry-run=%v", len(doc.Config), len(util.Dedup(rep.Targets)), r.DryRun)

	if doc.ConfigVerify && !r.DryRun {
		rep.Verified = r.verify(ctx, doc, rep.Log)
	}
	return r.finish(rep, start), nil
}

func (r *Reconciler) finish(rep *Report, start time.Time) *Report {
	rep.Targets = util.Dedup(rep.Targets)
	rep.Duration = time.Since(start)
	r.recordMetrics(rep)
	return rep
}

// entry reconciles one configuration entry and returns its initial plan.
func (r *Reconciler) entry(ctx context.Context, doc *intent.Document, d *intent.Declared, rep *Report) (*plan.Plan, []string, error) {
	state, err := r.observer.Snapshot(ctx, doc.State, d)
	if err != nil {
		return nil, nil, fmt.Errorf("observing inventory: %w", err)
	}
	in := plan.Input{Intent: doc.State, Declared: d, State: state, DeferWireless: doc.DeferWireless()}
	p := plan.Build(in)

	log := rep.Log
	if r.DryRun {
		p.Record(log, outcome.Order...)
		return p, state.Targets, nil
	}

	if len(p.Changes) > 0 {
		rep.issued = true
	}
	run := &mutate.Run{Declared: d, State: state, Log: log}
	if doc.State == intent.Deleted {
		r.applyKinds(ctx, p, run, outcome.DeleteOrder)
		return p, state.Targets, nil
	}

	p.Record(log, outcome.KindAdd)
	r.mutator.Apply(ctx, outcome.KindAdd, p.For(outcome.KindAdd), run)

	// Later kinds need the added devices' ids, so plan them again against
	// the refreshed inventory. A device whose add failed is absent there
	// and fails the kinds that need it. Without a refreshed inventory the
	// added devices fail the same way.
	current := p
	if len(p.For(outcome.KindAdd)) > 0 {
		in.AddDone = true
		refreshed, err := r.observer.Snapshot(ctx, doc.State, d)
		if err != nil {
			util.Warnf("Re-reading inventory after add failed: %v", err)
			in.RefreshErr = err
		} else {
			in.State = refreshed
			run.State = refreshed
		}
		current = plan.Build(in)
	}
	r.applyKinds(ctx, current, run, outcome.MergeOrder[1:])
	return p, run.State.Targets, nil
}

func (r *Reconciler) applyKinds(ctx context.Context, p *plan.Plan, run *mutate.Run, kinds []outcome.Kind) {
	for _, note := range run.State.Notes {
		run.Log.Warn("", "", note)
	}
	for _, kind := range kinds {
		p.Record(run.Log, kind)
		r.mutator.Apply(ctx, kind, p.For(kind), run)
	}
}

func (r *Reconciler) recordMetrics(rep *Report) {
	for _, e := range rep.Log.Entries() {
		metrics.RecordOutcome(string(e.Kind), string(e.Verdict))
	}
	res := rep.Log.Result()
	metrics.RecordInvocation(string(rep.Intent), res.Changed, res.Failed)
}
