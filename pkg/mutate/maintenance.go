package mutate

import (
	"context"
	"fmt"

	"github.com/ccinv/ccinv/pkg/catalyst"
	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/outcome"
	"github.com/ccinv/ccinv/pkg/plan"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/task"
	"github.com/ccinv/ccinv/pkg/util"
)

// schedule builds the wire record of a declared window.
func schedule(id string, spec *intent.MaintenanceRequest, w intent.Window, deviceIDs []string) *catalyst.MaintenanceSchedule {
	s := &catalyst.MaintenanceSchedule{
		ID:          id,
		Description: spec.Description,
		Window: catalyst.ScheduleWindow{
			StartTime: w.Start,
			EndTime:   w.End,
		},
		NetworkDeviceIDs: deviceIDs,
	}
	if w.Recurring() {
		s.Window.Recurrence = &catalyst.Recurrence{Interval: w.Interval, RecurrenceEndTime: w.RecurrenceEnd}
	}
	return s
}

func (m *Mutator) createSchedule(ctx context.Context, s *catalyst.MaintenanceSchedule) error {
	return m.submit(ctx, remote.CreateMaintenanceSchedule, remote.Params{remote.PayloadKey: s}, task.Generic())
}

func (m *Mutator) deleteSchedule(ctx context.Context, id string) error {
	return m.submit(ctx, remote.DeleteMaintenanceSchedule, remote.Params{"id": id}, task.Generic())
}

func (m *Mutator) putSchedule(ctx context.Context, s *catalyst.MaintenanceSchedule) error {
	return m.submit(ctx, remote.UpdateMaintenanceSchedule, remote.Params{"id": s.ID, remote.PayloadKey: s}, task.Generic())
}

// createSchedules creates one schedule per declared request covering all of
// its unscheduled devices.
func (m *Mutator) createSchedules(ctx context.Context, changes []plan.Change, r *Run) {
	groups := make(map[int][]plan.Change)
	var order []int
	for _, c := range changes {
		i := c.Maintenance.Request
		if _, ok := groups[i]; !ok {
			order = append(order, i)
		}
		groups[i] = append(groups[i], c)
	}
	for _, i := range order {
		group := groups[i]
		mc := group[0].Maintenance
		err := m.createSchedule(ctx, schedule("", mc.Spec, mc.Window, deviceIDs(group)))
		recordAll(r.Log, outcome.KindMaintenance, group, err)
	}
}

// updateSchedules updates each affected schedule once. A change of
// recurrence type replaces the schedule; an active window is ended first.
func (m *Mutator) updateSchedules(ctx context.Context, changes []plan.Change, r *Run) {
	groups := make(map[string][]plan.Change)
	var order []string
	for _, c := range changes {
		id := c.Maintenance.Existing.ID
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], c)
	}
	for _, id := range order {
		group := groups[id]
		err := m.updateSchedule(ctx, group[0].Maintenance)
		recordAll(r.Log, outcome.KindMaintenanceUpdate, group, err)
	}
}

func (m *Mutator) updateSchedule(ctx context.Context, mc *plan.MaintenanceChange) error {
	existing := mc.Existing
	log := util.WithField("schedule", existing.ID)
	want := schedule(existing.ID, mc.Spec, mc.Window, existing.NetworkDeviceIDs)

	recreate := mc.Recreate
	if !recreate && existing.Active() {
		exit := *existing
		exit.Window.EndTime = catalyst.ExitWindowEndTime
		exit.Window.Status = ""
		if err := m.putSchedule(ctx, &exit); err != nil {
			log.Warnf("Exiting active window failed, replacing schedule: %v", err)
			recreate = true
		}
	}
	if !recreate {
		return m.putSchedule(ctx, want)
	}

	if err := m.deleteSchedule(ctx, existing.ID); err != nil {
		return fmt.Errorf("deleting schedule %s: %w", existing.ID, err)
	}
	want.ID = ""
	if err := m.createSchedule(ctx, want); err != nil {
		return fmt.Errorf("recreating schedule: %w", err)
	}
	return nil
}

// deleteSchedules removes every covering schedule once. A target fails
// when any of its schedules could not be removed.
func (m *Mutator) deleteSchedules(ctx context.Context, changes []plan.Change, r *Run) {
	results := make(map[string]error)
	failed := make(map[string]error)
	for _, c := range changes {
		id := c.Schedule.ID
		err, done := results[id]
		if !done {
			err = m.deleteSchedule(ctx, id)
			results[id] = err
		}
		if err != nil {
			failed[c.Target] = err
		}
	}
	seen := make(map[string]bool)
	for _, c := range changes {
		if seen[c.Target] {
			continue
		}
		seen[c.Target] = true
		record(r.Log, outcome.KindMaintenanceDelete, c.Target, failed[c.Target])
	}
}
