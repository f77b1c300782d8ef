package intent

import (
	"fmt"

	"github.com/ccinv/ccinv/pkg/util"
)

// Window is a maintenance request converted to epoch milliseconds.
type Window struct {
	Start int64
	End   int64
	// RecurrenceEnd and Interval (days) are zero for a one-off window.
	RecurrenceEnd int64
	Interval      int
}

// Recurring reports whether the window repeats.
func (w Window) Recurring() bool {
	return w.Interval > 0
}

// Window converts the declared times through the request's time zone.
func (m *MaintenanceRequest) Window() (Window, error) {
	var w Window
	var err error
	if w.Start, err = util.ToEpochMillis(m.StartTime, m.TimeZone); err != nil {
		return w, fmt.Errorf("start_time: %w", err)
	}
	if w.End, err = util.ToEpochMillis(m.EndTime, m.TimeZone); err != nil {
		return w, fmt.Errorf("end_time: %w", err)
	}
	if m.Recurring() {
		if w.RecurrenceEnd, err = util.ToEpochMillis(m.RecurrenceEndTime, m.TimeZone); err != nil {
			return w, fmt.Errorf("recurrence_end_time: %w", err)
		}
		w.Interval = m.RecurrenceInterval
	}
	return w, nil
}

// checkWindow enforces the window invariants relative to nowMs.
func checkWindow(w Window, nowMs int64) []string {
	var errs []string
	if w.Start <= nowMs {
		errs = append(errs, "start_time must be in the future")
	}
	if w.End <= w.Start {
		errs = append(errs, "end_time must be after start_time")
	}
	if !w.Recurring() {
		return errs
	}
	if w.Interval < 1 || w.Interval > 365 {
		errs = append(errs, fmt.Sprintf("recurrence_interval %d must be between 1 and 365 days", w.Interval))
	}
	if w.RecurrenceEnd <= w.End {
		errs = append(errs, "recurrence_end_time must be after end_time")
	}
	if w.RecurrenceEnd <= nowMs {
		errs = append(errs, "recurrence_end_time must be in the future")
	}
	if int64(w.Interval)*util.DayMillis <= w.End-w.Start {
		errs = append(errs, fmt.Sprintf("recurrence_interval of %d day(s) must exceed the window duration", w.Interval))
	}
	return errs
}
