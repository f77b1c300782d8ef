package catalyst

// Maintenance schedule states reported by the controller.
const (
	ScheduleUpcoming   = "UPCOMING"
	ScheduleInProgress = "IN_PROGRESS"
	ScheduleCompleted  = "COMPLETED"
	ScheduleFailed     = "FAILED"
)

// ExitWindowEndTime is the end-time sentinel that takes an active window
// out of maintenance immediately.
const ExitWindowEndTime int64 = -1

// Recurrence repeats a window every Interval days until EndTime.
type Recurrence struct {
	Interval          int   `json:"interval"`
	RecurrenceEndTime int64 `json:"recurrenceEndTime,omitempty"`
}

// ScheduleWindow is the time window of a maintenance schedule.
type ScheduleWindow struct {
	StartID    string      `json:"startId,omitempty"`
	EndID      string      `json:"endId,omitempty"`
	StartTime  int64       `json:"startTime"`
	EndTime    int64       `json:"endTime"`
	Recurrence *Recurrence `json:"recurrence,omitempty"`
	Status     string      `json:"status,omitempty"`
}

// MaintenanceSchedule is one schedule record.
type MaintenanceSchedule struct {
	ID               string         `json:"id,omitempty"`
	Description      string         `json:"description"`
	Window           ScheduleWindow `json:"maintenanceSchedule"`
	NetworkDeviceIDs []string       `json:"networkDeviceIds"`
}

// Active reports whether the window is currently in effect.
func (m *MaintenanceSchedule) Active() bool {
	return m.Window.Status == ScheduleInProgress
}

// Finished reports whether the window has run to completion. A finished
// schedule is replaced rather than updated.
func (m *MaintenanceSchedule) Finished() bool {
	return m.Window.Status == ScheduleCompleted
}

// Covers reports whether deviceID is part of the schedule.
func (m *MaintenanceSchedule) Covers(deviceID string) bool {
	for _, id := range m.NetworkDeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}
