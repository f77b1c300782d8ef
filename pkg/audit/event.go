// Package audit keeps a trail of reconciliation invocations.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/ccinv/ccinv/pkg/outcome"
	"github.com/ccinv/ccinv/pkg/util"
)

// Event records one invocation.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	User       string    `json:"user"`
	Controller string    `json:"controller"`
	Intent     string    `json:"intent"`
	Document   string    `json:"document,omitempty"`
	Targets    []string  `json:"targets"`
	// Counts tallies per-target verdicts.
	Counts      map[outcome.Verdict]int `json:"counts,omitempty"`
	Changed     bool                    `json:"changed"`
	Failed      bool                    `json:"failed"`
	Message     string                  `json:"msg,omitempty"`
	Error       string                  `json:"error,omitempty"`
	ExecuteMode bool                    `json:"execute_mode"` // true if -x was used
	Duration    time.Duration           `json:"duration"`
}

// Filter selects events in Query.
type Filter struct {
	Target      string
	User        string
	Intent      string
	StartTime   time.Time
	EndTime     time.Time
	ChangedOnly bool
	FailedOnly  bool
	Limit       int
	Offset      int
}

// NewEvent creates an event stamped now.
func NewEvent(user, controller, intent string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		User:       user,
		Controller: controller,
		Intent:     intent,
	}
}

// WithDocument sets the path of the input document.
func (e *Event) WithDocument(path string) *Event {
	e.Document = path
	return e
}

// WithTargets sets the resolved targets.
func (e *Event) WithTargets(targets []string) *Event {
	e.Targets = targets
	return e
}

// WithLog copies the verdict counts and result of an outcome log.
func (e *Event) WithLog(log *outcome.Log) *Event {
	res := log.Result()
	e.Counts = log.Counts()
	e.Changed = res.Changed
	e.Failed = res.Failed
	e.Message = res.Msg
	return e
}

// WithError marks the invocation as aborted.
func (e *Event) WithError(err error) *Event {
	e.Failed = true
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the invocation duration.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithExecuteMode records whether mutations were allowed.
func (e *Event) WithExecuteMode(execute bool) *Event {
	e.ExecuteMode = execute
	return e
}

func (e *Event) hasTarget(t string) bool {
	return util.Contains(e.Targets, t)
}
