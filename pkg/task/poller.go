// Package task polls asynchronous controller tasks to a terminal state.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ccinv/ccinv/pkg/metrics"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/util"
)

// Default polling bounds.
const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 120 * time.Second
)

// Details is the task record returned by task.get_task_by_id.
type Details struct {
	ID                  string `json:"id"`
	Progress            string `json:"progress"`
	IsError             bool   `json:"isError"`
	FailureReason       string `json:"failureReason"`
	ErrorCode           string `json:"errorCode"`
	EndTime             *int64 `json:"endTime"`
	AdditionalStatusURL string `json:"additionalStatusURL"`
	Data                string `json:"data"`
}

// Reason returns the most specific failure text the task carries.
func (d *Details) Reason() string {
	if d.FailureReason != "" {
		return d.FailureReason
	}
	if d.ErrorCode != "" {
		return d.ErrorCode
	}
	return d.Progress
}

// Predicate decides whether a non-error task has succeeded.
type Predicate func(d *Details) bool

// ProgressContains succeeds when progress contains any of the markers,
// compared case-insensitively.
func ProgressContains(markers ...string) Predicate {
	return func(d *Details) bool {
		p := strings.ToLower(d.Progress)
		for _, m := range markers {
			if strings.Contains(p, strings.ToLower(m)) {
				return true
			}
		}
		return false
	}
}

// EndTimeSet succeeds once the task reports an end time.
func EndTimeSet() Predicate {
	return func(d *Details) bool { return d.EndTime != nil }
}

// AdditionalStatusURLPresent succeeds once the task links to its result.
func AdditionalStatusURLPresent() Predicate {
	return func(d *Details) bool { return d.AdditionalStatusURL != "" }
}

// TaskURLPresent succeeds once progress carries a /task/ reference.
func TaskURLPresent() Predicate {
	return func(d *Details) bool { return strings.Contains(d.Progress, "/task/") }
}

// Any succeeds when one of preds does.
func Any(preds ...Predicate) Predicate {
	return func(d *Details) bool {
		for _, p := range preds {
			if p(d) {
				return true
			}
		}
		return false
	}
}

// Generic is the predicate for operations without a specific marker.
func Generic() Predicate {
	return Any(EndTimeSet(), ProgressContains("success"))
}

// Clock abstracts time for the poll loop.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Poller waits on task handles.
type Poller struct {
	client   remote.Client
	clock    Clock
	Interval time.Duration
	Timeout  time.Duration
}

// NewPoller creates a poller with default bounds.
func NewPoller(client remote.Client) *Poller {
	return &Poller{
		client:   client,
		clock:    realClock{},
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
	}
}

// SetClock replaces the clock, for tests.
func (p *Poller) SetClock(c Clock) {
	p.clock = c
}

// Clock returns the poller's clock so callers can share its notion of time.
func (p *Poller) Clock() Clock {
	return p.clock
}

// Wait polls taskID with the default timeout.
func (p *Poller) Wait(ctx context.Context, taskID string, done Predicate) (*Details, error) {
	return p.WaitFor(ctx, taskID, done, p.Timeout)
}

// WaitFor polls taskID until it errors, satisfies done, or timeout elapses.
// It returns *util.TaskError for a failed task and *util.TimeoutError when
// the bound is exceeded.
func (p *Poller) WaitFor(ctx context.Context, taskID string, done Predicate, timeout time.Duration) (*Details, error) {
	if taskID == "" {
		return nil, errors.New("no task id to poll")
	}
	if timeout <= 0 {
		timeout = p.Timeout
	}
	log := util.WithTask(taskID)
	start := p.clock.Now()

	for {
		d, err := p.fetch(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if d.IsError {
			metrics.ObserveTaskWait("failed", p.clock.Now().Sub(start))
			log.Debugf("task failed: %s", d.Reason())
			return d, &util.TaskError{TaskID: taskID, Reason: d.Reason()}
		}
		if done(d) {
			metrics.ObserveTaskWait("success", p.clock.Now().Sub(start))
			log.Debugf("task complete: %s", d.Progress)
			return d, nil
		}
		if p.clock.Now().Sub(start) >= timeout {
			metrics.ObserveTaskWait("timeout", p.clock.Now().Sub(start))
			log.Debugf("task still running after %s: %s", timeout, d.Progress)
			return d, &util.TimeoutError{TaskID: taskID, After: timeout}
		}
		if err := p.clock.Sleep(ctx, p.Interval); err != nil {
			return d, err
		}
	}
}

func (p *Poller) fetch(ctx context.Context, taskID string) (*Details, error) {
	resp, err := p.client.Invoke(ctx, remote.GetTaskByID, remote.Params{"task_id": taskID})
	if err != nil {
		return nil, fmt.Errorf("polling task %s: %w", taskID, err)
	}
	var d Details
	if err := resp.Decode(&d); err != nil {
		return nil, fmt.Errorf("decoding task %s: %w", taskID, err)
	}
	if d.ID == "" {
		d.ID = taskID
	}
	return &d, nil
}

// Submit invokes a mutating operation and waits on the returned handle.
func (p *Poller) Submit(ctx context.Context, op remote.Op, params remote.Params, done Predicate) (*Details, error) {
	resp, err := remote.Call(ctx, p.client, op, params)
	if err != nil {
		return nil, err
	}
	h, err := resp.Handle()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p.Wait(ctx, h.TaskID, done)
}
