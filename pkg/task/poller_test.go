package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/remote/remotetest"
	"github.com/ccinv/ccinv/pkg/util"
)

func newTestPoller(fake *remotetest.Fake) (*Poller, *ManualClock) {
	p := NewPoller(fake)
	clock := NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	p.SetClock(clock)
	return p, clock
}

func TestWaitSucceedsOnPredicate(t *testing.T) {
	fake := remotetest.New().SetTask("t1",
		map[string]any{"progress": "In progress"},
		map[string]any{"progress": "In progress"},
		map[string]any{"progress": "Device role updated successfully"},
	)
	p, _ := newTestPoller(fake)

	d, err := p.Wait(context.Background(), "t1", ProgressContains("successfully"))
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if d.Progress != "Device role updated successfully" {
		t.Errorf("Progress = %q", d.Progress)
	}
	if n := fake.Count(remote.GetTaskByID); n != 3 {
		t.Errorf("polls = %d, want 3", n)
	}
}

func TestWaitReturnsTaskError(t *testing.T) {
	fake := remotetest.New().SetTask("t2",
		map[string]any{"progress": "working"},
		map[string]any{"isError": true, "failureReason": "NCND00050: device unreachable"},
	)
	p, _ := newTestPoller(fake)

	_, err := p.Wait(context.Background(), "t2", EndTimeSet())
	var te *util.TaskError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TaskError", err)
	}
	if te.Reason != "NCND00050: device unreachable" {
		t.Errorf("Reason = %q", te.Reason)
	}
	if !errors.Is(err, util.ErrTaskFailed) {
		t.Error("errors.Is(err, ErrTaskFailed) = false")
	}
}

func TestWaitErrorBeatsPredicate(t *testing.T) {
	// An error task that also matches the marker is still a failure.
	fake := remotetest.New().SetTask("t3",
		map[string]any{"isError": true, "progress": "provisioned with errors", "endTime": 1},
	)
	p, _ := newTestPoller(fake)

	if _, err := p.Wait(context.Background(), "t3", Any(EndTimeSet(), ProgressContains("provisioned"))); !errors.Is(err, util.ErrTaskFailed) {
		t.Errorf("error = %v, want task failure", err)
	}
}

func TestWaitTimesOut(t *testing.T) {
	fake := remotetest.New().SetTask("t4", map[string]any{"progress": "still syncing"})
	p, clock := newTestPoller(fake)
	p.Interval = 5 * time.Second
	start := clock.Now()

	_, err := p.WaitFor(context.Background(), "t4", ProgressContains("Synced"), 30*time.Second)
	var to *util.TimeoutError
	if !errors.As(err, &to) {
		t.Fatalf("error = %v, want *TimeoutError", err)
	}
	if to.After != 30*time.Second {
		t.Errorf("After = %s, want 30s", to.After)
	}
	if elapsed := clock.Now().Sub(start); elapsed != 30*time.Second {
		t.Errorf("elapsed = %s, want 30s", elapsed)
	}
	// Polls at 0,5,...,30s.
	if n := fake.Count(remote.GetTaskByID); n != 7 {
		t.Errorf("polls = %d, want 7", n)
	}
}

func TestWaitPropagatesRemoteError(t *testing.T) {
	fake := remotetest.New().Fail(remote.GetTaskByID, 500, "internal error")
	p, _ := newTestPoller(fake)

	if _, err := p.Wait(context.Background(), "t5", EndTimeSet()); !errors.Is(err, util.ErrRemote) {
		t.Errorf("error = %v, want remote error", err)
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	fake := remotetest.New().SetTask("t6", map[string]any{"progress": "pending"})
	p, _ := newTestPoller(fake)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Wait(ctx, "t6", EndTimeSet()); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestWaitRequiresTaskID(t *testing.T) {
	p, _ := newTestPoller(remotetest.New())
	if _, err := p.Wait(context.Background(), "", EndTimeSet()); err == nil {
		t.Error("Wait(\"\") should fail")
	}
}

func TestSubmit(t *testing.T) {
	fake := remotetest.New().
		QueueTask(remote.UpdateDeviceRole, "t7").
		SetTask("t7", map[string]any{"progress": "Role updated successfully"})
	p, _ := newTestPoller(fake)

	_, err := p.Submit(context.Background(), remote.UpdateDeviceRole, remote.Params{
		remote.PayloadKey: map[string]string{"id": "d1", "role": "ACCESS"},
	}, ProgressContains("successfully"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := fake.Ops(); len(got) != 1 || got[0] != remote.UpdateDeviceRole {
		t.Errorf("ops = %v", got)
	}
}

func TestPredicates(t *testing.T) {
	end := int64(1700000000000)
	tests := []struct {
		name string
		pred Predicate
		d    Details
		want bool
	}{
		{"progress match", ProgressContains("Synced"), Details{Progress: "Device synced"}, true},
		{"progress miss", ProgressContains("Synced"), Details{Progress: "syncing"}, false},
		{"endtime set", EndTimeSet(), Details{EndTime: &end}, true},
		{"endtime unset", EndTimeSet(), Details{}, false},
		{"status url", AdditionalStatusURLPresent(), Details{AdditionalStatusURL: "/file/abc"}, true},
		{"task url", TaskURLPresent(), Details{Progress: "/api/v1/task/abc"}, true},
		{"task url absent", TaskURLPresent(), Details{Progress: "done"}, false},
		{"generic success", Generic(), Details{Progress: "Success"}, true},
		{"generic pending", Generic(), Details{Progress: "pending"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(&tt.d); got != tt.want {
				t.Errorf("predicate(%+v) = %v, want %v", tt.d, got, tt.want)
			}
		})
	}
}
