package reconcile

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ccinv/ccinv/pkg/catalyst"
	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/mutate"
	"github.com/ccinv/ccinv/pkg/observe"
	"github.com/ccinv/ccinv/pkg/outcome"
	"github.com/ccinv/ccinv/pkg/plan"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/remote/remotetest"
	"github.com/ccinv/ccinv/pkg/task"
	"github.com/ccinv/ccinv/pkg/util"
)

func newTestReconciler(fake *remotetest.Fake, v catalyst.Version) *Reconciler {
	p := task.NewPoller(fake)
	p.SetClock(task.NewManualClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	o := observe.New(fake, p, v)
	return New(o, mutate.New(fake, p, o))
}

func v3Credentials() intent.Credentials {
	return intent.Credentials{
		CLITransport: "ssh", Username: "admin", Password: "secret", EnablePassword: "enable",
		NetconfPort: "830", SNMPVersion: intent.SNMPv3, SNMPMode: intent.ModeAuthPriv,
		SNMPUsername: "snmpuser", SNMPAuthProtocol: "SHA", SNMPAuthPassphrase: "authpass",
		SNMPPrivProtocol: "AES256", SNMPPrivPassphrase: "privpass", SNMPRetry: 3, SNMPTimeout: 5,
	}
}

func mergeDoc(entries ...intent.Declared) *intent.Document {
	return &intent.Document{State: intent.Merged, Config: entries}
}

func TestScenarioAddTwoDevices(t *testing.T) {
	c := newController()
	r := newTestReconciler(c.fake, catalyst.Current)
	doc := mergeDoc(intent.Declared{
		IPAddressList: []string{"10.0.0.1", "10.0.0.2"},
		Type:          intent.NetworkDevice,
		Credentials:   v3Credentials(),
	})

	rep, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := c.fake.Count(remote.AddDevice); n != 1 {
		t.Errorf("add calls = %d, want 1", n)
	}
	if got := rep.Log.Targets(outcome.KindAdd, outcome.Applied); !reflect.DeepEqual(got, []string{"10.0.0.1", "10.0.0.2"}) {
		t.Errorf("applied = %v", got)
	}
	res := rep.Result()
	if !res.Changed || res.Failed {
		t.Errorf("Result() = changed %v failed %v, want changed only", res.Changed, res.Failed)
	}
	if !strings.Contains(res.Msg, "'10.0.0.1, 10.0.0.2' added") {
		t.Errorf("Msg = %q", res.Msg)
	}
}

func TestAddThenRoleUsesRefreshedInventory(t *testing.T) {
	c := newController()
	r := newTestReconciler(c.fake, catalyst.Current)
	doc := mergeDoc(intent.Declared{
		IPAddressList: []string{"10.0.0.1"},
		Type:          intent.NetworkDevice,
		Credentials:   v3Credentials(),
		Role:          "CORE",
	})

	rep, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	calls := c.fake.CallsTo(remote.UpdateDeviceRole)
	if len(calls) != 1 {
		t.Fatalf("role calls = %d, want 1", len(calls))
	}
	if id := calls[0].Params[remote.PayloadKey].(map[string]any)["id"]; id != "id-10.0.0.1" {
		t.Errorf("role update id = %v, want id of the added device", id)
	}
	if v, _ := rep.Log.Verdict(outcome.KindRole, "10.0.0.1"); v != outcome.Applied {
		t.Errorf("role verdict = %s", v)
	}
	ops := c.fake.Mutations()
	if len(ops) != 2 || ops[0] != remote.AddDevice || ops[1] != remote.UpdateDeviceRole {
		t.Errorf("mutation order = %v", ops)
	}
}

func TestFailedAddFailsDependentKinds(t *testing.T) {
	c := newController()
	c.fake.SetTask("t-add", map[string]any{"isError": true, "failureReason": "unreachable"})
	c.fake.On(remote.AddDevice, func(remote.Params) (*remote.Response, error) {
		return remotetest.TaskResponse("t-add"), nil
	})
	r := newTestReconciler(c.fake, catalyst.Current)
	doc := mergeDoc(intent.Declared{
		IPAddressList: []string{"10.0.0.1"},
		Type:          intent.NetworkDevice,
		Credentials:   v3Credentials(),
		Role:          "CORE",
	})

	rep, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if v, _ := rep.Log.Verdict(outcome.KindAdd, "10.0.0.1"); v != outcome.Failed {
		t.Errorf("add verdict = %s", v)
	}
	if v, _ := rep.Log.Verdict(outcome.KindRole, "10.0.0.1"); v != outcome.Failed {
		t.Errorf("role verdict = %s, want failed precondition", v)
	}
	if c.fake.Count(remote.UpdateDeviceRole) != 0 {
		t.Error("role update issued for a device that was never added")
	}
	if !rep.Result().Failed {
		t.Error("Failed = false")
	}
}

func TestScenarioRoleIdempotence(t *testing.T) {
	c := newController(device("d1", "10.0.0.1", "ACCESS"))
	r := newTestReconciler(c.fake, catalyst.Current)
	doc := mergeDoc(intent.Declared{IPAddressList: []string{"10.0.0.1"}, Role: "ACCESS"})

	rep, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if m := c.fake.Mutations(); len(m) != 0 {
		t.Errorf("mutations = %v, want none", m)
	}
	if got := rep.Log.Targets(outcome.KindRole, outcome.Noop); !reflect.DeepEqual(got, []string{"10.0.0.1"}) {
		t.Errorf("noop = %v", got)
	}
	if rep.Result().Changed {
		t.Error("Changed = true")
	}
}

func TestSecondRunIsNoop(t *testing.T) {
	c := newController()
	r := newTestReconciler(c.fake, catalyst.Current)
	decl := intent.Declared{
		IPAddressList: []string{"10.0.0.1", "10.0.0.2"},
		Type:          intent.NetworkDevice,
		Credentials:   v3Credentials(),
		Role:          "DISTRIBUTION",
	}

	if _, err := r.Run(context.Background(), mergeDoc(decl)); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	before := len(c.fake.Mutations())

	rep, err := r.Run(context.Background(), mergeDoc(decl))
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if after := len(c.fake.Mutations()); after != before {
		t.Errorf("second run issued %d mutation(s)", after-before)
	}
	if rep.Result().Changed {
		t.Error("second run Changed = true")
	}
	for _, e := range rep.Log.Entries() {
		if e.Verdict != outcome.Noop {
			t.Errorf("%s %s = %s, want noop", e.Kind, e.Target, e.Verdict)
		}
	}
}

func TestScenarioDeleteAbsentDevice(t *testing.T) {
	c := newController(device("d1", "10.0.0.1", "ACCESS"))
	r := newTestReconciler(c.fake, catalyst.Current)
	doc := &intent.Document{
		State:  intent.Deleted,
		Config: []intent.Declared{{IPAddressList: []string{"10.0.0.99"}}},
	}

	rep, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if m := c.fake.Mutations(); len(m) != 0 {
		t.Errorf("mutations = %v, want none", m)
	}
	if got := rep.Result().Response["no_device_to_delete"]; !reflect.DeepEqual(got, []string{"10.0.0.99"}) {
		t.Errorf("no_device_to_delete = %v", got)
	}
	if rep.Result().Changed {
		t.Error("Changed = true")
	}
}

func TestDeletePresentDevice(t *testing.T) {
	c := newController(device("d1", "10.0.0.1", "ACCESS"))
	c.fake.RespondTask(remote.DeleteDeviceWithCleanup, "t-del").
		SetTask("t-del", map[string]any{"progress": "success", "endTime": 1})
	r := newTestReconciler(c.fake, catalyst.Current)
	doc := &intent.Document{
		State:  intent.Deleted,
		Config: []intent.Declared{{IPAddressList: []string{"10.0.0.1"}, CleanConfig: true}},
	}

	rep, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if c.fake.Count(remote.DeleteDeviceWithCleanup) != 1 {
		t.Errorf("mutations = %v", c.fake.Mutations())
	}
	if v, _ := rep.Log.Verdict(outcome.KindDelete, "10.0.0.1"); v != outcome.Applied {
		t.Errorf("delete verdict = %s", v)
	}
}

func TestDryRunIssuesNoMutations(t *testing.T) {
	c := newController(device("d1", "10.0.0.1", "ACCESS"))
	r := newTestReconciler(c.fake, catalyst.Current)
	r.DryRun = true
	r.SetLocker(lockerFunc(func([]string) error { return errors.New("dry run must not lock") }))
	doc := mergeDoc(intent.Declared{IPAddressList: []string{"10.0.0.1"}, Role: "CORE"})

	rep, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if m := c.fake.Mutations(); len(m) != 0 {
		t.Errorf("mutations = %v", m)
	}
	if len(rep.Plans) != 1 || !rep.Plans[0].Has(outcome.KindRole, "10.0.0.1") {
		t.Errorf("plan = %v", rep.Plans)
	}
}

func TestVerifyReportsUnconvergedRole(t *testing.T) {
	tests := []struct {
		name      string
		applyRole bool
		wantFail  bool
	}{
		{"converged", true, false},
		{"controller ignored update", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(device("d1", "10.0.0.1", "ACCESS"))
			c.applyRole = tt.applyRole
			r := newTestReconciler(c.fake, catalyst.Current)
			doc := mergeDoc(intent.Declared{IPAddressList: []string{"10.0.0.1"}, Role: "CORE"})
			doc.ConfigVerify = true

			rep, err := r.Run(context.Background(), doc)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if !rep.Verified {
				t.Error("Verified = false")
			}
			failures := rep.Log.VerifyFailures()
			if got := len(failures) > 0; got != tt.wantFail {
				t.Errorf("verification failures = %v, want failing %v", failures, tt.wantFail)
			}
			// Verification is advisory.
			if res := rep.Result(); !res.Changed || res.Failed {
				t.Errorf("Result() = changed %v failed %v", res.Changed, res.Failed)
			}
		})
	}
}

func TestCheckSkipsImperativeAndUnapplied(t *testing.T) {
	log := outcome.NewLog()
	log.Applied(outcome.KindResync, "10.0.0.1", "")
	log.Applied(outcome.KindRole, "10.0.0.1", "")
	log.Noop(outcome.KindRole, "10.0.0.2", "")

	p := &plan.Plan{Changes: []plan.Change{
		{Kind: outcome.KindResync, Target: "10.0.0.1"},
		{Kind: outcome.KindRole, Target: "10.0.0.1", NewValue: map[string]string{"role": "CORE"}},
		{Kind: outcome.KindRole, Target: "10.0.0.2"},
		{Kind: outcome.KindInterface, Target: "10.0.0.1:Gi1/0/1", Imperative: true},
	}}
	if n := Check(p, log); n != 1 {
		t.Errorf("Check() = %d, want 1", n)
	}
	if f := log.VerifyFailures(); len(f) != 1 || f[0].Kind != outcome.KindRole || f[0].Target != "10.0.0.1" {
		t.Errorf("VerifyFailures() = %v", f)
	}
}

func TestInventoryFailureAborts(t *testing.T) {
	fake := remotetest.New().Fail(remote.GetDeviceList, 503, "service unavailable")
	r := newTestReconciler(fake, catalyst.Current)
	_, err := r.Run(context.Background(), mergeDoc(intent.Declared{IPAddressList: []string{"10.0.0.1"}, Role: "CORE"}))
	if err == nil {
		t.Fatal("Run() should fail when the inventory cannot be read")
	}
}

// lockerFunc adapts a function to Locker and records the keys it saw.
type lockerFunc func(keys []string) error

func (f lockerFunc) Acquire(_ context.Context, keys []string) (func(), error) {
	if err := f(keys); err != nil {
		return nil, err
	}
	return func() {}, nil
}

func TestLockContentionAbortsBeforeObserving(t *testing.T) {
	c := newController(device("d1", "10.0.0.1", "ACCESS"))
	r := newTestReconciler(c.fake, catalyst.Current)
	r.SetLocker(lockerFunc(func(keys []string) error {
		return fmt.Errorf("10.0.0.1 held by other: %w", util.ErrLocked)
	}))

	_, err := r.Run(context.Background(), mergeDoc(intent.Declared{IPAddressList: []string{"10.0.0.1"}, Role: "CORE"}))
	if !errors.Is(err, util.ErrLocked) {
		t.Fatalf("Run() error = %v, want ErrLocked", err)
	}
	if n := len(c.fake.Calls()); n != 0 {
		t.Errorf("calls = %d, want none before the lock", n)
	}
}

func TestLockKeys(t *testing.T) {
	doc := mergeDoc(
		intent.Declared{
			IPAddressList: []string{"10.0.0.1"},
			HostnameList:  []string{"sw1"},
			MgmtIPUpdate:  &intent.MgmtIPUpdate{ExistingIP: "10.0.0.1", NewIP: "10.0.0.9"},
		},
		intent.Declared{
			Provision:   []intent.ProvisionRequest{{DeviceIP: "10.0.0.2"}},
			Maintenance: []intent.MaintenanceRequest{{DeviceIPs: []string{"10.0.0.3", "10.0.0.2"}}},
		},
	)
	got := LockKeys(doc)
	sort.Strings(got)
	want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.9", "sw1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LockKeys() = %v, want %v", got, want)
	}
}
