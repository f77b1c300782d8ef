package observe

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ccinv/ccinv/pkg/catalyst"
	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/remote/remotetest"
	"github.com/ccinv/ccinv/pkg/task"
	"github.com/ccinv/ccinv/pkg/util"
)

func remoteErr(op remote.Op, status int, msg string) error {
	return &util.RemoteError{Family: op.Family, Operation: op.Operation, Status: status, Message: msg}
}

func newTestObserver(fake *remotetest.Fake, v catalyst.Version) *Observer {
	p := task.NewPoller(fake)
	p.SetClock(task.NewManualClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	return New(fake, p, v)
}

var testDevices = []map[string]any{
	{"id": "d1", "managementIpAddress": "10.0.0.1", "hostname": "sw1", "serialNumber": "FOC111, FOC112", "macAddress": "aa:bb:cc:00:00:01", "role": "ACCESS"},
	{"id": "d2", "managementIpAddress": "10.0.0.2", "hostname": "sw2", "serialNumber": "FOC222", "macAddress": "aa:bb:cc:00:00:02", "role": "CORE"},
	{"id": "d3", "managementIpAddress": "10.0.0.3", "hostname": "ap1", "family": "Unified AP", "macAddress": "aa:bb:cc:00:00:03"},
}

// inventoryHandler serves devices in pages, honouring limit and offset.
func inventoryHandler(devices []map[string]any) remotetest.Handler {
	return func(params remote.Params) (*remote.Response, error) {
		if ip, ok := params["management_ip_address"]; ok {
			for _, d := range devices {
				if d["managementIpAddress"] == ip {
					return remote.NewResponse(map[string]any{"response": []any{d}}), nil
				}
			}
			return remote.NewResponse(map[string]any{"response": []any{}}), nil
		}
		limit, _ := params["limit"].(int)
		start := 0
		if off, ok := params["offset"].(int); ok {
			start = off - 1
		}
		page := []any{}
		for i := start; i < len(devices) && i < start+limit; i++ {
			page = append(page, devices[i])
		}
		return remote.NewResponse(map[string]any{"response": page}), nil
	}
}

func TestInventoryPaging(t *testing.T) {
	fake := remotetest.New().On(remote.GetDeviceList, inventoryHandler(testDevices))
	o := newTestObserver(fake, catalyst.Current)
	o.PageSize = 2

	inv, err := o.Inventory(context.Background())
	if err != nil {
		t.Fatalf("Inventory() error = %v", err)
	}
	if inv.Len() != 3 {
		t.Errorf("Len() = %d, want 3", inv.Len())
	}

	calls := fake.CallsTo(remote.GetDeviceList)
	if len(calls) != 3 {
		t.Fatalf("pages fetched = %d, want 3", len(calls))
	}
	if _, ok := calls[0].Params["offset"]; ok {
		t.Error("first page should carry no offset")
	}
	if calls[1].Params["offset"] != 3 || calls[2].Params["offset"] != 5 {
		t.Errorf("offsets = %v, %v, want 3, 5", calls[1].Params["offset"], calls[2].Params["offset"])
	}
}

func TestInventoryFailure(t *testing.T) {
	fake := remotetest.New().Fail(remote.GetDeviceList, 500, "internal error")
	o := newTestObserver(fake, catalyst.Current)
	if _, err := o.Inventory(context.Background()); err == nil {
		t.Error("Inventory() should fail")
	}
}

func TestResolveTargets(t *testing.T) {
	devices := []catalyst.Device{
		{ID: "d1", ManagementIP: "10.0.0.1", Hostname: "sw1", SerialNumber: "FOC111, FOC112", MACAddress: "aa:bb:cc:00:00:01"},
		{ID: "d2", ManagementIP: "10.0.0.2", Hostname: "sw2", SerialNumber: "FOC222", MACAddress: "aa:bb:cc:00:00:02"},
	}
	inv := NewInventory(devices)

	tests := []struct {
		name string
		decl intent.Declared
		want string
	}{
		{"ip wins", intent.Declared{IPAddressList: []string{"10.0.0.9", "10.0.0.1", "10.0.0.9"}, HostnameList: []string{"sw2"}}, "10.0.0.9,10.0.0.1"},
		{"hostname", intent.Declared{HostnameList: []string{"sw2", "sw1"}}, "10.0.0.2,10.0.0.1"},
		{"unknown hostname falls to serial", intent.Declared{HostnameList: []string{"nope"}, SerialNumberList: []string{"FOC112"}}, "10.0.0.1"},
		{"mac", intent.Declared{MACAddressList: []string{"AA-BB-CC-00-00-02"}}, "10.0.0.2"},
		{"nothing", intent.Declared{HostnameList: []string{"nope"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(ResolveTargets(&tt.decl, inv), ",")
			if got != tt.want {
				t.Errorf("ResolveTargets() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectVersion(t *testing.T) {
	fake := remotetest.New().Respond(remote.GetReleaseSummary, map[string]any{"displayVersion": "2.3.7.6-70045"})
	v, err := DetectVersion(context.Background(), fake)
	if err != nil {
		t.Fatalf("DetectVersion() error = %v", err)
	}
	if v != catalyst.Pre2379 {
		t.Errorf("DetectVersion() = %v, want %v", v, catalyst.Pre2379)
	}
}

func TestDevice(t *testing.T) {
	fake := remotetest.New().On(remote.GetDeviceList, inventoryHandler(testDevices))
	o := newTestObserver(fake, catalyst.Current)

	d, err := o.Device(context.Background(), "10.0.0.2")
	if err != nil || d == nil || d.ID != "d2" {
		t.Errorf("Device(10.0.0.2) = %+v, %v", d, err)
	}
	d, err = o.Device(context.Background(), "10.9.9.9")
	if err != nil || d != nil {
		t.Errorf("Device(absent) = %+v, %v", d, err)
	}
}

func TestSiteID(t *testing.T) {
	fake := remotetest.New().Respond(remote.GetSites, []map[string]any{
		{"id": "s1", "nameHierarchy": "Global/USA/SF/BGL_18/floor_pnp"},
	})
	o := newTestObserver(fake, catalyst.Current)

	id, err := o.SiteID(context.Background(), "Global/USA/SF/BGL_18/floor_pnp")
	if err != nil || id != "s1" {
		t.Errorf("SiteID() = %q, %v", id, err)
	}
	if _, err := o.SiteID(context.Background(), "Global/Nowhere"); err == nil {
		t.Error("SiteID(unknown) should fail")
	}
}

func TestSnapshotFingerprints(t *testing.T) {
	csv := "ip_address,cli_username,cli_password,snmp_retries,snmpv3_privacy_type\n" +
		"10.0.0.1,admin,secret,3,CISCOAES192\n"
	fake := remotetest.New().
		On(remote.GetDeviceList, inventoryHandler(testDevices)).
		QueueTask(remote.ExportDeviceList, "exp-1").
		SetTask("exp-1",
			map[string]any{"progress": "exporting"},
			map[string]any{"progress": "done", "additionalStatusURL": "/api/v1/file/f-77"},
		).
		On(remote.DownloadFile, func(p remote.Params) (*remote.Response, error) {
			return remote.NewFileResponse("credentials.csv", []byte(csv)), nil
		})
	o := newTestObserver(fake, catalyst.Current)
	o.ArchivePassword = "Exp0rt!pw"

	decl := &intent.Declared{IPAddressList: []string{"10.0.0.1"}, CredentialUpdate: true}
	s, err := o.Snapshot(context.Background(), intent.Merged, decl)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	fp, ok := s.Fingerprints["10.0.0.1"]
	if !ok {
		t.Fatalf("no fingerprint; notes = %v", s.Notes)
	}
	if fp.CLIUsername != "admin" || fp.SNMPRetries != 3 || fp.SNMPv3PrivType != "AES192" {
		t.Errorf("fingerprint = %+v", fp)
	}

	export := fake.CallsTo(remote.ExportDeviceList)[0].Params[remote.PayloadKey].(map[string]any)
	if export["operationEnum"] != "CREDENTIALDETAILS" {
		t.Errorf("operationEnum = %v", export["operationEnum"])
	}
	if got := fake.CallsTo(remote.DownloadFile)[0].Params["file_id"]; got != "f-77" {
		t.Errorf("file_id = %v, want f-77", got)
	}
}

func TestSnapshotWithoutArchivePassword(t *testing.T) {
	fake := remotetest.New().On(remote.GetDeviceList, inventoryHandler(testDevices))
	o := newTestObserver(fake, catalyst.Current)

	s, err := o.Snapshot(context.Background(), intent.Merged,
		&intent.Declared{IPAddressList: []string{"10.0.0.1"}, CredentialUpdate: true})
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(s.Fingerprints) != 0 || len(s.Notes) != 1 {
		t.Errorf("fingerprints = %v, notes = %v", s.Fingerprints, s.Notes)
	}
	if fake.Count(remote.ExportDeviceList) != 0 {
		t.Error("no export should run without a password")
	}
}

func TestSnapshotInterfaces(t *testing.T) {
	fake := remotetest.New().
		On(remote.GetDeviceList, inventoryHandler(testDevices)).
		On(remote.GetInterfaceDetails, func(p remote.Params) (*remote.Response, error) {
			if p["name"] != "GigabitEthernet1/0/1" {
				return nil, remoteErr(remote.GetInterfaceDetails, 404, "interface not found")
			}
			return remote.NewResponse(map[string]any{"response": map[string]any{
				"id": "if-1", "portName": "GigabitEthernet1/0/1", "description": "uplink", "adminStatus": "UP", "vlanId": "10",
			}}), nil
		})
	o := newTestObserver(fake, catalyst.Current)

	decl := &intent.Declared{
		IPAddressList: []string{"10.0.0.1", "10.0.0.99"},
		InterfaceUpdates: []intent.InterfaceUpdate{
			{InterfaceName: "GigabitEthernet1/0/1"},
			{InterfaceName: "GigabitEthernet1/0/48"},
		},
	}
	s, err := o.Snapshot(context.Background(), intent.Merged, decl)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if i, ok := s.Interface("10.0.0.1", "GigabitEthernet1/0/1"); !ok || i.VlanID != "10" {
		t.Errorf("Interface() = %+v, %v", i, ok)
	}
	if _, ok := s.Interface("10.0.0.1", "GigabitEthernet1/0/48"); ok {
		t.Error("unknown interface should be absent")
	}
	if len(s.Notes) != 0 {
		t.Errorf("notes = %v, want none for 404", s.Notes)
	}
	if got := fake.Count(remote.GetInterfaceDetails); got != 2 {
		t.Errorf("interface reads = %d, want 2 (absent device skipped)", got)
	}
}

func TestSnapshotProvisioningV1(t *testing.T) {
	fake := remotetest.New().
		On(remote.GetDeviceList, inventoryHandler(testDevices)).
		On(remote.GetProvisionedWiredDevice, func(p remote.Params) (*remote.Response, error) {
			if p["device_management_ip_address"] == "10.0.0.1" {
				return remote.NewResponse(map[string]any{
					"status": "success", "description": "Wired Provisioned device detail retrieved successfully",
					"siteNameHierarchy": "Global/USA/SF",
				}), nil
			}
			return nil, remoteErr(remote.GetProvisionedWiredDevice, 400, "Device 10.0.0.2 is not provisioned")
		})
	o := newTestObserver(fake, catalyst.Pre2376)

	decl := &intent.Declared{Provision: []intent.ProvisionRequest{
		{DeviceIP: "10.0.0.1", SiteName: "Global/USA/SF"},
		{DeviceIP: "10.0.0.2", SiteName: "Global/USA/SF"},
	}}
	s, err := o.Snapshot(context.Background(), intent.Merged, decl)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if s.Provision["10.0.0.1"] != catalyst.Provisioned || s.Provision["10.0.0.2"] != catalyst.ProvisionNone {
		t.Errorf("Provision = %v", s.Provision)
	}
	if a := s.Sites["10.0.0.1"]; a == nil || a.SiteNameHierarchy != "Global/USA/SF" {
		t.Errorf("Sites[10.0.0.1] = %+v", a)
	}
}

func TestSnapshotProvisioningV2(t *testing.T) {
	fake := remotetest.New().
		On(remote.GetDeviceList, inventoryHandler(testDevices)).
		On(remote.GetProvisionedDevices, func(p remote.Params) (*remote.Response, error) {
			if p["network_device_id"] == "d1" {
				return remote.NewResponse(map[string]any{"response": []any{
					map[string]any{"id": "p1", "siteId": "s1", "networkDeviceId": "d1"},
				}}), nil
			}
			return remote.NewResponse(map[string]any{"response": []any{}}), nil
		}).
		On(remote.GetSiteAssignedDevice, func(p remote.Params) (*remote.Response, error) {
			if p["id"] == "d1" {
				return remote.NewResponse(map[string]any{"response": map[string]any{
					"deviceId": "d1", "siteId": "s1", "siteNameHierarchy": "Global/USA/SF/BGL_18/other_floor",
				}}), nil
			}
			return remote.NewResponse(map[string]any{"response": map[string]any{}}), nil
		})
	o := newTestObserver(fake, catalyst.Current)

	decl := &intent.Declared{Provision: []intent.ProvisionRequest{
		{DeviceIP: "10.0.0.1", SiteName: "Global/USA/SF/BGL_18/floor_pnp"},
		{DeviceIP: "10.0.0.2", SiteName: "Global/USA/SF/BGL_18/floor_test"},
	}}
	s, err := o.Snapshot(context.Background(), intent.Merged, decl)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if s.Provision["10.0.0.1"] != catalyst.Provisioned || s.Provision["10.0.0.2"] != catalyst.ProvisionNone {
		t.Errorf("Provision = %v", s.Provision)
	}
	if s.Sites["10.0.0.1"] == nil || s.Sites["10.0.0.2"] != nil {
		t.Errorf("Sites = %v", s.Sites)
	}
}

func TestSnapshotSchedules(t *testing.T) {
	fake := remotetest.New().
		On(remote.GetDeviceList, inventoryHandler(testDevices)).
		Respond(remote.GetMaintenanceSchedules, []map[string]any{
			{"id": "m1", "description": "patch", "networkDeviceIds": []string{"d1"},
				"maintenanceSchedule": map[string]any{"startTime": 1, "endTime": 2, "status": "UPCOMING"}},
			{"id": "m2", "description": "other", "networkDeviceIds": []string{"d9"},
				"maintenanceSchedule": map[string]any{"startTime": 1, "endTime": 2, "status": "UPCOMING"}},
		})

	o := newTestObserver(fake, catalyst.Current)
	decl := &intent.Declared{Maintenance: []intent.MaintenanceRequest{{DeviceIPs: []string{"10.0.0.1"}}}}
	s, err := o.Snapshot(context.Background(), intent.Merged, decl)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got := s.Schedules["10.0.0.1"]; len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("Schedules = %+v", got)
	}

	old := newTestObserver(fake, catalyst.Pre2379)
	s, _ = old.Snapshot(context.Background(), intent.Merged, decl)
	if len(s.Schedules) != 0 {
		t.Error("schedules should not be read below the maintenance version")
	}
}

func TestSnapshotDeleteReadsProvisioningOnV1(t *testing.T) {
	fake := remotetest.New().
		On(remote.GetDeviceList, inventoryHandler(testDevices)).
		Fail(remote.GetProvisionedWiredDevice, 400, "not provisioned")
	o := newTestObserver(fake, catalyst.Pre2376)

	s, err := o.Snapshot(context.Background(), intent.Deleted, &intent.Declared{IPAddressList: []string{"10.0.0.2", "10.0.0.99"}})
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if s.Provision["10.0.0.2"] != catalyst.ProvisionNone {
		t.Errorf("Provision = %v", s.Provision)
	}
	if fake.Count(remote.GetProvisionedWiredDevice) != 1 {
		t.Error("absent targets should not be queried")
	}
}
