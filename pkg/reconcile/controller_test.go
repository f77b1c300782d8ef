package reconcile

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sync"

	"github.com/ccinv/ccinv/pkg/catalyst"
	"github.com/ccinv/ccinv/pkg/observe"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/remote/remotetest"
	"github.com/ccinv/ccinv/pkg/util"
)

// controller is a fake Catalyst Center whose state changes as mutations
// are applied, so a second run observes what the first one did.
type controller struct {
	mu      sync.Mutex
	devices []map[string]any
	// applyRole controls whether role updates change the inventory.
	applyRole bool
	fake      *remotetest.Fake

	// creds holds the last credential payload per device id.
	creds map[string]map[string]any
	// interfaces is keyed by device id and port name.
	interfaces map[string]map[string]any
	udfs       []catalyst.UserDefinedField
	// sites maps site id to hierarchy.
	sites       map[string]string
	assigned    map[string]string
	provisioned map[string]bool
	schedules   []*catalyst.MaintenanceSchedule
	exported    []string
	seq         int
}

func newController(devices ...map[string]any) *controller {
	c := &controller{
		devices:     devices,
		applyRole:   true,
		fake:        remotetest.New(),
		creds:       make(map[string]map[string]any),
		interfaces:  make(map[string]map[string]any),
		sites:       make(map[string]string),
		assigned:    make(map[string]string),
		provisioned: make(map[string]bool),
	}
	c.fake.
		On(remote.GetDeviceList, c.list).
		On(remote.AddDevice, c.add).
		On(remote.UpdateDeviceRole, c.role).
		On(remote.SyncDevices, c.sync).
		On(remote.ExportDeviceList, c.export).
		On(remote.DownloadFile, c.download).
		On(remote.GetInterfaceDetails, c.getInterface).
		On(remote.UpdateInterfaceDetails, c.updateInterface).
		On(remote.GetAllUserDefinedFields, c.listUDFs).
		On(remote.CreateUserDefinedField, c.createUDF).
		On(remote.AddUserDefinedFieldToDev, c.assignUDFs).
		On(remote.GetSites, c.getSites).
		On(remote.GetSiteAssignedDevice, c.siteOf).
		On(remote.GetProvisionedDevices, c.provisionedDevices).
		On(remote.AssignDevicesToSite, c.assignSite).
		On(remote.ProvisionDevices, c.provision).
		On(remote.GetMaintenanceSchedules, c.listSchedules).
		On(remote.CreateMaintenanceSchedule, c.createSchedule).
		On(remote.UpdateMaintenanceSchedule, c.updateSchedule).
		On(remote.DeleteMaintenanceSchedule, c.deleteSchedule).
		SetTask("t-add", map[string]any{"progress": "Discovery started: /task/abc"}).
		SetTask("t-role", map[string]any{"progress": "Device role updated successfully"}).
		SetTask("t-sync", map[string]any{"progress": "Inventory service updating devices", "endTime": 1}).
		SetTask("t-export", map[string]any{"progress": "done", "additionalStatusURL": "/api/v1/file/f-export"}).
		SetTask("t-if", map[string]any{"progress": "SUCCESS"}).
		SetTask("t-site", map[string]any{"progress": "success", "endTime": 1}).
		SetTask("t-prov", map[string]any{"progress": "TASK_PROVISION complete"}).
		SetTask("t-mnt", map[string]any{"progress": "success", "endTime": 1})
	return c
}

func device(id, ip, role string) map[string]any {
	return map[string]any{
		"id":                  id,
		"managementIpAddress": ip,
		"role":                role,
		"managementState":     "Managed",
		"collectionStatus":    "Managed",
	}
}

func notFound(op remote.Op) error {
	return &util.RemoteError{Family: op.Family, Operation: op.Operation, Status: 404, Message: "not found"}
}

func envelope(v any) *remote.Response {
	return remote.NewResponse(map[string]any{"response": v})
}

// byIP returns the device at ip. Callers hold c.mu.
func (c *controller) byIP(ip string) map[string]any {
	for _, d := range c.devices {
		if d["managementIpAddress"] == ip {
			return d
		}
	}
	return nil
}

func (c *controller) byID(id string) map[string]any {
	for _, d := range c.devices {
		if d["id"] == id {
			return d
		}
	}
	return nil
}

// setCredentials seeds the credentials a device was discovered with.
func (c *controller) setCredentials(id string, payload map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds[id] = payload
}

func (c *controller) setInterface(deviceID, name string, rec map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec["portName"] = name
	c.interfaces[deviceID+"|"+name] = rec
}

func (c *controller) addSite(id, hierarchy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sites[id] = hierarchy
}

func (c *controller) assign(deviceID, siteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assigned[deviceID] = siteID
}

func (c *controller) live() []*catalyst.MaintenanceSchedule {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*catalyst.MaintenanceSchedule, len(c.schedules))
	copy(out, c.schedules)
	return out
}

func (c *controller) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s-%d", prefix, c.seq)
}

// ============================================================================
// Inventory
// ============================================================================

func (c *controller) list(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ip, ok := params["management_ip_address"].(string); ok {
		if d := c.byIP(ip); d != nil {
			return envelope([]any{d}), nil
		}
		return nil, notFound(remote.GetDeviceList)
	}
	limit, _ := params["limit"].(int)
	start := 0
	if off, ok := params["offset"].(int); ok {
		start = off - 1
	}
	page := []any{}
	for i := start; i < len(c.devices) && i < start+limit; i++ {
		page = append(page, c.devices[i])
	}
	return envelope(page), nil
}

func (c *controller) add(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload := params[remote.PayloadKey].(map[string]any)
	for _, ip := range payload["ipAddress"].([]string) {
		d := device("id-"+ip, ip, "ACCESS")
		c.devices = append(c.devices, d)
		c.creds[d["id"].(string)] = payload
	}
	return remotetest.TaskResponse("t-add"), nil
}

func (c *controller) role(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload := params[remote.PayloadKey].(map[string]any)
	if c.applyRole {
		if d := c.byID(fmt.Sprint(payload["id"])); d != nil {
			d["role"] = payload["role"]
		}
	}
	return remotetest.TaskResponse("t-role"), nil
}

func (c *controller) sync(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload := params[remote.PayloadKey].(map[string]any)
	for _, ip := range payload["ipAddress"].([]string) {
		if d := c.byIP(ip); d != nil {
			c.creds[d["id"].(string)] = payload
		}
	}
	return remotetest.TaskResponse("t-sync"), nil
}

// ============================================================================
// Credential export
// ============================================================================

func (c *controller) export(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload := params[remote.PayloadKey].(map[string]any)
	c.exported = payload["deviceUuids"].([]string)
	return remotetest.TaskResponse("t-export"), nil
}

func text(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// download serves the last export as a plain CSV built from the stored
// credentials.
func (c *controller) download(remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{
		observe.ColIP, observe.ColCLIUsername, observe.ColCLIPassword, observe.ColEnablePassword,
		observe.ColNetconfPort, observe.ColSNMPRetries, observe.ColSNMPv3User,
		observe.ColSNMPv3AuthType, observe.ColSNMPv3PrivType,
	})
	for _, id := range c.exported {
		d := c.byID(id)
		if d == nil {
			continue
		}
		p := c.creds[id]
		w.Write([]string{
			text(d["managementIpAddress"]), text(p["userName"]), text(p["password"]), text(p["enablePassword"]),
			text(p["netconfPort"]), text(p["snmpRetry"]), text(p["snmpUserName"]),
			text(p["snmpAuthProtocol"]), text(p["snmpPrivProtocol"]),
		})
	}
	w.Flush()
	return remote.NewFileResponse("credentials.csv", buf.Bytes()), nil
}

// ============================================================================
// Interfaces
// ============================================================================

func (c *controller) getInterface(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.interfaces[text(params["device_id"])+"|"+text(params["name"])]
	if !ok {
		return nil, notFound(remote.GetInterfaceDetails)
	}
	return envelope(rec), nil
}

func (c *controller) updateInterface(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload := params[remote.PayloadKey].(map[string]any)
	for _, rec := range c.interfaces {
		if rec["id"] != params["interface_uuid"] {
			continue
		}
		for from, to := range map[string]string{
			"description": "description", "adminStatus": "adminStatus",
			"vlanId": "vlanId", "voiceVlanId": "voiceVlan",
		} {
			if v, ok := payload[from]; ok {
				rec[to] = v
			}
		}
	}
	return remotetest.TaskResponse("t-if"), nil
}

// ============================================================================
// User-defined fields
// ============================================================================

func (c *controller) listUDFs(remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return envelope(c.udfs), nil
}

func (c *controller) createUDF(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	def := params[remote.PayloadKey].(map[string]string)
	c.udfs = append(c.udfs, catalyst.UserDefinedField{
		ID: c.nextID("udf"), Name: def["name"], Description: def["description"],
	})
	return envelope(map[string]any{"message": "created"}), nil
}

func (c *controller) assignUDFs(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.byID(text(params["device_id"]))
	if d == nil {
		return nil, notFound(remote.AddUserDefinedFieldToDev)
	}
	values, _ := d["userDefinedFields"].(map[string]string)
	if values == nil {
		values = make(map[string]string)
		d["userDefinedFields"] = values
	}
	for _, v := range params[remote.PayloadKey].([]map[string]string) {
		values[v["name"]] = v["value"]
	}
	return envelope(map[string]any{"message": "assigned"}), nil
}

// ============================================================================
// Sites and provisioning
// ============================================================================

func (c *controller) getSites(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []catalyst.Site
	for id, h := range c.sites {
		if h == text(params["name_hierarchy"]) {
			out = append(out, catalyst.Site{ID: id, NameHierarchy: h})
		}
	}
	if len(out) == 0 {
		return nil, notFound(remote.GetSites)
	}
	return envelope(out), nil
}

func (c *controller) siteOf(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := text(params["id"])
	site, ok := c.assigned[id]
	if !ok {
		return nil, notFound(remote.GetSiteAssignedDevice)
	}
	return envelope(catalyst.SiteAssignment{DeviceID: id, SiteID: site, SiteNameHierarchy: c.sites[site]}), nil
}

func (c *controller) provisionedDevices(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := text(params["network_device_id"])
	out := []catalyst.ProvisionedDevice{}
	if c.provisioned[id] {
		out = append(out, catalyst.ProvisionedDevice{NetworkDeviceID: id, SiteID: c.assigned[id]})
	}
	return envelope(out), nil
}

func (c *controller) assignSite(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload := params[remote.PayloadKey].(map[string]any)
	for _, id := range payload["deviceIds"].([]string) {
		c.assigned[id] = text(payload["siteId"])
	}
	return remotetest.TaskResponse("t-site"), nil
}

func (c *controller) provision(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range params[remote.PayloadKey].([]map[string]string) {
		c.provisioned[p["networkDeviceId"]] = true
	}
	return remotetest.TaskResponse("t-prov"), nil
}

// ============================================================================
// Maintenance
// ============================================================================

func (c *controller) listSchedules(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := text(params["network_device_ids"])
	out := []*catalyst.MaintenanceSchedule{}
	for _, s := range c.schedules {
		if s.Covers(id) {
			out = append(out, s)
		}
	}
	return envelope(out), nil
}

func (c *controller) createSchedule(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := *params[remote.PayloadKey].(*catalyst.MaintenanceSchedule)
	s.ID = c.nextID("mw")
	s.Window.Status = catalyst.ScheduleUpcoming
	c.schedules = append(c.schedules, &s)
	return remotetest.TaskResponse("t-mnt"), nil
}

func (c *controller) updateSchedule(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	want := *params[remote.PayloadKey].(*catalyst.MaintenanceSchedule)
	for i, s := range c.schedules {
		if s.ID == text(params["id"]) {
			want.Window.Status = s.Window.Status
			c.schedules[i] = &want
		}
	}
	return remotetest.TaskResponse("t-mnt"), nil
}

func (c *controller) deleteSchedule(params remote.Params) (*remote.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.schedules[:0]
	for _, s := range c.schedules {
		if s.ID != text(params["id"]) {
			kept = append(kept, s)
		}
	}
	c.schedules = kept
	return remotetest.TaskResponse("t-mnt"), nil
}

// credentialPayload is the stored form of credentials as a sync would send
// them.
func credentialPayload(user, password string) map[string]any {
	return map[string]any{
		"userName":         user,
		"password":         password,
		"enablePassword":   "enable",
		"netconfPort":      "830",
		"snmpUserName":     "snmpuser",
		"snmpAuthProtocol": "SHA",
		"snmpPrivProtocol": "CISCOAES256",
		"snmpRetry":        3,
	}
}
