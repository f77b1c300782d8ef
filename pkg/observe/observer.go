package observe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ccinv/ccinv/pkg/catalyst"
	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/task"
	"github.com/ccinv/ccinv/pkg/util"
)

// DefaultPageSize is the inventory page size.
const DefaultPageSize = 500

// Observer reads controller state.
type Observer struct {
	client   remote.Client
	poller   *task.Poller
	exporter *Exporter
	version  catalyst.Version

	PageSize int
	// ArchivePassword protects the credential exports used for
	// fingerprints when an entry declares no export password of its own.
	ArchivePassword string
}

// New creates an observer for a controller of the given version.
func New(client remote.Client, poller *task.Poller, version catalyst.Version) *Observer {
	return &Observer{
		client:   client,
		poller:   poller,
		exporter: NewExporter(client, poller),
		version:  version,
		PageSize: DefaultPageSize,
	}
}

// Version returns the controller version the observer was built for.
func (o *Observer) Version() catalyst.Version {
	return o.version
}

// Exporter returns the observer's export runner.
func (o *Observer) Exporter() *Exporter {
	return o.exporter
}

// DetectVersion reads the controller release.
func DetectVersion(ctx context.Context, client remote.Client) (catalyst.Version, error) {
	resp, err := remote.Call(ctx, client, remote.GetReleaseSummary, nil)
	if err != nil {
		return 0, fmt.Errorf("reading controller release: %w", err)
	}
	var rel struct {
		DisplayVersion   string `json:"displayVersion"`
		InstalledVersion string `json:"installedVersion"`
	}
	if err := resp.Decode(&rel); err != nil {
		return 0, fmt.Errorf("decoding controller release: %w", err)
	}
	v := rel.DisplayVersion
	if v == "" {
		v = rel.InstalledVersion
	}
	return catalyst.ParseVersion(v)
}

// Inventory reads the full device list page by page. The first request
// carries no offset; later ones advance by the page size from the
// controller's 1-based offset. Paging stops at the first empty page.
func (o *Observer) Inventory(ctx context.Context) (*Inventory, error) {
	size := o.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	var all []catalyst.Device
	for page := 0; ; page++ {
		params := remote.Params{"limit": size}
		if page > 0 {
			params["offset"] = page*size + 1
		}
		resp, err := remote.Call(ctx, o.client, remote.GetDeviceList, params)
		if err != nil {
			return nil, fmt.Errorf("reading inventory page %d: %w", page+1, err)
		}
		var devices []catalyst.Device
		if err := resp.Decode(&devices); err != nil {
			return nil, fmt.Errorf("decoding inventory page %d: %w", page+1, err)
		}
		if len(devices) == 0 {
			break
		}
		all = append(all, devices...)
	}
	util.Debugf("inventory holds %d devices", len(all))
	return NewInventory(all), nil
}

// Device reads one device by management IP. It returns nil when the
// controller does not know the address.
func (o *Observer) Device(ctx context.Context, ip string) (*catalyst.Device, error) {
	resp, err := remote.Call(ctx, o.client, remote.GetDeviceList, remote.Params{"management_ip_address": ip})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var devices []catalyst.Device
	if err := resp.Decode(&devices); err != nil {
		return nil, fmt.Errorf("decoding device %s: %w", ip, err)
	}
	for i := range devices {
		if devices[i].ManagementIP == ip {
			return &devices[i], nil
		}
	}
	return nil, nil
}

// SiteID resolves a site path to its id.
func (o *Observer) SiteID(ctx context.Context, hierarchy string) (string, error) {
	op, params := remote.GetSite, remote.Params{"name": hierarchy}
	if o.version.Supports(catalyst.FeatureProvisionV2) {
		op, params = remote.GetSites, remote.Params{"name_hierarchy": hierarchy}
	}
	resp, err := remote.Call(ctx, o.client, op, params)
	if err != nil && !isNotFound(err) {
		return "", fmt.Errorf("looking up site %s: %w", hierarchy, err)
	}
	var sites []catalyst.Site
	if err == nil {
		if err := resp.Decode(&sites); err != nil {
			return "", fmt.Errorf("decoding site %s: %w", hierarchy, err)
		}
	}
	for _, s := range sites {
		if strings.EqualFold(s.Hierarchy(), hierarchy) {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("site %s: %w", hierarchy, util.ErrNotFound)
}

// Snapshot reads everything the entry's operations compare against. Only
// the inventory read is fatal; a failed detail read leaves its part of the
// state empty and adds a note.
func (o *Observer) Snapshot(ctx context.Context, state intent.Intent, d *intent.Declared) (*State, error) {
	inv, err := o.Inventory(ctx)
	if err != nil {
		return nil, err
	}
	s := newState(o.version, inv, o.poller.Clock().Now())
	s.Targets = ResolveTargets(d, inv)

	if state == intent.Deleted {
		switch {
		case len(d.UserDefinedFields) > 0:
			o.readUDFs(ctx, s)
		case len(d.Maintenance) > 0:
			o.readSchedules(ctx, s, maintenanceIPs(d, s.Targets))
		case !o.version.Supports(catalyst.FeatureDeleteV2):
			o.readProvisioning(ctx, s, s.Targets)
		}
		return s, nil
	}

	if len(d.InterfaceUpdates) > 0 {
		o.readInterfaces(ctx, s, d)
	}
	if d.CredentialUpdate {
		o.readFingerprints(ctx, s, d)
	}
	if len(d.UserDefinedFields) > 0 && o.version.Supports(catalyst.FeatureUserDefinedFields) {
		o.readUDFs(ctx, s)
	}
	if len(d.Provision) > 0 {
		ips := make([]string, 0, len(d.Provision))
		for _, p := range d.Provision {
			ips = append(ips, p.DeviceIP)
		}
		o.readProvisioning(ctx, s, ips)
	}
	if len(d.Maintenance) > 0 && o.version.Supports(catalyst.FeatureMaintenance) {
		o.readSchedules(ctx, s, maintenanceIPs(d, s.Targets))
	}
	return s, nil
}

func (o *Observer) note(s *State, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	util.Warnf("%s", msg)
	s.Notes = append(s.Notes, msg)
}

func (o *Observer) readInterfaces(ctx context.Context, s *State, d *intent.Declared) {
	for _, ip := range s.Targets {
		dev, ok := s.Device(ip)
		if !ok {
			continue
		}
		ifs := make(map[string]*catalyst.Interface)
		for _, u := range d.InterfaceUpdates {
			resp, err := remote.Call(ctx, o.client, remote.GetInterfaceDetails,
				remote.Params{"device_id": dev.ID, "name": u.InterfaceName})
			if err != nil {
				if !isNotFound(err) {
					o.note(s, "reading interface %s on %s: %v", u.InterfaceName, ip, err)
				}
				continue
			}
			var rec catalyst.Interface
			if err := resp.Decode(&rec); err != nil || rec.ID == "" {
				continue
			}
			ifs[u.InterfaceName] = &rec
		}
		s.Interfaces[ip] = ifs
	}
}

// readFingerprints runs a credential export over the present targets.
func (o *Observer) readFingerprints(ctx context.Context, s *State, d *intent.Declared) {
	password := o.ArchivePassword
	if d.Export != nil && d.Export.Password != "" {
		password = d.Export.Password
	}
	if password == "" {
		o.note(s, "no archive password: credential fingerprints unavailable")
		return
	}
	var ids []string
	for _, ip := range s.Targets {
		if id := s.DeviceID(ip); id != "" {
			ids = append(ids, id)
		}
	}
	for _, batch := range util.Chunk(ids, intent.DefaultExportBatch) {
		res, err := o.exporter.Export(ctx, ExportBatch{
			DeviceIDs: batch,
			Kind:      intent.ExportCredentials,
			Password:  password,
			KeyBits:   intent.ArchiveKeyBits(d.SNMPPrivProtocol),
		})
		if err != nil {
			o.note(s, "credential fingerprint export failed: %v", err)
			continue
		}
		for _, row := range res.Table.Rows {
			if ip := row[ColIP]; ip != "" {
				s.Fingerprints[ip] = FingerprintFromRow(row)
			}
		}
	}
}

func (o *Observer) readUDFs(ctx context.Context, s *State) {
	resp, err := remote.Call(ctx, o.client, remote.GetAllUserDefinedFields, nil)
	if err != nil {
		if !isNotFound(err) {
			o.note(s, "reading user-defined fields: %v", err)
		}
		return
	}
	var fields []catalyst.UserDefinedField
	if err := resp.Decode(&fields); err != nil {
		o.note(s, "decoding user-defined fields: %v", err)
		return
	}
	for i := range fields {
		s.UDFs[fields[i].Name] = &fields[i]
	}
}

// provisionV1 is the answer of sda.get_provisioned_wired_device.
type provisionV1 struct {
	Status            string `json:"status"`
	Description       string `json:"description"`
	SiteNameHierarchy string `json:"siteNameHierarchy"`
}

func notProvisioned(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "not provisioned")
}

func (o *Observer) readProvisioning(ctx context.Context, s *State, ips []string) {
	v2 := o.version.Supports(catalyst.FeatureProvisionV2)
	for _, ip := range ips {
		dev, ok := s.Device(ip)
		if !ok {
			continue
		}
		if v2 {
			s.Provision[ip] = o.provisionStatusV2(ctx, s, dev)
			if a := o.siteAssignment(ctx, s, dev); a != nil {
				s.Sites[ip] = a
			}
			continue
		}
		s.Provision[ip] = o.provisionStatusV1(ctx, s, ip)
	}
}

func (o *Observer) provisionStatusV1(ctx context.Context, s *State, ip string) catalyst.ProvisionStatus {
	resp, err := remote.Call(ctx, o.client, remote.GetProvisionedWiredDevice,
		remote.Params{"device_management_ip_address": ip})
	if err != nil {
		var re *util.RemoteError
		if errors.As(err, &re) && (notProvisioned(re.Message) || re.Status == 404) {
			return catalyst.ProvisionNone
		}
		o.note(s, "reading provisioning status of %s: %v", ip, err)
		return catalyst.ProvisionError
	}
	var p provisionV1
	if err := resp.DecodeBody(&p); err != nil {
		return catalyst.ProvisionError
	}
	switch {
	case notProvisioned(p.Description):
		return catalyst.ProvisionNone
	case strings.EqualFold(p.Status, "success"):
		if p.SiteNameHierarchy != "" {
			s.Sites[ip] = &catalyst.SiteAssignment{SiteNameHierarchy: p.SiteNameHierarchy}
		}
		return catalyst.Provisioned
	default:
		return catalyst.ProvisionError
	}
}

func (o *Observer) provisionStatusV2(ctx context.Context, s *State, dev *catalyst.Device) catalyst.ProvisionStatus {
	resp, err := remote.Call(ctx, o.client, remote.GetProvisionedDevices, remote.Params{"network_device_id": dev.ID})
	if err != nil {
		if isNotFound(err) {
			return catalyst.ProvisionNone
		}
		o.note(s, "reading provisioning status of %s: %v", dev.ManagementIP, err)
		return catalyst.ProvisionError
	}
	var entries []catalyst.ProvisionedDevice
	if err := resp.Decode(&entries); err != nil {
		return catalyst.ProvisionError
	}
	for _, e := range entries {
		if e.NetworkDeviceID == dev.ID {
			return catalyst.Provisioned
		}
	}
	return catalyst.ProvisionNone
}

func (o *Observer) siteAssignment(ctx context.Context, s *State, dev *catalyst.Device) *catalyst.SiteAssignment {
	resp, err := remote.Call(ctx, o.client, remote.GetSiteAssignedDevice, remote.Params{"id": dev.ID})
	if err != nil {
		if !isNotFound(err) {
			o.note(s, "reading site assignment of %s: %v", dev.ManagementIP, err)
		}
		return nil
	}
	var a catalyst.SiteAssignment
	if err := resp.Decode(&a); err != nil || a.SiteID == "" {
		return nil
	}
	return &a
}

// maintenanceIPs collects the devices named by maintenance requests, or the
// entry's targets when the requests name none.
func maintenanceIPs(d *intent.Declared, targets []string) []string {
	var ips []string
	for _, m := range d.Maintenance {
		ips = append(ips, m.DeviceIPs...)
	}
	if len(ips) == 0 {
		return targets
	}
	return dedup(ips)
}

func (o *Observer) readSchedules(ctx context.Context, s *State, ips []string) {
	for _, ip := range ips {
		dev, ok := s.Device(ip)
		if !ok {
			continue
		}
		resp, err := remote.Call(ctx, o.client, remote.GetMaintenanceSchedules,
			remote.Params{"network_device_ids": dev.ID})
		if err != nil {
			if !isNotFound(err) {
				o.note(s, "reading maintenance schedules of %s: %v", ip, err)
			}
			continue
		}
		var schedules []catalyst.MaintenanceSchedule
		if err := resp.Decode(&schedules); err != nil {
			o.note(s, "decoding maintenance schedules of %s: %v", ip, err)
			continue
		}
		for i := range schedules {
			if schedules[i].Covers(dev.ID) {
				s.Schedules[ip] = append(s.Schedules[ip], &schedules[i])
			}
		}
	}
}

func isNotFound(err error) bool {
	var re *util.RemoteError
	return errors.As(err, &re) && re.Status == 404
}
