package intent

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ccinv/ccinv/pkg/util"
)

var (
	validClasses = map[DeviceClass]bool{
		NetworkDevice: true, ComputeDevice: true, Meraki: true, ThirdParty: true, Firepower: true,
	}
	validRoles = map[string]bool{
		RoleAccess: true, RoleDistribution: true, RoleCore: true, RoleBorderRouter: true, RoleUnknown: true,
	}
	validSNMPModes     = map[string]bool{ModeNoAuthNoPriv: true, ModeAuthNoPriv: true, ModeAuthPriv: true}
	validAuthProtocols = map[string]bool{"SHA": true, "MD5": true}
	validPrivProtocols = map[string]bool{
		"AES128": true, "AES192": true, "AES256": true, "CISCOAES128": true, "CISCOAES192": true, "CISCOAES256": true,
	}
)

// entryCheck validates one aspect of an entry. Checks are table-driven so
// that each declared block owns its own rules.
type entryCheck struct {
	name    string
	applies func(doc *Document, d *Declared) bool
	check   func(v *util.ValidationBuilder, prefix string, d *Declared, nowMs int64)
}

var entryChecks = []entryCheck{
	{name: "identity", applies: always, check: checkIdentity},
	{name: "credentials", applies: always, check: checkCredentials},
	{name: "role", applies: func(_ *Document, d *Declared) bool { return d.Role != "" }, check: checkRole},
	{name: "mgmt_ip", applies: func(_ *Document, d *Declared) bool { return d.MgmtIPUpdate != nil }, check: checkMgmtIP},
	{name: "interfaces", applies: func(_ *Document, d *Declared) bool { return len(d.InterfaceUpdates) > 0 }, check: checkInterfaces},
	{name: "udf", applies: func(_ *Document, d *Declared) bool { return len(d.UserDefinedFields) > 0 }, check: checkUDFs},
	{name: "export", applies: func(_ *Document, d *Declared) bool { return d.Export != nil }, check: checkExport},
	{name: "provision", applies: func(_ *Document, d *Declared) bool { return len(d.Provision) > 0 }, check: checkProvision},
	{name: "resync", applies: func(_ *Document, d *Declared) bool { return d.Resync != nil }, check: checkResync},
	{name: "maintenance", applies: func(_ *Document, d *Declared) bool { return len(d.Maintenance) > 0 }, check: checkMaintenanceTargets},
	{name: "maintenance_window", applies: func(doc *Document, d *Declared) bool {
		return doc.State == Merged && len(d.Maintenance) > 0
	}, check: checkMaintenanceWindows},
}

func always(*Document, *Declared) bool { return true }

// Validate checks the document for self-consistency. The returned error is
// a *util.ValidationError listing every problem found.
func (doc *Document) Validate(now time.Time) error {
	v := &util.ValidationBuilder{}
	if doc.State != Merged && doc.State != Deleted {
		v.AddErrorf("state %q must be %q or %q", doc.State, Merged, Deleted)
	}
	if len(doc.Config) == 0 {
		v.AddError("config must contain at least one entry")
	}
	nowMs := now.UnixMilli()
	for i := range doc.Config {
		d := &doc.Config[i]
		prefix := fmt.Sprintf("config[%d]", i)
		for _, c := range entryChecks {
			if c.applies(doc, d) {
				c.check(v, prefix, d, nowMs)
			}
		}
	}
	return v.Build()
}

func checkIdentity(v *util.ValidationBuilder, prefix string, d *Declared, _ int64) {
	if !d.HasIdentifiers() && len(d.Provision) == 0 && len(d.Maintenance) == 0 &&
		len(d.UserDefinedFields) == 0 && d.MgmtIPUpdate == nil {
		v.AddErrorf("%s: one of ip_address_list, hostname_list, serial_number_list or mac_address_list is required", prefix)
	}
	for _, ip := range d.IPAddressList {
		v.Add(util.IsValidIP(ip), fmt.Sprintf("%s: invalid IP address %q", prefix, ip))
	}
	for _, mac := range d.MACAddressList {
		v.Add(util.IsValidMAC(mac), fmt.Sprintf("%s: invalid MAC address %q", prefix, mac))
	}
	v.Add(validClasses[d.Type], fmt.Sprintf("%s: unknown device type %q", prefix, d.Type))
}

func checkCredentials(v *util.ValidationBuilder, prefix string, d *Declared, _ int64) {
	c := &d.Credentials
	if c.CLITransport != "" && c.CLITransport != "ssh" && c.CLITransport != "telnet" {
		v.AddErrorf("%s: cli_transport %q must be ssh or telnet", prefix, c.CLITransport)
	}
	if c.SNMPVersion != "" && c.SNMPVersion != SNMPv2 && c.SNMPVersion != SNMPv3 {
		v.AddErrorf("%s: snmp_version %q must be v2 or v3", prefix, c.SNMPVersion)
	}
	if c.SNMPMode != "" && !validSNMPModes[c.SNMPMode] {
		v.AddErrorf("%s: snmp_mode %q must be NOAUTHNOPRIV, AUTHNOPRIV or AUTHPRIV", prefix, c.SNMPMode)
	}
	if c.SNMPAuthProtocol != "" && !validAuthProtocols[c.SNMPAuthProtocol] {
		v.AddErrorf("%s: snmp_auth_protocol %q must be SHA or MD5", prefix, c.SNMPAuthProtocol)
	}
	if c.SNMPPrivProtocol != "" && !validPrivProtocols[c.SNMPPrivProtocol] {
		v.AddErrorf("%s: unsupported snmp_priv_protocol %q", prefix, c.SNMPPrivProtocol)
	}
	if c.IsV3() && c.SNMPMode == "" && (c.SNMPUsername != "" || d.CredentialUpdate) {
		v.AddErrorf("%s: snmp_mode is required with snmp_version v3", prefix)
	}
	for name, port := range map[string]string{"netconf_port": c.NetconfPort, "http_port": c.HTTPPort} {
		if port == "" {
			continue
		}
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			v.AddErrorf("%s: %s %q is not a valid port", prefix, name, port)
		}
	}
	v.Add(c.SNMPRetry >= 0 && c.SNMPTimeout >= 0, prefix+": snmp_retry and snmp_timeout must not be negative")
}

func checkRole(v *util.ValidationBuilder, prefix string, d *Declared, _ int64) {
	v.Add(validRoles[d.Role], fmt.Sprintf("%s: unknown role %q", prefix, d.Role))
}

func checkMgmtIP(v *util.ValidationBuilder, prefix string, d *Declared, _ int64) {
	u := d.MgmtIPUpdate
	v.Add(util.IsValidIP(u.ExistingIP), fmt.Sprintf("%s: invalid exist_mgmt_ipaddress %q", prefix, u.ExistingIP))
	v.Add(util.IsValidIP(u.NewIP), fmt.Sprintf("%s: invalid new_mgmt_ipaddress %q", prefix, u.NewIP))
	v.Add(u.ExistingIP != u.NewIP, prefix+": new_mgmt_ipaddress must differ from exist_mgmt_ipaddress")
}

func checkInterfaces(v *util.ValidationBuilder, prefix string, d *Declared, _ int64) {
	for j, u := range d.InterfaceUpdates {
		p := fmt.Sprintf("%s.update_interface_details[%d]", prefix, j)
		v.Add(u.InterfaceName != "", p+": interface_name is required")
		if u.AdminStatus != "" && u.AdminStatus != "UP" && u.AdminStatus != "DOWN" {
			v.AddErrorf("%s: admin_status %q must be UP or DOWN", p, u.AdminStatus)
		}
		if u.DeploymentMode != "Deploy" && u.DeploymentMode != "Preview" {
			v.AddErrorf("%s: deployment_mode %q must be Deploy or Preview", p, u.DeploymentMode)
		}
		for name, vlan := range map[string]int{"vlan_id": u.VlanID, "voice_vlan_id": u.VoiceVlanID} {
			if vlan != 0 && (vlan < 1 || vlan > 4094) {
				v.AddErrorf("%s: %s %d must be between 1 and 4094", p, name, vlan)
			}
		}
	}
}

func checkUDFs(v *util.ValidationBuilder, prefix string, d *Declared, _ int64) {
	for j, f := range d.UserDefinedFields {
		v.Add(strings.TrimSpace(f.Name) != "", fmt.Sprintf("%s.add_user_defined_field[%d]: name is required", prefix, j))
	}
}

func checkExport(v *util.ValidationBuilder, prefix string, d *Declared, _ int64) {
	e := d.Export
	if e.Kind != ExportCredentials && e.Kind != ExportDetails {
		v.AddErrorf("%s: export operation_enum %q must be CREDENTIALS or DETAILS", prefix, e.Kind)
	}
	if e.BatchSize < 1 || e.BatchSize > MaxExportBatch {
		v.AddErrorf("%s: export batch_size %d must be between 1 and %d", prefix, e.BatchSize, MaxExportBatch)
	}
	if e.Kind == ExportCredentials && e.Password == "" {
		v.AddErrorf("%s: export password is required for credential exports", prefix)
	}
}

func checkProvision(v *util.ValidationBuilder, prefix string, d *Declared, _ int64) {
	for j, p := range d.Provision {
		pp := fmt.Sprintf("%s.provision_wired_device[%d]", prefix, j)
		v.Add(util.IsValidIP(p.DeviceIP), fmt.Sprintf("%s: invalid device_ip %q", pp, p.DeviceIP))
		v.Add(strings.HasPrefix(p.SiteName, "Global"), fmt.Sprintf("%s: site_name %q must be a path under Global", pp, p.SiteName))
		v.Add(p.RetryCount > 0 && p.RetryInterval > 0, pp+": resync_retry_count and resync_retry_interval must be positive")
	}
}

func checkResync(v *util.ValidationBuilder, prefix string, d *Declared, _ int64) {
	r := d.Resync
	if r.BatchSize < 1 || r.BatchSize > MaxResyncBatch {
		v.AddErrorf("%s: resync batch_size %d must be between 1 and %d", prefix, r.BatchSize, MaxResyncBatch)
	}
	v.Add(r.MaxTimeout > 0, prefix+": resync max_timeout must be positive")
}

func checkMaintenanceTargets(v *util.ValidationBuilder, prefix string, d *Declared, _ int64) {
	for j, m := range d.Maintenance {
		p := fmt.Sprintf("%s.maintenance_schedules[%d]", prefix, j)
		v.Add(len(m.DeviceIPs) > 0, p+": device_ips is required")
		for _, ip := range m.DeviceIPs {
			v.Add(util.IsValidIP(ip), fmt.Sprintf("%s: invalid device IP %q", p, ip))
		}
	}
}

func checkMaintenanceWindows(v *util.ValidationBuilder, prefix string, d *Declared, nowMs int64) {
	for j := range d.Maintenance {
		m := &d.Maintenance[j]
		p := fmt.Sprintf("%s.maintenance_schedules[%d]", prefix, j)
		if m.Recurring() && (m.RecurrenceInterval == 0 || m.RecurrenceEndTime == "") {
			v.AddErrorf("%s: recurrence_interval and recurrence_end_time must be set together", p)
			continue
		}
		w, err := m.Window()
		if err != nil {
			v.AddErrorf("%s: %v", p, err)
			continue
		}
		for _, msg := range checkWindow(w, nowMs) {
			v.AddErrorf("%s: %s", p, msg)
		}
	}
}
