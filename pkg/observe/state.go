// Package observe reads the controller's current view of a target set.
//
// A State is a snapshot: it is built once by Observer.Snapshot and replaced
// wholesale on refresh, never patched.
package observe

import (
	"strconv"
	"time"

	"github.com/ccinv/ccinv/pkg/catalyst"
	"github.com/ccinv/ccinv/pkg/intent"
)

// Inventory is the full device list keyed by management IP.
type Inventory struct {
	byIP  map[string]*catalyst.Device
	order []*catalyst.Device
}

// NewInventory indexes devices by management IP. The first record for an
// IP wins.
func NewInventory(devices []catalyst.Device) *Inventory {
	inv := &Inventory{byIP: make(map[string]*catalyst.Device, len(devices))}
	for i := range devices {
		d := &devices[i]
		if d.ManagementIP == "" {
			continue
		}
		if _, dup := inv.byIP[d.ManagementIP]; dup {
			continue
		}
		inv.byIP[d.ManagementIP] = d
		inv.order = append(inv.order, d)
	}
	return inv
}

// Get returns the device at ip.
func (inv *Inventory) Get(ip string) (*catalyst.Device, bool) {
	d, ok := inv.byIP[ip]
	return d, ok
}

// Len returns the number of devices.
func (inv *Inventory) Len() int {
	return len(inv.order)
}

// Devices returns all devices in controller order.
func (inv *Inventory) Devices() []*catalyst.Device {
	return inv.order
}

// ResolveTargets maps an entry's identifiers to management IPs. The lists
// are tried in priority order IP, hostname, serial, MAC and the first one
// yielding any IP wins. Declared IPs are returned as is, present or not.
func ResolveTargets(d *intent.Declared, inv *Inventory) []string {
	if len(d.IPAddressList) > 0 {
		return dedup(d.IPAddressList)
	}
	lookups := []struct {
		keys  []string
		match func(dev *catalyst.Device, key string) bool
	}{
		{d.HostnameList, func(dev *catalyst.Device, key string) bool { return dev.Hostname == key }},
		{d.SerialNumberList, func(dev *catalyst.Device, key string) bool { return dev.HasSerial(key) }},
		{d.MACAddressList, func(dev *catalyst.Device, key string) bool { return dev.HasMAC(key) }},
	}
	for _, l := range lookups {
		var ips []string
		for _, key := range l.keys {
			for _, dev := range inv.order {
				if l.match(dev, key) {
					ips = append(ips, dev.ManagementIP)
				}
			}
		}
		if len(ips) > 0 {
			return dedup(ips)
		}
	}
	return nil
}

func dedup(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Fingerprint columns of the credential export.
const (
	ColIP             = "ip_address"
	ColCLIUsername    = "cli_username"
	ColCLIPassword    = "cli_password"
	ColEnablePassword = "cli_enable_password"
	ColNetconfPort    = "netconf_port"
	ColSNMPRetries    = "snmp_retries"
	ColSNMPv3User     = "snmpv3_user_name"
	ColSNMPv3AuthType = "snmpv3_auth_type"
	ColSNMPv3PrivType = "snmpv3_privacy_type"
)

// Fingerprint is the subset of a device's credentials exposed by the
// credential export. Empty fields mean absent.
type Fingerprint struct {
	CLIUsername    string
	CLIPassword    string
	EnablePassword string
	NetconfPort    string
	SNMPRetries    int
	SNMPv3User     string
	SNMPv3AuthType string
	SNMPv3PrivType string
}

// FingerprintFromRow builds a fingerprint from an export row.
func FingerprintFromRow(row map[string]string) *Fingerprint {
	fp := &Fingerprint{
		CLIUsername:    row[ColCLIUsername],
		CLIPassword:    row[ColCLIPassword],
		EnablePassword: row[ColEnablePassword],
		NetconfPort:    row[ColNetconfPort],
		SNMPv3User:     row[ColSNMPv3User],
		SNMPv3AuthType: row[ColSNMPv3AuthType],
		SNMPv3PrivType: intent.CanonicalPrivProtocol(row[ColSNMPv3PrivType]),
	}
	if n, err := strconv.Atoi(row[ColSNMPRetries]); err == nil {
		fp.SNMPRetries = n
	}
	return fp
}

// State is the observed state of one configuration entry's targets.
type State struct {
	CapturedAt time.Time
	Version    catalyst.Version
	Inventory  *Inventory
	// Targets are the entry's resolved management IPs in declared order.
	Targets []string
	// Notes records detail reads that failed.
	Notes []string

	// Interfaces maps management IP to interface name to record.
	Interfaces   map[string]map[string]*catalyst.Interface
	Fingerprints map[string]*Fingerprint
	// Sites holds the site assignment of provisioning targets. A missing
	// key means the device is not assigned to any site.
	Sites     map[string]*catalyst.SiteAssignment
	Provision map[string]catalyst.ProvisionStatus
	// Schedules maps management IP to the schedules covering that device.
	Schedules map[string][]*catalyst.MaintenanceSchedule
	// UDFs holds global UDF definitions by name.
	UDFs map[string]*catalyst.UserDefinedField
}

func newState(version catalyst.Version, inv *Inventory, now time.Time) *State {
	return &State{
		CapturedAt:   now,
		Version:      version,
		Inventory:    inv,
		Interfaces:   make(map[string]map[string]*catalyst.Interface),
		Fingerprints: make(map[string]*Fingerprint),
		Sites:        make(map[string]*catalyst.SiteAssignment),
		Provision:    make(map[string]catalyst.ProvisionStatus),
		Schedules:    make(map[string][]*catalyst.MaintenanceSchedule),
		UDFs:         make(map[string]*catalyst.UserDefinedField),
	}
}

// Device returns the observed device at ip.
func (s *State) Device(ip string) (*catalyst.Device, bool) {
	return s.Inventory.Get(ip)
}

// Exists reports whether a device is present at ip.
func (s *State) Exists(ip string) bool {
	_, ok := s.Inventory.Get(ip)
	return ok
}

// DeviceID returns the device id at ip, or "".
func (s *State) DeviceID(ip string) string {
	if d, ok := s.Inventory.Get(ip); ok {
		return d.ID
	}
	return ""
}

// Interface returns the observed interface name on ip.
func (s *State) Interface(ip, name string) (*catalyst.Interface, bool) {
	ifs, ok := s.Interfaces[ip]
	if !ok {
		return nil, false
	}
	i, ok := ifs[name]
	return i, ok
}
