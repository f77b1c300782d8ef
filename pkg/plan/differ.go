package plan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ccinv/ccinv/pkg/catalyst"
	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/observe"
	"github.com/ccinv/ccinv/pkg/outcome"
	"github.com/ccinv/ccinv/pkg/util"
)

// ErrNoTargets is reported when an entry's identifiers match no device.
var ErrNoTargets = errors.New("no device matches the declared identifiers")

// Input is what the differ compares.
type Input struct {
	Intent   intent.Intent
	Declared *intent.Declared
	State    *observe.State
	// DeferWireless reports wireless controllers in provisioning requests
	// as deferred instead of provisioning them.
	DeferWireless bool
	// AddDone skips device additions. Set when planning against the
	// inventory observed after the additions were applied.
	AddDone bool
	// RefreshErr is the error of that re-observation when it failed. The
	// plan is then built against the initial state and the targets still
	// absent there fail.
	RefreshErr error
}

// Build compares declared against observed state. It performs no I/O.
func Build(in Input) *Plan {
	b := &builder{
		d:             in.Declared,
		s:             in.State,
		deferWireless: in.DeferWireless,
		refreshErr:    in.RefreshErr,
		p:             &Plan{Intent: in.Intent},
		adding:        make(map[string]bool),
	}
	if len(b.s.Targets) == 0 && b.d.HasIdentifiers() {
		b.warn("", "", ErrNoTargets.Error())
	}
	if in.Intent == intent.Deleted {
		b.deleted()
		return b.p
	}
	if !in.AddDone {
		b.add()
	}
	b.role()
	b.credentials()
	b.mgmtIP()
	b.interfaces()
	b.udfs()
	b.provision()
	b.resync()
	b.reboot()
	b.export()
	b.maintenance()
	return b.p
}

// InterfaceTarget names an interface in outcomes.
func InterfaceTarget(ip, name string) string {
	return ip + ":" + name
}

type builder struct {
	d             *intent.Declared
	s             *observe.State
	deferWireless bool
	refreshErr    error
	p             *Plan
	// adding holds absent targets with a pending add; later kinds wait for
	// the refreshed state instead of failing them.
	adding map[string]bool
}

func (b *builder) change(c Change) {
	b.p.Changes = append(b.p.Changes, c)
}

func (b *builder) noop(kind outcome.Kind, target, detail string) {
	b.p.Noops = append(b.p.Noops, outcome.Entry{Kind: kind, Target: target, Verdict: outcome.Noop, Detail: detail})
}

func (b *builder) fail(kind outcome.Kind, target string, err error) {
	b.p.Failures = append(b.p.Failures, outcome.Entry{Kind: kind, Target: target, Verdict: outcome.Failed, Detail: err.Error()})
}

func (b *builder) warn(kind outcome.Kind, target, msg string) {
	b.p.Warnings = append(b.p.Warnings, outcome.Warning{Kind: kind, Target: target, Message: msg})
}

// gate reports whether the controller supports f, warning when it does not.
func (b *builder) gate(kind outcome.Kind, f catalyst.Feature) bool {
	if b.s.Version.Supports(f) {
		return true
	}
	err := &util.VersionGateError{Feature: string(f), Required: catalyst.Minimum(f), Actual: b.s.Version.String()}
	b.warn(kind, "", err.Error())
	return false
}

// present returns the device at ip. An absent device fails kind unless an
// add for it is pending.
func (b *builder) present(kind outcome.Kind, ip string) (*catalyst.Device, bool) {
	if dev, ok := b.s.Device(ip); ok {
		return dev, true
	}
	if b.adding[ip] {
		return nil, false
	}
	observed := "not in inventory"
	if b.refreshErr != nil {
		observed = "inventory not re-read after add: " + b.refreshErr.Error()
	}
	b.fail(kind, ip, util.NewPreconditionError(string(kind), ip, "device must exist", observed))
	return nil, false
}

// hasCredentials reports whether the entry declares any credential value.
// Transport and SNMP defaults do not count.
func hasCredentials(c *intent.Credentials) bool {
	return c.Username != "" || c.Password != "" || c.HTTPPassword != "" ||
		c.SNMPROCommunity != "" || c.SNMPUsername != ""
}

// declaresOperations reports whether the entry asks for anything beyond
// presence.
func declaresOperations(d *intent.Declared) bool {
	return d.CredentialUpdate || d.Role != "" || d.MgmtIPUpdate != nil ||
		len(d.InterfaceUpdates) > 0 || len(d.UserDefinedFields) > 0 || d.Export != nil ||
		len(d.Provision) > 0 || d.Resync != nil || d.Reboot || len(d.Maintenance) > 0
}

func (b *builder) add() {
	creds := hasCredentials(&b.d.Credentials)
	for _, ip := range b.s.Targets {
		if b.s.Exists(ip) {
			if creds && !b.d.CredentialUpdate {
				b.noop(outcome.KindAdd, ip, "already present")
			}
			continue
		}
		if !creds && declaresOperations(b.d) {
			continue
		}
		if missing := intent.MissingCredentials(b.d.Type, &b.d.Credentials); len(missing) > 0 {
			b.fail(outcome.KindAdd, ip, util.NewValidationError(
				fmt.Sprintf("%s requires %s", b.d.Type, strings.Join(missing, ", "))))
			continue
		}
		b.adding[ip] = true
		c := b.d.Credentials
		b.change(Change{
			Kind:        outcome.KindAdd,
			Target:      ip,
			Action:      ActionCreate,
			NewValue:    map[string]string{"type": string(b.d.Type)},
			Credentials: &c,
		})
	}
}

func (b *builder) role() {
	if b.d.Role == "" {
		return
	}
	for _, ip := range b.s.Targets {
		dev, ok := b.present(outcome.KindRole, ip)
		if !ok {
			continue
		}
		if catalyst.SameRole(b.d.Role, dev.Role) {
			b.noop(outcome.KindRole, ip, dev.Role)
			continue
		}
		b.change(Change{
			Kind:     outcome.KindRole,
			Target:   ip,
			Action:   ActionUpdate,
			DeviceID: dev.ID,
			OldValue: map[string]string{"role": dev.Role},
			NewValue: map[string]string{"role": catalyst.WireRole(b.d.Role)},
		})
	}
}

// credentialField pairs a declared value with its fingerprint column.
type credentialField struct {
	name     string
	declared *string
	observed string
	secret   bool
}

// effectiveCredentials fills empty declared values from the fingerprint and
// returns the fields that still differ.
func effectiveCredentials(c intent.Credentials, fp *observe.Fingerprint) (intent.Credentials, []string, map[string]string, map[string]string) {
	fields := []credentialField{
		{"cli_username", &c.Username, fp.CLIUsername, false},
		{"cli_password", &c.Password, fp.CLIPassword, true},
		{"enable_password", &c.EnablePassword, fp.EnablePassword, true},
		{"snmp_username", &c.SNMPUsername, fp.SNMPv3User, false},
		{"snmp_auth_protocol", &c.SNMPAuthProtocol, fp.SNMPv3AuthType, false},
	}
	if !strings.EqualFold(c.CLITransport, "telnet") {
		fields = append(fields, credentialField{"netconf_port", &c.NetconfPort, fp.NetconfPort, false})
	}

	var diff []string
	before, after := map[string]string{}, map[string]string{}
	for _, f := range fields {
		if *f.declared == "" {
			*f.declared = f.observed
			continue
		}
		if f.observed == "" || !strings.EqualFold(*f.declared, f.observed) || (f.secret && *f.declared != f.observed) {
			diff = append(diff, f.name)
			before[f.name], after[f.name] = display(f.observed, f.secret), display(*f.declared, f.secret)
		}
	}

	switch {
	case c.SNMPPrivProtocol == "":
		c.SNMPPrivProtocol = fp.SNMPv3PrivType
	case intent.CanonicalPrivProtocol(c.SNMPPrivProtocol) != fp.SNMPv3PrivType:
		diff = append(diff, "snmp_priv_protocol")
		before["snmp_priv_protocol"], after["snmp_priv_protocol"] = fp.SNMPv3PrivType, intent.CanonicalPrivProtocol(c.SNMPPrivProtocol)
	}

	if fp.SNMPRetries > 0 && c.SNMPRetry > 0 && c.SNMPRetry != fp.SNMPRetries {
		diff = append(diff, "snmp_retry")
		before["snmp_retry"], after["snmp_retry"] = strconv.Itoa(fp.SNMPRetries), strconv.Itoa(c.SNMPRetry)
	}
	return c, diff, before, after
}

func display(v string, secret bool) string {
	if secret {
		return util.Mask(v)
	}
	return v
}

func (b *builder) credentials() {
	if !b.d.CredentialUpdate {
		return
	}
	for _, ip := range b.s.Targets {
		dev, ok := b.present(outcome.KindCredential, ip)
		if !ok {
			continue
		}
		fp, ok := b.s.Fingerprints[ip]
		if !ok {
			b.fail(outcome.KindCredential, ip, util.NewPreconditionError(
				string(outcome.KindCredential), ip, "credential fingerprint must be readable",
				"no fingerprint (archive password unset or export failed)"))
			continue
		}
		eff, diff, before, after := effectiveCredentials(b.d.Credentials, fp)
		if len(diff) == 0 {
			b.noop(outcome.KindCredential, ip, "credentials match")
			continue
		}
		b.change(Change{
			Kind:        outcome.KindCredential,
			Target:      ip,
			Action:      ActionUpdate,
			DeviceID:    dev.ID,
			OldValue:    before,
			NewValue:    after,
			Credentials: &eff,
		})
	}
}

func (b *builder) mgmtIP() {
	u := b.d.MgmtIPUpdate
	if u == nil {
		return
	}
	_, oldPresent := b.s.Device(u.ExistingIP)
	_, newPresent := b.s.Device(u.NewIP)
	switch {
	case oldPresent && newPresent:
		b.fail(outcome.KindMgmtIP, u.ExistingIP, util.NewPreconditionError(
			string(outcome.KindMgmtIP), u.ExistingIP, "new management IP must be unused",
			u.NewIP+" already belongs to another device"))
	case newPresent:
		b.noop(outcome.KindMgmtIP, u.ExistingIP, "already moved to "+u.NewIP)
	case oldPresent:
		dev, _ := b.s.Device(u.ExistingIP)
		c := b.d.Credentials
		b.change(Change{
			Kind:        outcome.KindMgmtIP,
			Target:      u.ExistingIP,
			Action:      ActionUpdate,
			DeviceID:    dev.ID,
			OldValue:    map[string]string{"ip": u.ExistingIP},
			NewValue:    map[string]string{"ip": u.NewIP},
			MgmtIP:      u,
			Credentials: &c,
		})
	default:
		b.fail(outcome.KindMgmtIP, u.ExistingIP, util.NewPreconditionError(
			string(outcome.KindMgmtIP), u.ExistingIP, "device must exist", "neither address is in inventory"))
	}
}

func (b *builder) interfaces() {
	if len(b.d.InterfaceUpdates) == 0 {
		return
	}
	for _, ip := range b.s.Targets {
		dev, ok := b.present(outcome.KindInterface, ip)
		if !ok {
			continue
		}
		for i := range b.d.InterfaceUpdates {
			b.interfaceChange(ip, dev, &b.d.InterfaceUpdates[i])
		}
	}
}

func (b *builder) interfaceChange(ip string, dev *catalyst.Device, u *intent.InterfaceUpdate) {
	target := InterfaceTarget(ip, u.InterfaceName)
	obs, ok := b.s.Interface(ip, u.InterfaceName)
	if !ok {
		b.fail(outcome.KindInterface, target, fmt.Errorf("interface %s: %w", u.InterfaceName, util.ErrNotFound))
		return
	}

	before, after := map[string]string{}, map[string]string{}
	compare := func(name, declared, observed string) {
		if declared != "" && !strings.EqualFold(declared, observed) {
			before[name], after[name] = observed, declared
		}
	}
	compare("description", u.Description, obs.Description)
	compare("admin_status", u.AdminStatus, obs.AdminStatus)
	compare("vlan_id", u.VlanString(), obs.VlanID)
	compare("voice_vlan_id", u.VoiceVlanString(), obs.VoiceVlan)

	clear := false
	if u.ClearMACAddressTable {
		switch {
		case !b.s.Version.Supports(catalyst.FeatureClearMAC):
			b.gate(outcome.KindInterface, catalyst.FeatureClearMAC)
		case !catalyst.SameRole(catalyst.RoleAccess, dev.Role):
			b.warn(outcome.KindInterface, target, fmt.Sprintf("clear MAC address table skipped: device role is %s, not ACCESS", dev.Role))
		default:
			clear = true
			after["clear_mac_address_table"] = "true"
		}
	}

	attrs := len(before) > 0
	if !attrs && !clear {
		b.noop(outcome.KindInterface, target, "")
		return
	}
	b.change(Change{
		Kind:       outcome.KindInterface,
		Target:     target,
		Action:     ActionUpdate,
		DeviceID:   dev.ID,
		OldValue:   before,
		NewValue:   after,
		Imperative: !attrs,
		Interface: &InterfaceChange{
			ID:         obs.ID,
			Name:       u.InterfaceName,
			Update:     u,
			Attributes: attrs,
			ClearMAC:   clear,
		},
	})
}

func (b *builder) udfs() {
	if len(b.d.UserDefinedFields) == 0 || !b.gate(outcome.KindUDF, catalyst.FeatureUserDefinedFields) {
		return
	}
	var values []intent.UserDefinedField
	for _, u := range b.d.UserDefinedFields {
		if _, ok := b.s.UDFs[u.Name]; ok {
			b.noop(outcome.KindUDF, u.Name, "")
		} else {
			b.change(Change{
				Kind:     outcome.KindUDF,
				Target:   u.Name,
				Action:   ActionCreate,
				NewValue: map[string]string{"description": u.Description},
				UDFs:     []intent.UserDefinedField{u},
			})
		}
		if u.Value != "" {
			values = append(values, u)
		}
	}
	if len(values) == 0 {
		return
	}
	for _, ip := range b.s.Targets {
		dev, ok := b.present(outcome.KindUDFAssign, ip)
		if !ok {
			continue
		}
		var pending []intent.UserDefinedField
		before, after := map[string]string{}, map[string]string{}
		for _, u := range values {
			if v, ok := dev.UserDefinedFields[u.Name]; ok && v == u.Value {
				continue
			}
			pending = append(pending, u)
			before[u.Name], after[u.Name] = dev.UserDefinedFields[u.Name], u.Value
		}
		if len(pending) == 0 {
			b.noop(outcome.KindUDFAssign, ip, "")
			continue
		}
		b.change(Change{
			Kind:     outcome.KindUDFAssign,
			Target:   ip,
			Action:   ActionUpdate,
			DeviceID: dev.ID,
			OldValue: before,
			NewValue: after,
			UDFs:     pending,
		})
	}
}

func (b *builder) provision() {
	for i := range b.d.Provision {
		req := &b.d.Provision[i]
		ip := req.DeviceIP
		dev, ok := b.present(outcome.KindProvision, ip)
		if !ok {
			continue
		}
		if dev.IsWirelessController() && b.deferWireless {
			b.warn(outcome.KindProvision, ip, "wireless controller provisioning deferred")
			b.noop(outcome.KindProvision, ip, "deferred")
			continue
		}
		site := b.s.Sites[ip]
		if site != nil && site.SiteNameHierarchy != "" && !strings.EqualFold(site.SiteNameHierarchy, req.SiteName) {
			b.fail(outcome.KindProvision, ip, util.NewPreconditionError(
				string(outcome.KindProvision), ip, "device must not be assigned to another site",
				fmt.Sprintf("assigned to %s, declared %s", site.SiteNameHierarchy, req.SiteName)))
			continue
		}
		status := b.s.Provision[ip]
		if status == catalyst.Provisioned {
			b.noop(outcome.KindProvision, ip, req.SiteName)
			continue
		}
		before := map[string]string{"status": status.String()}
		if site != nil {
			before["site"] = site.SiteNameHierarchy
		}
		b.change(Change{
			Kind:      outcome.KindProvision,
			Target:    ip,
			Action:    ActionCreate,
			DeviceID:  dev.ID,
			OldValue:  before,
			NewValue:  map[string]string{"site": req.SiteName},
			Provision: req,
		})
	}
}

func (b *builder) resync() {
	if b.d.Resync == nil {
		return
	}
	for _, ip := range b.s.Targets {
		dev, ok := b.present(outcome.KindResync, ip)
		if !ok {
			continue
		}
		if dev.IsAccessPoint() {
			b.warn(outcome.KindResync, ip, "access point excluded from resync")
			continue
		}
		b.change(Change{Kind: outcome.KindResync, Target: ip, Action: ActionRun, DeviceID: dev.ID, Imperative: true})
	}
}

func (b *builder) reboot() {
	if !b.d.Reboot {
		return
	}
	for _, ip := range b.s.Targets {
		dev, ok := b.present(outcome.KindReboot, ip)
		if !ok {
			continue
		}
		if !dev.IsAccessPoint() {
			b.warn(outcome.KindReboot, ip, "reboot applies to access points only")
			continue
		}
		b.change(Change{Kind: outcome.KindReboot, Target: ip, Action: ActionRun, DeviceID: dev.ID, Imperative: true})
	}
}

func (b *builder) export() {
	if b.d.Export == nil {
		return
	}
	for _, ip := range b.s.Targets {
		dev, ok := b.present(outcome.KindExport, ip)
		if !ok {
			continue
		}
		b.change(Change{Kind: outcome.KindExport, Target: ip, Action: ActionRun, DeviceID: dev.ID, Imperative: true})
	}
}

// maintenanceTargets returns the devices a request applies to.
func (b *builder) maintenanceTargets(m *intent.MaintenanceRequest) []string {
	if len(m.DeviceIPs) > 0 {
		return m.DeviceIPs
	}
	return b.s.Targets
}

// liveSchedule returns the first UPCOMING or IN_PROGRESS schedule, and
// whether any schedule in a state the engine does not manage (FAILED or
// unknown) is present. Completed schedules are ignored.
func liveSchedule(schedules []*catalyst.MaintenanceSchedule) (*catalyst.MaintenanceSchedule, bool) {
	unmanaged := false
	for _, s := range schedules {
		switch {
		case s.Window.Status == catalyst.ScheduleUpcoming || s.Active():
			return s, false
		case s.Finished():
		default:
			unmanaged = true
		}
	}
	return nil, unmanaged
}

// scheduleDiff returns the fields that differ between a window and an
// existing schedule.
func scheduleDiff(m *intent.MaintenanceRequest, w intent.Window, s *catalyst.MaintenanceSchedule) (map[string]string, map[string]string) {
	before, after := map[string]string{}, map[string]string{}
	set := func(name, o, n string) {
		if o != n {
			before[name], after[name] = o, n
		}
	}
	// Bounds compare as epoch milliseconds; the wall times are for display.
	setTime := func(name string, o, n int64) {
		if o != n {
			before[name], after[name] = wallTime(o, m.TimeZone), wallTime(n, m.TimeZone)
		}
	}
	set("description", s.Description, m.Description)
	setTime("start_time", s.Window.StartTime, w.Start)
	setTime("end_time", s.Window.EndTime, w.End)

	var interval int
	var recurEnd int64
	if r := s.Window.Recurrence; r != nil {
		interval, recurEnd = r.Interval, r.RecurrenceEndTime
	}
	if (interval > 0) != w.Recurring() {
		before["recurring"], after["recurring"] = strconv.FormatBool(interval > 0), strconv.FormatBool(w.Recurring())
	}
	if w.Recurring() {
		if interval != w.Interval {
			before["recurrence_interval"], after["recurrence_interval"] = strconv.Itoa(interval), strconv.Itoa(w.Interval)
		}
		setTime("recurrence_end_time", recurEnd, w.RecurrenceEnd)
	}
	return before, after
}

// wallTime renders a schedule bound in the declared zone. Sentinels and
// unset bounds stay numeric.
func wallTime(ms int64, tz string) string {
	if ms <= 0 {
		return strconv.FormatInt(ms, 10)
	}
	return util.FromEpochMillis(ms, tz)
}

func (b *builder) maintenance() {
	if len(b.d.Maintenance) == 0 || !b.gate(outcome.KindMaintenance, catalyst.FeatureMaintenance) {
		return
	}
	for i := range b.d.Maintenance {
		m := &b.d.Maintenance[i]
		w, err := m.Window()
		if err != nil {
			for _, ip := range b.maintenanceTargets(m) {
				b.fail(outcome.KindMaintenance, ip, err)
			}
			continue
		}
		for _, ip := range b.maintenanceTargets(m) {
			dev, ok := b.present(outcome.KindMaintenance, ip)
			if !ok {
				continue
			}
			live, unmanaged := liveSchedule(b.s.Schedules[ip])
			switch {
			case live == nil && unmanaged:
				b.noop(outcome.KindMaintenance, ip, "schedule in an unmanaged state")
			case live == nil:
				b.change(Change{
					Kind:        outcome.KindMaintenance,
					Target:      ip,
					Action:      ActionCreate,
					DeviceID:    dev.ID,
					NewValue:    map[string]string{"description": m.Description},
					Maintenance: &MaintenanceChange{Request: i, Spec: m, Window: w},
				})
			default:
				before, after := scheduleDiff(m, w, live)
				if len(after) == 0 {
					b.noop(outcome.KindMaintenanceUpdate, ip, live.ID)
					continue
				}
				_, typeChanged := after["recurring"]
				b.change(Change{
					Kind:     outcome.KindMaintenanceUpdate,
					Target:   ip,
					Action:   ActionUpdate,
					DeviceID: dev.ID,
					OldValue: before,
					NewValue: after,
					Maintenance: &MaintenanceChange{
						Request: i, Spec: m, Window: w, Existing: live, Recreate: typeChanged,
					},
				})
			}
		}
	}
}

// deleted plans exactly one of UDF deletion, maintenance deletion or device
// deletion.
func (b *builder) deleted() {
	switch {
	case len(b.d.UserDefinedFields) > 0:
		b.deleteUDFs()
	case len(b.d.Maintenance) > 0:
		b.deleteMaintenance()
	default:
		b.deleteDevices()
	}
}

func (b *builder) deleteUDFs() {
	if !b.gate(outcome.KindUDFDelete, catalyst.FeatureUserDefinedFields) {
		return
	}
	if !b.d.HasIdentifiers() {
		for _, u := range b.d.UserDefinedFields {
			def, ok := b.s.UDFs[u.Name]
			if !ok {
				b.noop(outcome.KindUDFDelete, u.Name, "")
				continue
			}
			b.change(Change{Kind: outcome.KindUDFDelete, Target: u.Name, Action: ActionDelete, UDFID: def.ID})
		}
		return
	}
	for _, ip := range b.s.Targets {
		dev, ok := b.s.Device(ip)
		if !ok {
			b.noop(outcome.KindUDFDelete, ip, "device not present")
			continue
		}
		b.change(Change{
			Kind:       outcome.KindUDFDelete,
			Target:     ip,
			Action:     ActionDelete,
			DeviceID:   dev.ID,
			Imperative: true,
			UDFs:       b.d.UserDefinedFields,
		})
	}
}

func (b *builder) deleteMaintenance() {
	if !b.gate(outcome.KindMaintenanceDelete, catalyst.FeatureMaintenance) {
		return
	}
	seen := make(map[string]bool)
	for i := range b.d.Maintenance {
		for _, ip := range b.maintenanceTargets(&b.d.Maintenance[i]) {
			if seen[ip] {
				continue
			}
			seen[ip] = true
			dev, ok := b.s.Device(ip)
			if !ok || len(b.s.Schedules[ip]) == 0 {
				b.noop(outcome.KindMaintenanceDelete, ip, "")
				continue
			}
			for _, s := range b.s.Schedules[ip] {
				b.change(Change{
					Kind:     outcome.KindMaintenanceDelete,
					Target:   ip,
					Action:   ActionDelete,
					DeviceID: dev.ID,
					OldValue: map[string]string{"schedule": s.ID, "status": s.Window.Status},
					Schedule: s,
				})
			}
		}
	}
}

func (b *builder) deleteDevices() {
	for _, ip := range b.s.Targets {
		dev, ok := b.s.Device(ip)
		if !ok {
			b.noop(outcome.KindDelete, ip, "not present")
			continue
		}
		provisioned := b.s.Provision[ip] == catalyst.Provisioned
		b.change(Change{
			Kind:        outcome.KindDelete,
			Target:      ip,
			Action:      ActionDelete,
			DeviceID:    dev.ID,
			OldValue:    map[string]string{"hostname": dev.Hostname, "provisioned": strconv.FormatBool(provisioned)},
			Provisioned: provisioned,
		})
	}
}
