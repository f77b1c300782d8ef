package mutate

import (
	"context"
	"strconv"
	"strings"

	"github.com/ccinv/ccinv/pkg/catalyst"
	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/outcome"
	"github.com/ccinv/ccinv/pkg/plan"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/task"
)

// ============================================================================
// Credential shaping
// ============================================================================

func setIf(p map[string]any, key, value string) {
	if value != "" {
		p[key] = value
	}
}

func shapeSNMP(p map[string]any, c *intent.Credentials) {
	p["snmpRetry"] = c.SNMPRetry
	p["snmpTimeout"] = c.SNMPTimeout
	if !c.IsV3() {
		p["snmpVersion"] = intent.SNMPv2
		setIf(p, "snmpROCommunity", c.SNMPROCommunity)
		setIf(p, "snmpRWCommunity", c.SNMPRWCommunity)
		return
	}
	p["snmpVersion"] = intent.SNMPv3
	p["snmpMode"] = strings.ToUpper(c.SNMPMode)
	setIf(p, "snmpUserName", c.SNMPUsername)
	switch strings.ToUpper(c.SNMPMode) {
	case intent.ModeAuthPriv:
		setIf(p, "snmpPrivProtocol", intent.WirePrivProtocol(c.SNMPPrivProtocol))
		setIf(p, "snmpPrivPassphrase", c.SNMPPrivPassphrase)
		fallthrough
	case intent.ModeAuthNoPriv:
		setIf(p, "snmpAuthProtocol", c.SNMPAuthProtocol)
		setIf(p, "snmpAuthPassphrase", c.SNMPAuthPassphrase)
	}
}

func shapeHTTP(p map[string]any, c *intent.Credentials, port bool) {
	setIf(p, "httpUserName", c.HTTPUsername)
	setIf(p, "httpPassword", c.HTTPPassword)
	if port {
		setIf(p, "httpPort", c.HTTPPort)
		p["httpSecure"] = c.HTTPSecure
	}
}

// Shape builds the add or update payload of a device class. Fields the
// class does not use are left out.
func Shape(class intent.DeviceClass, c *intent.Credentials, update bool) map[string]any {
	p := map[string]any{"type": string(class)}
	switch class {
	case intent.ComputeDevice:
		p["computeDevice"] = true
		shapeHTTP(p, c, true)
	case intent.Meraki:
		setIf(p, "httpPassword", c.HTTPPassword)
	case intent.Firepower:
		shapeHTTP(p, c, true)
	case intent.ThirdParty:
		shapeSNMP(p, c)
	default:
		p["cliTransport"] = c.CLITransport
		setIf(p, "userName", c.Username)
		setIf(p, "password", c.Password)
		setIf(p, "enablePassword", c.EnablePassword)
		if !(update && strings.EqualFold(c.CLITransport, "telnet")) {
			setIf(p, "netconfPort", c.NetconfPort)
		}
		setIf(p, "extendedDiscoveryInfo", c.ExtendedDiscoveryInfo)
		shapeSNMP(p, c)
	}
	return p
}

// ============================================================================
// Add / credentials / management IP
// ============================================================================

// add registers every absent target with one call.
func (m *Mutator) add(ctx context.Context, changes []plan.Change, r *Run) {
	payload := Shape(r.Declared.Type, changes[0].Credentials, false)
	payload["ipAddress"] = targets(changes)

	err := m.submit(ctx, remote.AddDevice, remote.Params{remote.PayloadKey: payload}, task.TaskURLPresent())
	recordAll(r.Log, outcome.KindAdd, changes, err)
}

func (m *Mutator) credentials(ctx context.Context, changes []plan.Change, r *Run) {
	for _, c := range changes {
		payload := Shape(r.Declared.Type, c.Credentials, true)
		payload["ipAddress"] = []string{c.Target}
		err := m.submit(ctx, remote.SyncDevices, remote.Params{remote.PayloadKey: payload}, task.EndTimeSet())
		record(r.Log, outcome.KindCredential, c.Target, err)
	}
}

func (m *Mutator) mgmtIP(ctx context.Context, changes []plan.Change, r *Run) {
	for _, c := range changes {
		payload := Shape(r.Declared.Type, c.Credentials, true)
		payload["ipAddress"] = []string{c.MgmtIP.ExistingIP}
		payload["updateMgmtIPaddressList"] = []map[string]string{{
			"existMgmtIpAddress": c.MgmtIP.ExistingIP,
			"newMgmtIpAddress":   c.MgmtIP.NewIP,
		}}
		err := m.submit(ctx, remote.SyncDevices, remote.Params{remote.PayloadKey: payload}, task.EndTimeSet())
		record(r.Log, outcome.KindMgmtIP, c.Target, err)
	}
}

func (m *Mutator) role(ctx context.Context, changes []plan.Change, r *Run) {
	for _, c := range changes {
		payload := map[string]any{
			"id":         c.DeviceID,
			"role":       c.NewValue["role"],
			"roleSource": "MANUAL",
		}
		err := m.submit(ctx, remote.UpdateDeviceRole, remote.Params{remote.PayloadKey: payload},
			task.ProgressContains("successfully"))
		record(r.Log, outcome.KindRole, c.Target, err)
	}
}

// ============================================================================
// Delete
// ============================================================================

func (m *Mutator) deleteDevices(ctx context.Context, changes []plan.Change, r *Run) {
	v2 := r.State.Version.Supports(catalyst.FeatureDeleteV2)
	for _, c := range changes {
		var err error
		switch {
		case v2:
			op := remote.DeleteDeviceNoCleanup
			if r.Declared.CleanConfig {
				op = remote.DeleteDeviceWithCleanup
			}
			err = m.submit(ctx, op, remote.Params{remote.PayloadKey: map[string]any{"id": c.DeviceID}}, task.Generic())
		case c.Provisioned:
			err = m.submit(ctx, remote.DeleteProvisionedWiredDev,
				remote.Params{"device_management_ip_address": c.Target},
				task.ProgressContains("deleted successfully"))
		default:
			err = m.submit(ctx, remote.DeleteDeviceByID,
				remote.Params{"id": c.DeviceID, "clean_config": strconv.FormatBool(r.Declared.CleanConfig)},
				task.ProgressContains("deleted successfully"))
		}
		record(r.Log, outcome.KindDelete, c.Target, err)
	}
}
