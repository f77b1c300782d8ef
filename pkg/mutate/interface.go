package mutate

import (
	"context"
	"fmt"
	"strings"

	"github.com/ccinv/ccinv/pkg/outcome"
	"github.com/ccinv/ccinv/pkg/plan"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/task"
)

// ============================================================================
// Interfaces
// ============================================================================

func (m *Mutator) interfaces(ctx context.Context, changes []plan.Change, r *Run) {
	for _, c := range changes {
		record(r.Log, outcome.KindInterface, c.Target, m.updateInterface(ctx, c.Interface))
	}
}

func (m *Mutator) updateInterface(ctx context.Context, ic *plan.InterfaceChange) error {
	u := ic.Update
	if ic.Attributes {
		payload := map[string]any{}
		setIf(payload, "description", u.Description)
		setIf(payload, "adminStatus", u.AdminStatus)
		setIf(payload, "vlanId", u.VlanString())
		setIf(payload, "voiceVlanId", u.VoiceVlanString())
		params := remote.Params{
			"interface_uuid":  ic.ID,
			"deployment_mode": u.DeploymentMode,
			remote.PayloadKey: payload,
		}
		if err := m.submit(ctx, remote.UpdateInterfaceDetails, params, task.ProgressContains("SUCCESS")); err != nil {
			return fmt.Errorf("updating %s: %w", ic.Name, err)
		}
	}
	if ic.ClearMAC {
		params := remote.Params{
			"interface_uuid":  ic.ID,
			"deployment_mode": u.DeploymentMode,
			remote.PayloadKey: map[string]any{"operation": "ClearMacAddress", "payload": map[string]any{}},
		}
		if err := m.submit(ctx, remote.ClearMACAddressTable, params, task.ProgressContains("clear mac address-table")); err != nil {
			return fmt.Errorf("clearing MAC table on %s: %w", ic.Name, err)
		}
	}
	return nil
}

// ============================================================================
// User-defined fields
// ============================================================================

func (m *Mutator) createUDFs(ctx context.Context, changes []plan.Change, r *Run) {
	for _, c := range changes {
		u := c.UDFs[0]
		err := m.ack(ctx, remote.CreateUserDefinedField, remote.Params{
			remote.PayloadKey: map[string]string{"name": u.Name, "description": u.Description},
		})
		record(r.Log, outcome.KindUDF, c.Target, err)
	}
}

func (m *Mutator) assignUDFs(ctx context.Context, changes []plan.Change, r *Run) {
	for _, c := range changes {
		values := make([]map[string]string, len(c.UDFs))
		for i, u := range c.UDFs {
			values[i] = map[string]string{"name": u.Name, "value": u.Value}
		}
		err := m.ack(ctx, remote.AddUserDefinedFieldToDev, remote.Params{
			"device_id":       c.DeviceID,
			remote.PayloadKey: values,
		})
		record(r.Log, outcome.KindUDFAssign, c.Target, err)
	}
}

// deleteUDFs removes fields from devices, or deletes definitions when the
// change names one.
func (m *Mutator) deleteUDFs(ctx context.Context, changes []plan.Change, r *Run) {
	for _, c := range changes {
		var err error
		if c.UDFID != "" {
			err = m.ack(ctx, remote.DeleteUserDefinedField, remote.Params{"id": c.UDFID})
		} else {
			names := make([]string, len(c.UDFs))
			for i, u := range c.UDFs {
				names[i] = u.Name
			}
			err = m.ack(ctx, remote.RemoveUserDefinedFieldDev, remote.Params{
				"device_id": c.DeviceID,
				"name":      strings.Join(names, ","),
			})
		}
		record(r.Log, outcome.KindUDFDelete, c.Target, err)
	}
}
