package mutate

import (
	"context"
	"fmt"
	"time"

	"github.com/ccinv/ccinv/pkg/catalyst"
	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/outcome"
	"github.com/ccinv/ccinv/pkg/plan"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/task"
	"github.com/ccinv/ccinv/pkg/util"
)

var provisioned = task.ProgressContains("provisioned", "TASK_PROVISION")

func (m *Mutator) provision(ctx context.Context, changes []plan.Change, r *Run) {
	if r.State.Version.Supports(catalyst.FeatureProvisionV2) {
		m.provisionV2(ctx, changes, r)
		return
	}
	m.provisionV1(ctx, changes, r)
}

// waitManaged polls the device until inventory collection completes. It
// checks at most RetryCount times, RetryInterval seconds apart, and gives
// up early on a terminal collection failure.
func (m *Mutator) waitManaged(ctx context.Context, req *intent.ProvisionRequest) error {
	ip := req.DeviceIP
	tries := req.RetryCount
	if tries < 1 {
		tries = 1
	}
	interval := time.Duration(req.RetryInterval) * time.Second
	log := util.WithDevice(ip)

	for i := 0; i < tries; i++ {
		dev, err := m.observer.Device(ctx, ip)
		if err != nil {
			return err
		}
		if dev == nil {
			return fmt.Errorf("device %s: %w", ip, util.ErrNotFound)
		}
		if dev.IsManaged() {
			return nil
		}
		if dev.CollectionFailed() {
			return util.NewPreconditionError("provision", ip, "device must be managed",
				"collection status "+dev.CollectionStatus)
		}
		log.Debugf("Waiting for managed state (%s/%s), check %d of %d",
			dev.ManagementState, dev.CollectionStatus, i+1, tries)
		if i < tries-1 {
			if err := m.poller.Clock().Sleep(ctx, interval); err != nil {
				return err
			}
		}
	}
	return util.NewPreconditionError("provision", ip, "device must be managed",
		fmt.Sprintf("not managed after %d checks", tries))
}

func (m *Mutator) provisionV1(ctx context.Context, changes []plan.Change, r *Run) {
	for _, c := range changes {
		if err := m.waitManaged(ctx, c.Provision); err != nil {
			record(r.Log, outcome.KindProvision, c.Target, err)
			continue
		}
		payload := map[string]string{
			"deviceManagementIpAddress": c.Target,
			"siteNameHierarchy":         c.Provision.SiteName,
		}
		err := m.submit(ctx, remote.ProvisionWiredDevice, remote.Params{remote.PayloadKey: payload}, provisioned)
		record(r.Log, outcome.KindProvision, c.Target, err)
	}
}

// provisionV2 resolves sites, assigns unassigned devices and provisions the
// whole request in one call.
func (m *Mutator) provisionV2(ctx context.Context, changes []plan.Change, r *Run) {
	sites := make(map[string]string)
	for _, c := range changes {
		name := c.Provision.SiteName
		if _, ok := sites[name]; ok {
			continue
		}
		id, err := m.observer.SiteID(ctx, name)
		if err != nil {
			r.Log.FailAll(outcome.KindProvision, targets(changes), fmt.Errorf("resolving site %s: %w", name, err))
			return
		}
		sites[name] = id
	}

	var ready []plan.Change
	for _, c := range changes {
		if err := m.waitManaged(ctx, c.Provision); err != nil {
			record(r.Log, outcome.KindProvision, c.Target, err)
			continue
		}
		ready = append(ready, c)
	}

	// Assign devices that are not on any site yet, one call per site.
	bySite := make(map[string][]plan.Change)
	var order []string
	var queued []plan.Change
	for _, c := range ready {
		if c.OldValue["site"] != "" {
			queued = append(queued, c)
			continue
		}
		id := sites[c.Provision.SiteName]
		if _, ok := bySite[id]; !ok {
			order = append(order, id)
		}
		bySite[id] = append(bySite[id], c)
	}
	for _, id := range order {
		group := bySite[id]
		payload := map[string]any{"siteId": id, "deviceIds": deviceIDs(group)}
		if err := m.submit(ctx, remote.AssignDevicesToSite, remote.Params{remote.PayloadKey: payload}, task.Generic()); err != nil {
			recordAll(r.Log, outcome.KindProvision, group, fmt.Errorf("assigning to site: %w", err))
			continue
		}
		queued = append(queued, group...)
	}
	if len(queued) == 0 {
		return
	}

	payload := make([]map[string]string, len(queued))
	for i, c := range queued {
		payload[i] = map[string]string{"siteId": sites[c.Provision.SiteName], "networkDeviceId": c.DeviceID}
	}
	err := m.submit(ctx, remote.ProvisionDevices, remote.Params{remote.PayloadKey: payload},
		task.Any(provisioned, task.Generic()))
	recordAll(r.Log, outcome.KindProvision, queued, err)
}
