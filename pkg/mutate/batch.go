package mutate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccinv/ccinv/pkg/archive"
	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/observe"
	"github.com/ccinv/ccinv/pkg/outcome"
	"github.com/ccinv/ccinv/pkg/plan"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/task"
	"github.com/ccinv/ccinv/pkg/util"
)

// ============================================================================
// Resync
// ============================================================================

// resyncBatch returns the effective batch size. Larger batches make the
// controller loop, so the cap is not configurable.
func resyncBatch(req *intent.ResyncRequest) int {
	n := intent.DefaultResyncBatch
	if req != nil && req.BatchSize > 0 {
		n = req.BatchSize
	}
	if n > intent.MaxResyncBatch {
		n = intent.MaxResyncBatch
	}
	return n
}

type pendingBatch struct {
	changes []plan.Change
	taskID  string
}

// resync submits every batch first, then waits on each handle.
func (m *Mutator) resync(ctx context.Context, changes []plan.Change, r *Run) {
	req := r.Declared.Resync
	var pending []pendingBatch
	for _, batch := range chunkChanges(changes, resyncBatch(req)) {
		params := remote.Params{
			"force_sync":      req != nil && req.ForceSync,
			remote.PayloadKey: deviceIDs(batch),
		}
		resp, err := remote.Call(ctx, m.client, remote.ForceSyncDevices, params)
		if err == nil {
			var h remote.TaskHandle
			if h, err = resp.Handle(); err == nil {
				pending = append(pending, pendingBatch{changes: batch, taskID: h.TaskID})
				continue
			}
		}
		recordAll(r.Log, outcome.KindResync, batch, err)
	}

	var timeout time.Duration
	if req != nil {
		timeout = time.Duration(req.MaxTimeout) * time.Second
	}
	for _, p := range pending {
		_, err := m.poller.WaitFor(ctx, p.taskID, task.ProgressContains("Synced"), timeout)
		recordAll(r.Log, outcome.KindResync, p.changes, err)
	}
}

// ============================================================================
// Reboot
// ============================================================================

func (m *Mutator) reboot(ctx context.Context, changes []plan.Change, r *Run) {
	var macs []string
	var batch []plan.Change
	for _, c := range changes {
		dev, ok := r.State.Device(c.Target)
		mac := ""
		if ok {
			mac = dev.APEthernetMAC
			if mac == "" {
				mac = dev.MACAddress
			}
		}
		if mac == "" {
			r.Log.Fail(outcome.KindReboot, c.Target, fmt.Errorf("access point %s has no ethernet MAC", c.Target))
			continue
		}
		macs = append(macs, mac)
		batch = append(batch, c)
	}
	if len(batch) == 0 {
		return
	}
	err := m.submit(ctx, remote.RebootAccessPoints,
		remote.Params{remote.PayloadKey: map[string]any{"apMacAddresses": macs}},
		task.ProgressContains("url"))
	recordAll(r.Log, outcome.KindReboot, batch, err)
}

// ============================================================================
// Export
// ============================================================================

func exportBatch(req *intent.ExportRequest) int {
	n := req.BatchSize
	if n <= 0 {
		n = intent.DefaultExportBatch
	}
	if n > intent.MaxExportBatch {
		n = intent.MaxExportBatch
	}
	return n
}

// ExportFileName returns the artifact name: devices-MM-DD-YYYY.csv for a
// details export, the server's file name with a .csv extension otherwise.
func ExportFileName(kind, serverName string, now time.Time) string {
	if kind != intent.ExportCredentials || serverName == "" {
		return "devices-" + now.Format("01-02-2006") + ".csv"
	}
	base := filepath.Base(serverName)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".csv"
}

// export runs every batch, merges the tables and writes one artifact.
func (m *Mutator) export(ctx context.Context, changes []plan.Change, r *Run) {
	req := r.Declared.Export
	keyBits := intent.ArchiveKeyBits(r.Declared.SNMPPrivProtocol)

	var table *archive.Table
	var fileName string
	var exported []plan.Change
	for _, batch := range chunkChanges(changes, exportBatch(req)) {
		res, err := m.observer.Exporter().Export(ctx, observe.ExportBatch{
			DeviceIDs: deviceIDs(batch),
			Kind:      req.Kind,
			Password:  req.Password,
			Columns:   req.Columns,
			KeyBits:   keyBits,
		})
		if err != nil {
			recordAll(r.Log, outcome.KindExport, batch, err)
			continue
		}
		if table == nil {
			table, fileName = res.Table, res.FileName
		} else {
			table.Merge(res.Table)
		}
		exported = append(exported, batch...)
	}
	if table == nil {
		return
	}

	dir := req.OutputDir
	if dir == "" {
		dir = m.ExportDir
	}
	path := filepath.Join(dir, ExportFileName(req.Kind, fileName, m.poller.Clock().Now()))
	if err := writeTable(path, table); err != nil {
		recordAll(r.Log, outcome.KindExport, exported, err)
		return
	}
	util.WithField("file", path).Infof("Exported %d device(s)", len(exported))
	for _, c := range exported {
		r.Log.Applied(outcome.KindExport, c.Target, path)
	}
}

func writeTable(path string, t *archive.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	if err := t.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing export file: %w", err)
	}
	return f.Close()
}
